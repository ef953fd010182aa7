// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

// Focus states
const (
	focusDeviceList = iota
	focusModeInput
	focusButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// actuatorItem is one force actuator in the device list
type actuatorItem struct {
	dev    ilc.Device
	info   ilc.ILCInfo
	silent bool
}

// Implement list.Item interface
func (a actuatorItem) Title() string {
	marker := "●"
	if !a.dev.Enabled {
		marker = "○"
	} else if a.silent {
		marker = "✗"
	}
	return fmt.Sprintf("%s FA %d", marker, a.dev.ID)
}

func (a actuatorItem) Description() string {
	state := "disabled"
	if a.dev.Enabled {
		state = "enabled"
		if a.info.Responded {
			state = strings.ToLower(ilc.FormatMode(a.info.Mode))
		}
	}
	return fmt.Sprintf("%d:%d %s", a.dev.Subnet, a.dev.Address, state)
}

func (a actuatorItem) FilterValue() string { return strconv.Itoa(int(a.dev.ID)) }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Control loop (for queueing changes and reconnection)
	loop     *controlLoop
	connInfo string

	// Device tracking
	devices    []ilc.Device
	telemetry  ilc.TelemetrySnapshot
	silent     map[int32]bool
	deviceList list.Model
	identified bool

	// Monitoring (reused from monitor patterns)
	snapshot      ilc.StatisticsSnapshot
	eventLog      []eventLogEntry
	maxLogEntries int
	lastCycle     time.Duration

	// Control
	modeInput    textinput.Model
	focusedField int

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(loop *controlLoop, connInfo string) controlModel {
	// Initialize text input for the mode
	ti := textinput.New()
	ti.Placeholder = "enabled"
	ti.CharLimit = 16
	ti.Width = 16

	// Initialize device list with empty items
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New([]list.Item{}, delegate, 30, 10)
	deviceList.Title = "Force Actuators"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	return controlModel{
		loop:          loop,
		connInfo:      connInfo,
		silent:        make(map[int32]bool),
		deviceList:    deviceList,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		modeInput:     ti,
		focusedField:  focusDeviceList,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionRelease && msg.Button == tea.MouseButtonLeft {
			m.deviceList, _ = m.deviceList.Update(msg)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.snapshot = m.loop.getILC().Statistics().Snapshot()
		return m, controlTickCmd()

	case controlCycleMsg:
		m.processCycle(msg)

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected - restoring mode", false)
		if msg.carried > 0 {
			m.addLogEntry("Kept "+plural(uint64(msg.carried), "queued change"), false)
		}
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusModeInput {
		m.modeInput, cmd = m.modeInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.focusedField == focusDeviceList {
		m.deviceList, cmd = m.deviceList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if msg.String() == "q" && m.focusedField == focusModeInput {
			break
		}
		m.quitting = true
		return m, tea.Quit

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		if m.identified {
			return m.handleEnter()
		}

	case "a":
		if m.focusedField != focusModeInput {
			m.loop.getILC().EnableAllFA()
			m.addLogEntry("Queued enable all FA", false)
			return m, nil
		}

	case "up", "k", "down", "j":
		if m.focusedField == focusDeviceList {
			m.deviceList, _ = m.deviceList.Update(msg)
			return m, nil
		}
	}

	// Pass through to focused component
	if m.focusedField == focusModeInput {
		var cmd tea.Cmd
		m.modeInput, cmd = m.modeInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *controlModel) cycleFocus(delta int) *controlModel {
	if !m.identified {
		return m
	}

	// Cycle through focus states
	maxFocus := focusButton
	m.focusedField = (m.focusedField + delta + maxFocus + 1) % (maxFocus + 1)

	// Update focus state
	if m.focusedField == focusModeInput {
		m.modeInput.Focus()
	} else {
		m.modeInput.Blur()
	}

	return m
}

func (m *controlModel) handleEnter() (tea.Model, tea.Cmd) {
	// Don't allow control commands while connection is lost
	if m.connectionLost {
		m.addLogEntry("Cannot queue change: connection lost", true)
		return m, nil
	}

	switch m.focusedField {
	case focusDeviceList:
		return m.toggleSelected()
	case focusModeInput, focusButton:
		return m.sendMode()
	}
	return m, nil
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	helpText := "q=quit"
	if m.identified {
		helpText = "q=quit Tab=switch Enter=toggle a=enable all"
	}
	s.WriteString(titleStyle.Render("ILCBUS CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s | %s", connStatus, m.loop.kind, helpText)))
	s.WriteString("\n\n")

	if !m.identified {
		s.WriteString(warningStyle.Render("Identifying devices..."))
		s.WriteString("\n\n")
		s.WriteString(m.renderEventLog())
		return s.String()
	}

	s.WriteString(m.renderControlView())
	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

var (
	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))

	buttonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("12")).
			Padding(0, 2)

	focusedButtonStyle = buttonStyle.
				Background(lipgloss.Color("10"))
)

func (m controlModel) renderControlView() string {
	var s strings.Builder

	// Layout: left panel (actuators) | right panel (control)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusDeviceList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	devicePanel := listStyle.Render(m.deviceList.View())

	controlPanel := boxStyle.Width(rightWidth).Render(m.renderControlPanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, " ", controlPanel))
	s.WriteString("\n")
	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n")
	s.WriteString(m.renderEventLog())

	return s.String()
}

func (m controlModel) renderControlPanel() string {
	var s strings.Builder

	if a, ok := m.selected(); ok {
		s.WriteString(m.renderTelemetry(a))
		s.WriteString("\n")
	}

	// Mode control
	s.WriteString(statsLabelStyle.Render("Mode:"))
	s.WriteString(" ")
	s.WriteString(m.modeInput.View())
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("standby, disabled, enabled, fault, clear-faults or 0-5"))
	s.WriteString("\n\n")

	button := buttonStyle
	if m.focusedField == focusButton {
		button = focusedButtonStyle
	}
	s.WriteString(button.Render("Send Mode"))

	return s.String()
}

func (m controlModel) renderStatisticsBar() string {
	t := m.snapshot.Total()
	var validPercent float64
	if t.Frames > 0 {
		validPercent = float64(t.Dispatched) * 100.0 / float64(t.Frames)
	}

	content := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s   %s %s",
		statsLabelStyle.Render("Cycles:"), statsValueStyle.Render(fmt.Sprintf("%d", m.snapshot.Cycles)),
		statsLabelStyle.Render("Dispatched:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Faults:"), countStyle(t.TotalFaults()),
		statsLabelStyle.Render("Timeouts:"), countStyle(t.Timeouts),
		statsLabelStyle.Render("Last:"), statsValueStyle.Render(m.lastCycle.String()),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderTelemetry(a actuatorItem) string {
	var s strings.Builder
	d := a.dev

	s.WriteString(statsLabelStyle.Render(fmt.Sprintf("FA %d", d.ID)))
	s.WriteString(headerStyle.Render(fmt.Sprintf("  subnet %d address %d", d.Subnet, d.Address)))
	s.WriteString("\n")

	if !a.info.Responded {
		s.WriteString(warningStyle.Render("No reply yet"))
		s.WriteString("\n")
		return s.String()
	}

	s.WriteString(fmt.Sprintf("%s %s   %s 0x%04X   %s 0x%04X\n",
		statsLabelStyle.Render("Mode:"), statsValueStyle.Render(ilc.FormatMode(a.info.Mode)),
		statsLabelStyle.Render("Status:"), a.info.Status,
		statsLabelStyle.Render("Faults:"), a.info.Faults,
	))
	if a.info.FirmwareName != "" {
		s.WriteString(fmt.Sprintf("%s %s %d.%d  %s %012X\n",
			statsLabelStyle.Render("Firmware:"), a.info.FirmwareName, a.info.MajorRevision, a.info.MinorRevision,
			statsLabelStyle.Render("ID:"), a.info.UniqueID,
		))
	}

	if d.DataIndex < len(m.telemetry.FA) {
		fa := m.telemetry.FA[d.DataIndex]
		s.WriteString(fmt.Sprintf("%s %s (setpoint %.1f N)\n",
			statsLabelStyle.Render("Primary:"),
			statsValueStyle.Render(fmt.Sprintf("%.1f N", fa.PrimaryForce)), fa.PrimarySetpoint))
		if d.DualAxis() {
			s.WriteString(fmt.Sprintf("%s %s (setpoint %.1f N)\n",
				statsLabelStyle.Render("Secondary:"),
				statsValueStyle.Render(fmt.Sprintf("%.1f N", fa.SecondaryForce)), fa.SecondarySetpoint))
		}
	}
	if a.silent {
		s.WriteString(errorStyle.Render("Not responding"))
		s.WriteString("\n")
	}

	return s.String()
}

func (m controlModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - m.height/3 - 22
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))
	return s.String()
}

//////////////////////////////////////////////////////////////
// Cycle Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) processCycle(msg controlCycleMsg) {
	r := &msg.report
	m.lastCycle = r.Duration
	m.devices = msg.devices
	m.telemetry = msg.telemetry

	if msg.err != nil {
		m.addLogEntry(fmt.Sprintf("%s cycle: %v", r.Kind, msg.err), true)
	}
	for _, c := range r.Applied {
		m.addLogEntry("Applied "+c.String(), false)
	}
	for _, f := range r.Faults() {
		m.addLogEntry("FAULT "+f.String(), true)
	}
	for _, w := range r.Warnings {
		m.addLogEntry(fmt.Sprintf("%s: %s", w.Device, w.Warning.Message), false)
	}

	// Track silent actuators, logging transitions only
	now := make(map[int32]bool)
	for _, d := range r.TimedOut {
		if d.Class != ilc.ClassFA {
			m.addLogEntry("TIMEOUT "+d.String(), true)
			continue
		}
		now[d.ID] = true
		if !m.silent[d.ID] {
			m.addLogEntry("TIMEOUT "+d.String(), true)
		}
	}
	if r.Kind.AddressesFA() {
		for id := range m.silent {
			if !now[id] {
				m.addLogEntry(fmt.Sprintf("FA %d responding again", id), false)
			}
		}
		m.silent = now
	}

	if !m.identified && r.Kind == ilc.ListServerStatus {
		m.identified = true
		responded := 0
		for _, info := range m.telemetry.FAInfo {
			if info.Responded {
				responded++
			}
		}
		m.addLogEntry(fmt.Sprintf("Identified %d of %d force actuators", responded, len(m.devices)), false)
	}

	m.updateDeviceList()
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *controlModel) toggleSelected() (tea.Model, tea.Cmd) {
	a, ok := m.selected()
	if !ok {
		return m, nil
	}

	i := m.loop.getILC()
	if a.dev.Enabled {
		i.DisableFA(a.dev.ID)
		m.addLogEntry(fmt.Sprintf("Queued disable FA %d", a.dev.ID), false)
	} else {
		i.EnableFA(a.dev.ID)
		m.addLogEntry(fmt.Sprintf("Queued enable FA %d", a.dev.ID), false)
	}
	return m, nil
}

func (m *controlModel) sendMode() (tea.Model, tea.Cmd) {
	value := m.modeInput.Value()
	if value == "" {
		value = m.modeInput.Placeholder
	}

	mode, err := parseMode(value)
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}

	m.loop.setMode(mode)
	m.addLogEntry(fmt.Sprintf("Queued mode %s", mode), false)
	return m, nil
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

// parseMode accepts a mode name (case and dash insensitive) or number
func parseMode(s string) (ilc.Mode, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < int(ilc.ModeStandby) || n > int(ilc.ModeClearFaults) {
			return 0, fmt.Errorf("mode %d out of range 0-%d", n, ilc.ModeClearFaults)
		}
		return ilc.Mode(n), nil
	}

	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for m := ilc.ModeStandby; m <= ilc.ModeClearFaults; m++ {
		if ilc.FormatMode(m) == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m *controlModel) selected() (actuatorItem, bool) {
	item := m.deviceList.SelectedItem()
	if item == nil {
		return actuatorItem{}, false
	}
	a, ok := item.(actuatorItem)
	return a, ok
}

func (m *controlModel) updateDeviceList() {
	items := make([]list.Item, len(m.devices))
	for i, d := range m.devices {
		a := actuatorItem{dev: d, silent: m.silent[d.ID]}
		if d.DataIndex < len(m.telemetry.FAInfo) {
			a.info = m.telemetry.FAInfo[d.DataIndex]
		}
		items[i] = a
	}
	m.deviceList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	// Adjust list size based on terminal size
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.deviceList.SetSize(28, listHeight)
}
