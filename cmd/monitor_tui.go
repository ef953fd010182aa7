// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/ilcbus/pkg/bridge"
	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// monitorModel is the TUI model of the monitor command
type monitorModel struct {
	connInfo      string
	kind          ilc.ListKind
	showAll       bool
	stats         *ilc.Statistics
	linkStats     *bridge.Statistics
	snapshot      ilc.StatisticsSnapshot
	eventLog      []eventLogEntry
	maxLogEntries int
	lastCycle     time.Duration
	silent        map[string]bool
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time

// formatUptime formats a duration to a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := uint64(d / time.Second)
	if seconds == 0 {
		return "0 seconds"
	}

	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func plural(n uint64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func initialMonitorModel(s *session, kind ilc.ListKind, showAll bool) monitorModel {
	m := monitorModel{
		connInfo:      s.info,
		kind:          kind,
		showAll:       showAll,
		stats:         s.ilc.Statistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		silent:        make(map[string]bool),
		width:         80,
		height:        24,
	}
	if s.client != nil {
		m.linkStats = s.client.Statistics()
	}
	return m
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			if m.linkStats != nil {
				m.linkStats.Reset()
			}
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.snapshot = m.stats.Snapshot()
		return m, tickCmd()

	case cycleMsg:
		m.recordCycle(&msg.report, msg.err)
	}

	return m, nil
}

// recordCycle logs the problems of one cycle. A silent device is logged
// when it stops answering and again when it recovers.
func (m *monitorModel) recordCycle(r *ilc.CycleReport, err error) {
	m.lastCycle = r.Duration
	if err != nil {
		m.addLogEntry(fmt.Sprintf("CYCLE ERROR: %v", err), true)
		return
	}

	for _, f := range r.Faults() {
		m.addLogEntry("FAULT "+f.String(), true)
	}

	now := make(map[string]bool, len(r.TimedOut))
	for _, d := range r.TimedOut {
		label := d.String()
		now[label] = true
		if !m.silent[label] {
			m.addLogEntry("TIMEOUT "+label, true)
		}
	}
	for label := range m.silent {
		if !now[label] {
			m.addLogEntry(label+" responding again", false)
		}
	}
	m.silent = now

	for _, w := range r.Warnings {
		m.addLogEntry(fmt.Sprintf("%s: %s", w.Device, w.Warning.Message), false)
	}
	for _, c := range r.Applied {
		m.addLogEntry("Applied "+c.String(), false)
	}

	if m.showAll && len(r.Faults()) == 0 && len(r.TimedOut) == 0 {
		m.addLogEntry(fmt.Sprintf("%s cycle OK (%s)", r.Kind, r.Duration), false)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// countStyle renders n as an error when non-zero
func countStyle(n uint64) string {
	if n > 0 {
		return errorStyle.Render(fmt.Sprintf("%d", n))
	}
	return statsValueStyle.Render("0")
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("ILCBUS - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | List: %s | Mode: %s | 'r' reset, 'q' quit",
		m.connInfo, m.kind, func() string {
			if m.showAll {
				return "All cycles"
			}
			return "Errors only"
		}())))
	s.WriteString("\n\n")

	// Totals
	snap := m.snapshot
	t := snap.Total()
	var validPercent float64
	if t.Frames > 0 {
		validPercent = float64(t.Dispatched) * 100.0 / float64(t.Frames)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Cycles:"), statsValueStyle.Render(fmt.Sprintf("%d", snap.Cycles)),
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", t.Frames)),
		statsLabelStyle.Render("Dispatched:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", t.Dispatched, validPercent)),
		statsLabelStyle.Render("Last:"), statsValueStyle.Render(m.lastCycle.String()),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Faults:"), countStyle(t.TotalFaults()),
		statsLabelStyle.Render("Timeouts:"), countStyle(t.Timeouts),
		statsLabelStyle.Render("Exceptions:"), countStyle(t.Exceptions),
		statsLabelStyle.Render("Silent:"), countStyle(uint64(len(m.silent))),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", snap.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if snap.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", snap.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", snap.ErrorRate))
		}(),
		statsLabelStyle.Render("Running:"), statsValueStyle.Render(formatUptime(time.Since(snap.StartTime))),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Per subnet
	s.WriteString(statsLabelStyle.Render("Subnets:"))
	s.WriteString("\n")
	subnetContent := strings.Builder{}
	subnetContent.WriteString(headerStyle.Render(fmt.Sprintf("%-7s %10s %10s %8s %8s %8s %8s",
		"Subnet", "Frames", "Dispatched", "Faults", "Timeout", "IRQ", "Unsol.")))
	for n, sub := range snap.Subnets {
		subnetContent.WriteString(fmt.Sprintf("\n%-7d %10d %10d %8d %8d %8d %8d",
			n+ilc.MinSubnet, sub.Frames, sub.Dispatched, sub.TotalFaults(), sub.Timeouts, sub.IRQTimeouts, sub.Unsolicited))
	}
	s.WriteString(boxStyle.Render(subnetContent.String()))
	s.WriteString("\n\n")

	// Bridge link (only shown for remote FPGAs)
	if m.linkStats != nil {
		total, crc, decode, timeouts := m.linkStats.Counts()
		s.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n\n",
			statsLabelStyle.Render("Link Packets:"), statsValueStyle.Render(fmt.Sprintf("%d", total)),
			statsLabelStyle.Render("CRC:"), countStyle(crc),
			statsLabelStyle.Render("Decode:"), countStyle(decode),
			statsLabelStyle.Render("Timeouts:"), countStyle(timeouts),
		))
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 24 // Reserve space for header and stats
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
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
