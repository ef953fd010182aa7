// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ilcbus/pkg/bridge"
	"github.com/Thermoquad/ilcbus/pkg/ilc"
	"github.com/Thermoquad/ilcbus/pkg/metrics"
)

var (
	controlList string
	controlRate int
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for enabling force actuators and changing modes",
	Long: `Control the ILC bus via an interactive terminal UI.

The control loop runs server-id and server-status once, then the selected
cyclic list at --rate. Changes made in the UI are queued and applied at the
start of the next cycle.

Features:
  - Force actuator list with enable state and last reply
  - Enable/disable single actuators (enter) or all of them ('a')
  - Mode changes, sent with the change-mode list
  - Per-actuator telemetry
  - Statistics tracking and event logging
  - Automatic reconnection on bridge link loss

Tab switches between the actuator list and the mode panel. Arrow keys
navigate the actuator list.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().StringVarP(&controlList, "list", "l", "active", "Cyclic bus list to run")
	controlCmd.Flags().IntVar(&controlRate, "rate", 20, "Cycles per second")
}

// controlLoop owns the cycle goroutine and the link lifecycle
type controlLoop struct {
	s           *session
	kind        ilc.ListKind
	metrics     *metrics.Metrics
	mu          sync.RWMutex
	p           *tea.Program
	done        chan struct{}
	modePending bool
}

// Messages sent by the loop
type controlCycleMsg struct {
	report    ilc.CycleReport
	err       error
	devices   []ilc.Device
	telemetry ilc.TelemetrySnapshot
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
	carried  int // queued changes moved to the new ILC
}

func (cl *controlLoop) getILC() *ilc.ILC {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.s.ilc
}

// setMode queues a mode change, sent by the next change-mode cycle
func (cl *controlLoop) setMode(m ilc.Mode) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.s.ilc.SetMode(m)
	cl.modePending = true
}

func (cl *controlLoop) takeModePending() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	pending := cl.modePending
	cl.modePending = false
	return pending
}

func runControl(cmd *cobra.Command, args []string) error {
	kind, err := ilc.ParseListKind(controlList)
	if err != nil {
		return err
	}
	if !kind.Cyclic() {
		return fmt.Errorf("list %s is not cyclic", kind)
	}
	if controlRate <= 0 {
		return fmt.Errorf("--rate must be positive")
	}

	s, err := openSession(newLogger(io.Discard))
	if err != nil {
		return err
	}

	cl := &controlLoop{
		s:       s,
		kind:    kind,
		metrics: startMetrics(s.ilc),
		done:    make(chan struct{}),
	}

	// Create TUI model with the control loop
	m := initialControlModel(cl, s.info)

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cl.p = p

	go cl.run()

	// Run TUI
	_, err = p.Run()
	close(cl.done) // Signal goroutines to stop
	cl.mu.RLock()
	cl.s.Close()
	cl.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// run identifies the devices then cycles until shutdown, reconnecting
// when the bridge link is lost
func (cl *controlLoop) run() {
	for _, k := range []ilc.ListKind{ilc.ListServerID, ilc.ListServerStatus} {
		cl.cycle(k)
	}

	ticker := time.NewTicker(time.Second / time.Duration(controlRate))
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
		}

		if cl.takeModePending() {
			cl.cycle(ilc.ListChangeMode)
			cl.cycle(ilc.ListServerStatus)
		}

		if err := cl.cycle(cl.kind); err != nil && cl.linkLost() {
			cl.p.Send(connectionLostMsg{})
			if !cl.reconnect() {
				return // Shutdown requested during reconnect
			}
		}
	}
}

// cycle runs one list and hands the outcome to the TUI
func (cl *controlLoop) cycle(k ilc.ListKind) error {
	i := cl.getILC()
	report, err := i.RunCycle(k, cycleTimeout)
	if cl.metrics != nil {
		cl.metrics.Observe(report)
	}
	cl.p.Send(controlCycleMsg{
		report:    report,
		err:       err,
		devices:   i.DeviceMap().Devices(ilc.ClassFA),
		telemetry: i.Telemetry().Snapshot(),
	})
	return err
}

// linkLost reports whether the bridge link failed for good
func (cl *controlLoop) linkLost() bool {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.s.client == nil {
		return false
	}
	return cl.s.client.Err() != nil
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cl *controlLoop) reconnect() bool {
	cl.mu.RLock()
	cl.s.Close()
	cl.mu.RUnlock()

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cl.done:
			return false
		case <-time.After(backoff):
		}

		// Attempt to reconnect
		link, connInfo, err := OpenLink()
		if err == nil {
			cl.mu.Lock()
			old := cl.s.ilc
			client := bridge.NewClient(link, bridge.WithLinkTimeout(linkTimeout))
			cl.s.client = client
			cl.s.fpga = client
			cl.s.info = connInfo
			opts := append(append([]ilc.Option{}, cl.s.opts...), ilc.WithStatistics(old.Statistics()))
			cl.s.ilc = ilc.New(client, old.DeviceMap(), opts...)
			cl.s.ilc.SetMode(old.Inputs().Mode)
			carried := cl.s.ilc.AdoptChanges(old)
			cl.modePending = true
			cl.mu.Unlock()

			// Notify TUI about reconnection
			cl.p.Send(reconnectedMsg{connInfo: connInfo, carried: carried})
			return true
		}

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
