// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
	"github.com/Thermoquad/ilcbus/pkg/metrics"
)

var (
	monitorList   string
	monitorRate   int
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the bus continuously and track communication errors",
	Long: `Run one bus list at a fixed rate and track framing faults, silent
devices and device warnings with statistics.

Each cycle is checked for:
  - Framing faults (CRC errors, bad lengths, unknown addresses or functions)
  - Devices that did not send every reply owed
  - Exception replies and out of range telemetry
  - Subnets that did not raise their interrupt in time

By default, only cycles with problems are displayed. Use --show-all to display
every cycle.

With --metrics-addr the counters are also served for Prometheus.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVarP(&monitorList, "list", "l", "active", "Bus list to run")
	monitorCmd.Flags().IntVar(&monitorRate, "rate", 50, "Cycles per second")
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all cycles (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// cycleMsg carries one cycle outcome to the TUI
type cycleMsg struct {
	report ilc.CycleReport
	err    error
}

func runMonitor(cmd *cobra.Command, args []string) error {
	kind, err := ilc.ParseListKind(monitorList)
	if err != nil {
		return err
	}
	if monitorRate <= 0 {
		return fmt.Errorf("--rate must be positive")
	}

	// The TUI owns the terminal
	var logOut io.Writer = os.Stderr
	if useTUI {
		logOut = io.Discard
	}

	s, err := openSession(newLogger(logOut))
	if err != nil {
		return err
	}
	defer s.Close()

	m := startMetrics(s.ilc)

	if useTUI {
		return runMonitorTUI(s, kind, m)
	}
	return runMonitorText(s, kind, m)
}

// cycleLoop runs cycles of kind at --rate until stop is closed
func cycleLoop(s *session, kind ilc.ListKind, m *metrics.Metrics, stop <-chan struct{}, out func(ilc.CycleReport, error)) {
	ticker := time.NewTicker(time.Second / time.Duration(monitorRate))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		report, err := s.ilc.RunCycle(kind, cycleTimeout)
		if m != nil {
			m.Observe(report)
		}
		out(report, err)
	}
}

// runMonitorTUI runs the monitor in TUI mode
func runMonitorTUI(s *session, kind ilc.ListKind, m *metrics.Metrics) error {
	model := initialMonitorModel(s, kind, showAll)
	p := tea.NewProgram(model)

	stop := make(chan struct{})
	defer close(stop)
	go cycleLoop(s, kind, m, stop, func(r ilc.CycleReport, err error) {
		p.Send(cycleMsg{report: r, err: err})
	})

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runMonitorText runs the monitor in text mode
func runMonitorText(s *session, kind ilc.ListKind, m *metrics.Metrics) error {
	fmt.Printf("ilcbus - Monitor Mode\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("List: %s @ %d Hz\n", kind, monitorRate)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All cycles\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	reports := make(chan cycleMsg, 10)
	stop := make(chan struct{})
	defer close(stop)
	go cycleLoop(s, kind, m, stop, func(r ilc.CycleReport, err error) {
		select {
		case reports <- cycleMsg{report: r, err: err}:
		case <-stop:
		}
	})

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case msg := <-reports:
			printCycle(&msg.report, msg.err)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(s.ilc.Statistics().String())
			if s.client != nil {
				fmt.Print(s.client.Statistics().String())
			}
			fmt.Println()

		case <-sigChan:
			fmt.Println()
			fmt.Print(s.ilc.Statistics().String())
			return nil
		}
	}
}

// printCycle prints a cycle report, highlighting problems
func printCycle(r *ilc.CycleReport, err error) {
	timestamp := time.Now().Format("15:04:05.000")
	if err != nil {
		fmt.Printf("[%s] \033[1;31mCYCLE ERROR:\033[0m %v\n\n", timestamp, err)
		return
	}

	faults := r.Faults()
	if len(faults) == 0 && len(r.TimedOut) == 0 && len(r.Warnings) == 0 {
		if showAll {
			fmt.Printf("[%s] %s cycle OK (%s)\n", timestamp, r.Kind, r.Duration)
		}
		return
	}

	for _, f := range faults {
		fmt.Printf("[%s] \033[1;31mFAULT:\033[0m %s\n", timestamp, f)
	}
	for _, d := range r.TimedOut {
		fmt.Printf("[%s] \033[1;33mTIMEOUT:\033[0m %s\n", timestamp, d)
	}
	for _, w := range r.Warnings {
		fmt.Printf("[%s] \033[1;33mWARNING:\033[0m %s: %s\n", timestamp, w.Device, w.Warning.Message)
	}
	fmt.Println()
}
