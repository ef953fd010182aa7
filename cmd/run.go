// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run bus list cycles",
	Long: `Run cycles of one bus list and report their outcome.

Each cycle writes the list to every subnet, triggers the bus, waits up to
--timeout for all subnets, parses the replies and reports devices that did
not answer. With --setup the server-id and server-status lists run first.

Lists: ` + listNames() + `

Press Ctrl+C to stop early.`,
	RunE: runRun,
}

var (
	runList     string
	runCycles   int
	runInterval time.Duration
	runSetup    bool
	runVerbose  bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runList, "list", "l", "active", "Bus list to run")
	runCmd.Flags().IntVarP(&runCycles, "cycles", "n", 1, "Number of cycles (0 = until interrupted)")
	runCmd.Flags().DurationVarP(&runInterval, "interval", "i", 0, "Delay between cycles")
	runCmd.Flags().BoolVar(&runSetup, "setup", false, "Run server-id and server-status first")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print every cycle report")
}

func listNames() string {
	names := make([]string, 0, len(ilc.ListKinds()))
	for _, k := range ilc.ListKinds() {
		names = append(names, k.String())
	}
	return strings.Join(names, ", ")
}

func runRun(cmd *cobra.Command, args []string) error {
	kind, err := ilc.ParseListKind(runList)
	if err != nil {
		return err
	}

	s, err := openSession(newLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer s.Close()

	m := startMetrics(s.ilc)

	fmt.Printf("Connected to %s\n", s.info)
	fmt.Printf("Devices: %d FA, %d HP, %d HM\n\n",
		s.dm.Count(ilc.ClassFA), s.dm.Count(ilc.ClassHP), s.dm.Count(ilc.ClassHM))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if runSetup {
		for _, k := range []ilc.ListKind{ilc.ListServerID, ilc.ListServerStatus} {
			report, err := s.ilc.RunCycle(k, cycleTimeout)
			if m != nil {
				m.Observe(report)
			}
			if err != nil {
				return fmt.Errorf("%s cycle: %w", k, err)
			}
			fmt.Print(ilc.FormatCycleReport(&report))
		}
		fmt.Println()
	}

	silentCycles := 0
loop:
	for n := 0; runCycles == 0 || n < runCycles; n++ {
		select {
		case <-sigChan:
			fmt.Println("\nInterrupted")
			break loop
		default:
		}

		report, err := s.ilc.RunCycle(kind, cycleTimeout)
		if m != nil {
			m.Observe(report)
		}
		if err != nil {
			return fmt.Errorf("cycle %d: %w", n+1, err)
		}
		if len(report.TimedOut) > 0 {
			silentCycles++
		}
		if runVerbose || len(report.TimedOut) > 0 || len(report.Faults()) > 0 {
			fmt.Printf("#%d ", n+1)
			fmt.Print(ilc.FormatCycleReport(&report))
		}

		if runInterval > 0 {
			time.Sleep(runInterval)
		}
	}

	fmt.Println()
	fmt.Print(s.ilc.Statistics().String())
	if s.client != nil {
		fmt.Println()
		fmt.Print(s.client.Statistics().String())
	}
	if silentCycles > 0 {
		fmt.Printf("\n%d cycle(s) with silent devices\n", silentCycles)
	}
	return nil
}
