// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
	"github.com/Thermoquad/ilcbus/pkg/metrics"
)

var (
	consoleList string
	consoleRate int
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive command console",
	Long: `Drive the bus from a line-oriented console.

A cyclic list runs in the background at --rate; devices that stop or resume
answering are reported as they change. Commands queue changes for the next
cycle or run single lists. Type 'help' for the command list.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVarP(&consoleList, "list", "l", "active", "Cyclic bus list to run in the background")
	consoleCmd.Flags().IntVar(&consoleRate, "rate", 10, "Background cycles per second")
}

// listRequest asks the cycle goroutine to run a list n times
type listRequest struct {
	kind  ilc.ListKind
	count int
	done  chan struct{}
}

// console is the interactive session state
type console struct {
	s        *session
	rl       *readline.Instance
	kind     ilc.ListKind
	requests chan listRequest
	paused   atomic.Bool
	silent   map[string]bool

	// Force actuators by ID, taken before the cycle goroutine starts
	actuators map[int32]ilc.Device
}

func runConsole(cmd *cobra.Command, args []string) error {
	kind, err := ilc.ParseListKind(consoleList)
	if err != nil {
		return err
	}
	if !kind.Cyclic() {
		return fmt.Errorf("list %s is not cyclic", kind)
	}
	if consoleRate <= 0 {
		return fmt.Errorf("--rate must be positive")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ilc> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	s, err := openSession(newLogger(rl.Stderr()))
	if err != nil {
		return err
	}
	defer s.Close()

	c := &console{
		s:        s,
		rl:       rl,
		kind:     kind,
		requests: make(chan listRequest),
		silent:   make(map[string]bool),

		actuators: make(map[int32]ilc.Device),
	}
	for _, d := range s.dm.Devices(ilc.ClassFA) {
		c.actuators[d.ID] = d
	}

	done := make(chan struct{})
	defer close(done)
	go c.cycleLoop(startMetrics(s.ilc), done)

	fmt.Fprintf(rl.Stdout(), "Connected to %s\n", s.info)
	c.printHelp()
	c.run()
	return nil
}

// run reads commands until quit or EOF
func (c *console) run() {
	out := c.rl.Stdout()
	for {
		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(out, "Exiting...")
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()
		case "enable":
			c.cmdEnable(args, true)
		case "disable":
			c.cmdEnable(args, false)
		case "enable-all":
			c.s.ilc.EnableAllFA()
			fmt.Fprintln(out, "Queued enable all FA")
		case "mode":
			c.cmdMode(args)
		case "run":
			c.cmdRun(args)
		case "fa":
			c.cmdFA(args)
		case "pending":
			fmt.Fprintf(out, "%d change(s) pending\n", c.s.ilc.PendingChanges())
		case "stats":
			fmt.Fprint(out, c.s.ilc.Statistics().String())
			if c.s.client != nil {
				fmt.Fprint(out, c.s.client.Statistics().String())
			}
		case "pause":
			c.paused.Store(true)
			fmt.Fprintln(out, "Background cycles paused")
		case "resume":
			c.paused.Store(false)
			fmt.Fprintln(out, "Background cycles resumed")
		case "quit", "exit", "q":
			fmt.Fprintln(out, "Exiting...")
			return
		default:
			fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprintf(c.rl.Stdout(), `
Commands:
  enable <id>         Enable a force actuator
  disable <id>        Disable a force actuator
  enable-all          Enable every force actuator
  mode <mode>         Send a mode (name or 0-5) with the change-mode list
  run <list> [n]      Run a bus list n times (default 1)
  fa <id>             Show force actuator telemetry
  pending             Show the number of queued changes
  stats               Show statistics
  pause / resume      Stop or restart the background %s cycles
  quit                Exit

Lists: %s

`, c.kind, listNames())
}

func (c *console) cmdEnable(args []string, enable bool) {
	out := c.rl.Stdout()
	id, ok := c.parseID(args)
	if !ok {
		return
	}
	if _, found := c.actuators[id]; !found {
		fmt.Fprintf(out, "Unknown force actuator %d\n", id)
		return
	}
	if enable {
		c.s.ilc.EnableFA(id)
		fmt.Fprintf(out, "Queued enable FA %d\n", id)
	} else {
		c.s.ilc.DisableFA(id)
		fmt.Fprintf(out, "Queued disable FA %d\n", id)
	}
}

func (c *console) cmdMode(args []string) {
	out := c.rl.Stdout()
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: mode <mode>")
		return
	}
	m, err := parseMode(args[0])
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	c.s.ilc.SetMode(m)
	c.runList(ilc.ListChangeMode, 1)
	c.runList(ilc.ListServerStatus, 1)
	fmt.Fprintf(out, "Sent mode %s\n", m)
}

func (c *console) cmdRun(args []string) {
	out := c.rl.Stdout()
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(out, "Usage: run <list> [n]")
		return
	}
	k, err := ilc.ParseListKind(args[0])
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	n := 1
	if len(args) == 2 {
		n, err = strconv.Atoi(args[1])
		if err != nil || n < 1 {
			fmt.Fprintf(out, "Invalid count: %s\n", args[1])
			return
		}
	}
	c.runList(k, n)
}

func (c *console) cmdFA(args []string) {
	out := c.rl.Stdout()
	id, ok := c.parseID(args)
	if !ok {
		return
	}
	d, found := c.actuators[id]
	if !found {
		fmt.Fprintf(out, "Unknown force actuator %d\n", id)
		return
	}

	t := c.s.ilc.Telemetry()
	info := t.Info(ilc.ClassFA, d.DataIndex)
	fa := t.ForceActuator(d.DataIndex)

	fmt.Fprintf(out, "FA %d (%d:%d)\n", d.ID, d.Subnet, d.Address)
	if !info.Responded {
		fmt.Fprintln(out, "  no reply yet")
		return
	}
	fmt.Fprintf(out, "  Mode:      %s (status 0x%04X, faults 0x%04X)\n", info.Mode, info.Status, info.Faults)
	if info.FirmwareName != "" {
		fmt.Fprintf(out, "  Firmware:  %s %d.%d (ID %012X)\n", info.FirmwareName, info.MajorRevision, info.MinorRevision, info.UniqueID)
	}
	fmt.Fprintf(out, "  Primary:   %.1f N (setpoint %.1f N)\n", fa.PrimaryForce, fa.PrimarySetpoint)
	if d.DualAxis() {
		fmt.Fprintf(out, "  Secondary: %.1f N (setpoint %.1f N)\n", fa.SecondaryForce, fa.SecondarySetpoint)
	}
}

func (c *console) parseID(args []string) (int32, bool) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: <command> <actuator id>")
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid actuator id: %s\n", args[0])
		return 0, false
	}
	return int32(id), true
}

// runList hands a list to the cycle goroutine and waits for it
func (c *console) runList(k ilc.ListKind, n int) {
	req := listRequest{kind: k, count: n, done: make(chan struct{})}
	c.requests <- req
	<-req.done
}

// cycleLoop owns every cycle method of the ILC
func (c *console) cycleLoop(m *metrics.Metrics, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(consoleRate))
	defer ticker.Stop()

	cycle := func(k ilc.ListKind, verbose bool) {
		report, err := c.s.ilc.RunCycle(k, cycleTimeout)
		if m != nil {
			m.Observe(report)
		}
		c.report(&report, err, verbose)
	}

	for {
		select {
		case <-done:
			return
		case req := <-c.requests:
			for i := 0; i < req.count; i++ {
				cycle(req.kind, true)
			}
			close(req.done)
		case <-ticker.C:
			if !c.paused.Load() {
				cycle(c.kind, false)
			}
		}
	}
}

// report prints a cycle. Background cycles only print silent device
// transitions, faults and warnings.
func (c *console) report(r *ilc.CycleReport, err error, verbose bool) {
	out := c.rl.Stdout()
	if err != nil {
		fmt.Fprintf(out, "%s cycle error: %v\n", r.Kind, err)
		return
	}
	if verbose {
		fmt.Fprint(out, ilc.FormatCycleReport(r))
		return
	}

	for _, f := range r.Faults() {
		fmt.Fprintf(out, "FAULT %s\n", f)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(out, "WARN  %s: %s\n", w.Device, w.Warning.Message)
	}
	for _, ch := range r.Applied {
		fmt.Fprintf(out, "applied %s\n", ch)
	}

	now := make(map[string]bool, len(r.TimedOut))
	for _, d := range r.TimedOut {
		now[d.String()] = true
		if !c.silent[d.String()] {
			fmt.Fprintf(out, "TIMEOUT %s\n", d)
		}
	}
	for label := range c.silent {
		if !now[label] {
			fmt.Fprintf(out, "%s responding again\n", label)
		}
	}
	c.silent = now
}
