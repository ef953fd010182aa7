// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"fmt"
	"log/slog"
	"time"
)

// CycleState is the position of the facade in the control cycle
type CycleState int

const (
	StateIdle CycleState = iota
	StateBuffersWritten
	StateTriggered
	StateWaiting
	StateRead
	StateParsed
	StateVerified
)

// String returns the state name
func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBuffersWritten:
		return "BUFFERS_WRITTEN"
	case StateTriggered:
		return "TRIGGERED"
	case StateWaiting:
		return "WAITING"
	case StateRead:
		return "READ"
	case StateParsed:
		return "PARSED"
	case StateVerified:
		return "VERIFIED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// FIFO operation timeouts
const (
	fifoWriteTimeout = 10 * time.Millisecond
	fifoReadTimeout  = 10 * time.Millisecond
)

// CycleReport is the outcome of one RunCycle
type CycleReport struct {
	Kind     ListKind
	Waits    [SubnetCount]WaitResult
	Results  []ParseResult
	TimedOut []Device
	Warnings []DeviceWarning
	Applied  []Change
	Duration time.Duration
}

// Faults returns every framing fault of the cycle
func (r *CycleReport) Faults() []FrameFault {
	var faults []FrameFault
	for _, res := range r.Results {
		faults = append(faults, res.Faults...)
	}
	return faults
}

// Option configures an ILC
type Option func(*ILC)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(i *ILC) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithNotifier sets the safety collaborator
func WithNotifier(n SafetyNotifier) Option {
	return func(i *ILC) {
		i.notifier = n
	}
}

// WithLimits sets the telemetry limits
func WithLimits(cfg ValidatorConfig) Option {
	return func(i *ILC) {
		i.limits = &cfg
	}
}

// WithStatistics shares a statistics tracker
func WithStatistics(s *Statistics) Option {
	return func(i *ILC) {
		i.stats = s
	}
}

// WithCapacity sets the capacity of every subnet buffer, in words
func WithCapacity(words int) Option {
	return func(i *ILC) {
		i.capacity = words
	}
}

// ILC runs the control cycle against the FPGA: it writes a bus list,
// triggers the bus, waits for every subnet, reads and parses the replies
// and verifies that every device answered.
//
// All cycle methods must be called from one goroutine. Other goroutines
// only queue changes (EnableFA, DisableFA, EnableAllFA, SetMode) and read
// Telemetry and Statistics snapshots.
type ILC struct {
	fpga      FPGA
	dm        *DeviceMap
	telemetry *Telemetry
	parser    *ResponseParser
	stats     *Statistics
	notifier  SafetyNotifier
	limits    *ValidatorConfig
	logger    *slog.Logger
	capacity  int

	lists   [listKindCount]*BusList
	changes ChangeQueue
	inputs  Inputs
	state   CycleState
	current *BusList
	waits   [SubnetCount]WaitResult
	results []ParseResult
	applied []Change

	readBuf []uint16
}

// New creates the facade for the devices of dm
func New(fpga FPGA, dm *DeviceMap, opts ...Option) *ILC {
	i := &ILC{
		fpga:     fpga,
		dm:       dm,
		logger:   slog.Default(),
		capacity: DefaultCapacity,
		readBuf:  make([]uint16, DefaultCapacity),
	}
	for _, opt := range opts {
		opt(i)
	}

	i.telemetry = NewTelemetry(dm)
	i.parser = NewResponseParser(dm, i.telemetry)
	i.parser.SetLogger(i.logger)
	i.parser.SetNotifier(i.notifier)
	if i.limits != nil {
		i.parser.SetLimits(*i.limits)
	}
	if i.stats == nil {
		i.stats = NewStatistics()
	}
	i.parser.SetStatistics(i.stats)

	for k := range i.lists {
		i.lists[k] = NewBusList(ListKind(k), i.capacity)
	}
	return i
}

// DeviceMap returns the device map
func (i *ILC) DeviceMap() *DeviceMap { return i.dm }

// Telemetry returns the telemetry written by the parser
func (i *ILC) Telemetry() *Telemetry { return i.telemetry }

// Statistics returns the statistics tracker
func (i *ILC) Statistics() *Statistics { return i.stats }

// Parser returns the response parser
func (i *ILC) Parser() *ResponseParser { return i.parser }

// State returns the cycle state
func (i *ILC) State() CycleState { return i.state }

// List returns the bus list of kind k
func (i *ILC) List(k ListKind) *BusList {
	if k < 0 || k >= listKindCount {
		return nil
	}
	return i.lists[k]
}

// Inputs returns the values encoded into the next lists. Only the control
// loop goroutine may modify them.
func (i *ILC) Inputs() *Inputs { return &i.inputs }

// SetSetpoints sets the source of force demands
func (i *ILC) SetSetpoints(s Setpoints) { i.inputs.Setpoints = s }

// EnableFA queues enabling a force actuator for the next cycle
func (i *ILC) EnableFA(id int32) {
	i.changes.Push(Change{Kind: ChangeEnableFA, ActuatorID: id})
}

// DisableFA queues disabling a force actuator for the next cycle
func (i *ILC) DisableFA(id int32) {
	i.changes.Push(Change{Kind: ChangeDisableFA, ActuatorID: id})
}

// EnableAllFA queues enabling every force actuator for the next cycle
func (i *ILC) EnableAllFA() {
	i.changes.Push(Change{Kind: ChangeEnableAllFA})
}

// SetMode queues the mode sent by the change-mode list
func (i *ILC) SetMode(m Mode) {
	i.changes.Push(Change{Kind: ChangeSetMode, Mode: m})
}

// PendingChanges returns the number of queued changes
func (i *ILC) PendingChanges() int {
	return i.changes.Len()
}

// AdoptChanges moves the changes still queued on old to the end of this
// ILC's queue, keeping their order. Used when a reconnect replaces the ILC.
func (i *ILC) AdoptChanges(old *ILC) int {
	pending := old.changes.Swap()
	for _, c := range pending {
		i.changes.Push(c)
	}
	return len(pending)
}

// BeginCycle applies the queued changes. A change to the enabled set
// forces a rebuild of every list addressing force actuators.
func (i *ILC) BeginCycle() ([]Change, error) {
	if i.state != StateIdle && i.state != StateVerified {
		return nil, fmt.Errorf("begin cycle in state %s: %w", i.state, ErrInvalidState)
	}

	changes := i.changes.Swap()
	rebuild := false
	for _, c := range changes {
		switch c.Kind {
		case ChangeEnableFA, ChangeDisableFA:
			if !i.dm.SetEnabled(c.ActuatorID, c.Kind == ChangeEnableFA) {
				i.logger.Warn("unknown force actuator", "id", c.ActuatorID)
				continue
			}
			rebuild = true
		case ChangeEnableAllFA:
			i.dm.EnableAll()
			rebuild = true
		case ChangeSetMode:
			i.inputs.Mode = c.Mode
		}
		i.logger.Info("applied change", "change", c.String())
	}
	if rebuild {
		for _, l := range i.lists {
			if l.Kind().AddressesFA() {
				l.Invalidate()
			}
		}
	}

	i.parser.ClearWarnings()
	i.results = i.results[:0]
	i.waits = [SubnetCount]WaitResult{}
	i.applied = changes
	i.current = nil
	i.state = StateIdle
	return changes, nil
}

// WriteList builds (or updates) list k and writes every subnet buffer to
// the command FIFO
func (i *ILC) WriteList(k ListKind) error {
	if i.state != StateIdle {
		return fmt.Errorf("write list in state %s: %w", i.state, ErrInvalidState)
	}
	l := i.List(k)
	if l == nil {
		return fmt.Errorf("unknown bus list %d", int(k))
	}

	if l.Built() {
		l.Update(i.dm, &i.inputs)
	} else {
		l.Build(i.dm, &i.inputs)
		i.logger.Debug("built bus list", "list", k.String(), "patches", len(l.Patches()))
	}
	i.recordDemands(k)

	for subnet := uint8(MinSubnet); subnet <= MaxSubnet; subnet++ {
		if err := i.fpga.WriteCommandFIFO(l.Words(subnet), fifoWriteTimeout); err != nil {
			return fmt.Errorf("write subnet %d command FIFO: %w: %w", subnet, ErrFPGA, err)
		}
	}

	i.parser.AddExpected(l.Expected())
	i.current = l
	i.state = StateBuffersWritten
	return nil
}

// recordDemands stores the demands sent by the cyclic lists so replies can
// be checked against them
func (i *ILC) recordDemands(k ListKind) {
	switch k {
	case ListRaised, ListActive:
		for _, d := range i.dm.Devices(ClassFA) {
			if !d.Enabled {
				continue
			}
			primary, secondary := i.inputs.setpoint(d.DataIndex)
			i.telemetry.recordSetpoint(d.DataIndex, primary, secondary)
		}
		if k == ListRaised {
			for n := 0; n < i.dm.Count(ClassHP); n++ {
				i.telemetry.recordSteps(n, i.inputs.steps(n))
			}
		}
	}
}

// TriggerModbus starts every subnet
func (i *ILC) TriggerModbus() error {
	if i.state != StateBuffersWritten {
		return fmt.Errorf("trigger in state %s: %w", i.state, ErrInvalidState)
	}
	if err := i.fpga.TriggerModbus(); err != nil {
		i.abort()
		return fmt.Errorf("trigger: %w: %w", ErrFPGA, err)
	}
	i.state = StateTriggered
	return nil
}

// WaitForSubnet waits up to timeout for a subnet to finish its list. A
// timeout is a normal outcome: the subnet is read anyway and silent devices
// are reported by VerifyResponses.
func (i *ILC) WaitForSubnet(subnet uint8, timeout time.Duration) (WaitResult, error) {
	if i.state != StateTriggered && i.state != StateWaiting {
		return WaitError, fmt.Errorf("wait in state %s: %w", i.state, ErrInvalidState)
	}
	if subnet < MinSubnet || subnet > MaxSubnet {
		return WaitError, fmt.Errorf("wait for subnet %d: %w", subnet, ErrUnknownSubnet)
	}
	i.state = StateWaiting

	result, err := i.fpga.WaitForModbusIRQ(subnet, timeout)
	i.waits[subnet-MinSubnet] = result
	switch {
	case err != nil:
		i.waits[subnet-MinSubnet] = WaitError
		return WaitError, fmt.Errorf("wait for subnet %d: %w: %w", subnet, ErrFPGA, err)
	case result == WaitCompleted:
		if err := i.fpga.AckModbusIRQ(subnet); err != nil {
			return WaitError, fmt.Errorf("ack subnet %d: %w: %w", subnet, ErrFPGA, err)
		}
	case result == WaitTimedOut:
		i.stats.RecordIRQTimeout(subnet)
		i.logger.Debug("subnet interrupt timeout", "subnet", subnet, "timeout", timeout)
	}
	return result, nil
}

// WaitForAllSubnets waits for every subnet, sharing one deadline
func (i *ILC) WaitForAllSubnets(timeout time.Duration) ([SubnetCount]WaitResult, error) {
	var results [SubnetCount]WaitResult
	deadline := time.Now().Add(timeout)
	for subnet := uint8(MinSubnet); subnet <= MaxSubnet; subnet++ {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		r, err := i.WaitForSubnet(subnet, remaining)
		results[subnet-MinSubnet] = r
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Read pulls a subnet's replies from the response FIFO and parses them
func (i *ILC) Read(subnet uint8) (ParseResult, error) {
	if i.state != StateWaiting && i.state != StateParsed {
		return ParseResult{}, fmt.Errorf("read in state %s: %w", i.state, ErrInvalidState)
	}
	if subnet < MinSubnet || subnet > MaxSubnet {
		return ParseResult{}, fmt.Errorf("read subnet %d: %w", subnet, ErrUnknownSubnet)
	}
	i.state = StateRead

	words, err := i.readSubnet(subnet)
	if err != nil {
		i.state = StateParsed
		return ParseResult{}, err
	}

	r := i.parser.Parse(subnet, words)
	i.results = append(i.results, r)
	i.state = StateParsed
	return r, nil
}

func (i *ILC) readSubnet(subnet uint8) ([]uint16, error) {
	if err := i.fpga.WriteRequestFIFO([]uint16{SubnetRxAddress(subnet)}, fifoWriteTimeout); err != nil {
		return nil, fmt.Errorf("request subnet %d: %w: %w", subnet, ErrFPGA, err)
	}
	var count [1]uint16
	if err := i.fpga.ReadU16ResponseFIFO(count[:], fifoReadTimeout); err != nil {
		return nil, fmt.Errorf("read subnet %d length: %w: %w", subnet, ErrFPGA, err)
	}
	n := int(count[0])
	if n > len(i.readBuf) {
		i.readBuf = make([]uint16, n)
	}
	words := i.readBuf[:n]
	if err := i.fpga.ReadU16ResponseFIFO(words, fifoReadTimeout); err != nil {
		return nil, fmt.Errorf("read subnet %d: %w: %w", subnet, ErrFPGA, err)
	}
	return words, nil
}

// ReadAll reads and parses every subnet
func (i *ILC) ReadAll() ([]ParseResult, error) {
	results := make([]ParseResult, 0, SubnetCount)
	for subnet := uint8(MinSubnet); subnet <= MaxSubnet; subnet++ {
		r, err := i.Read(subnet)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// VerifyResponses reports the devices that did not send every reply owed
// this cycle and closes the cycle
func (i *ILC) VerifyResponses() ([]Device, error) {
	switch i.state {
	case StateWaiting, StateRead, StateParsed:
	default:
		return nil, fmt.Errorf("verify in state %s: %w", i.state, ErrInvalidState)
	}
	silent := i.parser.VerifyResponses()
	i.stats.RecordCycle()
	i.state = StateVerified
	return silent, nil
}

// abort drops the replies owed by a list that never reached the bus
func (i *ILC) abort() {
	i.parser.outstanding.Clear()
	i.parser.addressed.Clear()
	i.current = nil
	i.state = StateIdle
}

// RunCycle runs one full cycle of list k. timeout bounds the wait for all
// subnets.
func (i *ILC) RunCycle(k ListKind, timeout time.Duration) (CycleReport, error) {
	start := time.Now()
	report := CycleReport{Kind: k}

	applied, err := i.BeginCycle()
	if err != nil {
		return report, err
	}
	report.Applied = applied

	if err := i.WriteList(k); err != nil {
		i.abort()
		return report, err
	}
	if err := i.TriggerModbus(); err != nil {
		return report, err
	}

	waits, waitErr := i.WaitForAllSubnets(timeout)
	report.Waits = waits

	var readErr error
	if waitErr == nil {
		report.Results, readErr = i.ReadAll()
	}

	silent, err := i.VerifyResponses()
	if err != nil {
		return report, err
	}
	report.TimedOut = silent
	report.Warnings = i.parser.Warnings()
	report.Duration = time.Since(start)

	i.logger.Debug("cycle complete", "list", k.String(), "timed_out", len(silent),
		"warnings", len(report.Warnings), "duration", report.Duration)

	if waitErr != nil {
		return report, waitErr
	}
	return report, readErr
}
