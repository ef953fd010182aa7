// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"log/slog"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

type timeoutEvent struct {
	Device   Device
	TimedOut bool
}

// recordingNotifier keeps every notification
type recordingNotifier struct {
	timeouts []timeoutEvent
	faults   []FaultKind
	warnings []DeviceWarning
}

func (n *recordingNotifier) NotifyCommunicationTimeout(dev Device, timedOut bool) {
	n.timeouts = append(n.timeouts, timeoutEvent{dev, timedOut})
}

func (n *recordingNotifier) NotifyFrameFault(subnet uint8, fault FaultKind) {
	n.faults = append(n.faults, fault)
}

func (n *recordingNotifier) NotifyDeviceWarning(dev Device, w Warning) {
	n.warnings = append(n.warnings, DeviceWarning{dev, w})
}

func newTestParser(t *testing.T) (*DeviceMap, *ResponseParser, *recordingNotifier) {
	t.Helper()
	dm := testDeviceMap(t)
	p := NewResponseParser(dm, NewTelemetry(dm))
	n := &recordingNotifier{}
	p.SetNotifier(n)
	p.SetLogger(slog.New(slog.DiscardHandler))
	return dm, p, n
}

// stream concatenates received frames, each with its own timestamp
func stream(frames ...[]byte) []uint16 {
	words := rxFrame(1, nil)
	for i, f := range frames {
		words = append(words, rxFrame(uint64(100+i), f)...)
	}
	return words
}

// faStatus is a single axis force reply payload
func faStatus(mode uint8, force float32) []byte {
	return append([]byte{mode}, beFloat(force)...)
}

func serverStatus(mode uint8, status, faults uint16) []byte {
	return []byte{mode, byte(status >> 8), byte(status), byte(faults >> 8), byte(faults)}
}

func expectFor(dm *DeviceMap, d Device, n uint8) ResponseCounts {
	c := NewResponseCounts(dm)
	c.Class(d.Class)[d.DataIndex] = n
	return c
}

// ============================================================
// Response Accounting Tests
// ============================================================

func TestParse_AllRepliesCredited(t *testing.T) {
	dm, p, _ := newTestParser(t)
	l := NewBusList(ListFreezeSensor, DefaultCapacity)
	l.Build(dm, nil)
	p.AddExpected(l.Expected())

	if got := p.Outstanding().Get(ClassFA, 0); got != 2 {
		t.Fatalf("address 10 on subnet 1 should owe 2 replies, got %d", got)
	}

	words := stream(
		reply(10, FuncForceActuatorStatus, faStatus(2, 0)...),
		reply(11, FuncForceActuatorStatus, append(faStatus(2, 0), beFloat(0)...)...),
		reply(10, FuncServerStatus, serverStatus(2, 0, 0)...),
	)
	r := p.Parse(1, words)

	if !r.OK() {
		t.Fatalf("unexpected faults %v warnings %v", r.Faults, r.Warnings)
	}
	if r.Frames != 3 || r.Dispatched != 3 || r.Unsolicited != 0 {
		t.Errorf("frames=%d dispatched=%d unsolicited=%d", r.Frames, r.Dispatched, r.Unsolicited)
	}
	if r.Timestamp != 1 {
		t.Errorf("start marker timestamp: expected 1, got %d", r.Timestamp)
	}
	out := p.Outstanding()
	if out.Get(ClassFA, 0) != 0 || out.Get(ClassFA, 1) != 0 {
		t.Errorf("subnet 1 replies should all be credited: %v", out.FA)
	}
}

func TestParse_CorruptedCRCLeavesReplyOwed(t *testing.T) {
	dm, p, n := newTestParser(t)
	l := NewBusList(ListFreezeSensor, DefaultCapacity)
	l.Build(dm, nil)
	p.AddExpected(l.Expected())

	bad := reply(10, FuncForceActuatorStatus, faStatus(2, 0)...)
	bad[len(bad)-1] ^= 0xFF

	r := p.Parse(1, stream(
		bad,
		reply(10, FuncServerStatus, serverStatus(2, 0, 0)...),
	))

	if len(r.Faults) != 1 || r.Faults[0].Kind != FaultInvalidCRC {
		t.Fatalf("expected one INVALID_CRC fault, got %v", r.Faults)
	}
	if r.Dispatched != 1 {
		t.Errorf("parsing must continue past the bad frame, dispatched %d", r.Dispatched)
	}
	if got := p.Outstanding().Get(ClassFA, 0); got != 1 {
		t.Errorf("address 10 should still owe 1 reply, got %d", got)
	}
	if len(n.faults) != 1 || n.faults[0] != FaultInvalidCRC {
		t.Errorf("notifier should see the fault, got %v", n.faults)
	}

	silent := p.VerifyResponses()
	found := false
	for _, d := range silent {
		if d.Class == ClassFA && d.DataIndex == 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("address 10 should time out, silent=%v", silent)
	}
}

func TestParse_Unsolicited(t *testing.T) {
	_, p, _ := newTestParser(t)
	r := p.Parse(1, stream(reply(10, FuncServerStatus, serverStatus(0, 0, 0)...)))
	if r.Dispatched != 1 || r.Unsolicited != 1 {
		t.Errorf("dispatched=%d unsolicited=%d", r.Dispatched, r.Unsolicited)
	}
	if p.Outstanding().Total() != 0 {
		t.Error("unsolicited reply must not go negative")
	}
}

func TestVerifyResponses(t *testing.T) {
	dm, p, n := newTestParser(t)
	fa101, _ := dm.LookupActuator(101)
	fa102, _ := dm.LookupActuator(102)

	exp := NewResponseCounts(dm)
	exp.FA[fa101.DataIndex] = 1
	exp.FA[fa102.DataIndex] = 1
	p.AddExpected(exp)

	p.Parse(1, stream(reply(11, FuncServerStatus, serverStatus(0, 0, 0)...)))
	silent := p.VerifyResponses()

	if len(silent) != 1 || silent[0].ID != 101 {
		t.Fatalf("expected only FA 101 silent, got %v", silent)
	}
	if len(n.timeouts) != 2 {
		t.Fatalf("expected 2 timeout notifications, got %d", len(n.timeouts))
	}
	for _, e := range n.timeouts {
		if e.Device.ID == 101 && !e.TimedOut {
			t.Error("FA 101 should be notified as timed out")
		}
		if e.Device.ID == 102 && e.TimedOut {
			t.Error("FA 102 answered and should be notified as ok")
		}
	}
	if p.Outstanding().Total() != 0 {
		t.Error("verification must clear the outstanding counts")
	}

	// Nothing addressed, nothing reported
	n.timeouts = nil
	if silent := p.VerifyResponses(); len(silent) != 0 || len(n.timeouts) != 0 {
		t.Error("second verification should be empty")
	}
	snap := p.Statistics().Snapshot()
	if snap.Subnets[0].Timeouts != 1 {
		t.Errorf("expected 1 timeout counted on subnet 1, got %d", snap.Subnets[0].Timeouts)
	}
}

func TestAddExpected_Saturates(t *testing.T) {
	dm, p, _ := newTestParser(t)
	d := dm.Device(ClassHP, 0)
	for i := 0; i < 200; i++ {
		p.AddExpected(expectFor(dm, d, 2))
	}
	if got := p.Outstanding().Get(ClassHP, 0); got != 0xFF {
		t.Errorf("expected saturation at 255, got %d", got)
	}
}

// ============================================================
// Framing Fault Tests
// ============================================================

func TestParse_Faults(t *testing.T) {
	good := rxFrame(50, reply(10, FuncServerStatus, serverStatus(0, 0, 0)...))

	tests := []struct {
		name  string
		words []uint16
		want  FaultKind
	}{
		{
			name:  "unknown address",
			words: rxFrame(2, reply(99, FuncServerStatus, serverStatus(0, 0, 0)...)),
			want:  FaultUnknownAddress,
		},
		{
			name:  "unknown function for class",
			words: rxFrame(2, reply(10, FuncReportLVDT, make([]byte, 8)...)),
			want:  FaultUnknownFunction,
		},
		{
			name:  "unknown function code",
			words: rxFrame(2, reply(10, 0x55)),
			want:  FaultUnknownFunction,
		},
		{
			name:  "wrong payload length",
			words: rxFrame(2, reply(10, FuncForceActuatorStatus, 1, 2)),
			want:  FaultInvalidLength,
		},
		{
			name:  "frame too short",
			words: rxFrame(2, []byte{10, 18, 0}),
			want:  FaultInvalidLength,
		},
		{
			name:  "exception with payload",
			words: rxFrame(2, reply(10, FuncServerStatus|0x80, 1, 2)),
			want:  FaultInvalidLength,
		},
		{
			name:  "missing end of frame",
			words: rxFrame(2, reply(10, FuncServerStatus, serverStatus(0, 0, 0)...))[:8+9],
			want:  FaultMissingEndOfFrame,
		},
		{
			name:  "missing timestamp",
			words: []uint16{EncodeRxByte(10), EncodeRxByte(18), 0xC000},
			want:  FaultMissingTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, p, _ := newTestParser(t)
			words := append(append([]uint16(nil), tt.words...), good...)
			r := p.Parse(1, words)

			if len(r.Faults) != 1 {
				t.Fatalf("expected 1 fault, got %v", r.Faults)
			}
			if r.Faults[0].Kind != tt.want {
				t.Errorf("expected %s, got %s", tt.want, r.Faults[0].Kind)
			}
			if r.Dispatched != 1 {
				t.Errorf("the following good frame must still be dispatched, got %d", r.Dispatched)
			}
		})
	}
}

func TestParse_UnknownSubnet(t *testing.T) {
	_, p, _ := newTestParser(t)
	r := p.Parse(9, stream())
	if len(r.Faults) != 1 || r.Faults[0].Kind != FaultUnknownAddress {
		t.Errorf("expected unknown address fault, got %v", r.Faults)
	}
}

func TestParse_Empty(t *testing.T) {
	_, p, _ := newTestParser(t)
	r := p.Parse(2, nil)
	if !r.OK() || r.Frames != 0 {
		t.Errorf("empty read should be clean: %+v", r)
	}
}

// ============================================================
// Exception Tests
// ============================================================

func TestParse_Exception(t *testing.T) {
	tests := []struct {
		code ExceptionCode
		want WarningKind
	}{
		{ExceptionIllegalFunction, WarningIllegalFunction},
		{ExceptionIllegalDataAddress, WarningIllegalDataAddress},
		{ExceptionIllegalDataValue, WarningIllegalDataValue},
		{ExceptionInvalidLength, WarningInvalidLength},
		{ExceptionCode(9), WarningUnknownException},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			dm, p, n := newTestParser(t)
			d, _ := dm.Lookup(1, 10)
			p.AddExpected(expectFor(dm, d, 1))

			r := p.Parse(1, stream(reply(10, FuncSetForceDemand|0x80, byte(tt.code))))

			if len(r.Faults) != 0 {
				t.Fatalf("exception is not a framing fault: %v", r.Faults)
			}
			if len(r.Warnings) != 1 || r.Warnings[0].Warning.Kind != tt.want {
				t.Fatalf("expected %s warning, got %v", tt.want, r.Warnings)
			}
			if r.Warnings[0].Warning.Function != FuncSetForceDemand {
				t.Errorf("warning should carry the original function, got %d", r.Warnings[0].Warning.Function)
			}
			if p.Outstanding().Get(ClassFA, 0) != 0 {
				t.Error("an exception reply still answers the request")
			}
			if len(n.warnings) != 1 {
				t.Error("notifier should see the warning")
			}
			if info := p.telemetry.Info(ClassFA, 0); info.Responded || info.Timestamp != 0 {
				t.Errorf("exception must not update telemetry: %+v", info)
			}
			if p.Statistics().Snapshot().Subnets[0].Exceptions != 1 {
				t.Error("exception not counted")
			}
		})
	}
}

// ============================================================
// Decode Tests
// ============================================================

func TestParse_DecodeTelemetry(t *testing.T) {
	dm, p, _ := newTestParser(t)
	hp, _ := dm.Lookup(5, 78)
	hm, _ := dm.Lookup(5, 84)

	serverID := []byte{0, 0, 0, 0, 0x12, 0x34, 1, 2, 0, 0, 3, 4}
	serverID = append(serverID, "HP-FW"...)

	hpStatus := []byte{7, 0xFF, 0xFF, 0xFF, 0xFE}
	hpStatus = append(hpStatus, beFloat(12.5)...)

	lvdt := append(beFloat(0.25), beFloat(-0.5)...)

	var pressure []byte
	for _, v := range []float32{100, 101, 102, 103} {
		pressure = append(pressure, beFloat(v)...)
	}

	r := p.Parse(5, stream(
		reply(78, FuncServerID, serverID...),
		reply(78, FuncHardpointForceStatus, hpStatus...),
		reply(84, FuncReportLVDT, lvdt...),
		reply(84, FuncReadPressure, pressure...),
	))
	if !r.OK() || r.Dispatched != 4 {
		t.Fatalf("unexpected result %+v", r)
	}

	info := p.telemetry.Info(ClassHP, hp.DataIndex)
	if info.UniqueID != 0x1234 || info.MajorRevision != 3 || info.FirmwareName != "HP-FW" {
		t.Errorf("server ID not decoded: %+v", info)
	}
	if !info.Responded || info.Timestamp == 0 {
		t.Error("reply timestamp not recorded")
	}
	h := p.telemetry.Hardpoint(hp.DataIndex)
	if h.Status != 7 || h.Encoder != -2 || h.Force != 12.5 {
		t.Errorf("hardpoint not decoded: %+v", h)
	}
	m := p.telemetry.HardpointMonitor(hm.DataIndex)
	if m.BreakawayLVDT != 0.25 || m.DisplacementLVDT != -0.5 || m.Pressure[3] != 103 {
		t.Errorf("monitor not decoded: %+v", m)
	}
}

func TestParse_FaultReported(t *testing.T) {
	_, p, _ := newTestParser(t)
	r := p.Parse(1, stream(reply(10, FuncServerStatus, serverStatus(uint8(ModeFault), 1, 0x0040)...)))
	if len(r.Warnings) != 1 || r.Warnings[0].Warning.Kind != WarningFaultReported {
		t.Fatalf("expected FAULT_REPORTED, got %v", r.Warnings)
	}
	info := p.telemetry.Info(ClassFA, 0)
	if info.Mode != ModeFault || info.Faults != 0x0040 {
		t.Errorf("status not decoded: %+v", info)
	}
}

func TestParse_FollowingError(t *testing.T) {
	tests := []struct {
		name     string
		setpoint float32
		measured float32
		warn     bool
	}{
		{"within tolerance", 100, 150, false},
		{"beyond tolerance", 100, 500, true},
		{"negative beyond tolerance", -100, 150, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, p, _ := newTestParser(t)
			p.telemetry.recordSetpoint(0, tt.setpoint, 0)

			r := p.Parse(1, stream(reply(10, FuncSetForceDemand, faStatus(2, tt.measured)...)))
			got := len(r.Warnings) == 1 && r.Warnings[0].Warning.Kind == WarningFollowingError
			if got != tt.warn {
				t.Errorf("following error warning = %v, want %v (%v)", got, tt.warn, r.Warnings)
			}
			if fa := p.telemetry.ForceActuator(0); fa.PrimaryForce != tt.measured {
				t.Errorf("measured force not stored: %v", fa.PrimaryForce)
			}
		})
	}
}

func TestParse_OutOfRange(t *testing.T) {
	_, p, _ := newTestParser(t)
	lvdt := append(beFloat(42), beFloat(0)...)
	r := p.Parse(5, stream(reply(84, FuncReportLVDT, lvdt...)))
	if len(r.Warnings) != 1 || r.Warnings[0].Warning.Kind != WarningOutOfRange {
		t.Fatalf("expected OUT_OF_RANGE, got %v", r.Warnings)
	}

	// Disabled checks
	p.SetLimits(ValidatorConfig{})
	r = p.Parse(5, stream(reply(84, FuncReportLVDT, lvdt...)))
	if len(r.Warnings) != 0 {
		t.Errorf("zero limits should disable checks, got %v", r.Warnings)
	}
}

func TestParse_Statistics(t *testing.T) {
	_, p, _ := newTestParser(t)
	bad := reply(10, FuncServerStatus, serverStatus(0, 0, 0)...)
	bad[2] ^= 0x01

	p.Parse(1, stream(
		reply(10, FuncServerStatus, serverStatus(0, 0, 0)...),
		bad,
		reply(10, FuncServerStatus|0x80, byte(ExceptionIllegalFunction)),
	))

	snap := p.Statistics().Snapshot()
	sub := snap.Subnets[0]
	if sub.Reads != 1 || sub.Frames != 3 || sub.Dispatched != 2 {
		t.Errorf("reads=%d frames=%d dispatched=%d", sub.Reads, sub.Frames, sub.Dispatched)
	}
	if sub.FaultCount(FaultInvalidCRC) != 1 || sub.Exceptions != 1 {
		t.Errorf("crc faults=%d exceptions=%d", sub.FaultCount(FaultInvalidCRC), sub.Exceptions)
	}
	if snap.Total().TotalFaults() != 1 {
		t.Error("total faults mismatch")
	}
	if snap.Subnets[0].TotalFaults() != 1 || snap.Subnets[1].TotalFaults() != 0 {
		t.Error("per-subnet fault totals mismatch")
	}
}
