// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

// txFrames decodes the frames of a subnet buffer and checks every CRC
func txFrames(t *testing.T, words []uint16) [][]byte {
	t.Helper()
	var frames [][]byte
	var cur []byte
	for _, w := range words[2:] {
		switch ClassifyCommandWord(w) {
		case WordTxByte:
			cur = append(cur, DecodeByte(w))
		case WordEndOfFrame:
			if !CheckCRC(cur) {
				t.Errorf("bad CRC in frame % X", cur)
			}
			frames = append(frames, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		t.Errorf("unterminated frame % X", cur)
	}
	return frames
}

func be24(b []byte) int32 {
	u := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	if u&0x800000 != 0 {
		u |= 0xFF000000
	}
	return int32(u)
}

// expectedCyclic is the reply count of a cyclic list: one per enabled FA,
// one status query per subnet with enabled FAs, two per hardpoint and three
// per monitor
func expectedCyclic(dm *DeviceMap) int {
	total := 2*dm.Count(ClassHP) + 3*dm.Count(ClassHM)
	for subnet := uint8(MinSubnet); subnet <= MaxSubnet; subnet++ {
		if n := len(dm.EnabledOnSubnet(subnet, ClassFA)); n > 0 {
			total += n + 1
		}
	}
	return total
}

func rowsOnSubnet1(n int) []ForceActuatorRow {
	rows := make([]ForceActuatorRow, n)
	for i := range rows {
		rows[i] = ForceActuatorRow{ID: int32(i + 1), Subnet: 1, Address: uint8(10 + i)}
	}
	return rows
}

// ============================================================
// Buffer Layout Tests
// ============================================================

func TestBusList_Layout(t *testing.T) {
	dm := testDeviceMap(t)
	l := NewBusList(ListFreezeSensor, DefaultCapacity)
	l.Build(dm, nil)

	for subnet := uint8(MinSubnet); subnet <= MaxSubnet; subnet++ {
		words := l.Words(subnet)
		if words[0] != SubnetTxAddress(subnet) {
			t.Errorf("subnet %d: expected FIFO address %d, got %d", subnet, SubnetTxAddress(subnet), words[0])
		}
		if int(words[1]) != len(words)-2 {
			t.Errorf("subnet %d: length header %d, buffer holds %d words", subnet, words[1], len(words)-2)
		}
		if ClassifyCommandWord(words[2]) != WordWaitForTrigger {
			t.Errorf("subnet %d: list must start waiting for the trigger", subnet)
		}
		if ClassifyCommandWord(words[3]) != WordTxTimestamp {
			t.Errorf("subnet %d: list must record its start timestamp", subnet)
		}
		if ClassifyCommandWord(words[len(words)-1]) != WordTriggerIRQ {
			t.Errorf("subnet %d: list must end with the interrupt", subnet)
		}
		txFrames(t, words)
	}
}

func TestBusList_FreezeSensorFrames(t *testing.T) {
	dm := testDeviceMap(t)
	l := NewBusList(ListFreezeSensor, DefaultCapacity)
	l.Build(dm, nil)

	frames := txFrames(t, l.Words(1))
	want := [][2]uint8{
		{BroadcastAddress, FuncFreezeSensor},
		{10, FuncForceActuatorStatus},
		{11, FuncForceActuatorStatus},
		{10, FuncServerStatus},
	}
	if len(frames) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(frames))
	}
	for i, w := range want {
		if frames[i][0] != w[0] || frames[i][1] != w[1] {
			t.Errorf("frame %d: expected %d/%d, got %d/%d", i, w[0], w[1], frames[i][0], frames[i][1])
		}
	}

	frames = txFrames(t, l.Words(5))
	// broadcast + 6 HP * 2 + 6 HM * 3
	if len(frames) != 1+12+18 {
		t.Errorf("subnet 5: expected 31 frames, got %d", len(frames))
	}
}

func TestBusList_EmptySubnet(t *testing.T) {
	dm, err := BuildDeviceMap(rowsOnSubnet1(2), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	l := NewBusList(ListActive, DefaultCapacity)
	l.Build(dm, nil)

	words := l.Words(3)
	want := []uint16{SubnetTxAddress(3), 3, cmdWaitForTrigger, cmdTxTimestamp, cmdTriggerIRQ}
	if len(words) != len(want) {
		t.Fatalf("expected minimal buffer %v, got %v", want, words)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d: expected 0x%04X, got 0x%04X", i, want[i], words[i])
		}
	}
	if _, ok := l.RoundRobinDevice(3); ok {
		t.Error("empty subnet has no round robin device")
	}
}

// ============================================================
// Expected Response Tests
// ============================================================

func TestBusList_ExpectedCyclic(t *testing.T) {
	dm := testDeviceMap(t)

	for _, k := range []ListKind{ListFreezeSensor, ListRaised, ListActive} {
		t.Run(k.String(), func(t *testing.T) {
			l := NewBusList(k, DefaultCapacity)
			l.Build(dm, nil)
			exp := l.Expected()

			if got := exp.Total(); got != expectedCyclic(dm) {
				t.Errorf("expected total %d, got %d", expectedCyclic(dm), got)
			}
			if got := exp.Get(ClassFA, 0); got != 2 {
				t.Errorf("FA 101 is the status pick and owes 2 replies, got %d", got)
			}
			if got := exp.Get(ClassFA, 1); got != 1 {
				t.Errorf("FA 102 owes 1 reply, got %d", got)
			}
			for i := 0; i < dm.Count(ClassHP); i++ {
				if exp.Get(ClassHP, i) != 2 {
					t.Errorf("HP %d should owe 2 replies", i)
				}
			}
			for i := 0; i < dm.Count(ClassHM); i++ {
				if exp.Get(ClassHM, i) != 3 {
					t.Errorf("HM %d should owe 3 replies", i)
				}
			}
		})
	}
}

func TestBusList_ExpectedSimpleLists(t *testing.T) {
	dm := testDeviceMap(t)
	tests := []struct {
		kind ListKind
		want int
	}{
		{ListServerID, 8 + 6 + 6},
		{ListServerStatus, 8 + 6 + 6},
		{ListChangeMode, 8 + 6 + 6},
		{ListReset, 8 + 6 + 6},
		{ListCalibration, 8 + 6},
		{ListSetADCScanRate, 8 + 6},
		{ListDCAID, 8},
		{ListReadDCAPressure, 8},
		{ListReadBoostValveGains, 8},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			l := NewBusList(tt.kind, DefaultCapacity)
			l.Build(dm, nil)
			if got := l.Expected().Total(); got != tt.want {
				t.Errorf("expected %d replies, got %d", tt.want, got)
			}
			for subnet := uint8(MinSubnet); subnet <= MaxSubnet; subnet++ {
				txFrames(t, l.Words(subnet))
			}
		})
	}
}

func TestBusList_DisabledExcluded(t *testing.T) {
	dm := testDeviceMap(t)
	l := NewBusList(ListActive, DefaultCapacity)

	dm.SetEnabled(101, false)
	l.Build(dm, nil)

	for _, f := range txFrames(t, l.Words(1)) {
		if f[0] == 10 {
			t.Errorf("disabled FA 101 addressed: % X", f)
		}
	}
	if l.Expected().Get(ClassFA, 0) != 0 {
		t.Error("disabled FA must owe nothing")
	}
	if got := l.Expected().Get(ClassFA, 1); got != 2 {
		t.Errorf("FA 102 is now the only status pick and owes 2, got %d", got)
	}
	if l.Expected().Total() != expectedCyclic(dm) {
		t.Error("expected total must follow the enabled set")
	}

	dm.SetEnabled(101, true)
	l.Invalidate()
	l.Update(dm, nil)

	found := false
	for _, f := range txFrames(t, l.Words(1)) {
		if f[0] == 10 && f[1] == FuncSetForceDemand {
			found = true
		}
	}
	if !found {
		t.Error("re-enabled FA 101 should be addressed after rebuild")
	}
}

// ============================================================
// Round Robin Tests
// ============================================================

func TestBusList_RoundRobinCoverage(t *testing.T) {
	const n = 5
	dm, err := BuildDeviceMap(rowsOnSubnet1(n), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	l := NewBusList(ListFreezeSensor, DefaultCapacity)
	l.Build(dm, nil)
	size := len(l.Words(1))

	visited := make(map[int]int)
	for cycle := 0; cycle < 2*n; cycle++ {
		if cycle > 0 {
			l.Update(dm, nil)
		}
		pick, ok := l.RoundRobinDevice(1)
		if !ok {
			t.Fatal("expected a round robin device")
		}
		visited[pick]++

		frames := txFrames(t, l.Words(1))
		rr := frames[1+n]
		if rr[0] != dm.Device(ClassFA, pick).Address || rr[1] != FuncServerStatus {
			t.Errorf("cycle %d: status query % X does not address pick %d", cycle, rr, pick)
		}

		exp := l.Expected()
		for i := 0; i < n; i++ {
			want := uint8(1)
			if i == pick {
				want = 2
			}
			if exp.FA[i] != want {
				t.Errorf("cycle %d: FA %d owes %d, want %d", cycle, i, exp.FA[i], want)
			}
		}
		if len(l.Words(1)) != size {
			t.Errorf("cycle %d: buffer size changed", cycle)
		}
	}

	for i := 0; i < n; i++ {
		if visited[i] != 2 {
			t.Errorf("FA %d queried %d times in %d cycles, want 2", i, visited[i], 2*n)
		}
	}
}

func TestBusList_RoundRobinSkipsDisabled(t *testing.T) {
	dm, err := BuildDeviceMap(rowsOnSubnet1(3), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	dm.SetEnabled(2, false)

	l := NewBusList(ListActive, DefaultCapacity)
	l.Build(dm, nil)
	for cycle := 0; cycle < 6; cycle++ {
		if cycle > 0 {
			l.Update(dm, nil)
		}
		pick, _ := l.RoundRobinDevice(1)
		if pick == 1 {
			t.Fatalf("cycle %d: disabled FA picked", cycle)
		}
	}
}

// ============================================================
// Patch Tests
// ============================================================

func TestBusList_PatchSetpoints(t *testing.T) {
	dm := testDeviceMap(t)
	sp := StaticSetpoints{
		Primary:   make([]float32, dm.Count(ClassFA)),
		Secondary: make([]float32, dm.Count(ClassFA)),
	}
	in := &Inputs{Setpoints: sp}

	l := NewBusList(ListActive, DefaultCapacity)
	l.Build(dm, in)
	size := len(l.Words(1))
	patches := len(l.Patches())

	sp.Primary[0] = 123.4567
	sp.Primary[1] = -50
	sp.Secondary[1] = 75.5
	l.Update(dm, in)

	if len(l.Words(1)) != size {
		t.Errorf("update changed the buffer size: %d != %d", len(l.Words(1)), size)
	}
	if len(l.Patches()) != patches {
		t.Error("update must not rebuild the patch table")
	}

	frames := txFrames(t, l.Words(1))
	if frames[0][2] != 1 {
		t.Errorf("broadcast counter should be 1 after one update, got %d", frames[0][2])
	}
	if v := be24(frames[1][2:5]); v != 123457 {
		t.Errorf("FA 101 demand: expected 123457 mN, got %d", v)
	}
	if v := be24(frames[2][2:5]); v != -50000 {
		t.Errorf("FA 102 primary: expected -50000 mN, got %d", v)
	}
	if v := be24(frames[2][5:8]); v != 75500 {
		t.Errorf("FA 102 secondary: expected 75500 mN, got %d", v)
	}
}

func TestBusList_PatchSteps(t *testing.T) {
	dm := testDeviceMap(t)
	in := &Inputs{HPSteps: make([]int8, dm.Count(ClassHP))}

	l := NewBusList(ListRaised, DefaultCapacity)
	l.Build(dm, in)
	in.HPSteps[2] = -7
	l.Update(dm, in)

	for _, f := range txFrames(t, l.Words(5)) {
		if f[1] != FuncMoveStepper {
			continue
		}
		want := uint8(0)
		if f[0] == dm.Device(ClassHP, 2).Address {
			want = uint8(0xF9)
		}
		if f[2] != want {
			t.Errorf("HP at %d: expected steps 0x%02X, got 0x%02X", f[0], want, f[2])
		}
	}
}

func TestBusList_PatchMode(t *testing.T) {
	dm := testDeviceMap(t)
	in := &Inputs{Mode: ModeStandby}

	l := NewBusList(ListChangeMode, DefaultCapacity)
	l.Build(dm, in)
	in.Mode = ModeEnabled
	l.Update(dm, in)

	for _, f := range txFrames(t, l.Words(1)) {
		if f[1] != FuncChangeMode || f[2] != 0 || f[3] != uint8(ModeEnabled) {
			t.Errorf("unexpected change mode frame % X", f)
		}
	}
}

func TestBusList_RebuildOnUpdate(t *testing.T) {
	dm := testDeviceMap(t)
	in := &Inputs{ScanRate: 1}

	l := NewBusList(ListSetADCScanRate, DefaultCapacity)
	l.Build(dm, in)
	in.ScanRate = 9
	l.Update(dm, in)

	for _, f := range txFrames(t, l.Words(1)) {
		if f[2] != 9 {
			t.Errorf("scan rate not rebuilt: % X", f)
		}
	}
}

func TestBusList_Firmware(t *testing.T) {
	dm := testDeviceMap(t)
	target := dm.Device(ClassHP, 3)
	in := &Inputs{FirmwareTarget: &target}

	l := NewBusList(ListFirmwareErase, DefaultCapacity)
	l.Build(dm, in)

	if got := l.Expected().Total(); got != 1 {
		t.Errorf("firmware list addresses one device, expected 1 reply, got %d", got)
	}
	if l.Expected().Get(ClassHP, 3) != 1 {
		t.Error("firmware target should owe the reply")
	}
	frames := txFrames(t, l.Words(5))
	if len(frames) != 1 || frames[0][0] != target.Address || frames[0][1] != FuncEraseApplication {
		t.Errorf("unexpected firmware frames %v", frames)
	}
	for subnet := uint8(MinSubnet); subnet < MaxSubnet; subnet++ {
		if len(txFrames(t, l.Words(subnet))) != 0 {
			t.Errorf("subnet %d should carry no frame", subnet)
		}
	}

	// No target, nothing sent
	l.Build(dm, &Inputs{})
	if l.Expected().Total() != 0 {
		t.Error("firmware list without target must owe nothing")
	}
}

// ============================================================
// Conversion Tests
// ============================================================

func TestForceToWire(t *testing.T) {
	tests := []struct {
		newtons float32
		want    int32
	}{
		{0, 0},
		{1, 1000},
		{-1, -1000},
		{0.0004, 0},
		{0.0006, 1},
		{-0.0006, -1},
		{1e9, 1<<23 - 1},
		{-1e9, -(1<<23 - 1)},
	}
	for _, tt := range tests {
		if got := forceToWire(tt.newtons); got != tt.want {
			t.Errorf("forceToWire(%v) = %d, want %d", tt.newtons, got, tt.want)
		}
	}
}

func TestParseListKind(t *testing.T) {
	for _, k := range ListKinds() {
		got, err := ParseListKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseListKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseListKind("nope"); err == nil {
		t.Error("unknown list name should fail")
	}
	if !ListActive.Cyclic() || ListServerID.Cyclic() {
		t.Error("Cyclic mismatch")
	}
	if ListFirmwareErase.AddressesFA() || !ListActive.AddressesFA() {
		t.Error("AddressesFA mismatch")
	}
}
