// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"fmt"
	"strings"
	"time"
)

// ListKind identifies one of the bus lists
type ListKind int

// Bus lists
const (
	ListFreezeSensor ListKind = iota
	ListRaised
	ListActive
	ListChangeMode
	ListServerID
	ListServerStatus
	ListCalibration
	ListSetADCScanRate
	ListSetADCOffsetSensitivity
	ListReset
	ListDCAID
	ListDCAStatus
	ListReadDCAPressure
	ListSetBoostValveGains
	ListReadBoostValveGains
	ListFirmwareErase
	ListFirmwareVerify
	listKindCount
)

var listNames = [listKindCount]string{
	ListFreezeSensor:            "freeze-sensor",
	ListRaised:                  "raised",
	ListActive:                  "active",
	ListChangeMode:              "change-mode",
	ListServerID:                "server-id",
	ListServerStatus:            "server-status",
	ListCalibration:             "calibration",
	ListSetADCScanRate:          "adc-scan-rate",
	ListSetADCOffsetSensitivity: "adc-offset",
	ListReset:                   "reset",
	ListDCAID:                   "dca-id",
	ListDCAStatus:               "dca-status",
	ListReadDCAPressure:         "dca-pressure",
	ListSetBoostValveGains:      "set-boost-gains",
	ListReadBoostValveGains:     "read-boost-gains",
	ListFirmwareErase:           "firmware-erase",
	ListFirmwareVerify:          "firmware-verify",
}

// String returns the list name used on the command line
func (k ListKind) String() string {
	if k < 0 || k >= listKindCount {
		return fmt.Sprintf("LIST(%d)", int(k))
	}
	return listNames[k]
}

// ListKinds returns every bus list kind
func ListKinds() []ListKind {
	kinds := make([]ListKind, 0, listKindCount)
	for k := ListKind(0); k < listKindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// ParseListKind converts a list name to its kind
func ParseListKind(name string) (ListKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range listNames {
		if n == name {
			return ListKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown bus list %q", name)
}

// Cyclic returns true for the lists sent every control cycle
func (k ListKind) Cyclic() bool {
	return k == ListFreezeSensor || k == ListRaised || k == ListActive
}

// AddressesFA returns true if the list sends frames to force actuators
func (k ListKind) AddressesFA() bool {
	switch k {
	case ListFirmwareErase, ListFirmwareVerify:
		return false
	}
	return true
}

// Setpoints supplies the force demands sent to force actuators, in newtons
type Setpoints interface {
	ForceSetpoint(dataIndex int) (primary, secondary float32)
}

// StaticSetpoints is a Setpoints backed by slices indexed by data index
type StaticSetpoints struct {
	Primary   []float32
	Secondary []float32
}

// ForceSetpoint implements Setpoints
func (s StaticSetpoints) ForceSetpoint(dataIndex int) (float32, float32) {
	var primary, secondary float32
	if dataIndex < len(s.Primary) {
		primary = s.Primary[dataIndex]
	}
	if dataIndex < len(s.Secondary) {
		secondary = s.Secondary[dataIndex]
	}
	return primary, secondary
}

// ADCChannel holds the offset and sensitivity written to one ADC channel
type ADCChannel struct {
	Channel     uint8
	Offset      float32
	Sensitivity float32
}

// BoostValveGains holds the boost valve gains written to force actuators
type BoostValveGains struct {
	Primary   float32
	Secondary float32
}

// Inputs are the values a bus list encodes besides device addresses
type Inputs struct {
	Setpoints       Setpoints
	HPSteps         []int8
	Mode            Mode
	ScanRate        uint8
	ADCChannel      ADCChannel
	BoostValveGains BoostValveGains

	// FirmwareTarget is the only device addressed by the firmware lists
	FirmwareTarget *Device
}

func (in *Inputs) setpoint(dataIndex int) (float32, float32) {
	if in == nil || in.Setpoints == nil {
		return 0, 0
	}
	return in.Setpoints.ForceSetpoint(dataIndex)
}

func (in *Inputs) steps(dataIndex int) int8 {
	if in == nil || dataIndex >= len(in.HPSteps) {
		return 0
	}
	return in.HPSteps[dataIndex]
}

// ResponseCounts holds the number of reply frames owed by every device,
// indexed by data index per class
type ResponseCounts struct {
	FA []uint8
	HP []uint8
	HM []uint8
}

// NewResponseCounts allocates zeroed counts for every device of dm
func NewResponseCounts(dm *DeviceMap) ResponseCounts {
	return ResponseCounts{
		FA: make([]uint8, dm.Count(ClassFA)),
		HP: make([]uint8, dm.Count(ClassHP)),
		HM: make([]uint8, dm.Count(ClassHM)),
	}
}

// Class returns the counts of class c
func (r ResponseCounts) Class(c DeviceClass) []uint8 {
	switch c {
	case ClassFA:
		return r.FA
	case ClassHP:
		return r.HP
	case ClassHM:
		return r.HM
	}
	panic(fmt.Sprintf("ilc: unknown device class %d", uint8(c)))
}

// Get returns the count of one device
func (r ResponseCounts) Get(c DeviceClass, dataIndex int) uint8 {
	return r.Class(c)[dataIndex]
}

// Total sums the counts of every device
func (r ResponseCounts) Total() int {
	total := 0
	for _, c := range Classes {
		for _, n := range r.Class(c) {
			total += int(n)
		}
	}
	return total
}

// Clear zeroes every count
func (r ResponseCounts) Clear() {
	for _, c := range Classes {
		counts := r.Class(c)
		for i := range counts {
			counts[i] = 0
		}
	}
}

// Clone returns a deep copy
func (r ResponseCounts) Clone() ResponseCounts {
	return ResponseCounts{
		FA: append([]uint8(nil), r.FA...),
		HP: append([]uint8(nil), r.HP...),
		HM: append([]uint8(nil), r.HM...),
	}
}

// PatchKind is the field rewritten by a patch
type PatchKind int

// Patch kinds
const (
	PatchBroadcastCounter PatchKind = iota
	PatchForceDemand
	PatchSteps
	PatchMode
	PatchRoundRobin
)

// String returns the patch kind name
func (k PatchKind) String() string {
	switch k {
	case PatchBroadcastCounter:
		return "counter"
	case PatchForceDemand:
		return "force"
	case PatchSteps:
		return "steps"
	case PatchMode:
		return "mode"
	case PatchRoundRobin:
		return "round-robin"
	default:
		return fmt.Sprintf("PATCH(%d)", int(k))
	}
}

// Patch records where a per-cycle field lives in a subnet buffer
type Patch struct {
	Subnet     uint8
	Offset     int // first word of the field
	FrameStart int // first word of the frame holding it
	DataBytes  int // frame length without CRC
	Kind       PatchKind
	DataIndex  int
}

// BusList is one pre-encoded command sequence: a buffer per subnet, the
// table of fields patched every cycle and the replies owed per device
type BusList struct {
	kind     ListKind
	buffers  [SubnetCount]*FrameBuffer
	patches  []Patch
	expected ResponseCounts
	rr       [SubnetCount]RoundRobin
	rrPool   [SubnetCount][]int
	rrDevice [SubnetCount]int
	counter  uint8
	built    bool
}

// NewBusList creates an unbuilt list with buffers of the given capacity
func NewBusList(kind ListKind, capacity int) *BusList {
	if kind < 0 || kind >= listKindCount {
		panic(fmt.Sprintf("ilc: unknown bus list %d", int(kind)))
	}
	l := &BusList{kind: kind}
	for i := range l.buffers {
		l.buffers[i] = NewFrameBuffer(capacity)
		l.rrDevice[i] = -1
	}
	return l
}

// Kind returns the list kind
func (l *BusList) Kind() ListKind {
	return l.kind
}

// Built returns true once Build ran and no Invalidate happened since
func (l *BusList) Built() bool {
	return l.built
}

// Invalidate forces the next Update to rebuild the list
func (l *BusList) Invalidate() {
	l.built = false
}

// Buffer returns the buffer of a subnet (1..5)
func (l *BusList) Buffer(subnet uint8) *FrameBuffer {
	if subnet < MinSubnet || subnet > MaxSubnet {
		return nil
	}
	return l.buffers[subnet-MinSubnet]
}

// Words returns the words of a subnet buffer, FIFO address and length included
func (l *BusList) Words(subnet uint8) []uint16 {
	b := l.Buffer(subnet)
	if b == nil {
		return nil
	}
	return b.Words()
}

// Patches returns the patch table recorded by the last Build
func (l *BusList) Patches() []Patch {
	return l.patches
}

// Expected returns the replies owed per device for the current cycle
func (l *BusList) Expected() ResponseCounts {
	return l.expected
}

// Counter returns the broadcast counter sent with the current cycle
func (l *BusList) Counter() uint8 {
	return l.counter
}

// RoundRobinDevice returns the data index of the force actuator receiving
// the low-priority status query on a subnet this cycle
func (l *BusList) RoundRobinDevice(subnet uint8) (int, bool) {
	if subnet < MinSubnet || subnet > MaxSubnet {
		return 0, false
	}
	i := l.rrDevice[subnet-MinSubnet]
	return i, i >= 0
}

// RoundRobin returns the scheduler of a subnet
func (l *BusList) RoundRobin(subnet uint8) *RoundRobin {
	if subnet < MinSubnet || subnet > MaxSubnet {
		return nil
	}
	return &l.rr[subnet-MinSubnet]
}

// Build reconstructs every subnet buffer, the patch table and the expected
// reply counts from the device map
func (l *BusList) Build(dm *DeviceMap, in *Inputs) {
	if in == nil {
		in = &Inputs{}
	}
	if len(l.expected.FA) != dm.Count(ClassFA) || len(l.expected.HP) != dm.Count(ClassHP) ||
		len(l.expected.HM) != dm.Count(ClassHM) {
		l.expected = NewResponseCounts(dm)
	} else {
		l.expected.Clear()
	}
	l.patches = l.patches[:0]

	for subnet := uint8(MinSubnet); subnet <= MaxSubnet; subnet++ {
		b := &listBuilder{
			list:   l,
			dm:     dm,
			in:     in,
			buf:    l.buffers[subnet-MinSubnet],
			subnet: subnet,
		}
		b.begin()
		b.emit()
		b.end()
	}
	l.built = true
}

// Update applies the per-cycle changes: patches setpoints, the broadcast
// counter and the mode, and moves the round-robin query to the next force
// actuator. An unbuilt list, or one whose payload comes from inputs that are
// not patched, is rebuilt instead.
func (l *BusList) Update(dm *DeviceMap, in *Inputs) {
	if !l.built || l.rebuildOnUpdate() {
		l.Build(dm, in)
		return
	}
	if in == nil {
		in = &Inputs{}
	}

	l.counter++
	for _, p := range l.patches {
		buf := l.buffers[p.Subnet-MinSubnet]
		buf.SetIndex(p.Offset)
		switch p.Kind {
		case PatchBroadcastCounter:
			buf.WriteU8(l.counter)
		case PatchForceDemand:
			primary, secondary := in.setpoint(p.DataIndex)
			buf.WriteI24(forceToWire(primary))
			if dm.Device(ClassFA, p.DataIndex).DualAxis() {
				buf.WriteI24(forceToWire(secondary))
			}
		case PatchSteps:
			buf.WriteU8(uint8(in.steps(p.DataIndex)))
		case PatchMode:
			buf.WriteU16(uint16(in.Mode))
		case PatchRoundRobin:
			l.advanceRoundRobin(dm, p.Subnet, buf)
		}
		buf.RewriteCRC(p.FrameStart, p.DataBytes)
		buf.SetIndex(buf.Length())
	}
}

func (l *BusList) rebuildOnUpdate() bool {
	switch l.kind {
	case ListSetADCScanRate, ListSetADCOffsetSensitivity, ListSetBoostValveGains,
		ListFirmwareErase, ListFirmwareVerify:
		return true
	}
	return false
}

// advanceRoundRobin moves the subnet's status query to the next enabled
// force actuator and rewrites the query's address byte at the cursor
func (l *BusList) advanceRoundRobin(dm *DeviceMap, subnet uint8, buf *FrameBuffer) {
	s := subnet - MinSubnet
	pool := l.rrPool[s]
	if len(pool) == 0 {
		return
	}
	old := pool[l.rr[s].Cursor()]
	next := pool[l.rr[s].Advance()]
	if l.expected.FA[old] > 0 {
		l.expected.FA[old]--
	}
	l.expected.FA[next]++
	l.rrDevice[s] = next
	buf.WriteU8(dm.Device(ClassFA, next).Address)
}

// forceToWire converts newtons to the int24 milli-newton wire value
func forceToWire(newtons float32) int32 {
	mn := float64(newtons) * forceScale
	const limit = 1<<23 - 1
	switch {
	case mn > limit:
		return limit
	case mn < -limit:
		return -limit
	case mn < 0:
		return int32(mn - 0.5)
	default:
		return int32(mn + 0.5)
	}
}

// listBuilder writes one subnet buffer
type listBuilder struct {
	list   *BusList
	dm     *DeviceMap
	in     *Inputs
	buf    *FrameBuffer
	subnet uint8

	framePatches int
}

func (b *listBuilder) begin() {
	b.buf.Reset()
	b.buf.WriteRaw(SubnetTxAddress(b.subnet))
	b.buf.WriteRaw(0) // length, set by end
	b.buf.WriteWaitForTrigger()
	b.buf.WriteTimestamp()
}

func (b *listBuilder) end() {
	b.buf.WriteTriggerIRQ()
	end := b.buf.Index()
	b.buf.SetLength(end)
	b.buf.SetIndex(1)
	b.buf.WriteRaw(uint16(end - 2))
	b.buf.SetIndex(end)
}

// frame starts a frame addressed to address with function fn
func (b *listBuilder) frame(address, fn uint8) {
	b.buf.MarkStartOfFrame()
	b.framePatches = len(b.list.patches)
	b.buf.WriteU8(address)
	b.buf.WriteU8(fn)
}

// patch records a per-cycle field starting at the cursor
func (b *listBuilder) patch(kind PatchKind, dataIndex int) {
	b.list.patches = append(b.list.patches, Patch{
		Subnet:     b.subnet,
		Offset:     b.buf.Index(),
		FrameStart: b.buf.FrameStart(),
		Kind:       kind,
		DataIndex:  dataIndex,
	})
}

// reply closes the frame and waits up to timeout for the reply
func (b *listBuilder) reply(timeout time.Duration) {
	b.closeFrame()
	b.buf.WriteWaitForRx(timeout)
}

// broadcast closes a broadcast frame, leaving the bus idle for the ILCs to act
func (b *listBuilder) broadcast() {
	b.closeFrame()
	b.buf.WriteDelay(broadcastDelay)
}

func (b *listBuilder) closeFrame() {
	dataBytes := b.buf.Index() - b.buf.FrameStart()
	for i := b.framePatches; i < len(b.list.patches); i++ {
		b.list.patches[i].DataBytes = dataBytes
	}
	b.framePatches = len(b.list.patches)
	b.buf.MarkEndOfFrame()
}

// expect adds n owed replies to a device
func (b *listBuilder) expect(d Device, n uint8) {
	b.list.expected.Class(d.Class)[d.DataIndex] += n
}
