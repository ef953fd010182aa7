// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import "sync"

// ILCInfo holds the housekeeping data every ILC reports
type ILCInfo struct {
	// Server ID (function 17)
	UniqueID        uint64
	AppType         uint8
	NodeType        uint8
	SelectedOptions uint8
	NodeOptions     uint8
	MajorRevision   uint8
	MinorRevision   uint8
	FirmwareName    string

	// Server status (function 18)
	Mode   Mode
	Status uint16
	Faults uint16

	// ADC
	ScanRate    uint8
	Calibration [24]float32

	VerifyStatus uint16

	// Last received frame
	Timestamp uint64
	Responded bool
}

// ForceActuatorData holds force actuator measurements and demands
type ForceActuatorData struct {
	Status         uint8
	PrimaryForce   float32
	SecondaryForce float32

	// Last demands sent on the bus, newtons
	PrimarySetpoint   float32
	SecondarySetpoint float32

	PrimaryBoostGain   float32
	SecondaryBoostGain float32

	Pressure [4]float32

	DCAUniqueID      uint64
	DCAFirmwareType  uint8
	DCAMajorRevision uint8
	DCAMinorRevision uint8
	DCAStatus        uint16

	Timestamp uint64
}

// HardpointData holds hardpoint actuator measurements
type HardpointData struct {
	Status       uint8
	Encoder      int32
	Force        float32
	StepsCommand int8
	Timestamp    uint64
}

// HardpointMonitorData holds hardpoint monitor measurements
type HardpointMonitorData struct {
	BreakawayLVDT    float32
	DisplacementLVDT float32
	Pressure         [4]float32
	Timestamp        uint64
}

// Telemetry owns the per-device data decoded from replies. The parser writes
// it during the parse step; other goroutines read copies via Snapshot.
type Telemetry struct {
	mu   sync.RWMutex
	fa   []ForceActuatorData
	hp   []HardpointData
	hm   []HardpointMonitorData
	info [classCount][]ILCInfo
}

// TelemetrySnapshot is a point in time copy of Telemetry
type TelemetrySnapshot struct {
	FA     []ForceActuatorData
	HP     []HardpointData
	HM     []HardpointMonitorData
	FAInfo []ILCInfo
	HPInfo []ILCInfo
	HMInfo []ILCInfo
}

// NewTelemetry allocates telemetry for every device in dm
func NewTelemetry(dm *DeviceMap) *Telemetry {
	t := &Telemetry{
		fa: make([]ForceActuatorData, dm.Count(ClassFA)),
		hp: make([]HardpointData, dm.Count(ClassHP)),
		hm: make([]HardpointMonitorData, dm.Count(ClassHM)),
	}
	for _, c := range Classes {
		t.info[c] = make([]ILCInfo, dm.Count(c))
	}
	return t
}

func (t *Telemetry) lock()   { t.mu.Lock() }
func (t *Telemetry) unlock() { t.mu.Unlock() }

// Snapshot copies the current telemetry
func (t *Telemetry) Snapshot() TelemetrySnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := TelemetrySnapshot{
		FA:     append([]ForceActuatorData(nil), t.fa...),
		HP:     append([]HardpointData(nil), t.hp...),
		HM:     append([]HardpointMonitorData(nil), t.hm...),
		FAInfo: append([]ILCInfo(nil), t.info[ClassFA]...),
		HPInfo: append([]ILCInfo(nil), t.info[ClassHP]...),
		HMInfo: append([]ILCInfo(nil), t.info[ClassHM]...),
	}
	return s
}

// Info returns a copy of the housekeeping data of one device
func (t *Telemetry) Info(c DeviceClass, dataIndex int) ILCInfo {
	mustValidClass(c)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info[c][dataIndex]
}

// ForceActuator returns a copy of one force actuator's data
func (t *Telemetry) ForceActuator(dataIndex int) ForceActuatorData {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fa[dataIndex]
}

// Hardpoint returns a copy of one hardpoint's data
func (t *Telemetry) Hardpoint(dataIndex int) HardpointData {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hp[dataIndex]
}

// HardpointMonitor returns a copy of one hardpoint monitor's data
func (t *Telemetry) HardpointMonitor(dataIndex int) HardpointMonitorData {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hm[dataIndex]
}

// recordSetpoint stores the demand sent to a force actuator
func (t *Telemetry) recordSetpoint(dataIndex int, primary, secondary float32) {
	t.mu.Lock()
	t.fa[dataIndex].PrimarySetpoint = primary
	t.fa[dataIndex].SecondarySetpoint = secondary
	t.mu.Unlock()
}

// recordSteps stores the step request sent to a hardpoint
func (t *Telemetry) recordSteps(dataIndex int, steps int8) {
	t.mu.Lock()
	t.hp[dataIndex].StepsCommand = steps
	t.mu.Unlock()
}
