// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilcsim

import (
	"math"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

// Device is a simulated ILC
type Device struct {
	ID      int32
	Subnet  uint8
	Address uint8
	Class   ilc.DeviceClass
	Dual    bool

	// Housekeeping
	UniqueID     uint64
	FirmwareName string
	Mode         ilc.Mode
	Status       uint16
	Faults       uint16
	VerifyStatus uint16
	Erased       bool

	// Force actuator
	PrimaryForce   float32
	SecondaryForce float32
	ForceOffset    float32 // added to every demand when reporting force
	BoostGains     [2]float32
	DCAStatus      uint16

	// Hardpoint
	Encoder int32
	HPForce float32

	// Hardpoint monitor
	Breakaway    float32
	Displacement float32

	Pressure    [4]float32
	ScanRate    uint8
	ADCOffset   [4]float32
	Sensitivity [4]float32
	Calibration [24]float32

	// Silent devices never reply
	Silent bool

	Requests uint64
	Frozen   uint8 // last freeze counter seen
}

func newDevice(d ilc.Device) *Device {
	sim := &Device{
		ID:           d.ID,
		Subnet:       d.Subnet,
		Address:      d.Address,
		Class:        d.Class,
		Dual:         d.DualAxis(),
		UniqueID:     0x0A0B00000000 | uint64(d.Subnet)<<8 | uint64(d.Address),
		FirmwareName: "ILC-" + d.Class.String(),
		Mode:         ilc.ModeStandby,
		ScanRate:     1,
		Breakaway:    0.5,
		Displacement: 0.1,
		Pressure:     [4]float32{110, 112, 114, 116},
	}
	for i := range sim.Calibration {
		sim.Calibration[i] = float32(i) * 0.5
	}
	return sim
}

// reply executes one request and returns the reply payload. ok is false
// for functions the device does not implement.
func (d *Device) reply(fn uint8, req []byte) (payload []byte, exception ilc.ExceptionCode, ok bool) {
	d.Requests++
	w := &payloadWriter{}

	switch fn {
	case ilc.FuncServerID:
		w.u48(d.UniqueID)
		w.u8(uint8(d.Class)) // app type
		w.u8(uint8(d.Class)) // node type
		w.u8(0)
		w.u8(0)
		w.u8(1)
		w.u8(2)
		w.bytes([]byte(d.FirmwareName))
	case ilc.FuncServerStatus:
		w.u8(uint8(d.Mode))
		w.u16(d.Status)
		w.u16(d.Faults)
	case ilc.FuncChangeMode:
		if len(req) != 2 {
			return nil, ilc.ExceptionInvalidLength, true
		}
		mode := ilc.Mode(uint16(req[0])<<8 | uint16(req[1]))
		if mode > ilc.ModeClearFaults {
			return nil, ilc.ExceptionIllegalDataValue, true
		}
		if mode == ilc.ModeClearFaults {
			d.Faults = 0
			mode = ilc.ModeStandby
		}
		d.Mode = mode
		w.u16(uint16(d.Mode))
	case ilc.FuncEraseApplication:
		d.Erased = true
	case ilc.FuncVerifyApplication:
		if d.Erased {
			d.VerifyStatus = 0xFFFF
		}
		w.u16(d.VerifyStatus)
	case ilc.FuncResetServer:
		d.Mode = ilc.ModeStandby
		d.Faults = 0
	default:
		return d.replyClass(fn, req, w)
	}
	return w.buf, 0, true
}

func (d *Device) replyClass(fn uint8, req []byte, w *payloadWriter) ([]byte, ilc.ExceptionCode, bool) {
	switch d.Class {
	case ilc.ClassFA:
		switch fn {
		case ilc.FuncSetForceDemand:
			want := 3
			if d.Dual {
				want = 6
			}
			if len(req) != want {
				return nil, ilc.ExceptionInvalidLength, true
			}
			d.PrimaryForce = float32(int24(req[0:3]))/1000 + d.ForceOffset
			if d.Dual {
				d.SecondaryForce = float32(int24(req[3:6]))/1000 + d.ForceOffset
			}
			d.forceStatus(w)
		case ilc.FuncForceActuatorStatus:
			d.forceStatus(w)
		case ilc.FuncSetBoostValveGains:
			if len(req) != 8 {
				return nil, ilc.ExceptionInvalidLength, true
			}
			d.BoostGains[0] = float32frombytes(req[0:4])
			d.BoostGains[1] = float32frombytes(req[4:8])
		case ilc.FuncReadBoostValveGains:
			w.f32(d.BoostGains[0])
			w.f32(d.BoostGains[1])
		case ilc.FuncReportDCAID:
			w.u48(d.UniqueID | 0xDC<<40)
			w.u8(1)
			w.u8(1)
			w.u8(0)
		case ilc.FuncReportDCAStatus:
			w.u16(d.DCAStatus)
		case ilc.FuncReadPressure:
			d.pressure(w)
		default:
			return d.replyADC(fn, req, w)
		}
	case ilc.ClassHP:
		switch fn {
		case ilc.FuncMoveStepper:
			if len(req) != 1 {
				return nil, ilc.ExceptionInvalidLength, true
			}
			d.Encoder += int32(int8(req[0]))
			d.hardpointStatus(w)
		case ilc.FuncHardpointForceStatus:
			d.hardpointStatus(w)
		default:
			return d.replyADC(fn, req, w)
		}
	case ilc.ClassHM:
		switch fn {
		case ilc.FuncReportLVDT:
			w.f32(d.Breakaway)
			w.f32(d.Displacement)
		case ilc.FuncReadPressure:
			d.pressure(w)
		default:
			return nil, ilc.ExceptionIllegalFunction, true
		}
	}
	return w.buf, 0, true
}

// replyADC serves the ADC functions shared by force actuators and hardpoints
func (d *Device) replyADC(fn uint8, req []byte, w *payloadWriter) ([]byte, ilc.ExceptionCode, bool) {
	switch fn {
	case ilc.FuncSetADCScanRate:
		if len(req) != 1 {
			return nil, ilc.ExceptionInvalidLength, true
		}
		d.ScanRate = req[0]
		w.u8(d.ScanRate)
	case ilc.FuncSetADCOffset:
		if len(req) != 9 {
			return nil, ilc.ExceptionInvalidLength, true
		}
		ch := req[0]
		if ch < 1 || ch > 4 {
			return nil, ilc.ExceptionIllegalDataValue, true
		}
		d.ADCOffset[ch-1] = float32frombytes(req[1:5])
		d.Sensitivity[ch-1] = float32frombytes(req[5:9])
	case ilc.FuncReadCalibration:
		for _, v := range d.Calibration {
			w.f32(v)
		}
	default:
		return nil, ilc.ExceptionIllegalFunction, true
	}
	return w.buf, 0, true
}

func (d *Device) forceStatus(w *payloadWriter) {
	w.u8(uint8(d.Mode))
	w.f32(d.PrimaryForce)
	if d.Dual {
		w.f32(d.SecondaryForce)
	}
}

func (d *Device) hardpointStatus(w *payloadWriter) {
	w.u8(uint8(d.Mode))
	w.i32(d.Encoder)
	w.f32(d.HPForce)
}

func (d *Device) pressure(w *payloadWriter) {
	for _, p := range d.Pressure {
		w.f32(p)
	}
}

// payloadWriter encodes big-endian reply fields
type payloadWriter struct {
	buf []byte
}

func (w *payloadWriter) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *payloadWriter) u16(v uint16) { w.buf = append(w.buf, byte(v>>8), byte(v)) }

func (w *payloadWriter) i32(v int32) {
	u := uint32(v)
	w.buf = append(w.buf, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

func (w *payloadWriter) u48(v uint64) {
	for shift := 40; shift >= 0; shift -= 8 {
		w.buf = append(w.buf, byte(v>>uint(shift)))
	}
}

func (w *payloadWriter) f32(v float32) { w.i32(int32(math.Float32bits(v))) }

func (w *payloadWriter) bytes(b []byte) { w.buf = append(w.buf, b...) }

func int24(b []byte) int32 {
	u := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	if u&0x800000 != 0 {
		u |= 0xFF000000
	}
	return int32(u)
}

func float32frombytes(b []byte) float32 {
	return math.Float32frombits(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}
