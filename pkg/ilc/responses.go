// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

// Reply payload lengths, in bytes
const (
	serverIDMinLength     = 12
	serverStatusLength    = 5
	changeModeLength      = 2
	hardpointStatusLength = 9
	boostGainsLength      = 8
	forceSingleLength     = 5
	forceDualLength       = 9
	scanRateLength        = 1
	verifyLength          = 2
	calibrationLength     = 96
	pressureLength        = 16
	dcaIDLength           = 9
	dcaStatusLength       = 2
	lvdtLength            = 8
)

// replyLength returns the payload length of a reply to fn from dev. variable
// is set for replies whose length is a minimum. known is false when the
// function is not answered by the device's class.
func replyLength(dev Device, fn uint8) (length int, variable bool, known bool) {
	fa := dev.Class == ClassFA
	hp := dev.Class == ClassHP
	hm := dev.Class == ClassHM

	switch fn {
	case FuncServerID:
		return serverIDMinLength, true, true
	case FuncServerStatus:
		return serverStatusLength, false, true
	case FuncChangeMode:
		return changeModeLength, false, true
	case FuncEraseApplication, FuncResetServer:
		return 0, false, true
	case FuncVerifyApplication:
		return verifyLength, false, true
	case FuncMoveStepper, FuncHardpointForceStatus:
		return hardpointStatusLength, false, hp
	case FuncSetBoostValveGains:
		return 0, false, fa
	case FuncReadBoostValveGains:
		return boostGainsLength, false, fa
	case FuncSetForceDemand, FuncForceActuatorStatus:
		if dev.DualAxis() {
			return forceDualLength, false, fa
		}
		return forceSingleLength, false, fa
	case FuncSetADCScanRate:
		return scanRateLength, false, fa || hp
	case FuncSetADCOffset:
		return 0, false, fa || hp
	case FuncReadCalibration:
		return calibrationLength, false, fa || hp
	case FuncReadPressure:
		return pressureLength, false, fa || hm
	case FuncReportDCAID:
		return dcaIDLength, false, fa
	case FuncReportDCAStatus:
		return dcaStatusLength, false, fa
	case FuncReportLVDT:
		return lvdtLength, false, hm
	}
	return 0, false, false
}

// decode reads the payload of a validated reply at the cursor into the
// telemetry of dev. Called with the telemetry lock held.
func (p *ResponseParser) decode(rb *FrameBuffer, dev Device, fn uint8, length int, ts uint64) []Warning {
	t := p.telemetry
	info := &t.info[dev.Class][dev.DataIndex]

	switch fn {
	case FuncServerID:
		info.UniqueID = rb.ReadU48()
		info.AppType = rb.ReadU8()
		info.NodeType = rb.ReadU8()
		info.SelectedOptions = rb.ReadU8()
		info.NodeOptions = rb.ReadU8()
		info.MajorRevision = rb.ReadU8()
		info.MinorRevision = rb.ReadU8()
		info.FirmwareName = rb.ReadString(length - serverIDMinLength)

	case FuncServerStatus:
		info.Mode = Mode(rb.ReadU8())
		info.Status = rb.ReadU16()
		info.Faults = rb.ReadU16()
		if info.Faults != 0 {
			return []Warning{{
				Kind:     WarningFaultReported,
				Function: fn,
				Message:  "ILC reports faults",
				Details:  map[string]interface{}{"faults": info.Faults, "status": info.Status},
			}}
		}

	case FuncChangeMode:
		info.Mode = Mode(rb.ReadU16())

	case FuncEraseApplication, FuncResetServer:
		// Acknowledge only

	case FuncVerifyApplication:
		info.VerifyStatus = rb.ReadU16()

	case FuncMoveStepper, FuncHardpointForceStatus:
		hp := &t.hp[dev.DataIndex]
		hp.Status = rb.ReadU8()
		hp.Encoder = rb.ReadI32()
		hp.Force = rb.ReadFloat()
		hp.Timestamp = ts

	case FuncSetBoostValveGains:
		// Acknowledge only

	case FuncReadBoostValveGains:
		fa := &t.fa[dev.DataIndex]
		fa.PrimaryBoostGain = rb.ReadFloat()
		fa.SecondaryBoostGain = rb.ReadFloat()

	case FuncSetForceDemand, FuncForceActuatorStatus:
		fa := &t.fa[dev.DataIndex]
		fa.Status = rb.ReadU8()
		fa.PrimaryForce = rb.ReadFloat()
		if dev.DualAxis() {
			fa.SecondaryForce = rb.ReadFloat()
		}
		fa.Timestamp = ts
		if fn == FuncSetForceDemand {
			return validateFollowingError(&p.limits, fn, fa, dev.DualAxis())
		}

	case FuncSetADCScanRate:
		info.ScanRate = rb.ReadU8()

	case FuncSetADCOffset:
		// Acknowledge only

	case FuncReadCalibration:
		for i := range info.Calibration {
			info.Calibration[i] = rb.ReadFloat()
		}

	case FuncReadPressure:
		var pressure [4]float32
		for i := range pressure {
			pressure[i] = rb.ReadFloat()
		}
		if dev.Class == ClassHM {
			hm := &t.hm[dev.DataIndex]
			hm.Pressure = pressure
			hm.Timestamp = ts
			return validatePressure(&p.limits, pressure)
		}
		t.fa[dev.DataIndex].Pressure = pressure

	case FuncReportDCAID:
		fa := &t.fa[dev.DataIndex]
		fa.DCAUniqueID = rb.ReadU48()
		fa.DCAFirmwareType = rb.ReadU8()
		fa.DCAMajorRevision = rb.ReadU8()
		fa.DCAMinorRevision = rb.ReadU8()

	case FuncReportDCAStatus:
		t.fa[dev.DataIndex].DCAStatus = rb.ReadU16()

	case FuncReportLVDT:
		hm := &t.hm[dev.DataIndex]
		hm.BreakawayLVDT = rb.ReadFloat()
		hm.DisplacementLVDT = rb.ReadFloat()
		hm.Timestamp = ts
		return validateLVDT(&p.limits, hm)
	}
	return nil
}
