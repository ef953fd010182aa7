// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import "time"

// emit writes the frames of the list for the builder's subnet. Devices are
// visited force actuators first, then hardpoints, then hardpoint monitors.
func (b *listBuilder) emit() {
	switch b.list.kind {
	case ListFreezeSensor, ListRaised, ListActive:
		b.emitCyclic()
	case ListChangeMode:
		b.each(true, true, true, func(d Device) {
			b.frame(d.Address, FuncChangeMode)
			b.patch(PatchMode, d.DataIndex)
			b.buf.WriteU16(uint16(b.in.Mode))
			b.reply(modeChangeTimeout)
			b.expect(d, 1)
		})
	case ListServerID:
		b.each(true, true, true, b.simple(FuncServerID, defaultRxTimeout))
	case ListServerStatus:
		b.each(true, true, true, b.simple(FuncServerStatus, defaultRxTimeout))
	case ListCalibration:
		b.each(true, true, false, b.simple(FuncReadCalibration, calibrationTimeout))
	case ListSetADCScanRate:
		b.each(true, true, false, func(d Device) {
			b.frame(d.Address, FuncSetADCScanRate)
			b.buf.WriteU8(b.in.ScanRate)
			b.reply(defaultRxTimeout)
			b.expect(d, 1)
		})
	case ListSetADCOffsetSensitivity:
		b.each(true, true, false, func(d Device) {
			b.frame(d.Address, FuncSetADCOffset)
			b.buf.WriteU8(b.in.ADCChannel.Channel)
			b.buf.WriteFloat(b.in.ADCChannel.Offset)
			b.buf.WriteFloat(b.in.ADCChannel.Sensitivity)
			b.reply(defaultRxTimeout)
			b.expect(d, 1)
		})
	case ListReset:
		b.each(true, true, true, b.simple(FuncResetServer, resetTimeout))
	case ListDCAID:
		b.each(true, false, false, b.simple(FuncReportDCAID, defaultRxTimeout))
	case ListDCAStatus:
		b.each(true, false, false, b.simple(FuncReportDCAStatus, defaultRxTimeout))
	case ListReadDCAPressure:
		b.each(true, false, false, b.simple(FuncReadPressure, defaultRxTimeout))
	case ListSetBoostValveGains:
		b.each(true, false, false, func(d Device) {
			b.frame(d.Address, FuncSetBoostValveGains)
			b.buf.WriteFloat(b.in.BoostValveGains.Primary)
			b.buf.WriteFloat(b.in.BoostValveGains.Secondary)
			b.reply(defaultRxTimeout)
			b.expect(d, 1)
		})
	case ListReadBoostValveGains:
		b.each(true, false, false, b.simple(FuncReadBoostValveGains, defaultRxTimeout))
	case ListFirmwareErase:
		b.emitFirmware(FuncEraseApplication, firmwareEraseTimeout)
	case ListFirmwareVerify:
		b.emitFirmware(FuncVerifyApplication, firmwareVerifyTimeout)
	}
}

// simple returns an emitter sending a payload-less request expecting one reply
func (b *listBuilder) simple(fn uint8, timeout time.Duration) func(Device) {
	return func(d Device) {
		b.frame(d.Address, fn)
		b.reply(timeout)
		b.expect(d, 1)
	}
}

// each calls fn for every addressed device of the selected classes, enabled
// force actuators only
func (b *listBuilder) each(fa, hp, hm bool, fn func(Device)) {
	visit := func(c DeviceClass) {
		for _, d := range b.dm.DevicesOnSubnet(b.subnet, c) {
			if !d.Enabled {
				continue
			}
			fn(d)
		}
	}
	if fa {
		visit(ClassFA)
	}
	if hp {
		visit(ClassHP)
	}
	if hm {
		visit(ClassHM)
	}
}

// emitCyclic writes the freeze-sensor, raised and active lists
func (b *listBuilder) emitCyclic() {
	fa := b.dm.EnabledOnSubnet(b.subnet, ClassFA)
	hp := b.dm.DevicesOnSubnet(b.subnet, ClassHP)
	hm := b.dm.DevicesOnSubnet(b.subnet, ClassHM)

	s := b.subnet - MinSubnet
	b.list.rrPool[s] = b.list.rrPool[s][:0]
	b.list.rrDevice[s] = -1
	b.list.rr[s].Reset(len(fa))

	if len(fa)+len(hp)+len(hm) == 0 {
		return
	}

	b.frame(BroadcastAddress, FuncFreezeSensor)
	b.patch(PatchBroadcastCounter, 0)
	b.buf.WriteU8(b.list.counter)
	b.broadcast()

	for _, d := range fa {
		if b.list.kind == ListFreezeSensor {
			b.frame(d.Address, FuncForceActuatorStatus)
		} else {
			b.frame(d.Address, FuncSetForceDemand)
			primary, secondary := b.in.setpoint(d.DataIndex)
			b.patch(PatchForceDemand, d.DataIndex)
			b.buf.WriteI24(forceToWire(primary))
			if d.DualAxis() {
				b.buf.WriteI24(forceToWire(secondary))
			}
		}
		b.reply(defaultRxTimeout)
		b.expect(d, 1)
		b.list.rrPool[s] = append(b.list.rrPool[s], d.DataIndex)
	}

	if len(fa) > 0 {
		pick := fa[b.list.rr[s].Cursor()]
		b.frame(pick.Address, FuncServerStatus)
		b.list.patches = append(b.list.patches, Patch{
			Subnet:     b.subnet,
			Offset:     b.buf.FrameStart(),
			FrameStart: b.buf.FrameStart(),
			Kind:       PatchRoundRobin,
			DataIndex:  pick.DataIndex,
		})
		b.reply(defaultRxTimeout)
		b.expect(pick, 1)
		b.list.rrDevice[s] = pick.DataIndex
	}

	for _, d := range hp {
		if b.list.kind == ListRaised {
			b.frame(d.Address, FuncMoveStepper)
			b.patch(PatchSteps, d.DataIndex)
			b.buf.WriteU8(uint8(b.in.steps(d.DataIndex)))
		} else {
			b.frame(d.Address, FuncHardpointForceStatus)
		}
		b.reply(defaultRxTimeout)
		b.frame(d.Address, FuncServerStatus)
		b.reply(defaultRxTimeout)
		b.expect(d, 2)
	}

	for _, d := range hm {
		b.frame(d.Address, FuncReportLVDT)
		b.reply(defaultRxTimeout)
		b.frame(d.Address, FuncReadPressure)
		b.reply(defaultRxTimeout)
		b.frame(d.Address, FuncServerStatus)
		b.reply(defaultRxTimeout)
		b.expect(d, 3)
	}
}

// emitFirmware addresses the firmware target only, when it sits on this subnet
func (b *listBuilder) emitFirmware(fn uint8, timeout time.Duration) {
	t := b.in.FirmwareTarget
	if t == nil || t.Subnet != b.subnet {
		return
	}
	b.frame(t.Address, fn)
	b.reply(timeout)
	b.expect(*t, 1)
}
