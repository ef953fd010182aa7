// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ilc implements the communication layer between the mirror support
// controller and its Inner Loop Controllers (ILCs).
//
// ILCs are small field microcontrollers sitting on five independent Modbus-like
// buses ("subnets"). The host never talks to the bus directly: it writes
// pre-encoded command words into an FPGA FIFO, triggers the bus, waits for the
// subnet interrupt and reads the reply words back. This package provides the
// word codec (FrameBuffer), the static device map, the bus lists sent every
// control cycle, the response parser and the ILC facade orchestrating a cycle.
package ilc

import "time"

// Subnets
const (
	SubnetCount = 5
	MinSubnet   = 1
	MaxSubnet   = 5
)

// Command FIFO instructions (top nibble of every command word)
const (
	cmdMask uint16 = 0xF000

	cmdWrite           uint16 = 0x1000
	cmdEndOfFrame      uint16 = 0x20DA
	cmdTxTimestamp     uint16 = 0x3000
	cmdDelay           uint16 = 0x4000
	cmdLongDelay       uint16 = 0x5000
	cmdWaitForRx       uint16 = 0x6000
	cmdTriggerIRQ      uint16 = 0x7000
	cmdWaitForTrigger  uint16 = 0x8000
	cmdWaitForLongRx   uint16 = 0x9000
	cmdStopBit         uint16 = 0x0200
	cmdArgumentMask    uint16 = 0x0FFF
	cmdMaxArgument            = 0x0FFF
	cmdDataMask        uint16 = 0x01FE
	rxEndOfFrame       uint16 = 0xA000
	rxTimestamp        uint16 = 0xB000
	rxTimestampWords          = 8
	rxDataCommand      uint16 = 0x0000
	rxTimestampPayload uint16 = 0x00FF
)

// FPGA FIFO addresses, one tx and one rx address per subnet
const (
	subnetTxBase = 3
	subnetRxBase = 8
)

// SubnetTxAddress returns the command FIFO address of the given subnet (1..5)
func SubnetTxAddress(subnet uint8) uint16 {
	return uint16(subnetTxBase + int(subnet) - 1)
}

// SubnetRxAddress returns the request FIFO address used to read the replies
// collected on the given subnet (1..5)
func SubnetRxAddress(subnet uint8) uint16 {
	return uint16(subnetRxBase + int(subnet) - 1)
}

// Frame limits
const (
	MaxFrameBytes    = 256
	MinFrameBytes    = 4 // address + function + CRC
	DefaultCapacity  = 8192
	BroadcastAddress = 248
)

// Function codes understood by the ILC firmware
const (
	FuncServerID             uint8 = 17
	FuncServerStatus         uint8 = 18
	FuncChangeMode           uint8 = 65
	FuncMoveStepper          uint8 = 66
	FuncHardpointForceStatus uint8 = 67
	FuncFreezeSensor         uint8 = 68
	FuncSetBoostValveGains   uint8 = 73
	FuncReadBoostValveGains  uint8 = 74
	FuncSetForceDemand       uint8 = 75
	FuncForceActuatorStatus  uint8 = 76
	FuncSetADCScanRate       uint8 = 80
	FuncSetADCOffset         uint8 = 81
	FuncEraseApplication     uint8 = 101
	FuncVerifyApplication    uint8 = 103
	FuncResetServer          uint8 = 107
	FuncReadCalibration      uint8 = 110
	FuncReadPressure         uint8 = 119
	FuncReportDCAID          uint8 = 120
	FuncReportDCAStatus      uint8 = 121
	FuncReportLVDT           uint8 = 122

	// Exception replies echo the function code with the high bit set
	exceptionFlag uint8 = 0x80
)

// ExceptionCode is the single payload byte of an exception reply
type ExceptionCode uint8

// Exception code values
const (
	ExceptionIllegalFunction    ExceptionCode = 1
	ExceptionIllegalDataAddress ExceptionCode = 2
	ExceptionIllegalDataValue   ExceptionCode = 3
	ExceptionInvalidLength      ExceptionCode = 4
)

// Mode is the ILC operating mode
type Mode uint8

// ILC mode values
const (
	ModeStandby        Mode = 0
	ModeDisabled       Mode = 1
	ModeEnabled        Mode = 2
	ModeFirmwareUpdate Mode = 3
	ModeFault          Mode = 4
	ModeClearFaults    Mode = 5
)

// Reply wait timeouts written after every addressed frame
const (
	defaultRxTimeout      = 300 * time.Microsecond
	calibrationTimeout    = 2 * time.Millisecond
	modeChangeTimeout     = 335 * time.Microsecond
	firmwareEraseTimeout  = 500 * time.Millisecond
	firmwareVerifyTimeout = 50 * time.Millisecond
	resetTimeout          = 86 * time.Microsecond
	broadcastDelay        = 230 * time.Microsecond
)

// Force scaling: demands travel as int24 milli-newtons
const forceScale = 1000.0
