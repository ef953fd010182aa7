// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"fmt"
	"time"
)

// WaitResult is the outcome of waiting for a subnet interrupt
type WaitResult int

const (
	WaitCompleted WaitResult = iota
	WaitTimedOut
	WaitError
)

// String returns the result name
func (r WaitResult) String() string {
	switch r {
	case WaitCompleted:
		return "COMPLETED"
	case WaitTimedOut:
		return "TIMED_OUT"
	case WaitError:
		return "ERROR"
	default:
		return fmt.Sprintf("WAIT(%d)", int(r))
	}
}

// FPGA is the FIFO and interrupt interface of the bus-mediating hardware.
// Every call is bounded by its timeout.
type FPGA interface {
	// WriteCommandFIFO queues command words; the first word of a subnet
	// buffer is the subnet tx address, the second the word count
	WriteCommandFIFO(words []uint16, timeout time.Duration) error

	// WriteRequestFIFO queues requests; writing a subnet rx address makes
	// the FPGA stream that subnet's replies into the response FIFO
	WriteRequestFIFO(words []uint16, timeout time.Duration) error

	// ReadU16ResponseFIFO fills words from the response FIFO
	ReadU16ResponseFIFO(words []uint16, timeout time.Duration) error

	// WaitForModbusIRQ blocks until the subnet raised its interrupt or
	// timeout elapsed
	WaitForModbusIRQ(subnet uint8, timeout time.Duration) (WaitResult, error)

	// AckModbusIRQ clears the subnet interrupt
	AckModbusIRQ(subnet uint8) error

	// TriggerModbus pulses the bus trigger, starting every subnet waiting
	// for it
	TriggerModbus() error
}
