// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import "errors"

var (
	// ErrInvalidState is returned when a cycle step is called out of order
	ErrInvalidState = errors.New("ilc: invalid cycle state")

	// ErrUnknownSubnet is returned for a subnet outside 1..5
	ErrUnknownSubnet = errors.New("ilc: unknown subnet")

	// ErrFPGA wraps failures reported by the FPGA boundary
	ErrFPGA = errors.New("ilc: fpga")
)
