// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// ilcbus - Inner Loop Controller Bus Tool
//
// A CLI tool for driving the ILC Modbus subnets through the FPGA and
// monitoring their replies.

package main

import (
	"os"

	"github.com/Thermoquad/ilcbus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
