// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	// Device table
	configPath string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Bus flags
	simulate     bool
	simFaultRate float64
	cycleTimeout time.Duration
	linkTimeout  time.Duration
	logLevel     string
	metricsAddr  string
)

var rootCmd = &cobra.Command{
	Use:   "ilcbus",
	Short: "Inner loop controller bus tool",
	Long: `ilcbus - Drive and diagnose the inner loop controller (ILC) Modbus subnets.

Bus lists are built from the device table, written to the FPGA command FIFOs,
triggered, and the replies parsed back into telemetry with per-subnet
statistics and fault tracking.

FPGA access:
  Simulator: --simulate
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

The device table is loaded from --config (YAML); without it the built-in
table is used.

For WebSocket authentication, the password is read from the ILCBUS_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Device table YAML file")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Bus flags
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Use the built-in FPGA simulator")
	rootCmd.PersistentFlags().Float64Var(&simFaultRate, "sim-fault-rate", 0, "Fraction of simulated replies dropped or corrupted (0-1)")
	rootCmd.PersistentFlags().DurationVar(&cycleTimeout, "timeout", 20*time.Millisecond, "Subnet interrupt timeout per cycle")
	rootCmd.PersistentFlags().DurationVar(&linkTimeout, "link-timeout", 250*time.Millisecond, "Round trip allowance per bridge request")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
