// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ilcbus/pkg/bridge"
	"github.com/Thermoquad/ilcbus/pkg/ilcsim"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the FPGA bridge by sending PING_REQUEST",
	Long: `Send PING_REQUEST packets to the FPGA bridge and wait for PING_RESPONSE.

The bridge answers pings itself without touching the bus, so this checks the
link alone:
  - Serial or WebSocket connection is established
  - HTTP Basic authentication works
  - The bridge is decoding packets
  - Bidirectional packet flow works

With --simulate the ping goes to an in-process bridge serving the simulator.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "ping-timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

// openPingClient opens a bridge client on the selected link
func openPingClient() (*bridge.Client, string, error) {
	logger := newLogger(os.Stderr)
	if !simulate {
		link, connInfo, err := OpenLink()
		if err != nil {
			return nil, "", err
		}
		return bridge.NewClient(link, bridge.WithLogger(logger)), connInfo, nil
	}

	dm, _, err := loadDeviceMap()
	if err != nil {
		return nil, "", err
	}
	local, remote := net.Pipe()
	server := bridge.NewServer(ilcsim.New(dm), bridge.WithLogger(logger))
	go server.Serve(remote)
	return bridge.NewClient(local, bridge.WithLogger(logger)), "Simulator (in-process bridge)", nil
}

func runPing(cmd *cobra.Command, args []string) error {
	client, connInfo, err := openPingClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer client.Close()

	fmt.Printf("ilcbus - Bridge Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		uptime, rtt, err := client.Ping(time.Duration(pingTimeout) * time.Second)
		switch {
		case err == nil:
			fmt.Printf("PONG from bridge, uptime=%s, rtt=%v\n", formatUptime(uptime), rtt.Round(time.Microsecond))
			successCount++
		case bridge.IsTimeout(err):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	fmt.Print(client.Statistics().String())

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
