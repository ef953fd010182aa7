// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ilcbus/pkg/bridge"
)

var (
	packetTestWait    int
	packetTestPassive bool
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid bridge packet",
	Long: `Wait for a valid bridge packet on the link until timeout.

A ping request is written first so an idle bridge has something to answer;
--passive skips it for taps on a link driven by another process. Invalid
bytes are skipped until a complete packet passes its CRC check.

Exit codes:
  0 - Packet received before timeout
  1 - Timeout reached without receiving a valid packet
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestWait, "wait", 10, "Seconds to wait for a packet")
	packetTestCmd.Flags().BoolVar(&packetTestPassive, "passive", false, "Only listen, do not send a ping request")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	link, connInfo, err := OpenLink()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer link.Close()

	fmt.Printf("ilcbus - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestWait)

	if !packetTestPassive {
		data, err := bridge.EncodePacket(bridge.NewPingRequest(1))
		if err != nil {
			return err
		}
		if _, err := link.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
	}
	fmt.Printf("Waiting for valid bridge packet...\n\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(packetTestWait)*time.Second)
	defer cancel()

	packet, skipped, err := waitForPacket(ctx, link)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid packet received within %d seconds\n", packetTestWait)
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	}

	if skipped > 0 {
		fmt.Printf("(skipped %d invalid bytes before sync)\n", skipped)
	}
	fmt.Printf("SUCCESS: Received valid packet\n")
	fmt.Printf("  Type: %s (0x%02X)\n", bridge.FormatMessageType(packet.Type()), packet.Type())
	fmt.Printf("  Sequence: %d\n", packet.Sequence())
	fmt.Printf("  Length: %d bytes\n", packet.Length())
	fmt.Printf("  CRC: 0x%04X\n", packet.CRC())
	return nil
}

// waitForPacket reads r until one packet passes its CRC check or ctx ends.
// skipped counts the bytes rejected by the decoder on the way.
func waitForPacket(ctx context.Context, r io.Reader) (packet *bridge.Packet, skipped int, err error) {
	type result struct {
		packet  *bridge.Packet
		skipped int
		err     error
	}
	done := make(chan result, 1)

	go func() {
		decoder := bridge.NewDecoder()
		buf := make([]byte, 128)
		invalid := 0
		for {
			n, err := r.Read(buf)
			for _, b := range buf[:n] {
				p, derr := decoder.DecodeByte(b)
				switch {
				case derr != nil:
					invalid++
				case p != nil:
					done <- result{packet: p, skipped: invalid}
					return
				}
			}
			if err != nil {
				done <- result{err: err}
				return
			}
		}
	}()

	select {
	case res := <-done:
		return res.packet, res.skipped, res.err
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}
