// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ilcbus/pkg/bridge"
	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

var rawLogWords bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw bridge packet log in human-readable format",
	Long: `Continuously decode and display FPGA bridge packets as they arrive.

Each packet is shown with timestamp, message type, sequence number and
decoded payload. With --words, the response words of RESPONSE_DATA packets
are also decoded into bus frames.

This command only listens; it is meant for a tap on a link driven by
another process. Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogWords, "words", false, "Decode RESPONSE_DATA words into bus frames")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	link, connInfo, err := OpenLink()
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Printf("ilcbus - Raw Bridge Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := bridge.NewDecoder()
	buf := make([]byte, 256)

	for {
		n, err := link.Read(buf)

		packets, errs := decoder.Decode(buf[:n])
		for _, err := range errs {
			fmt.Printf("[ERROR] %v\n", err)
		}
		for _, packet := range packets {
			fmt.Print(bridge.FormatPacket(packet))
			if rawLogWords && packet.Type() == bridge.MsgResponseData {
				if words, ok := bridge.GetMapWords(packet.PayloadMap(), bridge.KeyWords); ok {
					fmt.Print(ilc.FormatResponseWords(words))
				}
			}
		}

		if err != nil {
			// Read errors on both link kinds are permanent
			if errors.Is(err, io.EOF) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Connection closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
	}
}
