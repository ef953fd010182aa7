// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"strings"
	"time"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.Timestamp().Format("15:04:05.000")
	msgType := FormatMessageType(p.Type())

	result := fmt.Sprintf("[%s] %s (0x%02X) seq=%d len=%d\n", timestamp, msgType, p.Type(), p.Sequence(), p.Length())
	if err := p.ParseError(); err != nil {
		return result + fmt.Sprintf("  (payload error: %v)\n", err)
	}
	return result + FormatPayloadMap(p.Type(), p.PayloadMap())
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	// Requests (0x10-0x1F)
	case MsgWriteCommand:
		return "WRITE_COMMAND"
	case MsgWriteRequest:
		return "WRITE_REQUEST"
	case MsgReadResponse:
		return "READ_RESPONSE"
	case MsgWaitIRQ:
		return "WAIT_IRQ"
	case MsgAckIRQ:
		return "ACK_IRQ"
	case MsgTrigger:
		return "TRIGGER"
	case MsgPingRequest:
		return "PING_REQUEST"

	// Replies (0x30-0x3F)
	case MsgAck:
		return "ACK"
	case MsgResponseData:
		return "RESPONSE_DATA"
	case MsgWaitResult:
		return "WAIT_RESULT"
	case MsgPingResponse:
		return "PING_RESPONSE"

	// Errors (0xE0-0xEF)
	case MsgErrorInvalidCmd:
		return "ERROR_INVALID_CMD"
	case MsgErrorFPGA:
		return "ERROR_FPGA"

	default:
		return "UNKNOWN"
	}
}

// FormatPayloadMap formats the CBOR payload map based on message type
func FormatPayloadMap(msgType uint8, m map[int]interface{}) string {
	switch msgType {
	case MsgTrigger, MsgPingRequest, MsgAck:
		return "  (no payload)\n"

	case MsgWriteCommand, MsgWriteRequest:
		words, _ := GetMapWords(m, KeyWords)
		timeout, _ := GetMapUint(m, KeyTimeout)
		return fmt.Sprintf("  Words: %d, Timeout: %d us\n%s", len(words), timeout, formatWords(words))

	case MsgReadResponse:
		count, _ := GetMapUint(m, KeyCount)
		timeout, _ := GetMapUint(m, KeyTimeout)
		return fmt.Sprintf("  Count: %d, Timeout: %d us\n", count, timeout)

	case MsgWaitIRQ:
		subnet, _ := GetMapUint(m, KeySubnet)
		timeout, _ := GetMapUint(m, KeyTimeout)
		return fmt.Sprintf("  Subnet: %d, Timeout: %d us\n", subnet, timeout)

	case MsgAckIRQ:
		subnet, _ := GetMapUint(m, KeySubnet)
		return fmt.Sprintf("  Subnet: %d\n", subnet)

	case MsgResponseData:
		words, _ := GetMapWords(m, KeyWords)
		return fmt.Sprintf("  Words: %d\n%s", len(words), formatWords(words))

	case MsgWaitResult:
		r, _ := GetMapUint(m, KeyResult)
		return fmt.Sprintf("  Result: %d\n", r)

	case MsgPingResponse:
		uptime, _ := GetMapUint(m, KeyUptime)
		return fmt.Sprintf("  Uptime: %s\n", time.Duration(uptime)*time.Millisecond)

	case MsgErrorInvalidCmd, MsgErrorFPGA:
		msg, _ := GetMapString(m, KeyMessage)
		return fmt.Sprintf("  Error: %s\n", msg)

	default:
		return fmt.Sprintf("  %v\n", m)
	}
}

// formatWords prints words eight per line
func formatWords(words []uint16) string {
	var sb strings.Builder
	for i, w := range words {
		if i%8 == 0 {
			sb.WriteString("   ")
		}
		fmt.Fprintf(&sb, " %04X", w)
		if i%8 == 7 || i == len(words)-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
