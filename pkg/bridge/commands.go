// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import "time"

// Command builder functions create Packet structs ready for encoding.
// Timeouts travel in microseconds.

func micros(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}

// NewWriteCommand creates a WRITE_COMMAND packet (0x10) carrying command FIFO words.
func NewWriteCommand(seq uint32, words []uint16, timeout time.Duration) *Packet {
	return NewPacketWithPayload(seq, MsgWriteCommand, map[int]interface{}{
		KeyWords:   PackWords(words),
		KeyTimeout: micros(timeout),
	})
}

// NewWriteRequest creates a WRITE_REQUEST packet (0x11) carrying request FIFO words.
func NewWriteRequest(seq uint32, words []uint16, timeout time.Duration) *Packet {
	return NewPacketWithPayload(seq, MsgWriteRequest, map[int]interface{}{
		KeyWords:   PackWords(words),
		KeyTimeout: micros(timeout),
	})
}

// NewReadResponse creates a READ_RESPONSE packet (0x12).
// The bridge replies with RESPONSE_DATA holding exactly count words.
func NewReadResponse(seq uint32, count int, timeout time.Duration) *Packet {
	return NewPacketWithPayload(seq, MsgReadResponse, map[int]interface{}{
		KeyCount:   uint64(count),
		KeyTimeout: micros(timeout),
	})
}

// NewWaitIRQ creates a WAIT_IRQ packet (0x13).
func NewWaitIRQ(seq uint32, subnet uint8, timeout time.Duration) *Packet {
	return NewPacketWithPayload(seq, MsgWaitIRQ, map[int]interface{}{
		KeySubnet:  uint64(subnet),
		KeyTimeout: micros(timeout),
	})
}

// NewAckIRQ creates an ACK_IRQ packet (0x14).
func NewAckIRQ(seq uint32, subnet uint8) *Packet {
	return NewPacketWithPayload(seq, MsgAckIRQ, map[int]interface{}{
		KeySubnet: uint64(subnet),
	})
}

// NewTrigger creates a TRIGGER packet (0x15).
func NewTrigger(seq uint32) *Packet {
	return NewPacketWithPayload(seq, MsgTrigger, nil)
}

// NewPingRequest creates a PING_REQUEST packet (0x1F).
// The bridge responds with PING_RESPONSE containing uptime.
func NewPingRequest(seq uint32) *Packet {
	return NewPacketWithPayload(seq, MsgPingRequest, nil)
}

// NewAck creates an ACK reply (0x30).
func NewAck(seq uint32) *Packet {
	return NewPacketWithPayload(seq, MsgAck, nil)
}

// NewResponseData creates a RESPONSE_DATA reply (0x32).
func NewResponseData(seq uint32, words []uint16) *Packet {
	return NewPacketWithPayload(seq, MsgResponseData, map[int]interface{}{
		KeyWords: PackWords(words),
	})
}

// NewWaitResult creates a WAIT_RESULT reply (0x33).
func NewWaitResult(seq uint32, result int) *Packet {
	return NewPacketWithPayload(seq, MsgWaitResult, map[int]interface{}{
		KeyResult: uint64(result),
	})
}

// NewPingResponse creates a PING_RESPONSE reply (0x3F).
func NewPingResponse(seq uint32, uptime time.Duration) *Packet {
	return NewPacketWithPayload(seq, MsgPingResponse, map[int]interface{}{
		KeyUptime: uint64(uptime / time.Millisecond),
	})
}

// NewErrorReply creates an error reply. msgType is MsgErrorInvalidCmd or MsgErrorFPGA.
func NewErrorReply(seq uint32, msgType uint8, message string) *Packet {
	return NewPacketWithPayload(seq, msgType, map[int]interface{}{
		KeyMessage: message,
	})
}
