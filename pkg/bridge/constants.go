// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge carries FPGA FIFO and interrupt operations over a byte
// stream to a remote bus controller.
//
// Each operation travels as one framed packet: START, a stuffed body of
// length, sequence number, CBOR payload [msg_type, payload_map] and a
// CRC-16-CCITT, then END. Replies echo the request sequence number.
package bridge

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Packet size limits
const (
	LengthSize     = 2
	SequenceSize   = 4
	CRCSize        = 2
	MaxPayloadSize = 20480 // a full 8192 word subnet buffer packs into 16 KiB
	MaxPacketSize  = LengthSize + SequenceSize + MaxPayloadSize + CRCSize
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Message types - FIFO and interrupt requests (host → bridge) 0x10-0x1F
const (
	MsgWriteCommand = 0x10
	MsgWriteRequest = 0x11
	MsgReadResponse = 0x12
	MsgWaitIRQ      = 0x13
	MsgAckIRQ       = 0x14
	MsgTrigger      = 0x15
	MsgPingRequest  = 0x1F
)

// Message types - Replies (bridge → host) 0x30-0x3F
const (
	MsgAck          = 0x30
	MsgResponseData = 0x32
	MsgWaitResult   = 0x33
	MsgPingResponse = 0x3F
)

// Message types - Errors (bridge → host) 0xE0-0xEF
const (
	MsgErrorInvalidCmd = 0xE0
	MsgErrorFPGA       = 0xE1
)

// Payload map keys
const (
	KeyWords     = 0 // packed big-endian uint16 words
	KeyTimeout   = 1 // microseconds
	KeySubnet    = 2
	KeyCount     = 3
	KeyResult    = 4
	KeyMessage   = 5
	KeyUptime    = 6 // milliseconds
	KeyErrorCode = 7
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateSequence
	statePayload
	stateCRC1
	stateCRC2
)
