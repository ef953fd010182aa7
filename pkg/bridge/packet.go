// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import "time"

// Packet is one bridge message, either decoded from the link or built
// locally for sending
type Packet struct {
	sequence uint32
	msgType  uint8
	fields   map[int]interface{}

	// Set on decoded packets only
	body     []byte
	crc      uint16
	received time.Time
	err      error
}

// NewPacket wraps a CRC-checked body taken off the link and decodes its
// CBOR message. A body that does not decode still yields a packet; the
// failure is kept in ParseError so the sequence number can be answered.
func NewPacket(sequence uint32, body []byte, crc uint16) *Packet {
	p := &Packet{
		sequence: sequence,
		body:     body,
		crc:      crc,
		received: time.Now(),
	}
	if len(body) > 0 {
		p.msgType, p.fields, p.err = ParseCBORMessage(body)
	}
	return p
}

// NewPacketWithPayload builds an outgoing packet. The CBOR encoding and
// CRC are computed by EncodePacket.
func NewPacketWithPayload(sequence uint32, msgType uint8, payload map[int]interface{}) *Packet {
	return &Packet{
		sequence: sequence,
		msgType:  msgType,
		fields:   payload,
		received: time.Now(),
	}
}

// Length returns the size of the CBOR body on the wire
func (p *Packet) Length() uint16 { return uint16(len(p.body)) }

// Sequence returns the sequence number pairing a reply with its request
func (p *Packet) Sequence() uint32 { return p.sequence }

// Type returns the message type
func (p *Packet) Type() uint8 { return p.msgType }

// Payload returns the raw CBOR body
func (p *Packet) Payload() []byte { return p.body }

// PayloadMap returns the message fields (nil for empty payloads)
func (p *Packet) PayloadMap() map[int]interface{} { return p.fields }

// ParseError returns the CBOR decoding failure of a received packet
func (p *Packet) ParseError() error { return p.err }

// CRC returns the checksum carried by a received packet
func (p *Packet) CRC() uint16 { return p.crc }

// Timestamp returns when the packet was decoded or built
func (p *Packet) Timestamp() time.Time { return p.received }

// IsError reports whether the packet is an error reply
func (p *Packet) IsError() bool {
	return p.msgType&0xF0 == MsgErrorInvalidCmd&0xF0
}
