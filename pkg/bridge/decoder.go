// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import "fmt"

// Decoder implements the bridge packet decoder state machine
type Decoder struct {
	state       int
	buffer      []byte
	bufferIndex int
	escapeNext  bool
	fieldBytes  int // bytes consumed of the current multi-byte field
	rawBuffer   []byte // Accumulate raw bytes including framing

	// Header of the packet in progress
	length   uint16
	sequence uint32
	crc      uint16
}

// NewDecoder creates a new protocol decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxPacketSize),
		rawBuffer: make([]byte, 0, 256),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.fieldBytes = 0
	d.escapeNext = false
	d.length = 0
	d.sequence = 0
	d.crc = 0
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the accumulated raw bytes since the last packet
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// Decode feeds a chunk of bytes through the decoder and returns every
// completed packet. Decode errors are collected and decoding continues
// with the next byte.
func (d *Decoder) Decode(data []byte) ([]*Packet, []error) {
	var packets []*Packet
	var errs []error
	for _, b := range data {
		p, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if p != nil {
			packets = append(packets, p)
		}
	}
	return packets, errs
}

// DecodeByte processes a single byte through the decoder state machine
// Returns a completed packet, or nil if the packet is incomplete
// Returns an error if decoding fails
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	// Framing bytes are never stuffed, so they act even after ESC
	if b == StartByte {
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateLength
		return nil, nil
	}

	if b == EndByte {
		if d.state == stateCRC2 && d.fieldBytes == CRCSize && !d.escapeNext {
			calculatedCRC := CalculateCRC(d.buffer[:d.bufferIndex])
			if d.crc != calculatedCRC {
				received := d.crc
				d.Reset()
				return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculatedCRC, received)
			}

			body := append([]byte(nil), d.buffer[LengthSize+SequenceSize:d.bufferIndex]...)
			packet := NewPacket(d.sequence, body, d.crc)
			d.Reset()
			return packet, nil
		}
		state := d.state
		d.Reset()
		if state == stateIdle {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: unexpected END byte in state %d", ErrFraming, state)
	}

	if d.state == stateIdle {
		return nil, nil
	}

	if b == EscByte && !d.escapeNext {
		d.escapeNext = true
		return nil, nil
	}
	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateLength:
		d.length = d.length<<8 | uint16(b)
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		d.fieldBytes++
		if d.fieldBytes < LengthSize {
			return nil, nil
		}
		if d.length > MaxPayloadSize {
			length := d.length
			d.Reset()
			return nil, fmt.Errorf("%w: invalid length %d (max %d)", ErrFraming, length, MaxPayloadSize)
		}
		d.fieldBytes = 0
		d.state = stateSequence
		return nil, nil

	case stateSequence:
		// little-endian
		d.sequence |= uint32(b) << (d.fieldBytes * 8)
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		d.fieldBytes++
		if d.fieldBytes < SequenceSize {
			return nil, nil
		}
		d.fieldBytes = 0
		if d.length == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		if d.bufferIndex-LengthSize-SequenceSize >= int(d.length) {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.fieldBytes = 1
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		if d.fieldBytes >= CRCSize {
			d.Reset()
			return nil, fmt.Errorf("%w: missing END byte", ErrFraming)
		}
		d.crc |= uint16(b)
		d.fieldBytes++
		return nil, nil

	default:
		state := d.state
		d.Reset()
		return nil, fmt.Errorf("%w: invalid state %d", ErrFraming, state)
	}
}
