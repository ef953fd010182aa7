// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// EncodePacketFromValues builds the wire form of a packet: START, the
// stuffed header, body and CRC, then END.
func EncodePacketFromValues(sequence uint32, msgType uint8, payloadMap map[int]interface{}) ([]byte, error) {
	body, err := encodeCBORPayload(msgType, payloadMap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("CBOR payload too large: %d bytes (max %d)", len(body), MaxPayloadSize)
	}

	// The CRC covers length, sequence and body
	unstuffed := make([]byte, 0, LengthSize+SequenceSize+len(body)+CRCSize)
	unstuffed = binary.BigEndian.AppendUint16(unstuffed, uint16(len(body)))
	unstuffed = binary.LittleEndian.AppendUint32(unstuffed, sequence)
	unstuffed = append(unstuffed, body...)
	unstuffed = binary.BigEndian.AppendUint16(unstuffed, CalculateCRC(unstuffed))

	out := make([]byte, 0, len(unstuffed)+len(unstuffed)/8+2)
	out = append(out, StartByte)
	out = appendStuffed(out, unstuffed)
	return append(out, EndByte), nil
}

// EncodePacket encodes a packet built with NewPacketWithPayload
func EncodePacket(p *Packet) ([]byte, error) {
	return EncodePacketFromValues(p.Sequence(), p.Type(), p.PayloadMap())
}

// needsEscape reports whether b collides with a framing byte
func needsEscape(b byte) bool {
	return b == StartByte || b == EndByte || b == EscByte
}

// appendStuffed appends data to dst with every framing byte replaced by
// ESC, byte^EscXor
func appendStuffed(dst, data []byte) []byte {
	for _, b := range data {
		if needsEscape(b) {
			dst = append(dst, EscByte, b^EscXor)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// stuffBytes returns a stuffed copy of data
func stuffBytes(data []byte) []byte {
	return appendStuffed(make([]byte, 0, len(data)), data)
}

// UnstuffBytes reverses stuffBytes
func UnstuffBytes(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b != EscByte {
			out = append(out, b)
			continue
		}
		i++
		if i == len(data) {
			return nil, errors.New("incomplete escape sequence at end of data")
		}
		out = append(out, data[i]^EscXor)
	}
	return out, nil
}

// PackWords packs FIFO words big-endian into a byte string
func PackWords(words []uint16) []byte {
	b := make([]byte, 0, 2*len(words))
	for _, w := range words {
		b = binary.BigEndian.AppendUint16(b, w)
	}
	return b
}

// UnpackWords is the inverse of PackWords
func UnpackWords(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("odd word payload length: %d", len(b))
	}
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return words, nil
}
