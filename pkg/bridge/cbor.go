// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// message is the CBOR body of every packet: [msg_type, payload_map]
type message struct {
	_      struct{} `cbor:",toarray"`
	Type   uint8
	Fields map[int]interface{}
}

// ParseCBORMessage decodes a packet body. The payload map is nil when the
// message carries no fields.
func ParseCBORMessage(data []byte) (msgType uint8, payload map[int]interface{}, err error) {
	if len(data) == 0 {
		return 0, nil, errors.New("empty CBOR payload")
	}

	var msg message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR message: %w", err)
	}
	if len(msg.Fields) == 0 {
		return msg.Type, nil, nil
	}
	return msg.Type, msg.Fields, nil
}

// encodeCBORPayload is the inverse of ParseCBORMessage. An empty payload
// is sent as null.
func encodeCBORPayload(msgType uint8, payload map[int]interface{}) ([]byte, error) {
	msg := message{Type: msgType}
	if len(payload) > 0 {
		msg.Fields = payload
	}
	return cbor.Marshal(&msg)
}

// field returns m[key] if it holds a T
func field[T any](m map[int]interface{}, key int) (T, bool) {
	v, ok := m[key].(T)
	return v, ok
}

// GetMapUint extracts a non-negative integer
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	if v, ok := field[uint64](m, key); ok {
		return v, true
	}
	if v, ok := field[int64](m, key); ok && v >= 0 {
		return uint64(v), true
	}
	return 0, false
}

// GetMapInt extracts a signed integer
func GetMapInt(m map[int]interface{}, key int) (int64, bool) {
	if v, ok := field[int64](m, key); ok {
		return v, true
	}
	if v, ok := field[uint64](m, key); ok {
		return int64(v), true
	}
	return 0, false
}

// GetMapBytes extracts a byte string
func GetMapBytes(m map[int]interface{}, key int) ([]byte, bool) {
	return field[[]byte](m, key)
}

// GetMapString extracts a text string
func GetMapString(m map[int]interface{}, key int) (string, bool) {
	return field[string](m, key)
}

// GetMapWords extracts packed FIFO words
func GetMapWords(m map[int]interface{}, key int) ([]uint16, bool) {
	b, ok := GetMapBytes(m, key)
	if !ok {
		return nil, false
	}
	words, err := UnpackWords(b)
	return words, err == nil
}
