// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrCRCMismatch is returned by the decoder when a packet fails its CRC
	ErrCRCMismatch = errors.New("bridge: CRC mismatch")

	// ErrFraming is returned by the decoder on malformed framing
	ErrFraming = errors.New("bridge: framing error")

	// ErrTimeout is returned when no reply arrives in time
	ErrTimeout = errors.New("bridge: reply timeout")

	// ErrClosed is returned after the link is closed or failed
	ErrClosed = errors.New("bridge: link closed")

	// ErrUnexpectedReply is returned when a reply has the wrong type or payload
	ErrUnexpectedReply = errors.New("bridge: unexpected reply")

	// ErrRemote is returned when the bridge answers with an error reply
	ErrRemote = errors.New("bridge: remote error")
)

// LinkError records a failed bridge operation
type LinkError struct {
	Op  string // operation name, e.g. "write command fifo"
	Seq uint32
	Err error
}

// Error implements the error interface
func (e *LinkError) Error() string {
	return fmt.Sprintf("bridge %s (seq %d): %v", e.Op, e.Seq, e.Err)
}

// Unwrap returns the underlying error
func (e *LinkError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a reply timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
