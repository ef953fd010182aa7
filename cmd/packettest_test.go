// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ilcbus/pkg/bridge"
)

func TestWaitForPacket_SkipsGarbage(t *testing.T) {
	ping, err := bridge.EncodePacket(bridge.NewPingRequest(42))
	require.NoError(t, err)

	// A truncated packet is one decode error
	stream := append([]byte{0x01, bridge.StartByte, 0x00, bridge.EndByte}, ping...)

	p, skipped, err := waitForPacket(context.Background(), bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, uint8(bridge.MsgPingRequest), p.Type())
	assert.Equal(t, uint32(42), p.Sequence())
}

func TestWaitForPacket_Timeout(t *testing.T) {
	quiet, other := net.Pipe()
	t.Cleanup(func() {
		quiet.Close()
		other.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := waitForPacket(ctx, quiet)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForPacket_ReadError(t *testing.T) {
	_, _, err := waitForPacket(context.Background(), bytes.NewReader([]byte{0x01, 0x02}))
	assert.Error(t, err)
}
