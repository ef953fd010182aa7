// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilcsim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

func newSim(t *testing.T) (*Simulator, *ilc.DeviceMap) {
	t.Helper()
	dm, err := ilc.DefaultDeviceTable().DeviceMap()
	require.NoError(t, err)
	return New(dm), dm
}

// request encodes an immediate subnet buffer holding one frame
func request(subnet uint8, frame []byte) []uint16 {
	words := []uint16{ilc.SubnetTxAddress(subnet), 0}
	for _, b := range ilc.AppendCRC(frame) {
		words = append(words, ilc.EncodeTxByte(b))
	}
	words = append(words, 0x20DA, 0x7000)
	words[1] = uint16(len(words) - 2)
	return words
}

// collect reads the replies of a subnet from the response FIFO
func collect(t *testing.T, s *Simulator, subnet uint8) []uint16 {
	t.Helper()
	require.NoError(t, s.WriteRequestFIFO([]uint16{ilc.SubnetRxAddress(subnet)}, time.Millisecond))
	var n [1]uint16
	require.NoError(t, s.ReadU16ResponseFIFO(n[:], time.Millisecond))
	words := make([]uint16, n[0])
	require.NoError(t, s.ReadU16ResponseFIFO(words, time.Millisecond))
	return words
}

// replyFrames decodes the data frames of a response stream
func replyFrames(words []uint16) [][]byte {
	var frames [][]byte
	var cur []byte
	for _, w := range words {
		switch ilc.ClassifyResponseWord(w) {
		case ilc.WordRxByte:
			cur = append(cur, ilc.DecodeByte(w))
		case ilc.WordRxEndOfFrame:
			if len(cur) > 0 {
				frames = append(frames, cur)
			}
			cur = nil
		}
	}
	return frames
}

func TestSimulator_ImmediateBuffer(t *testing.T) {
	s, _ := newSim(t)

	require.NoError(t, s.WriteCommandFIFO(request(1, []byte{10, ilc.FuncServerStatus}), time.Millisecond))

	res, err := s.WaitForModbusIRQ(1, 0)
	require.NoError(t, err)
	assert.Equal(t, ilc.WaitCompleted, res)

	frames := replyFrames(collect(t, s, 1))
	require.Len(t, frames, 1)
	assert.True(t, ilc.CheckCRC(frames[0]))
	assert.Equal(t, []byte{10, ilc.FuncServerStatus, 0, 0, 0, 0, 0}, frames[0][:7])
	assert.Equal(t, uint64(1), s.Device(1, 10).Requests)
}

func TestSimulator_HeldUntilTrigger(t *testing.T) {
	s, dm := newSim(t)
	l := ilc.NewBusList(ilc.ListFreezeSensor, ilc.DefaultCapacity)
	l.Build(dm, nil)

	require.NoError(t, s.WriteCommandFIFO(l.Words(1), time.Millisecond))
	res, err := s.WaitForModbusIRQ(1, 0)
	require.NoError(t, err)
	assert.Equal(t, ilc.WaitTimedOut, res, "list must wait for the trigger")
	assert.Empty(t, collect(t, s, 1))

	require.NoError(t, s.TriggerModbus())
	res, err = s.WaitForModbusIRQ(1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ilc.WaitCompleted, res)

	words := collect(t, s, 1)
	// start marker, then 76 x2 and 18
	assert.Len(t, replyFrames(words), 3)
	assert.Equal(t, uint8(0), s.Device(1, 10).Frozen)
}

func TestSimulator_Hooks(t *testing.T) {
	s, _ := newSim(t)
	s.Drop = func(subnet, address, fn uint8) bool { return address == 11 }
	s.Corrupt = func(subnet, address, fn uint8) bool { return fn == ilc.FuncServerID }
	s.Exception = func(subnet, address, fn uint8) (ilc.ExceptionCode, bool) {
		return ilc.ExceptionIllegalDataAddress, fn == ilc.FuncReadPressure
	}

	require.NoError(t, s.WriteCommandFIFO(request(1, []byte{11, ilc.FuncServerStatus}), 0))
	require.NoError(t, s.WriteCommandFIFO(request(1, []byte{10, ilc.FuncServerID}), 0))
	require.NoError(t, s.WriteCommandFIFO(request(1, []byte{10, ilc.FuncReadPressure}), 0))

	frames := replyFrames(collect(t, s, 1))
	require.Len(t, frames, 2)
	assert.False(t, ilc.CheckCRC(frames[0]), "server ID reply should be corrupted")
	assert.Equal(t, []byte{10, ilc.FuncReadPressure | 0x80, 2}, frames[1][:3])
}

func TestSimulator_IgnoresBadRequests(t *testing.T) {
	s, _ := newSim(t)

	bad := request(1, []byte{10, ilc.FuncServerStatus})
	bad[3] ^= 0x0002 // flip a data bit, CRC no longer matches
	require.NoError(t, s.WriteCommandFIFO(bad, 0))
	require.NoError(t, s.WriteCommandFIFO(request(1, []byte{99, ilc.FuncServerStatus}), 0))

	assert.Empty(t, replyFrames(collect(t, s, 1)))
	assert.Zero(t, s.Device(1, 10).Requests)
}

func TestSimulator_DeviceExceptions(t *testing.T) {
	s, _ := newSim(t)

	// Hardpoint monitors have no force demand
	require.NoError(t, s.WriteCommandFIFO(request(5, []byte{84, ilc.FuncSetForceDemand, 0, 0, 0}), 0))
	// Wrong payload for a single axis actuator
	require.NoError(t, s.WriteCommandFIFO(request(1, []byte{10, ilc.FuncSetForceDemand, 0}), 0))

	hm := replyFrames(collect(t, s, 5))
	require.Len(t, hm, 1)
	assert.Equal(t, []byte{84, ilc.FuncSetForceDemand | 0x80, byte(ilc.ExceptionIllegalFunction)}, hm[0][:3])

	fa := replyFrames(collect(t, s, 1))
	require.Len(t, fa, 1)
	assert.Equal(t, byte(ilc.ExceptionInvalidLength), fa[0][2])
}

func TestSimulator_ChangeMode(t *testing.T) {
	s, _ := newSim(t)
	d := s.Device(2, 10)
	d.Faults = 0x10

	require.NoError(t, s.WriteCommandFIFO(request(2, []byte{10, ilc.FuncChangeMode, 0, byte(ilc.ModeClearFaults)}), 0))
	assert.Zero(t, d.Faults)
	assert.Equal(t, ilc.ModeStandby, d.Mode)

	require.NoError(t, s.WriteCommandFIFO(request(2, []byte{10, ilc.FuncChangeMode, 0, 9}), 0))
	frames := replyFrames(collect(t, s, 2))
	require.Len(t, frames, 2)
	assert.Equal(t, byte(ilc.ExceptionIllegalDataValue), frames[1][2])
}

func TestSimulator_Errors(t *testing.T) {
	s, _ := newSim(t)

	err := s.WriteCommandFIFO([]uint16{42, 0}, 0)
	assert.ErrorIs(t, err, ErrUnknownFIFOAddress)

	err = s.WriteCommandFIFO([]uint16{ilc.SubnetTxAddress(1), 5, 0x7000}, 0)
	assert.ErrorIs(t, err, ErrTruncatedBuffer)

	err = s.WriteRequestFIFO([]uint16{ilc.SubnetTxAddress(1)}, 0)
	assert.ErrorIs(t, err, ErrUnknownFIFOAddress)

	err = s.ReadU16ResponseFIFO(make([]uint16, 3), 0)
	assert.ErrorIs(t, err, ErrResponseUnderflow)

	_, err = s.WaitForModbusIRQ(0, 0)
	assert.ErrorIs(t, err, ilc.ErrUnknownSubnet)
	assert.ErrorIs(t, s.AckModbusIRQ(6), ilc.ErrUnknownSubnet)
}

func TestSimulator_WaitTimesOut(t *testing.T) {
	s, _ := newSim(t)
	start := time.Now()
	res, err := s.WaitForModbusIRQ(4, 15*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ilc.WaitTimedOut, res)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestSimulator_InjectResponse(t *testing.T) {
	s, _ := newSim(t)
	s.InjectResponse(3, 1, 2, 3)
	assert.Equal(t, []uint16{1, 2, 3}, collect(t, s, 3))
	assert.Empty(t, collect(t, s, 3))
}
