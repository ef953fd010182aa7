// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"fmt"
	"math"
	"time"
)

// FrameBuffer holds FPGA FIFO words with independent read/write cursor,
// running CRC and the control instructions understood by the FPGA.
//
// Every payload byte occupies one 16-bit word. Command buffers encode a byte
// as cmdWrite | stop bit | byte<<1 (bit 0 is the UART start bit and stays 0);
// response buffers carry the same shifted byte with a zero command nibble.
// Writing at a cursor that is not at the end rewrites the word in place, so a
// caller can seek back to a recorded index and patch a field.
type FrameBuffer struct {
	words      []uint16
	index      int
	length     int
	capacity   int
	frameStart int
	crc        uint16
}

// NewFrameBuffer creates an empty command buffer with the given capacity in words
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &FrameBuffer{
		words:    make([]uint16, 0, capacity),
		capacity: capacity,
		crc:      crcInitial,
	}
}

// NewResponseBuffer wraps words read from the response FIFO for reading
func NewResponseBuffer(words []uint16) *FrameBuffer {
	return &FrameBuffer{
		words:    words,
		length:   len(words),
		capacity: len(words),
		crc:      crcInitial,
	}
}

// Reset clears the buffer for a new build
func (b *FrameBuffer) Reset() {
	b.words = b.words[:0]
	b.index = 0
	b.length = 0
	b.frameStart = 0
	b.crc = crcInitial
}

// Index returns the cursor position (in words)
func (b *FrameBuffer) Index() int {
	return b.index
}

// SetIndex moves the cursor
func (b *FrameBuffer) SetIndex(index int) {
	if index < 0 || index > len(b.words) {
		panic(fmt.Sprintf("ilc: buffer index %d out of range [0, %d]", index, len(b.words)))
	}
	b.index = index
}

// Length returns the recorded buffer length (in words)
func (b *FrameBuffer) Length() int {
	return b.length
}

// SetLength records the number of valid words
func (b *FrameBuffer) SetLength(length int) {
	if length < 0 || length > len(b.words) {
		panic(fmt.Sprintf("ilc: buffer length %d out of range [0, %d]", length, len(b.words)))
	}
	b.length = length
}

// Words returns the valid words (up to the recorded length)
func (b *FrameBuffer) Words() []uint16 {
	return b.words[:b.length]
}

// EndOfBuffer returns true when the cursor reached the recorded length
func (b *FrameBuffer) EndOfBuffer() bool {
	return b.index >= b.length
}

// writeWord stores a raw word at the cursor and advances it
func (b *FrameBuffer) writeWord(w uint16) {
	switch {
	case b.index < len(b.words):
		b.words[b.index] = w
	case b.index >= b.capacity:
		panic(fmt.Sprintf("ilc: buffer overflow (capacity %d words)", b.capacity))
	default:
		b.words = append(b.words, w)
	}
	b.index++
}

// WriteRaw appends an unencoded word (FIFO address, length header)
func (b *FrameBuffer) WriteRaw(w uint16) {
	b.writeWord(w)
}

// MarkStartOfFrame restarts the running CRC at the cursor
func (b *FrameBuffer) MarkStartOfFrame() {
	b.frameStart = b.index
	b.crc = crcInitial
}

// FrameStart returns the index recorded by the last MarkStartOfFrame
func (b *FrameBuffer) FrameStart() int {
	return b.frameStart
}

// MarkEndOfFrame appends the frame CRC (low byte first) and the end of frame
// instruction
func (b *FrameBuffer) MarkEndOfFrame() {
	crc := b.crc
	b.writeWord(encodeTxByte(byte(crc)))
	b.writeWord(encodeTxByte(byte(crc >> 8)))
	b.writeWord(cmdEndOfFrame)
}

// RewriteCRC recomputes the CRC of a frame of dataBytes bytes starting at
// frameStart and stores it in the two words following the data. The cursor
// is left untouched.
func (b *FrameBuffer) RewriteCRC(frameStart, dataBytes int) {
	end := frameStart + dataBytes
	if frameStart < 0 || end+2 > len(b.words) {
		panic(fmt.Sprintf("ilc: frame [%d, %d) out of buffer", frameStart, end+2))
	}
	crc := uint16(crcInitial)
	for _, w := range b.words[frameStart:end] {
		crc = crcUpdate(crc, decodeByte(w))
	}
	b.words[end] = encodeTxByte(byte(crc))
	b.words[end+1] = encodeTxByte(byte(crc >> 8))
}

// WriteU8 writes one payload byte
func (b *FrameBuffer) WriteU8(v uint8) {
	b.crc = crcUpdate(b.crc, v)
	b.writeWord(encodeTxByte(v))
}

// WriteU16 writes a big-endian uint16
func (b *FrameBuffer) WriteU16(v uint16) {
	b.WriteU8(uint8(v >> 8))
	b.WriteU8(uint8(v))
}

// WriteI24 writes a big-endian signed 24-bit value
func (b *FrameBuffer) WriteI24(v int32) {
	b.WriteU24(uint32(v))
}

// WriteU24 writes the low 24 bits of v, big-endian
func (b *FrameBuffer) WriteU24(v uint32) {
	b.WriteU8(uint8(v >> 16))
	b.WriteU8(uint8(v >> 8))
	b.WriteU8(uint8(v))
}

// WriteU32 writes a big-endian uint32
func (b *FrameBuffer) WriteU32(v uint32) {
	b.WriteU8(uint8(v >> 24))
	b.WriteU8(uint8(v >> 16))
	b.WriteU8(uint8(v >> 8))
	b.WriteU8(uint8(v))
}

// WriteI32 writes a big-endian int32
func (b *FrameBuffer) WriteI32(v int32) {
	b.WriteU32(uint32(v))
}

// WriteU48 writes the low 48 bits of v, big-endian
func (b *FrameBuffer) WriteU48(v uint64) {
	for shift := 40; shift >= 0; shift -= 8 {
		b.WriteU8(uint8(v >> uint(shift)))
	}
}

// WriteFloat writes an IEEE-754 float32, big-endian
func (b *FrameBuffer) WriteFloat(v float32) {
	b.WriteU32(math.Float32bits(v))
}

// WriteString writes the bytes of s
func (b *FrameBuffer) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		b.WriteU8(s[i])
	}
}

// WriteDelay inserts a bus pause. Pauses above 4095 us switch to the
// millisecond instruction.
func (b *FrameBuffer) WriteDelay(d time.Duration) {
	us := d.Microseconds()
	if us <= cmdMaxArgument {
		b.writeWord(cmdDelay | uint16(us))
		return
	}
	b.writeWord(cmdLongDelay | uint16(clampArgument(ceilMillis(d))))
}

// WriteLongDelay inserts a bus pause of ms milliseconds
func (b *FrameBuffer) WriteLongDelay(ms uint16) {
	b.writeWord(cmdLongDelay | ms&cmdArgumentMask)
}

// WriteWaitForRx makes the FPGA wait for a reply up to timeout
func (b *FrameBuffer) WriteWaitForRx(timeout time.Duration) {
	us := timeout.Microseconds()
	if us <= cmdMaxArgument {
		b.writeWord(cmdWaitForRx | uint16(us))
		return
	}
	b.writeWord(cmdWaitForLongRx | uint16(clampArgument(ceilMillis(timeout))))
}

// WriteWaitForLongRx makes the FPGA wait up to ms milliseconds for a reply
func (b *FrameBuffer) WriteWaitForLongRx(ms uint16) {
	b.writeWord(cmdWaitForLongRx | ms&cmdArgumentMask)
}

// WriteTimestamp asks the FPGA to insert a timestamp into the response stream
func (b *FrameBuffer) WriteTimestamp() {
	b.writeWord(cmdTxTimestamp)
}

// WriteTriggerIRQ raises the subnet interrupt once the FPGA reaches it
func (b *FrameBuffer) WriteTriggerIRQ() {
	b.writeWord(cmdTriggerIRQ)
}

// WriteWaitForTrigger holds the subnet until the bus trigger fires
func (b *FrameBuffer) WriteWaitForTrigger() {
	b.writeWord(cmdWaitForTrigger)
}

func ceilMillis(d time.Duration) int64 {
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

func clampArgument(v int64) int64 {
	if v > cmdMaxArgument {
		return cmdMaxArgument
	}
	return v
}

// ReadRaw returns the word at the cursor without decoding it
func (b *FrameBuffer) ReadRaw() uint16 {
	if b.index >= b.length {
		return 0
	}
	w := b.words[b.index]
	b.index++
	return w
}

// PeekRaw returns the word at the cursor without advancing
func (b *FrameBuffer) PeekRaw() (uint16, bool) {
	if b.index >= b.length {
		return 0, false
	}
	return b.words[b.index], true
}

// ReadU8 reads one payload byte. Reads past the recorded length return 0.
func (b *FrameBuffer) ReadU8() uint8 {
	return decodeByte(b.ReadRaw())
}

// ReadU16 reads a big-endian uint16
func (b *FrameBuffer) ReadU16() uint16 {
	return uint16(b.ReadU8())<<8 | uint16(b.ReadU8())
}

// ReadI24 reads a big-endian signed 24-bit value
func (b *FrameBuffer) ReadI24() int32 {
	u := b.ReadU24()
	if u&0x800000 != 0 {
		u |= 0xFF000000
	}
	return int32(u)
}

// ReadU24 reads a big-endian unsigned 24-bit value
func (b *FrameBuffer) ReadU24() uint32 {
	return uint32(b.ReadU8())<<16 | uint32(b.ReadU8())<<8 | uint32(b.ReadU8())
}

// ReadU32 reads a big-endian uint32
func (b *FrameBuffer) ReadU32() uint32 {
	return uint32(b.ReadU8())<<24 | uint32(b.ReadU8())<<16 | uint32(b.ReadU8())<<8 | uint32(b.ReadU8())
}

// ReadI32 reads a big-endian int32
func (b *FrameBuffer) ReadI32() int32 {
	return int32(b.ReadU32())
}

// ReadU48 reads a big-endian 48-bit value
func (b *FrameBuffer) ReadU48() uint64 {
	var v uint64
	for i := 0; i < 6; i++ {
		v = v<<8 | uint64(b.ReadU8())
	}
	return v
}

// ReadFloat reads a big-endian IEEE-754 float32
func (b *FrameBuffer) ReadFloat() float32 {
	return math.Float32frombits(b.ReadU32())
}

// ReadString reads n payload bytes as a string
func (b *FrameBuffer) ReadString(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b.ReadU8()
	}
	return string(buf)
}

// ReadCRC reads a CRC stored low byte first
func (b *FrameBuffer) ReadCRC() uint16 {
	lo := b.ReadU8()
	hi := b.ReadU8()
	return uint16(hi)<<8 | uint16(lo)
}

// ReadTimestamp reads the 8 timestamp words preceding a received frame.
// Returns false if the words at the cursor are not timestamp words.
func (b *FrameBuffer) ReadTimestamp() (uint64, bool) {
	if b.index+rxTimestampWords > b.length {
		return 0, false
	}
	var ts uint64
	for i := 0; i < rxTimestampWords; i++ {
		w := b.words[b.index+i]
		if w&cmdMask != rxTimestamp {
			return 0, false
		}
		ts |= uint64(w&rxTimestampPayload) << (8 * uint(i))
	}
	b.index += rxTimestampWords
	return ts, true
}

// ReadEndOfFrame consumes the end of frame word at the cursor.
// Returns false if the cursor is not on an end of frame word.
func (b *FrameBuffer) ReadEndOfFrame() bool {
	w, ok := b.PeekRaw()
	if !ok || w&cmdMask != rxEndOfFrame {
		return false
	}
	b.index++
	return true
}

// DataWordsAhead counts consecutive data words from the cursor
func (b *FrameBuffer) DataWordsAhead() int {
	n := 0
	for i := b.index; i < b.length && isRxData(b.words[i]); i++ {
		n++
	}
	return n
}

// Bytes decodes count data words starting at index into bytes
func (b *FrameBuffer) Bytes(index, count int) []byte {
	out := make([]byte, 0, count)
	for i := index; i < index+count && i < b.length; i++ {
		out = append(out, decodeByte(b.words[i]))
	}
	return out
}
