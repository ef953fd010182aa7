// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"math"
	"testing"
	"time"
)

// ============================================================
// Test Helpers
// ============================================================

// rxFrame encodes a received frame the way the FPGA streams it
func rxFrame(ts uint64, frame []byte) []uint16 {
	words := EncodeRxTimestamp(ts)
	for _, b := range frame {
		words = append(words, EncodeRxByte(b))
	}
	return append(words, rxEndOfFrame)
}

// reply builds a frame with a valid CRC
func reply(address, fn uint8, payload ...byte) []byte {
	return AppendCRC(append([]byte{address, fn}, payload...))
}

func beFloat(v float32) []byte {
	u := math.Float32bits(v)
	return []byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}
}

// frameBytes decodes the tx bytes of words [start, start+n)
func frameBytes(b *FrameBuffer, start, n int) []byte {
	out := make([]byte, 0, n)
	for _, w := range b.words[start : start+n] {
		out = append(out, DecodeByte(w))
	}
	return out
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_ReferenceVector(t *testing.T) {
	data := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	crc := CalculateCRC(data)
	if crc != 0xCDC5 {
		t.Errorf("CRC mismatch: expected 0xCDC5, got 0x%04X", crc)
	}

	// Low byte first on the wire
	framed := AppendCRC(append([]byte(nil), data...))
	if framed[6] != 0xC5 || framed[7] != 0xCD {
		t.Errorf("wire CRC mismatch: expected C5 CD, got %02X %02X", framed[6], framed[7])
	}
}

func TestCalculateCRC_Empty(t *testing.T) {
	if crc := CalculateCRC(nil); crc != crcInitial {
		t.Errorf("CRC of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestCheckCRC(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{"valid", AppendCRC([]byte{0x0A, 0x12}), true},
		{"too short", []byte{0x0A}, false},
		{"swapped CRC bytes", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xCD, 0xC5}, false},
		{"corrupted payload", []byte{0x01, 0x03, 0x00, 0x01, 0x00, 0x0A, 0xC5, 0xCD}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckCRC(tt.frame); got != tt.want {
				t.Errorf("CheckCRC(% X) = %v, want %v", tt.frame, got, tt.want)
			}
		})
	}
}

// ============================================================
// Word Encoding Tests
// ============================================================

func TestEncodeTxByte(t *testing.T) {
	tests := []struct {
		b    byte
		want uint16
	}{
		{0x00, 0x1200},
		{0x01, 0x1202},
		{0xFF, 0x13FE},
		{0x0A, 0x1214},
	}

	for _, tt := range tests {
		w := EncodeTxByte(tt.b)
		if w != tt.want {
			t.Errorf("EncodeTxByte(0x%02X) = 0x%04X, want 0x%04X", tt.b, w, tt.want)
		}
		if w&0x0001 != 0 {
			t.Errorf("start bit must be 0 in 0x%04X", w)
		}
		if DecodeByte(w) != tt.b {
			t.Errorf("DecodeByte(0x%04X) = 0x%02X, want 0x%02X", w, DecodeByte(w), tt.b)
		}
	}
}

func TestClassifyWords(t *testing.T) {
	commands := map[uint16]WordKind{
		EncodeTxByte(0x42): WordTxByte,
		cmdEndOfFrame:      WordEndOfFrame,
		0x3000:             WordTxTimestamp,
		0x4123:             WordDelay,
		0x5002:             WordLongDelay,
		0x612C:             WordWaitForRx,
		0x7000:             WordTriggerIRQ,
		0x8000:             WordWaitForTrigger,
		0x9001:             WordWaitForLongRx,
		0xF000:             WordUnknown,
	}
	for w, want := range commands {
		if got := ClassifyCommandWord(w); got != want {
			t.Errorf("ClassifyCommandWord(0x%04X) = %d, want %d", w, got, want)
		}
	}

	responses := map[uint16]WordKind{
		EncodeRxByte(0x42): WordRxByte,
		RxEndOfFrameWord:   WordRxEndOfFrame,
		0xB0FF:             WordRxTimestamp,
		0xC000:             WordUnknown,
	}
	for w, want := range responses {
		if got := ClassifyResponseWord(w); got != want {
			t.Errorf("ClassifyResponseWord(0x%04X) = %d, want %d", w, got, want)
		}
	}
}

// ============================================================
// FrameBuffer Tests
// ============================================================

func TestFrameBuffer_WriteFrame(t *testing.T) {
	b := NewFrameBuffer(64)
	b.MarkStartOfFrame()
	b.WriteU8(0x01)
	b.WriteU8(0x03)
	b.WriteU16(0x0000)
	b.WriteU16(0x000A)
	b.MarkEndOfFrame()
	b.SetLength(b.Index())

	want := []uint16{
		EncodeTxByte(0x01), EncodeTxByte(0x03),
		EncodeTxByte(0x00), EncodeTxByte(0x00),
		EncodeTxByte(0x00), EncodeTxByte(0x0A),
		EncodeTxByte(0xC5), EncodeTxByte(0xCD),
		cmdEndOfFrame,
	}
	got := b.Words()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: expected %d words, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("word %d: expected 0x%04X, got 0x%04X", i, want[i], got[i])
		}
	}
}

func TestFrameBuffer_TypedRoundTrip(t *testing.T) {
	b := NewFrameBuffer(128)
	b.WriteU8(0xAB)
	b.WriteU16(0xBEEF)
	b.WriteI24(-1234567)
	b.WriteU24(0xABCDEF)
	b.WriteU32(0xDEADBEEF)
	b.WriteI32(-42)
	b.WriteU48(0x0102030405FF)
	b.WriteFloat(3.25)
	b.WriteString("ILC")
	b.SetLength(b.Index())

	r := NewResponseBuffer(b.Words())
	if v := r.ReadU8(); v != 0xAB {
		t.Errorf("ReadU8: got 0x%02X", v)
	}
	if v := r.ReadU16(); v != 0xBEEF {
		t.Errorf("ReadU16: got 0x%04X", v)
	}
	if v := r.ReadI24(); v != -1234567 {
		t.Errorf("ReadI24: got %d", v)
	}
	if v := r.ReadU24(); v != 0xABCDEF {
		t.Errorf("ReadU24: got 0x%06X", v)
	}
	if v := r.ReadU32(); v != 0xDEADBEEF {
		t.Errorf("ReadU32: got 0x%08X", v)
	}
	if v := r.ReadI32(); v != -42 {
		t.Errorf("ReadI32: got %d", v)
	}
	if v := r.ReadU48(); v != 0x0102030405FF {
		t.Errorf("ReadU48: got 0x%012X", v)
	}
	if v := r.ReadFloat(); v != 3.25 {
		t.Errorf("ReadFloat: got %f", v)
	}
	if v := r.ReadString(3); v != "ILC" {
		t.Errorf("ReadString: got %q", v)
	}
	if !r.EndOfBuffer() {
		t.Error("expected end of buffer")
	}
	if v := r.ReadU8(); v != 0 {
		t.Errorf("read past end should return 0, got %d", v)
	}
}

func TestFrameBuffer_PatchInPlace(t *testing.T) {
	b := NewFrameBuffer(64)
	b.MarkStartOfFrame()
	b.WriteU8(0x0A)
	b.WriteU8(FuncSetForceDemand)
	offset := b.Index()
	b.WriteI24(1000)
	dataBytes := b.Index() - b.FrameStart()
	b.MarkEndOfFrame()
	b.WriteWaitForRx(defaultRxTimeout)
	end := b.Index()
	b.SetLength(end)
	tail := b.Words()[end-1]

	b.SetIndex(offset)
	b.WriteI24(-2500)
	b.RewriteCRC(0, dataBytes)
	b.SetIndex(end)

	if b.Length() != end {
		t.Fatalf("patching changed the length: %d != %d", b.Length(), end)
	}
	if b.Words()[end-1] != tail {
		t.Error("patching must not touch the words after the field")
	}
	frame := frameBytes(b, 0, dataBytes+2)
	if !CheckCRC(frame) {
		t.Errorf("CRC invalid after patch: % X", frame)
	}

	r := NewResponseBuffer(b.Words())
	r.SetIndex(offset)
	if v := r.ReadI24(); v != -2500 {
		t.Errorf("patched value: expected -2500, got %d", v)
	}
}

func TestFrameBuffer_Overflow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("writing past capacity should panic")
		}
	}()
	b := NewFrameBuffer(2)
	b.WriteU8(1)
	b.WriteU8(2)
	b.WriteU8(3)
}

func TestFrameBuffer_Instructions(t *testing.T) {
	tests := []struct {
		name  string
		write func(b *FrameBuffer)
		want  uint16
	}{
		{"short delay", func(b *FrameBuffer) { b.WriteDelay(230 * time.Microsecond) }, 0x4000 | 230},
		{"long delay", func(b *FrameBuffer) { b.WriteDelay(10 * time.Millisecond) }, 0x5000 | 10},
		{"explicit long delay", func(b *FrameBuffer) { b.WriteLongDelay(7) }, 0x5007},
		{"short wait", func(b *FrameBuffer) { b.WriteWaitForRx(300 * time.Microsecond) }, 0x6000 | 300},
		{"long wait", func(b *FrameBuffer) { b.WriteWaitForRx(500 * time.Millisecond) }, 0x9000 | 500},
		{"explicit long wait", func(b *FrameBuffer) { b.WriteWaitForLongRx(2) }, 0x9002},
		{"timestamp", func(b *FrameBuffer) { b.WriteTimestamp() }, 0x3000},
		{"irq", func(b *FrameBuffer) { b.WriteTriggerIRQ() }, 0x7000},
		{"wait trigger", func(b *FrameBuffer) { b.WriteWaitForTrigger() }, 0x8000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewFrameBuffer(4)
			tt.write(b)
			b.SetLength(b.Index())
			if got := b.Words()[0]; got != tt.want {
				t.Errorf("expected 0x%04X, got 0x%04X", tt.want, got)
			}
		})
	}
}

func TestFrameBuffer_ReadTimestamp(t *testing.T) {
	words := rxFrame(0x0102030405060708, []byte{0x0A})
	r := NewResponseBuffer(words)
	ts, ok := r.ReadTimestamp()
	if !ok {
		t.Fatal("expected timestamp")
	}
	if ts != 0x0102030405060708 {
		t.Errorf("timestamp: got 0x%016X", ts)
	}
	if n := r.DataWordsAhead(); n != 1 {
		t.Errorf("expected 1 data word, got %d", n)
	}
	if r.ReadU8() != 0x0A {
		t.Error("data byte mismatch")
	}
	if !r.ReadEndOfFrame() {
		t.Error("expected end of frame")
	}

	// Not a timestamp
	r = NewResponseBuffer([]uint16{EncodeRxByte(1), EncodeRxByte(2)})
	if _, ok := r.ReadTimestamp(); ok {
		t.Error("data words must not read as a timestamp")
	}
	if r.Index() != 0 {
		t.Error("failed ReadTimestamp must not move the cursor")
	}
}
