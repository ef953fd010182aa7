// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomWords(rng *rand.Rand, n int) []uint16 {
	words := make([]uint16, n)
	for i := range words {
		words[i] = uint16(rng.Intn(0x10000))
	}
	return words
}

// ============================================================
// Round Trip Fuzz Tests
// ============================================================

func TestFuzz_RoundTripRandomWords(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	d := NewDecoder()

	for i := 0; i < rounds; i++ {
		seq := rng.Uint32()
		words := randomWords(rng, rng.Intn(300))

		data, err := EncodePacket(NewWriteCommand(seq, words, time.Duration(rng.Intn(10000))*time.Microsecond))
		if err != nil {
			t.Fatalf("round %d: encode failed: %v", i, err)
		}

		var got *Packet
		for _, b := range data {
			p, err := d.DecodeByte(b)
			if err != nil {
				t.Fatalf("round %d: decode error: %v", i, err)
			}
			if p != nil {
				got = p
			}
		}
		if got == nil {
			t.Fatalf("round %d: no packet decoded", i)
		}
		if got.Sequence() != seq {
			t.Fatalf("round %d: sequence %d, want %d", i, got.Sequence(), seq)
		}
		back, ok := GetMapWords(got.PayloadMap(), KeyWords)
		if !ok || len(back) != len(words) {
			t.Fatalf("round %d: got %d words, want %d", i, len(back), len(words))
		}
		for j := range words {
			if back[j] != words[j] {
				t.Fatalf("round %d: word %d = 0x%04X, want 0x%04X", i, j, back[j], words[j])
			}
		}
	}
}

// ============================================================
// Corruption Fuzz Tests
// ============================================================

func TestFuzz_DecoderRandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	d := NewDecoder()

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(256))
		for j := range data {
			data[j] = byte(rng.Intn(256))
		}
		// must never panic; anything it accepts has passed the CRC
		packets, _ := d.Decode(data)
		for _, p := range packets {
			_ = p.ParseError()
		}
	}
}

func TestFuzz_CorruptionNeverYieldsWrongPacket(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		words := randomWords(rng, 1+rng.Intn(32))
		data, err := EncodePacket(NewResponseData(uint32(i), words))
		if err != nil {
			t.Fatal(err)
		}

		// flip one bit inside the stuffed body
		pos := 1 + rng.Intn(len(data)-2)
		data[pos] ^= 1 << uint(rng.Intn(8))

		packets, _ := NewDecoder().Decode(data)
		for _, p := range packets {
			back, ok := GetMapWords(p.PayloadMap(), KeyWords)
			if !ok || len(back) != len(words) {
				t.Fatalf("round %d: corrupted packet accepted with %d words", i, len(back))
			}
			for j := range words {
				if back[j] != words[j] {
					t.Fatalf("round %d: corrupted packet accepted with wrong data", i)
				}
			}
		}
	}
}
