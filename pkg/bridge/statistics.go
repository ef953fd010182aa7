// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks link packet counts and error rates
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets uint64
	ErrorReplies uint64
	CRCErrors    uint64
	DecodeErrors uint64
	StaleReplies uint64
	Timeouts     uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// RecordPacket counts a decoded packet
func (s *Statistics) RecordPacket(p *Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalPackets++
	if p.IsError() {
		s.ErrorReplies++
	}
	s.LastUpdateTime = time.Now()
}

// RecordDecodeError counts a decoder failure
func (s *Statistics) RecordDecodeError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalPackets++
	if errors.Is(err, ErrCRCMismatch) {
		s.CRCErrors++
	} else {
		s.DecodeErrors++
	}
	s.LastUpdateTime = time.Now()
}

// RecordStale counts a reply whose request already gave up
func (s *Statistics) RecordStale() {
	s.mu.Lock()
	s.StaleReplies++
	s.mu.Unlock()
}

// RecordTimeout counts a request that got no reply
func (s *Statistics) RecordTimeout() {
	s.mu.Lock()
	s.Timeouts++
	s.mu.Unlock()
}

// Counts returns total packets and the error tallies
func (s *Statistics) Counts() (total, crc, decode, timeouts uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TotalPackets, s.CRCErrors, s.DecodeErrors, s.Timeouts
}

// calculateRates calculates packet and error rates, mu held
func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.CRCErrors+s.DecodeErrors+s.Timeouts) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d\n", s.TotalPackets)
	if s.ErrorReplies > 0 {
		result += fmt.Sprintf("Error Replies:   %8d\n", s.ErrorReplies)
	}
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d\n", s.CRCErrors)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.StaleReplies > 0 {
		result += fmt.Sprintf("Stale Replies:   %8d\n", s.StaleReplies)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "=====================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalPackets = 0
	s.ErrorReplies = 0
	s.CRCErrors = 0
	s.DecodeErrors = 0
	s.StaleReplies = 0
	s.Timeouts = 0
	s.PacketRate = 0
	s.ErrorRate = 0
}
