// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SubnetStatistics counts the traffic of one subnet
type SubnetStatistics struct {
	Reads       uint64
	Words       uint64
	Frames      uint64
	Dispatched  uint64
	Unsolicited uint64
	Exceptions  uint64
	Warnings    uint64
	Timeouts    uint64
	IRQTimeouts uint64
	Faults      [faultKindCount]uint64
}

// FaultCount returns the number of framing faults of kind k
func (s SubnetStatistics) FaultCount(k FaultKind) uint64 {
	if k < 0 || k >= faultKindCount {
		return 0
	}
	return s.Faults[k]
}

// TotalFaults sums every framing fault
func (s SubnetStatistics) TotalFaults() uint64 {
	var total uint64
	for _, n := range s.Faults {
		total += n
	}
	return total
}

// Statistics tracks bus traffic and error rates
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time

	Cycles  uint64
	Subnets [SubnetCount]SubnetStatistics

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // faults and timeouts/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of parsing one subnet
func (s *Statistics) Update(r *ParseResult, words int) {
	if r.Subnet < MinSubnet || r.Subnet > MaxSubnet {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &s.Subnets[r.Subnet-MinSubnet]
	sub.Reads++
	sub.Words += uint64(words)
	sub.Frames += uint64(r.Frames)
	sub.Dispatched += uint64(r.Dispatched)
	sub.Unsolicited += uint64(r.Unsolicited)
	for _, f := range r.Faults {
		sub.Faults[f.Kind]++
	}
	for _, w := range r.Warnings {
		switch w.Warning.Kind {
		case WarningIllegalFunction, WarningIllegalDataAddress, WarningIllegalDataValue,
			WarningInvalidLength, WarningUnknownException:
			sub.Exceptions++
		default:
			sub.Warnings++
		}
	}
	s.LastUpdateTime = time.Now()
}

// RecordTimeouts counts devices reported silent by response verification
func (s *Statistics) RecordTimeouts(devices []Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range devices {
		if d.Subnet >= MinSubnet && d.Subnet <= MaxSubnet {
			s.Subnets[d.Subnet-MinSubnet].Timeouts++
		}
	}
}

// RecordIRQTimeout counts a subnet whose interrupt did not arrive in time
func (s *Statistics) RecordIRQTimeout(subnet uint8) {
	if subnet < MinSubnet || subnet > MaxSubnet {
		return
	}
	s.mu.Lock()
	s.Subnets[subnet-MinSubnet].IRQTimeouts++
	s.mu.Unlock()
}

// RecordCycle counts a completed cycle
func (s *Statistics) RecordCycle() {
	s.mu.Lock()
	s.Cycles++
	s.mu.Unlock()
}

// StatisticsSnapshot is a copy of the counters taken under lock
type StatisticsSnapshot struct {
	StartTime      time.Time
	LastUpdateTime time.Time
	Cycles         uint64
	Subnets        [SubnetCount]SubnetStatistics
	FrameRate      float64
	ErrorRate      float64
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() StatisticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return StatisticsSnapshot{
		StartTime:      s.StartTime,
		LastUpdateTime: s.LastUpdateTime,
		Cycles:         s.Cycles,
		Subnets:        s.Subnets,
		FrameRate:      s.FrameRate,
		ErrorRate:      s.ErrorRate,
	}
}

// Total sums the counters of every subnet
func (s StatisticsSnapshot) Total() SubnetStatistics {
	return sumSubnets(&s.Subnets)
}

func sumSubnets(subnets *[SubnetCount]SubnetStatistics) SubnetStatistics {
	var t SubnetStatistics
	for _, sub := range subnets {
		t.Reads += sub.Reads
		t.Words += sub.Words
		t.Frames += sub.Frames
		t.Dispatched += sub.Dispatched
		t.Unsolicited += sub.Unsolicited
		t.Exceptions += sub.Exceptions
		t.Warnings += sub.Warnings
		t.Timeouts += sub.Timeouts
		t.IRQTimeouts += sub.IRQTimeouts
		for k, n := range sub.Faults {
			t.Faults[k] += n
		}
	}
	return t
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		t := sumSubnets(&s.Subnets)
		s.FrameRate = float64(t.Frames) / elapsed
		s.ErrorRate = float64(t.TotalFaults()+t.Timeouts) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	snap := s.Snapshot()
	t := snap.Total()

	var validPercent float64
	if t.Frames > 0 {
		validPercent = float64(t.Dispatched) * 100.0 / float64(t.Frames)
	}

	elapsed := time.Since(snap.StartTime)

	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	fmt.Fprintf(&sb, "Cycles:          %8d\n", snap.Cycles)
	fmt.Fprintf(&sb, "Frames:          %8d\n", t.Frames)
	fmt.Fprintf(&sb, "Dispatched:      %8d (%.1f%%)\n", t.Dispatched, validPercent)

	if faults := t.TotalFaults(); faults > 0 {
		fmt.Fprintf(&sb, "Framing Faults:  %8d\n", faults)
		for _, k := range FaultKinds() {
			if n := t.Faults[k]; n > 0 {
				fmt.Fprintf(&sb, "  %-22s %5d\n", k.String()+":", n)
			}
		}
	}
	if t.Exceptions > 0 {
		fmt.Fprintf(&sb, "Exceptions:      %8d\n", t.Exceptions)
	}
	if t.Warnings > 0 {
		fmt.Fprintf(&sb, "Warnings:        %8d\n", t.Warnings)
	}
	if t.Timeouts > 0 {
		fmt.Fprintf(&sb, "Timeouts:        %8d\n", t.Timeouts)
	}
	if t.IRQTimeouts > 0 {
		fmt.Fprintf(&sb, "IRQ Timeouts:    %8d\n", t.IRQTimeouts)
	}
	if t.Unsolicited > 0 {
		fmt.Fprintf(&sb, "Unsolicited:     %8d\n", t.Unsolicited)
	}

	fmt.Fprintf(&sb, "Frame Rate:      %8.1f frames/sec\n", snap.FrameRate)
	fmt.Fprintf(&sb, "Error Rate:      %8.1f errors/sec\n", snap.ErrorRate)
	sb.WriteString("================================\n")

	return sb.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.Cycles = 0
	s.Subnets = [SubnetCount]SubnetStatistics{}
	s.FrameRate = 0
	s.ErrorRate = 0
}
