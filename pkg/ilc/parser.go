// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import "log/slog"

// ParseResult summarises the replies parsed from one subnet read
type ParseResult struct {
	Subnet      uint8
	Frames      int // frames with a timestamp and end of frame
	Dispatched  int // frames credited to a device
	Unsolicited int // credited frames no reply was owed for
	Faults      []FrameFault
	Warnings    []DeviceWarning

	// Timestamp of the list start marker, 0 if absent
	Timestamp uint64
}

// OK returns true when no frame was skipped and no warning raised
func (r *ParseResult) OK() bool {
	return len(r.Faults) == 0 && len(r.Warnings) == 0
}

// ResponseParser decodes response FIFO words into telemetry and keeps the
// count of replies still owed by every device
type ResponseParser struct {
	dm        *DeviceMap
	telemetry *Telemetry
	notifier  SafetyNotifier
	logger    *slog.Logger
	stats     *Statistics
	limits    ValidatorConfig

	outstanding ResponseCounts
	addressed   ResponseCounts
	warnings    []DeviceWarning
}

// NewResponseParser creates a parser writing into t
func NewResponseParser(dm *DeviceMap, t *Telemetry) *ResponseParser {
	return &ResponseParser{
		dm:          dm,
		telemetry:   t,
		notifier:    NoopNotifier{},
		logger:      slog.Default(),
		stats:       NewStatistics(),
		limits:      DefaultValidatorConfig(),
		outstanding: NewResponseCounts(dm),
		addressed:   NewResponseCounts(dm),
	}
}

// SetNotifier sets the safety collaborator
func (p *ResponseParser) SetNotifier(n SafetyNotifier) {
	if n == nil {
		n = NoopNotifier{}
	}
	p.notifier = n
}

// SetLogger sets the logger
func (p *ResponseParser) SetLogger(l *slog.Logger) {
	if l != nil {
		p.logger = l
	}
}

// SetLimits sets the telemetry limits checked after decoding
func (p *ResponseParser) SetLimits(cfg ValidatorConfig) {
	p.limits = cfg
}

// SetStatistics replaces the statistics tracker
func (p *ResponseParser) SetStatistics(s *Statistics) {
	if s != nil {
		p.stats = s
	}
}

// Statistics returns the statistics tracker
func (p *ResponseParser) Statistics() *Statistics {
	return p.stats
}

// AddExpected adds the replies owed for a list written to the bus
func (p *ResponseParser) AddExpected(c ResponseCounts) {
	for _, class := range Classes {
		src := c.Class(class)
		dst := p.outstanding.Class(class)
		seen := p.addressed.Class(class)
		for i := 0; i < len(src) && i < len(dst); i++ {
			if src[i] == 0 {
				continue
			}
			seen[i] = 1
			if n := int(dst[i]) + int(src[i]); n > 0xFF {
				dst[i] = 0xFF
			} else {
				dst[i] = uint8(n)
			}
		}
	}
}

// Outstanding returns a copy of the replies still owed per device
func (p *ResponseParser) Outstanding() ResponseCounts {
	return p.outstanding.Clone()
}

// Warnings returns the device warnings raised since the last ClearWarnings
func (p *ResponseParser) Warnings() []DeviceWarning {
	return append([]DeviceWarning(nil), p.warnings...)
}

// ClearWarnings drops the collected warnings
func (p *ResponseParser) ClearWarnings() {
	p.warnings = p.warnings[:0]
}

// VerifyResponses reports every device still owing replies as a
// communication timeout and clears the outstanding counts. Devices that
// were addressed and answered are notified as recovered.
func (p *ResponseParser) VerifyResponses() []Device {
	var silent []Device
	for _, c := range Classes {
		counts := p.outstanding.Class(c)
		seen := p.addressed.Class(c)
		for i := range counts {
			if seen[i] == 0 && counts[i] == 0 {
				continue
			}
			dev := p.dm.Device(c, i)
			timedOut := counts[i] > 0
			if timedOut {
				silent = append(silent, dev)
				p.logger.Warn("communication timeout",
					"device", dev.String(), "missing", counts[i])
			}
			p.notifier.NotifyCommunicationTimeout(dev, timedOut)
			counts[i] = 0
			seen[i] = 0
		}
	}
	p.stats.RecordTimeouts(silent)
	return silent
}

// Parse decodes the words read from a subnet's response FIFO (without the
// leading word count). Bad frames are skipped and reported; parsing always
// continues with the next frame.
func (p *ResponseParser) Parse(subnet uint8, words []uint16) ParseResult {
	r := ParseResult{Subnet: subnet}
	if subnet < MinSubnet || subnet > MaxSubnet {
		p.fault(&r, FrameFault{Subnet: subnet, Kind: FaultUnknownAddress})
		return r
	}

	rb := NewResponseBuffer(words)

	for !rb.EndOfBuffer() {
		start := rb.Index()
		ts, ok := rb.ReadTimestamp()
		if !ok {
			p.fault(&r, FrameFault{Subnet: subnet, Kind: FaultMissingTimestamp, Index: start})
			resync(rb)
			continue
		}

		dataStart := rb.Index()
		n := rb.DataWordsAhead()
		rb.SetIndex(dataStart + n)
		if !rb.ReadEndOfFrame() {
			p.fault(&r, FrameFault{Subnet: subnet, Kind: FaultMissingEndOfFrame, Index: start, Length: n})
			continue
		}

		if n == 0 {
			// List start marker
			r.Timestamp = ts
			continue
		}

		r.Frames++
		p.dispatch(&r, rb, dataStart, n, ts)
		rb.SetIndex(dataStart + n + 1)
	}

	p.stats.Update(&r, len(words))
	p.logger.Debug("parsed subnet",
		"subnet", subnet, "words", len(words), "frames", r.Frames,
		"dispatched", r.Dispatched, "faults", len(r.Faults))
	return r
}

// resync drops words up to the next timestamp word
func resync(rb *FrameBuffer) {
	rb.ReadRaw()
	for {
		w, ok := rb.PeekRaw()
		if !ok || ClassifyResponseWord(w) == WordRxTimestamp {
			return
		}
		rb.ReadRaw()
	}
}

// dispatch validates one frame of n bytes starting at word start and hands
// it to the decoder of its device class and function
func (p *ResponseParser) dispatch(r *ParseResult, rb *FrameBuffer, start, n int, ts uint64) {
	if n < MinFrameBytes || n > MaxFrameBytes {
		p.fault(r, FrameFault{Subnet: r.Subnet, Kind: FaultInvalidLength, Index: start, Length: n})
		return
	}

	frame := rb.Bytes(start, n)
	if !CheckCRC(frame) {
		p.fault(r, FrameFault{Subnet: r.Subnet, Kind: FaultInvalidCRC, Index: start, Length: n})
		return
	}

	address, fn := frame[0], frame[1]
	dev, ok := p.dm.Lookup(r.Subnet, address)
	if !ok {
		p.fault(r, FrameFault{Subnet: r.Subnet, Kind: FaultUnknownAddress, Index: start, Address: address, Function: fn})
		return
	}

	payload := n - 4
	rb.SetIndex(start + 2)

	if fn&exceptionFlag != 0 {
		if payload != 1 {
			p.fault(r, FrameFault{Subnet: r.Subnet, Kind: FaultInvalidLength, Index: start,
				Address: address, Function: fn, Length: n})
			return
		}
		code := ExceptionCode(rb.ReadU8())
		p.warn(r, dev, exceptionWarning(fn&^exceptionFlag, code))
		p.credit(r, dev)
		return
	}

	expected, variable, known := replyLength(dev, fn)
	if !known {
		p.fault(r, FrameFault{Subnet: r.Subnet, Kind: FaultUnknownFunction, Index: start, Address: address, Function: fn})
		return
	}
	if payload != expected && !(variable && payload > expected) {
		p.fault(r, FrameFault{Subnet: r.Subnet, Kind: FaultInvalidLength, Index: start,
			Address: address, Function: fn, Length: n})
		return
	}

	p.telemetry.lock()
	warnings := p.decode(rb, dev, fn, payload, ts)
	info := &p.telemetry.info[dev.Class][dev.DataIndex]
	info.Timestamp = ts
	info.Responded = true
	p.telemetry.unlock()

	for _, w := range warnings {
		p.warn(r, dev, w)
	}
	p.credit(r, dev)
}

// credit counts a reply against the device's outstanding replies
func (p *ResponseParser) credit(r *ParseResult, dev Device) {
	r.Dispatched++
	counts := p.outstanding.Class(dev.Class)
	if counts[dev.DataIndex] > 0 {
		counts[dev.DataIndex]--
		return
	}
	r.Unsolicited++
}

func (p *ResponseParser) fault(r *ParseResult, f FrameFault) {
	r.Faults = append(r.Faults, f)
	p.logger.Warn("frame fault", "subnet", f.Subnet, "fault", f.Kind.String(),
		"address", f.Address, "function", f.Function, "index", f.Index)
	p.notifier.NotifyFrameFault(f.Subnet, f.Kind)
}

func (p *ResponseParser) warn(r *ParseResult, dev Device, w Warning) {
	dw := DeviceWarning{Device: dev, Warning: w}
	r.Warnings = append(r.Warnings, dw)
	p.warnings = append(p.warnings, dw)
	p.logger.Warn("device warning", "device", dev.String(), "warning", w.Kind.String(), "message", w.Message)
	p.notifier.NotifyDeviceWarning(dev, w)
}
