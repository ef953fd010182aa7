// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ilcsim simulates the FPGA and the ILCs behind it. The simulator
// executes the command words written by the ilc package bit for bit and
// produces the response FIFO stream real hardware would return.
package ilcsim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

// Errors returned by the simulator
var (
	ErrUnknownFIFOAddress = errors.New("ilcsim: unknown FIFO address")
	ErrTruncatedBuffer    = errors.New("ilcsim: truncated subnet buffer")
	ErrResponseUnderflow  = errors.New("ilcsim: response FIFO underflow")
)

type deviceKey struct {
	subnet  uint8
	address uint8
}

// Simulator implements ilc.FPGA
type Simulator struct {
	mu sync.Mutex

	devices   map[deviceKey]*Device
	pending   [ilc.SubnetCount][]uint16
	responses [ilc.SubnetCount][]uint16
	fifo      []uint16
	irq       [ilc.SubnetCount]chan struct{}
	clock     uint64

	// Drop makes the addressed device stay silent for one request
	Drop func(subnet, address, fn uint8) bool

	// Corrupt flips the last CRC byte of a reply
	Corrupt func(subnet, address, fn uint8) bool

	// Exception makes the device answer with an exception reply
	Exception func(subnet, address, fn uint8) (ilc.ExceptionCode, bool)

	// HoldIRQ keeps a subnet from raising its interrupt
	HoldIRQ func(subnet uint8) bool

	// Injected errors
	WriteErr   error
	TriggerErr error
	ReadErr    error

	// Recorded activity
	Written  [][]uint16
	Triggers int
	Acks     [ilc.SubnetCount]int
}

// New creates a simulator with one simulated ILC per device in dm
func New(dm *ilc.DeviceMap) *Simulator {
	s := &Simulator{
		devices: make(map[deviceKey]*Device),
	}
	for i := range s.irq {
		s.irq[i] = make(chan struct{}, 1)
	}
	for _, c := range ilc.Classes {
		for _, d := range dm.Devices(c) {
			s.devices[deviceKey{d.Subnet, d.Address}] = newDevice(d)
		}
	}
	return s
}

// Device returns the simulated ILC at (subnet, address)
func (s *Simulator) Device(subnet, address uint8) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[deviceKey{subnet, address}]
}

// WriteCommandFIFO implements ilc.FPGA. Buffers starting with a wait for
// trigger are held until TriggerModbus, others run immediately.
func (s *Simulator) WriteCommandFIFO(words []uint16, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.Written = append(s.Written, append([]uint16(nil), words...))

	for len(words) > 0 {
		if len(words) < 2 {
			return ErrTruncatedBuffer
		}
		subnet, ok := txSubnet(words[0])
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownFIFOAddress, words[0])
		}
		n := int(words[1])
		if len(words) < 2+n {
			return ErrTruncatedBuffer
		}
		body := words[2 : 2+n]
		words = words[2+n:]

		if len(body) > 0 && ilc.ClassifyCommandWord(body[0]) == ilc.WordWaitForTrigger {
			s.pending[subnet-ilc.MinSubnet] = append(s.pending[subnet-ilc.MinSubnet], body[1:]...)
			continue
		}
		s.execute(subnet, body)
	}
	return nil
}

// TriggerModbus implements ilc.FPGA
func (s *Simulator) TriggerModbus() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.TriggerErr != nil {
		return s.TriggerErr
	}
	s.Triggers++
	for i := range s.pending {
		body := s.pending[i]
		s.pending[i] = nil
		if len(body) > 0 {
			s.execute(uint8(i+ilc.MinSubnet), body)
		}
	}
	return nil
}

// WaitForModbusIRQ implements ilc.FPGA
func (s *Simulator) WaitForModbusIRQ(subnet uint8, timeout time.Duration) (ilc.WaitResult, error) {
	if subnet < ilc.MinSubnet || subnet > ilc.MaxSubnet {
		return ilc.WaitError, ilc.ErrUnknownSubnet
	}
	ch := s.irq[subnet-ilc.MinSubnet]

	if timeout <= 0 {
		select {
		case <-ch:
			return ilc.WaitCompleted, nil
		default:
			return ilc.WaitTimedOut, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return ilc.WaitCompleted, nil
	case <-timer.C:
		return ilc.WaitTimedOut, nil
	}
}

// AckModbusIRQ implements ilc.FPGA
func (s *Simulator) AckModbusIRQ(subnet uint8) error {
	if subnet < ilc.MinSubnet || subnet > ilc.MaxSubnet {
		return ilc.ErrUnknownSubnet
	}
	s.mu.Lock()
	s.Acks[subnet-ilc.MinSubnet]++
	s.mu.Unlock()
	return nil
}

// WriteRequestFIFO implements ilc.FPGA. Each subnet rx address moves that
// subnet's replies, prefixed by their word count, into the response FIFO.
func (s *Simulator) WriteRequestFIFO(words []uint16, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range words {
		subnet, ok := rxSubnet(w)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownFIFOAddress, w)
		}
		rx := s.responses[subnet-ilc.MinSubnet]
		s.fifo = append(s.fifo, uint16(len(rx)))
		s.fifo = append(s.fifo, rx...)
		s.responses[subnet-ilc.MinSubnet] = nil
	}
	return nil
}

// ReadU16ResponseFIFO implements ilc.FPGA
func (s *Simulator) ReadU16ResponseFIFO(words []uint16, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ReadErr != nil {
		return s.ReadErr
	}
	n := copy(words, s.fifo)
	s.fifo = s.fifo[n:]
	if n < len(words) {
		return fmt.Errorf("%w: wanted %d words, had %d", ErrResponseUnderflow, len(words), n)
	}
	return nil
}

// InjectResponse appends raw words to a subnet's pending replies
func (s *Simulator) InjectResponse(subnet uint8, words ...uint16) {
	s.mu.Lock()
	s.responses[subnet-ilc.MinSubnet] = append(s.responses[subnet-ilc.MinSubnet], words...)
	s.mu.Unlock()
}

// execute runs a subnet buffer body. Called with the lock held.
func (s *Simulator) execute(subnet uint8, body []uint16) {
	var frame []byte
	for _, w := range body {
		s.clock++
		switch ilc.ClassifyCommandWord(w) {
		case ilc.WordTxByte:
			frame = append(frame, ilc.DecodeByte(w))
		case ilc.WordEndOfFrame:
			s.handleFrame(subnet, frame)
			frame = frame[:0]
		case ilc.WordTxTimestamp:
			s.emit(subnet, nil)
		case ilc.WordDelay, ilc.WordWaitForRx:
			s.clock += uint64(ilc.WordArgument(w))
		case ilc.WordLongDelay, ilc.WordWaitForLongRx:
			s.clock += uint64(ilc.WordArgument(w)) * 1000
		case ilc.WordTriggerIRQ:
			if s.HoldIRQ != nil && s.HoldIRQ(subnet) {
				continue
			}
			select {
			case s.irq[subnet-ilc.MinSubnet] <- struct{}{}:
			default:
			}
		}
	}
}

// emit appends a received frame (or a start marker for nil) to the
// subnet's replies
func (s *Simulator) emit(subnet uint8, frame []byte) {
	rx := &s.responses[subnet-ilc.MinSubnet]
	*rx = append(*rx, ilc.EncodeRxTimestamp(s.clock)...)
	for _, b := range frame {
		*rx = append(*rx, ilc.EncodeRxByte(b))
	}
	*rx = append(*rx, ilc.RxEndOfFrameWord)
}

// handleFrame delivers a request to the addressed ILC and emits its reply
func (s *Simulator) handleFrame(subnet uint8, frame []byte) {
	if len(frame) < ilc.MinFrameBytes || !ilc.CheckCRC(frame) {
		return
	}
	address, fn := frame[0], frame[1]
	req := frame[2 : len(frame)-2]

	if address == ilc.BroadcastAddress {
		if fn == ilc.FuncFreezeSensor && len(req) == 1 {
			for key, d := range s.devices {
				if key.subnet == subnet {
					d.Frozen = req[0]
				}
			}
		}
		return
	}

	d := s.devices[deviceKey{subnet, address}]
	if d == nil || d.Silent {
		return
	}
	if s.Drop != nil && s.Drop(subnet, address, fn) {
		return
	}

	var reply []byte
	if code, ok := s.exception(subnet, address, fn); ok {
		reply = []byte{address, fn | 0x80, byte(code)}
	} else {
		payload, code, ok := d.reply(fn, req)
		switch {
		case !ok:
			return
		case code != 0:
			reply = []byte{address, fn | 0x80, byte(code)}
		default:
			reply = append([]byte{address, fn}, payload...)
		}
	}
	reply = ilc.AppendCRC(reply)

	if s.Corrupt != nil && s.Corrupt(subnet, address, fn) {
		reply[len(reply)-1] ^= 0xFF
	}
	s.emit(subnet, reply)
}

func (s *Simulator) exception(subnet, address, fn uint8) (ilc.ExceptionCode, bool) {
	if s.Exception == nil {
		return 0, false
	}
	return s.Exception(subnet, address, fn)
}

func txSubnet(address uint16) (uint8, bool) {
	for subnet := uint8(ilc.MinSubnet); subnet <= ilc.MaxSubnet; subnet++ {
		if ilc.SubnetTxAddress(subnet) == address {
			return subnet, true
		}
	}
	return 0, false
}

func rxSubnet(address uint16) (uint8, bool) {
	for subnet := uint8(ilc.MinSubnet); subnet <= ilc.MaxSubnet; subnet++ {
		if ilc.SubnetRxAddress(subnet) == address {
			return subnet, true
		}
	}
	return 0, false
}
