// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

// Server answers bridge requests from an ilc.FPGA
type Server struct {
	fpga    ilc.FPGA
	opts    options
	started time.Time
}

// NewServer creates a server for fpga
func NewServer(fpga ilc.FPGA, opts ...Option) *Server {
	return &Server{
		fpga:    fpga,
		opts:    newOptions(opts),
		started: time.Now(),
	}
}

// Serve handles requests from rw until it returns EOF or fails.
// Requests are answered in arrival order.
func (s *Server) Serve(rw io.ReadWriter) error {
	dec := NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := rw.Read(buf)
		for _, b := range buf[:n] {
			p, derr := dec.DecodeByte(b)
			if derr != nil {
				s.opts.logger.Warn("bridge decode error", "err", derr)
				continue
			}
			if p == nil {
				continue
			}
			data, eerr := EncodePacket(s.Handle(p))
			if eerr != nil {
				return fmt.Errorf("encode reply: %w", eerr)
			}
			if _, werr := rw.Write(data); werr != nil {
				return fmt.Errorf("write reply: %w", werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// Handle runs one request against the FPGA and builds its reply
func (s *Server) Handle(p *Packet) *Packet {
	seq := p.Sequence()
	if err := p.ParseError(); err != nil {
		return NewErrorReply(seq, MsgErrorInvalidCmd, err.Error())
	}

	m := p.PayloadMap()
	us, _ := GetMapUint(m, KeyTimeout)
	timeout := time.Duration(us) * time.Microsecond

	fail := func(err error) *Packet {
		s.opts.logger.Warn("bridge request failed", "type", FormatMessageType(p.Type()), "seq", seq, "err", err)
		return NewErrorReply(seq, MsgErrorFPGA, err.Error())
	}
	invalid := func(msg string) *Packet {
		return NewErrorReply(seq, MsgErrorInvalidCmd, msg)
	}

	switch p.Type() {
	case MsgWriteCommand, MsgWriteRequest:
		words, ok := GetMapWords(m, KeyWords)
		if !ok {
			return invalid("missing words")
		}
		write := s.fpga.WriteCommandFIFO
		if p.Type() == MsgWriteRequest {
			write = s.fpga.WriteRequestFIFO
		}
		if err := write(words, timeout); err != nil {
			return fail(err)
		}
		return NewAck(seq)

	case MsgReadResponse:
		count, ok := GetMapUint(m, KeyCount)
		if !ok || count > MaxPayloadSize/2-8 {
			return invalid("bad word count")
		}
		words := make([]uint16, count)
		if err := s.fpga.ReadU16ResponseFIFO(words, timeout); err != nil {
			return fail(err)
		}
		return NewResponseData(seq, words)

	case MsgWaitIRQ:
		subnet, ok := GetMapUint(m, KeySubnet)
		if !ok || subnet > 0xFF {
			return invalid("bad subnet")
		}
		r, err := s.fpga.WaitForModbusIRQ(uint8(subnet), timeout)
		if err != nil {
			return fail(err)
		}
		return NewWaitResult(seq, int(r))

	case MsgAckIRQ:
		subnet, ok := GetMapUint(m, KeySubnet)
		if !ok || subnet > 0xFF {
			return invalid("bad subnet")
		}
		if err := s.fpga.AckModbusIRQ(uint8(subnet)); err != nil {
			return fail(err)
		}
		return NewAck(seq)

	case MsgTrigger:
		if err := s.fpga.TriggerModbus(); err != nil {
			return fail(err)
		}
		return NewAck(seq)

	case MsgPingRequest:
		return NewPingResponse(seq, time.Since(s.started))

	default:
		return invalid(fmt.Sprintf("unsupported message type 0x%02X", p.Type()))
	}
}
