// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

// DefaultLinkTimeout is added to every operation timeout to cover the round trip
const DefaultLinkTimeout = 250 * time.Millisecond

// Option configures a Client or Server
type Option func(*options)

type options struct {
	logger      *slog.Logger
	linkTimeout time.Duration
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLinkTimeout sets the round trip allowance added to each operation timeout
func WithLinkTimeout(d time.Duration) Option {
	return func(o *options) {
		o.linkTimeout = d
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:      slog.Default(),
		linkTimeout: DefaultLinkTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Client is an ilc.FPGA whose FIFOs live on the far side of a Link.
// Requests are serialized; each one waits for the reply with its sequence number.
type Client struct {
	link Link
	opts options

	mu  sync.Mutex
	seq uint32

	replies chan *Packet
	done    chan struct{}

	errMu   sync.Mutex
	readErr error

	stats *Statistics
}

var _ ilc.FPGA = (*Client)(nil)

// NewClient starts reading replies from link
func NewClient(link Link, opts ...Option) *Client {
	c := &Client{
		link:    link,
		opts:    newOptions(opts),
		replies: make(chan *Packet, 16),
		done:    make(chan struct{}),
		stats:   NewStatistics(),
	}
	go c.readLoop()
	return c
}

// Statistics returns the link counters
func (c *Client) Statistics() *Statistics {
	return c.stats
}

// Close closes the link and waits for the reader to stop
func (c *Client) Close() error {
	err := c.link.Close()
	<-c.done
	return err
}

// Err returns the error that stopped the reader, if any
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Client) readLoop() {
	defer close(c.done)
	dec := NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := c.link.Read(buf)
		for _, b := range buf[:n] {
			p, derr := dec.DecodeByte(b)
			if derr != nil {
				c.stats.RecordDecodeError(derr)
				c.opts.logger.Warn("bridge decode error", "err", derr)
				continue
			}
			if p == nil {
				continue
			}
			c.stats.RecordPacket(p)
			select {
			case c.replies <- p:
			default:
				c.opts.logger.Warn("bridge reply dropped", "seq", p.Sequence())
			}
		}
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
	}
}

// roundTrip sends the request built for the next sequence number and
// waits for its reply
func (c *Client) roundTrip(op string, build func(seq uint32) *Packet, want uint8, timeout time.Duration) (*Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	seq := c.seq
	req := build(seq)

	data, err := EncodePacket(req)
	if err != nil {
		return nil, &LinkError{Op: op, Seq: seq, Err: err}
	}
	if _, err := c.link.Write(data); err != nil {
		return nil, &LinkError{Op: op, Seq: seq, Err: err}
	}
	c.opts.logger.Debug("bridge request", "op", op, "seq", seq, "bytes", len(data))

	timer := time.NewTimer(timeout + c.opts.linkTimeout)
	defer timer.Stop()

	for {
		select {
		case p := <-c.replies:
			if p.Sequence() != seq {
				// late reply to a request that already timed out
				c.stats.RecordStale()
				continue
			}
			if err := p.ParseError(); err != nil {
				return nil, &LinkError{Op: op, Seq: seq, Err: fmt.Errorf("%w: %v", ErrUnexpectedReply, err)}
			}
			if p.IsError() {
				msg, _ := GetMapString(p.PayloadMap(), KeyMessage)
				return nil, &LinkError{Op: op, Seq: seq, Err: fmt.Errorf("%w: %s: %s", ErrRemote, FormatMessageType(p.Type()), msg)}
			}
			if p.Type() != want {
				return nil, &LinkError{Op: op, Seq: seq, Err: fmt.Errorf("%w: got %s, want %s", ErrUnexpectedReply, FormatMessageType(p.Type()), FormatMessageType(want))}
			}
			return p, nil
		case <-c.done:
			return nil, &LinkError{Op: op, Seq: seq, Err: fmt.Errorf("%w: %v", ErrClosed, c.Err())}
		case <-timer.C:
			c.stats.RecordTimeout()
			return nil, &LinkError{Op: op, Seq: seq, Err: ErrTimeout}
		}
	}
}

// WriteCommandFIFO implements ilc.FPGA
func (c *Client) WriteCommandFIFO(words []uint16, timeout time.Duration) error {
	_, err := c.roundTrip("write command fifo", func(seq uint32) *Packet {
		return NewWriteCommand(seq, words, timeout)
	}, MsgAck, timeout)
	return err
}

// WriteRequestFIFO implements ilc.FPGA
func (c *Client) WriteRequestFIFO(words []uint16, timeout time.Duration) error {
	_, err := c.roundTrip("write request fifo", func(seq uint32) *Packet {
		return NewWriteRequest(seq, words, timeout)
	}, MsgAck, timeout)
	return err
}

// ReadU16ResponseFIFO implements ilc.FPGA
func (c *Client) ReadU16ResponseFIFO(words []uint16, timeout time.Duration) error {
	const op = "read response fifo"
	p, err := c.roundTrip(op, func(seq uint32) *Packet {
		return NewReadResponse(seq, len(words), timeout)
	}, MsgResponseData, timeout)
	if err != nil {
		return err
	}
	got, ok := GetMapWords(p.PayloadMap(), KeyWords)
	if !ok || len(got) != len(words) {
		return &LinkError{Op: op, Seq: p.Sequence(), Err: fmt.Errorf("%w: %d words, want %d", ErrUnexpectedReply, len(got), len(words))}
	}
	copy(words, got)
	return nil
}

// WaitForModbusIRQ implements ilc.FPGA
func (c *Client) WaitForModbusIRQ(subnet uint8, timeout time.Duration) (ilc.WaitResult, error) {
	const op = "wait irq"
	p, err := c.roundTrip(op, func(seq uint32) *Packet {
		return NewWaitIRQ(seq, subnet, timeout)
	}, MsgWaitResult, timeout)
	if err != nil {
		return ilc.WaitError, err
	}
	r, ok := GetMapUint(p.PayloadMap(), KeyResult)
	if !ok || r > uint64(ilc.WaitError) {
		return ilc.WaitError, &LinkError{Op: op, Seq: p.Sequence(), Err: fmt.Errorf("%w: bad wait result", ErrUnexpectedReply)}
	}
	return ilc.WaitResult(r), nil
}

// AckModbusIRQ implements ilc.FPGA
func (c *Client) AckModbusIRQ(subnet uint8) error {
	_, err := c.roundTrip("ack irq", func(seq uint32) *Packet {
		return NewAckIRQ(seq, subnet)
	}, MsgAck, 0)
	return err
}

// TriggerModbus implements ilc.FPGA
func (c *Client) TriggerModbus() error {
	_, err := c.roundTrip("trigger", NewTrigger, MsgAck, 0)
	return err
}

// Ping asks the bridge for its uptime and measures the round trip
func (c *Client) Ping(timeout time.Duration) (uptime, rtt time.Duration, err error) {
	start := time.Now()
	p, err := c.roundTrip("ping", NewPingRequest, MsgPingResponse, timeout)
	if err != nil {
		return 0, 0, err
	}
	ms, _ := GetMapUint(p.PayloadMap(), KeyUptime)
	return time.Duration(ms) * time.Millisecond, time.Since(start), nil
}
