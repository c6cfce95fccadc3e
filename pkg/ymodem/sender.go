// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ymodem sends a single file to a YModem receiver, the download
// path of chip families without a frame-based boot ROM.
package ymodem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/pkg/flasherr"
	"github.com/Thermoquad/kiln/pkg/retry"
	"github.com/Thermoquad/kiln/pkg/transport"
)

// State is the position of the sender in a transfer
type State int

// Transfer states
const (
	StateAwaitHandshake State = iota
	StateSendHeader
	StateSendData
	StateSendEOT
	StateDone
	StateAborted
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateAwaitHandshake:
		return "AwaitHandshake"
	case StateSendHeader:
		return "SendHeader"
	case StateSendData:
		return "SendData"
	case StateSendEOT:
		return "SendEOT"
	case StateDone:
		return "Done"
	case StateAborted:
		return "Aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Errors reported by the sender
var (
	// ErrAborted is returned when the receiver cancels with CAN
	ErrAborted = errors.New("transfer aborted by receiver")

	errNAK = errors.New("NAK received")
)

// unexpectedError reports a reply byte the sender did not ask for
type unexpectedError struct {
	Op   string
	Byte byte
}

func (e *unexpectedError) Error() string {
	return fmt.Sprintf("%s: unexpected reply 0x%02X", e.Op, e.Byte)
}

func (e *unexpectedError) Kind() flasherr.Kind {
	return flasherr.KindProtocolMismatch
}

// pollInterval is the granularity of the handshake wait
const pollInterval = 100 * time.Millisecond

// Config holds the sender configuration
type Config struct {
	// BlockSize is 1024 or 16384; the 16 KiB packets need a receiver that
	// understands marker 0x0B
	BlockSize int

	// Retries bounds the resends of one packet
	Retries int

	// HandshakeTimeout bounds the wait for the receiver's first 'C'
	HandshakeTimeout time.Duration

	// AckTimeout bounds the wait for the reply to one packet
	AckTimeout time.Duration

	// Progress is called after every acknowledged data packet
	Progress func(sent, total int)

	// Sleep waits between resends; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
}

func defaultConfig() Config {
	return Config{
		BlockSize:        BlockSize1K,
		Retries:          10,
		HandshakeTimeout: 60 * time.Second,
		AckTimeout:       5 * time.Second,
	}
}

// Option configures a Sender
type Option func(*Config)

// WithBlockSize selects 1 KiB or 16 KiB data packets
func WithBlockSize(n int) Option {
	return func(c *Config) {
		if n == BlockSize1K || n == BlockSize16K {
			c.BlockSize = n
		}
	}
}

// WithRetries sets the resend budget of each packet
func WithRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.Retries = n
		}
	}
}

// WithHandshakeTimeout sets how long to wait for the receiver to start
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithAckTimeout sets how long to wait for each packet reply
func WithAckTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.AckTimeout = d
	}
}

// WithProgress sets the progress callback
func WithProgress(fn func(sent, total int)) Option {
	return func(c *Config) {
		c.Progress = fn
	}
}

// WithSleep replaces the wait used between resends
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Config) {
		c.Sleep = fn
	}
}

// Sender runs one YModem transfer over a transport
type Sender struct {
	t     transport.Transport
	cfg   Config
	retry *retry.Engine
	state State
	seq   byte

	// Resends counts packets sent more than once
	Resends int
}

// NewSender creates a sender on t
func NewSender(t transport.Transport, opts ...Option) *Sender {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	s := &Sender{t: t, cfg: cfg}
	s.retry = &retry.Engine{
		Sleep: cfg.Sleep,
		OnRetry: func(op string, attempt int, class retry.Class, err error) {
			s.Resends++
		},
	}
	return s
}

// State returns the current transfer state
func (s *Sender) State() State {
	return s.state
}

func (s *Sender) setState(st State) {
	glog.V(1).Infof("ymodem: %s -> %s", s.state, st)
	s.state = st
}

// Send transfers data as file name. On any failure the sender ends in
// StateAborted and tells the receiver with CAN CAN.
func (s *Sender) Send(ctx context.Context, name string, data []byte) error {
	s.state = StateAwaitHandshake
	err := s.send(ctx, name, data)
	if err == nil {
		s.setState(StateDone)
		glog.Infof("ymodem: sent %s (%d bytes, %d resends)", name, len(data), s.Resends)
		return nil
	}
	s.setState(StateAborted)
	if !flasherr.IsDisconnected(err) {
		if werr := s.t.Write([]byte{CAN, CAN}); werr != nil {
			glog.Warningf("ymodem: failed to send abort: %v", werr)
		}
	}
	if ctx.Err() != nil && flasherr.KindOf(err) != flasherr.KindCancelled {
		return flasherr.Cancelled("ymodem", ctx.Err())
	}
	return err
}

func (s *Sender) send(ctx context.Context, name string, data []byte) error {
	header, err := HeaderPacket(name, len(data))
	if err != nil {
		return err
	}
	glog.Infof("ymodem: waiting for receiver")
	if err := s.awaitRequest(ctx, s.cfg.HandshakeTimeout); err != nil {
		return err
	}

	s.setState(StateSendHeader)
	if err := s.sendPacket(ctx, "header", header); err != nil {
		return err
	}
	if err := s.awaitRequest(ctx, s.cfg.AckTimeout); err != nil {
		return err
	}

	s.setState(StateSendData)
	s.seq = 1
	for off := 0; off < len(data); {
		if err := ctx.Err(); err != nil {
			return flasherr.Cancelled("ymodem", err)
		}
		size := s.packetSize(len(data) - off)
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		p, err := Packet(s.seq, data[off:end], size, DataPad)
		if err != nil {
			return err
		}
		if err := s.sendPacket(ctx, fmt.Sprintf("packet %d", s.seq), p); err != nil {
			return err
		}
		off = end
		s.seq++
		if s.cfg.Progress != nil {
			s.cfg.Progress(off, len(data))
		}
	}

	s.setState(StateSendEOT)
	if err := s.sendEOT(ctx); err != nil {
		return err
	}
	// The receiver asks for the next file; the closing packet says there
	// is none
	if err := s.awaitRequest(ctx, s.cfg.AckTimeout); err != nil {
		if flasherr.KindOf(err) != flasherr.KindTimeout {
			return err
		}
		glog.V(1).Infof("ymodem: no request for next file, closing anyway")
	}
	return s.sendPacket(ctx, "closing packet", ClosingPacket())
}

// packetSize picks the payload size for the remaining bytes: 128 for a
// short tail, 1 KiB when 16 KiB would mostly be padding
func (s *Sender) packetSize(remaining int) int {
	switch {
	case remaining <= BlockSize128:
		return BlockSize128
	case remaining <= BlockSize1K:
		return BlockSize1K
	}
	return s.cfg.BlockSize
}

// readByte waits up to timeout for one reply byte
func (s *Sender) readByte(timeout time.Duration) (byte, bool, error) {
	b, err := s.t.Read(1, timeout)
	if err != nil {
		return 0, false, err
	}
	if len(b) == 0 {
		return 0, false, nil
	}
	return b[0], true, nil
}

// awaitRequest waits for a 'C' from the receiver. Other bytes are
// ignored; a CAN aborts.
func (s *Sender) awaitRequest(ctx context.Context, timeout time.Duration) error {
	polls := int(timeout / pollInterval)
	if polls < 1 {
		polls = 1
	}
	for i := 0; i < polls; i++ {
		if err := ctx.Err(); err != nil {
			return flasherr.Cancelled("ymodem", err)
		}
		b, ok, err := s.readByte(pollInterval)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		switch b {
		case CRCRequest:
			return nil
		case CAN:
			return flasherr.New(flasherr.KindCancelled, "ymodem", ErrAborted)
		}
	}
	return flasherr.New(flasherr.KindTimeout, "ymodem", fmt.Errorf("no request from receiver within %v", timeout))
}

// awaitAck reads the reply to a packet or EOT. A single CAN aborts.
func (s *Sender) awaitAck(op string) error {
	b, ok, err := s.readByte(s.cfg.AckTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return flasherr.New(flasherr.KindTimeout, op, fmt.Errorf("no reply within %v", s.cfg.AckTimeout))
	}
	switch b {
	case ACK:
		return nil
	case NAK:
		return flasherr.New(flasherr.KindProtocolMismatch, op, errNAK)
	case CAN:
		return flasherr.New(flasherr.KindCancelled, op, ErrAborted)
	}
	return &unexpectedError{Op: op, Byte: b}
}

// sendPacket writes p until the receiver acknowledges it
func (s *Sender) sendPacket(ctx context.Context, op string, p []byte) error {
	return s.retry.Do(ctx, "ymodem "+op, func(ctx context.Context) error {
		if err := s.t.Write(p); err != nil {
			return err
		}
		return s.awaitAck(op)
	}, retry.WithMaxRetries(s.cfg.Retries))
}

// sendEOT ends the file. Receivers commonly NAK the first EOT; the
// resend is the second EOT they expect.
func (s *Sender) sendEOT(ctx context.Context) error {
	return s.retry.Do(ctx, "ymodem EOT", func(ctx context.Context) error {
		if err := s.t.Write([]byte{EOT}); err != nil {
			return err
		}
		return s.awaitAck("EOT")
	}, retry.WithMaxRetries(s.cfg.Retries))
}
