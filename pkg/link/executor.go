// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link runs boot ROM commands over a Transport: one request frame
// out, one validated response back, within a hard deadline.
package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/pkg/bootrom"
	"github.com/Thermoquad/kiln/pkg/flasherr"
	"github.com/Thermoquad/kiln/pkg/transport"
)

// Per-command deadlines
const (
	LinkCheckTimeout = 50 * time.Millisecond
	RegisterTimeout  = 500 * time.Millisecond
	BaudTimeout      = 500 * time.Millisecond
	StatusRegTimeout = 500 * time.Millisecond
	Erase4KTimeout   = 1 * time.Second
	Erase64KTimeout  = 3 * time.Second
	Write4KTimeout   = 1 * time.Second
	Read4KTimeout    = 2 * time.Second
	EraseAllTimeout  = 60 * time.Second
	crcBaseTimeout   = 100 * time.Millisecond
	crcPerKiB        = 2 * time.Millisecond
	drainTimeout     = time.Millisecond
	maxDrainReads    = 64
	hexDumpLimit     = 32
)

// CRCTimeout returns the deadline of a CheckCRC over length bytes
func CRCTimeout(length uint32) time.Duration {
	return crcBaseTimeout + time.Duration((length+1023)/1024)*crcPerKiB
}

// TimeoutFor returns the default deadline for a command
func TimeoutFor(cmd bootrom.Command) time.Duration {
	switch v := cmd.(type) {
	case bootrom.LinkCheck:
		return LinkCheckTimeout
	case bootrom.SetBaud:
		return BaudTimeout
	case bootrom.CheckCRC:
		return CRCTimeout(v.Length)
	case bootrom.FlashWrite4K:
		return Write4KTimeout
	case bootrom.FlashRead4K:
		return Read4KTimeout
	case bootrom.FlashEraseAll:
		return EraseAllTimeout
	case bootrom.FlashReadSR, bootrom.FlashWriteSR:
		return StatusRegTimeout
	case bootrom.FlashErase:
		if v.Size == bootrom.EraseBlock64K {
			return Erase64KTimeout
		}
		return Erase4KTimeout
	}
	return RegisterTimeout
}

// Counters accumulates traffic totals for one executor
type Counters struct {
	FramesSent    uint64
	BytesSent     uint64
	BytesReceived uint64
	Timeouts      uint64
	Mismatches    uint64
	StatusErrors  uint64
}

// Executor sends commands and validates their responses. It is not safe
// for concurrent use: the wire protocol has one request in flight at most.
type Executor struct {
	t        transport.Transport
	codec    *bootrom.Codec
	counters Counters
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor
type Option func(*Executor)

// WithSleep replaces the context-aware sleep used between link attempts
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = fn
	}
}

// NewExecutor creates an executor speaking codec over t
func NewExecutor(t transport.Transport, codec *bootrom.Codec, opts ...Option) *Executor {
	e := &Executor{t: t, codec: codec, sleep: Sleep}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Codec returns the codec the executor speaks
func (e *Executor) Codec() *bootrom.Codec {
	return e.codec
}

// Transport returns the underlying transport
func (e *Executor) Transport() transport.Transport {
	return e.t
}

// Counters returns a snapshot of the traffic totals
func (e *Executor) Counters() Counters {
	return e.counters
}

// Execute sends cmd and waits up to timeout for its complete response.
// Decode failures are returned as ProtocolMismatch and never retried here.
func (e *Executor) Execute(ctx context.Context, cmd bootrom.Command, timeout time.Duration) (bootrom.Fields, error) {
	return e.exchange(ctx, cmd, timeout, nil)
}

// exchange is Execute with a hook run between the write and the read
func (e *Executor) exchange(ctx context.Context, cmd bootrom.Command, timeout time.Duration, afterWrite func() error) (bootrom.Fields, error) {
	if err := ctx.Err(); err != nil {
		return bootrom.Fields{}, flasherr.Cancelled(cmd.Name(), err)
	}

	frame, err := e.codec.Encode(cmd)
	if err != nil {
		return bootrom.Fields{}, err
	}
	want, _ := e.codec.ResponseLength(cmd)

	if err := e.flush(); err != nil {
		return bootrom.Fields{}, fmt.Errorf("%s: failed to flush serial input: %w", cmd.Name(), err)
	}

	out := frame.Bytes()
	if glog.V(2) {
		glog.Infof("TX %s: %s", cmd.Name(), hexDump(out))
	}
	if err := e.t.Write(out); err != nil {
		return bootrom.Fields{}, fmt.Errorf("%s: serial write failed: %w", cmd.Name(), err)
	}
	e.counters.FramesSent++
	e.counters.BytesSent += uint64(len(out))

	if afterWrite != nil {
		if err := afterWrite(); err != nil {
			return bootrom.Fields{}, err
		}
	}
	if want == 0 {
		return e.codec.DecodeAndCheck(nil, cmd)
	}

	resp, err := e.receive(want, timeout, func(buf []byte) bool {
		// A failing flash command may answer with a short status frame
		_, derr := e.codec.DecodeAndCheck(buf, cmd)
		return isStatus(derr)
	})
	if glog.V(2) && len(resp) > 0 {
		glog.Infof("RX %s: %s", cmd.Name(), hexDump(resp))
	}
	if err != nil {
		return bootrom.Fields{}, fmt.Errorf("%s: serial read failed: %w", cmd.Name(), err)
	}
	if len(resp) < want {
		if _, derr := e.codec.DecodeAndCheck(resp, cmd); isStatus(derr) {
			e.counters.StatusErrors++
			return bootrom.Fields{}, derr
		}
		e.counters.Timeouts++
		return bootrom.Fields{}, &TimeoutError{
			Command:  cmd.Name(),
			Timeout:  timeout,
			Expected: want,
			Received: len(resp),
		}
	}

	fields, err := e.codec.DecodeAndCheck(resp, cmd)
	if err != nil {
		if isStatus(err) {
			e.counters.StatusErrors++
			return bootrom.Fields{}, err
		}
		e.counters.Mismatches++
		return bootrom.Fields{}, flasherr.New(flasherr.KindProtocolMismatch, cmd.Name(), err)
	}
	return fields, nil
}

// receive accumulates bytes until want arrive, the deadline passes or
// early reports a complete short frame
func (e *Executor) receive(want int, timeout time.Duration, early func([]byte) bool) ([]byte, error) {
	buf := make([]byte, 0, want)
	deadline := time.Now().Add(timeout)
	for len(buf) < want {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		chunk, err := e.t.Read(want-len(buf), remaining)
		buf = append(buf, chunk...)
		e.counters.BytesReceived += uint64(len(chunk))
		if err != nil {
			return buf, err
		}
		if len(chunk) > 0 && len(buf) < want && early(buf) {
			break
		}
	}
	return buf, nil
}

// flush discards stale receive data
func (e *Executor) flush() error {
	if f, ok := e.t.(transport.InputFlusher); ok {
		return f.ResetInputBuffer()
	}
	for i := 0; i < maxDrainReads; i++ {
		stale, err := e.t.Read(4096, drainTimeout)
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		glog.V(2).Infof("discarded %d stale bytes", len(stale))
	}
	return nil
}

func isStatus(err error) bool {
	var se *bootrom.StatusError
	return errors.As(err, &se)
}

func hexDump(b []byte) string {
	if len(b) > hexDumpLimit {
		return fmt.Sprintf("% X ... (%d bytes)", b[:hexDumpLimit], len(b))
	}
	return fmt.Sprintf("% X", b)
}
