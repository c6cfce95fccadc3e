// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package retry classifies flashing failures and runs operations under the
// backoff policy of their class. Every retrying call site in Kiln goes
// through Engine so the attempt budgets and delays live in one table.
package retry

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/pkg/flasherr"
)

// Class is the retry class of an error
type Class int

// Retry classes
const (
	ClassUnknown Class = iota
	ClassTimeout
	ClassCrcMismatch
	ClassCommunication
	ClassHardware
)

// String returns the class name used in logs
func (c Class) String() string {
	switch c {
	case ClassTimeout:
		return "timeout"
	case ClassCrcMismatch:
		return "crc_mismatch"
	case ClassCommunication:
		return "communication"
	case ClassHardware:
		return "hardware"
	default:
		return "unknown"
	}
}

// MaxDelay caps every backoff delay
const MaxDelay = 2000 * time.Millisecond

// Policy is the retry budget and backoff curve of one class
type Policy struct {
	Class      Class
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

var policies = map[Class]Policy{
	ClassTimeout:       {ClassTimeout, 3, 100 * time.Millisecond, 2.0},
	ClassCrcMismatch:   {ClassCrcMismatch, 2, 50 * time.Millisecond, 1.5},
	ClassCommunication: {ClassCommunication, 5, 200 * time.Millisecond, 1.8},
	ClassHardware:      {ClassHardware, 1, 500 * time.Millisecond, 1.0},
	ClassUnknown:       {ClassUnknown, 3, 100 * time.Millisecond, 1.5},
}

// PolicyFor returns the policy of a class
func PolicyFor(c Class) Policy {
	if p, ok := policies[c]; ok {
		return p
	}
	return policies[ClassUnknown]
}

// Delay returns the wait before retry number attempt (0-based):
// min(base * multiplier^attempt, MaxDelay)
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d >= float64(MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return MaxDelay
	}
	return time.Duration(d)
}

// Keywords matched case-insensitively against the error text, checked in
// this order
var keywords = []struct {
	class Class
	words []string
}{
	{ClassTimeout, []string{"timeout", "timed out", "deadline"}},
	{ClassCrcMismatch, []string{"crc", "checksum"}},
	{ClassCommunication, []string{"mismatch", "protocol", "communication", "serial", "port", "link"}},
	{ClassHardware, []string{"hardware", "status", "flash", "erase", "protect"}},
}

// Classify maps an error to its retry class. Typed kinds are consulted
// first; everything else falls back to keyword matching on the message.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	switch flasherr.KindOf(err) {
	case flasherr.KindTimeout:
		return ClassTimeout
	case flasherr.KindCrcMismatch:
		return ClassCrcMismatch
	case flasherr.KindProtocolMismatch:
		return ClassCommunication
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage maps an error description to its retry class
func ClassifyMessage(msg string) Class {
	msg = strings.ToLower(msg)
	for _, k := range keywords {
		for _, w := range k.words {
			if strings.Contains(msg, w) {
				return k.class
			}
		}
	}
	return ClassUnknown
}

// Retriable reports whether err may be retried at all. Lost transports and
// cancellations short-circuit every policy.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// An exhausted inner budget stays exhausted
	if errors.Is(err, flasherr.ErrFatal) {
		return false
	}
	switch flasherr.KindOf(err) {
	case flasherr.KindDeviceDisconnected, flasherr.KindCancelled:
		return false
	}
	return true
}

// Engine runs operations under their class policy
type Engine struct {
	// Sleep waits between attempts; it must return early with ctx.Err()
	// when ctx is cancelled. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each retry
	OnRetry func(op string, attempt int, class Class, err error)
}

// Option adjusts a single Do call
type Option func(*doConfig)

type doConfig struct {
	maxRetries int // -1 keeps the class budget
	address    uint32
	hasAddress bool
}

// WithMaxRetries replaces the class budget for one call site
func WithMaxRetries(n int) Option {
	return func(c *doConfig) {
		c.maxRetries = n
	}
}

// WithAddress names the flash address in the error returned on exhaustion
func WithAddress(addr uint32) Option {
	return func(c *doConfig) {
		c.address = addr
		c.hasAddress = true
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

// Do runs fn until it succeeds, the error is not retriable, or the policy
// of the error's class is exhausted. The class is re-evaluated after every
// failure so the budget follows the most recent error. Exhaustion returns a
// Fatal error wrapping the last failure.
func (e *Engine) Do(ctx context.Context, op string, fn func(ctx context.Context) error, opts ...Option) error {
	cfg := doConfig{maxRetries: -1}
	for _, o := range opts {
		o(&cfg)
	}
	sleep := sleepCtx
	if e != nil && e.Sleep != nil {
		sleep = e.Sleep
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return flasherr.Cancelled(op, err)
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !Retriable(err) {
			if ctx.Err() != nil && flasherr.KindOf(err) == flasherr.KindUnknown {
				return flasherr.Cancelled(op, err)
			}
			return err
		}

		class := Classify(err)
		p := PolicyFor(class)
		budget := p.MaxRetries
		if cfg.maxRetries >= 0 {
			budget = cfg.maxRetries
		}
		if attempt >= budget {
			glog.Warningf("%s: giving up after %d attempts (%s): %v", op, attempt+1, class, err)
			if cfg.hasAddress {
				return flasherr.AtAddress(flasherr.KindFatal, op, cfg.address, err)
			}
			return flasherr.New(flasherr.KindFatal, op, err)
		}

		delay := p.Delay(attempt)
		glog.Warningf("%s: attempt %d failed (%s), retrying in %v: %v", op, attempt+1, class, delay, err)
		if e != nil && e.OnRetry != nil {
			e.OnRetry(op, attempt+1, class, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return flasherr.Cancelled(op, err)
		}
	}
}
