// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"context"
	"time"

	"github.com/Thermoquad/kiln/pkg/link"
)

// PartialFailurePolicy bounds how many sectors may fail CRC verification
// before the whole verification is reported as failed
type PartialFailurePolicy struct {
	AllowPartialFailure bool
	MaxFailures         int
}

// budget returns the number of failed regions tolerated
func (p PartialFailurePolicy) budget() int {
	if !p.AllowPartialFailure {
		return 0
	}
	return p.MaxFailures
}

// Config holds the flasher configuration
type Config struct {
	// Retries bounds the recovery attempts per written sector
	Retries int

	// PartialFailure applies to CRC verification only; writes never
	// succeed partially
	PartialFailure PartialFailurePolicy

	// ProtectAfterWrite restores flash protection as the last step of Write
	ProtectAfterWrite bool

	// VerifyAfterFlash runs a full image verification at the end of Flash
	VerifyAfterFlash bool

	// ResetOnConnect pulses RTS to enter the boot ROM before the first
	// link check
	ResetOnConnect bool

	// BaudRate is switched to after connecting; 0 keeps the current rate
	BaudRate int

	// Sleep waits between retries; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// defaultConfig returns the default configuration
func defaultConfig() Config {
	return Config{
		Retries:           5,
		ProtectAfterWrite: true,
		VerifyAfterFlash:  true,
		ResetOnConnect:    true,
		Sleep:             link.Sleep,
	}
}

// Option is a functional option for configuring a Flasher
type Option func(*Config)

// WithRetries sets the per-sector recovery budget of the write engine
func WithRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.Retries = n
		}
	}
}

// WithPartialFailure lets verification tolerate up to max failed sectors
//
// Example:
//
//	f, err := flash.Connect(ctx, port, bootrom.FamilyBK7231,
//	    flash.WithPartialFailure(2),
//	)
func WithPartialFailure(max int) Option {
	return func(c *Config) {
		c.PartialFailure = PartialFailurePolicy{AllowPartialFailure: true, MaxFailures: max}
	}
}

// WithProtect enables or disables re-protecting flash after a write
func WithProtect(enabled bool) Option {
	return func(c *Config) {
		c.ProtectAfterWrite = enabled
	}
}

// WithVerify enables or disables the final verification of Flash
func WithVerify(enabled bool) Option {
	return func(c *Config) {
		c.VerifyAfterFlash = enabled
	}
}

// WithReset enables or disables the reset pulse on Connect
func WithReset(enabled bool) Option {
	return func(c *Config) {
		c.ResetOnConnect = enabled
	}
}

// WithBaudRate switches the link to baud after connecting
func WithBaudRate(baud int) Option {
	return func(c *Config) {
		c.BaudRate = baud
	}
}

// WithSleep replaces the wait used between retries and link attempts
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Config) {
		c.Sleep = fn
	}
}
