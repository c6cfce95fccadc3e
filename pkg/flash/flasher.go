// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flash orchestrates erasing, writing, verifying and protecting
// the SPI flash behind a BK or T5 boot ROM.
//
// A Flasher owns one link for its lifetime and runs strictly one command
// at a time. Long operations take an Observer that is called between
// steps, and check their context between steps; a command already on the
// wire always completes.
package flash

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/pkg/bootrom"
	"github.com/Thermoquad/kiln/pkg/flasherr"
	"github.com/Thermoquad/kiln/pkg/link"
	"github.com/Thermoquad/kiln/pkg/retry"
	"github.com/Thermoquad/kiln/pkg/transport"
)

// CRCMismatchError reports a region whose device CRC differs from the
// CRC of the expected bytes
type CRCMismatchError struct {
	Address  uint32
	Length   uint32
	Expected uint32
	Actual   uint32
}

// Error implements the error interface
func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("CRC mismatch at 0x%08X+0x%X: expected 0x%08X, device 0x%08X",
		e.Address, e.Length, e.Expected, e.Actual)
}

// Kind reports KindCrcMismatch
func (e *CRCMismatchError) Kind() flasherr.Kind {
	return flasherr.KindCrcMismatch
}

// Flasher runs flash operations over one executor
type Flasher struct {
	exec  *link.Executor
	desc  bootrom.FlashDescriptor
	cfg   Config
	retry *retry.Engine
	stats *Statistics
}

// New creates a Flasher for an established link and a known flash part
func New(exec *link.Executor, desc bootrom.FlashDescriptor, opts ...Option) *Flasher {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	f := &Flasher{
		exec:  exec,
		desc:  desc,
		cfg:   cfg,
		stats: NewStatistics(),
	}
	f.retry = &retry.Engine{
		Sleep: cfg.Sleep,
		OnRetry: func(op string, attempt int, class retry.Class, err error) {
			f.stats.Retries++
		},
	}
	return f
}

// Connect brings up the boot ROM link on t and identifies the flash part:
// optional reset into the ROM, link check, optional baud switch, then the
// manufacturer ID lookup
func Connect(ctx context.Context, t transport.Transport, family bootrom.Family, opts ...Option) (*Flasher, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	codec, err := bootrom.NewCodec(family)
	if err != nil {
		return nil, err
	}
	exec := link.NewExecutor(t, codec, link.WithSleep(cfg.Sleep))

	if cfg.ResetOnConnect {
		err = exec.EnterBootloader(ctx)
	} else {
		err = exec.LinkCheck(ctx, link.DefaultLinkAttempts, link.LinkCheckTimeout)
	}
	if err != nil {
		return nil, err
	}

	if cfg.BaudRate != 0 && cfg.BaudRate != codec.Profile().DefaultBaud {
		if err := exec.SetBaud(ctx, cfg.BaudRate); err != nil {
			return nil, fmt.Errorf("failed to switch to %d baud: %w", cfg.BaudRate, err)
		}
		if err := exec.LinkCheck(ctx, link.DefaultLinkAttempts, link.LinkCheckTimeout); err != nil {
			return nil, fmt.Errorf("link lost after baud switch: %w", err)
		}
	}

	f := New(exec, bootrom.FlashDescriptor{}, opts...)
	var mid uint32
	err = f.retry.Do(ctx, "read flash ID", func(ctx context.Context) error {
		var err error
		mid, err = exec.FlashID(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	desc, err := bootrom.FlashFromID(mid)
	if err != nil {
		return nil, err
	}
	f.desc = desc
	glog.Infof("flash: %s", desc)
	return f, nil
}

// Descriptor returns the flash part
func (f *Flasher) Descriptor() bootrom.FlashDescriptor {
	return f.desc
}

// Executor returns the command executor
func (f *Flasher) Executor() *link.Executor {
	return f.exec
}

// Statistics returns the session statistics with current link counters
func (f *Flasher) Statistics() *Statistics {
	f.stats.Link = f.exec.Counters()
	return f.stats
}

// Reboot leaves the boot ROM and starts the application
func (f *Flasher) Reboot(ctx context.Context) error {
	glog.Infof("rebooting")
	return f.exec.Reboot(ctx)
}

// checkRange rejects ranges past the end of the flash part
func (f *Flasher) checkRange(op string, addr uint32, length int) error {
	if f.desc.SizeBytes == 0 {
		return nil
	}
	if uint64(addr)+uint64(length) > uint64(f.desc.SizeBytes) {
		return fmt.Errorf("%s: range 0x%08X+0x%X exceeds %d byte flash", op, addr, length, f.desc.SizeBytes)
	}
	return nil
}

// command runs cmd under the retry policy of its failures. The returned
// error names addr.
func (f *Flasher) command(ctx context.Context, op string, addr uint32, cmd bootrom.Command, opts ...retry.Option) (bootrom.Fields, error) {
	var fields bootrom.Fields
	err := f.do(ctx, op, addr, func(ctx context.Context) error {
		var err error
		fields, err = f.exec.Execute(ctx, cmd, link.TimeoutFor(cmd))
		return err
	}, opts...)
	return fields, err
}

// do runs fn under the retry engine and attaches addr to any failure
func (f *Flasher) do(ctx context.Context, op string, addr uint32, fn func(ctx context.Context) error, opts ...retry.Option) error {
	err := f.retry.Do(ctx, op, fn, append(opts, retry.WithAddress(addr))...)
	f.stats.touch()
	if err == nil {
		return nil
	}
	var fe *flasherr.Error
	if errors.As(err, &fe) && fe.HasAddress {
		return err
	}
	return flasherr.AtAddress(flasherr.KindOf(err), op, addr, err)
}

func cancelled(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return flasherr.Cancelled(op, err)
	}
	return nil
}

func isBlank(b []byte) bool {
	for _, v := range b {
		if v != 0xFF {
			return false
		}
	}
	return true
}
