// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

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

// DefaultLinkAttempts bounds a link check on an already running ROM
const DefaultLinkAttempts = 10

// LinkCheck sends link checks until one is answered correctly or attempts
// run out. Each attempt waits up to interval for the reply. The error
// tells an absent device (ErrDeviceAbsent) from one that answered with
// garbage (ErrDeviceBusy).
func (e *Executor) LinkCheck(ctx context.Context, attempts int, interval time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	busy := false
	var last error
	for i := 0; i < attempts; i++ {
		start := time.Now()
		_, err := e.Execute(ctx, bootrom.LinkCheck{}, interval)
		if err == nil {
			glog.V(1).Infof("link established after %d attempts", i+1)
			return nil
		}
		last = err
		switch {
		case flasherr.IsDisconnected(err), flasherr.KindOf(err) == flasherr.KindCancelled:
			return err
		case heardSomething(err):
			busy = true
		}
		if err := e.sleep(ctx, interval-time.Since(start)); err != nil {
			return flasherr.Cancelled("LinkCheck", err)
		}
	}
	glog.V(1).Infof("link check failed after %d attempts: %v", attempts, last)
	if busy {
		return fmt.Errorf("link check failed after %d attempts: %w", attempts, ErrDeviceBusy)
	}
	return fmt.Errorf("link check failed after %d attempts: %w", attempts, ErrDeviceAbsent)
}

// heardSomething reports whether a failed attempt received any bytes
func heardSomething(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Received > 0
	}
	return flasherr.KindOf(err) == flasherr.KindProtocolMismatch
}

// EnterBootloader resets the chip through RTS and catches the boot ROM's
// short listening window with a burst of link checks
func (e *Executor) EnterBootloader(ctx context.Context) error {
	p := e.codec.Profile()
	glog.Infof("resetting %s into boot ROM", p.Name)

	if err := e.t.SetControlSignals(false, true); err != nil {
		return fmt.Errorf("failed to assert reset: %w", err)
	}
	if err := e.sleep(ctx, p.ResetPulse); err != nil {
		return flasherr.Cancelled("EnterBootloader", err)
	}
	if err := e.t.SetControlSignals(false, false); err != nil {
		return fmt.Errorf("failed to release reset: %w", err)
	}

	if err := e.LinkCheck(ctx, p.EntryAttempts, p.EntryInterval); err != nil {
		return fmt.Errorf("failed to enter boot ROM: %w", err)
	}
	return nil
}

// SetBaud switches both ends of the link to baud. The command is sent at
// the old rate; the local port switches after half the settle delay and
// the reply arrives at the new rate.
func (e *Executor) SetBaud(ctx context.Context, baud int) error {
	setter, ok := e.t.(transport.BaudRateSetter)
	if !ok {
		return fmt.Errorf("transport cannot change baud rate")
	}
	settle := e.codec.Profile().BaudSettleDelay
	cmd := bootrom.SetBaud{Baud: uint32(baud), DelayMs: uint8(settle / time.Millisecond)}

	_, err := e.exchange(ctx, cmd, BaudTimeout, func() error {
		if err := e.sleep(ctx, settle/2); err != nil {
			return flasherr.Cancelled(cmd.Name(), err)
		}
		return setter.SetBaudRate(baud)
	})
	if err != nil {
		return err
	}
	if err := e.sleep(ctx, settle/2); err != nil {
		return flasherr.Cancelled(cmd.Name(), err)
	}
	glog.Infof("baud rate switched to %d", baud)
	return nil
}

// Resync drops stale input and confirms the ROM still answers
func (e *Executor) Resync(ctx context.Context) error {
	if err := e.flush(); err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	return e.LinkCheck(ctx, 3, LinkCheckTimeout)
}

// Reboot restarts the chip into its application. The ROM does not answer.
func (e *Executor) Reboot(ctx context.Context) error {
	_, err := e.Execute(ctx, bootrom.Reboot{}, 0)
	return err
}

// ReadRegister reads one 32-bit register
func (e *Executor) ReadRegister(ctx context.Context, addr uint32) (uint32, error) {
	f, err := e.Execute(ctx, bootrom.ReadReg{Address: addr}, RegisterTimeout)
	if err != nil {
		return 0, err
	}
	return f.Value, nil
}

// ChipID reads the family's chip identification register
func (e *Executor) ChipID(ctx context.Context) (uint32, error) {
	return e.ReadRegister(ctx, e.codec.Profile().ChipIDRegister)
}

// FlashID reads the 24-bit manufacturer ID of the attached flash part
func (e *Executor) FlashID(ctx context.Context) (uint32, error) {
	f, err := e.Execute(ctx, bootrom.FlashGetMID{}, RegisterTimeout)
	if err != nil {
		return 0, err
	}
	return f.ManufacturerID, nil
}
