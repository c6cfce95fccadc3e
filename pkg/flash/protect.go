// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/pkg/bootrom"
)

// ReadStatusRegister returns the status register, SR2 in the high byte
// on parts that have one
func (f *Flasher) ReadStatusRegister(ctx context.Context) (uint16, error) {
	fields, err := f.command(ctx, "read status register", 0, bootrom.FlashReadSR{Register: bootrom.SPIReadSR1})
	if err != nil {
		return 0, err
	}
	sr := uint16(fields.StatusRegister[0])
	if f.desc.StatusRegisterBytes > 1 {
		fields, err = f.command(ctx, "read status register 2", 0, bootrom.FlashReadSR{Register: bootrom.SPIReadSR2})
		if err != nil {
			return 0, err
		}
		sr |= uint16(fields.StatusRegister[0]) << 8
	}
	return sr, nil
}

func (f *Flasher) writeStatusRegister(ctx context.Context, sr uint16) error {
	values := []byte{byte(sr)}
	if f.desc.StatusRegisterBytes > 1 {
		values = append(values, byte(sr>>8))
	}
	_, err := f.command(ctx, "write status register", 0, bootrom.FlashWriteSR{Register: bootrom.SPIWriteSR, Values: values})
	return err
}

// Protect sets the block protection bits of the flash part
func (f *Flasher) Protect(ctx context.Context) error {
	glog.Infof("protecting flash")
	return f.setProtection(ctx, f.desc.ProtectValue)
}

// Unprotect clears the block protection bits of the flash part
func (f *Flasher) Unprotect(ctx context.Context) error {
	glog.Infof("unprotecting flash")
	return f.setProtection(ctx, f.desc.UnprotectValue)
}

// setProtection reads the status register and writes it back only when
// the masked protection bits differ from target. Bits outside the mask
// are preserved. The result is read back and checked.
func (f *Flasher) setProtection(ctx context.Context, target uint16) error {
	mask := f.desc.ProtectMask
	cur, err := f.ReadStatusRegister(ctx)
	if err != nil {
		return err
	}
	if cur&mask == target&mask {
		glog.V(1).Infof("status register 0x%04X already in target state", cur)
		return nil
	}

	next := (cur &^ mask) | (target & mask)
	glog.V(1).Infof("status register 0x%04X -> 0x%04X", cur, next)
	if err := f.writeStatusRegister(ctx, next); err != nil {
		return err
	}

	got, err := f.ReadStatusRegister(ctx)
	if err != nil {
		return err
	}
	if got&mask != target&mask {
		return fmt.Errorf("status register readback 0x%04X: protection bits 0x%04X, want 0x%04X",
			got, got&mask, target&mask)
	}
	return nil
}

// Protected reports whether any protection bit is set
func (f *Flasher) Protected(ctx context.Context) (bool, error) {
	sr, err := f.ReadStatusRegister(ctx)
	if err != nil {
		return false, err
	}
	return sr&f.desc.ProtectMask != 0, nil
}
