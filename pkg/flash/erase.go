// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"context"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/pkg/bootrom"
)

// Erase erases the sector-aligned window inside [addr, addr+length) using
// the PlanErase operations. Partial edge sectors are left alone.
func (f *Flasher) Erase(ctx context.Context, addr, length uint32, obs Observer) error {
	if err := f.checkRange("erase", addr, int(length)); err != nil {
		return err
	}
	ops := PlanErase(addr, length)
	blocks, sectors := EraseTotals(addr, length)
	glog.Infof("erasing 0x%08X+0x%X: %d blocks, %d sectors", addr, length, blocks, sectors)

	rep := newReporter(obs, PhaseErase, len(ops))
	rep.report(0, addr, 0)
	done := 0
	for i, op := range ops {
		if err := cancelled(ctx, "erase"); err != nil {
			return err
		}
		if err := f.eraseOp(ctx, op); err != nil {
			return err
		}
		done += int(op.Bytes())
		rep.report(i+1, op.Address, done)
	}
	return nil
}

func (f *Flasher) eraseOp(ctx context.Context, op EraseOp) error {
	glog.V(1).Infof("%s", op)
	if _, err := f.command(ctx, "erase "+op.Size.String(), op.Address, op.Command()); err != nil {
		return err
	}
	if op.Size == bootrom.EraseBlock64K {
		f.stats.BlocksErased++
	} else {
		f.stats.SectorsErased++
	}
	return nil
}

// EraseChip erases the whole flash part with one command, retried under
// the policy of its failure
func (f *Flasher) EraseChip(ctx context.Context, obs Observer) error {
	rep := newReporter(obs, PhaseErase, 1)
	rep.report(0, 0, 0)
	glog.Infof("erasing entire flash")
	if _, err := f.command(ctx, "erase chip", 0, bootrom.FlashEraseAll{}); err != nil {
		return err
	}
	rep.report(1, 0, int(f.desc.SizeBytes))
	return nil
}
