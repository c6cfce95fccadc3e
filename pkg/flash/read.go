// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"context"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/pkg/bootrom"
)

// Read returns length bytes of flash starting at addr
func (f *Flasher) Read(ctx context.Context, addr, length uint32, obs Observer) ([]byte, error) {
	if err := f.checkRange("read", addr, int(length)); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	start := AlignDown(uint64(addr), bootrom.SectorSize)
	end := AlignUp(uint64(addr)+uint64(length), bootrom.SectorSize)
	total := int((end - start) / bootrom.SectorSize)
	glog.Infof("reading 0x%08X+0x%X (%d sectors)", addr, length, total)

	rep := newReporter(obs, PhaseRead, total)
	buf := make([]byte, 0, end-start)
	for i := 0; i < total; i++ {
		if err := cancelled(ctx, "read"); err != nil {
			return nil, err
		}
		sa := uint32(start) + uint32(i)*bootrom.SectorSize
		sector, err := f.readSector(ctx, sa)
		if err != nil {
			return nil, err
		}
		buf = append(buf, sector...)
		rep.report(i+1, sa, len(buf))
	}
	off := uint64(addr) - start
	return buf[off : off+uint64(length)], nil
}

func (f *Flasher) readSector(ctx context.Context, addr uint32) ([]byte, error) {
	fields, err := f.command(ctx, "read sector", addr, bootrom.FlashRead4K{Address: addr})
	if err != nil {
		return nil, err
	}
	f.stats.BytesRead += uint64(len(fields.Data))
	return fields.Data, nil
}
