// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"bytes"
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/pkg/bootrom"
	"github.com/Thermoquad/kiln/pkg/link"
	"github.com/Thermoquad/kiln/pkg/retry"
)

// Sector is one 4 KiB unit of a write
type Sector struct {
	Address uint32
	Data    []byte

	// Edge is set for sectors only partly covered by the image. Their
	// remaining bytes come from flash and they are erased by the writer.
	Edge bool

	// image bytes occupy Data[lo:hi]
	lo, hi int
}

// Sectorize splits data at addr into 4 KiB sectors, in address order.
// Bytes of edge sectors outside the image are left as 0xFF.
func Sectorize(addr uint32, data []byte) []Sector {
	if len(data) == 0 {
		return nil
	}
	end := uint64(addr) + uint64(len(data))
	start := AlignDown(uint64(addr), bootrom.SectorSize)
	var sectors []Sector
	for sa := start; sa < end; sa += bootrom.SectorSize {
		buf := bytes.Repeat([]byte{0xFF}, bootrom.SectorSize)
		lo, hi := sa, sa+bootrom.SectorSize
		if lo < uint64(addr) {
			lo = uint64(addr)
		}
		if hi > end {
			hi = end
		}
		copy(buf[lo-sa:], data[lo-uint64(addr):hi-uint64(addr)])
		sectors = append(sectors, Sector{
			Address: uint32(sa),
			Data:    buf,
			Edge:    lo != sa || hi != sa+bootrom.SectorSize,
			lo:      int(lo - sa),
			hi:      int(hi - sa),
		})
	}
	return sectors
}

// Write clears flash protection, programs data at addr and then restores
// protection when ProtectAfterWrite is set. Whole sectors are expected to be
// erased already; edge sectors are read, merged and erased here.
func (f *Flasher) Write(ctx context.Context, addr uint32, data []byte, obs Observer) error {
	if err := f.checkRange("write", addr, len(data)); err != nil {
		return err
	}
	if err := f.Unprotect(ctx); err != nil {
		return fmt.Errorf("failed to unprotect flash: %w", err)
	}
	if err := f.write(ctx, addr, data, obs); err != nil {
		return err
	}
	if !f.cfg.ProtectAfterWrite {
		return nil
	}
	return f.Protect(ctx)
}

func (f *Flasher) write(ctx context.Context, addr uint32, data []byte, obs Observer) error {
	if err := f.checkRange("write", addr, len(data)); err != nil {
		return err
	}
	sectors := Sectorize(addr, data)
	glog.Infof("writing 0x%08X+0x%X (%d sectors)", addr, len(data), len(sectors))

	rep := newReporter(obs, PhaseWrite, len(sectors))
	rep.report(0, addr, 0)
	written := 0
	for i, s := range sectors {
		if err := cancelled(ctx, "write"); err != nil {
			return err
		}
		if err := f.writeOne(ctx, s); err != nil {
			return err
		}
		written += bootrom.SectorSize
		rep.report(i+1, s.Address, written)
	}
	return nil
}

// writeOne writes a sector unless it is blank, merging edge sectors with
// the bytes already in flash
func (f *Flasher) writeOne(ctx context.Context, s Sector) error {
	erase := false
	if s.Edge {
		current, err := f.readSector(ctx, s.Address)
		if err != nil {
			return err
		}
		merged := mergeEdge(s, current)
		if bytes.Equal(merged, current) {
			glog.V(1).Infof("sector 0x%08X unchanged", s.Address)
			f.stats.SectorsSkipped++
			return nil
		}
		f.stats.SectorsRMW++
		erase = !isBlank(current)
		s.Data = merged
	}
	if isBlank(s.Data) && !erase {
		f.stats.SectorsSkipped++
		return nil
	}
	return f.writeSector(ctx, s, erase)
}

// mergeEdge keeps the flash bytes of an edge sector that the image does
// not cover
func mergeEdge(s Sector, current []byte) []byte {
	merged := append([]byte(nil), current...)
	copy(merged[s.lo:s.hi], s.Data[s.lo:s.hi])
	return merged
}

// writeSector programs one sector and checks it with the device CRC.
// Every retry resynchronizes the link, erases the sector and writes it
// again. Exhausting the budget aborts with a Fatal error naming the
// sector.
func (f *Flasher) writeSector(ctx context.Context, s Sector, erase bool) error {
	attempt := 0
	err := f.do(ctx, "write sector", s.Address, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			f.stats.Recoveries++
			glog.Warningf("recovering sector 0x%08X (attempt %d)", s.Address, attempt)
			if err := f.exec.Resync(ctx); err != nil {
				return err
			}
		}
		if erase || attempt > 1 {
			op := EraseOp{Address: s.Address, Size: bootrom.EraseSector4K}
			if _, err := f.exec.Execute(ctx, op.Command(), link.Erase4KTimeout); err != nil {
				return err
			}
			f.stats.SectorsErased++
		}
		cmd := bootrom.FlashWrite4K{Address: s.Address, Data: s.Data}
		if _, err := f.exec.Execute(ctx, cmd, link.Write4KTimeout); err != nil {
			return err
		}
		if _, err := f.compareCRC(ctx, s.Address, s.Data); err != nil {
			f.stats.CRCFailures++
			return err
		}
		return nil
	}, retry.WithMaxRetries(f.cfg.Retries))
	if err != nil {
		return err
	}
	f.stats.SectorsWritten++
	f.stats.BytesWritten += uint64(len(s.Data))
	return nil
}
