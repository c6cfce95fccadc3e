// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"fmt"

	"github.com/Thermoquad/kiln/pkg/bootrom"
)

// EraseOp is one erase command of a plan
type EraseOp struct {
	Address uint32
	Size    bootrom.EraseSize
}

// Bytes returns the number of bytes the operation erases
func (op EraseOp) Bytes() uint32 {
	return op.Size.Bytes()
}

// Command returns the boot ROM command carrying out the operation
func (op EraseOp) Command() bootrom.FlashErase {
	return bootrom.FlashErase{Size: op.Size, Address: op.Address}
}

// String returns the operation for logs
func (op EraseOp) String() string {
	return fmt.Sprintf("erase %s at 0x%08X", op.Size, op.Address)
}

// AlignUp rounds addr up to a multiple of align (a power of two)
func AlignUp(addr, align uint64) uint64 {
	return (addr + align - 1) &^ (align - 1)
}

// AlignDown rounds addr down to a multiple of align (a power of two)
func AlignDown(addr, align uint64) uint64 {
	return addr &^ (align - 1)
}

// EraseWindow returns the sector-aligned range [start, end) lying fully
// inside [addr, addr+length). Partial sectors at either edge are excluded;
// the write engine handles them with read-modify-write.
func EraseWindow(addr, length uint32) (start, end uint64) {
	start = AlignUp(uint64(addr), bootrom.SectorSize)
	end = AlignDown(uint64(addr)+uint64(length), bootrom.SectorSize)
	if end <= start {
		return start, start
	}
	return start, end
}

// PlanErase returns the erase operations covering the erase window of
// [addr, addr+length), in address order. While more than one block
// remains, a 64 KiB block is erased whenever the address is block
// aligned, otherwise a 4 KiB sector; the last 64 KiB or less is erased in
// sectors. The plan never reaches past the window.
func PlanErase(addr, length uint32) []EraseOp {
	start, end := EraseWindow(addr, length)
	var ops []EraseOp
	for a := start; a < end; {
		if end-a > bootrom.BlockSize && a%bootrom.BlockSize == 0 {
			ops = append(ops, EraseOp{Address: uint32(a), Size: bootrom.EraseBlock64K})
			a += bootrom.BlockSize
			continue
		}
		ops = append(ops, EraseOp{Address: uint32(a), Size: bootrom.EraseSector4K})
		a += bootrom.SectorSize
	}
	return ops
}

// EraseTotals counts the block and sector operations PlanErase emits, for
// progress reporting before erasing starts
func EraseTotals(addr, length uint32) (blocks, sectors int) {
	for _, op := range PlanErase(addr, length) {
		if op.Size == bootrom.EraseBlock64K {
			blocks++
		} else {
			sectors++
		}
	}
	return blocks, sectors
}
