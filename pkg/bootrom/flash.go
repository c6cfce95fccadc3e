// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootrom

import "fmt"

// FlashDescriptor describes an SPI flash part identified during the
// handshake. Descriptors are immutable values taken from flashTable.
type FlashDescriptor struct {
	ManufacturerID uint32 // 24-bit JEDEC ID
	Name           string
	Vendor         string
	SizeBytes      uint32
	SectorSize     uint32
	BlockSize      uint32

	// StatusRegisterBytes is 1 when only SR1 exists, 2 when SR2 (opcode
	// 0x35) holds the upper byte
	StatusRegisterBytes int

	// Protection bits: only bits set in ProtectMask are ever changed
	UnprotectValue uint16
	ProtectValue   uint16
	ProtectMask    uint16
}

// String returns a one-line summary for logs
func (d FlashDescriptor) String() string {
	return fmt.Sprintf("%s %s (MID 0x%06X, %d KiB)", d.Vendor, d.Name, d.ManufacturerID, d.SizeBytes/1024)
}

// NeedsExtendedCRC reports whether CheckCRC must use the extended opcode
func (d FlashDescriptor) NeedsExtendedCRC() bool {
	return d.SizeBytes > ExtendedCRCThreshold
}

// Status register layouts shared by several vendors
const (
	srMask1   = 0x007C // BP0-BP4
	srMask2   = 0x407C // BP0-BP4 + CMP
	srProtect = 0x001C // BP0-BP2 set: whole array protected
)

func part(mid uint32, name, vendor string, size uint32, srBytes int, mask uint16) FlashDescriptor {
	return FlashDescriptor{
		ManufacturerID:      mid,
		Name:                name,
		Vendor:              vendor,
		SizeBytes:           size,
		SectorSize:          SectorSize,
		BlockSize:           BlockSize,
		StatusRegisterBytes: srBytes,
		UnprotectValue:      0x0000,
		ProtectValue:        srProtect,
		ProtectMask:         mask,
	}
}

const mib = 1024 * 1024

// flashTable lists the flash parts found on BK and T5 modules. Sizes follow
// the capacity byte of the JEDEC ID (0x14 → 8 MiB, 0x15 → 16 MiB, ...).
var flashTable = map[uint32]FlashDescriptor{
	0x1440C8: part(0x1440C8, "GD25Q80", "GigaDevice", 8*mib, 2, srMask2),
	0x1540C8: part(0x1540C8, "GD25Q16", "GigaDevice", 16*mib, 2, srMask2),
	0x1640C8: part(0x1640C8, "GD25Q32", "GigaDevice", 32*mib, 2, srMask2),
	0x1740C8: part(0x1740C8, "GD25Q64", "GigaDevice", 64*mib, 2, srMask2),
	0x144051: part(0x144051, "MD25D80", "GigaDevice", 8*mib, 1, srMask1),
	0x154051: part(0x154051, "MD25D16", "GigaDevice", 16*mib, 1, srMask1),
	0x1560EB: part(0x1560EB, "TH25Q16HB", "TH", 16*mib, 2, srMask2),
	0x15701C: part(0x15701C, "EN25QE16A", "Eon", 16*mib, 1, srMask1),
	0x1523C2: part(0x1523C2, "MX25V16", "Macronix", 16*mib, 1, srMask1),
	0x14325E: part(0x14325E, "ZB25VQ80", "Zbit", 8*mib, 2, srMask2),
	0x15325E: part(0x15325E, "ZB25VQ16", "Zbit", 16*mib, 2, srMask2),
	0x1560C4: part(0x1560C4, "GT25Q16", "Giantec", 16*mib, 2, srMask2),
	0x15400B: part(0x15400B, "XT25F16B", "XTX", 16*mib, 2, srMask2),
	0x16400B: part(0x16400B, "XT25F32B", "XTX", 32*mib, 2, srMask2),
	0x1640EF: part(0x1640EF, "W25Q32", "Winbond", 32*mib, 2, srMask2),
	0x1740EF: part(0x1740EF, "W25Q64", "Winbond", 64*mib, 2, srMask2),
	0x1A20C2: part(0x1A20C2, "MX25L51245G", "Macronix", 512*mib, 2, srMask2),
}

// LookupFlash returns the descriptor for a manufacturer ID
func LookupFlash(mid uint32) (FlashDescriptor, bool) {
	d, ok := flashTable[mid&0xFFFFFF]
	return d, ok
}

// FlashFromID returns the table descriptor for mid, or an error naming the
// unknown part
func FlashFromID(mid uint32) (FlashDescriptor, error) {
	if d, ok := LookupFlash(mid); ok {
		return d, nil
	}
	return FlashDescriptor{}, fmt.Errorf("unknown flash manufacturer ID 0x%06X", mid&0xFFFFFF)
}
