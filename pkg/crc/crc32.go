// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package crc provides the checksums spoken by the supported boot ROMs.
//
// CRC32 is the reflected IEEE polynomial 0xEDB88320 seeded with 0xFFFFFFFF
// and returned without the final complement, which is the register value the
// BK and T5 ROMs report for their CheckCRC commands. CRC16 is CCITT
// (polynomial 0x1021) seeded with 0, as used by YModem.
package crc

import "hash/crc32"

// CRC32 configuration
const (
	CRC32Polynomial = crc32.IEEE // 0xEDB88320, reflected
	CRC32Initial    = 0xFFFFFFFF
)

// CalculateCRC32 computes the boot ROM CRC32 register value for data
func CalculateCRC32(data []byte) uint32 {
	return UpdateCRC32(CRC32Initial, data)
}

// UpdateCRC32 continues a CRC32 computation from a previous register value
func UpdateCRC32(crc uint32, data []byte) uint32 {
	// crc32.Update complements on entry and exit; undo both so the raw
	// register is carried between calls.
	return ^crc32.Update(^crc, crc32.IEEETable, data)
}
