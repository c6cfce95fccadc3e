// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bootrom implements the command framing and response validation
// spoken by the BK-series and T5-series boot ROMs.
//
// Two frame shapes exist. Base commands carry a one-byte length:
//
//	TX: 01 E0 FC | len | cmd | payload
//	RX: 04 0E | len | 01 E0 FC | cmd | params/data
//
// Flash commands use the extended header with a little-endian u16 length
// and a status byte in the response:
//
//	TX: 01 E0 FC FF F4 | lenLo lenHi | cmd | payload
//	RX: 04 0E FF 01 E0 FC F4 | lenLo lenHi | cmd | status | params | data
//
// Responses echo the transmit header and the command parameters; every
// echoed byte is checked and any difference is reported as a MismatchError.
package bootrom

// Transmit and receive headers
var (
	baseTxHeader  = []byte{0x01, 0xE0, 0xFC}
	flashTxHeader = []byte{0x01, 0xE0, 0xFC, 0xFF, 0xF4}
	baseRxHeader  = []byte{0x04, 0x0E}
	flashRxHeader = []byte{0x04, 0x0E, 0xFF, 0x01, 0xE0, 0xFC, 0xF4}
)

// Frame geometry
const (
	baseLenOffset   = 2 // RX length byte
	baseEchoOffset  = 3 // RX copy of the TX header
	baseCmdOffset   = 6
	baseDataOffset  = 7
	flashLenOffset  = 7 // RX u16 length
	flashCmdOffset  = 9
	flashStatOffset = 10
	flashDataOffset = 11

	baseMinResponse  = baseDataOffset
	flashMinResponse = flashDataOffset
)

// Base command opcodes
const (
	OpLinkCheck   = 0x00
	OpWriteReg    = 0x01
	OpReadReg     = 0x03
	OpReboot      = 0x0E
	OpSetBaud     = 0x0F
	OpCheckCRC    = 0x10
	OpCheckCRCExt = 0x13

	// The ROM answers a link check with this command code
	OpLinkCheckReply = 0x01
)

// Flash command opcodes
const (
	OpFlashWrite4K  = 0x07
	OpFlashRead4K   = 0x09
	OpFlashEraseAll = 0x0A
	OpFlashReadSR   = 0x0C
	OpFlashWriteSR  = 0x0D
	OpFlashGetMID   = 0x0E
	OpFlashErase    = 0x0F
)

// SPI flash opcodes carried inside flash commands
const (
	SPIReadJEDECID = 0x9F
	SPIReadSR1     = 0x05
	SPIReadSR2     = 0x35
	SPIWriteSR     = 0x01
)

// RebootMagic is the payload of the Reboot command
const RebootMagic = 0xA5

// Flash geometry
const (
	SectorSize = 4096
	BlockSize  = 65536

	// Flash parts larger than this need the extended CRC command
	ExtendedCRCThreshold = 256 * 1024 * 1024
)

// EraseSize selects the granule of a FlashErase command. The value is the
// SPI erase opcode the ROM forwards to the flash part.
type EraseSize byte

// Erase granules
const (
	EraseSector4K EraseSize = 0x20
	EraseBlock64K EraseSize = 0xD8
)

// Bytes returns the number of bytes erased by one command of this size
func (s EraseSize) Bytes() uint32 {
	switch s {
	case EraseSector4K:
		return SectorSize
	case EraseBlock64K:
		return BlockSize
	}
	return 0
}

// String returns a short name for logs
func (s EraseSize) String() string {
	switch s {
	case EraseSector4K:
		return "4K"
	case EraseBlock64K:
		return "64K"
	}
	return "invalid"
}
