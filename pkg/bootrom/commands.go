// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootrom

import "fmt"

// Command is one boot ROM request. The set of variants is closed: the codec
// switches over every concrete type below.
type Command interface {
	// Name returns the command name used in logs and errors
	Name() string
	command()
}

// LinkCheck asks the ROM to answer, used to detect and synchronize with it
type LinkCheck struct{}

// WriteReg writes a 32-bit value to a chip register
type WriteReg struct {
	Address uint32
	Value   uint32
}

// ReadReg reads a 32-bit chip register
type ReadReg struct {
	Address uint32
}

// Reboot restarts the chip. The ROM does not answer.
type Reboot struct{}

// SetBaud switches the ROM to a new baud rate after DelayMs milliseconds
type SetBaud struct {
	Baud    uint32
	DelayMs uint8
}

// CheckCRC asks the ROM for the CRC32 of [Start, Start+Length).
// Extended selects the opcode used for flash parts above 256 MiB.
type CheckCRC struct {
	Start    uint32
	Length   uint32
	Extended bool
}

// FlashWrite4K programs one erased 4 KiB sector
type FlashWrite4K struct {
	Address uint32
	Data    []byte
}

// FlashRead4K reads one 4 KiB sector
type FlashRead4K struct {
	Address uint32
}

// FlashEraseAll erases the whole flash part
type FlashEraseAll struct{}

// FlashReadSR reads one status register byte using the given SPI opcode
type FlashReadSR struct {
	Register byte
}

// FlashWriteSR writes one or two status register bytes
type FlashWriteSR struct {
	Register byte
	Values   []byte
}

// FlashGetMID reads the JEDEC manufacturer ID of the flash part
type FlashGetMID struct{}

// FlashErase erases one sector or block starting at Address
type FlashErase struct {
	Size    EraseSize
	Address uint32
}

func (LinkCheck) command()     {}
func (WriteReg) command()      {}
func (ReadReg) command()       {}
func (Reboot) command()        {}
func (SetBaud) command()       {}
func (CheckCRC) command()      {}
func (FlashWrite4K) command()  {}
func (FlashRead4K) command()   {}
func (FlashEraseAll) command() {}
func (FlashReadSR) command()   {}
func (FlashWriteSR) command()  {}
func (FlashGetMID) command()   {}
func (FlashErase) command()    {}

func (LinkCheck) Name() string     { return "LinkCheck" }
func (WriteReg) Name() string      { return "WriteReg" }
func (ReadReg) Name() string       { return "ReadReg" }
func (Reboot) Name() string        { return "Reboot" }
func (SetBaud) Name() string       { return "SetBaud" }
func (FlashWrite4K) Name() string  { return "FlashWrite4K" }
func (FlashRead4K) Name() string   { return "FlashRead4K" }
func (FlashEraseAll) Name() string { return "FlashEraseAll" }
func (FlashReadSR) Name() string   { return "FlashReadSR" }
func (FlashWriteSR) Name() string  { return "FlashWriteSR" }
func (FlashGetMID) Name() string   { return "FlashGetMID" }

// Name returns CheckCRC or CheckCRCExt
func (c CheckCRC) Name() string {
	if c.Extended {
		return "CheckCRCExt"
	}
	return "CheckCRC"
}

// Name includes the erase granule
func (c FlashErase) Name() string {
	return fmt.Sprintf("FlashErase%s", c.Size)
}
