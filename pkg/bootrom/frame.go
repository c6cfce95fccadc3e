// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootrom

import (
	"encoding/binary"
	"fmt"
)

// Frame is an encoded boot ROM request. Frames are values: the accessors
// return copies and nothing mutates a frame after construction.
type Frame struct {
	flash   bool
	command byte
	payload []byte
}

func newFrame(flash bool, command byte, payload []byte) Frame {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Frame{flash: flash, command: command, payload: p}
}

// IsFlash reports whether the frame uses the extended flash header
func (f Frame) IsFlash() bool {
	return f.flash
}

// TxEcho returns the fixed header the ROM echoes back
func (f Frame) TxEcho() []byte {
	if f.flash {
		return append([]byte(nil), flashTxHeader...)
	}
	return append([]byte(nil), baseTxHeader...)
}

// Length returns the value of the length field: command byte plus payload
func (f Frame) Length() int {
	return 1 + len(f.payload)
}

// Command returns the opcode
func (f Frame) Command() byte {
	return f.command
}

// Payload returns a copy of the payload
func (f Frame) Payload() []byte {
	return append([]byte(nil), f.payload...)
}

// Bytes returns the wire encoding of the frame
func (f Frame) Bytes() []byte {
	header := baseTxHeader
	if f.flash {
		header = flashTxHeader
	}
	out := make([]byte, 0, len(header)+2+f.Length())
	out = append(out, header...)
	if f.flash {
		out = binary.LittleEndian.AppendUint16(out, uint16(f.Length()))
	} else {
		out = append(out, byte(f.Length()))
	}
	out = append(out, f.command)
	out = append(out, f.payload...)
	return out
}

// ResponseFrame is a structurally valid response: headers and the length
// field have been checked, command echo and parameters have not.
type ResponseFrame struct {
	flash   bool
	raw     []byte
	length  int
	command byte
	status  byte
}

// IsFlash reports whether the response uses the extended flash header
func (r ResponseFrame) IsFlash() bool {
	return r.flash
}

// Length returns the decoded length field
func (r ResponseFrame) Length() int {
	return r.length
}

// Command returns the echoed command code
func (r ResponseFrame) Command() byte {
	return r.command
}

// Status returns the status byte (always 0 for base responses)
func (r ResponseFrame) Status() byte {
	return r.status
}

// Body returns a copy of the bytes following the command (base) or the
// status byte (flash)
func (r ResponseFrame) Body() []byte {
	off := baseDataOffset
	if r.flash {
		off = flashDataOffset
	}
	return append([]byte(nil), r.raw[off:]...)
}

// ParseResponseFrame checks the minimum length, the echoed header bytes and
// the length field of a response. name is used in error messages.
func ParseResponseFrame(resp []byte, flash bool, name string) (ResponseFrame, error) {
	if flash {
		return parseFlashResponse(resp, name)
	}
	return parseBaseResponse(resp, name)
}

func parseBaseResponse(resp []byte, name string) (ResponseFrame, error) {
	if len(resp) < baseMinResponse {
		return ResponseFrame{}, &MismatchError{
			Command:  name,
			Field:    "size",
			Expected: baseMinResponse,
			Actual:   uint64(len(resp)),
		}
	}
	if err := checkBytes(name, "rx_header", resp, 0, baseRxHeader); err != nil {
		return ResponseFrame{}, err
	}
	if err := checkBytes(name, "tx_echo", resp, baseEchoOffset, baseTxHeader); err != nil {
		return ResponseFrame{}, err
	}
	declared := int(resp[baseLenOffset])
	actual := len(resp) - baseLenOffset - 1
	if declared != actual {
		return ResponseFrame{}, &MismatchError{
			Command:  name,
			Field:    "length",
			Expected: uint64(actual),
			Actual:   uint64(declared),
		}
	}
	return ResponseFrame{
		raw:     resp,
		length:  declared,
		command: resp[baseCmdOffset],
	}, nil
}

func parseFlashResponse(resp []byte, name string) (ResponseFrame, error) {
	if len(resp) < flashMinResponse {
		return ResponseFrame{}, &MismatchError{
			Command:  name,
			Field:    "size",
			Expected: flashMinResponse,
			Actual:   uint64(len(resp)),
		}
	}
	if err := checkBytes(name, "rx_header", resp, 0, flashRxHeader); err != nil {
		return ResponseFrame{}, err
	}
	declared := int(binary.LittleEndian.Uint16(resp[flashLenOffset:]))
	actual := len(resp) - flashLenOffset - 2
	if declared != actual {
		return ResponseFrame{}, &MismatchError{
			Command:  name,
			Field:    "length",
			Expected: uint64(actual),
			Actual:   uint64(declared),
		}
	}
	return ResponseFrame{
		flash:   true,
		raw:     resp,
		length:  declared,
		command: resp[flashCmdOffset],
		status:  resp[flashStatOffset],
	}, nil
}

// checkBytes compares want against resp at off, naming the first differing
// byte field[i].
func checkBytes(name, field string, resp []byte, off int, want []byte) error {
	if off+len(want) > len(resp) {
		return &MismatchError{
			Command:  name,
			Field:    "size",
			Expected: uint64(off + len(want)),
			Actual:   uint64(len(resp)),
		}
	}
	for i, b := range want {
		if resp[off+i] != b {
			f := field
			if len(want) > 1 {
				f = fmt.Sprintf("%s[%d]", field, i)
			}
			return &MismatchError{
				Command:  name,
				Field:    f,
				Expected: uint64(b),
				Actual:   uint64(resp[off+i]),
			}
		}
	}
	return nil
}
