// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootrom

import (
	"encoding/binary"
	"fmt"
)

// Codec encodes commands and validates responses for one chip family
type Codec struct {
	profile Profile
}

// Profile returns the family profile the codec was built for
func (c *Codec) Profile() Profile {
	return c.profile
}

// Fields holds the typed values extracted from a validated response. Only
// the fields meaningful for the command are set.
type Fields struct {
	Command        byte
	Status         byte
	Address        uint32
	Value          uint32
	Baud           uint32
	CRC            uint32
	ManufacturerID uint32
	Register       byte
	StatusRegister []byte
	Data           []byte
}

// echoField is a run of response bytes that must repeat what was sent
type echoField struct {
	name   string
	offset int
	want   []byte
}

// cmdSpec is the wire description of one command
type cmdSpec struct {
	flash       bool
	opcode      byte
	payload     []byte
	echo        byte // expected command code in the response
	responseLen int  // 0 when the ROM does not answer
	params      []echoField
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// describe validates cmd and returns its wire description
func (c *Codec) describe(cmd Command) (cmdSpec, error) {
	switch v := cmd.(type) {
	case LinkCheck:
		return cmdSpec{
			opcode:      OpLinkCheck,
			echo:        OpLinkCheckReply,
			responseLen: 8,
			params:      []echoField{{"link_status", baseDataOffset, []byte{0x00}}},
		}, nil

	case WriteReg:
		return cmdSpec{
			opcode:      OpWriteReg,
			payload:     append(le32(v.Address), le32(v.Value)...),
			echo:        OpWriteReg,
			responseLen: 15,
			params: []echoField{
				{"address", baseDataOffset, le32(v.Address)},
				{"value", baseDataOffset + 4, le32(v.Value)},
			},
		}, nil

	case ReadReg:
		return cmdSpec{
			opcode:      OpReadReg,
			payload:     le32(v.Address),
			echo:        OpReadReg,
			responseLen: 15,
			params:      []echoField{{"address", baseDataOffset, le32(v.Address)}},
		}, nil

	case Reboot:
		return cmdSpec{
			opcode:  OpReboot,
			payload: []byte{RebootMagic},
		}, nil

	case SetBaud:
		if v.Baud == 0 {
			return cmdSpec{}, fmt.Errorf("SetBaud: baud rate must be nonzero")
		}
		payload := append(le32(v.Baud), v.DelayMs)
		return cmdSpec{
			opcode:      OpSetBaud,
			payload:     payload,
			echo:        OpSetBaud,
			responseLen: 12,
			params: []echoField{
				{"baud", baseDataOffset, le32(v.Baud)},
				{"delay", baseDataOffset + 4, []byte{v.DelayMs}},
			},
		}, nil

	case CheckCRC:
		if v.Length == 0 {
			return cmdSpec{}, fmt.Errorf("%s: empty range", v.Name())
		}
		end := v.Start + v.Length
		if c.profile.CRCEndInclusive {
			end--
		}
		op := byte(OpCheckCRC)
		if v.Extended {
			op = OpCheckCRCExt
		}
		return cmdSpec{
			opcode:      op,
			payload:     append(le32(v.Start), le32(end)...),
			echo:        op,
			responseLen: 11,
		}, nil

	case FlashWrite4K:
		if len(v.Data) != SectorSize {
			return cmdSpec{}, fmt.Errorf("FlashWrite4K: data must be %d bytes, got %d", SectorSize, len(v.Data))
		}
		if v.Address%SectorSize != 0 {
			return cmdSpec{}, fmt.Errorf("FlashWrite4K: address 0x%08X not sector aligned", v.Address)
		}
		return cmdSpec{
			flash:       true,
			opcode:      OpFlashWrite4K,
			payload:     append(le32(v.Address), v.Data...),
			echo:        OpFlashWrite4K,
			responseLen: 15,
			params:      []echoField{{"address", flashDataOffset, le32(v.Address)}},
		}, nil

	case FlashRead4K:
		if v.Address%SectorSize != 0 {
			return cmdSpec{}, fmt.Errorf("FlashRead4K: address 0x%08X not sector aligned", v.Address)
		}
		return cmdSpec{
			flash:       true,
			opcode:      OpFlashRead4K,
			payload:     le32(v.Address),
			echo:        OpFlashRead4K,
			responseLen: flashDataOffset + 4 + SectorSize,
			params:      []echoField{{"address", flashDataOffset, le32(v.Address)}},
		}, nil

	case FlashEraseAll:
		return cmdSpec{
			flash:       true,
			opcode:      OpFlashEraseAll,
			echo:        OpFlashEraseAll,
			responseLen: flashDataOffset,
		}, nil

	case FlashReadSR:
		return cmdSpec{
			flash:       true,
			opcode:      OpFlashReadSR,
			payload:     []byte{v.Register},
			echo:        OpFlashReadSR,
			responseLen: flashDataOffset + 2,
			params:      []echoField{{"register", flashDataOffset, []byte{v.Register}}},
		}, nil

	case FlashWriteSR:
		if len(v.Values) < 1 || len(v.Values) > 2 {
			return cmdSpec{}, fmt.Errorf("FlashWriteSR: 1 or 2 values required, got %d", len(v.Values))
		}
		return cmdSpec{
			flash:       true,
			opcode:      OpFlashWriteSR,
			payload:     append([]byte{v.Register}, v.Values...),
			echo:        OpFlashWriteSR,
			responseLen: flashDataOffset + 1 + len(v.Values),
			params: []echoField{
				{"register", flashDataOffset, []byte{v.Register}},
				{"values", flashDataOffset + 1, append([]byte(nil), v.Values...)},
			},
		}, nil

	case FlashGetMID:
		return cmdSpec{
			flash:       true,
			opcode:      OpFlashGetMID,
			payload:     []byte{SPIReadJEDECID, 0x00, 0x00, 0x00},
			echo:        OpFlashGetMID,
			responseLen: flashDataOffset + 4,
		}, nil

	case FlashErase:
		if v.Size.Bytes() == 0 {
			return cmdSpec{}, fmt.Errorf("FlashErase: invalid erase size 0x%02X", byte(v.Size))
		}
		if v.Address%v.Size.Bytes() != 0 {
			return cmdSpec{}, fmt.Errorf("%s: address 0x%08X not aligned", v.Name(), v.Address)
		}
		return cmdSpec{
			flash:       true,
			opcode:      OpFlashErase,
			payload:     append([]byte{byte(v.Size)}, le32(v.Address)...),
			echo:        OpFlashErase,
			responseLen: flashDataOffset + 5,
			params: []echoField{
				{"erase_size", flashDataOffset, []byte{byte(v.Size)}},
				{"address", flashDataOffset + 1, le32(v.Address)},
			},
		}, nil
	}
	return cmdSpec{}, fmt.Errorf("unsupported command %T", cmd)
}

// Encode builds the request frame for cmd
func (c *Codec) Encode(cmd Command) (Frame, error) {
	s, err := c.describe(cmd)
	if err != nil {
		return Frame{}, err
	}
	return newFrame(s.flash, s.opcode, s.payload), nil
}

// ResponseLength returns the exact size of the ROM's answer to cmd, or 0 if
// the ROM does not answer
func (c *Codec) ResponseLength(cmd Command) (int, error) {
	s, err := c.describe(cmd)
	if err != nil {
		return 0, err
	}
	return s.responseLen, nil
}

// DecodeAndCheck validates resp as the answer to cmd and extracts its
// fields. Checks run in wire order: minimum length, echoed header, length
// field, echoed command, status, echoed parameters.
func (c *Codec) DecodeAndCheck(resp []byte, cmd Command) (Fields, error) {
	s, err := c.describe(cmd)
	if err != nil {
		return Fields{}, err
	}
	name := cmd.Name()
	if s.responseLen == 0 {
		if len(resp) != 0 {
			return Fields{}, &MismatchError{Command: name, Field: "size", Expected: 0, Actual: uint64(len(resp))}
		}
		return Fields{Command: s.opcode}, nil
	}

	rf, err := ParseResponseFrame(resp, s.flash, name)
	if err != nil {
		return Fields{}, err
	}
	if rf.Command() != s.echo {
		return Fields{}, &MismatchError{Command: name, Field: "command", Expected: uint64(s.echo), Actual: uint64(rf.Command())}
	}
	if rf.Status() != 0 {
		return Fields{}, &StatusError{Command: name, Status: rf.Status()}
	}
	if len(resp) != s.responseLen {
		return Fields{}, &MismatchError{Command: name, Field: "size", Expected: uint64(s.responseLen), Actual: uint64(len(resp))}
	}
	for _, p := range s.params {
		if err := checkBytes(name, p.name, resp, p.offset, p.want); err != nil {
			return Fields{}, err
		}
	}
	return extract(cmd, rf, resp), nil
}

// extract pulls typed fields from fixed offsets of a validated response
func extract(cmd Command, rf ResponseFrame, resp []byte) Fields {
	f := Fields{Command: rf.Command(), Status: rf.Status()}
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(resp[off:]) }

	switch v := cmd.(type) {
	case WriteReg:
		f.Address = u32(baseDataOffset)
		f.Value = u32(baseDataOffset + 4)
	case ReadReg:
		f.Address = u32(baseDataOffset)
		f.Value = u32(baseDataOffset + 4)
	case SetBaud:
		f.Baud = u32(baseDataOffset)
	case CheckCRC:
		f.CRC = u32(baseDataOffset)
	case FlashWrite4K:
		f.Address = u32(flashDataOffset)
	case FlashRead4K:
		f.Address = u32(flashDataOffset)
		f.Data = append([]byte(nil), resp[flashDataOffset+4:flashDataOffset+4+SectorSize]...)
	case FlashReadSR:
		f.Register = resp[flashDataOffset]
		f.StatusRegister = []byte{resp[flashDataOffset+1]}
	case FlashWriteSR:
		f.Register = resp[flashDataOffset]
		f.StatusRegister = append([]byte(nil), resp[flashDataOffset+1:flashDataOffset+1+len(v.Values)]...)
	case FlashGetMID:
		f.ManufacturerID = u32(flashDataOffset) >> 8
	case FlashErase:
		f.Address = u32(flashDataOffset + 1)
	}
	return f
}

// EncodeResponse builds the answer a well-behaved ROM sends for cmd: headers,
// command echo, status, echoed parameters, then data. It is the inverse of
// DecodeAndCheck and backs the simulated ROM.
func (c *Codec) EncodeResponse(cmd Command, status byte, data []byte) ([]byte, error) {
	s, err := c.describe(cmd)
	if err != nil {
		return nil, err
	}
	if s.responseLen == 0 {
		return nil, nil
	}

	var body []byte
	for _, p := range s.params {
		body = append(body, p.want...)
	}
	body = append(body, data...)

	var out []byte
	if s.flash {
		out = append(out, flashRxHeader...)
		out = binary.LittleEndian.AppendUint16(out, uint16(2+len(body)))
		out = append(out, s.echo, status)
	} else {
		out = append(out, baseRxHeader...)
		out = append(out, byte(len(baseTxHeader)+1+len(body)))
		out = append(out, baseTxHeader...)
		out = append(out, s.echo)
	}
	out = append(out, body...)
	if len(out) != s.responseLen {
		return nil, fmt.Errorf("%s: response data is %d bytes, frame would be %d bytes instead of %d",
			cmd.Name(), len(data), len(out), s.responseLen)
	}
	return out, nil
}
