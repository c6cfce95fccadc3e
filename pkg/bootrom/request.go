// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootrom

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DecodeRequest parses the request frame at the start of buf, the device
// side of Encode. It returns the command and the number of bytes consumed.
// An incomplete frame returns a nil command, 0 and no error. Bytes that
// cannot start a frame are reported with the count to skip.
func (c *Codec) DecodeRequest(buf []byte) (Command, int, error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}
	if i := bytes.Index(buf, baseTxHeader); i != 0 {
		if i < 0 {
			// Keep a possible header prefix at the tail
			skip := len(buf)
			for k := 1; k < len(baseTxHeader) && k <= len(buf); k++ {
				if bytes.HasPrefix(baseTxHeader, buf[len(buf)-k:]) {
					skip = len(buf) - k
				}
			}
			if skip == 0 {
				return nil, 0, nil
			}
			return nil, skip, fmt.Errorf("skipped %d bytes of noise", skip)
		}
		return nil, i, fmt.Errorf("skipped %d bytes of noise", i)
	}
	if len(buf) < len(baseTxHeader)+1 {
		return nil, 0, nil
	}

	var flash bool
	var length, body int
	if buf[3] == flashTxHeader[3] {
		if len(buf) < len(flashTxHeader)+2 {
			return nil, 0, nil
		}
		if buf[4] != flashTxHeader[4] {
			return nil, len(baseTxHeader), fmt.Errorf("bad flash header byte 0x%02X", buf[4])
		}
		flash = true
		length = int(binary.LittleEndian.Uint16(buf[5:]))
		body = len(flashTxHeader) + 2
	} else {
		length = int(buf[3])
		body = len(baseTxHeader) + 1
	}
	if length < 1 {
		return nil, body, fmt.Errorf("zero-length frame")
	}
	total := body + length
	if len(buf) < total {
		return nil, 0, nil
	}

	op := buf[body]
	p := buf[body+1 : total]
	cmd, err := c.requestCommand(flash, op, p)
	if err != nil {
		return nil, total, err
	}
	return cmd, total, nil
}

func (c *Codec) requestCommand(flash bool, op byte, p []byte) (Command, error) {
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(p[off:]) }
	need := func(n int) error {
		if len(p) != n {
			return fmt.Errorf("opcode 0x%02X: payload is %d bytes, want %d", op, len(p), n)
		}
		return nil
	}

	if !flash {
		switch op {
		case OpLinkCheck:
			return LinkCheck{}, need(0)
		case OpWriteReg:
			if err := need(8); err != nil {
				return nil, err
			}
			return WriteReg{Address: u32(0), Value: u32(4)}, nil
		case OpReadReg:
			if err := need(4); err != nil {
				return nil, err
			}
			return ReadReg{Address: u32(0)}, nil
		case OpReboot:
			if err := need(1); err != nil {
				return nil, err
			}
			if p[0] != RebootMagic {
				return nil, fmt.Errorf("reboot magic 0x%02X", p[0])
			}
			return Reboot{}, nil
		case OpSetBaud:
			if err := need(5); err != nil {
				return nil, err
			}
			return SetBaud{Baud: u32(0), DelayMs: p[4]}, nil
		case OpCheckCRC, OpCheckCRCExt:
			if err := need(8); err != nil {
				return nil, err
			}
			start, end := u32(0), u32(4)
			length := end - start
			if c.profile.CRCEndInclusive {
				length++
			}
			return CheckCRC{Start: start, Length: length, Extended: op == OpCheckCRCExt}, nil
		}
		return nil, fmt.Errorf("unknown base opcode 0x%02X", op)
	}

	switch op {
	case OpFlashWrite4K:
		if err := need(4 + SectorSize); err != nil {
			return nil, err
		}
		return FlashWrite4K{Address: u32(0), Data: append([]byte(nil), p[4:]...)}, nil
	case OpFlashRead4K:
		if err := need(4); err != nil {
			return nil, err
		}
		return FlashRead4K{Address: u32(0)}, nil
	case OpFlashEraseAll:
		return FlashEraseAll{}, need(0)
	case OpFlashReadSR:
		if err := need(1); err != nil {
			return nil, err
		}
		return FlashReadSR{Register: p[0]}, nil
	case OpFlashWriteSR:
		if len(p) < 2 || len(p) > 3 {
			return nil, fmt.Errorf("opcode 0x%02X: payload is %d bytes, want 2 or 3", op, len(p))
		}
		return FlashWriteSR{Register: p[0], Values: append([]byte(nil), p[1:]...)}, nil
	case OpFlashGetMID:
		if err := need(4); err != nil {
			return nil, err
		}
		return FlashGetMID{}, nil
	case OpFlashErase:
		if err := need(5); err != nil {
			return nil, err
		}
		return FlashErase{Size: EraseSize(p[0]), Address: binary.LittleEndian.Uint32(p[1:])}, nil
	}
	return nil, fmt.Errorf("unknown flash opcode 0x%02X", op)
}
