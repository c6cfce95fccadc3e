// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ymodem

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/Thermoquad/kiln/pkg/crc"
)

// Control bytes
const (
	SOH        = 0x01 // 128-byte packet
	STX        = 0x02 // 1024-byte packet
	STX16K     = 0x0B // 16384-byte packet
	EOT        = 0x04
	ACK        = 0x06
	NAK        = 0x15
	CAN        = 0x18
	CRCRequest = 'C'
)

// Packet payload sizes
const (
	BlockSize128 = 128
	BlockSize1K  = 1024
	BlockSize16K = 16384
)

// Padding
const (
	DataPad   = 0x1A // CP/M EOF, fills the last data packet
	HeaderPad = 0x00
)

// packet overhead: marker, seq, ^seq, CRC16
const packetOverhead = 5

func marker(size int) (byte, error) {
	switch size {
	case BlockSize128:
		return SOH, nil
	case BlockSize1K:
		return STX, nil
	case BlockSize16K:
		return STX16K, nil
	}
	return 0, fmt.Errorf("invalid packet size %d", size)
}

// PayloadSize returns the payload size announced by a packet marker, or 0
func PayloadSize(m byte) int {
	switch m {
	case SOH:
		return BlockSize128
	case STX:
		return BlockSize1K
	case STX16K:
		return BlockSize16K
	}
	return 0
}

// Packet frames data as packet seq of the given payload size. Short data
// is padded with pad.
func Packet(seq byte, data []byte, size int, pad byte) ([]byte, error) {
	m, err := marker(size)
	if err != nil {
		return nil, err
	}
	if len(data) > size {
		return nil, fmt.Errorf("packet %d: %d bytes exceed payload size %d", seq, len(data), size)
	}
	out := make([]byte, 0, size+packetOverhead)
	out = append(out, m, seq, 0xFF-seq)
	out = append(out, data...)
	out = append(out, bytes.Repeat([]byte{pad}, size-len(data))...)
	return binary.BigEndian.AppendUint16(out, crc.CalculateCRC16(out[3:])), nil
}

// HeaderPacket builds packet 0 announcing a file: name, NUL, decimal
// size, NUL, padded with zeros
func HeaderPacket(name string, size int) ([]byte, error) {
	payload := append([]byte(name), 0)
	payload = append(payload, strconv.Itoa(size)...)
	payload = append(payload, 0)
	if len(payload) > BlockSize128 {
		return nil, fmt.Errorf("file name %q too long for header packet", name)
	}
	return Packet(0, payload, BlockSize128, HeaderPad)
}

// ClosingPacket builds the all-zero packet 0 that ends a batch
func ClosingPacket() []byte {
	p, _ := Packet(0, nil, BlockSize128, HeaderPad)
	return p
}

// ParsePacket validates a complete packet and returns its sequence number
// and payload
func ParsePacket(p []byte) (byte, []byte, error) {
	if len(p) < 1 {
		return 0, nil, fmt.Errorf("empty packet")
	}
	size := PayloadSize(p[0])
	if size == 0 {
		return 0, nil, fmt.Errorf("invalid packet marker 0x%02X", p[0])
	}
	if len(p) != size+packetOverhead {
		return 0, nil, fmt.Errorf("packet is %d bytes, want %d", len(p), size+packetOverhead)
	}
	seq := p[1]
	if p[2] != 0xFF-seq {
		return 0, nil, fmt.Errorf("packet %d: sequence complement 0x%02X", seq, p[2])
	}
	payload := p[3 : 3+size]
	want := crc.CalculateCRC16(payload)
	if got := binary.BigEndian.Uint16(p[3+size:]); got != want {
		return 0, nil, fmt.Errorf("packet %d: CRC 0x%04X, want 0x%04X", seq, got, want)
	}
	return seq, payload, nil
}
