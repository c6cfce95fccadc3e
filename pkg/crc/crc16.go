// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package crc

// CRC-16-CCITT configuration
const (
	CRC16Polynomial = 0x1021
	CRC16Initial    = 0x0000
)

var crc16Table = makeCRC16Table()

func makeCRC16Table() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ CRC16Polynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CalculateCRC16 computes CRC-16-CCITT (seed 0) for the given data
func CalculateCRC16(data []byte) uint16 {
	return UpdateCRC16(CRC16Initial, data)
}

// UpdateCRC16 continues a CRC16 computation
func UpdateCRC16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = (crc << 8) ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}
