// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

// CRC-16/MODBUS configuration
const (
	crcPolynomial = 0xA001 // 0x8005 reflected
	crcInitial    = 0xFFFF
)

// CalculateCRC computes the CRC-16/MODBUS checksum for the given data.
// On the wire the low byte is sent first.
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc = crcUpdate(crc, b)
	}
	return crc
}

// crcUpdate feeds a single byte into a running CRC
func crcUpdate(crc uint16, b byte) uint16 {
	crc ^= uint16(b)
	for i := 0; i < 8; i++ {
		if crc&0x0001 != 0 {
			crc = (crc >> 1) ^ crcPolynomial
		} else {
			crc >>= 1
		}
	}
	return crc
}

// CheckCRC returns true if the last two bytes of frame hold the CRC of the
// bytes before them, low byte first
func CheckCRC(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	n := len(frame) - 2
	crc := CalculateCRC(frame[:n])
	return frame[n] == byte(crc) && frame[n+1] == byte(crc>>8)
}

// AppendCRC appends the CRC of data to data, low byte first
func AppendCRC(data []byte) []byte {
	crc := CalculateCRC(data)
	return append(data, byte(crc), byte(crc>>8))
}
