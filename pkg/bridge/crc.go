// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

// crcTable holds the CRC-16-CCITT remainder of every leading byte
var crcTable = func() (t [256]uint16) {
	for i := range t {
		r := uint16(i) << 8
		for range 8 {
			if r&0x8000 != 0 {
				r = r<<1 ^ crcPolynomial
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

// CalculateCRC computes the CRC-16-CCITT (init 0xFFFF) of data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
