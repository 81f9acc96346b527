// Package crc16 implements the CRC-16/CCITT (XMODEM) checksum shared by
// BinHex, MacBinary, StuffIt and Compact Pro: polynomial 0x1021, initial
// value 0, no reflection, no final xor. The table-driven form computes the
// same value as the original bit-serial algorithm fed two trailing zero
// bytes.
package crc16

import "encoding/binary"

var crctab [256]uint16

func init() {
	for i := range uint16(256) {
		k := i << 8
		for range 8 {
			if k&0x8000 != 0 {
				k = (k << 1) ^ 0x1021
			} else {
				k <<= 1
			}
		}
		crctab[i] = k
	}
}

// Update folds buf into a running checksum.
func Update(crc uint16, buf []byte) uint16 {
	for _, ch := range buf {
		crc = crc<<8 ^ crctab[byte(crc>>8)^ch]
	}
	return crc
}

// Checksum is Update from a zero initial value.
func Checksum(buf []byte) uint16 {
	return Update(0, buf)
}

// Check verifies a header whose big-endian checksum field lives at crcField,
// computing the CRC as if those two bytes were zero.
func Check(buf []byte, crcField int) bool {
	want := binary.BigEndian.Uint16(buf[crcField:])
	got := uint16(0)
	for i, ch := range buf {
		if i == crcField || i == crcField+1 {
			ch = 0
		}
		got = got<<8 ^ crctab[byte(got>>8)^ch]
	}
	return got == want
}
