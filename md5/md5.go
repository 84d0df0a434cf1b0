// Package md5 computes MD5 digests for the bootloader's kernel-image
// integrity check (§2 "bootloader verifies kernel via MD5"). Boot-time
// code that has not yet mapped Go's standard library runtime environment
// needs a dependency-free implementation it can call before paging is
// even on; this package has none beyond the bytes it is given.
//
// Grounded line-for-line on original_source/retro-rs/lib/src/md5.rs
// (left_rotate, process_block, the S/K tables, and the padding rule in
// Compute), translated into idiomatic Go: fixed-size Rust arrays become
// Go arrays, wrapping_add becomes Go's defined unsigned-overflow
// semantics, and from_le_bytes/to_le_bytes become encoding/binary calls.
package md5

import "encoding/binary"

var sTable = [64]uint32{
	7, 12, 17, 22, 7, 12, 17, 22, 7, 12, 17, 22, 7, 12, 17, 22,
	5, 9, 14, 20, 5, 9, 14, 20, 5, 9, 14, 20, 5, 9, 14, 20,
	4, 11, 16, 23, 4, 11, 16, 23, 4, 11, 16, 23, 4, 11, 16, 23,
	6, 10, 15, 21, 6, 10, 15, 21, 6, 10, 15, 21, 6, 10, 15, 21,
}

var kTable = [64]uint32{
	0xd76aa478, 0xe8c7b756, 0x242070db, 0xc1bdceee,
	0xf57c0faf, 0x4787c62a, 0xa8304613, 0xfd469501,
	0x698098d8, 0x8b44f7af, 0xffff5bb1, 0x895cd7be,
	0x6b901122, 0xfd987193, 0xa679438e, 0x49b40821,
	0xf61e2562, 0xc040b340, 0x265e5a51, 0xe9b6c7aa,
	0xd62f105d, 0x02441453, 0xd8a1e681, 0xe7d3fbc8,
	0x21e1cde6, 0xc33707d6, 0xf4d50d87, 0x455a14ed,
	0xa9e3e905, 0xfcefa3f8, 0x676f02d9, 0x8d2a4c8a,
	0xfffa3942, 0x8771f681, 0x6d9d6122, 0xfde5380c,
	0xa4beea44, 0x4bdecfa9, 0xf6bb4b60, 0xbebfbc70,
	0x289b7ec6, 0xeaa127fa, 0xd4ef3085, 0x04881d05,
	0xd9d4d039, 0xe6db99e5, 0x1fa27cf8, 0xc4ac5665,
	0xf4292244, 0x432aff97, 0xab9423a7, 0xfc93a039,
	0x655b59c3, 0x8f0ccc92, 0xffeff47d, 0x85845dd1,
	0x6fa87e4f, 0xfe2ce6e0, 0xa3014314, 0x4e0811a1,
	0xf7537e82, 0xbd3af235, 0x2ad7d2bb, 0xeb86d391,
}

func leftRotate(x, c uint32) uint32 {
	return (x << c) | (x >> (32 - c))
}

func processBlock(block *[64]byte, a0, b0, c0, d0 *uint32) {
	var m [16]uint32
	for i := 0; i < 16; i++ {
		m[i] = binary.LittleEndian.Uint32(block[i*4:])
	}

	a, b, c, d := *a0, *b0, *c0, *d0

	for i := 0; i < 64; i++ {
		var f uint32
		var g int
		switch {
		case i < 16:
			f, g = (b&c)|(^b&d), i
		case i < 32:
			f, g = (d&b)|(^d&c), (5*i+1)%16
		case i < 48:
			f, g = b^c^d, (3*i+5)%16
		default:
			f, g = c^(b|^d), (7 * i) % 16
		}

		f = f + a + kTable[i] + m[g]
		a = d
		d = c
		c = b
		b = b + leftRotate(f, sTable[i])
	}

	*a0 += a
	*b0 += b
	*c0 += c
	*d0 += d
}

// Size is the length in bytes of an MD5 digest.
const Size = 16

// Compute hashes data and writes the 16-byte digest into out
// (original_source Compute).
func Compute(data []byte, out *[Size]byte) {
	a0 := uint32(0x67452301)
	b0 := uint32(0xefcdab89)
	c0 := uint32(0x98badcfe)
	d0 := uint32(0x10325476)

	origLenBits := uint64(len(data)) * 8

	offset := 0
	for offset+64 <= len(data) {
		var block [64]byte
		copy(block[:], data[offset:offset+64])
		processBlock(&block, &a0, &b0, &c0, &d0)
		offset += 64
	}

	remaining := len(data) - offset
	var block [64]byte
	copy(block[:], data[offset:])
	block[remaining] = 0x80

	if remaining < 56 {
		binary.LittleEndian.PutUint64(block[56:], origLenBits)
		processBlock(&block, &a0, &b0, &c0, &d0)
	} else {
		processBlock(&block, &a0, &b0, &c0, &d0)
		block = [64]byte{}
		binary.LittleEndian.PutUint64(block[56:], origLenBits)
		processBlock(&block, &a0, &b0, &c0, &d0)
	}

	binary.LittleEndian.PutUint32(out[0:4], a0)
	binary.LittleEndian.PutUint32(out[4:8], b0)
	binary.LittleEndian.PutUint32(out[8:12], c0)
	binary.LittleEndian.PutUint32(out[12:16], d0)
}
