// Package jenkins implements Bob Jenkins' lookup3 hashlittle2, the 64-bit
// name hash used to key root table records.
package jenkins

import (
	"encoding/binary"
	"math/bits"
	"strings"
)

const initval = 0xdeadbeef

// Hashlittle2 hashes data seeded with pc and pb and returns the primary (c)
// and secondary (b) 32-bit results.
func Hashlittle2(data []byte, pc, pb uint32) (uint32, uint32) {
	a := initval + uint32(len(data)) + pc //nolint:gosec // wrapping is part of the hash
	b := a
	c := a + pb

	for len(data) > 12 {
		a += binary.LittleEndian.Uint32(data[0:4])
		b += binary.LittleEndian.Uint32(data[4:8])
		c += binary.LittleEndian.Uint32(data[8:12])
		a, b, c = mix(a, b, c)
		data = data[12:]
	}
	if len(data) == 0 {
		return c, b
	}

	// Missing tail bytes contribute zero, matching the byte-wise switch.
	var tail [12]byte
	copy(tail[:], data)
	a += binary.LittleEndian.Uint32(tail[0:4])
	b += binary.LittleEndian.Uint32(tail[4:8])
	c += binary.LittleEndian.Uint32(tail[8:12])
	a, b, c = final(a, b, c)
	return c, b
}

// Hash64 returns hashlittle2 of data with zero seeds as c<<32 | b.
func Hash64(data []byte) uint64 {
	c, b := Hashlittle2(data, 0, 0)
	return uint64(c)<<32 | uint64(b)
}

// HashPath returns the root table name hash of a file path. Paths are
// matched case-insensitively and with either separator.
func HashPath(name string) uint64 {
	return Hash64([]byte(NormalizePath(name)))
}

// NormalizePath upper-cases name and converts forward slashes to backslashes.
func NormalizePath(name string) string {
	return strings.ReplaceAll(strings.ToUpper(name), "/", `\`)
}

func mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= bits.RotateLeft32(c, 4)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 6)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 8)
	b += a
	a -= c
	a ^= bits.RotateLeft32(c, 16)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 19)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 4)
	b += a
	return a, b, c
}

func final(a, b, c uint32) (uint32, uint32, uint32) {
	c ^= b
	c -= bits.RotateLeft32(b, 14)
	a ^= c
	a -= bits.RotateLeft32(c, 11)
	b ^= a
	b -= bits.RotateLeft32(a, 25)
	c ^= b
	c -= bits.RotateLeft32(b, 16)
	a ^= c
	a -= bits.RotateLeft32(c, 4)
	b ^= a
	b -= bits.RotateLeft32(a, 14)
	c ^= b
	c -= bits.RotateLeft32(b, 24)
	return a, b, c
}
