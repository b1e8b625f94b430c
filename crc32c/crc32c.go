// Package crc32c implements the CRC32C (Castagnoli) checksum in the exact
// form ext4 uses it: seed 0xFFFFFFFF, reflected polynomial, table-driven,
// and — unlike the typical CRC32 convention — no final complement (spec.md
// §4.1). This lets "uuid ‖ payload" checks be composed as
// SumSeeded(Sum(uuid), payload) without ever materializing the
// concatenation.
package crc32c

import "hash/crc32"

// table is the standard reflected Castagnoli table, the same one every
// crc32c implementation in the wild uses (stdlib's hash/crc32 exposes it
// via crc32.MakeTable(crc32.Castagnoli)); we reuse the table but not
// stdlib's Checksum/Update, which both apply the final complement that
// ext4's crc32c() does not want.
var table = crc32.MakeTable(crc32.Castagnoli)

// Sum computes the CRC32C of data with the ext4 seed and no final
// complement.
func Sum(data []byte) uint32 {
	return update(0xFFFFFFFF, data)
}

// SumSeeded continues a CRC32C computation from a previous result, letting
// callers checksum logically concatenated spans (e.g. "uuid ‖ bytes")
// without copying them into one buffer:
//
//	crc := crc32c.Sum(uuid[:])
//	crc = crc32c.SumSeeded(crc, payload)
//
// satisfies CRC-LINEAR: Sum(a‖b) == SumSeeded(Sum(a), b).
func SumSeeded(seed uint32, data []byte) uint32 {
	return update(seed, data)
}

func update(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = table[byte(crc)^b] ^ (crc >> 8)
	}
	return crc
}
