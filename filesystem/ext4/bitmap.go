package ext4

import (
	"fmt"
	"math/bits"

	"github.com/diskkernel/ext4ro/crc32c"
	"github.com/diskkernel/ext4ro/util/bitmap"
)

// ext4Bitmap wraps a generic bit-per-entry Bitmap with the ext4-specific
// checksum carried in the owning group descriptor (spec.md §3/§4.5). The
// bit manipulation itself stays in util/bitmap, kept from the teacher's
// util/bitmap package; this file adds only what is ext4-specific: the
// on-disk checksum and its bit-reversal quirk.
type ext4Bitmap struct {
	bm       *bitmap.Bitmap
	checksum uint32
	suspect  bool
}

// bitmapFromDisk decodes a block or inode bitmap block and validates it
// against the low/high checksum halves carried in the group descriptor
// (spec.md §4.5): CRC32C is computed over the bitmap bytes with every byte
// bit-reversed first, seeded with the superblock's checksum seed.
func bitmapFromDisk(b []byte, checksumLo, checksumHi uint16, seed uint32, checksumRequired bool) (*ext4Bitmap, error) {
	bm := bitmap.FromBytes(b)
	eb := &ext4Bitmap{bm: bm, checksum: uint32(checksumHi)<<16 | uint32(checksumLo)}

	if checksumRequired {
		actual := bitmapChecksum(b, seed)
		// Only the low 16 bits are guaranteed meaningful unless the
		// descriptor is 64-byte (spec.md §4.5); compare what was supplied.
		want := eb.checksum
		if checksumHi == 0 {
			want = uint32(checksumLo)
			actual &= 0xffff
		}
		if actual != want {
			eb.suspect = true
			return eb, fmt.Errorf("%w: bitmap checksum mismatch, have %#x want %#x", ErrCorruptMetadata, actual, want)
		}
	}

	return eb, nil
}

// bitmapChecksum computes CRC32C(seed, bitmap_bytes_with_each_byte_bit_reversed)
// (spec.md §4.1/§4.5). The bit-reversal-before-CRC step is the one quirk
// this checksum has relative to every other metadata checksum in the
// filesystem, which simply CRC the raw bytes.
func bitmapChecksum(b []byte, seed uint32) uint32 {
	reversed := make([]byte, len(b))
	for i, v := range b {
		reversed[i] = bits.Reverse8(v)
	}
	return crc32c.SumSeeded(seed, reversed)
}

func (eb *ext4Bitmap) isFree(bitIndex int) (bool, error) {
	set, err := eb.bm.IsSet(bitIndex)
	return !set, err
}

func (eb *ext4Bitmap) firstFree() int {
	return eb.bm.FirstFree(0)
}

// countFree returns the number of free (clear) bits in the bitmap
// (spec.md §4.5's free/used queries).
func (eb *ext4Bitmap) countFree() int {
	return eb.bm.CountFree()
}

// firstFreeInRange returns the first free bit at or after start and before
// end (exclusive), or -1 if none is found (spec.md §4.5's range operations).
func (eb *ext4Bitmap) firstFreeInRange(start, end int) int {
	return eb.bm.FirstFreeInRange(start, end)
}
