package ext4

import (
	"errors"
	"math/bits"
	"testing"

	"github.com/diskkernel/ext4ro/crc32c"
)

func TestBitmapChecksumReversesBits(t *testing.T) {
	raw := []byte{0b10110000, 0b00001111, 0xff, 0x00}
	reversed := make([]byte, len(raw))
	for i, b := range raw {
		reversed[i] = bits.Reverse8(b)
	}
	want := crc32c.SumSeeded(0xabcdef01, reversed)
	got := bitmapChecksum(raw, 0xabcdef01)
	if got != want {
		t.Fatalf("bitmapChecksum = %#x, want %#x", got, want)
	}
}

func TestBitmapFromDiskValidChecksum16Bit(t *testing.T) {
	raw := []byte{0b00000001, 0b00000000, 0b11111111, 0b00000000}
	seed := crc32c.Sum([]byte("some-uuid-bytes-"))
	full := bitmapChecksum(raw, seed)
	lo := uint16(full & 0xffff)

	eb, err := bitmapFromDisk(raw, lo, 0, seed, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eb.suspect {
		t.Fatal("bitmap marked suspect despite matching checksum")
	}
}

func TestBitmapFromDiskMismatch(t *testing.T) {
	raw := []byte{0xff, 0xff, 0xff, 0xff}
	seed := uint32(0x12345678)

	eb, err := bitmapFromDisk(raw, 0xdead, 0, seed, true)
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
	if !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("expected ErrCorruptMetadata, got %v", err)
	}
	if !eb.suspect {
		t.Fatal("expected suspect flag set on mismatch")
	}
}

func TestBitmapIsFreeAndFirstFree(t *testing.T) {
	// byte 0 = 0b00000101: bits 0 and 2 set (used), bit 1 free.
	raw := []byte{0b00000101, 0x00}
	eb, err := bitmapFromDisk(raw, 0, 0, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	free, err := eb.isFree(0)
	if err != nil || free {
		t.Fatalf("bit 0: isFree=%v err=%v, want false/nil", free, err)
	}
	free, err = eb.isFree(1)
	if err != nil || !free {
		t.Fatalf("bit 1: isFree=%v err=%v, want true/nil", free, err)
	}

	if got := eb.firstFree(); got != 1 {
		t.Fatalf("firstFree() = %d, want 1", got)
	}
}

func TestBitmapCountFreeAndFirstFreeInRange(t *testing.T) {
	// byte 0 = 0b00000101: bits 0 and 2 used, rest of the 16 bits free.
	raw := []byte{0b00000101, 0x00}
	eb, err := bitmapFromDisk(raw, 0, 0, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := eb.countFree(); got != 14 {
		t.Fatalf("countFree() = %d, want 14", got)
	}

	// Bits 0-2 are used/free/used (bit 1 free), so searching [0,1) only sees bit 0
	// (used) and must report no free bit in that sub-range.
	if got := eb.firstFreeInRange(0, 1); got != -1 {
		t.Fatalf("firstFreeInRange(0,1) = %d, want -1", got)
	}
	if got := eb.firstFreeInRange(0, 2); got != 1 {
		t.Fatalf("firstFreeInRange(0,2) = %d, want 1", got)
	}
	if got := eb.firstFreeInRange(3, 8); got != 3 {
		t.Fatalf("firstFreeInRange(3,8) = %d, want 3", got)
	}
}
