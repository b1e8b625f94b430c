package ext4

import (
	"encoding/binary"
	"errors"
	"testing"
)

func testSuperblock(t *testing.T) *superblock {
	t.Helper()
	sb, err := superblockFromBytes(buildSuperblock(t, 4096, false))
	if err != nil {
		t.Fatalf("failed to build test superblock: %v", err)
	}
	return sb
}

// buildInodeBytes returns a size-byte buffer (128, or 256 for
// extra-field/checksum coverage) with the fixed header fields stamped in.
func buildInodeBytes(size int, mode uint16, flags uint32) []byte {
	b := make([]byte, size)
	le := binary.LittleEndian
	le.PutUint16(b[0x0:0x2], mode)
	le.PutUint32(b[0x8:0xc], 1700000000)  // atime
	le.PutUint32(b[0xc:0x10], 1700000001) // ctime
	le.PutUint32(b[0x10:0x14], 1700000002)
	le.PutUint16(b[0x1a:0x1c], 1) // links_count
	le.PutUint32(b[0x20:0x24], flags)
	return b
}

func TestInodeFromBytesRegularWithExtents(t *testing.T) {
	sb := testSuperblock(t)
	b := buildInodeBytes(128, modeRegular|0o644, inodeFlagUsesExtents)
	le := binary.LittleEndian
	le.PutUint32(b[0x4:0x8], 4096) // size_lo

	root := buildLeafExtentNode([]extent{{fileBlock: 0, count: 1, startingBlock: 777}})
	copy(b[0x28:0x28+60], root)

	in, err := inodeFromBytes(b, sb, 12, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !in.isRegular() {
		t.Fatal("expected regular file")
	}
	if in.size != 4096 {
		t.Fatalf("size = %d, want 4096", in.size)
	}
	if in.extents == nil {
		t.Fatal("expected a non-nil extent tree")
	}
	if !in.permissionsOwner.read || !in.permissionsOwner.write {
		t.Fatalf("expected owner rw, got %+v", in.permissionsOwner)
	}
}

func TestInodeFromBytesFastSymlink(t *testing.T) {
	sb := testSuperblock(t)
	b := buildInodeBytes(128, modeSymlink|0o777, 0)
	target := "../etc/passwd"
	le := binary.LittleEndian
	le.PutUint32(b[0x4:0x8], uint32(len(target)))
	copy(b[0x28:0x28+60], target)

	in, err := inodeFromBytes(b, sb, 20, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !in.isSymlink() {
		t.Fatal("expected symlink")
	}
	if in.linkTarget != target {
		t.Fatalf("linkTarget = %q, want %q", in.linkTarget, target)
	}
}

func TestInodeFromBytesInlineData(t *testing.T) {
	sb := testSuperblock(t)
	b := buildInodeBytes(128, modeRegular|0o644, inodeFlagInlineData)
	payload := []byte("small file contents")
	le := binary.LittleEndian
	le.PutUint32(b[0x4:0x8], uint32(len(payload)))
	copy(b[0x28:], payload)

	in, err := inodeFromBytes(b, sb, 13, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !in.hasInlineData() {
		t.Fatal("expected inline data flag")
	}
	if string(in.inlineData[:len(payload)]) != string(payload) {
		t.Fatalf("inlineData = %q, want prefix %q", in.inlineData, payload)
	}
}

func TestInodeFromBytesLegacyBlockMapRefused(t *testing.T) {
	sb := testSuperblock(t)
	b := buildInodeBytes(128, modeRegular|0o644, 0) // no extents flag, no inline flag
	_, err := inodeFromBytes(b, sb, 14, false)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestInodeFromBytesExtendedTimestamps(t *testing.T) {
	sb := testSuperblock(t)
	b := buildInodeBytes(256, modeRegular|0o644, inodeFlagUsesExtents)
	le := binary.LittleEndian
	root := buildLeafExtentNode([]extent{{fileBlock: 0, count: 1, startingBlock: 1}})
	copy(b[0x28:0x28+60], root)
	le.PutUint16(b[0x80:0x82], 32) // extra_isize: reaches every extended field

	// ctime_extra at 0x84: 1 extra second-bit (bit0) + nanoseconds in top 30 bits.
	le.PutUint32(b[0x84:0x88], (500<<2)|0x1)

	in, err := inodeFromBytes(b, sb, 15, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantSec := int64(1700000001) + (1 << 32)
	if in.changeTime.Unix() != wantSec {
		t.Fatalf("changeTime.Unix() = %d, want %d", in.changeTime.Unix(), wantSec)
	}
	if in.changeTime.Nanosecond() != 500 {
		t.Fatalf("changeTime.Nanosecond() = %d, want 500", in.changeTime.Nanosecond())
	}
}

func TestInodeFromBytesChecksumMismatch(t *testing.T) {
	sb := testSuperblock(t)
	b := buildInodeBytes(128, modeRegular|0o644, inodeFlagUsesExtents)
	root := buildLeafExtentNode([]extent{{fileBlock: 0, count: 1, startingBlock: 1}})
	copy(b[0x28:0x28+60], root)
	binary.LittleEndian.PutUint16(b[0x7c:0x7e], 0xbeef) // bogus checksum, never matches

	in, err := inodeFromBytes(b, sb, 16, true)
	if !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("expected ErrCorruptMetadata, got %v", err)
	}
	if in == nil || !in.checksumMismatch {
		t.Fatal("expected a decoded inode with checksumMismatch set despite the error")
	}
}

func TestInodeChecksumMatches(t *testing.T) {
	sb := testSuperblock(t)
	b := buildInodeBytes(128, modeRegular|0o644, inodeFlagUsesExtents)
	root := buildLeafExtentNode([]extent{{fileBlock: 0, count: 1, startingBlock: 1}})
	copy(b[0x28:0x28+60], root)

	zeroed := make([]byte, len(b))
	copy(zeroed, b)
	zeroed[0x7c], zeroed[0x7d] = 0, 0
	cs := inodeChecksum(zeroed, sb.effectiveChecksumSeed(), 17, 0)
	binary.LittleEndian.PutUint16(b[0x7c:0x7e], uint16(cs))

	in, err := inodeFromBytes(b, sb, 17, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.checksumMismatch {
		t.Fatal("valid checksum flagged as mismatched")
	}
}
