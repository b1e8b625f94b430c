package ext4

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

// buildLeafExtentNode builds a root extent-tree header (depth 0) with the
// given leaf entries, in the 12-byte-header + 12-byte-entry on-disk layout
// (spec.md §3/§4.7).
func buildLeafExtentNode(entries []extent) []byte {
	b := make([]byte, extentTreeHeaderLength+len(entries)*extentTreeEntryLength)
	le := binary.LittleEndian
	le.PutUint16(b[0:2], extentHeaderSignature)
	le.PutUint16(b[2:4], uint16(len(entries)))
	le.PutUint16(b[4:6], uint16(len(entries))+1)
	le.PutUint16(b[6:8], 0) // depth 0: leaf

	for i, e := range entries {
		off := extentTreeHeaderLength + i*extentTreeEntryLength
		le.PutUint32(b[off:off+4], e.fileBlock)
		le.PutUint16(b[off+4:off+6], e.count)
		le.PutUint16(b[off+6:off+8], uint16(e.startingBlock>>32))
		le.PutUint32(b[off+8:off+12], uint32(e.startingBlock))
	}
	return b
}

func TestParseExtentNodeLeafNormal(t *testing.T) {
	raw := buildLeafExtentNode([]extent{
		{fileBlock: 0, count: 4, startingBlock: 1000},
		{fileBlock: 4, count: 2, startingBlock: 2000},
	})
	node, err := parseExtentNode(raw, 4096, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node.getDepth() != 0 {
		t.Fatalf("getDepth() = %d, want 0", node.getDepth())
	}

	resolved, err := node.findBlocks(context.Background(), 0, 6, nil)
	if err != nil {
		t.Fatalf("findBlocks error: %v", err)
	}
	want := []uint64{1000, 1001, 1002, 1003, 2000, 2001}
	if len(resolved) != len(want) {
		t.Fatalf("got %d resolved blocks, want %d", len(resolved), len(want))
	}
	for i, rb := range resolved {
		if rb.zero {
			t.Fatalf("block %d unexpectedly zero-filled", i)
		}
		if rb.disk != want[i] {
			t.Fatalf("block %d = %d, want %d", i, rb.disk, want[i])
		}
	}
}

func TestParseExtentNodeUninitialized(t *testing.T) {
	raw := buildLeafExtentNode([]extent{
		{fileBlock: 0, count: extentUninitializedThreshold + 3, startingBlock: 500},
	})
	node, err := parseExtentNode(raw, 4096, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resolved, err := node.findBlocks(context.Background(), 0, 3, nil)
	if err != nil {
		t.Fatalf("findBlocks error: %v", err)
	}
	if len(resolved) != 3 {
		t.Fatalf("got %d resolved blocks, want 3", len(resolved))
	}
	for i, rb := range resolved {
		if !rb.zero {
			t.Fatalf("block %d: expected zero-filled uninitialized extent", i)
		}
	}
}

func TestParseExtentNodeBadSignature(t *testing.T) {
	raw := buildLeafExtentNode([]extent{{fileBlock: 0, count: 1, startingBlock: 1}})
	binary.LittleEndian.PutUint16(raw[0:2], 0xdead)
	_, err := parseExtentNode(raw, 4096, 1)
	if !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("expected ErrCorruptMetadata, got %v", err)
	}
}

func TestParseExtentNodeEntriesExceedMax(t *testing.T) {
	raw := buildLeafExtentNode([]extent{{fileBlock: 0, count: 1, startingBlock: 1}})
	binary.LittleEndian.PutUint16(raw[2:4], 5) // entries > max
	_, err := parseExtentNode(raw, 4096, 1)
	if !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("expected ErrCorruptMetadata, got %v", err)
	}
}

func TestParseExtentNodeMaxDepthExceeded(t *testing.T) {
	raw := buildLeafExtentNode([]extent{{fileBlock: 0, count: 1, startingBlock: 1}})
	_, err := parseExtentNode(raw, 4096, extentTreeMaxDepth+1)
	if !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("expected ErrCorruptMetadata at depth %d, got %v", extentTreeMaxDepth+1, err)
	}
}

func TestParseExtentNodeTooShort(t *testing.T) {
	_, err := parseExtentNode([]byte{1, 2, 3}, 4096, 1)
	if !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("expected ErrCorruptMetadata on short buffer, got %v", err)
	}
}
