package ext4

import (
	"context"
	"encoding/binary"
	"fmt"
)

const (
	extentTreeHeaderLength int    = 12
	extentTreeEntryLength  int    = 12
	extentHeaderSignature  uint16 = 0xf30a
	extentTreeMaxDepth     int    = 5
	// extentUninitializedThreshold is the sentinel from spec.md §3/§4.7: an
	// extent whose on-disk length exceeds this many blocks is uninitialized
	// (preallocated but never written); its true length is len-32768 and its
	// data reads back as zero without touching the block device.
	extentUninitializedThreshold uint16 = 32768
)

// extent is a single contiguous run of blocks backing a range of a file's
// logical blocks (spec.md §3/§4.7).
type extent struct {
	fileBlock       uint32
	startingBlock   uint64
	count           uint16
	uninitialized   bool
}

// effectiveCount returns the real block count once the uninitialized
// sentinel has been removed (spec.md §4.7).
func (e extent) effectiveCount() uint16 {
	if e.uninitialized {
		return e.count - extentUninitializedThreshold
	}
	return e.count
}

type extents []extent

// extentBlockFinder resolves ranges of a file's logical blocks to disk
// blocks. Only the read path survives here (spec.md Non-goals exclude
// extent-tree mutation entirely): no split/extend/write operations.
type extentBlockFinder interface {
	// findBlocks resolves count logical blocks starting at start. A
	// uninitialized extent contributes resolvedBlock{disk: 0, zero: true}
	// entries rather than real disk block numbers.
	findBlocks(ctx context.Context, start, count uint64, fs *Filesystem) ([]resolvedBlock, error)
	getDepth() uint16
}

// resolvedBlock is one logical-file-block's resolution: either a concrete
// disk block to read, or a hole/uninitialized-extent that reads as zero
// without any device I/O (spec.md §4.7/§4.8).
type resolvedBlock struct {
	disk uint64
	zero bool
}

var (
	_ extentBlockFinder = &extentInternalNode{}
	_ extentBlockFinder = &extentLeafNode{}
)

type extentNodeHeader struct {
	depth     uint16
	entries   uint16
	max       uint16
	blockSize uint32
	// parseDepth counts hops from the inode's root extent header, not the
	// on-disk depth field; it bounds recursion against a cyclic or
	// self-referencing tree regardless of what the on-disk depth claims.
	parseDepth int
}

type extentChildPtr struct {
	fileBlock uint32
	count     uint32
	diskBlock uint64
}

type extentLeafNode struct {
	extentNodeHeader
	extents extents
}

func (e extentLeafNode) getDepth() uint16 { return e.depth }

// findBlocks returns exactly count entries, one per logical block in
// [start, start+count), in order. A logical block no extent covers at all
// is a true hole and resolves to a zero-fill entry, the same as a covered
// but uninitialized extent (spec.md §4.7/§4.9) — callers index the result
// positionally and must never see it desync from the requested range.
func (e extentLeafNode) findBlocks(_ context.Context, start, count uint64, _ *Filesystem) ([]resolvedBlock, error) {
	end := start + count - 1
	ret := make([]resolvedBlock, count)
	for i := range ret {
		ret[i] = resolvedBlock{zero: true}
	}
	for _, ext := range e.extents {
		extentStart := uint64(ext.fileBlock)
		extentEnd := extentStart + uint64(ext.effectiveCount()) - 1
		if extentEnd < start || extentStart > end {
			continue
		}
		overlapStart := max(start, extentStart)
		overlapEnd := min(end, extentEnd)
		for lb := overlapStart; lb <= overlapEnd; lb++ {
			if ext.uninitialized {
				ret[lb-start] = resolvedBlock{zero: true}
				continue
			}
			ret[lb-start] = resolvedBlock{disk: ext.startingBlock + (lb - extentStart)}
		}
	}
	return ret, nil
}

type extentInternalNode struct {
	extentNodeHeader
	children []*extentChildPtr
}

func (e extentInternalNode) getDepth() uint16 { return e.depth }

// findBlocks returns exactly count entries aligned to [start, start+count),
// the same positional contract extentLeafNode.findBlocks keeps: a logical
// block no child subtree covers resolves to a zero-fill hole rather than
// being silently omitted.
func (e extentInternalNode) findBlocks(ctx context.Context, start, count uint64, fs *Filesystem) ([]resolvedBlock, error) {
	end := start + count - 1
	ret := make([]resolvedBlock, count)
	for i := range ret {
		ret[i] = resolvedBlock{zero: true}
	}
	for _, child := range e.children {
		childStart := uint64(child.fileBlock)
		childEnd := childStart + uint64(child.count) - 1
		if childEnd < start || childStart > end {
			continue
		}
		overlapStart := max(start, childStart)
		overlapEnd := min(end, childEnd)

		b, err := fs.readBlock(ctx, child.diskBlock)
		if err != nil {
			return nil, fmt.Errorf("reading extent tree block %d: %w", child.diskBlock, err)
		}
		node, err := parseExtentNode(b, e.blockSize, e.parseDepth+1)
		if err != nil {
			return nil, err
		}
		sub, err := node.findBlocks(ctx, overlapStart, overlapEnd-overlapStart+1, fs)
		if err != nil {
			return nil, err
		}
		copy(ret[overlapStart-start:], sub)
	}
	return ret, nil
}

// parseExtentNode decodes one extent-tree node (the root stored inline in an
// inode's 60-byte block field, or a node stored in its own filesystem
// block). recursionDepth tracks recursion to enforce the tree-depth bound (spec.md §4.7/§9:
// malformed trees must not cause unbounded recursion).
func parseExtentNode(b []byte, blockSize uint32, recursionDepth int) (extentBlockFinder, error) {
	if recursionDepth > extentTreeMaxDepth {
		return nil, fmt.Errorf("%w: extent tree exceeds max depth %d", ErrCorruptMetadata, extentTreeMaxDepth)
	}
	minLength := extentTreeHeaderLength + extentTreeEntryLength
	if len(b) < minLength {
		return nil, fmt.Errorf("%w: extent node too short: %d bytes", ErrCorruptMetadata, len(b))
	}
	if binary.LittleEndian.Uint16(b[0:2]) != extentHeaderSignature {
		return nil, fmt.Errorf("%w: invalid extent tree signature %#x", ErrCorruptMetadata, binary.LittleEndian.Uint16(b[0:2]))
	}
	hdr := extentNodeHeader{
		entries:    binary.LittleEndian.Uint16(b[0x2:0x4]),
		max:        binary.LittleEndian.Uint16(b[0x4:0x6]),
		depth:      binary.LittleEndian.Uint16(b[0x6:0x8]),
		blockSize:  blockSize,
		parseDepth: recursionDepth,
	}
	if int(hdr.entries) > int(hdr.max) {
		return nil, fmt.Errorf("%w: extent node entries %d exceeds max %d", ErrCorruptMetadata, hdr.entries, hdr.max)
	}
	need := extentTreeHeaderLength + int(hdr.entries)*extentTreeEntryLength
	if len(b) < need {
		return nil, fmt.Errorf("%w: extent node truncated", ErrCorruptMetadata)
	}

	if hdr.depth == 0 {
		leaf := extentLeafNode{extentNodeHeader: hdr}
		for i := 0; i < int(hdr.entries); i++ {
			off := i*extentTreeEntryLength + extentTreeHeaderLength
			fileBlock := binary.LittleEndian.Uint32(b[off : off+4])
			rawCount := binary.LittleEndian.Uint16(b[off+4 : off+6])
			var diskBlock [8]byte
			copy(diskBlock[0:4], b[off+8:off+12])
			copy(diskBlock[4:6], b[off+6:off+8])
			leaf.extents = append(leaf.extents, extent{
				fileBlock:     fileBlock,
				count:         rawCount,
				startingBlock: binary.LittleEndian.Uint64(diskBlock[:]),
				uninitialized: rawCount > extentUninitializedThreshold,
			})
		}
		return &leaf, nil
	}

	internal := extentInternalNode{extentNodeHeader: hdr}
	for i := 0; i < int(hdr.entries); i++ {
		off := i*extentTreeEntryLength + extentTreeHeaderLength
		var diskBlock [8]byte
		copy(diskBlock[0:4], b[off+4:off+8])
		copy(diskBlock[4:6], b[off+8:off+10])
		ptr := &extentChildPtr{
			fileBlock: binary.LittleEndian.Uint32(b[off : off+4]),
			diskBlock: binary.LittleEndian.Uint64(diskBlock[:]),
		}
		if i > 0 {
			internal.children[i-1].count = ptr.fileBlock - internal.children[i-1].fileBlock
		}
		internal.children = append(internal.children, ptr)
	}
	if n := len(internal.children); n > 0 {
		// The last child's extent runs to the end of whatever range the
		// caller believes this subtree covers; findBlocks only needs an
		// upper bound, not an exact count, so a generous count is safe.
		internal.children[n-1].count = ^uint32(0) - internal.children[n-1].fileBlock
	}
	return &internal, nil
}
