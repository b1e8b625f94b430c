package ext4

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Journal block types and the JBD2 magic (spec.md §3.12). Only the
// superblock's own block type is ever decoded here: this core detects a
// journal's presence and reports its feature bits, it never replays one
// (spec.md Non-goals).
type journalBlockType uint32

const (
	journalBlockTypeSuperblockV1 journalBlockType = 3
	journalBlockTypeSuperblockV2 journalBlockType = 4

	journalMagic          uint32 = 0xC03B3998
	journalSuperblockSize int    = 1024

	jbd2IncompatFeature64Bit      uint32 = 0x2
	jbd2IncompatFeatureChecksumV2 uint32 = 0x8
	jbd2IncompatFeatureChecksumV3 uint32 = 0x10
)

type journalHeader struct {
	magic     uint32
	blockType journalBlockType
	sequence  uint32
}

func journalHeaderFromBytes(b []byte) (*journalHeader, error) {
	if len(b) < 12 {
		return nil, fmt.Errorf("%w: journal header too short: %d bytes", ErrCorruptMetadata, len(b))
	}
	magic := binary.BigEndian.Uint32(b[0x0:0x4])
	if magic != journalMagic {
		return nil, fmt.Errorf("%w: bad journal magic %#x", ErrCorruptMetadata, magic)
	}
	return &journalHeader{
		magic:     magic,
		blockType: journalBlockType(binary.BigEndian.Uint32(b[0x4:0x8])),
		sequence:  binary.BigEndian.Uint32(b[0x8:0xc]),
	}, nil
}

// journalSuperblock is the decoded JBD2 journal superblock (spec.md
// §3.12): enough of it to report the journal's presence and feature set,
// never enough to replay it.
type journalSuperblock struct {
	blockSize        uint32
	maxLen           uint32
	sequence         uint32
	incompatFeatures uint32
	uuid             uuid.UUID
}

func journalSuperblockFromBytes(b []byte) (*journalSuperblock, error) {
	if len(b) != journalSuperblockSize {
		return nil, fmt.Errorf("%w: journal superblock must be %d bytes", ErrCorruptMetadata, journalSuperblockSize)
	}
	header, err := journalHeaderFromBytes(b[0x0:0xc])
	if err != nil {
		return nil, err
	}
	if header.blockType != journalBlockTypeSuperblockV1 && header.blockType != journalBlockTypeSuperblockV2 {
		return nil, fmt.Errorf("%w: block type %d is not a journal superblock", ErrCorruptMetadata, header.blockType)
	}

	js := &journalSuperblock{
		blockSize: binary.BigEndian.Uint32(b[0xc:0x10]),
		maxLen:    binary.BigEndian.Uint32(b[0x10:0x14]),
		sequence:  binary.BigEndian.Uint32(b[0x18:0x1c]),
	}
	if header.blockType == journalBlockTypeSuperblockV2 {
		js.incompatFeatures = binary.BigEndian.Uint32(b[0x28:0x2c])
		if u, err := uuid.FromBytes(b[0x30:0x40]); err == nil {
			js.uuid = u
		}
	}
	return js, nil
}

// DetectJournal reports whether the mounted filesystem carries an
// internal journal inode and, if so, the journal's own feature bits
// (spec.md §3.12). It never replays the journal's contents; recovery, if
// any was pending, is left for a write-capable implementation.
func DetectJournal(ctx context.Context, fs *Filesystem) (present bool, journalInodeNumber uint32, err error) {
	if fs.superblock.featureCompat&compatHasJournal == 0 {
		return false, 0, nil
	}
	in, err := readInode(ctx, fs, inodeNumberJournal)
	if err != nil {
		return true, inodeNumberJournal, fmt.Errorf("reading journal inode: %w", err)
	}
	if in.extents == nil {
		return true, inodeNumberJournal, nil
	}
	resolved, err := in.extents.findBlocks(ctx, 0, 1, fs)
	if err != nil || len(resolved) == 0 || resolved[0].zero {
		return true, inodeNumberJournal, nil
	}
	blk, err := fs.readBlock(ctx, resolved[0].disk)
	if err != nil {
		return true, inodeNumberJournal, nil
	}
	if len(blk) < journalSuperblockSize {
		return true, inodeNumberJournal, nil
	}
	if _, err := journalSuperblockFromBytes(blk[:journalSuperblockSize]); err != nil {
		log.WithError(err).Debug("journal inode present but superblock did not decode")
	}
	return true, inodeNumberJournal, nil
}
