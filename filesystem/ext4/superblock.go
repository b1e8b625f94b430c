package ext4

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/diskkernel/ext4ro/crc32c"
	"github.com/google/uuid"
)

// SuperblockSize is the fixed, on-disk size of the ext4 superblock record
// (spec.md §3).
const SuperblockSize = 1024

// superblockOffset is the byte offset of the superblock from the start of
// the partition (spec.md §3/§4.3).
const superblockOffset = 1024

const superblockMagic uint16 = 0xEF53

// superblock is the in-memory, decoded form of the 1024-byte on-disk
// superblock record. Field layout grounded on the teacher's
// superblockFromBytes/toBytes decode style (fixed-offset slices decoded
// field-by-field via encoding/binary, never by reinterpreting a pointer —
// spec.md §9) and cross-checked against the ext4 on-disk format (spec.md
// §6). Only the fields the read path actually consumes are kept as typed
// struct fields; everything else round-trips through the raw buffer.
type superblock struct {
	raw [SuperblockSize]byte

	inodesCount      uint32
	blocksCountLo    uint32
	blocksCountHi    uint32
	freeBlocksCount  uint64
	freeInodesCount  uint32
	firstDataBlock   uint32
	logBlockSize     uint32
	blocksPerGroup   uint32
	inodesPerGroup   uint32
	mountTime        time.Time
	writeTime        time.Time
	magic            uint16
	state            uint16
	errors           uint16
	firstIno         uint32
	inodeSize        uint16
	featureCompat    uint32
	featureIncompat  uint32
	featureRoCompat  uint32
	uuid             uuid.UUID
	volumeName       string
	descSize         uint16
	checksumType     uint8
	checksumSeed     uint32
	checksum         uint32
	journalInode     uint32
	logGroupsPerFlex uint8
}

func (sb *superblock) is64Bit() bool {
	return sb.featureIncompat&incompat64Bit != 0
}

func (sb *superblock) hasMetadataChecksums() bool {
	return sb.featureRoCompat&roCompatMetadataCsum != 0
}

// effectiveChecksumSeed returns the seed that drives every inode/bitmap
// checksum: the on-disk s_checksum_seed field only when INCOMPAT_CSUM_SEED
// says that field is meaningful, otherwise derived fresh as CRC32C(~0, uuid)
// the same way group-descriptor checksums already are (spec.md §4.1/§4.5).
// Trusting the raw field unconditionally would accept stray or zeroed bytes
// at 0x270 on filesystems that never set the feature bit.
func (sb *superblock) effectiveChecksumSeed() uint32 {
	if sb.featureIncompat&incompatCsumSeed != 0 {
		return sb.checksumSeed
	}
	return crc32c.Sum(sb.uuid[:])
}

func (sb *superblock) blockSize() uint32 {
	return 1024 << sb.logBlockSize
}

func (sb *superblock) blockCount() uint64 {
	if sb.is64Bit() {
		return uint64(sb.blocksCountHi)<<32 | uint64(sb.blocksCountLo)
	}
	return uint64(sb.blocksCountLo)
}

// groupCount returns the number of block groups the filesystem is
// divided into: ceil(blockCount / blocksPerGroup) (spec.md §3).
func (sb *superblock) groupCount() uint64 {
	bpg := uint64(sb.blocksPerGroup)
	if bpg == 0 {
		return 0
	}
	bc := sb.blockCount()
	return (bc + bpg - 1) / bpg
}

// descriptorSize returns the on-disk group-descriptor record size: 64 bytes
// if INCOMPAT_64BIT is set and desc_size says so, 32 bytes otherwise.
func (sb *superblock) descriptorSize() int {
	if sb.is64Bit() && sb.descSize >= 64 {
		return int(sb.descSize)
	}
	return 32
}

func (sb *superblock) equal(a *superblock) bool {
	if sb == nil || a == nil {
		return sb == a
	}
	return sb.raw == a.raw
}

// superblockFromBytes parses and validates a raw 1024-byte superblock
// record (spec.md §4.3 steps 1-4).
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) != SuperblockSize {
		return nil, fmt.Errorf("%w: superblock must be %d bytes, got %d", ErrBadSuperblock, SuperblockSize, len(b))
	}
	le := binary.LittleEndian
	sb := &superblock{}
	copy(sb.raw[:], b)

	sb.magic = le.Uint16(b[0x38:0x3a])
	if sb.magic != superblockMagic {
		return nil, fmt.Errorf("%w: bad magic %#x, want %#x", ErrBadSuperblock, sb.magic, superblockMagic)
	}

	sb.inodesCount = le.Uint32(b[0x00:0x04])
	sb.blocksCountLo = le.Uint32(b[0x04:0x08])
	sb.freeInodesCount = le.Uint32(b[0x10:0x14])
	sb.firstDataBlock = le.Uint32(b[0x14:0x18])
	sb.logBlockSize = le.Uint32(b[0x18:0x1c])
	sb.blocksPerGroup = le.Uint32(b[0x20:0x24])
	sb.inodesPerGroup = le.Uint32(b[0x28:0x2c])
	sb.mountTime = time.Unix(int64(le.Uint32(b[0x2c:0x30])), 0).UTC()
	sb.writeTime = time.Unix(int64(le.Uint32(b[0x30:0x34])), 0).UTC()
	sb.state = le.Uint16(b[0x3a:0x3c])
	sb.errors = le.Uint16(b[0x3c:0x3e])

	sb.firstIno = le.Uint32(b[0x54:0x58])
	sb.inodeSize = le.Uint16(b[0x58:0x5a])
	sb.featureCompat = le.Uint32(b[0x5c:0x60])
	sb.featureIncompat = le.Uint32(b[0x60:0x64])
	sb.featureRoCompat = le.Uint32(b[0x64:0x68])

	u, err := uuid.FromBytes(b[0x68:0x78])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid uuid: %v", ErrBadSuperblock, err)
	}
	sb.uuid = u
	sb.volumeName = cString(b[0x78:0x88])

	sb.journalInode = le.Uint32(b[0xe0:0xe4])

	sb.descSize = le.Uint16(b[0xfe:0x100])
	sb.logGroupsPerFlex = b[0x174]
	sb.checksumType = b[0x175]

	if sb.is64Bit() {
		sb.blocksCountHi = le.Uint32(b[0x150:0x154])
		freeLo := le.Uint32(b[0x0c:0x10])
		freeHi := le.Uint32(b[0x158:0x15c])
		sb.freeBlocksCount = uint64(freeHi)<<32 | uint64(freeLo)
	} else {
		sb.freeBlocksCount = uint64(le.Uint32(b[0x0c:0x10]))
	}

	sb.checksumSeed = le.Uint32(b[0x270:0x274])
	sb.checksum = le.Uint32(b[0x3fc:0x400])

	if sb.hasMetadataChecksums() {
		if sb.checksumType != checksumTypeCRC32C {
			return nil, fmt.Errorf("%w: unsupported checksum type %d", ErrBadSuperblock, sb.checksumType)
		}
		actual := crc32c.Sum(b[0:0x3fc])
		if actual != sb.checksum {
			return nil, fmt.Errorf("%w: checksum mismatch, have %#x want %#x", ErrBadSuperblock, actual, sb.checksum)
		}
	}

	if err := sb.validateGeometry(); err != nil {
		return nil, err
	}

	return sb, nil
}

func (sb *superblock) validateGeometry() error {
	if sb.logBlockSize > 6 {
		return fmt.Errorf("%w: log_block_size %d out of range", ErrBadSuperblock, sb.logBlockSize)
	}
	bs := sb.blockSize()
	if bs != 1024 && bs != 2048 && bs != 4096 {
		return fmt.Errorf("%w: unsupported block size %d", ErrBadSuperblock, bs)
	}
	if sb.inodeSize < 128 {
		return fmt.Errorf("%w: inode_size %d below minimum 128", ErrBadSuperblock, sb.inodeSize)
	}
	if sb.blocksPerGroup == 0 || sb.inodesPerGroup == 0 {
		return fmt.Errorf("%w: zero blocks_per_group or inodes_per_group", ErrBadSuperblock)
	}
	if incompat := sb.featureIncompat &^ supportedIncompat; incompat != 0 {
		return fmt.Errorf("%w: unsupported incompat feature bits %#x", ErrBadSuperblock, incompat)
	}
	if sb.is64Bit() && sb.descriptorSize() < 64 {
		return fmt.Errorf("%w: 64BIT feature set but desc_size %d < 64", ErrBadSuperblock, sb.descSize)
	}
	// ro_compat bits outside the supported set are tolerated: the core is
	// read-only regardless, so an unknown "required read-write" bit never
	// matters (spec.md §4.3 step 4).
	return nil
}

// toBytes re-serializes the superblock, recomputing the checksum if
// metadata checksums are enabled. Exercised only by the SB-ROUND-TRIP test
// property (spec.md §8); the mount path never calls it.
func (sb *superblock) toBytes() []byte {
	b := make([]byte, SuperblockSize)
	copy(b, sb.raw[:])
	le := binary.LittleEndian

	le.PutUint32(b[0x00:0x04], sb.inodesCount)
	le.PutUint32(b[0x04:0x08], sb.blocksCountLo)
	le.PutUint32(b[0x10:0x14], sb.freeInodesCount)
	le.PutUint32(b[0x14:0x18], sb.firstDataBlock)
	le.PutUint32(b[0x18:0x1c], sb.logBlockSize)
	le.PutUint32(b[0x20:0x24], sb.blocksPerGroup)
	le.PutUint32(b[0x28:0x2c], sb.inodesPerGroup)
	le.PutUint32(b[0x2c:0x30], uint32(sb.mountTime.Unix()))
	le.PutUint32(b[0x30:0x34], uint32(sb.writeTime.Unix()))
	le.PutUint16(b[0x38:0x3a], sb.magic)
	le.PutUint16(b[0x3a:0x3c], sb.state)
	le.PutUint16(b[0x3c:0x3e], sb.errors)
	le.PutUint32(b[0x54:0x58], sb.firstIno)
	le.PutUint16(b[0x58:0x5a], sb.inodeSize)
	le.PutUint32(b[0x5c:0x60], sb.featureCompat)
	le.PutUint32(b[0x60:0x64], sb.featureIncompat)
	le.PutUint32(b[0x64:0x68], sb.featureRoCompat)
	copy(b[0x68:0x78], sb.uuid[:])
	copy(b[0x78:0x88], padTo(sb.volumeName, 16))
	le.PutUint32(b[0xe0:0xe4], sb.journalInode)
	le.PutUint16(b[0xfe:0x100], sb.descSize)
	b[0x174] = sb.logGroupsPerFlex
	b[0x175] = sb.checksumType

	if sb.is64Bit() {
		le.PutUint32(b[0x150:0x154], sb.blocksCountHi)
		le.PutUint32(b[0x0c:0x10], uint32(sb.freeBlocksCount))
		le.PutUint32(b[0x158:0x15c], uint32(sb.freeBlocksCount>>32))
	} else {
		le.PutUint32(b[0x0c:0x10], uint32(sb.freeBlocksCount))
	}

	le.PutUint32(b[0x270:0x274], sb.checksumSeed)

	if sb.hasMetadataChecksums() {
		checksum := crc32c.Sum(b[0:0x3fc])
		le.PutUint32(b[0x3fc:0x400], checksum)
	} else {
		le.PutUint32(b[0x3fc:0x400], sb.checksum)
	}

	return b
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func padTo(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

// calculateBackupSuperblockGroups returns the block-group numbers that
// carry a backup superblock under the sparse_super layout: every group
// below bgs that is a power of 3, 5, or 7 (group 1 included, as the zeroth
// power), in ascending order. Group 0 holds the primary superblock and is
// not listed. Kept from the teacher's calculateBackupSuperblocks (spec.md
// is silent on backup superblocks since they are a write-path/mkfs
// concern); nothing in the read path calls it.
func calculateBackupSuperblockGroups(bgs int64) []int64 {
	set := map[int64]bool{}
	for _, base := range []int64{3, 5, 7} {
		for p := int64(1); p < bgs; p *= base {
			set[p] = true
		}
	}
	out := make([]int64, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
