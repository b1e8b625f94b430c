package ext4

// Feature-flag bit values, wire-stable across the whole ext4 family
// (spec.md §6). Kept as the teacher's inode.go constants are kept: these
// are on-disk constants, identical whether the core reads, writes, or only
// recognizes them.
const (
	compatDirPrealloc  uint32 = 0x0001
	compatImagicInodes uint32 = 0x0002
	compatHasJournal   uint32 = 0x0004
	compatExtAttr      uint32 = 0x0008
	compatResizeInode  uint32 = 0x0010
	compatDirIndex     uint32 = 0x0020
	compatSparseSuper2 uint32 = 0x0200

	incompatCompression uint32 = 0x0001
	incompatFiletype    uint32 = 0x0002
	incompatRecover     uint32 = 0x0004
	incompatJournalDev  uint32 = 0x0008
	incompatMetaBG      uint32 = 0x0010
	incompatExtents     uint32 = 0x0040
	incompat64Bit       uint32 = 0x0080
	incompatMMP         uint32 = 0x0100
	incompatFlexBG      uint32 = 0x0200
	incompatCsumSeed    uint32 = 0x2000
	incompatInlineData  uint32 = 0x8000

	roCompatSparseSuper uint32 = 0x0001
	roCompatLargeFile   uint32 = 0x0002
	roCompatBtreeDir    uint32 = 0x0004
	roCompatHugeFile    uint32 = 0x0008
	roCompatGDTCsum     uint32 = 0x0010
	roCompatDirNlink    uint32 = 0x0020
	roCompatExtraIsize  uint32 = 0x0040
	roCompatMetadataCsum uint32 = 0x0400
	roCompatReadOnly    uint32 = 0x1000

	// checksumTypeCRC32C is the only checksum_type byte value the core
	// honors (spec.md §3/§4.3).
	checksumTypeCRC32C uint8 = 1
)

// supportedIncompat is the full set of incompat feature bits this read-only
// core recognizes (spec.md §4.3 step 3). Mounting a filesystem with any
// other incompat bit set is refused outright — the gate is exhaustive, not
// best-effort (spec.md §9).
const supportedIncompat = incompatFiletype | incompatRecover | incompatExtents | incompat64Bit | incompatFlexBG | incompatMMP | incompatCsumSeed

// Directory file_type byte values (spec.md §6).
const (
	fileTypeUnknown  uint8 = 0
	fileTypeRegular  uint8 = 1
	fileTypeDir      uint8 = 2
	fileTypeCharDev  uint8 = 3
	fileTypeBlockDev uint8 = 4
	fileTypeFifo     uint8 = 5
	fileTypeSocket   uint8 = 6
	fileTypeSymlink  uint8 = 7
)

// Inode mode file-type bits (top 4 bits of i_mode, spec.md §6).
const (
	modeFmtMask uint16 = 0xF000
	modeSocket  uint16 = 0xC000
	modeSymlink uint16 = 0xA000
	modeRegular uint16 = 0x8000
	modeBlkDev  uint16 = 0x6000
	modeDir     uint16 = 0x4000
	modeCharDev uint16 = 0x2000
	modeFifo    uint16 = 0x1000
)

// Inode flag bits this core inspects (spec.md §3).
const (
	inodeFlagUsesExtents uint32 = 0x80000
	inodeFlagInlineData  uint32 = 0x4000000
)

// Reserved inode numbers (spec.md §3).
const (
	inodeNumberRoot          uint32 = 2
	inodeNumberJournal       uint32 = 8
	inodeNumberFirstNonReserved uint32 = 11
)
