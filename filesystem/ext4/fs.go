// Package ext4 implements a read-only view of the ext4 on-disk format: it
// mounts a partition exposed as a blockdev.Device, walks its block-group
// and extent-tree metadata, and serves file and directory reads. There is
// no write path: OpenFile with any flag but os.O_RDONLY, and File.Write,
// return filesystem.ErrReadonlyFilesystem.
package ext4

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/diskkernel/ext4ro/blockdev"
	"github.com/diskkernel/ext4ro/filesystem"
	"github.com/diskkernel/ext4ro/partition/part"
)

// Filesystem is a mounted, read-only ext4 filesystem bound to a single
// partition on a blockdev.Device (spec.md §4.3/§5).
type Filesystem struct {
	device         blockdev.Device
	partitionStart int64 // byte offset of the partition within the device
	partitionSize  int64
	superblock     *superblock
	gdCache        *groupDescriptorCache
	journalPresent bool
	journalInode   uint32
}

var _ filesystem.FileSystem = (*Filesystem)(nil)

// Mount reads and validates the superblock and refuses to proceed on any
// unsupported incompat feature bit, then returns a ready-to-use read-only
// Filesystem (spec.md §4.3). start/size are the partition's byte extent on
// dev, normally obtained from an external MBR/GPT reader (spec.md §1).
func Mount(ctx context.Context, dev blockdev.Device, p part.Partition) (*Filesystem, error) {
	start := p.Start()
	size := p.Size()
	sectorSize := dev.LogicalSectorSize()

	raw, err := readAligned(ctx, dev, start+superblockOffset, SuperblockSize, sectorSize)
	if err != nil {
		return nil, fmt.Errorf("%w: reading superblock: %v", ErrIoMount, err)
	}
	sb, err := superblockFromBytes(raw)
	if err != nil {
		return nil, err
	}
	if uint64(sb.blockSize())%uint64(sectorSize) != 0 {
		return nil, fmt.Errorf("%w: block size %d not a multiple of sector size %d", ErrBadSuperblock, sb.blockSize(), sectorSize)
	}

	fsys := &Filesystem{
		device:         dev,
		partitionStart: start,
		partitionSize:  size,
		superblock:     sb,
		gdCache:        newGroupDescriptorCache(),
	}

	present, journalInode, err := DetectJournal(ctx, fsys)
	if err != nil {
		log.WithError(err).Warn("journal detection failed, proceeding without it")
	}
	fsys.journalPresent = present
	fsys.journalInode = journalInode

	return fsys, nil
}

// Type identifies this filesystem to generic callers (spec.md §4.3).
func (f *Filesystem) Type() filesystem.Type { return filesystem.TypeExt4 }

// Label is the on-disk volume name (spec.md §3).
func (f *Filesystem) Label() string { return f.superblock.volumeName }

// HasJournal reports whether the mounted filesystem carries an internal
// journal, without replaying it (spec.md §3.12).
func (f *Filesystem) HasJournal() bool { return f.journalPresent }

// readAligned reads a byte range from dev by rounding out to whole
// sectors and slicing the wanted bytes back out, since a Device never
// accepts an unaligned request (spec.md §4.2).
func readAligned(ctx context.Context, dev blockdev.Device, byteOffset, byteLen int64, sectorSize uint32) ([]byte, error) {
	ss := int64(sectorSize)
	alignedStart := (byteOffset / ss) * ss
	alignedEnd := ((byteOffset + byteLen + ss - 1) / ss) * ss
	startLBA, count, err := blockdev.RequireAligned(alignedStart, alignedEnd-alignedStart, sectorSize)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, alignedEnd-alignedStart)
	if err := dev.ReadSectors(ctx, startLBA, count, buf); err != nil {
		return nil, err
	}
	lo := byteOffset - alignedStart
	return buf[lo : lo+byteLen], nil
}

// readAt reads len(dst) bytes starting at the given byte offset relative
// to the start of the partition.
func (f *Filesystem) readAt(ctx context.Context, byteOffset int64, dst []byte) error {
	b, err := readAligned(ctx, f.device, f.partitionStart+byteOffset, int64(len(dst)), f.device.LogicalSectorSize())
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// readBlock reads exactly one filesystem block (spec.md §4.2/§4.7).
func (f *Filesystem) readBlock(ctx context.Context, blockNum uint64) ([]byte, error) {
	bs := int64(f.superblock.blockSize())
	buf := make([]byte, bs)
	if err := f.readAt(ctx, int64(blockNum)*bs, buf); err != nil {
		return nil, fmt.Errorf("reading block %d: %w", blockNum, err)
	}
	return buf, nil
}

// groupDescriptor returns the descriptor for the given block group,
// populating the cache on a miss (spec.md §4.4).
func (f *Filesystem) groupDescriptor(ctx context.Context, group uint64) (*groupDescriptor, error) {
	if gd, ok := f.gdCache.get(group); ok {
		return gd, nil
	}
	now := time.Now()

	sb := f.superblock
	descSize := sb.descriptorSize()
	// The group descriptor table occupies the block(s) immediately after
	// the superblock's own block (spec.md §3/§4.4).
	gdtBlock := sb.firstDataBlock + 1
	byteOffset := uint64(gdtBlock)*uint64(sb.blockSize()) + group*uint64(descSize)

	buf := make([]byte, descSize)
	if err := f.readAt(ctx, int64(byteOffset), buf); err != nil {
		return nil, fmt.Errorf("reading group descriptor %d: %w", group, err)
	}

	gd, err := groupDescriptorFromBytes(buf, group, sb.is64Bit(), sb.uuid, sb.hasMetadataChecksums() || sb.featureRoCompat&roCompatGDTCsum != 0)
	if gd != nil {
		f.gdCache.insert(group, gd, now)
	}
	if err != nil {
		log.WithError(err).Warnf("group %d descriptor checksum mismatch", group)
		return gd, nil
	}
	return gd, nil
}

// blockBitmap loads and validates the block-allocation bitmap for the given
// group through its group descriptor (spec.md §4.5: "Bitmaps are loaded on
// first use through the group descriptor"). Neither this nor inodeBitmap is
// called from ReadDir/OpenFile's resolution path: the read path never needs
// free/used queries, only callers of CountFreeBlocks/CountFreeInodes/
// IsBlockFree/IsInodeFree do.
func (f *Filesystem) blockBitmap(ctx context.Context, group uint64) (*ext4Bitmap, error) {
	gd, err := f.groupDescriptor(ctx, group)
	if err != nil {
		return nil, err
	}
	size := int(f.superblock.blocksPerGroup+7) / 8
	buf := make([]byte, size)
	if err := f.readAt(ctx, int64(gd.blockBitmapLocation)*int64(f.superblock.blockSize()), buf); err != nil {
		return nil, fmt.Errorf("reading block bitmap for group %d: %w", group, err)
	}
	eb, err := bitmapFromDisk(buf, uint16(gd.blockBitmapChecksum), uint16(gd.blockBitmapChecksum>>16), f.superblock.effectiveChecksumSeed(), f.superblock.hasMetadataChecksums())
	if err != nil {
		log.WithError(err).Warnf("group %d block bitmap checksum mismatch", group)
	}
	return eb, nil
}

// inodeBitmap loads and validates the inode-allocation bitmap for the given
// group the same way blockBitmap does (spec.md §4.5).
func (f *Filesystem) inodeBitmap(ctx context.Context, group uint64) (*ext4Bitmap, error) {
	gd, err := f.groupDescriptor(ctx, group)
	if err != nil {
		return nil, err
	}
	size := int(f.superblock.inodesPerGroup+7) / 8
	buf := make([]byte, size)
	if err := f.readAt(ctx, int64(gd.inodeBitmapLocation)*int64(f.superblock.blockSize()), buf); err != nil {
		return nil, fmt.Errorf("reading inode bitmap for group %d: %w", group, err)
	}
	eb, err := bitmapFromDisk(buf, uint16(gd.inodeBitmapChecksum), uint16(gd.inodeBitmapChecksum>>16), f.superblock.effectiveChecksumSeed(), f.superblock.hasMetadataChecksums())
	if err != nil {
		log.WithError(err).Warnf("group %d inode bitmap checksum mismatch", group)
	}
	return eb, nil
}

// CountFreeBlocks reports the free-block count the on-disk block bitmap for
// group carries, loading and checksum-validating it on first use (spec.md
// §4.5's count_free query).
func (f *Filesystem) CountFreeBlocks(ctx context.Context, group uint64) (int, error) {
	eb, err := f.blockBitmap(ctx, group)
	if eb == nil {
		return 0, err
	}
	return eb.countFree(), nil
}

// CountFreeInodes reports the free-inode count the on-disk inode bitmap for
// group carries (spec.md §4.5).
func (f *Filesystem) CountFreeInodes(ctx context.Context, group uint64) (int, error) {
	eb, err := f.inodeBitmap(ctx, group)
	if eb == nil {
		return 0, err
	}
	return eb.countFree(), nil
}

// IsBlockFree reports whether the given group-relative block index is free
// according to the on-disk block bitmap (spec.md §4.5's is_set query,
// inverted to the free/used sense the rest of this module uses).
func (f *Filesystem) IsBlockFree(ctx context.Context, group uint64, index int) (bool, error) {
	eb, err := f.blockBitmap(ctx, group)
	if eb == nil {
		return false, err
	}
	return eb.isFree(index)
}

// IsInodeFree reports whether the given group-relative inode index is free
// according to the on-disk inode bitmap (spec.md §4.5).
func (f *Filesystem) IsInodeFree(ctx context.Context, group uint64, index int) (bool, error) {
	eb, err := f.inodeBitmap(ctx, group)
	if eb == nil {
		return false, err
	}
	return eb.isFree(index)
}

// resolveInode looks up an inode by absolute path from the root
// (spec.md §4.9/§4.10).
func (f *Filesystem) resolveInode(ctx context.Context, pathname string) (*inode, error) {
	pathname = path.Clean("/" + pathname)
	in, err := readInode(ctx, f, inodeNumberRoot)
	if err != nil {
		return nil, err
	}
	if pathname == "/" {
		return in, nil
	}
	segments := strings.Split(strings.Trim(pathname, "/"), "/")
	for _, segment := range segments {
		if !in.isDir() {
			return nil, fmt.Errorf("%w: %q", ErrNotADirectory, segment)
		}
		entries, err := f.readDirEntries(ctx, in)
		if err != nil {
			return nil, err
		}
		var next *directoryEntry
		for _, e := range entries {
			if e.name == segment {
				next = e
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, segment)
		}
		in, err = readInode(ctx, f, next.inodeNumber)
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}

// readDirEntries reads every directory record for a directory inode
// across all of its data blocks (spec.md §4.9). htree-indexed directories
// are read the same way: the linear records always remain valid even when
// an htree index also exists (spec.md Non-goals).
func (f *Filesystem) readDirEntries(ctx context.Context, dirInode *inode) ([]*directoryEntry, error) {
	if !dirInode.isDir() {
		return nil, ErrNotADirectory
	}
	if dirInode.extents == nil {
		return nil, fmt.Errorf("%w: directory inode has no extent tree", ErrUnsupported)
	}
	blockSize := f.superblock.blockSize()
	blockCount := (dirInode.size + uint64(blockSize) - 1) / uint64(blockSize)

	var all []*directoryEntry
	resolved, err := dirInode.extents.findBlocks(ctx, 0, blockCount, f)
	if err != nil {
		return nil, err
	}
	for _, rb := range resolved {
		if rb.zero {
			continue
		}
		blk, err := f.readBlock(ctx, rb.disk)
		if err != nil {
			return nil, err
		}
		entries, err := parseDirectoryBlock(blk)
		if err != nil {
			log.WithError(err).Warn("directory block had trailing corruption, returning entries found so far")
		}
		all = append(all, entries...)
		if err != nil {
			break
		}
	}
	return all, nil
}

// ReadDir implements filesystem.FileSystem (spec.md §4.9).
func (f *Filesystem) ReadDir(pathname string) ([]fs.DirEntry, error) {
	ctx := context.Background()
	in, err := f.resolveInode(ctx, pathname)
	if err != nil {
		return nil, err
	}
	if !in.isDir() {
		return nil, ErrNotADirectory
	}
	entries, err := f.readDirEntries(ctx, in)
	if err != nil {
		return nil, err
	}
	out := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.name == "." || e.name == ".." {
			continue
		}
		childInode, err := readInode(ctx, f, e.inodeNumber)
		if err != nil {
			log.WithError(err).Warnf("skipping directory entry %q: inode read failed", e.name)
			continue
		}
		out = append(out, &dirEntryAdapter{name: e.name, ino: childInode})
	}
	return out, nil
}

// OpenFile implements filesystem.FileSystem (spec.md §4.8). flag is
// accepted for interface compatibility; any flag other than os.O_RDONLY is
// rejected since there is no write path (spec.md Non-goals).
func (f *Filesystem) OpenFile(pathname string, flag int) (filesystem.File, error) {
	if flag != os.O_RDONLY {
		return nil, filesystem.ErrReadonlyFilesystem
	}
	ctx := context.Background()
	in, err := f.resolveInode(ctx, pathname)
	if err != nil {
		return nil, err
	}
	if in.isDir() {
		return nil, ErrNotAFile
	}
	return &File{ino: in, fs: f, name: path.Base(pathname)}, nil
}
