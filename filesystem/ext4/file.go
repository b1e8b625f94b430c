package ext4

import (
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/diskkernel/ext4ro/filesystem"
)

// File is a read-only handle on a regular file's data, resolved through
// its inode's extent tree (spec.md §4.8). Reads past the last extent, and
// reads that land inside a hole or an uninitialized extent, return zero
// bytes without touching the block device (spec.md §4.7/§4.8).
type File struct {
	ino    *inode
	name   string
	fs     *Filesystem
	offset int64
}

var _ filesystem.File = (*File)(nil)

// Stat implements fs.ReadDirFile (spec.md §4.10).
func (fl *File) Stat() (fs.FileInfo, error) {
	return &fileInfo{name: fl.name, ino: fl.ino}, nil
}

// ReadDir implements fs.ReadDirFile. It lists entries only when the handle's
// inode is a directory; OpenFile refuses directories with ErrNotAFile, so
// on a handle it returns this yields ErrNotADirectory.
func (fl *File) ReadDir(n int) ([]fs.DirEntry, error) {
	if !fl.ino.isDir() {
		return nil, ErrNotADirectory
	}
	entries, err := fl.fs.readDirEntries(context.Background(), fl.ino)
	if err != nil {
		return nil, err
	}
	out := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.name == "." || e.name == ".." {
			continue
		}
		childInode, err := readInode(context.Background(), fl.fs, e.inodeNumber)
		if err != nil {
			continue
		}
		out = append(out, &dirEntryAdapter{name: e.name, ino: childInode})
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out, nil
}

// Read reads from the current cursor position (spec.md §4.8's
// READ-CURSOR property: successive reads advance the cursor by the
// number of bytes actually returned).
func (fl *File) Read(b []byte) (int, error) {
	fileSize := int64(fl.ino.size)
	if fl.offset >= fileSize {
		return 0, io.EOF
	}

	toRead := int64(len(b))
	if fl.offset+toRead > fileSize {
		toRead = fileSize - fl.offset
	}
	b = b[:toRead]

	if fl.ino.hasInlineData() {
		return fl.readInline(b)
	}
	if fl.ino.extents == nil {
		return 0, fmt.Errorf("%w: file has neither extents nor inline data", ErrUnsupported)
	}

	blockSize := int64(fl.fs.superblock.blockSize())
	startBlock := uint64(fl.offset) / uint64(blockSize)
	blockCount := uint64((fl.offset+toRead-1)/blockSize) - startBlock + 1

	resolved, err := fl.ino.extents.findBlocks(context.Background(), startBlock, blockCount, fl.fs)
	if err != nil {
		return 0, err
	}

	var read int64
	for i, rb := range resolved {
		blockStart := int64(startBlock+uint64(i)) * blockSize
		inBlockOffset := int64(0)
		if i == 0 {
			inBlockOffset = fl.offset - blockStart
		}
		wantFromBlock := blockSize - inBlockOffset
		if read+wantFromBlock > toRead {
			wantFromBlock = toRead - read
		}

		if rb.zero {
			for j := int64(0); j < wantFromBlock; j++ {
				b[read+j] = 0
			}
		} else {
			data, err := fl.fs.readBlock(context.Background(), rb.disk)
			if err != nil {
				return 0, err
			}
			copy(b[read:read+wantFromBlock], data[inBlockOffset:inBlockOffset+wantFromBlock])
		}
		read += wantFromBlock
		if read >= toRead {
			break
		}
	}

	fl.offset += read
	var retErr error
	if fl.offset >= fileSize {
		retErr = io.EOF
	}
	return int(read), retErr
}

// readInline serves a file whose data is stored directly in the inode's
// i_block field rather than in block-device blocks (spec.md §4.7).
func (fl *File) readInline(b []byte) (int, error) {
	data := fl.ino.inlineData
	if int64(fl.offset) >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(b, data[fl.offset:])
	fl.offset += int64(n)
	var err error
	if fl.offset >= int64(len(data)) {
		err = io.EOF
	}
	return n, err
}

// Write always fails: there is no write path (spec.md Non-goals).
func (fl *File) Write(_ []byte) (int, error) {
	return 0, filesystem.ErrReadonlyFilesystem
}

// Seek implements io.Seeker. Per spec.md §4.8's SEEK-SATURATION property,
// Backward never goes below 0 and Forward never advances past size: a
// whence-derived offset is clamped into [0, size] rather than erroring.
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = int64(fl.ino.size) + offset
	case io.SeekCurrent:
		newOffset = fl.offset + offset
	default:
		return fl.offset, fmt.Errorf("invalid whence %d", whence)
	}
	switch {
	case newOffset < 0:
		newOffset = 0
	case newOffset > int64(fl.ino.size):
		newOffset = int64(fl.ino.size)
	}
	fl.offset = newOffset
	return fl.offset, nil
}

// Close releases the handle. There is nothing to flush on a read-only file.
func (fl *File) Close() error {
	fl.ino = nil
	fl.fs = nil
	return nil
}
