package ext4

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"time"
)

// directoryEntryHeaderLength is the fixed portion of a linear directory
// record before its variable-length name (spec.md §3/§4.9).
const directoryEntryHeaderLength = 8

// directoryEntry is one decoded record from a directory data block
// (spec.md §4.9).
type directoryEntry struct {
	inodeNumber uint32
	recordLen   uint16
	name        string
	fileType    uint8
}

func (d *directoryEntry) isDir() bool { return d.fileType == fileTypeDir }

// fileInfo adapts a resolved directory entry + inode into fs.FileInfo for
// ReadDir/Stat callers (spec.md §4.9/§4.10).
type fileInfo struct {
	name string
	ino  *inode
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return int64(fi.ino.size) }
func (fi *fileInfo) Mode() fs.FileMode  { return fi.ino.mode2FileMode() }
func (fi *fileInfo) ModTime() time.Time { return fi.ino.modifyTime }
func (fi *fileInfo) IsDir() bool        { return fi.ino.isDir() }
func (fi *fileInfo) Sys() any           { return fi.ino }

// dirEntryAdapter adapts a directoryEntry + its resolved inode into
// fs.DirEntry (spec.md §4.9).
type dirEntryAdapter struct {
	name string
	ino  *inode
}

func (d *dirEntryAdapter) Name() string { return d.name }
func (d *dirEntryAdapter) IsDir() bool  { return d.ino.isDir() }
func (d *dirEntryAdapter) Type() fs.FileMode {
	return d.ino.mode2FileMode().Type()
}
func (d *dirEntryAdapter) Info() (fs.FileInfo, error) {
	return &fileInfo{name: d.name, ino: d.ino}, nil
}

// parseDirectoryBlock walks one directory data block's linear list of
// records (spec.md §4.9). A record whose rec_len would run past the end of
// the block, or whose name_len overruns its own record, is corrupt; the
// walk stops there rather than reading past the block (spec.md §9).
func parseDirectoryBlock(b []byte) ([]*directoryEntry, error) {
	var entries []*directoryEntry
	pos := 0
	for pos+directoryEntryHeaderLength <= len(b) {
		inodeNum := binary.LittleEndian.Uint32(b[pos : pos+4])
		recLen := binary.LittleEndian.Uint16(b[pos+4 : pos+6])
		nameLen := int(b[pos+6])
		fileType := b[pos+7]

		if recLen < directoryEntryHeaderLength {
			return entries, fmt.Errorf("%w: directory record length %d below minimum", ErrCorruptMetadata, recLen)
		}
		if pos+int(recLen) > len(b) {
			return entries, fmt.Errorf("%w: directory record overruns block", ErrCorruptMetadata)
		}
		if inodeNum != 0 {
			nameEnd := pos + directoryEntryHeaderLength + nameLen
			if nameEnd > pos+int(recLen) {
				return entries, fmt.Errorf("%w: directory entry name overruns its record", ErrCorruptMetadata)
			}
			entries = append(entries, &directoryEntry{
				inodeNumber: inodeNum,
				recordLen:   recLen,
				name:        string(b[pos+directoryEntryHeaderLength : nameEnd]),
				fileType:    fileType,
			})
		}
		pos += int(recLen)
	}
	return entries, nil
}
