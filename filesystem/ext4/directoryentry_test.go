package ext4

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/go-test/deep"
)

// appendDirRecord appends one on-disk directory record (spec.md §3/§4.9) to
// b, returning the updated slice. recLen is the caller's explicit record
// length so tests can build deliberately-corrupt records. Only the header
// and name are written; a caller whose recLen spans padding appends the
// padding itself.
func appendDirRecord(b []byte, inode uint32, recLen uint16, name string, fileType uint8) []byte {
	rec := make([]byte, directoryEntryHeaderLength+len(name))
	le := binary.LittleEndian
	le.PutUint32(rec[0:4], inode)
	le.PutUint16(rec[4:6], recLen)
	rec[6] = byte(len(name))
	rec[7] = fileType
	copy(rec[8:], name)
	return append(b, rec...)
}

func TestParseDirectoryBlockNormal(t *testing.T) {
	var b []byte
	b = appendDirRecord(b, 2, 12, ".", fileTypeDir)
	b = append(b, make([]byte, 12-len(b))...) // pad "." out to its rec_len
	b = appendDirRecord(b, 2, 12, "..", fileTypeDir)
	b = append(b, make([]byte, 24-len(b))...) // pad ".." out to its rec_len
	// The final record's rec_len runs to the end of the block, as a real
	// directory block's last entry always does.
	b = appendDirRecord(b, 11, directoryEntryHeaderLength+9, "hello.txt", fileTypeRegular)

	entries, err := parseDirectoryBlock(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []*directoryEntry{
		{inodeNumber: 2, recordLen: 12, name: ".", fileType: fileTypeDir},
		{inodeNumber: 2, recordLen: 12, name: "..", fileType: fileTypeDir},
		{inodeNumber: 11, recordLen: directoryEntryHeaderLength + 9, name: "hello.txt", fileType: fileTypeRegular},
	}
	deep.CompareUnexportedFields = true
	if diff := deep.Equal(expected, entries); diff != nil {
		t.Errorf("parseDirectoryBlock() = %v", diff)
	}
}

func TestParseDirectoryBlockSkipsDeletedEntries(t *testing.T) {
	var b []byte
	b = appendDirRecord(b, 0, 16, "deleted", fileTypeRegular) // inode 0: deleted/unused
	b = append(b, make([]byte, 16-len(b))...)
	b = appendDirRecord(b, 11, 12, "x", fileTypeRegular)
	b = append(b, make([]byte, 28-len(b))...)

	entries, err := parseDirectoryBlock(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].name != "x" {
		t.Fatalf("expected only the live entry, got %+v", entries)
	}
}

func TestParseDirectoryBlockOverrunsBlock(t *testing.T) {
	var b []byte
	b = appendDirRecord(b, 11, 200, "short-record-long-reclen", fileTypeRegular)

	entries, err := parseDirectoryBlock(b)
	if !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("expected ErrCorruptMetadata, got %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries recovered before the corrupt record, got %+v", entries)
	}
}

func TestParseDirectoryBlockNameOverrunsRecord(t *testing.T) {
	b := make([]byte, directoryEntryHeaderLength)
	le := binary.LittleEndian
	le.PutUint32(b[0:4], 11)
	le.PutUint16(b[4:6], directoryEntryHeaderLength) // rec_len too small for name_len below
	b[6] = 40                                        // name_len claims 40 bytes that don't exist
	b[7] = fileTypeRegular

	_, err := parseDirectoryBlock(b)
	if !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("expected ErrCorruptMetadata, got %v", err)
	}
}
