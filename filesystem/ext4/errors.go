package ext4

import "errors"

// Mount-time errors (spec.md §7). ErrBadSuperblock covers "bad magic, bad
// checksum, unsupported feature bit, unreadable sector" per the spec's
// grouping; each call site wraps it with fmt.Errorf("%w: ...") to add the
// specific reason.
var (
	ErrBadSuperblock = errors.New("ext4: bad superblock")
	ErrIoMount       = errors.New("ext4: block device failed during mount")
)

// Filesystem-operation errors (spec.md §7).
var (
	ErrNotFound         = errors.New("ext4: not found")
	ErrNotAFile         = errors.New("ext4: not a regular file")
	ErrNotADirectory    = errors.New("ext4: not a directory")
	ErrUnsupported      = errors.New("ext4: unsupported feature")
	ErrCorruptMetadata  = errors.New("ext4: checksum mismatch on metadata")
)
