// Package filesystem provides the generic, read-only FileSystem/File surface
// that filesystem/ext4 implements. A real kernel wires VFS dispatch above
// this layer; that wiring is out of scope here (spec.md §1) — this package
// only names the contract a read-only filesystem offers.
package filesystem

import (
	"errors"
	"io/fs"
)

var (
	ErrNotSupported       = errors.New("method not supported by this filesystem")
	ErrReadonlyFilesystem = errors.New("read-only filesystem")
)

// FileSystem is a reference to a single mounted, read-only filesystem.
type FileSystem interface {
	// Type returns the type of filesystem.
	Type() Type
	// ReadDir reads the contents of a directory.
	ReadDir(pathname string) ([]fs.DirEntry, error)
	// OpenFile opens a handle to read a file. flag is checked against
	// ErrReadonlyFilesystem for anything but a read-only open.
	OpenFile(pathname string, flag int) (File, error)
	// Label returns the label for the filesystem, or "" if none.
	Label() string
}

// Type represents the type of filesystem this is.
type Type int

const (
	// TypeExt4 is an ext4 filesystem.
	TypeExt4 Type = iota
)
