package filesystem

import (
	"io"
	"io/fs"
)

// File is a reference to a single open file. Write path is explicitly out
// of scope (spec.md §1): implementations reject Write with
// ErrReadonlyFilesystem rather than omitting the method, so callers written
// against io.Writer still get a well-typed error instead of a missing
// method.
type File interface {
	fs.ReadDirFile
	io.Writer
	io.Seeker
}
