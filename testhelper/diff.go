// Package testhelper provides small utilities shared across this module's
// test suites — in particular a byte-slice diff dumper in the style the
// teacher repo's tests lean on for superblock/group-descriptor/inode
// round-trip assertions.
package testhelper

import "fmt"

// DumpByteSlicesWithDiffs compares two byte slices in rows of width bytes,
// optionally rendering both hex and ASCII, and reports whether any
// differences were found along with a human-readable dump.
func DumpByteSlicesWithDiffs(actual, expected []byte, width int, showHex, showASCII, onlyDiffs bool) (bool, string) {
	diff := false
	out := ""
	max := len(actual)
	if len(expected) > max {
		max = len(expected)
	}
	for row := 0; row < max; row += width {
		end := row + width
		if end > max {
			end = max
		}
		a := sliceOrEmpty(actual, row, end)
		e := sliceOrEmpty(expected, row, end)
		rowDiffers := !bytesEqual(a, e)
		if rowDiffers {
			diff = true
		}
		if onlyDiffs && !rowDiffers {
			continue
		}
		out += fmt.Sprintf("%08x: ", row)
		if showHex {
			out += fmt.Sprintf("actual=% x expected=% x ", a, e)
		}
		if showASCII {
			out += fmt.Sprintf("actual=%q expected=%q", asciiOf(a), asciiOf(e))
		}
		if rowDiffers {
			out += " <-- DIFF"
		}
		out += "\n"
	}
	return diff, out
}

func sliceOrEmpty(b []byte, start, end int) []byte {
	if start >= len(b) {
		return nil
	}
	if end > len(b) {
		end = len(b)
	}
	return b[start:end]
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func asciiOf(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 0x20 && c < 0x7f {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}
