package blockdev

import (
	"context"
	"fmt"
)

// MemDevice is a slice-backed Device, used to mount and exercise the ext4
// read path without a real disk. Grounded on the teacher's
// testhelper.FileImpl stub-backend pattern, generalized from a single
// Reader func to a plain in-memory image since the ext4 core only ever
// issues whole-sector reads.
type MemDevice struct {
	sectorSize uint32
	data       []byte
}

// NewMemDevice wraps data (a full disk image) as a Device with the given
// logical sector size.
func NewMemDevice(data []byte, sectorSize uint32) *MemDevice {
	return &MemDevice{sectorSize: sectorSize, data: data}
}

func (m *MemDevice) LogicalSectorSize() uint32 { return m.sectorSize }

func (m *MemDevice) ReadSectors(_ context.Context, startLBA uint64, count uint16, dst []byte) error {
	need := uint64(count) * uint64(m.sectorSize)
	if uint64(len(dst)) < need {
		return fmt.Errorf("%w: destination buffer %d bytes too small for %d bytes", ErrInvalidCommand, len(dst), need)
	}
	start := startLBA * uint64(m.sectorSize)
	end := start + need
	if end > uint64(len(m.data)) {
		return fmt.Errorf("%w: read [%d,%d) beyond device size %d", ErrInvalidCommand, start, end, len(m.data))
	}
	copy(dst[:need], m.data[start:end])
	return nil
}
