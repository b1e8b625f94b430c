package blockdev

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice is a Device backed by a real file or block special file,
// for integration tests run against mke2fs-produced images or an actual
// /dev/sdX node. It reads with positioned unix.Pread rather than
// Seek+Read, the way the host block layer expects block devices to be
// addressed, avoiding a shared file cursor across concurrent readers.
type FileDevice struct {
	f          *os.File
	sectorSize uint32
}

// OpenFileDevice opens pathName read-only as a FileDevice.
func OpenFileDevice(pathName string, sectorSize uint32) (*FileDevice, error) {
	f, err := os.OpenFile(pathName, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDevice, err)
	}
	return &FileDevice{f: f, sectorSize: sectorSize}, nil
}

func (d *FileDevice) Close() error {
	return d.f.Close()
}

func (d *FileDevice) LogicalSectorSize() uint32 { return d.sectorSize }

func (d *FileDevice) ReadSectors(_ context.Context, startLBA uint64, count uint16, dst []byte) error {
	need := int(count) * int(d.sectorSize)
	if len(dst) < need {
		return fmt.Errorf("%w: destination buffer %d bytes too small for %d bytes", ErrInvalidCommand, len(dst), need)
	}
	off := int64(startLBA) * int64(d.sectorSize)
	buf := dst[:need]
	for read := 0; read < need; {
		n, err := unix.Pread(int(d.f.Fd()), buf[read:], off+int64(read))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnknown, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: short read at LBA %d", ErrUnknown, startLBA)
		}
		read += n
	}
	return nil
}
