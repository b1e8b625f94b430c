// Package blockdev defines the minimal capability the ext4 read path
// requires from the storage layer beneath it. Per spec.md §1/§6, the real
// transports (ATA/PIO, AHCI) and the partition-table readers (MBR, GPT) are
// external collaborators; this package only names the contract they must
// satisfy, plus a couple of reference implementations for testing.
package blockdev

import (
	"context"
	"errors"
	"fmt"
)

// Errors surfaced by a Device, bubbled up without interpretation (spec.md §4.2/§7).
var (
	ErrInvalidDevice  = errors.New("blockdev: invalid drive or partition id")
	ErrInvalidCommand = errors.New("blockdev: request out of bounds")
	ErrUnknown        = errors.New("blockdev: transient or driver-reported failure")
)

// Device is the abstract block device the ext4 core consumes. It is
// implemented by the AHCI/ATA driver on real hardware; the core never
// constructs one itself.
//
// The context carries no cancellation semantics on bare metal — a block
// device read busy-spins on hardware completion and always runs to
// completion (spec.md §5) — but it gives hosted implementations a place to
// hang a deadline. MemDevice and FileDevice here do not consult it.
type Device interface {
	// LogicalSectorSize returns the device's native sector size in bytes,
	// typically 512.
	LogicalSectorSize() uint32

	// ReadSectors reads count sectors starting at startLBA into dst.
	// len(dst) must be >= count * LogicalSectorSize(); the core never issues
	// an unaligned request.
	ReadSectors(ctx context.Context, startLBA uint64, count uint16, dst []byte) error
}

// Identity addresses a device by the (drive, partition) pair the spec names
// in §4.2. It carries no behavior of its own; it is how a caller names which
// Device to hand to Mount.
type Identity struct {
	DriveID     int
	PartitionID int
}

func (id Identity) String() string {
	return fmt.Sprintf("drive%d:part%d", id.DriveID, id.PartitionID)
}

// RequireAligned validates that a block-aligned ext4 read translates to a
// whole number of logical sectors, per §4.2's "never issues unaligned
// requests" requirement. blockSize must be a multiple of sectorSize for this
// to hold; callers should validate that once at mount time (see
// ext4.Filesystem geometry checks) rather than on every read.
func RequireAligned(byteOffset, byteLen int64, sectorSize uint32) (startLBA uint64, sectorCount uint16, err error) {
	if sectorSize == 0 {
		return 0, 0, fmt.Errorf("%w: zero sector size", ErrInvalidDevice)
	}
	if byteOffset < 0 || byteLen < 0 {
		return 0, 0, fmt.Errorf("%w: negative offset or length", ErrInvalidCommand)
	}
	ss := int64(sectorSize)
	if byteOffset%ss != 0 || byteLen%ss != 0 {
		return 0, 0, fmt.Errorf("%w: offset %d length %d not aligned to sector size %d", ErrInvalidCommand, byteOffset, byteLen, sectorSize)
	}
	count := byteLen / ss
	if count > 0xFFFF {
		return 0, 0, fmt.Errorf("%w: %d sectors exceeds a single request", ErrInvalidCommand, count)
	}
	return uint64(byteOffset / ss), uint16(count), nil
}
