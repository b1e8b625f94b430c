// Package part defines the minimal contract the ext4 read path needs from a
// partition table. MBR/GPT parsing themselves live outside this module (see
// spec.md §1) — they are external collaborators that hand the filesystem
// mount code a starting byte offset and a size, nothing more.
package part

// Partition is a reference to a single partition's extent on a block device.
// Everything about the partition beyond its byte extent (index, UUID, label,
// read/write helpers) belongs to the external MBR/GPT collaborator, not here.
type Partition interface {
	// Start is the byte offset of the partition from the start of the device.
	Start() int64
	// Size is the size of the partition in bytes.
	Size() int64
}

// StaticPartition is a Partition with a fixed, already-known extent. It lets
// callers who obtained the start from an external MBR/GPT reader hand it to
// Mount (as a byte offset: start LBA times sector size) without this module
// needing to parse partition tables itself.
type StaticPartition struct {
	StartOffset int64
	SizeBytes   int64
}

func (p StaticPartition) Start() int64 { return p.StartOffset }
func (p StaticPartition) Size() int64  { return p.SizeBytes }
