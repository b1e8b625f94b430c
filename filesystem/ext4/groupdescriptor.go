package ext4

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/diskkernel/ext4ro/crc32c"
)

// groupDescriptorSize32/64 are the on-disk record sizes (spec.md §3).
const (
	groupDescriptorSize32 = 32
	groupDescriptorSize64 = 64
)

// groupDescriptor is the decoded per-block-group metadata record (spec.md
// §3/§4.4). Field layout grounded on the trustelem-go-diskfs fork's
// groupdescriptors.go (low/high pairs for each location field, a checksum
// at a fixed offset within the low 32 bytes), cross-checked against the
// published ext4 block-group-descriptor layout.
type groupDescriptor struct {
	number               uint64
	blockBitmapLocation  uint64
	inodeBitmapLocation  uint64
	inodeTableLocation   uint64
	freeBlocksCount      uint32
	freeInodesCount      uint32
	usedDirsCount        uint32
	blockBitmapChecksum  uint32
	inodeBitmapChecksum  uint32
	checksum             uint16
	suspect              bool // checksum mismatch observed but value still returned (spec.md §4.4)
}

// groupDescriptorFromBytes decodes one group-descriptor record and
// validates its checksum against the superblock's UUID (spec.md §3).
func groupDescriptorFromBytes(b []byte, number uint64, is64Bit bool, sbUUID [16]byte, checksumRequired bool) (*groupDescriptor, error) {
	le := binary.LittleEndian
	gd := &groupDescriptor{number: number}

	blockBitmapLo := le.Uint32(b[0x00:0x04])
	inodeBitmapLo := le.Uint32(b[0x04:0x08])
	inodeTableLo := le.Uint32(b[0x08:0x0c])
	gd.freeBlocksCount = uint32(le.Uint16(b[0x0c:0x0e]))
	gd.freeInodesCount = uint32(le.Uint16(b[0x0e:0x10]))
	gd.usedDirsCount = uint32(le.Uint16(b[0x10:0x12]))
	gd.blockBitmapChecksum = uint32(le.Uint16(b[0x18:0x1a]))
	gd.inodeBitmapChecksum = uint32(le.Uint16(b[0x1a:0x1c]))
	gd.checksum = le.Uint16(b[0x1e:0x20])

	gd.blockBitmapLocation = uint64(blockBitmapLo)
	gd.inodeBitmapLocation = uint64(inodeBitmapLo)
	gd.inodeTableLocation = uint64(inodeTableLo)

	if is64Bit && len(b) >= groupDescriptorSize64 {
		gd.blockBitmapLocation |= uint64(le.Uint32(b[0x20:0x24])) << 32
		gd.inodeBitmapLocation |= uint64(le.Uint32(b[0x24:0x28])) << 32
		gd.inodeTableLocation |= uint64(le.Uint32(b[0x28:0x2c])) << 32
		gd.freeBlocksCount |= uint32(le.Uint16(b[0x2c:0x2e])) << 16
		gd.freeInodesCount |= uint32(le.Uint16(b[0x2e:0x30])) << 16
		gd.usedDirsCount |= uint32(le.Uint16(b[0x30:0x32])) << 16
		gd.blockBitmapChecksum |= uint32(le.Uint16(b[0x38:0x3a])) << 16
		gd.inodeBitmapChecksum |= uint32(le.Uint16(b[0x3a:0x3c])) << 16
	}

	if checksumRequired {
		actual := groupDescriptorChecksum(b, number, sbUUID)
		if actual != gd.checksum {
			gd.suspect = true
			return gd, fmt.Errorf("%w: group %d descriptor checksum mismatch, have %#x want %#x", ErrCorruptMetadata, number, actual, gd.checksum)
		}
	}

	return gd, nil
}

// groupDescriptorChecksum computes CRC32C(uuid ‖ group_number ‖
// descriptor_with_checksum_zeroed), truncated to 16 bits (spec.md §3).
func groupDescriptorChecksum(b []byte, number uint64, sbUUID [16]byte) uint16 {
	zeroed := make([]byte, len(b))
	copy(zeroed, b)
	zeroed[0x1e] = 0
	zeroed[0x1f] = 0

	var numBytes [4]byte
	binary.LittleEndian.PutUint32(numBytes[:], uint32(number))

	crc := crc32c.Sum(sbUUID[:])
	crc = crc32c.SumSeeded(crc, numBytes[:])
	crc = crc32c.SumSeeded(crc, zeroed)
	return uint16(crc & 0xffff)
}

// cacheEntry tracks an LRU-relevant descriptor alongside its first-access
// time and usage count (spec.md §3 "Lifecycle").
type cacheEntry struct {
	descriptor  *groupDescriptor
	usageCount  uint64
	firstAccess time.Time
}

// groupDescriptorCache is a lazily-populated, reader/writer-guarded cache
// from group number to descriptor (spec.md §4.4/§5/§9). Mutations are the
// insertion on a cache miss, the usage-count bump on a hit, and the flush
// operations; the lock is held only for each of those, never across the
// block-device read that produces the value being inserted (spec.md §9).
type groupDescriptorCache struct {
	mu      sync.RWMutex
	entries map[uint64]*cacheEntry
}

func newGroupDescriptorCache() *groupDescriptorCache {
	return &groupDescriptorCache{entries: map[uint64]*cacheEntry{}}
}

// get returns a cached descriptor, bumping its usage count, or (nil, false)
// on a miss. Callers hold no lock across a subsequent load+insert.
func (c *groupDescriptorCache) get(group uint64) (*groupDescriptor, bool) {
	c.mu.RLock()
	e, ok := c.entries[group]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	e.usageCount++
	c.mu.Unlock()
	return e.descriptor, true
}

// insert records a newly loaded descriptor. The lock is acquired only for
// the map write (spec.md §9's interior-mutability note).
func (c *groupDescriptorCache) insert(group uint64, gd *groupDescriptor, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[group]; exists {
		return
	}
	c.entries[group] = &cacheEntry{descriptor: gd, usageCount: 1, firstAccess: now}
}

// flush drops all cached entries but keeps the map's allocated capacity
// (spec.md §4.4).
func (c *groupDescriptorCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		delete(c.entries, k)
	}
}

// flushAndShrink drops all entries and releases the underlying capacity
// (spec.md §4.4).
func (c *groupDescriptorCache) flushAndShrink() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[uint64]*cacheEntry{}
}

func (c *groupDescriptorCache) equal(a *groupDescriptorCache) bool {
	if c == nil || a == nil {
		return c == a
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(c.entries) != len(a.entries) {
		return false
	}
	for k, v := range c.entries {
		av, ok := a.entries[k]
		if !ok || *v.descriptor != *av.descriptor {
			return false
		}
	}
	return true
}
