// Package pmem implements a memory-mapped, fixed-size block allocator
// backing the tiered compaction picker's per-group cuckoo filters.
//
// A block is the unit of allocation: every block is either on the global
// free list or on exactly one level's occupied list, threaded through an
// intrusive doubly-linked list stored in the block's own header bytes.
// Block 0 is reserved as the superblock and is never handed out.
//
// Reference: GlitterIsMe/cuckoo-rocksdb
//   - utilities/persistent_cuckoo_filter/pmem_format.h
//   - utilities/persistent_cuckoo_filter/persistent_arena.{h,cc}
package pmem

import "encoding/binary"

// BlockSize is the fixed size in bytes of one arena block.
const BlockSize = 1024 * 1024

// DefaultArenaSize is the default total size of a freshly created arena file.
const DefaultArenaSize = 1024 * 1024 * 1024

// LevelNum is the number of per-level occupied-list heads tracked by the
// superblock. It is a fixed compile-time bound; a level index at or above
// this is a programmer error.
const LevelNum = 10

// Sentinels for the intrusive list pointers.
const (
	// NoMoreFreeBlock terminates the free list.
	NoMoreFreeBlock int64 = -1
	// NoMoreNextValidBlock terminates a per-level occupied list.
	NoMoreNextValidBlock int64 = -2
)

// blockHeaderSize is the size in bytes of the three header fields every
// non-superblock block carries: next_block (int64), prev_block (int64),
// level (int32).
const blockHeaderSize = 8 + 8 + 4

// superblockDirSize is the size in bytes of the superblock's own header:
// first_free_block (int64) followed by LevelNum int64 list heads.
const superblockDirSize = 8 + LevelNum*8

// blockHeader is a typed view over the first blockHeaderSize bytes of a
// non-superblock block. It never copies; all reads/writes go straight
// through to the mapped region.
type blockHeader struct {
	b []byte
}

func newBlockHeader(raw []byte) blockHeader {
	return blockHeader{b: raw[:blockHeaderSize:blockHeaderSize]}
}

func (h blockHeader) nextBlock() int64 {
	return int64(binary.LittleEndian.Uint64(h.b[0:8]))
}

func (h blockHeader) setNextBlock(v int64) {
	binary.LittleEndian.PutUint64(h.b[0:8], uint64(v))
}

func (h blockHeader) prevBlock() int64 {
	return int64(binary.LittleEndian.Uint64(h.b[8:16]))
}

func (h blockHeader) setPrevBlock(v int64) {
	binary.LittleEndian.PutUint64(h.b[8:16], uint64(v))
}

func (h blockHeader) level() int32 {
	return int32(binary.LittleEndian.Uint32(h.b[16:20]))
}

func (h blockHeader) setLevel(v int32) {
	binary.LittleEndian.PutUint32(h.b[16:20], uint32(v))
}

// payload returns the bytes of this block after the header, where the
// owning CuckooFilter lays out its buckets.
func (h blockHeader) payload() []byte {
	return h.b[blockHeaderSize:BlockSize:BlockSize]
}

// superblock is a typed view over block 0: the free-list head followed by
// one occupied-list head per level.
type superblock struct {
	b []byte
}

func newSuperblock(raw []byte) superblock {
	return superblock{b: raw[:superblockDirSize:superblockDirSize]}
}

func (s superblock) firstFreeBlock() int64 {
	return int64(binary.LittleEndian.Uint64(s.b[0:8]))
}

func (s superblock) setFirstFreeBlock(v int64) {
	binary.LittleEndian.PutUint64(s.b[0:8], uint64(v))
}

func (s superblock) firstFilterBlockInLevel(level int) int64 {
	off := 8 + level*8
	return int64(binary.LittleEndian.Uint64(s.b[off : off+8]))
}

func (s superblock) setFirstFilterBlockInLevel(level int, v int64) {
	off := 8 + level*8
	binary.LittleEndian.PutUint64(s.b[off:off+8], uint64(v))
}
