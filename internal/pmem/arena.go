package pmem

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/aalhour/tieredkv/internal/logging"
	"github.com/zeebo/xxh3"
)

// ErrArenaExhausted is returned by AllocateBlock when the free list is empty.
var ErrArenaExhausted = errors.New("pmem: arena exhausted, no free block")

// Arena memory-maps a file of fixed-size blocks and hands them out one at
// a time, tracked by level via an intrusive doubly-linked list stored in
// each block's header. A single mutex serializes allocate/dispose; block
// payloads (cuckoo filter contents) are not touched by the arena and are
// instead guarded by each filter's own mutex — see internal/cuckoo.
//
// Reference: utilities/persistent_cuckoo_filter/persistent_arena.{h,cc}
type Arena struct {
	mu sync.Mutex

	file       *os.File
	data       []byte
	blockCount uint64
	logger     logging.Logger

	// allocated tracks which blocks are currently handed out, purely to
	// catch a double-dispose with a clear panic instead of corrupting the
	// free list silently. It is not persisted and is rebuilt lazily: a
	// block not present in the map is assumed free.
	allocated map[uint64]bool
}

// Open memory-maps path, creating it if it does not exist, sized to the
// next multiple of BlockSize at or above sizeBytes. On first creation the
// free list is initialized to chain blocks 1..N-1 with a terminating
// sentinel, and every per-level occupied-list head is set to "empty".
func Open(path string, sizeBytes int64, logger logging.Logger) (*Arena, error) {
	logger = logging.OrDefault(logger)

	if sizeBytes <= 0 {
		sizeBytes = DefaultArenaSize
	}
	rounded := roundUpToBlock(sizeBytes)

	_, statErr := os.Stat(path)
	existed := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pmem: open %s: %w", path, err)
	}

	if !existed {
		if err := f.Truncate(rounded); err != nil {
			f.Close()
			return nil, fmt.Errorf("pmem: truncate %s: %w", path, err)
		}
	} else {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("pmem: stat %s: %w", path, err)
		}
		rounded = roundUpToBlock(info.Size())
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(rounded), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pmem: mmap %s: %w", path, err)
	}

	a := &Arena{
		file:       f,
		data:       data,
		blockCount: uint64(rounded) / BlockSize,
		logger:     logger,
		allocated:  make(map[uint64]bool),
	}

	if !existed {
		a.initSuperblock()
	} else {
		a.rebuildAllocatedSet()
	}

	logger.Infof("%sopened arena %s: %d blocks (existed=%v)", logging.NSTier, path, a.blockCount, existed)
	return a, nil
}

func roundUpToBlock(size int64) int64 {
	return ((size + BlockSize - 1) / BlockSize) * BlockSize
}

// initSuperblock chains blocks 1..N-1 onto the free list and marks every
// per-level occupied list empty. This writes a free-list pointer into
// each block's first 8 bytes, which is valid only because those bytes
// alias the block header's next_block field (see format.go).
func (a *Arena) initSuperblock() {
	for i := uint64(1); i < a.blockCount-1; i++ {
		h := newBlockHeader(a.blockAt(i))
		h.setNextBlock(int64(i + 1))
	}
	if a.blockCount > 1 {
		h := newBlockHeader(a.blockAt(a.blockCount - 1))
		h.setNextBlock(NoMoreFreeBlock)
	}

	sb := a.superblockView()
	if a.blockCount > 1 {
		sb.setFirstFreeBlock(1)
	} else {
		sb.setFirstFreeBlock(NoMoreFreeBlock)
	}
	for level := 0; level < LevelNum; level++ {
		sb.setFirstFilterBlockInLevel(level, NoMoreNextValidBlock)
	}
}

// rebuildAllocatedSet walks every per-level occupied list on an existing
// arena file to reconstruct the in-memory double-free guard, which is not
// itself persisted.
func (a *Arena) rebuildAllocatedSet() {
	sb := a.superblockView()
	for level := 0; level < LevelNum; level++ {
		idx := sb.firstFilterBlockInLevel(level)
		for idx != NoMoreNextValidBlock {
			a.allocated[uint64(idx)] = true
			idx = newBlockHeader(a.blockAt(uint64(idx))).nextBlock()
		}
	}
}

func (a *Arena) blockAt(index uint64) []byte {
	off := index * BlockSize
	return a.data[off : off+BlockSize]
}

func (a *Arena) superblockView() superblock {
	return newSuperblock(a.data[:superblockDirSize])
}

// AllocateBlock detaches the first free block, assigns it to level,
// prepends it to that level's occupied list, and returns the block's
// index plus a writable view of its payload (the bytes after the header,
// where a CuckooFilter lays out its buckets).
//
// Returns ErrArenaExhausted if no block is free. The reference
// implementation returns null here while still holding its mutex — a
// lock leak fixed in this port with defer.
func (a *Arena) AllocateBlock(level int) (uint64, []byte, error) {
	if level < 0 || level >= LevelNum {
		panic(fmt.Sprintf("pmem: level %d out of range [0,%d)", level, LevelNum)) //nolint:forbidigo // programmer fault
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sb := a.superblockView()
	freeBlockNum := sb.firstFreeBlock()
	if freeBlockNum == NoMoreFreeBlock {
		return 0, nil, ErrArenaExhausted
	}

	node := newBlockHeader(a.blockAt(uint64(freeBlockNum)))
	node.setLevel(int32(level))
	sb.setFirstFreeBlock(node.nextBlock())

	headOfLevel := sb.firstFilterBlockInLevel(level)
	node.setNextBlock(headOfLevel)
	if headOfLevel != NoMoreNextValidBlock {
		next := newBlockHeader(a.blockAt(uint64(headOfLevel)))
		next.setPrevBlock(freeBlockNum)
	}
	node.setPrevBlock(0)
	sb.setFirstFilterBlockInLevel(level, freeBlockNum)
	a.allocated[uint64(freeBlockNum)] = true

	a.logger.Debugf("%sallocated block %d at level %d", logging.NSTier, freeBlockNum, level)
	return uint64(freeBlockNum), node.payload(), nil
}

// DisposeBlock unlinks blockIndex from its level's occupied list, fixing
// up its neighbors, then pushes it onto the front of the free list.
//
// REQUIRES: 0 < blockIndex < total block count.
func (a *Arena) DisposeBlock(blockIndex uint64) {
	if blockIndex == 0 || blockIndex >= a.blockCount {
		panic(fmt.Sprintf("pmem: block index %d out of range", blockIndex)) //nolint:forbidigo // programmer fault
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.allocated[blockIndex] {
		panic(fmt.Sprintf("pmem: double free of block %d", blockIndex)) //nolint:forbidigo // programmer fault
	}
	delete(a.allocated, blockIndex)

	node := newBlockHeader(a.blockAt(blockIndex))
	prevIdx := node.prevBlock()
	nextIdx := node.nextBlock()

	sb := a.superblockView()
	if prevIdx == 0 {
		// pre_block == 0 means "this was the list head"; block 0 itself
		// (the superblock) is never a member of any occupied list, so the
		// sentinel is unambiguous even though it overloads a real index.
		sb.setFirstFilterBlockInLevel(int(node.level()), nextIdx)
	} else {
		prev := newBlockHeader(a.blockAt(uint64(prevIdx)))
		prev.setNextBlock(nextIdx)
	}
	if nextIdx != NoMoreNextValidBlock {
		next := newBlockHeader(a.blockAt(uint64(nextIdx)))
		next.setPrevBlock(prevIdx)
	}

	node.setNextBlock(sb.firstFreeBlock())
	sb.setFirstFreeBlock(int64(blockIndex))

	a.logger.Debugf("%sdisposed block %d", logging.NSTier, blockIndex)
}

// GetBlock returns a writable view of blockIndex's payload bytes.
//
// REQUIRES: 0 < blockIndex < total block count.
func (a *Arena) GetBlock(blockIndex uint64) []byte {
	if blockIndex == 0 || blockIndex >= a.blockCount {
		panic(fmt.Sprintf("pmem: block index %d out of range", blockIndex)) //nolint:forbidigo // programmer fault
	}
	return newBlockHeader(a.blockAt(blockIndex)).payload()
}

// BlockCount returns the total number of blocks in the arena, including
// the reserved superblock.
func (a *Arena) BlockCount() uint64 {
	return a.blockCount
}

// Sync flushes the mapping to the backing file. A best-effort digest of
// the mapped region is logged at debug level for operational visibility;
// it is not a correctness check and is never consulted on recovery — the
// reference implementation's recover path has no checksum or version tag,
// and this port preserves that (see DESIGN.md).
func (a *Arena) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.syncLocked()
}

func (a *Arena) syncLocked() error {
	if err := syscall.Msync(a.data, syscall.MS_SYNC); err != nil {
		return fmt.Errorf("pmem: msync: %w", err)
	}
	digest := xxh3.Hash(a.data)
	a.logger.Debugf("%ssynced arena, region digest=%x", logging.NSTier, digest)
	return nil
}

// Close syncs and unmaps the arena, then closes the backing file.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.syncLocked(); err != nil {
		return err
	}
	if err := syscall.Munmap(a.data); err != nil {
		return fmt.Errorf("pmem: munmap: %w", err)
	}
	a.data = nil
	return a.file.Close()
}
