// Package cuckoo implements a probabilistic set backed by one persistent
// arena block: a dual-hash cuckoo filter with a bounded eviction chain.
//
// A Filter never stores the key itself — each slot stores the *other*
// bucket index for the key that landed there, so membership is rediscovered
// by re-hashing the query key and checking both candidate buckets.
//
// Reference: GlitterIsMe/cuckoo-rocksdb
//   - utilities/persistent_cuckoo_filter/cuckoo_filter.{h,cc}
package cuckoo

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/aalhour/tieredkv/internal/logging"
	"github.com/aalhour/tieredkv/internal/pmem"
)

// SlotPerBucket is the fixed number of slots in one bucket.
const SlotPerBucket = 4

// MaxCollideNum bounds the cuckoo eviction chain before a slot cursor
// advance is forced; exceeding it at the last slot cursor is reported as
// overflow rather than looping forever.
const MaxCollideNum = 512

// slotSize is the on-block-payload size of one slot: an 8-byte tag
// followed by a 1-byte status.
const slotSize = 9

// ErrFilterOverflow is returned by Put when MaxCollideNum*SlotPerBucket
// evictions failed to place a key. The reference treats this as fatal
// (an assertion); this port demotes it to an ordinary error so the caller
// can drop the filter and fall back to reading files directly, preserving
// liveness since rehashing a fixed block is impossible by design.
var ErrFilterOverflow = errors.New("cuckoo: collision chain exhausted, filter unusable")

type slotStatus uint8

const (
	statusAvailable slotStatus = iota
	statusOccupied
	statusDeleted
)

// bucket is a plain-old-data view over one bucket's bytes within the
// filter's block payload. It replaces the reference's friend-class access
// from CuckooBucket into CuckooFilter with an explicit accessor, per the
// redesign requested for this port.
type bucket struct {
	b []byte // SlotPerBucket * slotSize bytes
}

func (bk bucket) tag(slot int) uint64 {
	off := slot * slotSize
	return binary.LittleEndian.Uint64(bk.b[off : off+8])
}

func (bk bucket) status(slot int) slotStatus {
	return slotStatus(bk.b[slot*slotSize+8])
}

func (bk bucket) set(slot int, tag uint64, status slotStatus) {
	off := slot * slotSize
	binary.LittleEndian.PutUint64(bk.b[off:off+8], tag)
	bk.b[off+8] = byte(status)
}

func (bk bucket) format() {
	for i := 0; i < SlotPerBucket; i++ {
		bk.set(i, 0, statusAvailable)
	}
}

// Filter is a cuckoo filter bound to exactly one arena block.
type Filter struct {
	mu sync.Mutex

	blockNum    uint64
	buckets     []bucket
	bucketCount uint64
	logger      logging.Logger
}

// Create allocates a fresh block at level in arena and formats every slot
// as available. Returns ErrArenaExhausted (via pmem) if the arena has no
// free block; the caller must then proceed without a filter.
func Create(arena *pmem.Arena, level int, logger logging.Logger) (*Filter, error) {
	blockNum, payload, err := arena.AllocateBlock(level)
	if err != nil {
		return nil, err
	}
	f := newFilter(blockNum, payload, logger)
	for _, bk := range f.buckets {
		bk.format()
	}
	return f, nil
}

// Recover attaches to an existing block without reformatting it; the slot
// bytes are trusted as-is. There is no checksum or version tag guarding
// this block, so silent corruption is undetectable — this mirrors the
// reference's recover constructor exactly (see DESIGN.md).
func Recover(arena *pmem.Arena, blockNum uint64, logger logging.Logger) *Filter {
	payload := arena.GetBlock(blockNum)
	return newFilter(blockNum, payload, logger)
}

func newFilter(blockNum uint64, payload []byte, logger logging.Logger) *Filter {
	bucketByteSize := SlotPerBucket * slotSize
	bucketCount := uint64(len(payload) / bucketByteSize)

	buckets := make([]bucket, bucketCount)
	for i := range buckets {
		start := i * bucketByteSize
		buckets[i] = bucket{b: payload[start : start+bucketByteSize]}
	}

	return &Filter{
		blockNum:    blockNum,
		buckets:     buckets,
		bucketCount: bucketCount,
		logger:      logging.OrDefault(logger),
	}
}

// BlockNum returns the arena block index backing this filter; this is the
// value stored in FileMetaData.PmemBlockNum by the caller.
func (f *Filter) BlockNum() uint64 {
	return f.blockNum
}

// hashes returns the (h1, h2) bucket pair for key, forced distinct.
func (f *Filter) hashes(key []byte) (uint64, uint64) {
	h1 := bkdrHash(key, f.bucketCount)
	h2 := apHash(key, f.bucketCount)
	if h1 == h2 {
		h2 = (h2 + 1) % f.bucketCount
	}
	return h1, h2
}

// bkdrHash is the BKDRHash variant (seed 131) used as the filter's h1.
func bkdrHash(key []byte, bucketCount uint64) uint64 {
	const seed = 131
	var hash uint64
	for _, c := range key {
		hash = hash*seed + uint64(c)
	}
	return hash % bucketCount
}

// apHash is the APHash variant used as the filter's h2.
func apHash(key []byte, bucketCount uint64) uint64 {
	var hash uint64
	for i, c := range key {
		if i&1 == 0 {
			hash ^= (hash << 7) ^ uint64(c) ^ (hash >> 3)
		} else {
			hash ^= ^((hash << 11) ^ uint64(c) ^ (hash >> 5))
		}
	}
	return hash % bucketCount
}

// Put inserts key. If both candidate buckets are full it runs the bounded
// eviction chain; if that chain is exhausted, ErrFilterOverflow is
// returned and the caller should treat the filter as unusable.
func (f *Filter) Put(key []byte) error {
	h1, h2 := f.hashes(key)
	tags := [2]uint64{h1, h2}

	f.mu.Lock()
	defer f.mu.Unlock()

	for tagIdx := 0; tagIdx < 2; tagIdx++ {
		bk := f.buckets[tags[tagIdx]]
		for i := 0; i < SlotPerBucket; i++ {
			st := bk.status(i)
			if st == statusAvailable || st == statusDeleted {
				other := tags[1-tagIdx]
				bk.set(i, other, statusOccupied)
				return nil
			}
		}
	}

	if err := f.collide(tags); err != nil {
		f.logger.Debugf("%sfilter block %d: %v", logging.NSTier, f.blockNum, err)
		return err
	}
	return nil
}

// collide runs the bounded cuckoo eviction chain described in the
// reference's CuckooCollide: displace slot 0 of bucket tags[0], then
// repeatedly try to land the evicted victim, alternating which side is
// being placed and forcibly displacing a slot after enough failed scans.
func (f *Filter) collide(tags [2]uint64) error {
	bk := f.buckets[tags[0]]
	victimTags := [2]uint64{tags[0], bk.tag(0)}
	bk.set(0, tags[1], statusOccupied)

	indicator := 1
	whichSlot := 0
	collideNum := 0

	for {
		bk = f.buckets[victimTags[indicator]]
		for i := 0; i < SlotPerBucket; i++ {
			st := bk.status(i)
			if st == statusAvailable || st == statusDeleted {
				bk.set(i, victimTags[indicator^1], statusOccupied)
				return nil
			}
		}

		collideNum++
		if collideNum > MaxCollideNum {
			if whichSlot >= SlotPerBucket {
				return ErrFilterOverflow
			}
			collideNum = 0
			whichSlot++
		}

		tmpTag := victimTags[indicator^1]
		victimTags[indicator^1] = bk.tag(whichSlot)
		bk.set(whichSlot, tmpTag, bk.status(whichSlot))
		indicator ^= 1
	}
}

// Delete removes key if present. Missing keys are silently ignored.
//
// The reference's CuckooDeleteKey takes the mutex on entry but returns
// early on a hit without releasing it; this port releases on every exit
// via defer.
func (f *Filter) Delete(key []byte) {
	h1, h2 := f.hashes(key)

	f.mu.Lock()
	defer f.mu.Unlock()

	bk := f.buckets[h1]
	for i := 0; i < SlotPerBucket; i++ {
		if bk.tag(i) == h2 && bk.status(i) == statusOccupied {
			bk.set(i, bk.tag(i), statusDeleted)
			return
		}
	}

	bk = f.buckets[h2]
	for i := 0; i < SlotPerBucket; i++ {
		if bk.tag(i) == h1 && bk.status(i) == statusOccupied {
			bk.set(i, bk.tag(i), statusDeleted)
			return
		}
	}
}

// Contains reports whether key may be present. False positives are
// expected; false negatives must not occur for a key that was put and
// never subsequently deleted or displaced out by collide.
//
// The reference's CuckooKeyExists has the same early-return-without-unlock
// bug as Delete; this port releases on every exit via defer.
func (f *Filter) Contains(key []byte) bool {
	h1, h2 := f.hashes(key)

	f.mu.Lock()
	defer f.mu.Unlock()

	bk := f.buckets[h1]
	for i := 0; i < SlotPerBucket; i++ {
		if bk.tag(i) == h2 && bk.status(i) == statusOccupied {
			return true
		}
	}

	bk = f.buckets[h2]
	for i := 0; i < SlotPerBucket; i++ {
		if bk.tag(i) == h1 && bk.status(i) == statusOccupied {
			return true
		}
	}
	return false
}

// BucketCount returns the number of buckets the filter was sized with.
func (f *Filter) BucketCount() uint64 {
	return f.bucketCount
}
