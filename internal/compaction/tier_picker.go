// tier_picker.go implements TierCompactionPicker: a CompactionPicker that
// replaces per-file leveled selection with vertical-group selection.
//
// Reference: GlitterIsMe/cuckoo-rocksdb db/compaction/compaction_picker_tier.cc
// (TierCompactionBuilder::PickCompaction/PickFileToCompact/GetPathId)
package compaction

import (
	"sort"

	"github.com/aalhour/tieredkv/internal/dbformat"
	"github.com/aalhour/tieredkv/internal/manifest"
	"github.com/aalhour/tieredkv/internal/version"
)

// DBPath describes one configured data directory and the byte budget the
// tier picker tries to keep within it before spilling output files to the
// next configured path.
type DBPath struct {
	Path       string
	TargetSize uint64
}

// TierCompactionPicker implements CompactionPicker using vertical groups
// instead of per-file candidates at L1 and above; L0 is still picked as a
// whole (all non-busy L0 files compact together, same as leveled).
type TierCompactionPicker struct {
	NumLevels           int
	L0CompactionTrigger int

	MaxBytesForLevelBase       uint64
	MaxBytesForLevelMultiplier float64
	// MaxBytesForLevelMultiplierAdditional is indexed by level; an absent
	// or out-of-range entry is treated as 1.0, matching
	// MutableCFOptions::MaxBytesMultiplerAdditional's default.
	MaxBytesForLevelMultiplierAdditional []float64
	LevelCompactionDynamicLevelBytes     bool

	TargetFileSizeBase  uint64
	TargetFileSizeMulti float64

	MaxCompactionBytes uint64

	// CFPaths are the configured data paths, most-preferred first; the
	// last entry is the fallback with no target-size limit enforced.
	CFPaths []DBPath

	Comparator *dbformat.InternalKeyComparator
}

// DefaultTierCompactionPicker returns a picker with RocksDB-shaped defaults.
func DefaultTierCompactionPicker() *TierCompactionPicker {
	return &TierCompactionPicker{
		NumLevels:                         7,
		L0CompactionTrigger:               4,
		MaxBytesForLevelBase:              256 * 1024 * 1024,
		MaxBytesForLevelMultiplier:        10.0,
		LevelCompactionDynamicLevelBytes:  false,
		TargetFileSizeBase:                64 * 1024 * 1024,
		TargetFileSizeMulti:               1.0,
		MaxCompactionBytes:                25 * 64 * 1024 * 1024,
		CFPaths:                           []DBPath{{Path: "", TargetSize: 0}},
		Comparator:                        dbformat.DefaultInternalKeyComparator,
	}
}

func (p *TierCompactionPicker) cmp() *dbformat.InternalKeyComparator {
	if p.Comparator != nil {
		return p.Comparator
	}
	return dbformat.DefaultInternalKeyComparator
}

func (p *TierCompactionPicker) maxBytesMultiplierAdditional(level int) float64 {
	if level < 0 || level >= len(p.MaxBytesForLevelMultiplierAdditional) {
		return 1.0
	}
	return p.MaxBytesForLevelMultiplierAdditional[level]
}

// targetSizeForLevel returns the target byte size for level (>=1); L1's
// size is max_bytes_for_level_base and every level above multiplies by
// MaxBytesForLevelMultiplier (and, unless dynamic-level-bytes is set, the
// per-level additional multiplier).
func (p *TierCompactionPicker) targetSizeForLevel(level int) uint64 {
	if level <= 0 {
		return 0
	}
	size := p.MaxBytesForLevelBase
	for l := 1; l < level; l++ {
		if p.LevelCompactionDynamicLevelBytes {
			size = uint64(float64(size) * p.MaxBytesForLevelMultiplier)
		} else {
			size = uint64(float64(size) * p.MaxBytesForLevelMultiplier * p.maxBytesMultiplierAdditional(l))
		}
	}
	return size
}

func (p *TierCompactionPicker) targetFileSizeForLevel(level int) uint64 {
	size := p.TargetFileSizeBase
	for range level {
		size = uint64(float64(size) * p.TargetFileSizeMulti)
	}
	return size
}

// GetPathID walks the configured CFPaths, attributing level to whichever
// path still has target-size budget left once every level below it has
// been accounted for; the last path is the unconditional fallback.
//
// Reference: TierCompactionBuilder::GetPathId (exact port, including that
// it never looks at actual on-disk usage, only the declared level sizes).
func (p *TierCompactionPicker) GetPathID(level int) int {
	if len(p.CFPaths) == 0 {
		return 0
	}

	pathIdx := 0
	currentPathSize := p.CFPaths[0].TargetSize
	levelSize := p.MaxBytesForLevelBase
	curLevel := 0

	for pathIdx < len(p.CFPaths)-1 {
		if levelSize <= currentPathSize {
			if curLevel == level {
				return pathIdx
			}
			currentPathSize -= levelSize
			if curLevel > 0 {
				if p.LevelCompactionDynamicLevelBytes {
					levelSize = uint64(float64(levelSize) * p.MaxBytesForLevelMultiplier)
				} else {
					levelSize = uint64(float64(levelSize) * p.MaxBytesForLevelMultiplier * p.maxBytesMultiplierAdditional(curLevel))
				}
			}
			curLevel++
			continue
		}
		pathIdx++
		if pathIdx < len(p.CFPaths) {
			currentPathSize = p.CFPaths[pathIdx].TargetSize
		}
	}
	return pathIdx
}

func (p *TierCompactionPicker) recompute(v *version.Version) {
	v.ComputeCompactionScore(p.L0CompactionTrigger, p.targetSizeForLevel)
}

// NeedsCompaction reports whether any level's score reaches 1.0.
func (p *TierCompactionPicker) NeedsCompaction(v *version.Version) bool {
	p.recompute(v)
	return v.CompactionScore(0) >= 1.0
}

// PickCompaction walks levels in descending-score order and returns the
// first level for which a non-empty candidate can be built.
func (p *TierCompactionPicker) PickCompaction(v *version.Version) *Compaction {
	p.recompute(v)

	numLevels := v.NumLevels()
	for i := 0; i < numLevels-1; i++ {
		score := v.CompactionScore(i)
		level := v.CompactionScoreLevel(i)
		if score < 1.0 || level < 0 {
			continue
		}
		outputLevel := level + 1

		startInput, outputInput, filterBlockNum, reason, ok := p.pickFileToCompact(v, level, outputLevel)
		if !ok {
			continue
		}

		inputs := []*CompactionInputFiles{startInput}
		if len(outputInput.Files) > 0 {
			inputs = append(inputs, outputInput)
		}

		c := NewCompaction(inputs, outputLevel)
		c.Reason = reason
		c.Score = score
		c.MaxOutputFileSize = p.targetFileSizeForLevel(outputLevel)
		c.InputLevelGroupFilterBlockNum = filterBlockNum
		c.PathID = p.GetPathID(outputLevel)
		return c
	}
	return nil
}

// pickFileToCompact implements TierCompactionBuilder::PickFileToCompact:
// level 0 compacts as a whole (all non-busy files), level >=1 picks the
// largest vertical group.
func (p *TierCompactionPicker) pickFileToCompact(v *version.Version, level, outputLevel int) (
	startInput, outputInput *CompactionInputFiles, filterBlockNum uint64, reason CompactionReason, ok bool,
) {
	cmp := p.cmp()

	if level == 0 {
		files := v.LevelFiles(0)
		var available []*manifest.FileMetaData
		var smallest, largest []byte
		for _, f := range files {
			if f.BeingCompacted {
				continue
			}
			available = append(available, f)
			if smallest == nil {
				smallest, largest = f.Smallest, f.Largest
				continue
			}
			if cmp.Compare(f.Smallest, smallest) < 0 {
				smallest = f.Smallest
			}
			if cmp.Compare(f.Largest, largest) > 0 {
				largest = f.Largest
			}
		}
		if len(available) == 0 {
			return nil, nil, 0, CompactionReasonUnknown, false
		}

		outFiles := v.GetOverlappingInputs(1, smallest, largest)
		sortBySmallestAscLargestDesc(outFiles, cmp)

		return &CompactionInputFiles{Level: 0, Files: available},
			&CompactionInputFiles{Level: 1, Files: outFiles},
			0, CompactionReasonLevelL0FileNumTrigger, true
	}

	files := v.LevelFiles(level)
	if len(files) == 0 {
		return nil, nil, 0, CompactionReasonUnknown, false
	}

	groups := BuildVerticalGroups(files, cmp)
	best, ok2 := LargestGroup(groups)
	if !ok2 || len(best.Files) == 0 {
		return nil, nil, 0, CompactionReasonUnknown, false
	}

	outFiles := v.GetOverlappingInputs(outputLevel, best.Smallest, best.Largest)
	sortBySmallestAscLargestDesc(outFiles, cmp)

	return &CompactionInputFiles{Level: level, Files: best.Files},
		&CompactionInputFiles{Level: outputLevel, Files: outFiles},
		best.FilterBlockNum, CompactionReasonLevelMaxLevelSize, true
}

func sortBySmallestAscLargestDesc(files []*manifest.FileMetaData, cmp *dbformat.InternalKeyComparator) {
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if c := cmp.Compare(a.Smallest, b.Smallest); c != 0 {
			return c < 0
		}
		return cmp.Compare(a.Largest, b.Largest) > 0
	})
}
