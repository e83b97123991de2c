// compaction_score.go computes and exposes per-level compaction scores.
//
// This is the VersionStorageInfo surface RocksDB's compaction pickers read:
// CompactionScore(rank)/CompactionScoreLevel(rank) hand back the r-th
// highest-scoring level, letting a picker walk levels in priority order
// without re-deriving scores itself.
//
// Reference: RocksDB v10.7.5 db/version_set.h (VersionStorageInfo),
// db/version_set.cc (ComputeCompactionScore).
package version

import (
	"sort"

	"github.com/aalhour/tieredkv/internal/manifest"
)

// L0FileNumCompactionTrigger is the default number of L0 files that makes
// L0's score reach 1.0. Callers that configure a different trigger should
// call ComputeCompactionScore with their own value instead of relying on
// the default used by NumLevelBytes-based scoring for L0.
const DefaultL0FileNumCompactionTrigger = 4

// LevelSizeFunc returns the target size in bytes for a given level.
// The tiered picker derives this from max_bytes_for_level_base and the
// multiplier chain; leveled pickers compute it similarly.
type LevelSizeFunc func(level int) uint64

// ComputeCompactionScore recomputes the per-level scores and the
// descending-rank ordering used by CompactionScore/CompactionScoreLevel.
//
// score(0) = NumFiles(0) / l0Trigger
// score(L) = NumLevelBytes(L) / targetSize(L), for L >= 1
//
// Files currently being_compacted still count toward NumLevelBytes: the
// score reflects the level's occupancy, not just the compactable subset.
// This matches the reference, which recomputes scores after every pick so
// that a newly registered compaction's files are still sized here but the
// *group builder* (not the score) is what excludes being_compacted files
// from candidacy.
func (v *Version) ComputeCompactionScore(l0Trigger int, targetSize LevelSizeFunc) {
	if l0Trigger <= 0 {
		l0Trigger = DefaultL0FileNumCompactionTrigger
	}

	type rankedLevel struct {
		level int
		score float64
	}
	ranked := make([]rankedLevel, 0, MaxNumLevels-1)

	for level := 0; level < MaxNumLevels-1; level++ {
		var score float64
		if level == 0 {
			score = float64(v.NumFiles(0)) / float64(l0Trigger)
		} else {
			target := targetSize(level)
			if target > 0 {
				score = float64(v.NumLevelBytes(level)) / float64(target)
			}
		}
		ranked = append(ranked, rankedLevel{level: level, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	v.compactionScore = make([]float64, len(ranked))
	v.compactionLevel = make([]int, len(ranked))
	for i, r := range ranked {
		v.compactionScore[i] = r.score
		v.compactionLevel[i] = r.level
	}

	v.baseLevel = firstNonEmptyLevelFrom1(v)
}

// firstNonEmptyLevelFrom1 returns the lowest level >= 1 holding at least one
// file, or MaxNumLevels-1 if every level above L0 is empty.
func firstNonEmptyLevelFrom1(v *Version) int {
	for level := 1; level < MaxNumLevels; level++ {
		if v.NumFiles(level) > 0 {
			return level
		}
	}
	return MaxNumLevels - 1
}

// CompactionScore returns the rank-th highest per-level score (0 is
// highest). Returns 0 if rank is out of range or scores were never
// computed.
func (v *Version) CompactionScore(rank int) float64 {
	if rank < 0 || rank >= len(v.compactionScore) {
		return 0
	}
	return v.compactionScore[rank]
}

// CompactionScoreLevel returns the level holding the rank-th highest
// score. Returns -1 if rank is out of range.
func (v *Version) CompactionScoreLevel(rank int) int {
	if rank < 0 || rank >= len(v.compactionLevel) {
		return -1
	}
	return v.compactionLevel[rank]
}

// LevelFiles is an alias for Files, named to match the VersionStorageInfo
// contract consumed by the tier compaction picker.
func (v *Version) LevelFiles(level int) []*manifest.FileMetaData {
	return v.Files(level)
}

// MaxInputLevel returns the highest level that can serve as a compaction
// start level: the second-to-last level (the last level has no output
// level to compact into).
func (v *Version) MaxInputLevel() int {
	return v.NumLevels() - 2
}

// BaseLevel returns the lowest non-empty level at or above L1, the level
// the tier/leveled picker treats as the effective first real level.
func (v *Version) BaseLevel() int {
	return v.baseLevel
}

// GetOverlappingInputs mirrors OverlappingInputs under the
// VersionStorageInfo name used by the tier compaction picker.
func (v *Version) GetOverlappingInputs(level int, smallest, largest []byte) []*manifest.FileMetaData {
	return v.OverlappingInputs(level, smallest, largest)
}
