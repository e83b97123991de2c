// vertical_group.go implements the grouping heuristic the tier compaction
// picker uses in place of classical per-file leveled picking: files at one
// level are partitioned into "vertical groups", maximal chains of files
// whose user-key ranges overlap in sequence.
//
// Reference: GlitterIsMe/cuckoo-rocksdb db/compaction/compaction_picker_tier.cc
// (TierCompactionBuilder::GetStartLevelGroup)
package compaction

import (
	"sort"

	"github.com/aalhour/tieredkv/internal/dbformat"
	"github.com/aalhour/tieredkv/internal/manifest"
)

// VerticalGroup is one maximal run of files at a level whose key ranges
// chain together: each file's smallest key falls within the range spanned
// by the group built from the files before it.
type VerticalGroup struct {
	Files    []*manifest.FileMetaData
	Smallest []byte // smallest internal key across Files
	Largest  []byte // largest internal key across Files

	// GroupFileSize is the sum of CompensatedFileSize across Files; groups
	// are ranked against each other by this value.
	GroupFileSize uint64

	// FilterBlockNum is the persistent-arena block number carried by the
	// last file folded into this group, matching the reference's
	// overwrite-per-iteration behavior: it is NOT the union of every
	// member file's filter, only whichever file was seen last.
	FilterBlockNum uint64
}

// BuildVerticalGroups partitions files into vertical groups.
//
// Files are first sorted by (smallest ascending, largest descending), the
// same order GetStartLevelGroup relies on before walking the level once.
// The first file seeds the first group unconditionally, even if it is
// being compacted — group formation only checks BeingCompacted starting
// from the second file. This is a preserved quirk of the reference, not a
// bug this port introduces: see DESIGN.md.
func BuildVerticalGroups(files []*manifest.FileMetaData, cmp *dbformat.InternalKeyComparator) []VerticalGroup {
	if len(files) == 0 {
		return nil
	}

	sorted := make([]*manifest.FileMetaData, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if c := cmp.Compare(a.Smallest, b.Smallest); c != 0 {
			return c < 0
		}
		return cmp.Compare(a.Largest, b.Largest) > 0
	})

	var groups []VerticalGroup
	group := newVerticalGroup(sorted[0])

	for i := 1; i < len(sorted); i++ {
		f := sorted[i]
		if f.BeingCompacted {
			continue
		}

		if cmp.CompareWithUserKey(group.Smallest, f.Smallest) <= 0 &&
			cmp.CompareWithUserKey(group.Largest, f.Smallest) >= 0 {
			group.Files = append(group.Files, f)
			group.GroupFileSize += f.CompensatedFileSize
			group.FilterBlockNum = f.PmemBlockNum
			if cmp.Compare(group.Largest, f.Largest) < 0 {
				group.Largest = f.Largest
			}
			continue
		}

		groups = append(groups, group)
		group = newVerticalGroup(f)
	}
	groups = append(groups, group)

	return groups
}

func newVerticalGroup(f *manifest.FileMetaData) VerticalGroup {
	return VerticalGroup{
		Files:          []*manifest.FileMetaData{f},
		Smallest:       f.Smallest,
		Largest:        f.Largest,
		GroupFileSize:  f.CompensatedFileSize,
		FilterBlockNum: f.PmemBlockNum,
	}
}

// LargestGroup returns the group with the largest GroupFileSize, or the
// zero value and false if groups is empty.
func LargestGroup(groups []VerticalGroup) (VerticalGroup, bool) {
	if len(groups) == 0 {
		return VerticalGroup{}, false
	}
	best := groups[0]
	for _, g := range groups[1:] {
		if g.GroupFileSize > best.GroupFileSize {
			best = g
		}
	}
	return best, true
}
