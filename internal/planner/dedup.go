package planner

import (
	"sort"

	"github.com/jonathan/shorts-agent/internal/types"
)

// DefaultMaxOverlap is the overlap fraction above which a segment is dropped.
const DefaultMaxOverlap = 0.5

// Deduplicate sorts segments by start time and drops every segment that
// overlaps an already accepted one by more than half of the shorter duration.
// Identical time ranges are always dropped.
func Deduplicate(segments []types.FinalSegment) []types.FinalSegment {
	return dedupe(segments, DefaultMaxOverlap, func(s types.FinalSegment) (float64, float64) {
		return s.Start, s.End
	})
}

func dedupe[T any](items []T, maxOverlap float64, span func(T) (float64, float64)) []T {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, _ := span(sorted[i])
		b, _ := span(sorted[j])
		return a < b
	})

	var kept []T
	for _, item := range sorted {
		start, end := span(item)
		duplicate := false
		for _, k := range kept {
			ks, ke := span(k)
			if Overlap(start, end, ks, ke) > maxOverlap || (start == ks && end == ke) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, item)
		}
	}
	return kept
}

// Overlap returns the shared length of two ranges as a fraction of the
// shorter range. Zero-length ranges overlap nothing.
func Overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	shared := min(aEnd, bEnd) - max(aStart, bStart)
	if shared <= 0 {
		return 0
	}
	shorter := min(aEnd-aStart, bEnd-bStart)
	if shorter <= 0 {
		return 0
	}
	return shared / shorter
}
