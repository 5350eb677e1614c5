package model

import "sort"

// EpochTransitionRecord is a scale that has started and not yet completed.
// The empty record has ActiveEpoch -1.
type EpochTransitionRecord struct {
	ActiveEpoch    int32
	Time           int64
	SegmentsToSeal []int64
	NewSegments    []SegmentRecord
}

// EmptyEpochTransition marks that no scale is in progress
var EmptyEpochTransition = EpochTransitionRecord{ActiveEpoch: -1}

// IsEmpty reports whether no scale is in progress
func (t EpochTransitionRecord) IsEmpty() bool {
	return t.ActiveEpoch < 0
}

// NewEpoch is the epoch the transition creates
func (t EpochTransitionRecord) NewEpoch() int32 {
	return t.ActiveEpoch + 1
}

// Matches reports whether a scale request asks for this transition
func (t EpochTransitionRecord) Matches(sealed []int64, ranges []KeyRange) bool {
	return !t.IsEmpty() && SameScale(t.SegmentsToSeal, t.NewSegments, sealed, ranges)
}

// SameScale reports whether sealing sealedIDs and creating created is the
// scale described by sealed and ranges. Order is ignored.
func SameScale(sealedIDs []int64, created []SegmentRecord, sealed []int64, ranges []KeyRange) bool {
	if len(sealedIDs) != len(sealed) || len(created) != len(ranges) {
		return false
	}
	want := make(map[int64]bool, len(sealed))
	for _, id := range sealed {
		want[id] = true
	}
	for _, id := range sealedIDs {
		if !want[id] {
			return false
		}
	}

	have := make([]KeyRange, len(created))
	for i, s := range created {
		have[i] = KeyRange{Start: s.KeyStart, End: s.KeyEnd}
	}
	asked := SortedKeyRanges(ranges)
	have = SortedKeyRanges(have)
	for i := range have {
		if have[i] != asked[i] {
			return false
		}
	}
	return true
}

// SortedKeyRanges returns a copy of ranges ordered by start
func SortedKeyRanges(ranges []KeyRange) []KeyRange {
	sorted := make([]KeyRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	return sorted
}
