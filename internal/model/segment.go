package model

import "fmt"

// SegmentRecord describes one segment and the key range it owns
type SegmentRecord struct {
	SegmentNumber int32
	CreationEpoch int32
	CreationTime  int64
	KeyStart      float64
	KeyEnd        float64
}

// SegmentID returns the segment id derived from creation epoch and number
func (s SegmentRecord) SegmentID() int64 {
	return ComputeSegmentID(s.SegmentNumber, s.CreationEpoch)
}

// Overlaps reports whether the two key ranges intersect
func (s SegmentRecord) Overlaps(other SegmentRecord) bool {
	return s.KeyStart < other.KeyEnd && other.KeyStart < s.KeyEnd
}

func (s SegmentRecord) String() string {
	return fmt.Sprintf("%d.#epoch.%d[%.4f, %.4f)", s.SegmentNumber, s.CreationEpoch, s.KeyStart, s.KeyEnd)
}

// ComputeSegmentID packs the creation epoch into the high 32 bits
func ComputeSegmentID(segmentNumber, epoch int32) int64 {
	return int64(epoch)<<32 | int64(uint32(segmentNumber))
}

// SegmentNumber extracts the segment number from a segment id
func SegmentNumber(segmentID int64) int32 {
	return int32(uint32(segmentID))
}

// SegmentEpoch extracts the creation epoch from a segment id
func SegmentEpoch(segmentID int64) int32 {
	return int32(segmentID >> 32)
}

// KeyRange is a half-open interval [Start, End) within [0, 1)
type KeyRange struct {
	Start float64
	End   float64
}

// Validate checks the range bounds
func (r KeyRange) Validate() error {
	if r.Start < 0 || r.End > 1 || r.Start >= r.End {
		return fmt.Errorf("invalid key range [%v, %v)", r.Start, r.End)
	}
	return nil
}

// EvenKeyRanges splits [0, 1) into n equal ranges
func EvenKeyRanges(n int) []KeyRange {
	if n <= 0 {
		return nil
	}
	ranges := make([]KeyRange, n)
	chunk := 1.0 / float64(n)
	for i := 0; i < n; i++ {
		ranges[i] = KeyRange{Start: float64(i) * chunk, End: float64(i+1) * chunk}
	}
	ranges[n-1].End = 1.0
	return ranges
}
