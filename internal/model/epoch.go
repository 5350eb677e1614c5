package model

import (
	"fmt"
	"sort"
)

// EpochRecord is the full set of active segments at one epoch
type EpochRecord struct {
	Epoch          int32
	ReferenceEpoch int32
	Segments       []SegmentRecord
	CreationTime   int64
}

// NewEpochRecord creates an epoch record with segments ordered by key range
func NewEpochRecord(epoch, referenceEpoch int32, segments []SegmentRecord, creationTime int64) EpochRecord {
	sorted := make([]SegmentRecord, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].KeyStart < sorted[j].KeyStart })
	return EpochRecord{
		Epoch:          epoch,
		ReferenceEpoch: referenceEpoch,
		Segments:       sorted,
		CreationTime:   creationTime,
	}
}

// SegmentIDs returns the ids of all segments in the epoch
func (e EpochRecord) SegmentIDs() []int64 {
	ids := make([]int64, len(e.Segments))
	for i, s := range e.Segments {
		ids[i] = s.SegmentID()
	}
	return ids
}

// Segment returns the segment with the given id
func (e EpochRecord) Segment(segmentID int64) (SegmentRecord, bool) {
	for _, s := range e.Segments {
		if s.SegmentID() == segmentID {
			return s, true
		}
	}
	return SegmentRecord{}, false
}

// ContainsSegment reports whether the epoch holds the segment id
func (e EpochRecord) ContainsSegment(segmentID int64) bool {
	_, ok := e.Segment(segmentID)
	return ok
}

// MaxSegmentNumber returns the highest segment number in the epoch, or -1
func (e EpochRecord) MaxSegmentNumber() int32 {
	max := int32(-1)
	for _, s := range e.Segments {
		if s.SegmentNumber > max {
			max = s.SegmentNumber
		}
	}
	return max
}

// ValidateKeySpace checks that segment ranges sorted by start are contiguous
// and cover exactly [0, 1)
func (e EpochRecord) ValidateKeySpace() error {
	if len(e.Segments) == 0 {
		return fmt.Errorf("epoch %d has no segments", e.Epoch)
	}
	segments := make([]SegmentRecord, len(e.Segments))
	copy(segments, e.Segments)
	sort.Slice(segments, func(i, j int) bool { return segments[i].KeyStart < segments[j].KeyStart })

	next := 0.0
	for _, s := range segments {
		if s.KeyStart >= s.KeyEnd {
			return fmt.Errorf("epoch %d: segment %v has an empty range", e.Epoch, s)
		}
		if s.KeyStart != next {
			return fmt.Errorf("epoch %d: gap or overlap at %v (segment %v)", e.Epoch, next, s)
		}
		next = s.KeyEnd
	}
	if next != 1.0 {
		return fmt.Errorf("epoch %d: key space ends at %v", e.Epoch, next)
	}
	return nil
}

// HistoryTimeSeriesRecord is one epoch transition: the delta over the previous epoch
type HistoryTimeSeriesRecord struct {
	Epoch           int32
	ReferenceEpoch  int32
	SegmentsCreated []SegmentRecord
	SegmentsSealed  []int64
	ScaleTime       int64
}

// HistoryTimeSeries is one chunk of the history log
type HistoryTimeSeries struct {
	Records []HistoryTimeSeriesRecord
}

// LatestRecord returns the last record of the chunk
func (h HistoryTimeSeries) LatestRecord() (HistoryTimeSeriesRecord, bool) {
	if len(h.Records) == 0 {
		return HistoryTimeSeriesRecord{}, false
	}
	return h.Records[len(h.Records)-1], true
}

// AddRecord returns a new chunk with record appended; the receiver is not modified
func (h HistoryTimeSeries) AddRecord(record HistoryTimeSeriesRecord) HistoryTimeSeries {
	records := make([]HistoryTimeSeriesRecord, len(h.Records), len(h.Records)+1)
	copy(records, h.Records)
	return HistoryTimeSeries{Records: append(records, record)}
}

// FindGreatestLowerBound returns the index of the last record with
// ScaleTime <= timestamp, or -1 if every record is later
func (h HistoryTimeSeries) FindGreatestLowerBound(timestamp int64) int {
	idx := sort.Search(len(h.Records), func(i int) bool {
		return h.Records[i].ScaleTime > timestamp
	})
	return idx - 1
}
