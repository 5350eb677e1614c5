package model

// ScaleMetadata summarizes one epoch transition
type ScaleMetadata struct {
	Timestamp int64
	Segments  []SegmentRecord
	Splits    int64
	Merges    int64
}
