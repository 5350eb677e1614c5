package metadata

import (
	"context"
	"fmt"
	"sort"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/model"
)

// GetSegment looks a segment up in the epoch that created it
func (e *Entity) GetSegment(ctx context.Context, segmentID int64) (model.SegmentRecord, error) {
	epoch, err := e.GetEpoch(ctx, model.SegmentEpoch(segmentID))
	if err != nil {
		return model.SegmentRecord{}, err
	}
	if s, ok := epoch.Segment(segmentID); ok {
		return s, nil
	}
	return model.SegmentRecord{}, metaerrors.NewMetadataError(metaerrors.ErrCodeNotFound, "segment not found", nil).
		WithDetail("entity", e.ScopedName()).
		WithDetail("segment_id", segmentID)
}

// GetActiveSegments returns the segments of the active epoch
func (e *Entity) GetActiveSegments(ctx context.Context) ([]model.SegmentRecord, error) {
	if err := e.checkServesActiveSegments(ctx); err != nil {
		return nil, err
	}
	active, err := e.GetActiveEpoch(ctx, true)
	if err != nil {
		return nil, err
	}
	return active.Segments, nil
}

// GetSegmentsInEpoch returns the segments of one epoch
func (e *Entity) GetSegmentsInEpoch(ctx context.Context, epoch int32) ([]model.SegmentRecord, error) {
	record, err := e.GetEpoch(ctx, epoch)
	if err != nil {
		return nil, err
	}
	return record.Segments, nil
}

// GetAllSegmentIDs returns the id of every segment created from epoch 0
// through the active epoch, sealed or not, in increasing order
func (e *Entity) GetAllSegmentIDs(ctx context.Context) ([]int64, error) {
	active, err := e.GetActiveEpoch(ctx, true)
	if err != nil {
		return nil, err
	}
	table, err := e.table(ctx)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for c := int32(0); c <= e.chunkOf(active.Epoch); c++ {
		chunk, err := e.getHistoryChunk(ctx, table, c, false)
		if err != nil {
			return nil, fmt.Errorf("failed to read history chunk %d: %w", c, err)
		}
		for _, r := range chunk.Object.Records {
			// a scale in progress may have appended past the active epoch
			if r.Epoch > active.Epoch {
				break
			}
			for _, s := range r.SegmentsCreated {
				ids = append(ids, s.SegmentID())
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
