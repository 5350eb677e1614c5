package metadata

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/pairdb/metastore/internal/codec"
	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// History append outcomes
const (
	appendCreated   = "created"
	appendAppended  = "appended"
	appendDuplicate = "duplicate"
)

func (e *Entity) chunkOf(epoch int32) int32 {
	return epoch / e.chunkSize
}

// isAnchor reports whether the epoch's full record is stored by key rather
// than derived from its predecessor
func (e *Entity) isAnchor(r model.HistoryTimeSeriesRecord) bool {
	return r.Epoch%e.chunkSize == 0 || r.ReferenceEpoch != r.Epoch
}

// getHistoryChunk reads one chunk. Only full chunks are served from cache.
func (e *Entity) getHistoryChunk(ctx context.Context, table string, chunk int32, ignoreCached bool) (store.Versioned[model.HistoryTimeSeries], error) {
	key := historyChunkKey(chunk)
	if !ignoreCached {
		v, err := store.GetCachedData(ctx, e.helper, table, key, codec.DecodeHistoryTimeSeries)
		if err != nil {
			return v, err
		}
		if int32(len(v.Object.Records)) >= e.chunkSize {
			return v, nil
		}
	}
	return store.GetEntry(ctx, e.helper, table, key, codec.DecodeHistoryTimeSeries)
}

// appendHistoryRecord adds the record to its chunk. Appending an epoch that is
// already present is a no-op, so retries after a partial failure are safe.
func (e *Entity) appendHistoryRecord(ctx context.Context, table string, record model.HistoryTimeSeriesRecord) error {
	chunk := e.chunkOf(record.Epoch)
	key := historyChunkKey(chunk)

	if record.Epoch%e.chunkSize == 0 {
		created, err := e.helper.AddNewEntryIfAbsent(ctx, table, key,
			codec.EncodeHistoryTimeSeries(model.HistoryTimeSeries{}.AddRecord(record)))
		if err != nil {
			return fmt.Errorf("failed to create history chunk %d: %w", chunk, err)
		}
		if created {
			e.metrics.RecordHistoryAppend(appendCreated)
		} else {
			e.metrics.RecordHistoryAppend(appendDuplicate)
			e.logger.Debug("History chunk already exists", zap.Int32("epoch", record.Epoch))
		}
		return nil
	}

	for {
		current, err := e.getHistoryChunk(ctx, table, chunk, true)
		if err != nil {
			return fmt.Errorf("failed to read history chunk %d: %w", chunk, err)
		}
		latest, ok := current.Object.LatestRecord()
		if !ok {
			return metaerrors.DataCorruption(table, key, fmt.Errorf("empty history chunk"))
		}
		if latest.Epoch >= record.Epoch {
			e.metrics.RecordHistoryAppend(appendDuplicate)
			e.logger.Debug("History record already present", zap.Int32("epoch", record.Epoch))
			return nil
		}
		if latest.Epoch != record.Epoch-1 {
			return metaerrors.InvalidArgument(
				fmt.Sprintf("history gap: latest epoch %d, appending %d", latest.Epoch, record.Epoch), nil)
		}

		updated := current.Object.AddRecord(record)
		_, err = e.helper.UpdateEntry(ctx, table, key, codec.EncodeHistoryTimeSeries(updated), current.Version)
		if err == nil {
			e.metrics.RecordHistoryAppend(appendAppended)
			return nil
		}
		if !metaerrors.IsConcurrentModification(err) {
			return fmt.Errorf("failed to append to history chunk %d: %w", chunk, err)
		}
		e.logger.Warn("History append conflict, retrying", zap.Int32("epoch", record.Epoch))
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// getEpochSnapshot reads a stored epoch record. Snapshots are immutable.
func (e *Entity) getEpochSnapshot(ctx context.Context, table string, epoch int32) (model.EpochRecord, error) {
	v, err := store.GetCachedData(ctx, e.helper, table, epochRecordKey(epoch), codec.DecodeEpochRecord)
	if err != nil {
		return model.EpochRecord{}, fmt.Errorf("failed to read epoch %d: %w", epoch, err)
	}
	return v.Object, nil
}

// foldChunk reconstructs the epochs of one chunk that fall in [from, to],
// starting from the chunk's first record
func (e *Entity) foldChunk(ctx context.Context, table string, chunk model.HistoryTimeSeries, from, to int32) ([]model.EpochRecord, error) {
	var (
		result []model.EpochRecord
		prev   model.EpochRecord
		first  = true
	)
	for _, r := range chunk.Records {
		if r.Epoch > to {
			break
		}
		var current model.EpochRecord
		if e.isAnchor(r) {
			snapshot, err := e.getEpochSnapshot(ctx, table, r.Epoch)
			if err != nil {
				return nil, err
			}
			current = snapshot
		} else {
			if first {
				return nil, metaerrors.DataCorruption(table, historyChunkKey(e.chunkOf(r.Epoch)),
					fmt.Errorf("chunk starts with delta epoch %d", r.Epoch))
			}
			current = applyDelta(prev, r)
		}
		if r.Epoch >= from {
			result = append(result, current)
		}
		prev = current
		first = false
	}
	return result, nil
}

// applyDelta derives an epoch from its predecessor and the transition record
func applyDelta(prev model.EpochRecord, r model.HistoryTimeSeriesRecord) model.EpochRecord {
	sealed := make(map[int64]struct{}, len(r.SegmentsSealed))
	for _, id := range r.SegmentsSealed {
		sealed[id] = struct{}{}
	}
	segments := make([]model.SegmentRecord, 0, len(prev.Segments)+len(r.SegmentsCreated))
	for _, s := range prev.Segments {
		if _, ok := sealed[s.SegmentID()]; !ok {
			segments = append(segments, s)
		}
	}
	segments = append(segments, r.SegmentsCreated...)
	return model.NewEpochRecord(r.Epoch, r.ReferenceEpoch, segments, r.ScaleTime)
}

// GetEpoch reconstructs one epoch
func (e *Entity) GetEpoch(ctx context.Context, epoch int32) (model.EpochRecord, error) {
	if epoch < 0 {
		return model.EpochRecord{}, metaerrors.InvalidArgument(fmt.Sprintf("negative epoch %d", epoch), nil)
	}
	table, err := e.table(ctx)
	if err != nil {
		return model.EpochRecord{}, err
	}
	chunk, err := e.getHistoryChunk(ctx, table, e.chunkOf(epoch), false)
	if err != nil {
		return model.EpochRecord{}, fmt.Errorf("failed to read history for epoch %d: %w", epoch, err)
	}
	records, err := e.foldChunk(ctx, table, chunk.Object, epoch, epoch)
	if err != nil {
		return model.EpochRecord{}, err
	}
	if len(records) == 0 {
		return model.EpochRecord{}, metaerrors.NotFound(table, epochRecordKey(epoch))
	}
	return records[0], nil
}

// GetEpochsInRange reconstructs epochs from..to inclusive in order. Chunks are
// read concurrently and each is folded on its own.
func (e *Entity) GetEpochsInRange(ctx context.Context, from, to int32) ([]model.EpochRecord, error) {
	if from < 0 || from > to {
		return nil, metaerrors.InvalidArgument(fmt.Sprintf("invalid epoch range [%d, %d]", from, to), nil)
	}
	active, err := e.GetActiveEpoch(ctx, false)
	if err != nil {
		return nil, err
	}
	if to > active.Epoch {
		if active, err = e.GetActiveEpoch(ctx, true); err != nil {
			return nil, err
		}
		if to > active.Epoch {
			return nil, metaerrors.InvalidArgument(
				fmt.Sprintf("epoch %d is after the active epoch %d", to, active.Epoch), nil)
		}
	}
	table, err := e.table(ctx)
	if err != nil {
		return nil, err
	}

	firstChunk, lastChunk := e.chunkOf(from), e.chunkOf(to)
	parts := make([][]model.EpochRecord, lastChunk-firstChunk+1)

	g, gctx := errgroup.WithContext(ctx)
	for c := firstChunk; c <= lastChunk; c++ {
		c := c
		g.Go(func() error {
			chunk, err := e.getHistoryChunk(gctx, table, c, false)
			if err != nil {
				return fmt.Errorf("failed to read history chunk %d: %w", c, err)
			}
			records, err := e.foldChunk(gctx, table, chunk.Object, from, to)
			if err != nil {
				return err
			}
			parts[c-firstChunk] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]model.EpochRecord, 0, to-from+1)
	for _, p := range parts {
		result = append(result, p...)
	}
	return result, nil
}

// GetActiveEpoch returns the current epoch record
func (e *Entity) GetActiveEpoch(ctx context.Context, ignoreCached bool) (model.EpochRecord, error) {
	v, err := e.getVersionedActiveEpoch(ctx, ignoreCached)
	return v.Object, err
}

func (e *Entity) getVersionedActiveEpoch(ctx context.Context, ignoreCached bool) (store.Versioned[model.EpochRecord], error) {
	table, err := e.table(ctx)
	if err != nil {
		return store.Versioned[model.EpochRecord]{}, err
	}
	if ignoreCached {
		return store.GetEntry(ctx, e.helper, table, currentEpochRecordKey, codec.DecodeEpochRecord)
	}
	return store.GetCachedData(ctx, e.helper, table, currentEpochRecordKey, codec.DecodeEpochRecord)
}

// advanceActiveEpoch moves the current epoch record forward; it never moves back
func (e *Entity) advanceActiveEpoch(ctx context.Context, table string, next model.EpochRecord) error {
	for {
		current, err := store.GetEntry(ctx, e.helper, table, currentEpochRecordKey, codec.DecodeEpochRecord)
		if err != nil {
			return err
		}
		if current.Object.Epoch >= next.Epoch {
			return nil
		}
		_, err = e.helper.UpdateEntry(ctx, table, currentEpochRecordKey, codec.EncodeEpochRecord(next), current.Version)
		if !metaerrors.IsConcurrentModification(err) {
			return err
		}
		e.logger.Warn("Active epoch update conflict, retrying", zap.Int32("epoch", next.Epoch))
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
