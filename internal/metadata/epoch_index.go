package metadata

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FindEpochAtTime returns the epoch that was active at timestamp: the epoch of
// the last history record whose scale time is not after it. Timestamps before
// the first record map to epoch 0; timestamps after the last map to the active
// epoch. The search reads O(log(chunks)) history chunks.
func (e *Entity) FindEpochAtTime(ctx context.Context, timestamp int64) (int32, error) {
	active, err := e.GetActiveEpoch(ctx, true)
	if err != nil {
		return 0, err
	}
	table, err := e.table(ctx)
	if err != nil {
		return 0, err
	}

	var (
		lo, hi    = int32(0), e.chunkOf(active.Epoch)
		candidate = int32(0)
		reads     = 0
	)
	for lo <= hi {
		mid := lo + (hi-lo)/2
		chunk, err := e.getHistoryChunk(ctx, table, mid, false)
		if err != nil {
			return 0, fmt.Errorf("failed to read history chunk %d: %w", mid, err)
		}
		reads++

		records := chunk.Object.Records
		idx := chunk.Object.FindGreatestLowerBound(timestamp)
		switch {
		case idx < 0:
			hi = mid - 1
		case idx == len(records)-1:
			// at or after this chunk's last record; a later chunk may start before timestamp
			candidate = records[idx].Epoch
			lo = mid + 1
		default:
			candidate = records[idx].Epoch
			lo = hi + 1
		}
	}

	if candidate > active.Epoch {
		candidate = active.Epoch
	}
	e.logger.Debug("Resolved epoch at time",
		zap.Int64("timestamp", timestamp),
		zap.Int32("epoch", candidate),
		zap.Int("chunk_reads", reads))
	return candidate, nil
}
