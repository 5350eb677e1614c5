package metadata

import (
	"context"
	"fmt"

	"github.com/devrev/pairdb/metastore/internal/codec"
	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// GetRetentionSet returns the recorded stream-cut references in insertion order
func (e *Entity) GetRetentionSet(ctx context.Context) (model.RetentionSet, error) {
	table, err := e.table(ctx)
	if err != nil {
		return model.RetentionSet{}, err
	}
	v, err := store.GetEntry(ctx, e.helper, table, retentionSetKey, codec.DecodeRetentionSet)
	return v.Object, err
}

// AddStreamCutToRetentionSet appends ref. Recording times must increase;
// re-adding the latest reference is a no-op.
func (e *Entity) AddStreamCutToRetentionSet(ctx context.Context, ref model.StreamCutReference) error {
	return e.updateRetentionSet(ctx, func(set model.RetentionSet) (model.RetentionSet, bool, error) {
		if latest, ok := set.Latest(); ok {
			if latest == ref {
				return set, false, nil
			}
			if ref.RecordingTime <= latest.RecordingTime {
				return set, false, metaerrors.InvalidArgument(fmt.Sprintf(
					"recording time %d is not after the latest %d", ref.RecordingTime, latest.RecordingTime), nil)
			}
		}
		return set.Add(ref), true, nil
	})
}

// DeleteStreamCutsBefore drops references recorded before recordingTime
func (e *Entity) DeleteStreamCutsBefore(ctx context.Context, recordingTime int64) error {
	return e.updateRetentionSet(ctx, func(set model.RetentionSet) (model.RetentionSet, bool, error) {
		trimmed := set.RemoveBefore(recordingTime)
		return trimmed, len(trimmed.StreamCuts) != len(set.StreamCuts), nil
	})
}

// updateRetentionSet applies fn under CAS, re-reading after a concurrent write
func (e *Entity) updateRetentionSet(ctx context.Context, fn func(model.RetentionSet) (model.RetentionSet, bool, error)) error {
	table, err := e.table(ctx)
	if err != nil {
		return err
	}
	for {
		current, err := store.GetEntry(ctx, e.helper, table, retentionSetKey, codec.DecodeRetentionSet)
		if err != nil {
			return err
		}
		updated, changed, err := fn(current.Object)
		if err != nil || !changed {
			return err
		}
		_, err = e.helper.UpdateEntry(ctx, table, retentionSetKey, codec.EncodeRetentionSet(updated), current.Version)
		if !metaerrors.IsConcurrentModification(err) {
			return err
		}
		e.logger.Warn("Retention set update conflict, retrying")
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
