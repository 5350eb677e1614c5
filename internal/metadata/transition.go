package metadata

import (
	"context"
	"fmt"

	"github.com/devrev/pairdb/metastore/internal/codec"
	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// GetEpochTransition returns the pending scale with its version. An entity
// with no scale in progress holds the empty record.
func (e *Entity) GetEpochTransition(ctx context.Context) (store.Versioned[model.EpochTransitionRecord], error) {
	table, err := e.table(ctx)
	if err != nil {
		return store.Versioned[model.EpochTransitionRecord]{}, err
	}
	v, err := store.GetEntry(ctx, e.helper, table, epochTransitionKey, codec.DecodeEpochTransition)
	if err == nil || !metaerrors.IsNotFound(err) {
		return v, err
	}
	if err := e.createEpochTransitionIfAbsent(ctx, table, model.EmptyEpochTransition); err != nil {
		return store.Versioned[model.EpochTransitionRecord]{}, err
	}
	return store.GetEntry(ctx, e.helper, table, epochTransitionKey, codec.DecodeEpochTransition)
}

func (e *Entity) createEpochTransitionIfAbsent(ctx context.Context, table string, record model.EpochTransitionRecord) error {
	if _, err := e.helper.AddNewEntryIfAbsent(ctx, table, epochTransitionKey, codec.EncodeEpochTransition(record)); err != nil {
		return fmt.Errorf("failed to create epoch transition: %w", err)
	}
	return nil
}

// updateEpochTransition replaces prev with record if prev's version is current
func (e *Entity) updateEpochTransition(ctx context.Context, table string, prev store.Versioned[model.EpochTransitionRecord], record model.EpochTransitionRecord) (store.Versioned[model.EpochTransitionRecord], error) {
	v, err := e.helper.UpdateEntry(ctx, table, epochTransitionKey, codec.EncodeEpochTransition(record), prev.Version)
	if err != nil {
		return prev, err
	}
	return store.Versioned[model.EpochTransitionRecord]{Object: record, Version: v}, nil
}

// resetEpochTransition clears the transition once its epoch is active. A
// concurrent retry of the same scale may have cleared it first.
func (e *Entity) resetEpochTransition(ctx context.Context, table string, t store.Versioned[model.EpochTransitionRecord]) error {
	epoch := t.Object.ActiveEpoch
	for {
		_, err := e.updateEpochTransition(ctx, table, t, model.EmptyEpochTransition)
		if !metaerrors.IsConcurrentModification(err) {
			return err
		}
		if t, err = e.GetEpochTransition(ctx); err != nil {
			return err
		}
		if t.Object.ActiveEpoch != epoch {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// transitionFor builds the transition that moves active to next
func transitionFor(active, next model.EpochRecord) model.EpochTransitionRecord {
	return model.EpochTransitionRecord{
		ActiveEpoch:    active.Epoch,
		Time:           next.CreationTime,
		SegmentsToSeal: sealedSegments(active, next),
		NewSegments:    createdSegments(active, next),
	}
}

// historyRecordFor is the history entry of a transition
func historyRecordFor(t model.EpochTransitionRecord) model.HistoryTimeSeriesRecord {
	return model.HistoryTimeSeriesRecord{
		Epoch:           t.NewEpoch(),
		ReferenceEpoch:  t.NewEpoch(),
		SegmentsCreated: t.NewSegments,
		SegmentsSealed:  t.SegmentsToSeal,
		ScaleTime:       t.Time,
	}
}
