package metadata

import (
	"context"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/metastore/internal/codec"
	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// ClaimWaitingProcessor records processor as the one waiting for exclusive
// access. If another processor already holds the marker it is left in place.
func (e *Entity) ClaimWaitingProcessor(ctx context.Context, processor string) error {
	table, err := e.table(ctx)
	if err != nil {
		return err
	}
	created, err := e.helper.AddNewEntryIfAbsent(ctx, table, waitingProcessorKey, codec.EncodeString(processor))
	if err != nil {
		return err
	}
	if created {
		e.logger.Debug("Waiting processor claimed", zap.String("processor", processor))
	}
	return nil
}

// CurrentWaitingProcessor returns the marker holder, or "" when unclaimed
func (e *Entity) CurrentWaitingProcessor(ctx context.Context) (string, error) {
	table, err := e.table(ctx)
	if err != nil {
		return "", err
	}
	v, err := store.GetEntry(ctx, e.helper, table, waitingProcessorKey, codec.DecodeString)
	if err != nil {
		if metaerrors.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return v.Object, nil
}

// ReleaseWaitingProcessorIfHeld removes the marker only if processor holds it
func (e *Entity) ReleaseWaitingProcessorIfHeld(ctx context.Context, processor string) error {
	table, err := e.table(ctx)
	if err != nil {
		return err
	}
	for {
		v, err := store.GetEntry(ctx, e.helper, table, waitingProcessorKey, codec.DecodeString)
		if err != nil {
			if metaerrors.IsNotFound(err) {
				return nil
			}
			return err
		}
		if v.Object != processor {
			return nil
		}
		err = e.helper.RemoveEntry(ctx, table, waitingProcessorKey, v.Version)
		if !metaerrors.IsConcurrentModification(err) {
			if err == nil {
				e.logger.Debug("Waiting processor released", zap.String("processor", processor))
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
