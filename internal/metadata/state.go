package metadata

import (
	"context"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/metastore/internal/codec"
	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// GetVersionedState reads the state together with its version, bypassing the cache
func (e *Entity) GetVersionedState(ctx context.Context) (store.Versioned[model.State], error) {
	table, err := e.table(ctx)
	if err != nil {
		return store.Versioned[model.State]{}, err
	}
	return store.GetEntry(ctx, e.helper, table, stateKey, codec.DecodeState)
}

// GetState reads the state. A missing state record reads as UNKNOWN.
func (e *Entity) GetState(ctx context.Context, ignoreCached bool) (model.State, error) {
	table, err := e.table(ctx)
	if err != nil {
		return model.StateUnknown, err
	}
	var v store.Versioned[model.State]
	if ignoreCached {
		v, err = store.GetEntry(ctx, e.helper, table, stateKey, codec.DecodeState)
	} else {
		v, err = store.GetCachedData(ctx, e.helper, table, stateKey, codec.DecodeState)
	}
	if err != nil {
		if metaerrors.IsNotFound(err) {
			return model.StateUnknown, nil
		}
		return model.StateUnknown, err
	}
	return v.Object, nil
}

// UpdateVersionedState moves prev to newState if the transition is allowed and
// prev's version is still current. Setting the state it already holds is a no-op.
func (e *Entity) UpdateVersionedState(ctx context.Context, prev store.Versioned[model.State], newState model.State) (store.Versioned[model.State], error) {
	if prev.Object == newState {
		return prev, nil
	}
	if !model.IsTransitionAllowed(prev.Object, newState) {
		return prev, metaerrors.OperationNotAllowed(e.ScopedName(), prev.Object.String(), newState.String())
	}

	table, err := e.table(ctx)
	if err != nil {
		return prev, err
	}
	v, err := e.helper.UpdateEntry(ctx, table, stateKey, codec.EncodeState(newState), prev.Version)
	if err != nil {
		return prev, err
	}

	e.metrics.RecordStateTransition(prev.Object.String(), newState.String())
	e.logger.Info("State updated",
		zap.String("from", prev.Object.String()),
		zap.String("to", newState.String()))
	return store.Versioned[model.State]{Object: newState, Version: v}, nil
}

// UpdateState moves the entity to newState from whatever state it is in,
// re-reading and re-checking the transition after a concurrent write
func (e *Entity) UpdateState(ctx context.Context, newState model.State) error {
	for {
		prev, err := e.GetVersionedState(ctx)
		if err != nil {
			return err
		}
		_, err = e.UpdateVersionedState(ctx, prev, newState)
		if !metaerrors.IsConcurrentModification(err) {
			return err
		}
		e.logger.Warn("State update conflict, retrying", zap.String("to", newState.String()))
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// checkServesActiveSegments fails with IllegalState before the entity is active
func (e *Entity) checkServesActiveSegments(ctx context.Context) error {
	state, err := e.GetState(ctx, true)
	if err != nil {
		return err
	}
	if !state.ServesActiveSegments() {
		return metaerrors.IllegalState(e.ScopedName(), state.String())
	}
	return nil
}
