package metadata

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/metastore/internal/codec"
	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// Delete removes the scope index entry and drops the metadata table. Only
// entities that are sealed or never became active can be deleted. Creating
// the same name afterwards assigns a new id.
func (e *Entity) Delete(ctx context.Context) error {
	id, err := e.resolveID(ctx)
	if err != nil {
		if metaerrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	state, err := e.GetState(ctx, true)
	if err != nil {
		return err
	}
	switch state {
	case model.StateUnknown, model.StateCreating, model.StateSealed:
	default:
		return metaerrors.IllegalState(e.ScopedName(), state.String())
	}

	// the index entry goes first: once it is gone a re-create assigns a new
	// id, even if dropping the old table below does not complete
	index, err := store.GetEntry(ctx, e.helper, e.scopeTable(), e.name, codec.DecodeUUID)
	if err != nil && !metaerrors.IsNotFound(err) {
		return err
	}
	if err == nil && index.Object == id {
		if err := e.helper.RemoveEntry(ctx, e.scopeTable(), e.name, index.Version); err != nil {
			return fmt.Errorf("failed to remove id of %s: %w", e.ScopedName(), err)
		}
	}

	if err := e.helper.DeleteTable(ctx, metadataTableName(e.scope, e.name, id)); err != nil {
		return err
	}

	e.mu.Lock()
	e.id = uuid.Nil
	e.mu.Unlock()
	e.logger.Info("Entity deleted", zap.String("id", id.String()))
	return nil
}
