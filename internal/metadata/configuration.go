package metadata

import (
	"context"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/metastore/internal/codec"
	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// GetConfiguration returns the entity configuration
func (e *Entity) GetConfiguration(ctx context.Context) (model.Configuration, error) {
	table, err := e.table(ctx)
	if err != nil {
		return model.Configuration{}, err
	}
	v, err := store.GetCachedData(ctx, e.helper, table, configurationKey, codec.DecodeConfiguration)
	return v.Object, err
}

// GetVersionedConfiguration reads the configuration with its version, bypassing the cache
func (e *Entity) GetVersionedConfiguration(ctx context.Context) (store.Versioned[model.Configuration], error) {
	table, err := e.table(ctx)
	if err != nil {
		return store.Versioned[model.Configuration]{}, err
	}
	return store.GetEntry(ctx, e.helper, table, configurationKey, codec.DecodeConfiguration)
}

// UpdateConfiguration replaces the configuration if prev's version is still current
func (e *Entity) UpdateConfiguration(ctx context.Context, prev store.Versioned[model.Configuration], cfg model.Configuration) (store.Versioned[model.Configuration], error) {
	if err := cfg.Validate(); err != nil {
		return prev, metaerrors.InvalidArgument("invalid configuration", err)
	}
	state, err := e.GetState(ctx, true)
	if err != nil {
		return prev, err
	}
	if state == model.StateSealing || state == model.StateSealed {
		return prev, metaerrors.IllegalState(e.ScopedName(), state.String())
	}

	table, err := e.table(ctx)
	if err != nil {
		return prev, err
	}
	v, err := e.helper.UpdateEntry(ctx, table, configurationKey, codec.EncodeConfiguration(cfg), prev.Version)
	if err != nil {
		return prev, err
	}
	e.logger.Info("Configuration updated", zap.Int32("min_segments", cfg.PartitionCount()))
	return store.Versioned[model.Configuration]{Object: cfg, Version: v}, nil
}

// GetCreationTime returns the creation timestamp in milliseconds
func (e *Entity) GetCreationTime(ctx context.Context) (int64, error) {
	table, err := e.table(ctx)
	if err != nil {
		return 0, err
	}
	v, err := store.GetCachedData(ctx, e.helper, table, creationTimeKey, codec.DecodeTimestamp)
	return v.Object, err
}
