package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/metadata"
	"github.com/devrev/pairdb/metastore/internal/model"
)

// CreateStatus is the caller-facing result of a create request
type CreateStatus string

const (
	CreateStatusSuccess      CreateStatus = "SUCCESS"
	CreateStatusEntityExists CreateStatus = "ENTITY_EXISTS"
	CreateStatusFailure      CreateStatus = "FAILURE"
)

// RetryConfig bounds the create task's retries
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultRetryConfig returns the default retry bounds
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxRetries:      10,
	}
}

// CreateEntityTask writes an entity's metadata, notifies its initial segments
// and moves it from CREATING to ACTIVE
type CreateEntityTask struct {
	engine   *metadata.Engine
	notifier SegmentNotifier
	retry    RetryConfig
	logger   *zap.Logger
}

// NewCreateEntityTask creates a create task
func NewCreateEntityTask(engine *metadata.Engine, notifier SegmentNotifier, retry RetryConfig, logger *zap.Logger) *CreateEntityTask {
	return &CreateEntityTask{
		engine:   engine,
		notifier: notifier,
		retry:    retry,
		logger:   logger,
	}
}

// Execute runs the task. Both a new entity and one left in CREATING by an
// earlier attempt are completed; only the former reports SUCCESS.
func (t *CreateEntityTask) Execute(ctx context.Context, scope, name string, cfg model.Configuration, creationTime int64, startingSegmentNumber int32) (CreateStatus, error) {
	ent, err := t.engine.Entity(scope, name)
	if err != nil {
		return CreateStatusFailure, err
	}

	var resp model.CreateResponse
	err = t.withRetries(ctx, func() error {
		var err error
		resp, err = ent.Create(ctx, cfg, creationTime, startingSegmentNumber)
		return err
	})
	if err != nil {
		return CreateStatusFailure, fmt.Errorf("failed to create metadata for %s: %w", ent.ScopedName(), err)
	}

	status := translate(resp.Status)
	if resp.Status == model.CreateStatusExistsActive {
		return status, nil
	}

	if err := t.withRetries(ctx, func() error { return t.notify(ctx, ent) }); err != nil {
		return CreateStatusFailure, fmt.Errorf("failed to notify segments of %s: %w", ent.ScopedName(), err)
	}
	if err := t.withRetries(ctx, func() error { return t.activate(ctx, ent) }); err != nil {
		return CreateStatusFailure, fmt.Errorf("failed to activate %s: %w", ent.ScopedName(), err)
	}

	t.logger.Info("Entity created",
		zap.String("scope", scope),
		zap.String("name", name),
		zap.String("status", string(status)))
	return status, nil
}

func (t *CreateEntityTask) notify(ctx context.Context, ent *metadata.Entity) error {
	id, err := ent.ID(ctx)
	if err != nil {
		return err
	}
	segments, err := ent.GetSegmentsInEpoch(ctx, 0)
	if err != nil {
		return err
	}
	return t.notifier.NotifySegmentsCreated(ctx, id, segments)
}

// activate moves CREATING to ACTIVE; a concurrent completer having done it already is success
func (t *CreateEntityTask) activate(ctx context.Context, ent *metadata.Entity) error {
	state, err := ent.GetVersionedState(ctx)
	if err != nil {
		return err
	}
	switch state.Object {
	case model.StateActive:
		return nil
	case model.StateCreating:
		_, err = ent.UpdateVersionedState(ctx, state, model.StateActive)
		return err
	default:
		return metaerrors.IllegalState(ent.ScopedName(), state.Object.String())
	}
}

// withRetries retries op with exponential backoff; caller errors are not retried
func (t *CreateEntityTask) withRetries(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.retry.InitialInterval
	b.MaxInterval = t.retry.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, t.retry.MaxRetries), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		t.logger.Warn("Create task step failed, retrying",
			zap.Duration("backoff", wait),
			zap.Error(err))
	})
}

func retryable(err error) bool {
	switch metaerrors.GetCode(err) {
	case metaerrors.ErrCodeInvalidArgument,
		metaerrors.ErrCodeIllegalState,
		metaerrors.ErrCodeOperationNotAllowed,
		metaerrors.ErrCodeDataCorruption:
		return false
	}
	return true
}

func translate(status model.CreateStatus) CreateStatus {
	switch status {
	case model.CreateStatusNew:
		return CreateStatusSuccess
	case model.CreateStatusExistsActive, model.CreateStatusExistsCreating:
		return CreateStatusEntityExists
	default:
		return CreateStatusFailure
	}
}
