package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/metadata"
	"github.com/devrev/pairdb/metastore/internal/model"
)

const maxConfigUpdateAttempts = 5

// EntityInfo is the summary returned when describing an entity
type EntityInfo struct {
	ID            model.EntityID
	State         model.State
	Configuration model.Configuration
	CreationTime  int64
	ActiveEpoch   int32
}

// MetadataService exposes entity metadata operations to the API layer
type MetadataService struct {
	engine     *metadata.Engine
	createTask *CreateEntityTask
	now        func() time.Time
	logger     *zap.Logger
}

// NewMetadataService creates a new metadata service
func NewMetadataService(
	engine *metadata.Engine,
	notifier SegmentNotifier,
	retry RetryConfig,
	logger *zap.Logger,
) *MetadataService {
	return &MetadataService{
		engine:     engine,
		createTask: NewCreateEntityTask(engine, notifier, retry, logger),
		now:        time.Now,
		logger:     logger,
	}
}

func (s *MetadataService) entity(scope, name string) (*metadata.Entity, error) {
	return s.engine.Entity(scope, name)
}

func (s *MetadataService) nowMillis() int64 {
	return s.now().UnixMilli()
}

// CreateEntity creates an entity and brings it to ACTIVE
func (s *MetadataService) CreateEntity(ctx context.Context, scope, name string, cfg model.Configuration, startingSegmentNumber int32) (CreateStatus, error) {
	if err := cfg.Validate(); err != nil {
		return CreateStatusFailure, metaerrors.InvalidArgument("invalid configuration", err)
	}
	return s.createTask.Execute(ctx, scope, name, cfg, s.nowMillis(), startingSegmentNumber)
}

// DescribeEntity returns id, state, configuration and the active epoch number
func (s *MetadataService) DescribeEntity(ctx context.Context, scope, name string) (*EntityInfo, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return nil, err
	}
	id, err := ent.ID(ctx)
	if err != nil {
		return nil, err
	}
	state, err := ent.GetState(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	cfg, err := ent.GetConfiguration(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	creationTime, err := ent.GetCreationTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get creation time: %w", err)
	}
	active, err := ent.GetActiveEpoch(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get active epoch: %w", err)
	}
	return &EntityInfo{
		ID:            id,
		State:         state,
		Configuration: cfg,
		CreationTime:  creationTime,
		ActiveEpoch:   active.Epoch,
	}, nil
}

// UpdateConfiguration replaces the configuration, retrying on concurrent updates
func (s *MetadataService) UpdateConfiguration(ctx context.Context, scope, name string, cfg model.Configuration) error {
	ent, err := s.entity(scope, name)
	if err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		prev, err := ent.GetVersionedConfiguration(ctx)
		if err != nil {
			return err
		}
		_, err = ent.UpdateConfiguration(ctx, prev, cfg)
		if err == nil {
			s.logger.Info("Configuration updated",
				zap.String("entity", ent.ScopedName()),
				zap.Int32("min_segments", cfg.PartitionCount()))
			return nil
		}
		if !metaerrors.IsConcurrentModification(err) || attempt >= maxConfigUpdateAttempts {
			return err
		}
		s.logger.Warn("Configuration changed concurrently, retrying",
			zap.String("entity", ent.ScopedName()),
			zap.Int("attempt", attempt))
	}
}

// Scale seals the given segments and creates segments over newRanges at the current time
func (s *MetadataService) Scale(ctx context.Context, scope, name string, sealed []int64, newRanges []model.KeyRange) (model.EpochRecord, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return model.EpochRecord{}, err
	}
	next, err := ent.Scale(ctx, sealed, newRanges, s.nowMillis())
	if err != nil {
		return model.EpochRecord{}, err
	}

	created := make([]model.SegmentRecord, 0, len(newRanges))
	for _, seg := range next.Segments {
		if seg.CreationEpoch == next.Epoch {
			created = append(created, seg)
		}
	}
	id, err := ent.ID(ctx)
	if err != nil {
		return model.EpochRecord{}, err
	}
	if err := s.createTask.notifier.NotifySegmentsCreated(ctx, id, created); err != nil {
		s.logger.Warn("Failed to notify scaled segments",
			zap.String("entity", ent.ScopedName()),
			zap.Int32("epoch", next.Epoch),
			zap.Error(err))
	}
	return next, nil
}

// Seal seals the entity
func (s *MetadataService) Seal(ctx context.Context, scope, name string) error {
	ent, err := s.entity(scope, name)
	if err != nil {
		return err
	}
	return ent.Seal(ctx)
}

// DeleteEntity removes the entity's metadata
func (s *MetadataService) DeleteEntity(ctx context.Context, scope, name string) error {
	ent, err := s.entity(scope, name)
	if err != nil {
		return err
	}
	return ent.Delete(ctx)
}

// GetActiveSegments returns the segments of the active epoch
func (s *MetadataService) GetActiveSegments(ctx context.Context, scope, name string) ([]model.SegmentRecord, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return nil, err
	}
	return ent.GetActiveSegments(ctx)
}

// GetSegment returns a segment by id
func (s *MetadataService) GetSegment(ctx context.Context, scope, name string, segmentID int64) (model.SegmentRecord, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return model.SegmentRecord{}, err
	}
	return ent.GetSegment(ctx, segmentID)
}

// GetAllSegmentIDs returns the ids of all segments the entity has had
func (s *MetadataService) GetAllSegmentIDs(ctx context.Context, scope, name string) ([]int64, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return nil, err
	}
	return ent.GetAllSegmentIDs(ctx)
}

// GetEpochTransition returns the scale in progress, or the empty record
func (s *MetadataService) GetEpochTransition(ctx context.Context, scope, name string) (model.EpochTransitionRecord, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return model.EpochTransitionRecord{}, err
	}
	v, err := ent.GetEpochTransition(ctx)
	return v.Object, err
}

// GetEpoch returns one epoch
func (s *MetadataService) GetEpoch(ctx context.Context, scope, name string, epoch int32) (model.EpochRecord, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return model.EpochRecord{}, err
	}
	return ent.GetEpoch(ctx, epoch)
}

// GetEpochsInRange returns epochs from..to inclusive
func (s *MetadataService) GetEpochsInRange(ctx context.Context, scope, name string, from, to int32) ([]model.EpochRecord, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return nil, err
	}
	return ent.GetEpochsInRange(ctx, from, to)
}

// GetEpochAtTime returns the epoch that was active at timestamp
func (s *MetadataService) GetEpochAtTime(ctx context.Context, scope, name string, timestamp int64) (model.EpochRecord, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return model.EpochRecord{}, err
	}
	epoch, err := ent.FindEpochAtTime(ctx, timestamp)
	if err != nil {
		return model.EpochRecord{}, err
	}
	return ent.GetEpoch(ctx, epoch)
}

// GetScaleMetadata returns the epoch transitions within [from, to]
func (s *MetadataService) GetScaleMetadata(ctx context.Context, scope, name string, from, to int64) ([]model.ScaleMetadata, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return nil, err
	}
	return ent.GetScaleMetadata(ctx, from, to)
}

// AddStreamCut appends a stream cut reference to the retention set
func (s *MetadataService) AddStreamCut(ctx context.Context, scope, name string, ref model.StreamCutReference) error {
	ent, err := s.entity(scope, name)
	if err != nil {
		return err
	}
	return ent.AddStreamCutToRetentionSet(ctx, ref)
}

// GetRetentionSet returns the retention set
func (s *MetadataService) GetRetentionSet(ctx context.Context, scope, name string) (model.RetentionSet, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return model.RetentionSet{}, err
	}
	return ent.GetRetentionSet(ctx)
}

// TruncateRetentionSet drops stream cuts recorded before recordingTime
func (s *MetadataService) TruncateRetentionSet(ctx context.Context, scope, name string, recordingTime int64) error {
	ent, err := s.entity(scope, name)
	if err != nil {
		return err
	}
	return ent.DeleteStreamCutsBefore(ctx, recordingTime)
}

// ClaimProcessor records processor as the entity's waiting request processor
func (s *MetadataService) ClaimProcessor(ctx context.Context, scope, name, processor string) (string, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return "", err
	}
	if err := ent.ClaimWaitingProcessor(ctx, processor); err != nil {
		return "", err
	}
	return ent.CurrentWaitingProcessor(ctx)
}

// CurrentProcessor returns the waiting request processor, or "" if none
func (s *MetadataService) CurrentProcessor(ctx context.Context, scope, name string) (string, error) {
	ent, err := s.entity(scope, name)
	if err != nil {
		return "", err
	}
	return ent.CurrentWaitingProcessor(ctx)
}

// ReleaseProcessor clears the marker if processor holds it
func (s *MetadataService) ReleaseProcessor(ctx context.Context, scope, name, processor string) error {
	ent, err := s.entity(scope, name)
	if err != nil {
		return err
	}
	return ent.ReleaseWaitingProcessorIfHeld(ctx, processor)
}
