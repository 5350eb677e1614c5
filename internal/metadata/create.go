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

// Create writes the base records of the entity unless another attempt owns them.
// It is safe to call repeatedly with the same creation time: records that
// already exist are left untouched and the call reports NEW again until the
// entity leaves CREATING.
func (e *Entity) Create(ctx context.Context, cfg model.Configuration, creationTime int64, startingSegmentNumber int32) (model.CreateResponse, error) {
	if err := cfg.Validate(); err != nil {
		return model.CreateResponse{}, metaerrors.InvalidArgument("invalid configuration", err)
	}
	if startingSegmentNumber < 0 {
		return model.CreateResponse{}, metaerrors.InvalidArgument(
			fmt.Sprintf("starting segment number must not be negative, got %d", startingSegmentNumber), nil)
	}

	table, err := e.createMetadataTable(ctx)
	if err != nil {
		return model.CreateResponse{}, err
	}

	if _, err := e.helper.AddNewEntryIfAbsent(ctx, table, creationTimeKey, codec.EncodeTimestamp(creationTime)); err != nil {
		return model.CreateResponse{}, fmt.Errorf("failed to store creation time: %w", err)
	}

	resp, err := e.checkExists(ctx, table, cfg, creationTime, startingSegmentNumber)
	if err != nil {
		return model.CreateResponse{}, err
	}
	e.metrics.RecordEntityCreation(resp.Status.String())

	if resp.Status != model.CreateStatusNew {
		e.logger.Info("Entity already exists", zap.String("status", resp.Status.String()))
		return resp, nil
	}

	if err := e.createBaseRecords(ctx, table, resp); err != nil {
		return model.CreateResponse{}, err
	}

	e.logger.Info("Entity metadata created",
		zap.String("table", table),
		zap.Int32("partitions", resp.Configuration.PartitionCount()),
		zap.Int64("creation_time", resp.Timestamp))
	return resp, nil
}

// createMetadataTable binds the name to an id in the scope index and creates the table
func (e *Entity) createMetadataTable(ctx context.Context) (string, error) {
	scopeTable := e.scopeTable()
	if err := e.helper.CreateTable(ctx, scopeTable); err != nil {
		return "", err
	}
	if _, err := e.helper.AddNewEntryIfAbsent(ctx, scopeTable, e.name, codec.EncodeUUID(uuid.New())); err != nil {
		return "", fmt.Errorf("failed to assign id: %w", err)
	}

	// the winner of the index entry decides the id
	v, err := store.GetEntry(ctx, e.helper, scopeTable, e.name, codec.DecodeUUID)
	if err != nil {
		return "", fmt.Errorf("failed to read id: %w", err)
	}
	e.mu.Lock()
	e.id = v.Object
	e.mu.Unlock()

	table := metadataTableName(e.scope, e.name, v.Object)
	if err := e.helper.CreateTable(ctx, table); err != nil {
		return "", err
	}
	return table, nil
}

// checkExists decides NEW / EXISTS_CREATING / EXISTS_ACTIVE from what is already stored
func (e *Entity) checkExists(ctx context.Context, table string, cfg model.Configuration, creationTime int64, startingSegmentNumber int32) (model.CreateResponse, error) {
	resp := model.CreateResponse{
		Status:                model.CreateStatusNew,
		Configuration:         cfg,
		Timestamp:             creationTime,
		StartingSegmentNumber: startingSegmentNumber,
	}

	storedTime, err := store.GetEntry(ctx, e.helper, table, creationTimeKey, codec.DecodeTimestamp)
	if err != nil {
		if metaerrors.IsNotFound(err) {
			return resp, nil
		}
		return model.CreateResponse{}, err
	}
	resp.Timestamp = storedTime.Object

	storedCfg, err := store.GetEntry(ctx, e.helper, table, configurationKey, codec.DecodeConfiguration)
	if err != nil {
		if metaerrors.IsNotFound(err) {
			return resp, nil
		}
		return model.CreateResponse{}, err
	}
	resp.Configuration = storedCfg.Object

	state, err := store.GetEntry(ctx, e.helper, table, stateKey, codec.DecodeState)
	if err != nil && !metaerrors.IsNotFound(err) {
		return model.CreateResponse{}, err
	}
	if err != nil || state.Object == model.StateUnknown || state.Object == model.StateCreating {
		if storedTime.Object == creationTime {
			return resp, nil
		}
		resp.Status = model.CreateStatusExistsCreating
		return resp, nil
	}

	resp.Status = model.CreateStatusExistsActive
	return resp, nil
}

func (e *Entity) createBaseRecords(ctx context.Context, table string, resp model.CreateResponse) error {
	epoch0 := initialEpoch(resp)
	record := model.HistoryTimeSeriesRecord{
		Epoch:           0,
		ReferenceEpoch:  0,
		SegmentsCreated: epoch0.Segments,
		ScaleTime:       resp.Timestamp,
	}

	entries := []struct {
		key   string
		value []byte
	}{
		{configurationKey, codec.EncodeConfiguration(resp.Configuration)},
		{stateKey, codec.EncodeState(model.StateCreating)},
		{epochRecordKey(0), codec.EncodeEpochRecord(epoch0)},
		{historyChunkKey(0), codec.EncodeHistoryTimeSeries(model.HistoryTimeSeries{}.AddRecord(record))},
		{retentionSetKey, codec.EncodeRetentionSet(model.RetentionSet{})},
		{currentEpochRecordKey, codec.EncodeEpochRecord(epoch0)},
		{epochTransitionKey, codec.EncodeEpochTransition(model.EmptyEpochTransition)},
	}
	for _, entry := range entries {
		if _, err := e.helper.AddNewEntryIfAbsent(ctx, table, entry.key, entry.value); err != nil {
			return fmt.Errorf("failed to create %s: %w", entry.key, err)
		}
	}
	return nil
}

// initialEpoch lays out PartitionCount segments evenly over the key space
func initialEpoch(resp model.CreateResponse) model.EpochRecord {
	ranges := model.EvenKeyRanges(int(resp.Configuration.PartitionCount()))
	segments := make([]model.SegmentRecord, len(ranges))
	for i, r := range ranges {
		segments[i] = model.SegmentRecord{
			SegmentNumber: resp.StartingSegmentNumber + int32(i),
			CreationEpoch: 0,
			CreationTime:  resp.Timestamp,
			KeyStart:      r.Start,
			KeyEnd:        r.End,
		}
	}
	return model.NewEpochRecord(0, 0, segments, resp.Timestamp)
}
