package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	metaerrors "github.com/devrev/pairdb/metastore/internal/errors"
	"github.com/devrev/pairdb/metastore/internal/metadata"
	"github.com/devrev/pairdb/metastore/internal/metrics"
	"github.com/devrev/pairdb/metastore/internal/model"
	"github.com/devrev/pairdb/metastore/internal/store"
)

// MockSegmentNotifier is a mock implementation of SegmentNotifier
type MockSegmentNotifier struct {
	mock.Mock
}

func (m *MockSegmentNotifier) NotifySegmentsCreated(ctx context.Context, entity model.EntityID, segments []model.SegmentRecord) error {
	args := m.Called(ctx, entity, segments)
	return args.Error(0)
}

var testRetry = RetryConfig{
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
	MaxRetries:      3,
}

func newTestService(t *testing.T, notifier SegmentNotifier) (*MetadataService, *metadata.Engine) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	helper := store.NewHelper(store.NewMemoryStore(), store.NewInMemoryCache(100, time.Minute, zap.NewNop()), m, zap.NewNop())
	engine, err := metadata.NewEngine(helper, 4, m, zap.NewNop())
	require.NoError(t, err)

	svc := NewMetadataService(engine, notifier, testRetry, zap.NewNop())
	clock := int64(1000)
	svc.now = func() time.Time {
		clock += 10
		return time.UnixMilli(clock)
	}
	return svc, engine
}

func segmentCount(n int) interface{} {
	return mock.MatchedBy(func(segs []model.SegmentRecord) bool { return len(segs) == n })
}

func TestCreateEntity_New(t *testing.T) {
	notifier := new(MockSegmentNotifier)
	svc, engine := newTestService(t, notifier)
	ctx := context.Background()

	notifier.On("NotifySegmentsCreated", mock.Anything, mock.Anything, segmentCount(3)).Return(nil).Once()

	status, err := svc.CreateEntity(ctx, "scope", "table", model.NewFixedConfiguration(3), 0)
	require.NoError(t, err)
	assert.Equal(t, CreateStatusSuccess, status)

	ent, err := engine.Entity("scope", "table")
	require.NoError(t, err)
	state, err := ent.GetState(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, state)

	notifier.AssertExpectations(t)
}

func TestCreateEntity_ExistsActiveSkipsNotification(t *testing.T) {
	notifier := new(MockSegmentNotifier)
	svc, _ := newTestService(t, notifier)
	ctx := context.Background()

	notifier.On("NotifySegmentsCreated", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := svc.CreateEntity(ctx, "scope", "table", model.NewFixedConfiguration(2), 0)
	require.NoError(t, err)

	status, err := svc.CreateEntity(ctx, "scope", "table", model.NewFixedConfiguration(2), 0)
	require.NoError(t, err)
	assert.Equal(t, CreateStatusEntityExists, status)

	notifier.AssertNumberOfCalls(t, "NotifySegmentsCreated", 1)
}

func TestCreateEntity_CompletesInterruptedCreation(t *testing.T) {
	notifier := new(MockSegmentNotifier)
	svc, engine := newTestService(t, notifier)
	ctx := context.Background()

	// an earlier attempt wrote the metadata and stopped before activation
	ent, err := engine.Entity("scope", "table")
	require.NoError(t, err)
	_, err = ent.Create(ctx, model.NewFixedConfiguration(2), 500, 0)
	require.NoError(t, err)

	notifier.On("NotifySegmentsCreated", mock.Anything, mock.Anything, segmentCount(2)).Return(nil).Once()

	status, err := svc.CreateEntity(ctx, "scope", "table", model.NewFixedConfiguration(2), 0)
	require.NoError(t, err)
	assert.Equal(t, CreateStatusEntityExists, status)

	state, err := ent.GetState(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, state)
	notifier.AssertExpectations(t)
}

func TestCreateEntity_RetriesTransientNotifyFailure(t *testing.T) {
	notifier := new(MockSegmentNotifier)
	svc, _ := newTestService(t, notifier)

	notifier.On("NotifySegmentsCreated", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("connection refused")).Once()
	notifier.On("NotifySegmentsCreated", mock.Anything, mock.Anything, mock.Anything).
		Return(nil).Once()

	status, err := svc.CreateEntity(context.Background(), "scope", "table", model.NewFixedConfiguration(1), 0)
	require.NoError(t, err)
	assert.Equal(t, CreateStatusSuccess, status)
	notifier.AssertNumberOfCalls(t, "NotifySegmentsCreated", 2)
}

func TestCreateEntity_PermanentNotifyFailure(t *testing.T) {
	notifier := new(MockSegmentNotifier)
	svc, engine := newTestService(t, notifier)
	ctx := context.Background()

	notifier.On("NotifySegmentsCreated", mock.Anything, mock.Anything, mock.Anything).
		Return(metaerrors.InvalidArgument("segment rejected", nil))

	status, err := svc.CreateEntity(ctx, "scope", "table", model.NewFixedConfiguration(1), 0)
	require.Error(t, err)
	assert.Equal(t, CreateStatusFailure, status)
	notifier.AssertNumberOfCalls(t, "NotifySegmentsCreated", 1)

	ent, err := engine.Entity("scope", "table")
	require.NoError(t, err)
	state, err := ent.GetState(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, model.StateCreating, state)
}

func TestCreateEntity_InvalidConfiguration(t *testing.T) {
	svc, _ := newTestService(t, new(MockSegmentNotifier))

	status, err := svc.CreateEntity(context.Background(), "scope", "table", model.NewFixedConfiguration(0), 0)
	assert.Equal(t, CreateStatusFailure, status)
	assert.True(t, metaerrors.IsCode(err, metaerrors.ErrCodeInvalidArgument))
}

func TestScale_NotifiesCreatedSegments(t *testing.T) {
	notifier := new(MockSegmentNotifier)
	svc, _ := newTestService(t, notifier)
	ctx := context.Background()

	notifier.On("NotifySegmentsCreated", mock.Anything, mock.Anything, segmentCount(2)).Return(nil)

	_, err := svc.CreateEntity(ctx, "scope", "table", model.NewFixedConfiguration(2), 0)
	require.NoError(t, err)

	segments, err := svc.GetActiveSegments(ctx, "scope", "table")
	require.NoError(t, err)
	require.Len(t, segments, 2)

	first := segments[0]
	next, err := svc.Scale(ctx, "scope", "table", []int64{first.SegmentID()},
		[]model.KeyRange{{Start: 0, End: 0.25}, {Start: 0.25, End: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.Epoch)
	assert.Len(t, next.Segments, 3)

	notifier.AssertNumberOfCalls(t, "NotifySegmentsCreated", 2)

	info, err := svc.DescribeEntity(ctx, "scope", "table")
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, info.State)
	assert.Equal(t, int32(1), info.ActiveEpoch)
	assert.Equal(t, int32(2), info.Configuration.PartitionCount())

	atCreation, err := svc.GetEpochAtTime(ctx, "scope", "table", info.CreationTime)
	require.NoError(t, err)
	assert.Equal(t, int32(0), atCreation.Epoch)

	ids, err := svc.GetAllSegmentIDs(ctx, "scope", "table")
	require.NoError(t, err)
	assert.Equal(t, []int64{
		model.ComputeSegmentID(0, 0),
		model.ComputeSegmentID(1, 0),
		model.ComputeSegmentID(2, 1),
		model.ComputeSegmentID(3, 1),
	}, ids)

	transition, err := svc.GetEpochTransition(ctx, "scope", "table")
	require.NoError(t, err)
	assert.True(t, transition.IsEmpty())
}

func TestUpdateConfiguration(t *testing.T) {
	notifier := new(MockSegmentNotifier)
	notifier.On("NotifySegmentsCreated", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc, _ := newTestService(t, notifier)
	ctx := context.Background()

	_, err := svc.CreateEntity(ctx, "scope", "table", model.NewFixedConfiguration(2), 0)
	require.NoError(t, err)

	cfg := model.NewFixedConfiguration(4)
	cfg.RetentionPolicy = model.RetentionByTime(time.Hour)
	require.NoError(t, svc.UpdateConfiguration(ctx, "scope", "table", cfg))

	info, err := svc.DescribeEntity(ctx, "scope", "table")
	require.NoError(t, err)
	assert.Equal(t, cfg, info.Configuration)

	require.NoError(t, svc.Seal(ctx, "scope", "table"))
	err = svc.UpdateConfiguration(ctx, "scope", "table", model.NewFixedConfiguration(5))
	assert.True(t, metaerrors.IsCode(err, metaerrors.ErrCodeIllegalState))
}

func TestProcessorMarker(t *testing.T) {
	notifier := new(MockSegmentNotifier)
	notifier.On("NotifySegmentsCreated", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc, _ := newTestService(t, notifier)
	ctx := context.Background()

	_, err := svc.CreateEntity(ctx, "scope", "table", model.NewFixedConfiguration(1), 0)
	require.NoError(t, err)

	holder, err := svc.ClaimProcessor(ctx, "scope", "table", "proc-a")
	require.NoError(t, err)
	assert.Equal(t, "proc-a", holder)

	holder, err = svc.ClaimProcessor(ctx, "scope", "table", "proc-b")
	require.NoError(t, err)
	assert.Equal(t, "proc-a", holder)

	require.NoError(t, svc.ReleaseProcessor(ctx, "scope", "table", "proc-b"))
	holder, err = svc.CurrentProcessor(ctx, "scope", "table")
	require.NoError(t, err)
	assert.Equal(t, "proc-a", holder)

	require.NoError(t, svc.ReleaseProcessor(ctx, "scope", "table", "proc-a"))
	holder, err = svc.CurrentProcessor(ctx, "scope", "table")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestRetentionAndDelete(t *testing.T) {
	notifier := new(MockSegmentNotifier)
	notifier.On("NotifySegmentsCreated", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc, _ := newTestService(t, notifier)
	ctx := context.Background()

	_, err := svc.CreateEntity(ctx, "scope", "table", model.NewFixedConfiguration(1), 0)
	require.NoError(t, err)

	require.NoError(t, svc.AddStreamCut(ctx, "scope", "table", model.StreamCutReference{RecordingTime: 10, RecordingSize: 100}))
	require.NoError(t, svc.AddStreamCut(ctx, "scope", "table", model.StreamCutReference{RecordingTime: 20, RecordingSize: 200}))
	require.NoError(t, svc.TruncateRetentionSet(ctx, "scope", "table", 15))

	set, err := svc.GetRetentionSet(ctx, "scope", "table")
	require.NoError(t, err)
	assert.Equal(t, []model.StreamCutReference{{RecordingTime: 20, RecordingSize: 200}}, set.StreamCuts)

	err = svc.DeleteEntity(ctx, "scope", "table")
	assert.True(t, metaerrors.IsCode(err, metaerrors.ErrCodeIllegalState))

	require.NoError(t, svc.Seal(ctx, "scope", "table"))
	require.NoError(t, svc.DeleteEntity(ctx, "scope", "table"))

	_, err = svc.DescribeEntity(ctx, "scope", "table")
	assert.True(t, metaerrors.IsNotFound(err))
}
