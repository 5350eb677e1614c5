package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/metastore/internal/model"
)

// SegmentNotifier tells the data plane about segments it must create
type SegmentNotifier interface {
	NotifySegmentsCreated(ctx context.Context, entity model.EntityID, segments []model.SegmentRecord) error
}

// LoggingNotifier only logs new segments; it is used when no data plane is attached
type LoggingNotifier struct {
	logger *zap.Logger
}

// NewLoggingNotifier creates a logging notifier
func NewLoggingNotifier(logger *zap.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

// NotifySegmentsCreated logs the segment ids
func (n *LoggingNotifier) NotifySegmentsCreated(ctx context.Context, entity model.EntityID, segments []model.SegmentRecord) error {
	ids := make([]int64, len(segments))
	for i, s := range segments {
		ids[i] = s.SegmentID()
	}
	n.logger.Info("Segments created",
		zap.String("entity", entity.String()),
		zap.Int64s("segment_ids", ids))
	return nil
}
