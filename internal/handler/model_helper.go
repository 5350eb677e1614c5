package handler

import (
	"fmt"
	"time"

	"github.com/devrev/pairdb/metastore/internal/model"
)

// Scaling policy types accepted by the REST API
const (
	ScalingFixedNumSegments = "FIXED_NUM_SEGMENTS"
	ScalingByEventRate      = "BY_RATE_IN_EVENTS_PER_SEC"
	ScalingByDataRate       = "BY_RATE_IN_KBYTES_PER_SEC"
)

// Retention policy types accepted by the REST API
const (
	RetentionLimitedDays   = "LIMITED_DAYS"
	RetentionLimitedSizeMB = "LIMITED_SIZE_MB"
)

const bytesPerMB = 1024 * 1024

// ScalingConfig is the REST form of a scaling policy
type ScalingConfig struct {
	Type        string `json:"type"`
	TargetRate  int32  `json:"target_rate,omitempty"`
	ScaleFactor int32  `json:"scale_factor,omitempty"`
	MinSegments int32  `json:"min_segments"`
}

// TimeBasedRetention spells a retention period out in days, hours and minutes
type TimeBasedRetention struct {
	Days    int64 `json:"days"`
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
}

// RetentionConfig is the REST form of a retention policy. For LIMITED_DAYS a
// zero Value means the period is given by TimeBasedRetention.
type RetentionConfig struct {
	Type               string              `json:"type"`
	Value              int64               `json:"value"`
	TimeBasedRetention *TimeBasedRetention `json:"time_based_retention,omitempty"`
}

// DecodeConfiguration translates REST policies into a configuration
func DecodeConfiguration(scaling ScalingConfig, retention *RetentionConfig) (model.Configuration, error) {
	var cfg model.Configuration

	switch scaling.Type {
	case ScalingFixedNumSegments:
		cfg = model.NewFixedConfiguration(scaling.MinSegments)
	case ScalingByEventRate, ScalingByDataRate:
		scaleType := model.ScaleTypeByEventRate
		if scaling.Type == ScalingByDataRate {
			scaleType = model.ScaleTypeByDataRate
		}
		cfg.ScalingPolicy = model.ScalingPolicy{
			Type:           scaleType,
			TargetRate:     scaling.TargetRate,
			ScaleFactor:    scaling.ScaleFactor,
			MinNumSegments: scaling.MinSegments,
		}
	default:
		return model.Configuration{}, fmt.Errorf("unknown scaling policy type %q", scaling.Type)
	}

	if retention != nil {
		switch retention.Type {
		case RetentionLimitedSizeMB:
			cfg.RetentionPolicy = model.RetentionBySize(retention.Value * bytesPerMB)
		case RetentionLimitedDays:
			period := days(retention.Value)
			if retention.Value == 0 && retention.TimeBasedRetention != nil {
				tb := retention.TimeBasedRetention
				period = days(tb.Days) +
					time.Duration(tb.Hours)*time.Hour +
					time.Duration(tb.Minutes)*time.Minute
			}
			cfg.RetentionPolicy = model.RetentionByTime(period)
		default:
			return model.Configuration{}, fmt.Errorf("unknown retention policy type %q", retention.Type)
		}
	}
	return cfg, nil
}

// EncodeConfiguration translates a configuration into REST policies
func EncodeConfiguration(cfg model.Configuration) (ScalingConfig, *RetentionConfig) {
	p := cfg.ScalingPolicy
	scaling := ScalingConfig{MinSegments: p.MinNumSegments}
	switch p.Type {
	case model.ScaleTypeFixed:
		scaling.Type = ScalingFixedNumSegments
	case model.ScaleTypeByEventRate:
		scaling.Type = ScalingByEventRate
	case model.ScaleTypeByDataRate:
		scaling.Type = ScalingByDataRate
	}
	if p.Type != model.ScaleTypeFixed {
		scaling.TargetRate = p.TargetRate
		scaling.ScaleFactor = p.ScaleFactor
	}

	r := cfg.RetentionPolicy
	if r == nil {
		return scaling, nil
	}
	if r.Type == model.RetentionTypeSize {
		return scaling, &RetentionConfig{Type: RetentionLimitedSizeMB, Value: r.Param / bytesPerMB}
	}

	period := time.Duration(r.Param) * time.Millisecond
	tb := TimeBasedRetention{Days: int64(period / days(1))}
	period -= days(tb.Days)
	tb.Hours = int64(period / time.Hour)
	period -= time.Duration(tb.Hours) * time.Hour
	tb.Minutes = int64(period / time.Minute)

	retention := &RetentionConfig{Type: RetentionLimitedDays, TimeBasedRetention: &tb}
	if tb.Days != 0 && tb.Hours == 0 && tb.Minutes == 0 {
		retention.Value = tb.Days
	}
	return scaling, retention
}

func days(n int64) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// SegmentResponse is the REST form of a segment
type SegmentResponse struct {
	SegmentID     int64   `json:"segment_id"`
	SegmentNumber int32   `json:"segment_number"`
	CreationEpoch int32   `json:"creation_epoch"`
	CreationTime  int64   `json:"creation_time"`
	KeyStart      float64 `json:"key_start"`
	KeyEnd        float64 `json:"key_end"`
}

// EpochResponse is the REST form of an epoch
type EpochResponse struct {
	Epoch          int32             `json:"epoch"`
	ReferenceEpoch int32             `json:"reference_epoch"`
	CreationTime   int64             `json:"creation_time"`
	Segments       []SegmentResponse `json:"segments"`
}

// ScaleMetadataResponse is the REST form of one epoch transition
type ScaleMetadataResponse struct {
	Timestamp int64             `json:"timestamp"`
	Segments  []SegmentResponse `json:"segments"`
	Splits    int64             `json:"splits"`
	Merges    int64             `json:"merges"`
}

func encodeSegment(s model.SegmentRecord) SegmentResponse {
	return SegmentResponse{
		SegmentID:     s.SegmentID(),
		SegmentNumber: s.SegmentNumber,
		CreationEpoch: s.CreationEpoch,
		CreationTime:  s.CreationTime,
		KeyStart:      s.KeyStart,
		KeyEnd:        s.KeyEnd,
	}
}

func encodeSegments(segments []model.SegmentRecord) []SegmentResponse {
	out := make([]SegmentResponse, len(segments))
	for i, s := range segments {
		out[i] = encodeSegment(s)
	}
	return out
}

func encodeEpoch(e model.EpochRecord) EpochResponse {
	return EpochResponse{
		Epoch:          e.Epoch,
		ReferenceEpoch: e.ReferenceEpoch,
		CreationTime:   e.CreationTime,
		Segments:       encodeSegments(e.Segments),
	}
}

// EpochTransitionResponse describes the scale in progress, if any
type EpochTransitionResponse struct {
	Pending        bool              `json:"pending"`
	ActiveEpoch    int32             `json:"active_epoch,omitempty"`
	Time           int64             `json:"time,omitempty"`
	SegmentsToSeal []int64           `json:"segments_to_seal,omitempty"`
	NewSegments    []SegmentResponse `json:"new_segments,omitempty"`
}

func encodeEpochTransition(t model.EpochTransitionRecord) EpochTransitionResponse {
	if t.IsEmpty() {
		return EpochTransitionResponse{}
	}
	return EpochTransitionResponse{
		Pending:        true,
		ActiveEpoch:    t.ActiveEpoch,
		Time:           t.Time,
		SegmentsToSeal: t.SegmentsToSeal,
		NewSegments:    encodeSegments(t.NewSegments),
	}
}
