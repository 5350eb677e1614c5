package model

import (
	"fmt"
	"time"
)

// ScaleType is the scaling policy type
type ScaleType int

const (
	// ScaleTypeFixed keeps a fixed number of segments
	ScaleTypeFixed ScaleType = iota
	// ScaleTypeByEventRate scales on events per second
	ScaleTypeByEventRate
	// ScaleTypeByDataRate scales on kilobytes per second
	ScaleTypeByDataRate
)

// RetentionType is the retention policy type
type RetentionType int

const (
	// RetentionTypeTime retains by age, Param in milliseconds
	RetentionTypeTime RetentionType = iota
	// RetentionTypeSize retains by size, Param in bytes
	RetentionTypeSize
)

// ScalingPolicy describes how many segments an entity has and when it scales
type ScalingPolicy struct {
	Type           ScaleType
	TargetRate     int32
	ScaleFactor    int32
	MinNumSegments int32
}

// RetentionPolicy describes how much data an entity retains
type RetentionPolicy struct {
	Type  RetentionType
	Param int64
}

// Configuration is the declared shape of an entity
type Configuration struct {
	ScalingPolicy   ScalingPolicy
	RetentionPolicy *RetentionPolicy
}

// NewFixedConfiguration creates a configuration with a fixed partition count
func NewFixedConfiguration(partitionCount int32) Configuration {
	return Configuration{
		ScalingPolicy: ScalingPolicy{Type: ScaleTypeFixed, MinNumSegments: partitionCount},
	}
}

// RetentionByTime creates a time based retention policy
func RetentionByTime(d time.Duration) *RetentionPolicy {
	return &RetentionPolicy{Type: RetentionTypeTime, Param: d.Milliseconds()}
}

// RetentionBySize creates a size based retention policy
func RetentionBySize(bytes int64) *RetentionPolicy {
	return &RetentionPolicy{Type: RetentionTypeSize, Param: bytes}
}

// PartitionCount returns the number of segments created at epoch 0
func (c Configuration) PartitionCount() int32 {
	return c.ScalingPolicy.MinNumSegments
}

// Validate validates the configuration
func (c Configuration) Validate() error {
	p := c.ScalingPolicy
	if p.MinNumSegments <= 0 {
		return fmt.Errorf("min number of segments must be positive, got %d", p.MinNumSegments)
	}
	switch p.Type {
	case ScaleTypeFixed:
	case ScaleTypeByEventRate, ScaleTypeByDataRate:
		if p.TargetRate <= 0 {
			return fmt.Errorf("target rate must be positive, got %d", p.TargetRate)
		}
		if p.ScaleFactor <= 0 {
			return fmt.Errorf("scale factor must be positive, got %d", p.ScaleFactor)
		}
	default:
		return fmt.Errorf("unknown scale type %d", p.Type)
	}
	if r := c.RetentionPolicy; r != nil {
		if r.Type != RetentionTypeTime && r.Type != RetentionTypeSize {
			return fmt.Errorf("unknown retention type %d", r.Type)
		}
		if r.Param < 0 {
			return fmt.Errorf("retention parameter must not be negative, got %d", r.Param)
		}
	}
	return nil
}
