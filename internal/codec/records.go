// Package codec serializes metadata records using the protobuf wire format,
// each payload followed by a CRC32 trailer.
package codec

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/devrev/pairdb/metastore/internal/model"
)

func encodeSegment(e *encoder, s model.SegmentRecord) {
	e.int(1, int64(s.SegmentNumber))
	e.int(2, int64(s.CreationEpoch))
	e.timestamp(3, s.CreationTime)
	e.float(4, s.KeyStart)
	e.float(5, s.KeyEnd)
}

func decodeSegment(d *decoder) model.SegmentRecord {
	var s model.SegmentRecord
	for d.next() {
		switch d.num {
		case 1:
			s.SegmentNumber = d.int32()
		case 2:
			s.CreationEpoch = d.int32()
		case 3:
			s.CreationTime = d.timestamp()
		case 4:
			s.KeyStart = d.float()
		case 5:
			s.KeyEnd = d.float()
		default:
			d.skip()
		}
	}
	return s
}

func encodeSegments(e *encoder, num protowire.Number, segments []model.SegmentRecord) {
	for _, s := range segments {
		s := s
		e.message(num, func(n *encoder) { encodeSegment(n, s) })
	}
}

// EncodeEpochRecord serializes an epoch record
func EncodeEpochRecord(r model.EpochRecord) []byte {
	e := &encoder{}
	e.int(1, int64(r.Epoch))
	e.int(2, int64(r.ReferenceEpoch))
	encodeSegments(e, 3, r.Segments)
	e.timestamp(4, r.CreationTime)
	return frame(e)
}

// DecodeEpochRecord parses an epoch record
func DecodeEpochRecord(data []byte) (model.EpochRecord, error) {
	payload, err := unframe(data)
	if err != nil {
		return model.EpochRecord{}, err
	}
	var r model.EpochRecord
	d := newDecoder(payload)
	for d.next() {
		switch d.num {
		case 1:
			r.Epoch = d.int32()
		case 2:
			r.ReferenceEpoch = d.int32()
		case 3:
			d.message(func(n *decoder) { r.Segments = append(r.Segments, decodeSegment(n)) })
		case 4:
			r.CreationTime = d.timestamp()
		default:
			d.skip()
		}
	}
	return r, d.err
}

func encodeHistoryRecord(e *encoder, r model.HistoryTimeSeriesRecord) {
	e.int(1, int64(r.Epoch))
	e.int(2, int64(r.ReferenceEpoch))
	encodeSegments(e, 3, r.SegmentsCreated)
	for _, id := range r.SegmentsSealed {
		e.element(4, id)
	}
	e.timestamp(5, r.ScaleTime)
}

func decodeHistoryRecord(d *decoder) model.HistoryTimeSeriesRecord {
	var r model.HistoryTimeSeriesRecord
	for d.next() {
		switch d.num {
		case 1:
			r.Epoch = d.int32()
		case 2:
			r.ReferenceEpoch = d.int32()
		case 3:
			d.message(func(n *decoder) { r.SegmentsCreated = append(r.SegmentsCreated, decodeSegment(n)) })
		case 4:
			r.SegmentsSealed = append(r.SegmentsSealed, d.int())
		case 5:
			r.ScaleTime = d.timestamp()
		default:
			d.skip()
		}
	}
	return r
}

// EncodeHistoryTimeSeries serializes one history chunk
func EncodeHistoryTimeSeries(h model.HistoryTimeSeries) []byte {
	e := &encoder{}
	for _, r := range h.Records {
		r := r
		e.message(1, func(n *encoder) { encodeHistoryRecord(n, r) })
	}
	return frame(e)
}

// DecodeHistoryTimeSeries parses one history chunk
func DecodeHistoryTimeSeries(data []byte) (model.HistoryTimeSeries, error) {
	payload, err := unframe(data)
	if err != nil {
		return model.HistoryTimeSeries{}, err
	}
	var h model.HistoryTimeSeries
	d := newDecoder(payload)
	for d.next() {
		switch d.num {
		case 1:
			d.message(func(n *decoder) { h.Records = append(h.Records, decodeHistoryRecord(n)) })
		default:
			d.skip()
		}
	}
	return h, d.err
}

// EncodeConfiguration serializes an entity configuration
func EncodeConfiguration(c model.Configuration) []byte {
	e := &encoder{}
	e.message(1, func(n *encoder) {
		n.int(1, int64(c.ScalingPolicy.Type))
		n.int(2, int64(c.ScalingPolicy.TargetRate))
		n.int(3, int64(c.ScalingPolicy.ScaleFactor))
		n.int(4, int64(c.ScalingPolicy.MinNumSegments))
	})
	if rp := c.RetentionPolicy; rp != nil {
		e.message(2, func(n *encoder) {
			n.int(1, int64(rp.Type))
			n.int(2, rp.Param)
		})
	}
	return frame(e)
}

// DecodeConfiguration parses an entity configuration
func DecodeConfiguration(data []byte) (model.Configuration, error) {
	payload, err := unframe(data)
	if err != nil {
		return model.Configuration{}, err
	}
	var c model.Configuration
	d := newDecoder(payload)
	for d.next() {
		switch d.num {
		case 1:
			d.message(func(n *decoder) {
				for n.next() {
					switch n.num {
					case 1:
						c.ScalingPolicy.Type = model.ScaleType(n.int())
					case 2:
						c.ScalingPolicy.TargetRate = n.int32()
					case 3:
						c.ScalingPolicy.ScaleFactor = n.int32()
					case 4:
						c.ScalingPolicy.MinNumSegments = n.int32()
					default:
						n.skip()
					}
				}
			})
		case 2:
			rp := &model.RetentionPolicy{}
			d.message(func(n *decoder) {
				for n.next() {
					switch n.num {
					case 1:
						rp.Type = model.RetentionType(n.int())
					case 2:
						rp.Param = n.int()
					default:
						n.skip()
					}
				}
			})
			c.RetentionPolicy = rp
		default:
			d.skip()
		}
	}
	return c, d.err
}

// EncodeState serializes a lifecycle state
func EncodeState(s model.State) []byte {
	e := &encoder{}
	e.int(1, int64(s))
	return frame(e)
}

// DecodeState parses a lifecycle state
func DecodeState(data []byte) (model.State, error) {
	payload, err := unframe(data)
	if err != nil {
		return model.StateUnknown, err
	}
	var s model.State
	d := newDecoder(payload)
	for d.next() {
		if d.num == 1 {
			s = model.State(d.int())
		} else {
			d.skip()
		}
	}
	return s, d.err
}

// EncodeTimestamp serializes a millisecond timestamp
func EncodeTimestamp(ts int64) []byte {
	e := &encoder{}
	e.timestamp(1, ts)
	return frame(e)
}

// DecodeTimestamp parses a millisecond timestamp
func DecodeTimestamp(data []byte) (int64, error) {
	payload, err := unframe(data)
	if err != nil {
		return 0, err
	}
	var ts int64
	d := newDecoder(payload)
	for d.next() {
		if d.num == 1 {
			ts = d.timestamp()
		} else {
			d.skip()
		}
	}
	return ts, d.err
}

// EncodeRetentionSet serializes the retention set
func EncodeRetentionSet(r model.RetentionSet) []byte {
	e := &encoder{}
	for _, c := range r.StreamCuts {
		c := c
		e.message(1, func(n *encoder) {
			n.timestamp(1, c.RecordingTime)
			n.int(2, c.RecordingSize)
		})
	}
	return frame(e)
}

// DecodeRetentionSet parses the retention set
func DecodeRetentionSet(data []byte) (model.RetentionSet, error) {
	payload, err := unframe(data)
	if err != nil {
		return model.RetentionSet{}, err
	}
	var r model.RetentionSet
	d := newDecoder(payload)
	for d.next() {
		if d.num != 1 {
			d.skip()
			continue
		}
		var c model.StreamCutReference
		d.message(func(n *decoder) {
			for n.next() {
				switch n.num {
				case 1:
					c.RecordingTime = n.timestamp()
				case 2:
					c.RecordingSize = n.int()
				default:
					n.skip()
				}
			}
		})
		r.StreamCuts = append(r.StreamCuts, c)
	}
	return r, d.err
}

// EncodeString serializes a single string value such as a processor name
func EncodeString(s string) []byte {
	e := &encoder{}
	e.bytes(1, []byte(s))
	return frame(e)
}

// DecodeString parses a single string value
func DecodeString(data []byte) (string, error) {
	payload, err := unframe(data)
	if err != nil {
		return "", err
	}
	var s string
	d := newDecoder(payload)
	for d.next() {
		if d.num == 1 {
			s = string(d.bytes())
		} else {
			d.skip()
		}
	}
	return s, d.err
}

// EncodeUUID serializes an entity id
func EncodeUUID(id uuid.UUID) []byte {
	e := &encoder{}
	e.bytes(1, id[:])
	return frame(e)
}

// DecodeUUID parses an entity id
func DecodeUUID(data []byte) (uuid.UUID, error) {
	payload, err := unframe(data)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	d := newDecoder(payload)
	for d.next() {
		if d.num != 1 {
			d.skip()
			continue
		}
		b := d.bytes()
		if d.err != nil {
			break
		}
		parsed, perr := uuid.FromBytes(b)
		if perr != nil {
			d.fail(perr)
			break
		}
		id = parsed
	}
	if d.err == nil && id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: missing id", ErrCorrupted)
	}
	return id, d.err
}

// EncodeEpochTransition serializes the pending scale record
func EncodeEpochTransition(t model.EpochTransitionRecord) []byte {
	e := &encoder{}
	e.int(1, int64(t.ActiveEpoch))
	e.timestamp(2, t.Time)
	for _, id := range t.SegmentsToSeal {
		e.element(3, id)
	}
	encodeSegments(e, 4, t.NewSegments)
	return frame(e)
}

// DecodeEpochTransition parses the pending scale record
func DecodeEpochTransition(data []byte) (model.EpochTransitionRecord, error) {
	payload, err := unframe(data)
	if err != nil {
		return model.EpochTransitionRecord{}, err
	}
	var t model.EpochTransitionRecord
	d := newDecoder(payload)
	for d.next() {
		switch d.num {
		case 1:
			t.ActiveEpoch = d.int32()
		case 2:
			t.Time = d.timestamp()
		case 3:
			t.SegmentsToSeal = append(t.SegmentsToSeal, d.int())
		case 4:
			d.message(func(n *decoder) { t.NewSegments = append(t.NewSegments, decodeSegment(n)) })
		default:
			d.skip()
		}
	}
	return t, d.err
}
