package codec

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrCorrupted is returned when a payload fails its checksum or cannot be parsed
var ErrCorrupted = errors.New("corrupted record")

type encoder struct {
	b []byte
}

func (e *encoder) int(num protowire.Number, v int64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, uint64(v))
}

// element writes a repeated varint entry; zero values are kept
func (e *encoder) element(num protowire.Number, v int64) {
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, uint64(v))
}

func (e *encoder) fixed(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.Fixed64Type)
	e.b = protowire.AppendFixed64(e.b, v)
}

func (e *encoder) timestamp(num protowire.Number, v int64) {
	e.fixed(num, uint64(v))
}

func (e *encoder) float(num protowire.Number, v float64) {
	e.fixed(num, math.Float64bits(v))
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) message(num protowire.Number, fn func(*encoder)) {
	nested := &encoder{}
	fn(nested)
	e.bytes(num, nested.b)
}

// decoder walks the fields of one message; the first error sticks
type decoder struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

func newDecoder(b []byte) *decoder {
	return &decoder{b: b}
}

func (d *decoder) next() bool {
	if d.err != nil || len(d.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(d.b)
	if n < 0 {
		d.fail(protowire.ParseError(n))
		return false
	}
	d.num, d.typ = num, typ
	d.b = d.b[n:]
	return true
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: field %d: %v", ErrCorrupted, d.num, err)
	}
}

func (d *decoder) expect(typ protowire.Type) bool {
	if d.typ != typ {
		d.fail(fmt.Errorf("unexpected wire type %d", d.typ))
		return false
	}
	return true
}

func (d *decoder) int() int64 {
	if !d.expect(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		d.fail(protowire.ParseError(n))
		return 0
	}
	d.b = d.b[n:]
	return int64(v)
}

func (d *decoder) int32() int32 {
	return int32(d.int())
}

func (d *decoder) fixed() uint64 {
	if !d.expect(protowire.Fixed64Type) {
		return 0
	}
	v, n := protowire.ConsumeFixed64(d.b)
	if n < 0 {
		d.fail(protowire.ParseError(n))
		return 0
	}
	d.b = d.b[n:]
	return v
}

func (d *decoder) timestamp() int64 {
	return int64(d.fixed())
}

func (d *decoder) float() float64 {
	return math.Float64frombits(d.fixed())
}

func (d *decoder) bytes() []byte {
	if !d.expect(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		d.fail(protowire.ParseError(n))
		return nil
	}
	d.b = d.b[n:]
	return v
}

// message decodes a nested message with fn, propagating its error
func (d *decoder) message(fn func(*decoder)) {
	b := d.bytes()
	if d.err != nil {
		return
	}
	nested := newDecoder(b)
	fn(nested)
	if nested.err != nil && d.err == nil {
		d.err = nested.err
	}
}

func (d *decoder) skip() {
	n := protowire.ConsumeFieldValue(d.num, d.typ, d.b)
	if n < 0 {
		d.fail(protowire.ParseError(n))
		return
	}
	d.b = d.b[n:]
}

func frame(e *encoder) []byte {
	return appendChecksum(e.b)
}

func unframe(data []byte) ([]byte, error) {
	payload, ok := stripChecksum(data)
	if !ok {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}
	return payload, nil
}
