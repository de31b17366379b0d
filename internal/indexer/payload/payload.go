// Package payload encodes and decodes the compact per-occurrence token
// descriptor carried in posting payloads.
//
// Layout (integers are unsigned varints unless noted):
//
//	flags   1 byte, see Flag* constants
//	id      if FlagID
//	parent  if FlagParent
//	range   end-start                          if FlagRange
//	set     count, first-base (zigzag), deltas  if FlagSet
//	offset  start, end-start                   if FlagOffset
//	real    start, end-start                   if FlagRealOffset
//	payload length, bytes                      if FlagPayload
//
// The first position of a token is not stored: it is the position of the
// posting occurrence the payload is attached to.
package payload

import (
	"encoding/binary"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

const (
	FlagID         byte = 0x01
	FlagParent     byte = 0x02
	FlagRange      byte = 0x04
	FlagSet        byte = 0x08
	FlagOffset     byte = 0x10
	FlagRealOffset byte = 0x20
	FlagPayload    byte = 0x40
)

// Shape describes how a token's position is expressed.
type Shape uint8

const (
	ShapeSingle Shape = iota
	ShapeRange
	ShapeSet
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeRange:
		return "range"
	case ShapeSet:
		return "set"
	default:
		return fmt.Sprintf("shape(%d)", uint8(s))
	}
}

// OffsetPair is a half-open character span.
type OffsetPair struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Descriptor is one decoded token.
type Descriptor struct {
	ID        int
	Parent    int
	HasParent bool
	Shape     Shape
	// Start is the first position of the token. For a range End is the last
	// position (inclusive); for a set Positions holds every position in
	// ascending order and Positions[0] == Start.
	Start      int
	End        int
	Positions  []int
	Offset     *OffsetPair
	RealOffset *OffsetPair
	Payload    []byte
}

// Span returns the smallest interval covering every position of the token.
func (d *Descriptor) Span() (lo, hi int) {
	switch d.Shape {
	case ShapeRange:
		return d.Start, d.End
	case ShapeSet:
		return d.Positions[0], d.Positions[len(d.Positions)-1]
	default:
		return d.Start, d.Start
	}
}

// Validate checks the structural rules Encode relies on.
func (d *Descriptor) Validate() error {
	if d.ID < 0 {
		return apperrors.Format("token id %d is negative", d.ID)
	}
	if d.HasParent && d.Parent < 0 {
		return apperrors.Format("token %d has negative parent %d", d.ID, d.Parent)
	}
	switch d.Shape {
	case ShapeSingle:
		if d.Start < 0 {
			return apperrors.Format("token %d: missing position", d.ID)
		}
	case ShapeRange:
		if d.Start < 0 || d.End < d.Start {
			return apperrors.Format("token %d: invalid range [%d,%d]", d.ID, d.Start, d.End)
		}
	case ShapeSet:
		if len(d.Positions) == 0 {
			return apperrors.Format("token %d: empty position set", d.ID)
		}
		if d.Positions[0] != d.Start || d.Start < 0 {
			return apperrors.Format("token %d: set must start at %d", d.ID, d.Start)
		}
		for i := 1; i < len(d.Positions); i++ {
			if d.Positions[i] <= d.Positions[i-1] {
				return apperrors.Format("token %d: position set not strictly ascending", d.ID)
			}
		}
	default:
		return apperrors.Format("token %d: unknown shape %d", d.ID, d.Shape)
	}
	for _, o := range []*OffsetPair{d.Offset, d.RealOffset} {
		if o != nil && (o.Start < 0 || o.End < o.Start) {
			return apperrors.Format("token %d: invalid offsets [%d,%d)", d.ID, o.Start, o.End)
		}
	}
	return nil
}

// Encode returns the payload bytes for d. It is the structural inverse of
// Decode: Decode(d.Start, Encode(d)) reproduces d.
func Encode(d *Descriptor) []byte {
	return AppendEncode(make([]byte, 0, 16+len(d.Payload)), d)
}

// AppendEncode appends the payload encoding of d to dst.
func AppendEncode(dst []byte, d *Descriptor) []byte {
	flags := FlagID
	if d.HasParent {
		flags |= FlagParent
	}
	switch d.Shape {
	case ShapeRange:
		flags |= FlagRange
	case ShapeSet:
		flags |= FlagSet
	}
	if d.Offset != nil {
		flags |= FlagOffset
	}
	if d.RealOffset != nil {
		flags |= FlagRealOffset
	}
	if d.Payload != nil {
		flags |= FlagPayload
	}
	dst = append(dst, flags)
	dst = binary.AppendUvarint(dst, uint64(d.ID))
	if d.HasParent {
		dst = binary.AppendUvarint(dst, uint64(d.Parent))
	}
	switch d.Shape {
	case ShapeRange:
		dst = binary.AppendUvarint(dst, uint64(d.End-d.Start))
	case ShapeSet:
		dst = binary.AppendUvarint(dst, uint64(len(d.Positions)))
		dst = binary.AppendVarint(dst, int64(d.Positions[0]-setBase(d.Start)))
		for i := 1; i < len(d.Positions); i++ {
			dst = binary.AppendUvarint(dst, uint64(d.Positions[i]-d.Positions[i-1]))
		}
	}
	if d.Offset != nil {
		dst = appendOffset(dst, d.Offset)
	}
	if d.RealOffset != nil {
		dst = appendOffset(dst, d.RealOffset)
	}
	if d.Payload != nil {
		dst = binary.AppendUvarint(dst, uint64(len(d.Payload)))
		dst = append(dst, d.Payload...)
	}
	return dst
}

// Decode parses raw as the payload of an occurrence at position start. A
// negative start means the occurrence carries no position of its own.
//
// It returns (nil, nil) when the payload carries no token id; such
// occurrences are not tokens and are skipped by the writer.
func Decode(start int, raw []byte) (*Descriptor, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	flags := raw[0]
	if flags&FlagID == 0 {
		return nil, nil
	}
	if flags&FlagRange != 0 && flags&FlagSet != 0 {
		return nil, apperrors.Format("payload carries both range and set positions")
	}
	r := reader{buf: raw, pos: 1}
	d := &Descriptor{Start: start}
	d.ID = int(r.uvarint())
	if flags&FlagParent != 0 {
		d.HasParent = true
		d.Parent = int(r.uvarint())
	}
	switch {
	case flags&FlagRange != 0:
		d.Shape = ShapeRange
		length := r.uvarint()
		if r.err == nil && start < 0 {
			return nil, apperrors.Format("token %d: range without a start position", d.ID)
		}
		d.End = start + int(length)
	case flags&FlagSet != 0:
		d.Shape = ShapeSet
		n := r.uvarint()
		if r.err == nil && (n == 0 || n > uint64(len(raw))) {
			return nil, apperrors.Format("token %d: position set of %d elements", d.ID, n)
		}
		if r.err == nil {
			d.Positions = make([]int, 0, n)
			p := setBase(start) + int(r.varint())
			d.Positions = append(d.Positions, p)
			for i := uint64(1); i < n && r.err == nil; i++ {
				delta := r.uvarint()
				if r.err == nil && delta == 0 {
					return nil, apperrors.Format("token %d: duplicate position in set", d.ID)
				}
				p += int(delta)
				d.Positions = append(d.Positions, p)
			}
			d.Start = d.Positions[0]
		}
	default:
		d.Shape = ShapeSingle
		if start < 0 {
			return nil, apperrors.Format("token %d: missing position", d.ID)
		}
	}
	if flags&FlagOffset != 0 {
		d.Offset = r.offset()
	}
	if flags&FlagRealOffset != 0 {
		d.RealOffset = r.offset()
	}
	if flags&FlagPayload != 0 {
		n := r.uvarint()
		d.Payload = r.bytes(n)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: token %d: %v", apperrors.ErrPayloadDecode, d.ID, r.err)
	}
	if d.Shape == ShapeSet && d.Start < 0 {
		return nil, apperrors.Format("token %d: negative set position", d.ID)
	}
	return d, nil
}

// setBase is the position set element zero is measured from.
func setBase(start int) int {
	if start < 0 {
		return 0
	}
	return start
}

func appendOffset(dst []byte, o *OffsetPair) []byte {
	dst = binary.AppendUvarint(dst, uint64(o.Start))
	return binary.AppendUvarint(dst, uint64(o.End-o.Start))
}

type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		r.err = fmt.Errorf("truncated varint at byte %d", r.pos)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		r.err = fmt.Errorf("truncated varint at byte %d", r.pos)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) bytes(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)-r.pos) {
		r.err = fmt.Errorf("payload of %d bytes exceeds remaining %d", n, len(r.buf)-r.pos)
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:])
	r.pos += int(n)
	return out
}

func (r *reader) offset() *OffsetPair {
	start := r.uvarint()
	length := r.uvarint()
	if r.err != nil {
		return nil
	}
	o := &OffsetPair{Start: int(start), End: int(start + length)}
	if o.Start < 0 || o.End < o.Start {
		r.err = fmt.Errorf("offset %d+%d overflows", start, length)
		return nil
	}
	return o
}
