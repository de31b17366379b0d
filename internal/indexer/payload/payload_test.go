package payload

import (
	"errors"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		d    Descriptor
	}{
		{"single", Descriptor{ID: 0, Shape: ShapeSingle, Start: 7}},
		{"single with parent", Descriptor{ID: 3, Parent: 1, HasParent: true, Start: 0}},
		{"range", Descriptor{ID: 12, Shape: ShapeRange, Start: 4, End: 9}},
		{"degenerate range", Descriptor{ID: 1, Shape: ShapeRange, Start: 4, End: 4}},
		{"set", Descriptor{ID: 2, Shape: ShapeSet, Start: 3, Positions: []int{3, 5, 40}}},
		{
			"everything",
			Descriptor{
				ID: 300, Parent: 299, HasParent: true, Shape: ShapeRange, Start: 1000, End: 1003,
				Offset:     &OffsetPair{Start: 10, End: 25},
				RealOffset: &OffsetPair{Start: 110, End: 125},
				Payload:    []byte{0xde, 0xad, 0xbe, 0xef},
			},
		},
		{"empty payload", Descriptor{ID: 5, Start: 2, Payload: []byte{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, tc.d.Validate())
			raw := Encode(&tc.d)
			got, err := Decode(tc.d.Start, raw)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tc.d, *got)
		})
	}
}

func TestDecodeWithoutIDIsSkipped(t *testing.T) {
	d, err := Decode(3, []byte{FlagParent, 0x01})
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = Decode(3, nil)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestDecodeMissingPositionIsFormatError(t *testing.T) {
	raw := Encode(&Descriptor{ID: 1, Start: 0})
	_, err := Decode(-1, raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrFormat))

	rangeRaw := Encode(&Descriptor{ID: 1, Shape: ShapeRange, Start: 0, End: 2})
	_, err = Decode(-1, rangeRaw)
	assert.True(t, errors.Is(err, apperrors.ErrFormat))
}

func TestDecodeSetWithoutPostingPosition(t *testing.T) {
	raw := Encode(&Descriptor{ID: 4, Shape: ShapeSet, Start: 6, Positions: []int{6, 8}})
	// Without an occurrence position the set is measured from zero.
	d, err := Decode(-1, raw)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, d.Positions)
}

func TestDecodeRejectsRangeAndSet(t *testing.T) {
	_, err := Decode(0, []byte{FlagID | FlagRange | FlagSet, 0, 1})
	assert.True(t, errors.Is(err, apperrors.ErrFormat))
}

func TestDecodeTruncated(t *testing.T) {
	raw := Encode(&Descriptor{ID: 9, Start: 1, Payload: []byte("abcdef")})
	_, err := Decode(1, raw[:len(raw)-2])
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPayloadDecode))

	_, err = Decode(1, []byte{FlagID | FlagParent, 0x80})
	assert.True(t, errors.Is(err, apperrors.ErrPayloadDecode))
}

func TestDecodeRejectsWrappedOffsets(t *testing.T) {
	maxUvarint := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}
	cases := map[string][]byte{
		// 5 + (2^64-1) wraps to End 4
		"end before start": append([]byte{FlagID | FlagOffset, 0x00, 0x05}, maxUvarint...),
		"negative start":   append(append([]byte{FlagID | FlagRealOffset, 0x00}, maxUvarint...), 0x00),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			d, err := Decode(1, raw)
			require.Error(t, err)
			assert.Nil(t, d)
			assert.True(t, errors.Is(err, apperrors.ErrPayloadDecode))
		})
	}
}

func TestValidate(t *testing.T) {
	bad := []Descriptor{
		{ID: -1},
		{ID: 0, Start: -1},
		{ID: 0, Shape: ShapeRange, Start: 5, End: 4},
		{ID: 0, Shape: ShapeSet, Start: 1},
		{ID: 0, Shape: ShapeSet, Start: 1, Positions: []int{1, 1}},
		{ID: 0, Shape: ShapeSet, Start: 0, Positions: []int{1, 2}},
		{ID: 0, Start: 1, Offset: &OffsetPair{Start: 5, End: 2}},
		{ID: 0, Parent: -3, HasParent: true},
	}
	for _, d := range bad {
		assert.Error(t, d.Validate(), "%+v", d)
	}
}

func TestSpan(t *testing.T) {
	lo, hi := (&Descriptor{Start: 4}).Span()
	assert.Equal(t, [2]int{4, 4}, [2]int{lo, hi})
	lo, hi = (&Descriptor{Shape: ShapeRange, Start: 0, End: 2}).Span()
	assert.Equal(t, [2]int{0, 2}, [2]int{lo, hi})
	lo, hi = (&Descriptor{Shape: ShapeSet, Start: 3, Positions: []int{3, 5}}).Span()
	assert.Equal(t, [2]int{3, 5}, [2]int{lo, hi})
}

func TestRecordRoundTrip(t *testing.T) {
	d := &Descriptor{ID: 2, Parent: 0, HasParent: true, Shape: ShapeSet, Start: 3, Positions: []int{3, 5}}
	buf := AppendRecord(nil, Record{TermRef: 1234, Tag: 7, Token: d})

	n := int(buf[0])
	require.Equal(t, len(buf)-1, n)
	rec, err := ParseRecord(buf[1:])
	require.NoError(t, err)
	assert.Equal(t, int64(1234), rec.TermRef)
	assert.Equal(t, uint32(7), rec.Tag)
	assert.Equal(t, d, rec.Token)
}
