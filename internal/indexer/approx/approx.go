// Package approx stores a sequence of file offsets indexed by token id as a
// linear model plus one fixed-width residual per id.
//
// The model is fitted by least squares so residuals stay small for the
// common case of offsets growing roughly linearly with id. Reconstruction
// is exact for any input: offset(i) = Intercept + Slope*i + residual(i).
package approx

import (
	"encoding/binary"
	"fmt"
	"math"

	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

// Widths lists the supported residual widths in bytes.
var Widths = [...]int{1, 2, 4, 8}

// Model is a fitted approximation of one document's reference sequence.
type Model struct {
	Intercept int64
	Slope     int64
	Width     int
	residuals []int64
}

// Fit computes the model for offsets, where offsets[i] belongs to id i.
func Fit(offsets []int64) Model {
	return FitWidth(offsets, 1)
}

// FitWidth is Fit with a lower bound on the residual width. minWidth must
// be one of Widths.
func FitWidth(offsets []int64, minWidth int) Model {
	m := Model{}
	n := len(offsets)
	switch n {
	case 0:
	case 1:
		m.Intercept = offsets[0]
	default:
		meanX := float64(n-1) / 2
		var meanY float64
		for _, y := range offsets {
			meanY += float64(y)
		}
		meanY /= float64(n)
		var sxy, sxx float64
		for i, y := range offsets {
			dx := float64(i) - meanX
			sxy += dx * (float64(y) - meanY)
			sxx += dx * dx
		}
		m.Slope = int64(math.Round(sxy / sxx))
		m.Intercept = int64(math.Round(meanY - float64(m.Slope)*meanX))
	}

	m.residuals = make([]int64, n)
	var lo, hi int64
	for i, y := range offsets {
		r := y - m.Predict(i)
		m.residuals[i] = r
		lo = min(lo, r)
		hi = max(hi, r)
	}
	m.Width = minWidth
	for !fits(lo, m.Width) || !fits(hi, m.Width) {
		m.Width *= 2
	}
	return m
}

// Predict returns the model's estimate for id i.
func (m Model) Predict(i int) int64 {
	return m.Intercept + m.Slope*int64(i)
}

// Residuals returns the residual of every id.
func (m Model) Residuals() []int64 {
	return m.residuals
}

// AppendResiduals appends every residual at the model's width, little endian.
func (m Model) AppendResiduals(dst []byte) []byte {
	var tmp [8]byte
	for _, r := range m.residuals {
		binary.LittleEndian.PutUint64(tmp[:], uint64(r))
		dst = append(dst, tmp[:m.Width]...)
	}
	return dst
}

// ResidualAt sign-extends the width-byte residual at index i of buf.
func ResidualAt(buf []byte, width, i int) int64 {
	b := buf[i*width : (i+1)*width]
	switch width {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	default:
		return int64(binary.LittleEndian.Uint64(b))
	}
}

// Decode reconstructs the offset of id i.
func Decode(intercept, slope, residual int64, i int) int64 {
	return intercept + slope*int64(i) + residual
}

// WidthTag returns the persisted tag for a residual width.
func WidthTag(width int) byte {
	switch width {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	default:
		return 3
	}
}

// WidthFromTag is the inverse of WidthTag.
func WidthFromTag(tag byte) (int, error) {
	if int(tag) >= len(Widths) {
		return 0, apperrors.Format("residual width tag %d", tag)
	}
	return Widths[tag], nil
}

func fits(v int64, width int) bool {
	if width >= 8 {
		return true
	}
	bound := int64(1) << (8*width - 1)
	return v >= -bound && v < bound
}

func (m Model) String() string {
	return fmt.Sprintf("b=%d m=%d width=%d n=%d", m.Intercept, m.Slope, m.Width, len(m.residuals))
}
