package tree

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

const nodeReadSize = 256

// Reader queries a persisted tree. It holds no cursor state and is safe
// for concurrent use when r is.
type Reader struct {
	r    io.ReaderAt
	root int64
	base int64
}

// Open returns a Reader for the tree whose root node is at root. A negative
// root denotes an empty tree.
func Open(r io.ReaderAt, root, base int64) *Reader {
	return &Reader{r: r, root: root, base: base}
}

type nodeHeader struct {
	offset int64
	left   int64
	right  int64
	max    int64
	low    int64
	high   int64
	br     *bufio.Reader
}

// QueryPoint returns every entry whose interval contains key.
func (t *Reader) QueryPoint(key int64) ([]Entry, error) {
	return t.walk(func(h *nodeHeader) (match, low, high bool) {
		if h.max < key {
			return false, false, false
		}
		return h.left <= key && key <= h.right, true, h.left <= key
	})
}

// QueryRange returns every entry whose interval lies within [lo,hi].
func (t *Reader) QueryRange(lo, hi int64) ([]Entry, error) {
	if lo > hi {
		return nil, nil
	}
	return t.walk(func(h *nodeHeader) (match, low, high bool) {
		if h.max < lo {
			return false, false, false
		}
		match = h.left >= lo && h.right <= hi
		return match, h.left >= lo, h.left <= hi
	})
}

// All returns every entry of the tree.
func (t *Reader) All() ([]Entry, error) {
	return t.walk(func(*nodeHeader) (bool, bool, bool) { return true, true, true })
}

func (t *Reader) walk(visit func(h *nodeHeader) (match, low, high bool)) ([]Entry, error) {
	if t.root < 0 {
		return nil, nil
	}
	var out []Entry
	stack := []int64{t.root}
	for len(stack) > 0 {
		off := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		h, err := t.readHeader(off)
		if err != nil {
			return nil, err
		}
		match, low, high := visit(h)
		if match {
			out, err = t.readEntries(h, out)
			if err != nil {
				return nil, err
			}
		}
		if high && h.high >= 0 {
			stack = append(stack, h.high)
		}
		if low && h.low >= 0 {
			stack = append(stack, h.low)
		}
	}
	return out, nil
}

func (t *Reader) readHeader(off int64) (*nodeHeader, error) {
	br := bufio.NewReaderSize(io.NewSectionReader(t.r, off, math.MaxInt64-off), nodeReadSize)
	h := &nodeHeader{offset: off, low: -1, high: -1, br: br}
	var err error
	if h.left, err = binary.ReadVarint(br); err != nil {
		return nil, nodeErr(off, err)
	}
	width, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, nodeErr(off, err)
	}
	h.right = h.left + int64(width)
	extra, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, nodeErr(off, err)
	}
	h.max = h.right + int64(extra)
	flags, err := br.ReadByte()
	if err != nil {
		return nil, nodeErr(off, err)
	}
	if flags&^(hasLow|hasHigh) != 0 {
		return nil, apperrors.Format("tree node at %d: unknown flags %#x", off, flags)
	}
	if flags&hasLow != 0 {
		if h.low, err = childOffset(br, off); err != nil {
			return nil, err
		}
	}
	if flags&hasHigh != 0 {
		if h.high, err = childOffset(br, off); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func childOffset(br *bufio.Reader, off int64) (int64, error) {
	delta, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, nodeErr(off, err)
	}
	if delta == 0 || int64(delta) > off {
		return 0, apperrors.Format("tree node at %d: child delta %d out of range", off, delta)
	}
	return off - int64(delta), nil
}

func (t *Reader) readEntries(h *nodeHeader, out []Entry) ([]Entry, error) {
	count, err := binary.ReadUvarint(h.br)
	if err != nil {
		return nil, nodeErr(h.offset, err)
	}
	ref := t.base
	for i := uint64(0); i < count; i++ {
		delta, err := binary.ReadUvarint(h.br)
		if err != nil {
			return nil, nodeErr(h.offset, err)
		}
		tag, err := binary.ReadUvarint(h.br)
		if err != nil {
			return nil, nodeErr(h.offset, err)
		}
		termRef, err := binary.ReadUvarint(h.br)
		if err != nil {
			return nil, nodeErr(h.offset, err)
		}
		ref += int64(delta)
		out = append(out, Entry{
			Left:      h.left,
			Right:     h.right,
			ObjectRef: ref,
			Tag:       uint32(tag),
			TermRef:   int64(termRef),
		})
	}
	return out, nil
}

func nodeErr(off int64, err error) error {
	return fmt.Errorf("%w: reading tree node at %d: %v", apperrors.ErrFormat, off, err)
}
