package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

// A fragment lists the tokens one term contributed to one document, in the
// order they were appended to the scratch object file:
//
//	doc | count | base ref | (id, ref-prev)*
type fragment struct {
	doc  int
	ids  []int
	refs []int64
}

func (f *fragment) reset(doc int) {
	f.doc = doc
	f.ids = f.ids[:0]
	f.refs = f.refs[:0]
}

func (f *fragment) add(id int, ref int64) {
	f.ids = append(f.ids, id)
	f.refs = append(f.refs, ref)
}

func (f *fragment) append(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(f.doc))
	dst = binary.AppendUvarint(dst, uint64(len(f.ids)))
	prev := f.refs[0]
	dst = binary.AppendUvarint(dst, uint64(prev))
	for i, id := range f.ids {
		dst = binary.AppendUvarint(dst, uint64(id))
		dst = binary.AppendUvarint(dst, uint64(f.refs[i]-prev))
		prev = f.refs[i]
	}
	return dst
}

// fragmentReader walks the fragment file front to back. Next reports
// whether a fragment was read; running out of fragments is not an error.
type fragmentReader struct {
	br   *bufio.Reader
	pos  int64
	size int64
}

func newFragmentReader(r io.ReaderAt, size int64) *fragmentReader {
	return &fragmentReader{br: bufio.NewReader(io.NewSectionReader(r, 0, size)), size: size}
}

func (fr *fragmentReader) uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(fr)
	if err != nil {
		return 0, apperrors.Format("fragment at %d: %v", fr.pos, err)
	}
	return v, nil
}

func (fr *fragmentReader) ReadByte() (byte, error) {
	b, err := fr.br.ReadByte()
	if err == nil {
		fr.pos++
	}
	return b, err
}

// Next reads the fragment at the current position into f and returns its
// offset.
func (fr *fragmentReader) Next(f *fragment) (int64, bool, error) {
	if fr.pos >= fr.size {
		return 0, false, nil
	}
	at := fr.pos
	doc, err := fr.uvarint()
	if err != nil {
		return 0, false, err
	}
	n, err := fr.uvarint()
	if err != nil {
		return 0, false, err
	}
	ref, err := fr.uvarint()
	if err != nil {
		return 0, false, err
	}
	f.reset(int(doc))
	for i := uint64(0); i < n; i++ {
		id, err := fr.uvarint()
		if err != nil {
			return 0, false, err
		}
		delta, err := fr.uvarint()
		if err != nil {
			return 0, false, err
		}
		ref += delta
		f.add(int(id), int64(ref))
	}
	return at, true, nil
}

// readFragmentAt decodes the single fragment starting at off.
func readFragmentAt(r io.ReaderAt, off, size int64, f *fragment) error {
	fr := &fragmentReader{br: bufio.NewReaderSize(io.NewSectionReader(r, off, size-off), 512), size: size - off}
	_, ok, err := fr.Next(f)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Format("no fragment at %d", off)
	}
	return nil
}

// Chain entries are fixed width so entry k lives at k*chainEntrySize:
//
//	fragment offset u64 | previous entry of the same doc u64
//
// The first entry of a document points to itself.
const chainEntrySize = 16

type chainWriter struct {
	out   *output
	heads map[int]uint64
	next  uint64
}

func (c *chainWriter) link(doc int, fragOff int64) error {
	prev, ok := c.heads[doc]
	if !ok {
		prev = c.next
	}
	var buf [chainEntrySize]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(fragOff))
	binary.LittleEndian.PutUint64(buf[8:], prev)
	if _, err := c.out.Write(buf[:]); err != nil {
		return err
	}
	c.heads[doc] = c.next
	c.next++
	return nil
}

func readChainEntry(r io.ReaderAt, ord uint64) (fragOff int64, prev uint64, err error) {
	var buf [chainEntrySize]byte
	if n, err := r.ReadAt(buf[:], int64(ord)*chainEntrySize); n < chainEntrySize {
		return 0, 0, fmt.Errorf("reading chain entry %d: %w", ord, err)
	}
	return int64(binary.LittleEndian.Uint64(buf[0:])), binary.LittleEndian.Uint64(buf[8:]), nil
}
