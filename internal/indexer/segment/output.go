package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"log/slog"
	"os"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/fs"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// output is a buffered, checksummed file being written. It satisfies
// tree.Output. Scratch files use the same type and are read back through
// ReadAt after flush.
type output struct {
	path   string
	file   fs.File
	bw     *bufio.Writer
	crc    hash.Hash32
	off    int64
	closed bool
}

func (o *output) Write(p []byte) (int, error) {
	n, err := o.bw.Write(p)
	o.crc.Write(p[:n])
	o.off += int64(n)
	if err != nil {
		return n, apperrors.BuildIO("write "+o.path, err)
	}
	return n, nil
}

func (o *output) Offset() int64 { return o.off }

func (o *output) writeUvarint(v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	_, err := o.Write(buf[:binary.PutUvarint(buf[:], v)])
	return err
}

func (o *output) writeRecord(body []byte) error {
	if err := o.writeUvarint(uint64(len(body))); err != nil {
		return err
	}
	_, err := o.Write(body)
	return err
}

func (o *output) flush() error {
	if err := o.bw.Flush(); err != nil {
		return apperrors.BuildIO("flush "+o.path, err)
	}
	return nil
}

// ReadAt reads bytes already written. Callers flush first.
func (o *output) ReadAt(p []byte, off int64) (int, error) {
	return o.file.ReadAt(p, off)
}

// finish writes the footer, flushes and syncs.
func (o *output) finish() error {
	if _, err := o.Write(binary.LittleEndian.AppendUint32(nil, FooterMagic)); err != nil {
		return err
	}
	sum := o.crc.Sum32()
	if _, err := o.bw.Write(binary.LittleEndian.AppendUint32(nil, sum)); err != nil {
		return apperrors.BuildIO("write footer "+o.path, err)
	}
	o.off += 4
	if err := o.flush(); err != nil {
		return err
	}
	if err := o.file.Sync(); err != nil {
		return apperrors.BuildIO("sync "+o.path, err)
	}
	return nil
}

func (o *output) close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.file.Close(); err != nil {
		return apperrors.BuildIO("close "+o.path, err)
	}
	return nil
}

// tracker owns every file a build creates so a failed build can close and
// delete all of them.
type tracker struct {
	fsys    fs.FileSystem
	logger  *slog.Logger
	outputs []*output
}

func (t *tracker) create(path string, h *Header) (*output, error) {
	f, err := fs.Create(t.fsys, path)
	if err != nil {
		return nil, apperrors.BuildIO("create "+path, err)
	}
	o := &output{
		path: path,
		file: f,
		bw:   bufio.NewWriterSize(f, 64*1024),
		crc:  crc32.New(castagnoli),
	}
	t.outputs = append(t.outputs, o)
	if h != nil {
		if _, err := o.Write(h.Encode()); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// closeAll closes every output. The first error is returned and the rest
// are logged.
func (t *tracker) closeAll() error {
	var first error
	for _, o := range t.outputs {
		if err := o.close(); err != nil {
			if first == nil {
				first = err
				continue
			}
			t.logger.Warn("closing file", "path", o.path, "error", err)
		}
	}
	return first
}

// removeAll closes and deletes every created file.
func (t *tracker) removeAll() {
	_ = t.closeAll()
	for _, o := range t.outputs {
		if err := t.fsys.Remove(o.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.logger.Warn("removing file", "path", o.path, "error", err)
		}
	}
	t.outputs = nil
}

// readRecordAt reads the uvarint length-prefixed record starting at off.
// The record must end at or before limit.
func readRecordAt(r io.ReaderAt, off, limit int64) ([]byte, error) {
	var head [binary.MaxVarintLen64]byte
	if off < 0 || off >= limit {
		return nil, apperrors.Format("record offset %d outside [0,%d)", off, limit)
	}
	n, err := r.ReadAt(head[:min(int64(len(head)), limit-off)], off)
	if n == 0 && err != nil {
		return nil, fmt.Errorf("reading record at %d: %w", off, err)
	}
	length, k := binary.Uvarint(head[:n])
	if k <= 0 {
		return nil, apperrors.Format("bad record length at %d", off)
	}
	start := off + int64(k)
	if length > uint64(limit-start) {
		return nil, apperrors.Format("record at %d overruns its file", off)
	}
	body := make([]byte, length)
	if length == 0 {
		return body, nil
	}
	if n, err := r.ReadAt(body, start); n < len(body) {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, apperrors.Format("record at %d truncated", off)
		}
		return nil, fmt.Errorf("reading record at %d: %w", off, err)
	}
	return body, nil
}
