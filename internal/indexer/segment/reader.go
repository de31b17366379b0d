package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/fs"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

// ReaderOptions bounds the format versions a Reader accepts. Zero values
// mean VersionStart and VersionCurrent.
type ReaderOptions struct {
	FS         fs.FileSystem
	MinVersion uint32
	MaxVersion uint32
}

type file struct {
	f      fs.File
	path   string
	size   int64
	header int64
}

// limit is the end of the data region, before the footer.
func (f *file) limit() int64 { return f.size - FooterSize }

// Reader gives read access to the companion files of one segment. Queries
// only use ReadAt and may run concurrently; Clone opens an independent set
// of handles for callers that want to close them separately.
type Reader struct {
	opts   ReaderOptions
	dir    string
	name   string
	header Header
	files  [numKinds]*file
	fields []fieldEntry
	tags   [][]TagInfo
	byName map[string]int
	logger *slog.Logger
}

// Open opens and validates every companion file of segment name in dir.
// The parent tree file is optional. On error every opened file is closed.
func Open(dir, name, suffix string, opts ReaderOptions) (*Reader, error) {
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.MinVersion == 0 {
		opts.MinVersion = VersionStart
	}
	if opts.MaxVersion == 0 {
		opts.MaxVersion = VersionCurrent
	}
	r := &Reader{
		opts:   opts,
		dir:    dir,
		name:   name,
		logger: slog.Default().With("component", "segment-reader", "segment", name),
	}
	r.header.Suffix = suffix
	if err := r.openFiles(); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.loadFields(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) openFiles() error {
	for _, k := range []Kind{KindFields, KindObjects, KindTerms, KindTags, KindDocs, KindIDIndex, KindPositions, KindParents, KindDocTrees} {
		path := filepath.Join(r.dir, FileName(r.name, r.header.Suffix, k))
		f, err := fs.Open(r.opts.FS, path)
		if err != nil {
			if kinds[k].optional && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("opening %s: %w", path, err)
		}
		fi := &file{f: f, path: path}
		r.files[k] = fi
		st, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		fi.size = st.Size()

		h, n, err := ReadHeader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := h.Check(k.Codec(), r.opts.MinVersion, r.opts.MaxVersion); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if k == KindFields {
			r.header.Version = h.Version
			r.header.SegmentID = h.SegmentID
			r.header.Delegate = h.Delegate
		} else if h.SegmentID != r.header.SegmentID {
			return fmt.Errorf("%s: %w", path, apperrors.Format("segment id %s does not match %s", h.SegmentID, r.header.SegmentID))
		}
		if h.Suffix != r.header.Suffix {
			return fmt.Errorf("%s: %w", path, apperrors.Format("segment suffix %q, expected %q", h.Suffix, r.header.Suffix))
		}
		if fi.size < n+FooterSize {
			return fmt.Errorf("%s: %w", path, apperrors.Format("file truncated"))
		}
		fi.header = n
		if err := checkFooterMagic(fi); err != nil {
			return err
		}
	}
	return nil
}

func checkFooterMagic(fi *file) error {
	var buf [4]byte
	if _, err := fi.f.ReadAt(buf[:], fi.limit()); err != nil {
		return fmt.Errorf("reading footer of %s: %w", fi.path, err)
	}
	if m := binary.LittleEndian.Uint32(buf[:]); m != FooterMagic {
		return fmt.Errorf("%s: %w", fi.path, apperrors.Format("bad footer magic %#x", m))
	}
	return nil
}

func (r *Reader) loadFields() error {
	dir := r.files[KindFields]
	end := dir.limit() - 4
	if end < dir.header {
		return apperrors.Format("field directory too small")
	}
	var cnt [4]byte
	if _, err := dir.f.ReadAt(cnt[:], end); err != nil {
		return fmt.Errorf("reading field count: %w", err)
	}
	count := int(binary.LittleEndian.Uint32(cnt[:]))
	r.byName = make(map[string]int, count)
	for off := dir.header; off < end; {
		body, err := readRecordAt(dir.f, off, end)
		if err != nil {
			return fmt.Errorf("field directory: %w", err)
		}
		off += int64(uvarintLen(uint64(len(body))) + len(body))
		e, err := parseFieldEntry(body)
		if err != nil {
			return err
		}
		r.byName[e.Name] = len(r.fields)
		r.fields = append(r.fields, e)
	}
	if len(r.fields) != count {
		return apperrors.Format("field directory lists %d fields, trailer says %d", len(r.fields), count)
	}

	tf := r.files[KindTags]
	r.tags = make([][]TagInfo, len(r.fields))
	for i, e := range r.fields {
		off := e.TagsStart
		tags := make([]TagInfo, 0, e.Tags)
		for id := 0; id < e.Tags; id++ {
			body, err := readRecordAt(tf.f, off, tf.limit())
			if err != nil {
				return fmt.Errorf("field %q tags: %w", e.Name, err)
			}
			off += int64(uvarintLen(uint64(len(body))) + len(body))
			t, err := parseTag(uint32(id), body)
			if err != nil {
				return fmt.Errorf("field %q: %w", e.Name, err)
			}
			tags = append(tags, t)
		}
		r.tags[i] = tags
	}
	return nil
}

func uvarintLen(v uint64) int {
	var buf [binary.MaxVarintLen64]byte
	return binary.PutUvarint(buf[:], v)
}

// ID returns the segment id shared by every file of the segment.
func (r *Reader) ID() uuid.UUID { return r.header.SegmentID }

// Version returns the format version the segment was written with.
func (r *Reader) Version() uint32 { return r.header.Version }

// Name returns the segment name.
func (r *Reader) Name() string { return r.name }

// Delegate returns the codec name of the host segment.
func (r *Reader) Delegate() string { return r.header.Delegate }

// HasParents reports whether the segment carries any parent tree.
func (r *Reader) HasParents() bool { return r.files[KindParents] != nil }

// Fields returns the field names in the order they were written.
func (r *Reader) Fields() []string {
	out := make([]string, len(r.fields))
	for i, e := range r.fields {
		out[i] = e.Name
	}
	return out
}

// Terms returns the view of field, or nil when the segment has no such
// field.
func (r *Reader) Terms(field string) *FieldView {
	i, ok := r.byName[field]
	if !ok {
		return nil
	}
	return &FieldView{r: r, entry: r.fields[i], tags: r.tags[i]}
}

// CheckIntegrity verifies the checksum footer of every file concurrently.
func (r *Reader) CheckIntegrity() error {
	var g errgroup.Group
	for _, fi := range r.files {
		if fi == nil {
			continue
		}
		g.Go(func() error { return verifyChecksum(fi) })
	}
	return g.Wait()
}

func verifyChecksum(fi *file) error {
	h := crc32.New(castagnoli)
	body := fi.size - 4
	if _, err := io.Copy(h, io.NewSectionReader(fi.f, 0, body)); err != nil {
		return fmt.Errorf("checksumming %s: %w", fi.path, err)
	}
	var buf [4]byte
	if _, err := fi.f.ReadAt(buf[:], body); err != nil {
		return fmt.Errorf("reading checksum of %s: %w", fi.path, err)
	}
	if want, got := binary.LittleEndian.Uint32(buf[:]), h.Sum32(); want != got {
		return fmt.Errorf("%s: %w", fi.path, apperrors.Format("checksum mismatch: stored %#x, computed %#x", want, got))
	}
	return nil
}

// Clone opens a fresh set of handles on the same segment.
func (r *Reader) Clone() (*Reader, error) {
	return Open(r.dir, r.name, r.header.Suffix, r.opts)
}

// Close closes every open file. It is safe to call more than once.
func (r *Reader) Close() error {
	var first error
	for k, fi := range r.files {
		if fi == nil {
			continue
		}
		if err := fi.f.Close(); err != nil {
			if first == nil {
				first = fmt.Errorf("closing %s: %w", fi.path, err)
			} else {
				r.logger.Warn("closing file", "path", fi.path, "error", err)
			}
		}
		r.files[k] = nil
	}
	return first
}

// Stat summarises the segment.
type Stat struct {
	Name     string      `json:"name"`
	ID       uuid.UUID   `json:"id"`
	Version  uint32      `json:"version"`
	Delegate string      `json:"delegate"`
	Fields   []FieldInfo `json:"fields"`
	Files    []FileStat  `json:"files"`
}

type FileStat struct {
	Path  string `json:"path"`
	Codec string `json:"codec"`
	Size  int64  `json:"size"`
}

func (r *Reader) Stat() Stat {
	s := Stat{Name: r.name, ID: r.header.SegmentID, Version: r.header.Version, Delegate: r.header.Delegate}
	for _, e := range r.fields {
		s.Fields = append(s.Fields, FieldInfo{
			Name:    e.Name,
			Docs:    e.Docs,
			Terms:   e.Terms,
			Tags:    e.Tags,
			Tokens:  e.Tokens,
			Skipped: e.Skipped,
		})
	}
	for k, fi := range r.files {
		if fi == nil {
			continue
		}
		s.Files = append(s.Files, FileStat{Path: fi.path, Codec: Kind(k).Codec(), Size: fi.size})
	}
	sort.Slice(s.Files, func(i, j int) bool { return s.Files[i].Path < s.Files[j].Path })
	return s
}
