package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/fs"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/attrs"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/tracing"
)

const segmentPrefix = "seg_"

// Publisher announces committed segments. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// SegmentBuilt is published after a segment is committed and opened.
type SegmentBuilt struct {
	Segment   string              `json:"segment"`
	SegmentID uuid.UUID           `json:"segment_id"`
	ShardID   int                 `json:"shard_id"`
	Suffix    string              `json:"suffix,omitempty"`
	Docs      int                 `json:"docs"`
	Fields    []segment.FieldInfo `json:"fields"`
	BuiltAt   time.Time           `json:"built_at"`
}

// Options carries the optional collaborators of an Engine.
type Options struct {
	ShardID   int
	FS        fs.FileSystem
	Sink      attrs.Sink
	Metrics   *metrics.Metrics
	Publisher Publisher
}

// Engine accumulates documents in memory and flushes them into
// forward-index segments, which it keeps open for lookups.
type Engine struct {
	memIndex *index.MemoryIndex
	cfg      config.IndexerConfig
	fwd      config.ForwardIndexConfig
	opts     Options
	shard    string

	segments []*Segment
	loaded   map[string]bool
	readerMu sync.RWMutex
	// flushMu serialises flushes and keeps documents from landing between
	// a snapshot and the reset that follows it.
	flushMu   sync.Mutex
	lastStamp int64

	logger *slog.Logger
}

func NewEngine(cfg config.IndexerConfig, fwd config.ForwardIndexConfig, opts Options) (*Engine, error) {
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if err := opts.FS.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	e := &Engine{
		memIndex: index.NewMemoryIndex(),
		cfg:      cfg,
		fwd:      fwd,
		opts:     opts,
		shard:    strconv.Itoa(opts.ShardID),
		loaded:   make(map[string]bool),
		logger:   slog.Default().With("component", "indexer", "shard_id", opts.ShardID),
	}
	n, err := e.loadSegments()
	if err != nil {
		e.closeSegments()
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	e.logger.Info("segment recovery complete", "segments_loaded", n)
	return e, nil
}

// IndexDocument tokenizes doc and adds it to the memory index. The memory
// index is flushed when it grows past the configured size.
func (e *Engine) IndexDocument(ctx context.Context, docID string, doc Document) error {
	fields, err := BuildTokens(doc)
	if err != nil {
		return fmt.Errorf("document %s: %w", docID, err)
	}
	e.flushMu.Lock()
	ord, err := e.memIndex.AddDocument(docID, fields)
	size := e.memIndex.Size()
	e.flushMu.Unlock()
	if err != nil {
		return err
	}
	if m := e.opts.Metrics; m != nil {
		m.DocsIndexedTotal.Inc()
	}
	e.logger.Debug("document indexed in memory",
		"doc_id", docID,
		"ordinal", ord,
		"fields", len(fields),
		"mem_size", size,
	)
	if e.cfg.SegmentMaxSize > 0 && size >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", size,
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.Flush(ctx); err != nil {
			return fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return nil
}

// Flush writes the memory index into a new segment, opens it and announces
// it. The memory index is kept when the build fails.
func (e *Engine) Flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	snap := e.memIndex.Snapshot()
	if len(snap.DocIDs) == 0 {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "engine.flush", uuid.NewString())
	defer func() {
		span.End()
		span.Log()
	}()
	span.SetAttr("shard_id", e.opts.ShardID)
	span.SetAttr("docs", len(snap.DocIDs))

	seg, info, err := e.buildSegment(ctx, snap)
	if err != nil {
		e.countFlush("error")
		span.RecordError(err)
		return err
	}
	e.memIndex.Reset()

	e.readerMu.Lock()
	e.segments = append(e.segments, seg)
	e.loaded[seg.Name] = true
	active := len(e.segments)
	e.readerMu.Unlock()
	e.countFlush("success")
	e.observeSegments()

	if e.opts.Publisher != nil {
		event := kafka.Event{
			Key: e.shard,
			Value: SegmentBuilt{
				Segment:   seg.Name,
				SegmentID: info.ID,
				ShardID:   e.opts.ShardID,
				Suffix:    e.fwd.Suffix,
				Docs:      len(snap.DocIDs),
				Fields:    info.Fields,
				BuiltAt:   time.Now().UTC(),
			},
		}
		if err := e.opts.Publisher.Publish(ctx, event); err != nil {
			e.logger.Error("failed to announce segment", "segment", seg.Name, "error", err)
		}
	}
	e.logger.Info("segment flushed",
		"segment", seg.Name,
		"docs", len(snap.DocIDs),
		"fields", len(info.Fields),
		"active_segments", active,
	)
	return nil
}

func (e *Engine) buildSegment(ctx context.Context, snap *index.Snapshot) (*Segment, *segment.Info, error) {
	stamp := time.Now().UnixNano()
	if stamp <= e.lastStamp {
		stamp = e.lastStamp + 1
	}
	e.lastStamp = stamp
	name := fmt.Sprintf("%s%d", segmentPrefix, stamp)
	w := segment.NewWriter(segment.Options{
		Dir:      e.cfg.DataDir,
		Name:     name,
		Suffix:   e.fwd.Suffix,
		Delegate: e.fwd.Delegate,
		FS:       e.opts.FS,
		Sink:     e.opts.Sink,
		Metrics:  e.opts.Metrics,
	})
	info, err := w.Write(ctx, snap)
	if err != nil {
		return nil, nil, fmt.Errorf("writing segment: %w", err)
	}
	if err := writeDocMap(e.opts.FS, e.cfg.DataDir, name, docMap{SegmentID: info.ID, Docs: snap.DocIDs}); err != nil {
		e.discard(name)
		return nil, nil, err
	}
	seg, err := e.openSegment(name)
	if err != nil {
		e.discard(name)
		return nil, nil, fmt.Errorf("opening new segment for reading: %w", err)
	}
	return seg, info, nil
}

func (e *Engine) discard(name string) {
	if err := segment.Remove(e.opts.FS, e.cfg.DataDir, name, e.fwd.Suffix); err != nil {
		e.logger.Error("removing failed segment", "segment", name, "error", err)
	}
	if err := removeDocMap(e.opts.FS, e.cfg.DataDir, name); err != nil {
		e.logger.Error("removing document map", "segment", name, "error", err)
	}
	if e.opts.Sink != nil {
		if err := e.opts.Sink.Forget(context.Background(), name); err != nil {
			e.logger.Error("withdrawing field attributes", "segment", name, "error", err)
		}
	}
}

func (e *Engine) countFlush(status string) {
	if m := e.opts.Metrics; m != nil {
		m.IndexFlushesTotal.WithLabelValues(status).Inc()
	}
}

func (e *Engine) openSegment(name string) (*Segment, error) {
	r, err := segment.Open(e.cfg.DataDir, name, e.fwd.Suffix, segment.ReaderOptions{
		FS:         e.opts.FS,
		MinVersion: e.fwd.MinVersion,
		MaxVersion: e.fwd.MaxVersion,
	})
	if err != nil {
		return nil, err
	}
	if e.fwd.VerifyOnOpen {
		if err := r.CheckIntegrity(); err != nil {
			r.Close()
			return nil, err
		}
	}
	dm, err := readDocMap(e.opts.FS, e.cfg.DataDir, name)
	if err != nil {
		r.Close()
		return nil, err
	}
	if dm.SegmentID != r.ID() {
		r.Close()
		return nil, apperrors.Format("document map of %s belongs to segment %s, not %s", name, dm.SegmentID, r.ID())
	}
	return newSegment(name, r, dm.Docs), nil
}

// ReloadSegments opens segments other processes have flushed into the data
// directory since the last scan and returns how many were added.
func (e *Engine) ReloadSegments() int {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	n, err := e.loadSegments()
	if err != nil {
		e.logger.Error("segment reload failed", "error", err)
	}
	return n
}

func (e *Engine) loadSegments() (int, error) {
	names, err := segment.List(e.opts.FS, e.cfg.DataDir, e.fwd.Suffix)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, name := range names {
		stamp, ok := strings.CutPrefix(name, segmentPrefix)
		if !ok {
			continue
		}
		if _, err := strconv.ParseInt(stamp, 10, 64); err != nil {
			continue
		}
		e.readerMu.RLock()
		done := e.loaded[name]
		e.readerMu.RUnlock()
		if done {
			continue
		}
		seg, err := e.openSegment(name)
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		e.readerMu.Lock()
		e.segments = append(e.segments, seg)
		e.loaded[name] = true
		e.readerMu.Unlock()
		added++
		e.logger.Info("loaded existing segment",
			"segment", name,
			"docs", len(seg.DocIDs),
			"fields", len(seg.Reader.Fields()),
		)
	}
	e.observeSegments()
	return added, nil
}

func (e *Engine) observeSegments() {
	m := e.opts.Metrics
	if m == nil {
		return
	}
	m.OpenSegments.WithLabelValues(e.shard).Set(float64(e.SegmentCount()))
	m.ShardDocCount.WithLabelValues(e.shard).Set(float64(e.DocCount()))
}

// Lookup returns the newest flushed version of docID.
func (e *Engine) Lookup(docID string) (*DocumentHandle, error) {
	e.readerMu.RLock()
	defer e.readerMu.RUnlock()
	for i := len(e.segments) - 1; i >= 0; i-- {
		seg := e.segments[i]
		if ord, ok := seg.ordinals[docID]; ok {
			return &DocumentHandle{DocID: docID, Doc: ord, seg: seg}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, docID)
}

// Segments returns a snapshot of the open segments, oldest first.
func (e *Engine) Segments() []*Segment {
	e.readerMu.RLock()
	defer e.readerMu.RUnlock()
	out := make([]*Segment, len(e.segments))
	copy(out, e.segments)
	return out
}

func (e *Engine) SegmentCount() int {
	e.readerMu.RLock()
	defer e.readerMu.RUnlock()
	return len(e.segments)
}

// PendingDocs returns the number of documents not yet flushed.
func (e *Engine) PendingDocs() int {
	return e.memIndex.DocCount()
}

// DocCount returns the number of documents in open segments.
func (e *Engine) DocCount() int {
	e.readerMu.RLock()
	defer e.readerMu.RUnlock()
	n := 0
	for _, s := range e.segments {
		n += len(s.DocIDs)
	}
	return n
}

// StartFlushLoop flushes the memory index every FlushInterval until ctx is
// cancelled, then performs a final flush.
func (e *Engine) StartFlushLoop(ctx context.Context) {
	if e.cfg.FlushInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping, performing final flush")
				if err := e.Flush(context.Background()); err != nil {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if e.memIndex.DocCount() > 0 {
					if err := e.Flush(ctx); err != nil {
						e.logger.Error("periodic flush failed", "error", err)
					}
				}
			}
		}
	}()
}

// Close flushes pending documents and closes every segment.
func (e *Engine) Close() error {
	if err := e.Flush(context.Background()); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	return e.closeSegments()
}

func (e *Engine) closeSegments() error {
	e.readerMu.Lock()
	defer e.readerMu.Unlock()
	var first error
	for _, s := range e.segments {
		if err := s.Reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "segment", s.Name, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	e.segments = nil
	e.loaded = make(map[string]bool)
	return first
}

// docMap is the sidecar mapping segment ordinals to external ids.
type docMap struct {
	SegmentID uuid.UUID `json:"segment_id"`
	Docs      []string  `json:"docs"`
}

func docMapPath(dir, name string) string {
	return filepath.Join(dir, name+".docs.json")
}

func writeDocMap(fsys fs.FileSystem, dir, name string, dm docMap) error {
	data, err := json.Marshal(dm)
	if err != nil {
		return fmt.Errorf("encoding document map: %w", err)
	}
	final := docMapPath(dir, name)
	tmp := final + ".tmp"
	f, err := fs.Create(fsys, tmp)
	if err != nil {
		return apperrors.BuildIO("create "+tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return apperrors.BuildIO("write "+tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return apperrors.BuildIO("sync "+tmp, err)
	}
	if err := f.Close(); err != nil {
		fsys.Remove(tmp)
		return apperrors.BuildIO("close "+tmp, err)
	}
	if err := fsys.Rename(tmp, final); err != nil {
		fsys.Remove(tmp)
		return apperrors.BuildIO("rename "+tmp, err)
	}
	return nil
}

func readDocMap(fsys fs.FileSystem, dir, name string) (docMap, error) {
	path := docMapPath(dir, name)
	f, err := fs.Open(fsys, path)
	if err != nil {
		return docMap{}, fmt.Errorf("opening document map: %w", err)
	}
	defer f.Close()
	var dm docMap
	if err := json.NewDecoder(f).Decode(&dm); err != nil {
		return docMap{}, apperrors.Format("document map %s: %v", path, err)
	}
	return dm, nil
}

func removeDocMap(fsys fs.FileSystem, dir, name string) error {
	err := fsys.Remove(docMapPath(dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
