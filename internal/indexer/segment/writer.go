package segment

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/fs"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/approx"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/attrs"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/payload"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/tree"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/tracing"
)

// Options configures a Writer.
type Options struct {
	Dir    string
	Name   string
	Suffix string
	// ID is written into every header. A random id is used when zero.
	ID uuid.UUID
	// Delegate names the codec of the host segment the files belong to.
	Delegate string
	FS       fs.FileSystem
	// Sink, when set, receives the tag classes of every field after the
	// segment is committed.
	Sink    attrs.Sink
	Metrics *metrics.Metrics
}

// FieldInfo summarises one written field.
type FieldInfo struct {
	Name    string `json:"name"`
	Docs    int    `json:"docs"`
	Terms   int    `json:"terms"`
	Tags    int    `json:"tags"`
	Tokens  int    `json:"tokens"`
	Skipped int    `json:"skipped"`
}

// Info describes a committed segment.
type Info struct {
	Name     string        `json:"name"`
	ID       uuid.UUID     `json:"id"`
	Suffix   string        `json:"suffix,omitempty"`
	Fields   []FieldInfo   `json:"fields"`
	Files    []string      `json:"files"`
	Duration time.Duration `json:"duration"`
}

// Writer builds the companion files of one segment. A Writer is used for a
// single Write.
type Writer struct {
	opts   Options
	logger *slog.Logger
}

func NewWriter(opts Options) *Writer {
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.ID == uuid.Nil {
		opts.ID = uuid.New()
	}
	return &Writer{
		opts:   opts,
		logger: slog.Default().With("component", "segment-writer", "segment", opts.Name),
	}
}

// Write builds every field of src into the segment's files. ctx carries
// tracing and is handed to the attribute sink; the build itself runs to
// completion. On any error every file the build created is deleted.
func (w *Writer) Write(ctx context.Context, src index.Source) (*Info, error) {
	start := time.Now()
	var span *tracing.Span
	if tracing.SpanFromContext(ctx) != nil {
		ctx, span = tracing.StartChildSpan(ctx, "segment.write")
	} else {
		ctx, span = tracing.StartSpan(ctx, "segment.write", w.opts.Name)
	}
	span.SetAttr("segment", w.opts.Name)

	b := &build{
		w:     w,
		final: &tracker{fsys: w.opts.FS, logger: w.logger},
		header: Header{
			Version:   VersionCurrent,
			SegmentID: w.opts.ID,
			Suffix:    w.opts.Suffix,
			Delegate:  w.opts.Delegate,
		},
	}
	info, err := b.run(ctx, src)
	if err == nil && w.opts.Sink != nil {
		if perr := w.opts.Sink.Publish(ctx, b.attrs); perr != nil {
			err = fmt.Errorf("publishing field attributes: %w", perr)
		}
	}
	span.End()
	if err != nil {
		b.final.removeAll()
		span.RecordError(err)
		w.observe("error", start, 0, 0)
		w.logger.Error("segment build failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	info.Duration = time.Since(start)

	var tokens, skipped int
	for _, f := range info.Fields {
		tokens += f.Tokens
		skipped += f.Skipped
	}
	span.SetAttr("tokens", tokens)
	w.observe("success", start, tokens, skipped)
	w.logger.Info("segment built",
		"id", info.ID,
		"fields", len(info.Fields),
		"tokens", tokens,
		"skipped", skipped,
		"duration_ms", info.Duration.Milliseconds(),
	)
	return info, nil
}

func (w *Writer) observe(status string, start time.Time, tokens, skipped int) {
	m := w.opts.Metrics
	if m == nil {
		return
	}
	m.SegmentBuildsTotal.WithLabelValues(status).Inc()
	m.SegmentBuildDuration.Observe(time.Since(start).Seconds())
	m.TokensWrittenTotal.Add(float64(tokens))
	m.TokensSkippedTotal.Add(float64(skipped))
}

type build struct {
	w      *Writer
	final  *tracker
	header Header
	out    [numKinds]*output
	fields []fieldEntry
	attrs  []attrs.FieldAttributes
	buf    []byte
}

func (b *build) path(k Kind) string {
	return filepath.Join(b.w.opts.Dir, FileName(b.w.opts.Name, b.w.opts.Suffix, k))
}

func (b *build) scratchPath(field int, what string) string {
	base := b.w.opts.Name
	if b.w.opts.Suffix != "" {
		base += "_" + b.w.opts.Suffix
	}
	return filepath.Join(b.w.opts.Dir, fmt.Sprintf("%s.f%d.%s.tmp", base, field, what))
}

func (b *build) open(k Kind) (*output, error) {
	if b.out[k] != nil {
		return b.out[k], nil
	}
	h := b.header
	h.Codec = k.Codec()
	o, err := b.final.create(b.path(k), &h)
	if err != nil {
		return nil, err
	}
	b.out[k] = o
	return o, nil
}

func (b *build) run(ctx context.Context, src index.Source) (*Info, error) {
	if err := b.w.opts.FS.MkdirAll(b.w.opts.Dir, 0o755); err != nil {
		return nil, apperrors.BuildIO("create segment directory", err)
	}
	for k := Kind(0); k < numKinds; k++ {
		if kinds[k].optional {
			continue
		}
		if _, err := b.open(k); err != nil {
			return nil, err
		}
	}

	info := &Info{Name: b.w.opts.Name, ID: b.header.SegmentID, Suffix: b.header.Suffix}
	for i, field := range src.Fields() {
		terms := src.Terms(field)
		if terms == nil {
			b.w.logger.Warn("field listed without terms, skipping", "field", field)
			continue
		}
		fctx, span := tracing.StartChildSpan(ctx, "segment.field")
		span.SetAttr("field", field)
		fi, err := b.writeField(fctx, i, field, terms)
		span.RecordError(err)
		span.End()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		info.Fields = append(info.Fields, fi)
	}

	if err := b.commit(); err != nil {
		return nil, err
	}
	for _, o := range b.final.outputs {
		info.Files = append(info.Files, o.path)
	}
	return info, nil
}

// commit writes the field directory and the footer of every file.
func (b *build) commit() error {
	dir := b.out[KindFields]
	for i := range b.fields {
		b.buf = b.fields[i].append(b.buf[:0])
		if err := dir.writeRecord(b.buf); err != nil {
			return err
		}
	}
	if _, err := dir.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(b.fields)))); err != nil {
		return err
	}
	for _, o := range b.final.outputs {
		if err := o.finish(); err != nil {
			return err
		}
	}
	return b.final.closeAll()
}

func (b *build) writeField(ctx context.Context, ord int, field string, terms index.TermIterator) (FieldInfo, error) {
	sess := newSession(field)
	scratch := &tracker{fsys: b.w.opts.FS, logger: b.w.logger}
	defer scratch.removeAll()

	objs, err := scratch.create(b.scratchPath(ord, "objects"), nil)
	if err != nil {
		return FieldInfo{}, err
	}
	frags, err := scratch.create(b.scratchPath(ord, "fragments"), nil)
	if err != nil {
		return FieldInfo{}, err
	}
	chain, err := scratch.create(b.scratchPath(ord, "chain"), nil)
	if err != nil {
		return FieldInfo{}, err
	}

	entry := fieldEntry{
		Name:       field,
		TermsStart: b.out[KindTerms].Offset(),
		TagsStart:  b.out[KindTags].Offset(),
	}

	_, span := tracing.StartChildSpan(ctx, "collect")
	docs, err := b.collect(sess, terms, objs, frags)
	span.End()
	if err != nil {
		return FieldInfo{}, err
	}

	_, span = tracing.StartChildSpan(ctx, "chain")
	heads, err := b.chain(frags, chain)
	span.End()
	if err != nil {
		return FieldInfo{}, err
	}

	_, span = tracing.StartChildSpan(ctx, "finalize")
	entry.DocRoot, entry.DocBase, err = b.finalize(sess, docs, heads, objs, frags, chain)
	span.SetAttr("docs", docs.GetCardinality())
	span.End()
	if err != nil {
		return FieldInfo{}, err
	}

	tags := b.out[KindTags]
	for _, t := range sess.tags {
		b.buf = appendTag(b.buf[:0], t)
		if err := tags.writeRecord(b.buf); err != nil {
			return FieldInfo{}, err
		}
	}

	entry.Docs = int(docs.GetCardinality())
	entry.Terms = sess.terms
	entry.Tags = len(sess.tags)
	entry.Tokens = sess.tokens
	entry.Skipped = sess.skipped
	b.fields = append(b.fields, entry)
	b.attrs = append(b.attrs, sess.attributes(b.w.opts.Name))

	if sess.skipped > 0 {
		b.w.logger.Debug("occurrences without token id skipped", "field", field, "count", sess.skipped)
	}
	return FieldInfo{
		Name:    field,
		Docs:    entry.Docs,
		Terms:   entry.Terms,
		Tags:    entry.Tags,
		Tokens:  entry.Tokens,
		Skipped: entry.Skipped,
	}, nil
}

// collect writes every term and every token of the field to the scratch
// object file, and one fragment per (term, document) naming the tokens the
// term contributed to the document.
func (b *build) collect(sess *session, terms index.TermIterator, objs, frags *output) (*roaring.Bitmap, error) {
	docs := roaring.New()
	termOut := b.out[KindTerms]
	var frag fragment
	var rec []byte
	for {
		entry, ok := terms.Next()
		if !ok {
			break
		}
		termRef := termOut.Offset()
		if err := termOut.writeRecord([]byte(entry.Term)); err != nil {
			return nil, err
		}
		sess.terms++
		tag := sess.tagID(TagOf(entry.Term))

		for _, p := range entry.Postings {
			if p.Doc < 0 || int64(p.Doc) > math.MaxUint32 {
				return nil, apperrors.Format("term %q: document %d out of range", entry.Term, p.Doc)
			}
			frag.reset(p.Doc)
			for _, occ := range p.Occurrences {
				d, err := payload.Decode(occ.Position, occ.Payload)
				if err != nil {
					// the token's id is lost with it, so its document could not
					// keep ids 0..n-1
					return nil, fmt.Errorf("term %q doc %d: %w", entry.Term, p.Doc, err)
				}
				if d == nil {
					sess.skipped++
					continue
				}
				if d.Offset == nil && occ.Offsets != nil {
					o := *occ.Offsets
					d.Offset = &o
				}
				sess.observe(tag, d.Shape)
				ref := objs.Offset()
				rec = payload.AppendRecord(rec[:0], payload.Record{TermRef: termRef, Tag: tag, Token: d})
				if _, err := objs.Write(rec); err != nil {
					return nil, err
				}
				frag.add(d.ID, ref)
			}
			if len(frag.ids) == 0 {
				continue
			}
			b.buf = frag.append(b.buf[:0])
			if _, err := frags.Write(b.buf); err != nil {
				return nil, err
			}
			docs.Add(uint32(p.Doc))
		}
	}
	return docs, nil
}

// chain links the fragments of each document into a backwards list and
// returns the last chain entry of every document.
func (b *build) chain(frags, chain *output) (map[int]uint64, error) {
	if err := frags.flush(); err != nil {
		return nil, err
	}
	cw := &chainWriter{out: chain, heads: make(map[int]uint64)}
	fr := newFragmentReader(frags, frags.Offset())
	var f fragment
	for {
		off, ok, err := fr.Next(&f)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := cw.link(f.doc, off); err != nil {
			return nil, err
		}
	}
	if err := chain.flush(); err != nil {
		return nil, err
	}
	return cw.heads, nil
}

// docState is reused across the documents of a field.
type docState struct {
	frag    fragment
	ids     []int
	refs    []int64
	byID    []int64
	offsets []int64
	pos     []tree.Entry
	parents []tree.Entry
	spans   []tagSpan
}

// finalize writes every document in ascending order and then the field's
// document tree. It returns the tree root and base.
func (b *build) finalize(sess *session, docs *roaring.Bitmap, heads map[int]uint64, objs, frags, chain *output) (int64, int64, error) {
	if err := objs.flush(); err != nil {
		return 0, 0, err
	}
	docOut := b.out[KindDocs]
	docBase := docOut.Offset()
	entries := make([]tree.Entry, 0, docs.GetCardinality())
	var st docState
	it := docs.Iterator()
	for it.HasNext() {
		doc := int(it.Next())
		recOff, err := b.finalizeDoc(sess, doc, heads[doc], &st, objs, frags, chain)
		if err != nil {
			return 0, 0, fmt.Errorf("doc %d: %w", doc, err)
		}
		entries = append(entries, tree.Point(int64(doc), recOff, 0, 0))
	}
	root, err := tree.Build(entries, true)
	if err != nil {
		return 0, 0, err
	}
	rootOff, err := tree.Persist(root, b.out[KindDocTrees], docBase)
	if err != nil {
		return 0, 0, err
	}
	return rootOff, docBase, nil
}

func (b *build) finalizeDoc(sess *session, doc int, head uint64, st *docState, objs, frags, chain *output) (int64, error) {
	st.ids, st.refs = st.ids[:0], st.refs[:0]
	for ord := head; ; {
		fragOff, prev, err := readChainEntry(chain, ord)
		if err != nil {
			return 0, apperrors.BuildIO("read chain", err)
		}
		if err := readFragmentAt(frags, fragOff, frags.Offset(), &st.frag); err != nil {
			return 0, err
		}
		if st.frag.doc != doc {
			return 0, apperrors.Format("chain entry %d belongs to doc %d", ord, st.frag.doc)
		}
		st.ids = append(st.ids, st.frag.ids...)
		st.refs = append(st.refs, st.frag.refs...)
		if prev == ord {
			break
		}
		ord = prev
	}

	n := len(st.ids)
	seen := roaring.New()
	for _, id := range st.ids {
		if int64(id) > math.MaxUint32 || !seen.CheckedAdd(uint32(id)) {
			return 0, apperrors.Format("duplicate token id %d", id)
		}
	}
	if int(seen.Maximum()) != n-1 {
		return 0, apperrors.Format("token ids are not contiguous: %d tokens, highest id %d", n, seen.Maximum())
	}
	st.byID = resize(st.byID, n)
	for i, id := range st.ids {
		st.byID[id] = st.refs[i]
	}

	objOut := b.out[KindObjects]
	st.offsets = resize(st.offsets, n)
	st.pos, st.parents, st.spans = st.pos[:0], st.parents[:0], st.spans[:0]
	minPos, maxPos := math.MaxInt, math.MinInt
	for id := 0; id < n; id++ {
		body, err := readRecordAt(objs, st.byID[id], objs.Offset())
		if err != nil {
			return 0, err
		}
		rec, err := payload.ParseRecord(body)
		if err != nil {
			return 0, err
		}
		d := rec.Token
		if d.ID != id {
			return 0, apperrors.Format("scratch record for id %d holds id %d", id, d.ID)
		}
		off := objOut.Offset()
		st.offsets[id] = off
		if err := objOut.writeRecord(body); err != nil {
			return 0, err
		}

		lo, hi := d.Span()
		minPos, maxPos = min(minPos, lo), max(maxPos, hi)
		st.pos = append(st.pos, tree.Entry{Left: int64(lo), Right: int64(hi), ObjectRef: off, Tag: rec.Tag, TermRef: rec.TermRef})
		st.spans = append(st.spans, tagSpan{tag: rec.Tag, lo: lo, hi: hi})
		if d.HasParent {
			if d.Parent >= n || d.Parent == id {
				return 0, apperrors.Format("token %d has parent %d outside the document", id, d.Parent)
			}
			st.parents = append(st.parents, tree.Point(int64(d.Parent), off, rec.Tag, rec.TermRef))
		}
	}
	sess.tokens += n
	sess.markIntersecting(st.spans)

	model := approx.Fit(st.offsets)
	idx := b.out[KindIDIndex]
	rec := docRecord{
		Doc:        doc,
		IDIndex:    idx.Offset(),
		ParentRoot: -1,
		Base:       st.offsets[0],
		Intercept:  model.Intercept,
		Slope:      model.Slope,
		WidthTag:   approx.WidthTag(model.Width),
		Tokens:     n,
		MinPos:     minPos,
		MaxPos:     maxPos,
	}
	b.buf = model.AppendResiduals(b.buf[:0])
	if _, err := idx.Write(b.buf); err != nil {
		return 0, err
	}

	root, err := tree.Build(st.pos, false)
	if err != nil {
		return 0, err
	}
	if rec.PosRoot, err = tree.Persist(root, b.out[KindPositions], rec.Base); err != nil {
		return 0, err
	}
	if len(st.parents) > 0 {
		out, err := b.open(KindParents)
		if err != nil {
			return 0, err
		}
		root, err := tree.Build(st.parents, false)
		if err != nil {
			return 0, err
		}
		if rec.ParentRoot, err = tree.Persist(root, out, rec.Base); err != nil {
			return 0, err
		}
	}

	docOut := b.out[KindDocs]
	at := docOut.Offset()
	b.buf = rec.append(b.buf[:0])
	if err := docOut.writeRecord(b.buf); err != nil {
		return 0, err
	}
	return at, nil
}

func resize(s []int64, n int) []int64 {
	if cap(s) < n {
		return make([]int64, n)
	}
	return s[:n]
}
