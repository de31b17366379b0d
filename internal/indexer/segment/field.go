package segment

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/approx"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/payload"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/tree"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

// Token is a token read back from a segment.
type Token struct {
	payload.Descriptor
	Doc     int
	TermRef int64
	TagID   uint32
	Tag     string
}

// DocInfo describes one document of a field.
type DocInfo struct {
	Doc         int    `json:"doc"`
	Tokens      int    `json:"tokens"`
	MinPosition int    `json:"min_position"`
	MaxPosition int    `json:"max_position"`
	Model       string `json:"model"`
	HasParents  bool   `json:"has_parents"`
}

// FieldView answers token queries for one field of a segment.
type FieldView struct {
	r     *Reader
	entry fieldEntry
	tags  []TagInfo
}

func (v *FieldView) Name() string    { return v.entry.Name }
func (v *FieldView) TermCount() int  { return v.entry.Terms }
func (v *FieldView) DocCount() int   { return v.entry.Docs }
func (v *FieldView) TokenCount() int { return v.entry.Tokens }
func (v *FieldView) Tags() []TagInfo { return slices.Clone(v.tags) }

// Docs returns every document of the field in ascending order.
func (v *FieldView) Docs() ([]int, error) {
	entries, err := v.docTree().All()
	if err != nil {
		return nil, err
	}
	docs := make([]int, len(entries))
	for i, e := range entries {
		docs[i] = int(e.Left)
	}
	slices.Sort(docs)
	return docs, nil
}

func (v *FieldView) docTree() *tree.Reader {
	return tree.Open(v.r.files[KindDocTrees].f, v.entry.DocRoot, v.entry.DocBase)
}

func (v *FieldView) docRecord(doc int) (docRecord, error) {
	hits, err := v.docTree().QueryPoint(int64(doc))
	if err != nil {
		return docRecord{}, err
	}
	if len(hits) == 0 {
		return docRecord{}, fmt.Errorf("%w: doc %d in field %q", apperrors.ErrDocumentNotFound, doc, v.entry.Name)
	}
	docs := v.r.files[KindDocs]
	body, err := readRecordAt(docs.f, hits[0].ObjectRef, docs.limit())
	if err != nil {
		return docRecord{}, err
	}
	rec, err := parseDocRecord(body)
	if err != nil {
		return docRecord{}, err
	}
	if rec.Doc != doc {
		return docRecord{}, apperrors.Format("doc tree maps %d to the record of doc %d", doc, rec.Doc)
	}
	return rec, nil
}

// Document returns the summary of one document.
func (v *FieldView) Document(doc int) (DocInfo, error) {
	rec, err := v.docRecord(doc)
	if err != nil {
		return DocInfo{}, err
	}
	width, err := approx.WidthFromTag(rec.WidthTag)
	if err != nil {
		return DocInfo{}, err
	}
	m := approx.Model{Intercept: rec.Intercept, Slope: rec.Slope, Width: width}
	return DocInfo{
		Doc:         doc,
		Tokens:      rec.Tokens,
		MinPosition: rec.MinPos,
		MaxPosition: rec.MaxPos,
		Model:       m.String(),
		HasParents:  rec.ParentRoot >= 0,
	}, nil
}

// ByID returns token id of doc.
func (v *FieldView) ByID(doc, id int) (*Token, error) {
	rec, err := v.docRecord(doc)
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= rec.Tokens {
		return nil, fmt.Errorf("%w: doc %d has no token %d", apperrors.ErrTokenNotFound, doc, id)
	}
	width, err := approx.WidthFromTag(rec.WidthTag)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, width)
	idx := v.r.files[KindIDIndex]
	at := rec.IDIndex + int64(id*width)
	if at+int64(width) > idx.limit() {
		return nil, apperrors.Format("residual of doc %d id %d beyond id index", doc, id)
	}
	if _, err := idx.f.ReadAt(buf, at); err != nil {
		return nil, fmt.Errorf("reading residual: %w", err)
	}
	off := approx.Decode(rec.Intercept, rec.Slope, approx.ResidualAt(buf, width, 0), id)
	return v.readToken(doc, off)
}

// ByPositionRange returns the tokens of doc whose every position lies in
// [lo, hi], ordered by id.
func (v *FieldView) ByPositionRange(doc, lo, hi int) ([]Token, error) {
	rec, err := v.docRecord(doc)
	if err != nil {
		return nil, err
	}
	if lo > hi || hi < rec.MinPos || lo > rec.MaxPos {
		return nil, nil
	}
	t := tree.Open(v.r.files[KindPositions].f, rec.PosRoot, rec.Base)
	hits, err := t.QueryRange(int64(lo), int64(hi))
	if err != nil {
		return nil, err
	}
	return v.readEntries(doc, hits)
}

// ByParent returns the tokens of doc whose parent is the token parent,
// ordered by id.
func (v *FieldView) ByParent(doc, parent int) ([]Token, error) {
	rec, err := v.docRecord(doc)
	if err != nil {
		return nil, err
	}
	if rec.ParentRoot < 0 {
		return nil, nil
	}
	pf := v.r.files[KindParents]
	if pf == nil {
		return nil, apperrors.Format("doc %d has a parent tree but the segment has no parent file", doc)
	}
	hits, err := tree.Open(pf.f, rec.ParentRoot, rec.Base).QueryPoint(int64(parent))
	if err != nil {
		return nil, err
	}
	return v.readEntries(doc, hits)
}

func (v *FieldView) readEntries(doc int, hits []tree.Entry) ([]Token, error) {
	out := make([]Token, 0, len(hits))
	for _, h := range hits {
		tok, err := v.readToken(doc, h.ObjectRef)
		if err != nil {
			return nil, err
		}
		out = append(out, *tok)
	}
	slices.SortFunc(out, func(a, b Token) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (v *FieldView) readToken(doc int, off int64) (*Token, error) {
	objs := v.r.files[KindObjects]
	body, err := readRecordAt(objs.f, off, objs.limit())
	if err != nil {
		return nil, err
	}
	rec, err := payload.ParseRecord(body)
	if err != nil {
		return nil, err
	}
	if int(rec.Tag) >= len(v.tags) {
		return nil, apperrors.Format("token %d references unknown tag %d", rec.Token.ID, rec.Tag)
	}
	return &Token{
		Descriptor: *rec.Token,
		Doc:        doc,
		TermRef:    rec.TermRef,
		TagID:      rec.Tag,
		Tag:        v.tags[rec.Tag].Name,
	}, nil
}

// ResolveTerm returns the term stored at ref.
func (v *FieldView) ResolveTerm(ref int64) (string, error) {
	terms := v.r.files[KindTerms]
	if ref < v.entry.TermsStart {
		return "", apperrors.Format("term reference %d precedes field %q", ref, v.entry.Name)
	}
	body, err := readRecordAt(terms.f, ref, terms.limit())
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Terms returns every term of the field in stored order.
func (v *FieldView) Terms() ([]string, error) {
	terms := v.r.files[KindTerms]
	out := make([]string, 0, v.entry.Terms)
	off := v.entry.TermsStart
	for i := 0; i < v.entry.Terms; i++ {
		body, err := readRecordAt(terms.f, off, terms.limit())
		if err != nil {
			return nil, err
		}
		out = append(out, string(body))
		off += int64(uvarintLen(uint64(len(body))) + len(body))
	}
	return out, nil
}
