package indexer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

// Segment is an open forward-index segment and the external ids of its
// documents, indexed by ordinal.
type Segment struct {
	Name     string
	Reader   *segment.Reader
	DocIDs   []string
	ordinals map[string]int
}

func newSegment(name string, r *segment.Reader, docIDs []string) *Segment {
	ords := make(map[string]int, len(docIDs))
	for i, id := range docIDs {
		// a later ordinal for the same id is a re-index and wins
		ords[id] = i
	}
	return &Segment{Name: name, Reader: r, DocIDs: docIDs, ordinals: ords}
}

// DocumentHandle addresses one document inside the segment that holds its
// newest version.
type DocumentHandle struct {
	DocID string
	Doc   int
	seg   *Segment
}

// Token is a stored token together with its resolved term.
type Token struct {
	segment.Token
	Term string
}

func (h *DocumentHandle) Segment() string     { return h.seg.Name }
func (h *DocumentHandle) SegmentID() uuid.UUID { return h.seg.Reader.ID() }

// Field returns the view of field in the document's segment.
func (h *DocumentHandle) Field(field string) (*segment.FieldView, error) {
	v := h.seg.Reader.Terms(field)
	if v == nil {
		return nil, fmt.Errorf("%w: %q in segment %s", apperrors.ErrFieldNotFound, field, h.seg.Name)
	}
	return v, nil
}

// Info summarises the document's tokens in field.
func (h *DocumentHandle) Info(field string) (segment.DocInfo, error) {
	v, err := h.Field(field)
	if err != nil {
		return segment.DocInfo{}, err
	}
	return v.Document(h.Doc)
}

// TokenByID returns token id of the document's field.
func (h *DocumentHandle) TokenByID(field string, id int) (*segment.Token, error) {
	v, err := h.Field(field)
	if err != nil {
		return nil, err
	}
	return v.ByID(h.Doc, id)
}

// TokensInRange returns the tokens whose positions all lie in [from, to].
func (h *DocumentHandle) TokensInRange(field string, from, to int) ([]segment.Token, error) {
	v, err := h.Field(field)
	if err != nil {
		return nil, err
	}
	return v.ByPositionRange(h.Doc, from, to)
}

// Children returns the tokens whose parent is token parent.
func (h *DocumentHandle) Children(field string, parent int) ([]segment.Token, error) {
	v, err := h.Field(field)
	if err != nil {
		return nil, err
	}
	return v.ByParent(h.Doc, parent)
}

// ResolveTerm returns the term a token of field references.
func (h *DocumentHandle) ResolveTerm(field string, ref int64) (string, error) {
	v, err := h.Field(field)
	if err != nil {
		return "", err
	}
	return v.ResolveTerm(ref)
}

// Resolve attaches terms to tokens.
func (h *DocumentHandle) Resolve(field string, tokens []segment.Token) ([]Token, error) {
	v, err := h.Field(field)
	if err != nil {
		return nil, err
	}
	out := make([]Token, len(tokens))
	for i, t := range tokens {
		term, err := v.ResolveTerm(t.TermRef)
		if err != nil {
			return nil, err
		}
		out[i] = Token{Token: t, Term: term}
	}
	return out, nil
}
