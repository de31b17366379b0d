package indexer

import (
	"fmt"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/payload"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

// Document is a document as it arrives for indexing: plain text per field
// plus optional annotations layered on top of the words.
type Document struct {
	Fields      map[string]string `json:"fields"`
	Annotations []Annotation      `json:"annotations,omitempty"`
}

// Annotation is a token supplied by an upstream annotator. Its term usually
// carries a tag prefix such as "pos:NOUN". Annotations of a field get ids
// after the field's words, in the order given. Parent is a token id of the
// same field.
type Annotation struct {
	Field     string              `json:"field"`
	Term      string              `json:"term"`
	Position  int                 `json:"position"`
	End       *int                `json:"end,omitempty"`
	Positions []int               `json:"positions,omitempty"`
	Parent    *int                `json:"parent,omitempty"`
	Offset    *payload.OffsetPair `json:"offset,omitempty"`
	Payload   []byte              `json:"payload,omitempty"`
}

// BuildTokens turns doc into per-field tokens. Words of each field become
// single-position tokens numbered from zero with their byte offsets;
// annotations follow.
func BuildTokens(doc Document) (map[string][]index.Token, error) {
	out := make(map[string][]index.Token, len(doc.Fields))
	for field, text := range doc.Fields {
		words := tokenizer.Tokenize(text)
		tokens := make([]index.Token, 0, len(words))
		for i, w := range words {
			tokens = append(tokens, index.Token{
				Term: w.Term,
				Descriptor: payload.Descriptor{
					ID:     i,
					Shape:  payload.ShapeSingle,
					Start:  w.Position,
					Offset: &payload.OffsetPair{Start: w.StartOffset, End: w.EndOffset},
				},
			})
		}
		out[field] = tokens
	}
	for i, a := range doc.Annotations {
		if a.Field == "" || a.Term == "" {
			return nil, fmt.Errorf("%w: annotation %d needs a field and a term", apperrors.ErrInvalidInput, i)
		}
		tokens := out[a.Field]
		d := payload.Descriptor{
			ID:      len(tokens),
			Shape:   payload.ShapeSingle,
			Start:   a.Position,
			Offset:  a.Offset,
			Payload: a.Payload,
		}
		switch {
		case len(a.Positions) > 0 && a.End != nil:
			return nil, fmt.Errorf("%w: annotation %d has both a range and a position set", apperrors.ErrInvalidInput, i)
		case len(a.Positions) > 0:
			ps := slices.Clone(a.Positions)
			slices.Sort(ps)
			ps = slices.Compact(ps)
			d.Shape = payload.ShapeSet
			d.Positions = ps
			d.Start = ps[0]
		case a.End != nil:
			d.Shape = payload.ShapeRange
			d.End = *a.End
		}
		if a.Parent != nil {
			d.HasParent = true
			d.Parent = *a.Parent
		}
		out[a.Field] = append(tokens, index.Token{Term: a.Term, Descriptor: d})
	}
	return out, nil
}

// ValidateDocument reports whether doc would be accepted by IndexDocument.
func ValidateDocument(doc Document) error {
	fields, err := BuildTokens(doc)
	if err != nil {
		return err
	}
	for field, tokens := range fields {
		if err := index.CheckTokens(tokens); err != nil {
			return fmt.Errorf("field %q: %w", field, err)
		}
	}
	return nil
}
