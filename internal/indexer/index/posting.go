// Package index holds the in-memory postings a forward index segment is
// built from and the iteration interfaces the segment writer consumes.
package index

import (
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/payload"
)

// Occurrence is one position of a term in a document. Payload carries the
// token descriptor; occurrences whose payload has no token id are not
// tokens. Offsets, when set, is used for tokens whose payload has none.
type Occurrence struct {
	Position int
	Payload  []byte
	Offsets  *payload.OffsetPair
}

type Posting struct {
	Doc         int
	Frequency   int
	Occurrences []Occurrence
}

type PostingList []Posting

// TermEntry is a term with its postings in ascending document order.
type TermEntry struct {
	Term     string
	Postings PostingList
}

// Source is a per-field sequence of terms with their postings.
type Source interface {
	Fields() []string
	// Terms returns the terms of field in the order they are to be
	// written, or nil if the field does not exist.
	Terms(field string) TermIterator
}

type TermIterator interface {
	// Next returns the next term, or false once the terms are exhausted.
	Next() (TermEntry, bool)
}

// SliceIterator iterates over a slice of term entries.
type SliceIterator struct {
	entries []TermEntry
	pos     int
}

func NewSliceIterator(entries []TermEntry) *SliceIterator {
	return &SliceIterator{entries: entries}
}

func (it *SliceIterator) Next() (TermEntry, bool) {
	if it.pos >= len(it.entries) {
		return TermEntry{}, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}
