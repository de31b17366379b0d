package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/payload"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

// Token is a token to be indexed under Term.
type Token struct {
	Term       string
	Descriptor payload.Descriptor
}

// MemoryIndex accumulates postings until the engine flushes them into a
// segment. Documents get dense ordinals in insertion order.
type MemoryIndex struct {
	mu     sync.RWMutex
	fields map[string]map[string]map[int]*Posting
	docIDs []string
	size   int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		fields: make(map[string]map[string]map[int]*Posting),
	}
}

// AddDocument indexes the tokens of every field of one document and
// returns the document's ordinal. The document is rejected, and nothing is
// indexed, when a field's token ids are not exactly 0..n-1 or a parent
// names a token that does not exist.
func (m *MemoryIndex) AddDocument(docID string, fields map[string][]Token) (int, error) {
	for field, tokens := range fields {
		if err := CheckTokens(tokens); err != nil {
			return 0, fmt.Errorf("document %s field %q: %w", docID, field, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	doc := len(m.docIDs)
	m.docIDs = append(m.docIDs, docID)

	for field, tokens := range fields {
		terms, ok := m.fields[field]
		if !ok {
			terms = make(map[string]map[int]*Posting)
			m.fields[field] = terms
		}
		for i := range tokens {
			tok := &tokens[i]
			docs, ok := terms[tok.Term]
			if !ok {
				docs = make(map[int]*Posting)
				terms[tok.Term] = docs
			}
			p, ok := docs[doc]
			if !ok {
				p = &Posting{Doc: doc}
				docs[doc] = p
				m.size += int64(len(tok.Term) + 64)
			}
			raw := payload.Encode(&tok.Descriptor)
			p.Frequency++
			p.Occurrences = append(p.Occurrences, Occurrence{
				Position: tok.Descriptor.Start,
				Payload:  raw,
			})
			m.size += int64(len(raw) + 16)
		}
	}
	return doc, nil
}

// CheckTokens reports whether tokens form a valid field of one document:
// valid descriptors, ids 0..n-1 and parents naming other tokens.
func CheckTokens(tokens []Token) error {
	ids := roaring.New()
	for i := range tokens {
		d := &tokens[i].Descriptor
		if err := d.Validate(); err != nil {
			return err
		}
		if !ids.CheckedAdd(uint32(d.ID)) {
			return fmt.Errorf("%w: duplicate token id %d", apperrors.ErrInvalidInput, d.ID)
		}
	}
	n := len(tokens)
	if n > 0 && ids.Maximum() != uint32(n-1) {
		return fmt.Errorf("%w: token ids are not contiguous from 0 (max %d, count %d)", apperrors.ErrInvalidInput, ids.Maximum(), n)
	}
	for i := range tokens {
		d := &tokens[i].Descriptor
		if d.HasParent && (d.Parent >= n || d.Parent == d.ID) {
			return fmt.Errorf("%w: token %d has invalid parent %d", apperrors.ErrInvalidInput, d.ID, d.Parent)
		}
	}
	return nil
}

// Snapshot returns an immutable copy of the index contents.
func (m *MemoryIndex) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &Snapshot{
		DocIDs: append([]string(nil), m.docIDs...),
		fields: make(map[string][]TermEntry, len(m.fields)),
	}
	for field, terms := range m.fields {
		entries := make([]TermEntry, 0, len(terms))
		for term, docs := range terms {
			postings := make(PostingList, 0, len(docs))
			for _, posting := range docs {
				p := *posting
				p.Occurrences = append([]Occurrence(nil), posting.Occurrences...)
				postings = append(postings, p)
			}
			sort.Slice(postings, func(i, j int) bool {
				return postings[i].Doc < postings[j].Doc
			})
			entries = append(entries, TermEntry{Term: term, Postings: postings})
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Term < entries[j].Term
		})
		s.fields[field] = entries
	}
	return s
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docIDs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields = make(map[string]map[string]map[int]*Posting)
	m.docIDs = nil
	m.size = 0
}

// Snapshot is a frozen view of a MemoryIndex. It implements Source with
// fields and terms in lexicographic order.
type Snapshot struct {
	// DocIDs maps document ordinals to external ids.
	DocIDs []string
	fields map[string][]TermEntry
}

func (s *Snapshot) Fields() []string {
	out := make([]string, 0, len(s.fields))
	for f := range s.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (s *Snapshot) Terms(field string) TermIterator {
	entries, ok := s.fields[field]
	if !ok {
		return nil
	}
	return NewSliceIterator(entries)
}

// NewSource builds a Source directly from per-field term entries.
func NewSource(fields map[string][]TermEntry) *Snapshot {
	return &Snapshot{fields: fields}
}
