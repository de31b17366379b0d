// Package attrs publishes the per-field tag classes derived while building
// a segment to the host's field metadata store.
package attrs

import (
	"context"
	"sync"
)

// FieldAttributes are the tag classes of one field of one segment.
type FieldAttributes struct {
	Segment          string   `json:"segment"`
	Field            string   `json:"field"`
	SingleTags       []string `json:"single_tags"`
	MultiTags        []string `json:"multi_tags"`
	SetTags          []string `json:"set_tags"`
	IntersectingTags []string `json:"intersecting_tags"`
}

// Sink receives the attributes of every field of a committed segment.
// Forget withdraws them when the segment is discarded.
type Sink interface {
	Publish(ctx context.Context, fields []FieldAttributes) error
	Forget(ctx context.Context, segment string) error
}

// MemorySink keeps published attributes in memory.
type MemorySink struct {
	mu     sync.RWMutex
	fields map[string]map[string]FieldAttributes
}

func NewMemorySink() *MemorySink {
	return &MemorySink{fields: make(map[string]map[string]FieldAttributes)}
}

func (s *MemorySink) Publish(_ context.Context, fields []FieldAttributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		seg, ok := s.fields[f.Segment]
		if !ok {
			seg = make(map[string]FieldAttributes)
			s.fields[f.Segment] = seg
		}
		seg[f.Field] = f
	}
	return nil
}

// Get returns the attributes published for a field of a segment.
func (s *MemorySink) Get(segment, field string) (FieldAttributes, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fields[segment][field]
	return f, ok
}

// Forget drops every field of a segment, e.g. after the segment is deleted.
func (s *MemorySink) Forget(_ context.Context, segment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fields, segment)
	return nil
}
