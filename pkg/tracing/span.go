// Package tracing records in-process span trees for index builds. A flush
// starts a root span, the segment writer hangs one child per field and per
// build stage beneath it, and the finished tree is logged through slog.
package tracing

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

type sampling struct {
	enabled bool
	rate    float64
}

var policy atomic.Pointer[sampling]

// Configure sets which finished trees Log writes. With tracing disabled
// only failed trees are logged. Otherwise a tree is kept when the hash of
// its trace id falls below rate. Until Configure is called every tree is
// logged.
func Configure(enabled bool, rate float64) {
	policy.Store(&sampling{enabled: enabled, rate: rate})
}

// Sampled reports whether a tree with this trace id is kept.
func Sampled(traceID string) bool {
	p := policy.Load()
	switch {
	case p == nil:
		return true
	case !p.enabled || p.rate <= 0:
		return false
	case p.rate >= 1:
		return true
	}
	return float64(xxhash.Sum64String(traceID)%10000) < p.rate*10000
}

type spanKey struct{}

// Span is one timed stage of a build.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration

	mu       sync.Mutex
	parent   *Span
	children []*Span
	attrs    []slog.Attr
	err      error
	ended    bool
}

// StartSpan starts a root span with the given trace id.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	s := &Span{Name: name, TraceID: traceID, StartTime: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan starts a span under the one carried by ctx. Without a
// parent the child becomes a root with an empty trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, StartTime: time.Now()}
	if p := SpanFromContext(ctx); p != nil {
		s.TraceID = p.TraceID
		s.parent = p
		p.mu.Lock()
		p.children = append(p.children, s)
		p.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

// SpanFromContext returns the active span, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// End fixes the span's duration. Later calls are no-ops.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.Duration = time.Since(s.StartTime)
}

// SetAttr attaches an attribute. Setting a key twice keeps the last value.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.attrs {
		if s.attrs[i].Key == key {
			s.attrs[i].Value = slog.AnyValue(value)
			return
		}
	}
	s.attrs = append(s.attrs, slog.Any(key, value))
}

// Attr returns the value stored under key.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attrs {
		if a.Key == key {
			return a.Value.Any(), true
		}
	}
	return nil, false
}

// RecordError marks the span failed. The first error wins.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Err returns the recorded error.
func (s *Span) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Children returns a copy of the direct children in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Path is the slash-joined chain of span names from the root.
func (s *Span) Path() string {
	var names []string
	for cur := s; cur != nil; cur = cur.parent {
		names = append(names, cur.Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, "/")
}

// Find returns the first span in the tree, depth first, whose name is name.
func (s *Span) Find(name string) *Span {
	if s.Name == name {
		return s
	}
	for _, c := range s.Children() {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// Log writes the tree, one record per span, if the trace is sampled or
// the span failed. Failed spans log at warn.
func (s *Span) Log() {
	if !Sampled(s.TraceID) && s.Err() == nil {
		return
	}
	s.log(slog.Default(), 0)
}

func (s *Span) log(l *slog.Logger, depth int) {
	s.mu.Lock()
	args := []any{
		"trace_id", s.TraceID,
		"span", s.Path(),
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	}
	for _, a := range s.attrs {
		args = append(args, a)
	}
	level := slog.LevelInfo
	if s.err != nil {
		args = append(args, "error", s.err.Error())
		level = slog.LevelWarn
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	l.Log(context.Background(), level, "span", args...)
	for _, c := range children {
		c.log(l, depth+1)
	}
}
