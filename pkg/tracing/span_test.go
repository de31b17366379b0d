package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "engine.flush", "trace-1")
	wctx, write := StartChildSpan(ctx, "segment.write")
	_, field := StartChildSpan(wctx, "segment.field")
	field.SetAttr("field", "body")
	field.End()
	write.End()
	root.End()

	assert.Equal(t, "trace-1", field.TraceID)
	assert.Equal(t, "engine.flush/segment.write/segment.field", field.Path())
	require.Len(t, root.Children(), 1)
	assert.Same(t, field, root.Find("segment.field"))
	assert.Nil(t, root.Find("missing"))
	assert.Same(t, write, SpanFromContext(wctx))
}

func TestChildWithoutParentIsRoot(t *testing.T) {
	_, s := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, s.TraceID)
	assert.Equal(t, "orphan", s.Path())
}

func TestAttrsAndErrors(t *testing.T) {
	_, s := StartSpan(context.Background(), "segment.write", "t")
	s.SetAttr("tokens", 3)
	s.SetAttr("tokens", 5)
	v, ok := s.Attr("tokens")
	require.True(t, ok)
	assert.Equal(t, int64(5), v)

	first := errors.New("first")
	s.RecordError(nil)
	s.RecordError(first)
	s.RecordError(errors.New("second"))
	assert.Equal(t, first, s.Err())

	s.End()
	d := s.Duration
	s.End()
	assert.Equal(t, d, s.Duration)
	s.Log()
}

func TestSampling(t *testing.T) {
	t.Cleanup(func() { policy.Store(nil) })

	assert.True(t, Sampled("any"))

	Configure(false, 1)
	assert.False(t, Sampled("any"))

	Configure(true, 1)
	assert.True(t, Sampled("any"))

	Configure(true, 0)
	assert.False(t, Sampled("any"))

	Configure(true, 0.5)
	kept := 0
	for i := 0; i < 1000; i++ {
		if Sampled(fmt.Sprintf("trace-%d", i)) {
			kept++
		}
	}
	assert.InDelta(t, 500, kept, 100)
	assert.Equal(t, Sampled("trace-7"), Sampled("trace-7"))
}
