package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/resilience"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type segmentBuilt struct {
	Segment string `json:"segment"`
	Docs    int    `json:"docs"`
}

func TestPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer("segment-built", w)

	require.NoError(t, p.Publish(context.Background(),
		Event{Key: "shard-0", Value: segmentBuilt{Segment: "seg_1", Docs: 2}},
		Event{Key: "shard-1", Value: segmentBuilt{Segment: "seg_2", Docs: 5}},
	))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "shard-1", string(w.msgs[1].Key))
	assert.JSONEq(t, `{"segment":"seg_2","docs":5}`, string(w.msgs[1].Value))
	assert.Equal(t, "application/json", string(w.msgs[0].Headers[0].Value))

	require.NoError(t, p.Publish(context.Background()))
	assert.Len(t, w.msgs, 2)
}

func TestPublishRejectsUnencodableBatch(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer("t", w)
	err := p.Publish(context.Background(),
		Event{Key: "ok", Value: 1},
		Event{Key: "bad", Value: make(chan int)},
	)
	require.Error(t, err)
	assert.Empty(t, w.msgs)
}

func TestPublishWrapsWriterError(t *testing.T) {
	broker := errors.New("leader not available")
	p := newProducer("document-ingest", &fakeWriter{err: broker})
	err := p.Publish(context.Background(), Event{Key: "d", Value: 1})
	require.ErrorIs(t, err, broker)
	assert.Contains(t, err.Error(), "document-ingest")
}

// fakeReader serves queued messages, then blocks until ctx ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumerCommitPolicy(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte(`{"segment":"seg_1"}`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(`{"segment":"flaky"}`)},
		{Offset: 4, Value: []byte(`{"segment":"broken"}`)},
	}}
	var mu sync.Mutex
	attempts := map[string]int{}
	handler := func(_ context.Context, _ []byte, value []byte) error {
		ev, err := DecodeJSON[segmentBuilt](value)
		if err != nil {
			return err
		}
		mu.Lock()
		attempts[ev.Segment]++
		n := attempts[ev.Segment]
		mu.Unlock()
		switch {
		case ev.Segment == "flaky" && n < 2:
			return errors.New("shard busy")
		case ev.Segment == "broken":
			return errors.New("disk full")
		}
		return nil
	}
	c := newConsumer(r, handler)
	c.retry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts["broken"] == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 3}, r.Committed())
	assert.Equal(t, 2, attempts["flaky"])
}

func TestDecodeJSON(t *testing.T) {
	ev, err := DecodeJSON[segmentBuilt]([]byte(`{"segment":"seg_9","docs":3}`))
	require.NoError(t, err)
	assert.Equal(t, segmentBuilt{Segment: "seg_9", Docs: 3}, ev)

	_, err = DecodeJSON[segmentBuilt]([]byte(`{`))
	var syntax *json.SyntaxError
	assert.ErrorAs(t, err, &syntax)
}
