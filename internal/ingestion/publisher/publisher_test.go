package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/kafka"
)

type recorder struct {
	events []kafka.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, events ...kafka.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, events...)
	return nil
}

func TestIngestKeysByDocumentID(t *testing.T) {
	rec := &recorder{}
	p := New(rec)
	resp, err := p.Ingest(context.Background(), &ingestion.IngestRequest{
		DocumentID: "doc-1",
		Fields:     map[string]string{"body": "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", resp.DocumentID)
	assert.Equal(t, "PENDING", resp.Status)

	require.Len(t, rec.events, 1)
	assert.Equal(t, "doc-1", rec.events[0].Key)
	ev, ok := rec.events[0].Value.(ingestion.IngestEvent)
	require.True(t, ok)
	assert.Equal(t, "hello", ev.Fields["body"])
	assert.Nil(t, ev.ShardID)
	assert.False(t, ev.IngestedAt.IsZero())
}

func TestIngestGeneratesDocumentID(t *testing.T) {
	rec := &recorder{}
	resp, err := New(rec).Ingest(context.Background(), &ingestion.IngestRequest{Fields: map[string]string{"body": "x"}})
	require.NoError(t, err)
	_, err = uuid.Parse(resp.DocumentID)
	assert.NoError(t, err)
	assert.Equal(t, resp.DocumentID, rec.events[0].Key)
}

func TestIngestSurfacesPublishFailure(t *testing.T) {
	boom := errors.New("broker down")
	_, err := New(&recorder{err: boom}).Ingest(context.Background(), &ingestion.IngestRequest{
		DocumentID: "doc-1",
		Fields:     map[string]string{"body": "x"},
	})
	require.ErrorIs(t, err, boom)
}

func TestIngestBatchPublishesOnce(t *testing.T) {
	rec := &recorder{}
	p := New(rec)
	resps, err := p.IngestBatch(context.Background(), []*ingestion.IngestRequest{
		{DocumentID: "a", Fields: map[string]string{"body": "one"}},
		{Fields: map[string]string{"body": "two"}},
	})
	require.NoError(t, err)
	require.Len(t, resps, 2)
	assert.Equal(t, "a", resps[0].DocumentID)
	assert.NotEmpty(t, resps[1].DocumentID)
	assert.Equal(t, StatusPending, resps[1].Status)

	require.Len(t, rec.events, 2)
	first := rec.events[0].Value.(ingestion.IngestEvent)
	second := rec.events[1].Value.(ingestion.IngestEvent)
	assert.Equal(t, first.IngestedAt, second.IngestedAt)
	assert.Equal(t, resps[1].DocumentID, rec.events[1].Key)
}

func TestIngestBatchFailureAcceptsNothing(t *testing.T) {
	boom := errors.New("broker down")
	_, err := New(&recorder{err: boom}).IngestBatch(context.Background(), []*ingestion.IngestRequest{
		{DocumentID: "a", Fields: map[string]string{"body": "x"}},
		{DocumentID: "b", Fields: map[string]string{"body": "y"}},
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "2 documents")
}
