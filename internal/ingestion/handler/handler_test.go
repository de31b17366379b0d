package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/metrics"
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

func post(h *Handler, body string) *httptest.ResponseRecorder {
	return postTo(h, "/api/v1/documents", body)
}

func postTo(h *Handler, path, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func newHandler(w publisher.EventWriter) (*Handler, *metrics.Metrics) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	return New(publisher.New(w), m), m
}

func TestIngestAccepted(t *testing.T) {
	events := &recorder{}
	h, m := newHandler(events)

	rec := post(h, `{"document_id": "doc-1", "fields": {"body": "quick brown fox"},
		"annotations": [{"field": "body", "term": "ner:animal", "position": 1, "end": 2}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestion.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doc-1", resp.DocumentID)
	require.Len(t, events.events, 1)
	ev := events.events[0].Value.(ingestion.IngestEvent)
	require.Len(t, ev.Annotations, 1)
	assert.Equal(t, "ner:animal", ev.Annotations[0].Term)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DocsIngestedTotal.WithLabelValues("accepted")))
}

func TestIngestRejectsInvalid(t *testing.T) {
	events := &recorder{}
	h, m := newHandler(events)

	assert.Equal(t, http.StatusBadRequest, post(h, `not json`).Code)

	rec := post(h, `{"fields": {"body": "fox"}, "annotations": [{"field": "body", "term": "x", "parent": 5}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation failed", body.Error)
	assert.Contains(t, body.Fields, "annotations")
	assert.Empty(t, events.events)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DocsIngestedTotal.WithLabelValues("rejected")))
}

func TestIngestPublishFailure(t *testing.T) {
	h, m := newHandler(&recorder{err: errors.New("broker down")})
	assert.Equal(t, http.StatusServiceUnavailable, post(h, `{"fields": {"body": "fox"}}`).Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DocsIngestedTotal.WithLabelValues("failed")))
}

func TestIngestBatch(t *testing.T) {
	events := &recorder{}
	h, m := newHandler(events)

	rec := postTo(h, "/api/v1/documents/batch", `{"documents": [
		{"document_id": "a", "fields": {"body": "quick fox"}},
		{"fields": {"title": "lazy dog"}}
	]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Documents, 2)
	assert.Equal(t, "a", resp.Documents[0].DocumentID)
	assert.Len(t, events.events, 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DocsIngestedTotal.WithLabelValues("accepted")))
}

func TestIngestBatchRejectsWhole(t *testing.T) {
	events := &recorder{}
	h, _ := newHandler(events)

	rec := postTo(h, "/api/v1/documents/batch", `{"documents": [
		{"document_id": "a", "fields": {"body": "fox"}},
		{"document_id": "b/c", "fields": {"body": "dog"}},
		null
	]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Documents map[string]map[string]string `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Documents["1"], "document_id")
	assert.Contains(t, body.Documents["2"], "document")
	assert.NotContains(t, body.Documents, "0")
	assert.Empty(t, events.events)

	assert.Equal(t, http.StatusBadRequest, postTo(h, "/api/v1/documents/batch", `{"documents": []}`).Code)

	docs := make([]string, MaxBatchSize+1)
	for i := range docs {
		docs[i] = `{"fields": {"body": "x"}}`
	}
	big := `{"documents": [` + strings.Join(docs, ",") + `]}`
	assert.Equal(t, http.StatusRequestEntityTooLarge, postTo(h, "/api/v1/documents/batch", big).Code)
}
