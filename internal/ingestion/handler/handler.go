// Package handler serves the ingestion HTTP API: single and batch document
// submission.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/metrics"
)

const (
	// maxBodyBytes bounds a single request: every field at its limit plus
	// annotations.
	maxBodyBytes = 32 << 20
	// maxBatchBytes bounds a batch request.
	maxBatchBytes = 128 << 20
	MaxBatchSize  = 500
)

// BatchRequest is the body of POST /api/v1/documents/batch.
type BatchRequest struct {
	Documents []*ingestion.IngestRequest `json:"documents"`
}

type BatchResponse struct {
	Documents []ingestion.IngestResponse `json:"documents"`
}

type errorBody struct {
	Error     string                       `json:"error"`
	Fields    map[string]string            `json:"fields,omitempty"`
	Documents map[string]map[string]string `json:"documents,omitempty"`
}

type Handler struct {
	publisher *publisher.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New returns a handler over pub. m may be nil.
func New(pub *publisher.Publisher, m *metrics.Metrics) *Handler {
	return &Handler{
		publisher: pub,
		metrics:   m,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Ingest)
	mux.HandleFunc("POST /api/v1/documents/batch", h.IngestBatch)
}

// Ingest accepts one document and answers 202 once it is on the ingest
// topic.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestion.IngestRequest
	if err := decode(w, r, maxBodyBytes, &req); err != nil {
		h.count("rejected", 1)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if fields := invalid(&req); fields != nil {
		h.count("rejected", 1)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: fields})
		return
	}

	ctx := r.Context()
	resp, err := h.publisher.Ingest(ctx, &req)
	if err != nil {
		h.count("failed", 1)
		h.logger.ErrorContext(ctx, "ingestion failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "ingestion failed"})
		return
	}
	h.count("accepted", 1)
	h.logger.InfoContext(ctx, "document accepted", "doc_id", resp.DocumentID, "annotations", len(req.Annotations))
	writeJSON(w, http.StatusAccepted, resp)
}

// IngestBatch accepts up to MaxBatchSize documents. One invalid document
// rejects the whole batch, with the errors keyed by position.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var batch BatchRequest
	if err := decode(w, r, maxBatchBytes, &batch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	n := len(batch.Documents)
	switch {
	case n == 0:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "batch is empty"})
		return
	case n > MaxBatchSize:
		h.count("rejected", n)
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
			Error: fmt.Sprintf("batch holds %d documents, at most %d are allowed", n, MaxBatchSize),
		})
		return
	}

	bad := make(map[string]map[string]string)
	for i, req := range batch.Documents {
		if req == nil {
			bad[strconv.Itoa(i)] = map[string]string{"document": "must be an object"}
			continue
		}
		if fields := invalid(req); fields != nil {
			bad[strconv.Itoa(i)] = fields
		}
	}
	if len(bad) > 0 {
		h.count("rejected", n)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Documents: bad})
		return
	}

	ctx := r.Context()
	resps, err := h.publisher.IngestBatch(ctx, batch.Documents)
	if err != nil {
		h.count("failed", n)
		h.logger.ErrorContext(ctx, "batch ingestion failed", "documents", n, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "ingestion failed"})
		return
	}
	h.count("accepted", n)
	h.logger.InfoContext(ctx, "batch accepted", "documents", n)
	writeJSON(w, http.StatusAccepted, BatchResponse{Documents: resps})
}

func decode(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("body exceeds %d bytes", limit)
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// invalid returns the per-field validation errors of req, or nil.
func invalid(req *ingestion.IngestRequest) map[string]string {
	err := validator.ValidateIngestRequest(req)
	if err == nil {
		return nil
	}
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return map[string]string{"document": err.Error()}
}

func (h *Handler) count(result string, n int) {
	if h.metrics != nil {
		h.metrics.DocsIngestedTotal.WithLabelValues(result).Add(float64(n))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
