// Package handler serves token lookups over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/payload"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/resilience"
)

// DocumentLookup finds the segment holding a document. *shard.Router and
// *indexer.Engine implement it.
type DocumentLookup interface {
	Lookup(docID string) (*indexer.DocumentHandle, error)
}

// TokenResponse is the JSON form of one token.
type TokenResponse struct {
	ID         int                 `json:"id"`
	Parent     *int                `json:"parent,omitempty"`
	Shape      string              `json:"shape"`
	Start      int                 `json:"start"`
	End        *int                `json:"end,omitempty"`
	Positions  []int               `json:"positions,omitempty"`
	Offset     *payload.OffsetPair `json:"offset,omitempty"`
	RealOffset *payload.OffsetPair `json:"real_offset,omitempty"`
	Payload    []byte              `json:"payload,omitempty"`
	Term       string              `json:"term"`
	Tag        string              `json:"tag"`
}

// ListResponse carries the tokens matched by a range or parent query.
type ListResponse struct {
	Document string          `json:"document"`
	Field    string          `json:"field"`
	Segment  string          `json:"segment"`
	Tokens   []TokenResponse `json:"tokens"`
	Total    int             `json:"total"`
}

type Handler struct {
	lookup    DocumentLookup
	cache     *cache.TermCache
	timeout   time.Duration
	maxTokens int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds a Handler. termCache and m may be nil.
func New(lookup DocumentLookup, termCache *cache.TermCache, cfg config.LookupConfig, m *metrics.Metrics) *Handler {
	return &Handler{
		lookup:    lookup,
		cache:     termCache,
		timeout:   cfg.Timeout,
		maxTokens: cfg.MaxTokens,
		metrics:   m,
		logger:    slog.Default().With("component", "lookup-handler"),
	}
}

// Register mounts the lookup routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/tokens/{doc}/{field}/{id}", h.TokenByID)
	mux.HandleFunc("GET /api/v1/tokens/{doc}/{field}", h.Tokens)
	mux.HandleFunc("GET /api/v1/documents/{doc}/{field}", h.Document)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
}

// TokenByID serves GET /api/v1/tokens/{doc}/{field}/{id}.
func (h *Handler) TokenByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		h.writeError(w, http.StatusBadRequest, "token id must be a non-negative integer")
		return
	}
	var resp TokenResponse
	err = h.run(r, "id", func(ctx context.Context, doc *indexer.DocumentHandle, field string) error {
		tok, err := doc.TokenByID(field, id)
		if err != nil {
			return err
		}
		resp, err = h.render(ctx, doc, field, *tok)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Tokens serves GET /api/v1/tokens/{doc}/{field}?from=&to= and ?parent=.
func (h *Handler) Tokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := "range"
	var parent, from, to int
	var err error
	switch {
	case q.Has("parent"):
		kind = "parent"
		parent, err = strconv.Atoi(q.Get("parent"))
		if err != nil || parent < 0 {
			h.writeError(w, http.StatusBadRequest, "parent must be a non-negative integer")
			return
		}
	case q.Has("from"):
		from, err = strconv.Atoi(q.Get("from"))
		if err != nil || from < 0 {
			h.writeError(w, http.StatusBadRequest, "from must be a non-negative integer")
			return
		}
		to = from
		if q.Has("to") {
			to, err = strconv.Atoi(q.Get("to"))
			if err != nil || to < from {
				h.writeError(w, http.StatusBadRequest, "to must be an integer not below from")
				return
			}
		}
	default:
		h.writeError(w, http.StatusBadRequest, "either 'from' or 'parent' is required")
		return
	}

	resp := ListResponse{Document: r.PathValue("doc"), Field: r.PathValue("field")}
	err = h.run(r, kind, func(ctx context.Context, doc *indexer.DocumentHandle, field string) error {
		var tokens []segment.Token
		var err error
		if kind == "parent" {
			tokens, err = doc.Children(field, parent)
		} else {
			tokens, err = doc.TokensInRange(field, from, to)
		}
		if err != nil {
			return err
		}
		resp.Segment = doc.Segment()
		resp.Total = len(tokens)
		if h.maxTokens > 0 && len(tokens) > h.maxTokens {
			tokens = tokens[:h.maxTokens]
		}
		resp.Tokens = make([]TokenResponse, 0, len(tokens))
		for _, tok := range tokens {
			tr, err := h.render(ctx, doc, field, tok)
			if err != nil {
				return err
			}
			resp.Tokens = append(resp.Tokens, tr)
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Document serves GET /api/v1/documents/{doc}/{field}.
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	var info segment.DocInfo
	err := h.run(r, "document", func(_ context.Context, doc *indexer.DocumentHandle, field string) error {
		var err error
		info, err = doc.Info(field)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// run resolves the document of the request and calls fn under the lookup
// timeout, recording metrics for kind.
func (h *Handler) run(r *http.Request, kind string, fn func(ctx context.Context, doc *indexer.DocumentHandle, field string) error) error {
	start := time.Now()
	docID, field := r.PathValue("doc"), r.PathValue("field")
	err := resilience.WithTimeout(r.Context(), h.timeout, "lookup-"+kind, func(ctx context.Context) error {
		doc, err := h.lookup.Lookup(docID)
		if err != nil {
			return err
		}
		return fn(ctx, doc, field)
	})
	if h.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
			if errors.Is(err, apperrors.ErrDocumentNotFound) ||
				errors.Is(err, apperrors.ErrFieldNotFound) ||
				errors.Is(err, apperrors.ErrTokenNotFound) {
				result = "not_found"
			}
		}
		h.metrics.LookupsTotal.WithLabelValues(kind, result).Inc()
		h.metrics.LookupLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
	return err
}

func (h *Handler) render(ctx context.Context, doc *indexer.DocumentHandle, field string, tok segment.Token) (TokenResponse, error) {
	resolve := func() (string, error) { return doc.ResolveTerm(field, tok.TermRef) }
	var term string
	var err error
	if h.cache != nil {
		term, _, err = h.cache.Resolve(ctx, doc.SegmentID(), field, tok.TermRef, resolve)
	} else {
		term, err = resolve()
	}
	if err != nil {
		return TokenResponse{}, err
	}
	resp := TokenResponse{
		ID:         tok.ID,
		Shape:      tok.Shape.String(),
		Start:      tok.Start,
		Offset:     tok.Offset,
		RealOffset: tok.RealOffset,
		Payload:    tok.Payload,
		Term:       term,
		Tag:        tok.Tag,
	}
	if tok.HasParent {
		p := tok.Parent
		resp.Parent = &p
	}
	switch tok.Shape {
	case payload.ShapeRange:
		end := tok.End
		resp.End = &end
	case payload.ShapeSet:
		resp.Positions = tok.Positions
	}
	return resp, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	ctx := r.Context()
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "lookup failed", "path", r.URL.Path, "error", err)
	} else {
		h.logger.DebugContext(ctx, "lookup rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "lookup failed"
	}
	h.writeError(w, status, msg)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
