package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion"
)

func intPtr(v int) *int { return &v }

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr.Fields
}

func TestValidRequest(t *testing.T) {
	req := &ingestion.IngestRequest{
		Fields: map[string]string{"body": "quick brown fox"},
		Annotations: []indexer.Annotation{
			{Field: "body", Term: "ner:animal", Position: 1, End: intPtr(2)},
			{Field: "body", Term: "pos:ADJ", Position: 0, Parent: intPtr(3)},
		},
	}
	assert.NoError(t, ValidateIngestRequest(req))
}

func TestRejectsMissingFields(t *testing.T) {
	errs := fieldErrors(t, ValidateIngestRequest(&ingestion.IngestRequest{}))
	assert.Contains(t, errs, "fields")
}

func TestRejectsBadNames(t *testing.T) {
	req := &ingestion.IngestRequest{
		DocumentID: "a/b",
		Fields:     map[string]string{"x/y": "text"},
	}
	errs := fieldErrors(t, ValidateIngestRequest(req))
	assert.Contains(t, errs, "document_id")
	assert.Contains(t, errs, "fields.x/y")

	req = &ingestion.IngestRequest{DocumentID: strings.Repeat("d", 256), Fields: map[string]string{"body": "x"}}
	assert.Contains(t, fieldErrors(t, ValidateIngestRequest(req)), "document_id")
}

func TestRejectsAnnotationsTheIndexerWould(t *testing.T) {
	tests := []struct {
		name string
		ann  indexer.Annotation
	}{
		{"missing term", indexer.Annotation{Field: "body", Position: 0}},
		{"dangling parent", indexer.Annotation{Field: "body", Term: "pos:X", Parent: intPtr(7)}},
		{"range and set", indexer.Annotation{Field: "body", Term: "t", End: intPtr(1), Positions: []int{0, 1}}},
		{"reversed range", indexer.Annotation{Field: "body", Term: "t", Position: 2, End: intPtr(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &ingestion.IngestRequest{
				Fields:      map[string]string{"body": "quick brown fox"},
				Annotations: []indexer.Annotation{tt.ann},
			}
			assert.Contains(t, fieldErrors(t, ValidateIngestRequest(req)), "annotations")
		})
	}
}

func TestErrorMessageIsStable(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "two", "a": "one"}}
	assert.Equal(t, "a:one; b:two", err.Error())
}
