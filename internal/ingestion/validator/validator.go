// Package validator checks ingestion requests before they are published. It
// returns per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion"
)

const (
	maxDocumentIDLength = 255
	maxFieldNameLength  = 128
	maxFields           = 64
	maxFieldLength      = 1048576
	maxAnnotations      = 100000
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// ValidateIngestRequest checks the document id, the fields and the
// annotations of req. Annotations are checked the way the indexer will
// check them, so an accepted request is never rejected downstream.
func ValidateIngestRequest(req *ingestion.IngestRequest) error {
	errs := make(map[string]string)

	if len(req.DocumentID) > maxDocumentIDLength {
		errs["document_id"] = fmt.Sprintf("document id must be at most %d characters", maxDocumentIDLength)
	} else if strings.Contains(req.DocumentID, "/") {
		errs["document_id"] = "document id must not contain '/'"
	}

	switch {
	case len(req.Fields) == 0:
		errs["fields"] = "at least one field is required"
	case len(req.Fields) > maxFields:
		errs["fields"] = fmt.Sprintf("at most %d fields are allowed", maxFields)
	}
	for name, text := range req.Fields {
		key := "fields." + name
		switch {
		case name == "" || len(name) > maxFieldNameLength:
			errs["fields"] = fmt.Sprintf("field names must be 1 to %d characters", maxFieldNameLength)
		case strings.Contains(name, "/"):
			errs[key] = "field name must not contain '/'"
		case len(text) > maxFieldLength:
			errs[key] = fmt.Sprintf("field must be at most %d characters", maxFieldLength)
		}
	}

	if len(req.Annotations) > maxAnnotations {
		errs["annotations"] = fmt.Sprintf("at most %d annotations are allowed", maxAnnotations)
	} else if len(errs) == 0 {
		doc := indexer.Document{Fields: req.Fields, Annotations: req.Annotations}
		if err := indexer.ValidateDocument(doc); err != nil {
			errs["annotations"] = err.Error()
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
