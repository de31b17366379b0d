// Package ingestion defines the request/response types and Kafka event schema
// of the annotated document ingestion pipeline.
package ingestion

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer"
)

// IngestRequest is the JSON body accepted by the ingestion HTTP endpoint. A
// missing document id is generated; sending an existing id re-indexes the
// document.
type IngestRequest struct {
	DocumentID  string               `json:"document_id"`
	Fields      map[string]string    `json:"fields"`
	Annotations []indexer.Annotation `json:"annotations,omitempty"`
}

// IngestResponse is returned to the caller after a document is accepted.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// IngestEvent is the Kafka message payload of a document ready for
// indexing. A missing shard id is derived from the document id.
type IngestEvent struct {
	DocumentID  string               `json:"document_id"`
	ShardID     *int                 `json:"shard_id,omitempty"`
	Fields      map[string]string    `json:"fields"`
	Annotations []indexer.Annotation `json:"annotations,omitempty"`
	IngestedAt  time.Time            `json:"ingested_at"`
}

// Document returns the indexable part of the event.
func (ev IngestEvent) Document() indexer.Document {
	return indexer.Document{Fields: ev.Fields, Annotations: ev.Annotations}
}
