// Package publisher turns accepted ingestion requests into ingest events on
// Kafka. Events are keyed by document id so every version of a document
// lands on the same partition, in order.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/kafka"
)

const StatusPending = "PENDING"

// EventWriter is the producer side of the ingest topic. *kafka.Producer
// implements it.
type EventWriter interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

type Publisher struct {
	producer EventWriter
	now      func() time.Time
	logger   *slog.Logger
}

func New(producer EventWriter) *Publisher {
	return &Publisher{
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Ingest assigns a document id when the request has none and publishes the
// document for indexing.
func (p *Publisher) Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	resps, err := p.IngestBatch(ctx, []*ingestion.IngestRequest{req})
	if err != nil {
		return nil, err
	}
	return &resps[0], nil
}

// IngestBatch publishes every request in one write. Either all documents
// are accepted or none are.
func (p *Publisher) IngestBatch(ctx context.Context, reqs []*ingestion.IngestRequest) ([]ingestion.IngestResponse, error) {
	at := p.now()
	events := make([]kafka.Event, len(reqs))
	resps := make([]ingestion.IngestResponse, len(reqs))
	annotations := 0
	for i, req := range reqs {
		docID := req.DocumentID
		if docID == "" {
			docID = uuid.NewString()
		}
		events[i] = kafka.Event{
			Key: docID,
			Value: ingestion.IngestEvent{
				DocumentID:  docID,
				Fields:      req.Fields,
				Annotations: req.Annotations,
				IngestedAt:  at,
			},
		}
		resps[i] = ingestion.IngestResponse{DocumentID: docID, Status: StatusPending}
		annotations += len(req.Annotations)
	}
	if err := p.producer.Publish(ctx, events...); err != nil {
		if len(reqs) == 1 {
			return nil, fmt.Errorf("publishing document %s: %w", resps[0].DocumentID, err)
		}
		return nil, fmt.Errorf("publishing %d documents: %w", len(reqs), err)
	}
	p.logger.DebugContext(ctx, "documents published", "count", len(reqs), "annotations", annotations)
	return resps, nil
}
