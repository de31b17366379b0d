// Package consumer reads ingestion events from Kafka and indexes them
// via the indexer engine, optionally routing documents through the shard
// router for partitioned indexing.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/kafka"
)

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessageSharded returns a Kafka MessageHandler that routes each ingest
// event to the correct shard engine via the Router before indexing.
func HandleMessageSharded(router *shard.Router) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, ok := decode(logger, key, value)
		if !ok {
			return nil
		}
		shardID, err := router.Index(ctx, event.DocumentID, event.ShardID, event.Document())
		if errors.Is(err, apperrors.ErrShardUnavailable) {
			logger.Error("dropping event for unknown shard", "doc_id", event.DocumentID, "shard_id", shardID)
			return nil
		}
		return indexed(logger, event.DocumentID, shardID, err)
	}
}

// HandleMessage returns a Kafka MessageHandler that indexes every ingest
// event into a single (non-sharded) Engine.
func HandleMessage(engine *indexer.Engine) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, ok := decode(logger, key, value)
		if !ok {
			return nil
		}
		err := engine.IndexDocument(ctx, event.DocumentID, event.Document())
		return indexed(logger, event.DocumentID, 0, err)
	}
}

// decode reports false for messages that can never be indexed; they are
// logged and committed so they do not block the partition.
func decode(logger *slog.Logger, key, value []byte) (ingestion.IngestEvent, bool) {
	event, err := kafka.DecodeJSON[ingestion.IngestEvent](value)
	if err != nil {
		logger.Error("failed to decode ingest event",
			"error", err,
			"key", string(key),
		)
		return ingestion.IngestEvent{}, false
	}
	if event.DocumentID == "" {
		logger.Error("ingest event without document id", "key", string(key))
		return ingestion.IngestEvent{}, false
	}
	return event, true
}

// indexed decides the fate of a message from its indexing error. Invalid
// documents are logged and committed; anything else is handed back for
// retry.
func indexed(logger *slog.Logger, docID string, shardID int, err error) error {
	switch {
	case err == nil:
		logger.Info("document indexed", "doc_id", docID, "shard_id", shardID)
		return nil
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrFormat):
		logger.Error("rejecting invalid document", "doc_id", docID, "error", err)
		return nil
	}
	return fmt.Errorf("indexing document %s in shard %d: %w", docID, shardID, err)
}
