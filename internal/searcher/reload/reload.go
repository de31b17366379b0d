// Package reload keeps a lookup service's open segments in step with the
// segments written by indexers.
package reload

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/kafka"
)

// Reloader re-scans segment directories. *shard.Router implements it.
type Reloader interface {
	ReloadAll() int
}

// HandleSegmentBuilt returns a MessageHandler that reloads segments when an
// indexer announces a new one. Undecodable announcements still trigger a
// reload; the periodic loop covers any that are lost.
func HandleSegmentBuilt(r Reloader) kafka.MessageHandler {
	logger := slog.Default().With("component", "segment-reloader")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.SegmentBuilt](value)
		if err != nil {
			logger.Warn("undecodable segment announcement", "key", string(key), "error", err)
		}
		n := r.ReloadAll()
		logger.Info("segment announced",
			"segment", event.Segment,
			"shard_id", event.ShardID,
			"docs", event.Docs,
			"loaded", n,
		)
		return nil
	}
}

// Loop calls ReloadAll every interval until ctx is cancelled.
func Loop(ctx context.Context, r Reloader, interval time.Duration) {
	if interval <= 0 {
		return
	}
	logger := slog.Default().With("component", "segment-reloader")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.ReloadAll(); n > 0 {
				logger.Info("loaded new segments", "count", n)
			}
		}
	}
}
