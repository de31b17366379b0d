// Package shard partitions documents over independent index engines. A
// document id hashes to one shard; each shard keeps its own data directory,
// memory index and segments, so shards flush and reload independently.
package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

// Router owns one engine per shard. The shard set is fixed at creation.
type Router struct {
	engines []*indexer.Engine
	logger  *slog.Logger
}

// ShardStats describes one shard's state.
type ShardStats struct {
	ShardID  int `json:"shard_id"`
	Segments int `json:"segments"`
	Docs     int `json:"docs"`
	Pending  int `json:"pending"`
}

// Dir returns the data directory of a shard under root.
func Dir(root string, shardID int) string {
	return filepath.Join(root, "shard-"+strconv.Itoa(shardID))
}

// NewRouter opens cfg.NumShards engines under cfg.DataDir, sharing opts
// except for the shard id.
func NewRouter(cfg config.IndexerConfig, fwd config.ForwardIndexConfig, opts indexer.Options) (*Router, error) {
	if cfg.NumShards <= 0 {
		return nil, fmt.Errorf("%w: shard count must be positive, got %d", apperrors.ErrInvalidInput, cfg.NumShards)
	}
	r := &Router{
		engines: make([]*indexer.Engine, 0, cfg.NumShards),
		logger:  slog.Default().With("component", "shard-router"),
	}
	for id := range cfg.NumShards {
		shardCfg := cfg
		shardCfg.DataDir = Dir(cfg.DataDir, id)
		shardOpts := opts
		shardOpts.ShardID = id
		engine, err := indexer.NewEngine(shardCfg, fwd, shardOpts)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("opening shard %d: %w", id, err)
		}
		r.engines = append(r.engines, engine)
	}
	if opts.Metrics != nil {
		opts.Metrics.ActiveShards.Set(float64(cfg.NumShards))
	}
	r.logger.Info("shards opened", "num_shards", cfg.NumShards, "data_dir", cfg.DataDir)
	return r, nil
}

func (r *Router) NumShards() int {
	return len(r.engines)
}

// ShardFor returns the shard a document id hashes to.
func (r *Router) ShardFor(docID string) int {
	return int(xxhash.Sum64String(docID) % uint64(len(r.engines)))
}

// Route returns the engine of a shard.
func (r *Router) Route(shardID int) (*indexer.Engine, error) {
	if shardID < 0 || shardID >= len(r.engines) {
		return nil, fmt.Errorf("%w: no shard %d, have 0-%d", apperrors.ErrShardUnavailable, shardID, len(r.engines)-1)
	}
	return r.engines[shardID], nil
}

// Index adds doc to the shard its id hashes to, or to override when set.
// It returns the shard used.
func (r *Router) Index(ctx context.Context, docID string, override *int, doc indexer.Document) (int, error) {
	shardID := r.ShardFor(docID)
	if override != nil {
		shardID = *override
	}
	engine, err := r.Route(shardID)
	if err != nil {
		return shardID, err
	}
	return shardID, engine.IndexDocument(ctx, docID, doc)
}

// Lookup finds docID in the shard it hashes to.
func (r *Router) Lookup(docID string) (*indexer.DocumentHandle, error) {
	engine, err := r.Route(r.ShardFor(docID))
	if err != nil {
		return nil, err
	}
	return engine.Lookup(docID)
}

// Engines returns the engines indexed by shard id.
func (r *Router) Engines() []*indexer.Engine {
	return append([]*indexer.Engine(nil), r.engines...)
}

func (r *Router) Stats() []ShardStats {
	stats := make([]ShardStats, len(r.engines))
	for id, e := range r.engines {
		stats[id] = ShardStats{
			ShardID:  id,
			Segments: e.SegmentCount(),
			Docs:     e.DocCount(),
			Pending:  e.PendingDocs(),
		}
	}
	return stats
}

// FlushAll flushes every shard concurrently and waits for all of them. The
// first error is returned.
func (r *Router) FlushAll(ctx context.Context) error {
	var g errgroup.Group
	for id, engine := range r.engines {
		g.Go(func() error {
			if err := engine.Flush(ctx); err != nil {
				r.logger.Error("flush failed", "shard_id", id, "error", err)
				return fmt.Errorf("shard %d: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ReloadAll picks up segments other processes committed and returns how
// many were opened across all shards.
func (r *Router) ReloadAll() int {
	total := 0
	for _, engine := range r.engines {
		total += engine.ReloadSegments()
	}
	return total
}

// Close closes every engine and joins their errors.
func (r *Router) Close() error {
	var errs []error
	for id, engine := range r.engines {
		if err := engine.Close(); err != nil {
			r.logger.Error("close failed", "shard_id", id, "error", err)
			errs = append(errs, fmt.Errorf("shard %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
