// Package cache keeps resolved token terms in Redis. Segments are
// immutable, so a term reference inside a segment always resolves to the
// same string and entries only leave through TTL or segment invalidation.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/resilience"
)

const (
	keyPrefix   = "term:"
	breakerName = "term-cache"
)

// Store is the subset of the Redis client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type TermCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over store. m may be nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *TermCache {
	cfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
	if m != nil {
		m.CircuitBreakerState.WithLabelValues(breakerName).Set(float64(resilience.StateClosed))
		cfg.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &TermCache{
		store:   store,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker(breakerName, cfg),
		metrics: m,
		logger:  slog.Default().With("component", "term-cache"),
	}
}

// Resolve returns the cached term for ref, computing and storing it on a
// miss. Concurrent misses for the same key compute once. Redis failures
// degrade to computing directly.
func (c *TermCache) Resolve(
	ctx context.Context,
	segmentID uuid.UUID,
	field string,
	ref int64,
	computeFn func() (string, error),
) (string, bool, error) {
	key := buildKey(segmentID, field, ref)
	if term, ok := c.get(ctx, key); ok {
		return term, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		term, err := computeFn()
		if err != nil {
			return "", err
		}
		c.set(ctx, key, term)
		return term, nil
	})
	if err != nil {
		return "", false, err
	}
	return val.(string), false, nil
}

func (c *TermCache) get(ctx context.Context, key string) (string, bool) {
	var term string
	err := c.breaker.Execute(func() error {
		v, err := c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		term = v
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
	}
	if err != nil || term == "" {
		c.recordMiss()
		return "", false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return term, true
}

func (c *TermCache) set(ctx context.Context, key, term string) {
	err := c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, term, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (c *TermCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Invalidate drops every cached term of a segment.
func (c *TermCache) Invalidate(ctx context.Context, segmentID uuid.UUID) error {
	pattern := fmt.Sprintf("%s%s:*", keyPrefix, segmentID)
	deleted, err := c.store.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "segment_id", segmentID, "keys_deleted", deleted)
	return nil
}

func (c *TermCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func buildKey(segmentID uuid.UUID, field string, ref int64) string {
	return fmt.Sprintf("%s%s:%s:%d", keyPrefix, segmentID, field, ref)
}
