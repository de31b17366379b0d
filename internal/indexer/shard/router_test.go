package shard

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/errors"
)

func newRouter(t *testing.T, dir string, shards int) *Router {
	t.Helper()
	r, err := NewRouter(config.IndexerConfig{DataDir: dir, NumShards: shards}, config.ForwardIndexConfig{}, indexer.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRouterFlushAllAndLookup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := newRouter(t, dir, 3)
	assert.Equal(t, 3, r.NumShards())
	assert.Len(t, r.Engines(), 3)

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("doc-%02d", i)
		doc := indexer.Document{Fields: map[string]string{"body": "document about foxes"}}
		shardID, err := r.Index(ctx, ids[i], nil, doc)
		require.NoError(t, err)
		assert.Equal(t, r.ShardFor(ids[i]), shardID)
	}
	pending := 0
	for _, st := range r.Stats() {
		pending += st.Pending
	}
	assert.Equal(t, 20, pending)
	require.NoError(t, r.FlushAll(ctx))

	docs := 0
	for _, st := range r.Stats() {
		assert.Zero(t, st.Pending)
		docs += st.Docs
	}
	assert.Equal(t, 20, docs)

	for _, id := range ids {
		h, err := r.Lookup(id)
		require.NoError(t, err, id)
		info, err := h.Info("body")
		require.NoError(t, err)
		assert.Equal(t, 3, info.Tokens, id)
	}

	// a second router over the same directories sees the flushed segments
	other := newRouter(t, dir, 3)
	assert.Equal(t, 0, other.ReloadAll())
	_, err := other.Lookup(ids[0])
	require.NoError(t, err)
}

func TestRouterRejectsUnknownShard(t *testing.T) {
	r := newRouter(t, t.TempDir(), 2)
	_, err := r.Route(5)
	require.ErrorIs(t, err, apperrors.ErrShardUnavailable)
}

func TestIndexHonoursShardOverride(t *testing.T) {
	ctx := context.Background()
	r := newRouter(t, t.TempDir(), 2)
	doc := indexer.Document{Fields: map[string]string{"body": "fox"}}

	target := 1 - r.ShardFor("doc-x")
	shardID, err := r.Index(ctx, "doc-x", &target, doc)
	require.NoError(t, err)
	assert.Equal(t, target, shardID)
	assert.Equal(t, 1, r.Stats()[target].Pending)

	bad := 7
	_, err = r.Index(ctx, "doc-x", &bad, doc)
	require.ErrorIs(t, err, apperrors.ErrShardUnavailable)
	assert.Equal(t, "shard-3", filepath.Base(Dir("/data", 3)))
}

func TestShardForIsStable(t *testing.T) {
	r := newRouter(t, t.TempDir(), 4)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("doc-%d", i)
		s := r.ShardFor(id)
		assert.Equal(t, s, r.ShardFor(id))
		assert.True(t, s >= 0 && s < 4)
	}
}

func TestNewRouterRejectsZeroShards(t *testing.T) {
	_, err := NewRouter(config.IndexerConfig{DataDir: t.TempDir()}, config.ForwardIndexConfig{}, indexer.Options{})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
