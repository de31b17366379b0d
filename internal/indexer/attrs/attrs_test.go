package attrs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/resilience"
)

func TestMemorySink(t *testing.T) {
	s := NewMemorySink()
	err := s.Publish(context.Background(), []FieldAttributes{
		{Segment: "seg1", Field: "body", SingleTags: []string{""}, MultiTags: []string{"ner"}},
		{Segment: "seg1", Field: "title", SingleTags: []string{""}},
	})
	require.NoError(t, err)

	got, ok := s.Get("seg1", "body")
	require.True(t, ok)
	assert.Equal(t, []string{"ner"}, got.MultiTags)

	_, ok = s.Get("seg2", "body")
	assert.False(t, ok)

	require.NoError(t, s.Forget(context.Background(), "seg1"))
	_, ok = s.Get("seg1", "title")
	assert.False(t, ok)
}

type flakyRunner struct {
	failures int
	calls    int
	err      error
}

func (f *flakyRunner) InTx(_ context.Context, _ func(tx *sql.Tx) error) error {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return f.err
		}
		return errors.New("connection reset")
	}
	return nil
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestPostgresSinkRetries(t *testing.T) {
	db := &flakyRunner{failures: 2}
	s := NewPostgresSink(db, fastRetry())
	require.NoError(t, s.Publish(context.Background(), []FieldAttributes{{Segment: "s", Field: "f"}}))
	assert.Equal(t, 3, db.calls)

	db = &flakyRunner{failures: 5}
	s = NewPostgresSink(db, fastRetry())
	assert.Error(t, s.Publish(context.Background(), []FieldAttributes{{Segment: "s", Field: "f"}}))
	assert.Equal(t, 3, db.calls)
}

func TestPostgresSinkDoesNotRetryConstraintErrors(t *testing.T) {
	violation := &pq.Error{Code: "23505", Message: "duplicate key"}
	db := &flakyRunner{failures: 5, err: fmt.Errorf("upserting: %w", violation)}
	s := NewPostgresSink(db, fastRetry())
	err := s.Publish(context.Background(), []FieldAttributes{{Segment: "s", Field: "f"}})
	require.ErrorIs(t, err, violation)
	assert.Equal(t, 1, db.calls)
}

func TestPostgresSinkSkipsEmpty(t *testing.T) {
	db := &flakyRunner{}
	s := NewPostgresSink(db, fastRetry())
	require.NoError(t, s.Publish(context.Background(), nil))
	assert.Zero(t, db.calls)
}

func TestPostgresSinkRoundTrip(t *testing.T) {
	port, _ := strconv.Atoi(envOr("TEST_POSTGRES_PORT", "5432"))
	connectCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := postgres.New(connectCtx, config.PostgresConfig{
		Host:            envOr("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOr("TEST_POSTGRES_DB", "forwardindex_test"),
		User:            envOr("TEST_POSTGRES_USER", "forwardindex"),
		Password:        envOr("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	s := NewPostgresSink(client, fastRetry())
	require.NoError(t, s.EnsureSchema(ctx))

	want := FieldAttributes{
		Segment:          "test-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		Field:            "body",
		SingleTags:       []string{""},
		MultiTags:        []string{"ner"},
		SetTags:          []string{},
		IntersectingTags: []string{"ner"},
	}
	require.NoError(t, s.Publish(ctx, []FieldAttributes{want}))
	got, err := s.Get(ctx, want.Segment, want.Field)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
