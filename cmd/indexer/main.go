// Command indexer consumes ingest events, indexes each document into its
// shard's in-memory index and flushes shards to forward-index segments,
// announcing every committed segment to the lookup replicas.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/attrs"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	tracing.Configure(cfg.Tracing.Enabled, cfg.Tracing.SampleRate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting indexer service",
		"num_shards", cfg.Indexer.NumShards,
		"data_dir", cfg.Indexer.DataDir,
		"suffix", cfg.ForwardIndex.Suffix,
	)
	checker := health.NewChecker(2 * time.Second)
	checker.Register("kafka", func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	})

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdown := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"GET /health/live":  checker.LiveHandler(),
			"GET /health/ready": checker.ReadyHandler(),
		})
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(sctx)
		}()
	}

	sink, closeSink, err := openSink(ctx, cfg.Postgres, checker)
	if err != nil {
		return err
	}
	defer closeSink()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SegmentBuilt)
	defer producer.Close()

	router, err := shard.NewRouter(cfg.Indexer, cfg.ForwardIndex, indexer.Options{
		Sink:      sink,
		Metrics:   m,
		Publisher: producer,
	})
	if err != nil {
		return fmt.Errorf("opening shards: %w", err)
	}
	defer router.Close()

	for _, engine := range router.Engines() {
		engine.StartFlushLoop(ctx)
	}
	for _, st := range router.Stats() {
		slog.Info("shard ready", "shard_id", st.ShardID, "segments", st.Segments, "docs", st.Docs)
	}

	ingest := consumer.New(kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.DocumentIngest,
		consumer.HandleMessageSharded(router),
	))
	slog.Info("indexer service ready",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", cfg.Kafka.ConsumerGroup,
		"announce_topic", cfg.Kafka.Topics.SegmentBuilt,
	)
	if err := ingest.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("flushing all shards before shutdown")
	fctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return router.FlushAll(fctx)
}

// openSink picks where field attributes go: Postgres when enabled, memory
// otherwise.
func openSink(ctx context.Context, cfg config.PostgresConfig, checker *health.Checker) (attrs.Sink, func(), error) {
	if !cfg.Enabled {
		return attrs.NewMemorySink(), func() {}, nil
	}
	db, err := postgres.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	sink := attrs.NewPostgresSink(db, resilience.DefaultRetryConfig())
	if err := sink.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("preparing field attribute schema: %w", err)
	}
	checker.Register("postgres", db.Ping)
	slog.Info("field attributes published to postgres", "host", cfg.Host, "database", cfg.Database)
	return sink, func() { db.Close() }, nil
}
