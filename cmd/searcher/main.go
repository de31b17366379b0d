// Command searcher starts the token lookup service. It opens every shard's
// committed segments read-only, reloads when an indexer announces a new
// segment and answers token lookups over HTTP.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/searcher/reload"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/forward-index/pkg/redis"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		slog.Error("lookup service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("lookup service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting lookup service", "port", cfg.Server.Port, "num_shards", cfg.Indexer.NumShards)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, nil)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(sctx)
		}()
	}

	router, err := shard.NewRouter(cfg.Indexer, cfg.ForwardIndex, indexer.Options{Metrics: m})
	if err != nil {
		return fmt.Errorf("opening shards: %w", err)
	}
	defer router.Close()

	checker := health.NewChecker(2 * time.Second)
	checker.Register("shards", func(context.Context) error {
		if router.NumShards() == 0 {
			return errors.New("no shards open")
		}
		return nil
	})

	termCache, closeCache := openTermCache(cfg.Redis, m, checker)
	defer closeCache()

	go reload.Loop(ctx, router, cfg.Lookup.ReloadInterval)
	go followAnnouncements(ctx, cfg.Kafka, router)

	mux := http.NewServeMux()
	handler.New(router, termCache, cfg.Lookup, m).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.RequestID(middleware.Metrics(m)(mux)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("lookup service listening", "addr", server.Addr)
		errc <- server.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(sctx)
}

// openTermCache connects the Redis term cache. Lookups work without it, so
// an unreachable Redis only disables caching.
func openTermCache(cfg config.RedisConfig, m *metrics.Metrics, checker *health.Checker) (*cache.TermCache, func()) {
	client, err := pkgredis.NewClient(cfg)
	if err != nil {
		slog.Warn("redis unavailable, term caching disabled", "error", err)
		return nil, func() {}
	}
	checker.RegisterOptional("redis", client.Ping)
	slog.Info("term cache enabled", "addr", cfg.Addr, "ttl", cfg.CacheTTL)
	return cache.New(client, cfg.CacheTTL, m), func() { client.Close() }
}

// followAnnouncements reloads on every segment announcement. Every replica
// needs every announcement, so each joins its own consumer group.
func followAnnouncements(ctx context.Context, cfg config.KafkaConfig, router *shard.Router) {
	host, _ := os.Hostname()
	topic := cfg.Topics.SegmentBuilt
	cfg.ConsumerGroup = fmt.Sprintf("%s-lookup-%s", cfg.ConsumerGroup, host)
	c := kafka.NewConsumer(cfg, topic, reload.HandleSegmentBuilt(router))
	if err := c.Start(ctx); err != nil {
		slog.Error("segment announcement consumer failed", "error", err)
	}
}
