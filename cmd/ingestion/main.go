// Command ingestion starts the document ingestion HTTP service.
//
// The service accepts annotated documents via POST /api/v1/documents and
// POST /api/v1/documents/batch, validates them and publishes them to the
// ingest topic for the indexers.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/forward-index/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/middleware"
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
		slog.Error("ingestion service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting ingestion service", "port", cfg.Server.Port, "topic", cfg.Kafka.Topics.DocumentIngest)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, nil)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(sctx)
		}()
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer producer.Close()

	checker := health.NewChecker(2 * time.Second)
	checker.Register("kafka", func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	})

	mux := http.NewServeMux()
	handler.New(publisher.New(producer), m).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.RequestID(middleware.Metrics(m)(mux)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return serve(ctx, server, cfg.Server.ShutdownTimeout)
}

// serve runs server until ctx ends, then drains it within grace.
func serve(ctx context.Context, server *http.Server, grace time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("ingestion service listening", "addr", server.Addr)
		errc <- server.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutdown signal received")
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return server.Shutdown(sctx)
}
