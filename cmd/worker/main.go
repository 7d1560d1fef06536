// Package main runs the NATS worker: it indexes document batches published
// on the ingest subject and answers retrieval requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/parentchild/engine/app"
	"github.com/WessleyAI/parentchild/engine/config"
	"github.com/WessleyAI/parentchild/engine/ingest"
	"github.com/WessleyAI/parentchild/engine/rag"
	"github.com/WessleyAI/parentchild/pkg/metrics"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configPath := flag.String("config", envOr("PCR_CONFIG", ""), "path to the YAML config file")
	queue := flag.String("queue", envOr("PCR_WORKER_QUEUE", "parentchild-workers"), "queue group shared by the workers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, *queue, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, queue string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	a, err := app.New(ctx, cfg, logger, reg, app.Options{})
	if err != nil {
		return fmt.Errorf("wire components: %w", err)
	}
	defer a.Close()
	if err := a.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("parentchild-worker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	if err := subscribe(nc, a.Indexer, a.Retriever, queue, logger); err != nil {
		return err
	}
	if cfg.Metrics.Addr != "" {
		reg.ServeAsync(ctx, cfg.Metrics.Addr, logger)
	}

	logger.Info("worker started",
		"ingest", ingest.IngestSubject, "retrieve", rag.RetrieveSubject,
		"namespace", cfg.Namespace, "nats", cfg.NATS.URL)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// subscribe attaches the ingest consumer and the retrieval responder.
func subscribe(nc *nats.Conn, ix *ingest.Indexer, r *rag.Retriever, queue string, logger *slog.Logger) error {
	if _, err := ix.StartConsumer(nc, ingest.ConsumerOptions{Queue: queue, Logger: logger}); err != nil {
		return fmt.Errorf("subscribe %s: %w", ingest.IngestSubject, err)
	}
	if _, err := r.StartResponder(nc, rag.ResponderOptions{Queue: queue, Logger: logger}); err != nil {
		return fmt.Errorf("subscribe %s: %w", rag.RetrieveSubject, err)
	}
	return nil
}
