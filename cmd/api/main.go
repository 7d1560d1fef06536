// Package main implements the parent-child retrieval API server.
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

	"github.com/WessleyAI/parentchild/engine/app"
	"github.com/WessleyAI/parentchild/engine/config"
	"github.com/WessleyAI/parentchild/pkg/metrics"
	"github.com/WessleyAI/parentchild/pkg/mid"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configPath := flag.String("config", envOr("PCR_CONFIG", ""), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
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
	if cfg.Metrics.Addr != "" && cfg.Metrics.Addr != cfg.HTTP.Addr {
		reg.ServeAsync(ctx, cfg.Metrics.Addr, logger)
	}

	s := &server{
		indexer:   a.Indexer,
		retriever: a.Retriever,
		vectors:   a.Vectors,
		parents:   a.Parents,
		namespace: cfg.Namespace,
		log:       logger,
	}
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      s.handler(cfg.HTTP, reg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.HTTP.Addr, "index", cfg.IndexName, "namespace", cfg.Namespace)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// handler builds the routed, instrumented handler.
func (s *server) handler(cfg config.HTTPConfig, reg *metrics.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/documents", s.handleDocuments)
	mux.HandleFunc("POST /api/retrieve", s.handleRetrieve)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("DELETE /api/namespace", s.handleDeleteNamespace)
	mux.Handle("GET /metrics", reg.Handler())

	mw := []mid.Middleware{
		mid.Recover(s.log),
		mid.RequestID(),
		mid.Logger(s.log),
		mid.Metrics(reg),
		mid.OTel("parentchild-api"),
		mid.CORS(cfg.CORSOrigin),
	}
	if cfg.MaxBody > 0 {
		mw = append(mw, mid.MaxBody(cfg.MaxBody))
	}
	return mid.Chain(mux, mw...)
}
