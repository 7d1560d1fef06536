// Package app builds the object graph shared by the binaries from a
// config.Config: vector index client, embedder, pipeline, parent store,
// indexer and retriever.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/parentchild/engine/config"
	"github.com/WessleyAI/parentchild/engine/embed"
	"github.com/WessleyAI/parentchild/engine/ingest"
	"github.com/WessleyAI/parentchild/engine/parentstore"
	"github.com/WessleyAI/parentchild/engine/rag"
	"github.com/WessleyAI/parentchild/engine/semantic"
	"github.com/WessleyAI/parentchild/pkg/fn"
	"github.com/WessleyAI/parentchild/pkg/metrics"
	"github.com/WessleyAI/parentchild/pkg/ollama"
	"github.com/WessleyAI/parentchild/pkg/resilience"
)

// App holds the wired components.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Registry
	Vectors   *semantic.VectorStore
	Embedder  embed.Embedder
	Pipeline  *embed.Pipeline
	Parents   *parentstore.Store
	Indexer   *ingest.Indexer
	Retriever *rag.Retriever

	closers []func() error
}

// Options customises New.
type Options struct {
	// Progress is handed to the embedding pipeline.
	Progress embed.ProgressFunc
}

// New connects and wires every component. Connections are lazy, so New
// does not need the services to be up.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *metrics.Registry, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: reg}

	vs, err := semantic.New(cfg.Qdrant.Addr, cfg.IndexName)
	if err != nil {
		return nil, err
	}
	a.Vectors = vs.WithLogger(logger)
	a.closers = append(a.closers, vs.Close)

	a.Embedder = guard(ollama.NewClient(cfg.Ollama.URL, cfg.Ollama.Model, cfg.Ollama.Timeout), cfg.Embedding, logger)
	a.Pipeline = embed.New(a.Embedder, embed.Options{
		BatchSize:   cfg.EmbeddingBatchSize,
		Concurrency: cfg.ConcurrencyLimit,
		Dimension:   cfg.EmbeddingDimension,
		Retry: fn.RetryOpts{
			MaxAttempts: cfg.Embedding.MaxAttempts,
			InitialWait: cfg.Embedding.RetryWait,
			MaxWait:     10 * cfg.Embedding.RetryWait,
			Jitter:      true,
		},
		Progress: opts.Progress,
		Logger:   logger,
		Metrics:  reg,
	})

	backend, closeBackend, err := NewParentBackend(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeBackend != nil {
		a.closers = append(a.closers, closeBackend)
	}
	a.Parents = parentstore.New(backend, parentstore.Options{ChunkParents: cfg.ChunkParents, Logger: logger})
	if cfg.ParentStore.LoadOnStart {
		if err := a.Parents.Load(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	chunker, err := ingest.NewChunker(cfg.ChunkParents, cfg.ParentChunkSize, cfg.ParentOverlap, cfg.ChildChunkSize, cfg.ChildOverlap)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Indexer = ingest.NewIndexer(chunker, a.Pipeline, a.Vectors, a.Parents, ingest.Options{
		Namespace: cfg.Namespace,
		Logger:    logger,
		Metrics:   reg,
	})
	a.Retriever = rag.New(a.Pipeline, a.Vectors, a.Parents, cfg.Namespace, rag.Options{
		TopK:          cfg.TopK,
		Overfetch:     cfg.Retrieval.Overfetch,
		SearchTimeout: cfg.Retrieval.SearchTimeout,
		Logger:        logger,
		Metrics:       reg,
	})
	return a, nil
}

// guard wraps e with the configured rate limiter and circuit breaker.
func guard(e embed.Embedder, cfg config.EmbeddingConfig, logger *slog.Logger) embed.Embedder {
	if cfg.RateLimit <= 0 && cfg.BreakerThreshold <= 0 {
		return e
	}
	g := embed.Guarded{Embedder: e}
	if cfg.RateLimit > 0 {
		g.Limiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RateLimit, Burst: cfg.Burst})
	}
	if cfg.BreakerThreshold > 0 {
		opts := resilience.DefaultBreakerOpts
		opts.FailThreshold = cfg.BreakerThreshold
		opts.OnStateChange = func(from, to resilience.State) {
			logger.Warn("embedder circuit breaker", "from", from.String(), "to", to.String())
		}
		g.Breaker = resilience.NewBreaker(opts)
	}
	return g
}

// NewParentBackend opens the configured parent store backend. The memory
// backend is nil. The returned close func may be nil.
func NewParentBackend(ctx context.Context, cfg config.Config) (parentstore.Backend, func() error, error) {
	ps := cfg.ParentStore
	switch ps.Backend {
	case config.BackendMemory:
		return nil, nil, nil
	case config.BackendJSON:
		return parentstore.NewJSONFile(ps.Dir, cfg.Namespace), nil, nil
	case config.BackendSQLite:
		path := ps.SQLitePath
		if path == "" {
			path = filepath.Join(ps.Dir, "parents.db")
		}
		db, err := parentstore.OpenSQLite(ctx, path, cfg.Namespace)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case config.BackendNeo4j:
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URI, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
		if err != nil {
			return nil, nil, fmt.Errorf("app: neo4j driver: %w", err)
		}
		closeDriver := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return driver.Close(ctx)
		}
		return parentstore.NewNeo4j(driver, cfg.Namespace, cfg.Neo4j.Database), closeDriver, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown parent store backend %q", ps.Backend)
	}
}

// EnsureIndex creates the collection if needed and waits until it is ready.
func (a *App) EnsureIndex(ctx context.Context) error {
	spec := semantic.IndexSpec{
		Dimension: a.Config.EmbeddingDimension,
		Metric:    a.Config.Index.Metric,
		Region:    a.Config.Index.Region,
	}
	if err := a.Vectors.CreateIndex(ctx, spec); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.Config.Index.ReadyTimeout)
	defer cancel()
	return a.Vectors.WaitReady(ctx, time.Second)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
