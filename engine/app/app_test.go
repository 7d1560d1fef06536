package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/WessleyAI/parentchild/engine/config"
	"github.com/WessleyAI/parentchild/engine/domain"
	"github.com/WessleyAI/parentchild/engine/embed"
	"github.com/WessleyAI/parentchild/engine/parentstore"
	"github.com/WessleyAI/parentchild/pkg/ollama"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNewWiresComponents(t *testing.T) {
	cfg := config.Default()
	cfg.ParentStore.Backend = config.BackendMemory
	a, err := New(context.Background(), cfg, quietLog, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.Vectors.Collection() != cfg.IndexName {
		t.Fatalf("collection = %s", a.Vectors.Collection())
	}
	if a.Indexer.Namespace() != cfg.Namespace || a.Indexer.Parents() != a.Parents {
		t.Fatal("indexer not wired to the parent store")
	}
	if a.Pipeline.BatchSize() != cfg.EmbeddingBatchSize {
		t.Fatal("pipeline batch size")
	}
	if _, ok := a.Embedder.(*ollama.Client); !ok {
		t.Fatalf("embedder = %T, want plain client", a.Embedder)
	}
	if a.Retriever == nil || a.Metrics == nil {
		t.Fatal("missing components")
	}
}

func TestNewGuardsEmbedder(t *testing.T) {
	cfg := config.Default()
	cfg.ParentStore.Backend = config.BackendMemory
	cfg.Embedding.RateLimit = 10
	cfg.Embedding.BreakerThreshold = 3
	a, err := New(context.Background(), cfg, quietLog, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	g, ok := a.Embedder.(embed.Guarded)
	if !ok || g.Limiter == nil || g.Breaker == nil {
		t.Fatalf("embedder = %#v", a.Embedder)
	}
}

func TestNewLoadsParentsOnStart(t *testing.T) {
	dir := t.TempDir()
	if err := parentstore.NewJSONFile(dir, "ns").PutAll(context.Background(), map[string]domain.ParentRecord{
		"parent-1": {ID: "parent-1", Content: "saved"},
	}); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Namespace = "ns"
	cfg.ParentStore.Dir = dir
	cfg.ParentStore.LoadOnStart = true
	a, err := New(context.Background(), cfg, quietLog, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if got, ok := a.Parents.Get("parent-1"); !ok || got.Content != "saved" {
		t.Fatal("parents not loaded")
	}
}

func TestNewParentBackend(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	cfg.ParentStore.Backend = config.BackendMemory
	if b, closer, err := NewParentBackend(ctx, cfg); b != nil || closer != nil || err != nil {
		t.Fatal("memory backend should be nil")
	}

	cfg.ParentStore.Backend = config.BackendJSON
	b, _, err := NewParentBackend(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*parentstore.JSONFile); !ok {
		t.Fatalf("backend = %T", b)
	}

	cfg.ParentStore.Backend = config.BackendSQLite
	cfg.ParentStore.SQLitePath = filepath.Join(t.TempDir(), "p.db")
	b, closer, err := NewParentBackend(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*parentstore.SQLite); !ok || closer == nil {
		t.Fatalf("backend = %T", b)
	}
	if err := closer(); err != nil {
		t.Fatal(err)
	}

	cfg.ParentStore.Backend = "redis"
	if _, _, err := NewParentBackend(ctx, cfg); err == nil {
		t.Fatal("expected error")
	}
}
