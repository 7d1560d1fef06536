package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/parentchild/engine/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "pcr.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.ParentChunkSize != 2000 || c.ParentOverlap != 500 || c.ChildChunkSize != 500 || c.ChildOverlap != 100 {
		t.Fatalf("chunk defaults = %+v", c)
	}
	if c.EmbeddingBatchSize != 100 || c.ConcurrencyLimit != 5 || c.TopK != 5 {
		t.Fatalf("pipeline defaults = %+v", c)
	}
	if c.ParentStore.Backend != BackendJSON || c.ParentStore.Dir != "parent_store" {
		t.Fatalf("parent store = %+v", c.ParentStore)
	}
	if c.Retrieval.SearchTimeout != 5*time.Second || c.Index.Metric != "cosine" {
		t.Fatal("retrieval/index defaults")
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	p := writeFile(t, `
index_name: manuals
namespace: cars
embedding_dimension: 1024
chunk_parents: true
child_overlap: 0
retrieval:
  search_timeout: 2s
  overfetch: 3
parent_store:
  backend: sqlite
  sqlite_path: /tmp/p.db
`)
	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.IndexName != "manuals" || c.Namespace != "cars" || c.EmbeddingDimension != 1024 || !c.ChunkParents {
		t.Fatalf("core = %+v", c)
	}
	if c.ChildOverlap != 0 || c.ChildChunkSize != 500 {
		t.Fatalf("explicit zero overlap lost: %d/%d", c.ChildOverlap, c.ChildChunkSize)
	}
	if c.Retrieval.SearchTimeout != 2*time.Second || c.Retrieval.Overfetch != 3 {
		t.Fatalf("retrieval = %+v", c.Retrieval)
	}
	if c.ParentStore.Backend != BackendSQLite || c.ParentStore.Dir != "parent_store" {
		t.Fatalf("parent store = %+v", c.ParentStore)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PCR_QDRANT_ADDR", "qdrant:6334")
	t.Setenv("PCR_NAMESPACE", "env-ns")
	t.Setenv("PCR_EMBEDDING_DIMENSION", "384")
	c, err := Load(writeFile(t, "namespace: file-ns\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Qdrant.Addr != "qdrant:6334" || c.Namespace != "env-ns" || c.EmbeddingDimension != 384 {
		t.Fatalf("env not applied: %+v", c)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("missing file: %v", err)
	}
	if _, err := Load(writeFile(t, "top_k: [1")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"dimension", func(c *Config) { c.EmbeddingDimension = 0 }},
		{"child size", func(c *Config) { c.ChildChunkSize = -1 }},
		{"child overlap", func(c *Config) { c.ChildOverlap = c.ChildChunkSize }},
		{"parent overlap", func(c *Config) { c.ChunkParents = true; c.ParentOverlap = 5000 }},
		{"batch", func(c *Config) { c.EmbeddingBatchSize = 0 }},
		{"concurrency", func(c *Config) { c.ConcurrencyLimit = 0 }},
		{"top k", func(c *Config) { c.TopK = 0 }},
		{"backend", func(c *Config) { c.ParentStore.Backend = "redis" }},
		{"index name", func(c *Config) { c.IndexName = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mut(&c)
			if err := c.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	c := Default()
	c.ChunkParents = true
	c.ParentStore.LoadOnStart = true
	if err := c.Validate(); !errors.Is(err, domain.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
	// Parent sizes are ignored without parent chunking.
	c = Default()
	c.ParentOverlap = 9999
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	c := Default()
	c.Namespace = "ns"
	data, err := c.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Load(writeFile(t, string(data)))
	if err != nil {
		t.Fatal(err)
	}
	if back.Namespace != "ns" || back.Ollama.Timeout != c.Ollama.Timeout {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestNewLogger(t *testing.T) {
	var sb strings.Builder
	LogConfig{Level: "warn", Format: "text"}.NewLogger(&sb).Info("hidden")
	if sb.Len() != 0 {
		t.Fatal("info should be filtered at warn")
	}
	LogConfig{Level: "debug"}.NewLogger(&sb).Debug("shown", "k", 1)
	if !strings.Contains(sb.String(), `"msg":"shown"`) {
		t.Fatalf("json output = %s", sb.String())
	}
}
