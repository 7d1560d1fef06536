// Package config loads the YAML configuration shared by the binaries.
// Values come from defaults, then the file, then PCR_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/parentchild/engine/domain"
)

// Config is the full configuration. The flat keys describe the index and
// its chunking; the sections configure collaborators and transports.
type Config struct {
	IndexName          string `yaml:"index_name"`
	Namespace          string `yaml:"namespace"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`
	ChunkParents       bool   `yaml:"chunk_parents"`
	ParentChunkSize    int    `yaml:"parent_chunk_size"`
	ParentOverlap      int    `yaml:"parent_overlap"`
	ChildChunkSize     int    `yaml:"child_chunk_size"`
	ChildOverlap       int    `yaml:"child_overlap"`
	EmbeddingBatchSize int    `yaml:"embedding_batch_size"`
	ConcurrencyLimit   int    `yaml:"concurrency_limit"`
	TopK               int    `yaml:"top_k"`

	Index       IndexConfig       `yaml:"index"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	ParentStore ParentStoreConfig `yaml:"parent_store"`
	Qdrant      QdrantConfig      `yaml:"qdrant"`
	Ollama      OllamaConfig      `yaml:"ollama"`
	Neo4j       Neo4jConfig       `yaml:"neo4j"`
	NATS        NATSConfig        `yaml:"nats"`
	HTTP        HTTPConfig        `yaml:"http"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// IndexConfig describes the vector collection.
type IndexConfig struct {
	Metric string `yaml:"metric"`
	Region string `yaml:"region,omitempty"`
	// ReadyTimeout bounds the wait for a new collection to become ready.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// EmbeddingConfig tunes calls to the embedding model.
type EmbeddingConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryWait   time.Duration `yaml:"retry_wait"`
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty"`
	Burst     int     `yaml:"burst,omitempty"`
	// BreakerThreshold opens the circuit after that many consecutive
	// failures; zero disables the breaker.
	BreakerThreshold int `yaml:"breaker_threshold,omitempty"`
}

// RetrievalConfig tunes the retriever.
type RetrievalConfig struct {
	Overfetch     int           `yaml:"overfetch"`
	SearchTimeout time.Duration `yaml:"search_timeout"`
}

// Parent store backends.
const (
	BackendMemory = "memory"
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// ParentStoreConfig selects where parent records are persisted.
type ParentStoreConfig struct {
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	SQLitePath  string `yaml:"sqlite_path,omitempty"`
	LoadOnStart bool   `yaml:"load_on_start"`
}

type QdrantConfig struct {
	Addr string `yaml:"addr"`
}

type OllamaConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database,omitempty"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type HTTPConfig struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"cors_origin"`
	MaxBody    int64  `yaml:"max_body"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load starts from Default, overlays the keys present in path and the
// environment overrides, and validates the result. An empty path skips the
// file. Keys absent from the file keep their defaults, so an explicit zero
// such as child_overlap: 0 is honoured.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config: %s not found: %w", path, err)
			}
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	setStr(&c.IndexName, "parent-child-index")
	setInt(&c.EmbeddingDimension, 768)
	setInt(&c.ParentChunkSize, 2000)
	setInt(&c.ParentOverlap, 500)
	setInt(&c.ChildChunkSize, 500)
	setInt(&c.ChildOverlap, 100)
	setInt(&c.EmbeddingBatchSize, 100)
	setInt(&c.ConcurrencyLimit, 5)
	setInt(&c.TopK, 5)

	setStr(&c.Index.Metric, "cosine")
	setDur(&c.Index.ReadyTimeout, 60*time.Second)
	setInt(&c.Embedding.MaxAttempts, 3)
	setDur(&c.Embedding.RetryWait, 500*time.Millisecond)
	setInt(&c.Retrieval.Overfetch, 1)
	setDur(&c.Retrieval.SearchTimeout, 5*time.Second)
	setStr(&c.ParentStore.Backend, BackendJSON)
	setStr(&c.ParentStore.Dir, "parent_store")
	setStr(&c.Qdrant.Addr, "localhost:6334")
	setStr(&c.Ollama.URL, "http://localhost:11434")
	setStr(&c.Ollama.Model, "nomic-embed-text")
	setDur(&c.Ollama.Timeout, 60*time.Second)
	setStr(&c.Neo4j.URI, "bolt://localhost:7687")
	setStr(&c.Neo4j.User, "neo4j")
	setStr(&c.NATS.URL, "nats://localhost:4222")
	setStr(&c.HTTP.Addr, ":8080")
	setStr(&c.HTTP.CORSOrigin, "*")
	if c.HTTP.MaxBody <= 0 {
		c.HTTP.MaxBody = 32 << 20
	}
	setStr(&c.Metrics.Addr, ":9090")
	setStr(&c.Log.Level, "info")
	setStr(&c.Log.Format, "json")
}

// applyEnv overrides connection settings from PCR_* variables.
func (c *Config) applyEnv() {
	c.IndexName = envOr("PCR_INDEX_NAME", c.IndexName)
	c.Namespace = envOr("PCR_NAMESPACE", c.Namespace)
	c.Qdrant.Addr = envOr("PCR_QDRANT_ADDR", c.Qdrant.Addr)
	c.Ollama.URL = envOr("PCR_OLLAMA_URL", c.Ollama.URL)
	c.Ollama.Model = envOr("PCR_OLLAMA_MODEL", c.Ollama.Model)
	c.Neo4j.URI = envOr("PCR_NEO4J_URI", c.Neo4j.URI)
	c.Neo4j.User = envOr("PCR_NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Password = envOr("PCR_NEO4J_PASSWORD", c.Neo4j.Password)
	c.NATS.URL = envOr("PCR_NATS_URL", c.NATS.URL)
	c.HTTP.Addr = envOr("PCR_HTTP_ADDR", c.HTTP.Addr)
	c.Metrics.Addr = envOr("PCR_METRICS_ADDR", c.Metrics.Addr)
	c.Log.Level = envOr("PCR_LOG_LEVEL", c.Log.Level)
	c.ParentStore.Backend = envOr("PCR_PARENT_STORE", c.ParentStore.Backend)
	if v := os.Getenv("PCR_EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EmbeddingDimension = n
		}
	}
}

// Validate checks sizes and enumerations.
func (c Config) Validate() error {
	invalid := func(field string, v any) error {
		return domain.NewValidationError(field, fmt.Sprint(v), domain.ErrInvalidConfig)
	}
	switch {
	case strings.TrimSpace(c.IndexName) == "":
		return invalid("index_name", c.IndexName)
	case c.EmbeddingDimension <= 0:
		return invalid("embedding_dimension", c.EmbeddingDimension)
	case c.ChildChunkSize <= 0:
		return invalid("child_chunk_size", c.ChildChunkSize)
	case c.ChildOverlap < 0 || c.ChildOverlap >= c.ChildChunkSize:
		return invalid("child_overlap", c.ChildOverlap)
	case c.ChunkParents && c.ParentChunkSize <= 0:
		return invalid("parent_chunk_size", c.ParentChunkSize)
	case c.ChunkParents && (c.ParentOverlap < 0 || c.ParentOverlap >= c.ParentChunkSize):
		return invalid("parent_overlap", c.ParentOverlap)
	case c.EmbeddingBatchSize <= 0:
		return invalid("embedding_batch_size", c.EmbeddingBatchSize)
	case c.ConcurrencyLimit <= 0:
		return invalid("concurrency_limit", c.ConcurrencyLimit)
	case c.TopK <= 0:
		return invalid("top_k", c.TopK)
	}
	switch c.ParentStore.Backend {
	case BackendMemory, BackendJSON, BackendSQLite, BackendNeo4j:
	default:
		return invalid("parent_store.backend", c.ParentStore.Backend)
	}
	if c.ChunkParents && c.ParentStore.LoadOnStart {
		return fmt.Errorf("config: parent_store.load_on_start with chunk_parents: %w", domain.ErrNotSupported)
	}
	return nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// NewLogger builds the process logger described by c. Format "text" gives
// a text handler, anything else JSON.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setStr(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}

func setDur(p *time.Duration, v time.Duration) {
	if *p == 0 {
		*p = v
	}
}
