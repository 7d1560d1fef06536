// Package rag is the retrieval side of the index. It embeds a question,
// searches the child vectors of one namespace and returns the distinct
// parents those children came from, best first.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WessleyAI/parentchild/engine/domain"
	"github.com/WessleyAI/parentchild/pkg/metrics"
)

const tracerName = "github.com/WessleyAI/parentchild/engine/rag"

// QueryEmbedder turns a question into a vector.
type QueryEmbedder interface {
	Query(ctx context.Context, text string) ([]float32, error)
}

// Searcher abstracts the vector index query.
type Searcher interface {
	Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]domain.Match, error)
}

// ParentLookup resolves parent ids to records.
type ParentLookup interface {
	Get(id string) (domain.ParentRecord, bool)
}

// Options configures a Retriever.
type Options struct {
	// TopK is used when a call passes topK <= 0.
	TopK int
	// Overfetch multiplies topK for the vector query so that more distinct
	// parents survive dedup. Results are always capped at topK.
	Overfetch     int
	SearchTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Registry
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		Overfetch:     1,
		SearchTimeout: 5 * time.Second,
	}
}

// Hit is one retrieved parent with the best scoring child that led to it.
type Hit struct {
	Parent  domain.ParentRecord `json:"parent"`
	Score   float32             `json:"score"`
	ChildID string              `json:"child_id"`
}

// Retriever maps child matches back to parent records.
type Retriever struct {
	embed     QueryEmbedder
	search    Searcher
	parents   ParentLookup
	namespace string
	opts      Options
	logger    *slog.Logger

	queries *metrics.Counter
	hits    *metrics.Counter
	skipped *metrics.Counter
	latency *metrics.Histogram
}

// New creates a Retriever over one namespace.
func New(embedder QueryEmbedder, search Searcher, parents ParentLookup, namespace string, opts Options) *Retriever {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.Overfetch <= 0 {
		opts.Overfetch = def.Overfetch
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	return &Retriever{
		embed:     embedder,
		search:    search,
		parents:   parents,
		namespace: namespace,
		opts:      opts,
		logger:    logger,
		queries:   reg.Counter("pcr_retrieve_queries_total", "Retrieval requests."),
		hits:      reg.Counter("pcr_retrieve_parents_total", "Parents returned by retrieval."),
		skipped:   reg.Counter("pcr_retrieve_skipped_matches_total", "Matches whose parent is unknown to the parent store."),
		latency:   reg.Histogram("pcr_retrieve_seconds", "End-to-end retrieval latency.", nil),
	}
}

// Stats is a snapshot of the retriever counters.
type Stats struct {
	Queries int64 `json:"queries"`
	Parents int64 `json:"parents"`
	Skipped int64 `json:"skipped"`
}

// Stats returns the counters accumulated since construction.
func (r *Retriever) Stats() Stats {
	return Stats{Queries: r.queries.Value(), Parents: r.hits.Value(), Skipped: r.skipped.Value()}
}

// Retrieve returns up to topK distinct parents for query, ordered by the rank
// of their best child.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.ParentRecord, error) {
	hits, err := r.RetrieveWithScores(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ParentRecord, len(hits))
	for i, h := range hits {
		out[i] = h.Parent
	}
	return out, nil
}

// RetrieveWithScores is Retrieve with the score and id of the child that
// selected each parent.
func (r *Retriever) RetrieveWithScores(ctx context.Context, query string, topK int) ([]Hit, error) {
	if err := domain.ValidateQuery(query); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = r.opts.TopK
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.retrieve", trace.WithAttributes(
		attribute.String("namespace", r.namespace),
		attribute.Int("top_k", topK),
	))
	defer span.End()
	start := time.Now()
	defer r.latency.Since(start)
	r.queries.Inc()

	vec, err := r.embed.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.opts.SearchTimeout)
	defer cancel()
	matches, err := r.search.Query(searchCtx, r.namespace, vec, topK*r.opts.Overfetch, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("rag: search: %w", err)
	}

	hits := r.dedup(matches, topK)
	span.SetAttributes(attribute.Int("matches", len(matches)), attribute.Int("parents", len(hits)))
	r.logger.Debug("rag: retrieve done", "namespace", r.namespace,
		"matches", len(matches), "parents", len(hits), "duration", time.Since(start))
	return hits, nil
}

// dedup walks matches in rank order and keeps the first child of every known
// parent.
func (r *Retriever) dedup(matches []domain.Match, topK int) []Hit {
	seen := make(map[string]struct{}, len(matches))
	hits := make([]Hit, 0, min(topK, len(matches)))
	for _, m := range matches {
		pid := m.OriginalParentID()
		if _, dup := seen[pid]; dup {
			continue
		}
		rec, ok := r.parents.Get(pid)
		if !ok {
			r.skipped.Inc()
			r.logger.Debug("rag: parent not found, skipping match", "child_id", m.ID, "parent_id", pid)
			continue
		}
		seen[pid] = struct{}{}
		hits = append(hits, Hit{Parent: rec, Score: m.Score, ChildID: m.ID})
		r.hits.Inc()
		if len(hits) == topK {
			break
		}
	}
	return hits
}

// FormatContext renders hits as context blocks for a downstream prompt.
func FormatContext(hits []Hit) []string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] (score: %.3f)", h.Parent.ID, h.Score)
		if src := h.Parent.Metadata.String("source"); src != "" {
			fmt.Fprintf(&b, " (source: %s)", src)
		}
		b.WriteByte('\n')
		b.WriteString(h.Parent.Content)
		parts = append(parts, b.String())
	}
	return parts
}
