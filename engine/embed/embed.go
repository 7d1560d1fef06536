// Package embed turns child texts into vectors through an Embedder, either
// one batch at a time or with a bounded number of batches in flight.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/WessleyAI/parentchild/engine/domain"
	"github.com/WessleyAI/parentchild/pkg/fn"
	"github.com/WessleyAI/parentchild/pkg/metrics"
)

const tracerName = "github.com/WessleyAI/parentchild/engine/embed"

// Embedder is the embedding collaborator. EmbedBatch must return one vector
// per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Options configures a Pipeline.
type Options struct {
	// BatchSize is the number of texts per EmbedBatch call.
	BatchSize int
	// Concurrency caps the batches in flight in Concurrent mode.
	Concurrency int
	// Dimension is the expected vector length. Zero skips the check.
	Dimension int
	// Retry applies to each batch in Concurrent mode.
	Retry fn.RetryOpts
	// Progress receives a snapshot after every finished batch.
	Progress ProgressFunc
	Logger   *slog.Logger
	Metrics  *metrics.Registry
}

// DefaultOptions returns batches of 100, five in flight and three attempts
// per batch.
func DefaultOptions() Options {
	return Options{
		BatchSize:   100,
		Concurrency: 5,
		Retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Jitter:      true,
		},
	}
}

// Pipeline embeds ordered text sequences.
type Pipeline struct {
	embedder Embedder
	opts     Options
	log      *slog.Logger
	m        pipelineMetrics
}

// New creates a Pipeline. Zero BatchSize and Concurrency take the defaults.
func New(e Embedder, opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = def.Retry
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{embedder: e, opts: opts, log: log, m: newPipelineMetrics(opts.Metrics)}
}

// BatchSize returns the configured batch size.
func (p *Pipeline) BatchSize() int { return p.opts.BatchSize }

// Query embeds a single query text.
func (p *Pipeline) Query(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: query: %w", err)
	}
	if err := p.checkDimension(vec); err != nil {
		return nil, fmt.Errorf("embed: query: %w", err)
	}
	return vec, nil
}

// Sequential embeds texts one batch after another. The first failing batch
// aborts the call.
func (p *Pipeline) Sequential(ctx context.Context, texts []string) ([][]float32, error) {
	spans := fn.Ranges(len(texts), p.opts.BatchSize)
	out := make([][]float32, 0, len(texts))
	var c Counter
	for i, s := range spans {
		vecs, err := p.embedBatch(ctx, i, texts[s.Start:s.End])
		if err != nil {
			p.m.failed.Inc()
			return nil, fmt.Errorf("embed: batch %d [%d:%d]: %w", i, s.Start, s.End, err)
		}
		out = append(out, vecs...)
		c.done(s.Len())
		p.report(&c, len(spans), len(texts))
	}
	return out, nil
}

// BatchOutcome records how one batch of a Concurrent run ended.
type BatchOutcome struct {
	Index    int
	Start    int
	End      int
	OK       bool
	Attempts int
	Err      error
}

// Result is the outcome of a Concurrent run. Vectors has one slot per input
// text; slots of failed batches are nil.
type Result struct {
	Vectors  [][]float32
	Batches  []BatchOutcome
	Failed   int
	Embedded int
}

// Err returns domain.ErrNoEmbeddings when there was input but no vector was
// produced, nil otherwise.
func (r Result) Err() error {
	if len(r.Vectors) > 0 && r.Embedded == 0 {
		errs := []error{domain.ErrNoEmbeddings}
		for _, b := range r.Batches {
			if b.Err != nil {
				errs = append(errs, b.Err)
				break
			}
		}
		return errors.Join(errs...)
	}
	return nil
}

// Concurrent embeds texts with at most Concurrency batches in flight. Each
// batch is retried per Options.Retry; a batch that still fails is logged and
// recorded, and the remaining batches carry on. Results land at the input
// positions of their batch, independent of completion order.
func (p *Pipeline) Concurrent(ctx context.Context, texts []string) Result {
	spans := fn.Ranges(len(texts), p.opts.BatchSize)
	res := Result{
		Vectors: make([][]float32, len(texts)),
		Batches: make([]BatchOutcome, len(spans)),
	}
	for i, s := range spans {
		res.Batches[i] = BatchOutcome{Index: i, Start: s.Start, End: s.End}
	}

	sem := semaphore.NewWeighted(int64(p.opts.Concurrency))
	var wg sync.WaitGroup
	var c Counter

	for i, s := range spans {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(spans); j++ {
				res.Batches[j].Err = err
			}
			p.log.Warn("embed: run cancelled", "pending_batches", len(spans)-i, "error", err)
			break
		}
		wg.Add(1)
		go func(i int, s fn.Span) {
			defer wg.Done()
			defer sem.Release(1)

			out, attempts := fn.Retry(ctx, p.retryOpts(i), func(ctx context.Context) fn.Result[[][]float32] {
				vecs, err := p.embedBatch(ctx, i, texts[s.Start:s.End])
				return fn.FromPair(vecs, err)
			})
			vecs, err := out.Unwrap()
			res.Batches[i].Attempts = attempts
			if err != nil {
				res.Batches[i].Err = err
				c.fail()
				p.m.failed.Inc()
				p.log.Error("embed: batch failed",
					"batch", i, "start", s.Start, "end", s.End,
					"attempts", attempts, "error", err)
				p.report(&c, len(spans), len(texts))
				return
			}
			copy(res.Vectors[s.Start:s.End], vecs)
			res.Batches[i].OK = true
			c.done(s.Len())
			p.report(&c, len(spans), len(texts))
		}(i, s)
	}
	wg.Wait()

	for _, b := range res.Batches {
		if b.OK {
			res.Embedded += b.End - b.Start
		} else {
			res.Failed++
		}
	}
	return res
}

// retryOpts never retries a dimension mismatch.
func (p *Pipeline) retryOpts(batch int) fn.RetryOpts {
	opts := p.opts.Retry
	user := opts.Retryable
	opts.Retryable = func(err error) bool {
		if errors.Is(err, domain.ErrDimensionMismatch) {
			return false
		}
		return user == nil || user(err)
	}
	opts.OnRetry = func(attempt int, err error) {
		p.m.retries.Inc()
		p.log.Warn("embed: retrying batch", "batch", batch, "attempt", attempt, "error", err)
	}
	return opts
}

// embedBatch calls the embedder once and validates the response.
func (p *Pipeline) embedBatch(ctx context.Context, batch int, texts []string) ([][]float32, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "embed.batch", trace.WithAttributes(
		attribute.Int("batch", batch),
		attribute.Int("size", len(texts)),
	))
	defer span.End()

	start := time.Now()
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	p.m.latency.Since(start)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	if err == nil {
		for _, v := range vecs {
			if err = p.checkDimension(v); err != nil {
				break
			}
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p.m.embedded.Add(int64(len(vecs)))
	p.log.Debug("embed: batch done", "batch", batch, "size", len(texts),
		"bytes", EstimateBytes(texts), "duration", time.Since(start))
	return vecs, nil
}

func (p *Pipeline) checkDimension(v []float32) error {
	if p.opts.Dimension > 0 && len(v) != p.opts.Dimension {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(v), p.opts.Dimension)
	}
	return nil
}

func (p *Pipeline) report(c *Counter, batches, texts int) {
	if p.opts.Progress == nil {
		return
	}
	p.opts.Progress(c.Snapshot(batches, texts))
}

// Records pairs ids and metadata with the vectors of res, keeping only the
// positions that produced a vector, in input order.
func Records(ids []string, meta []domain.Metadata, res Result) []domain.EmbeddingRecord {
	out := make([]domain.EmbeddingRecord, 0, res.Embedded)
	for i, v := range res.Vectors {
		if v == nil {
			continue
		}
		out = append(out, domain.EmbeddingRecord{ID: ids[i], Vector: v, Metadata: meta[i]})
	}
	return out
}

// EstimateBytes approximates the request payload of a batch.
func EstimateBytes(texts []string) int {
	n := 0
	for _, t := range texts {
		n += len(t)
	}
	return n
}
