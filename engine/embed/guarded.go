package embed

import (
	"context"

	"github.com/WessleyAI/parentchild/pkg/resilience"
)

// Guarded wraps an Embedder with an optional rate limiter and circuit
// breaker. The limiter waits for a token; the breaker fails fast with
// resilience.ErrCircuitOpen once the embedder keeps failing.
type Guarded struct {
	Embedder Embedder
	Limiter  *resilience.Limiter
	Breaker  *resilience.Breaker
}

// EmbedBatch implements Embedder.
func (g Guarded) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.Embedder.EmbedBatch(ctx, texts)
		return err
	})
	return out, err
}

// EmbedQuery implements Embedder.
func (g Guarded) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.Embedder.EmbedQuery(ctx, text)
		return err
	})
	return out, err
}

func (g Guarded) call(ctx context.Context, f func(context.Context) error) error {
	run := f
	if g.Breaker != nil {
		run = func(ctx context.Context) error { return g.Breaker.Call(ctx, f) }
	}
	if g.Limiter != nil {
		return g.Limiter.CallWait(ctx, run)
	}
	return run(ctx)
}
