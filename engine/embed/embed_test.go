package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WessleyAI/parentchild/engine/domain"
	"github.com/WessleyAI/parentchild/pkg/fn"
	"github.com/WessleyAI/parentchild/pkg/metrics"
	"github.com/WessleyAI/parentchild/pkg/resilience"
)

// fakeEmbedder encodes each text's position as its vector: "t17" → [17, 0].
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	fail     func(texts []string) error
	delay    func(texts []string) time.Duration
	dim      int
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	if f.delay != nil {
		select {
		case <-time.After(f.delay(texts)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(texts); err != nil {
			return nil, err
		}
	}
	dim := f.dim
	if dim == 0 {
		dim = 2
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var pos int
		fmt.Sscanf(t, "t%d", &pos)
		v := make([]float32, dim)
		v[0] = float32(pos)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("t%d", i)
	}
	return out
}

func position(texts []string) int {
	var pos int
	fmt.Sscanf(texts[0], "t%d", &pos)
	return pos
}

var errDown = errors.New("embedder down")

func noRetry() Options {
	return Options{BatchSize: 100, Concurrency: 5, Retry: fn.NoRetry}
}

func TestSequentialPreservesOrder(t *testing.T) {
	f := &fakeEmbedder{}
	vecs, err := New(f, noRetry()).Sequential(context.Background(), texts(250))
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 250 || f.calls != 3 {
		t.Fatalf("vectors = %d, calls = %d", len(vecs), f.calls)
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Fatalf("position %d holds vector for %v", i, v[0])
		}
	}
}

func TestSequentialAbortsOnFirstFailure(t *testing.T) {
	f := &fakeEmbedder{fail: func(ts []string) error {
		if position(ts) == 100 {
			return errDown
		}
		return nil
	}}
	_, err := New(f, noRetry()).Sequential(context.Background(), texts(250))
	if !errors.Is(err, errDown) {
		t.Fatalf("expected errDown, got %v", err)
	}
	if f.calls != 2 {
		t.Fatalf("calls = %d, want 2", f.calls)
	}
}

func TestConcurrentPartialFailure(t *testing.T) {
	f := &fakeEmbedder{fail: func(ts []string) error {
		if position(ts) == 200 {
			return errDown
		}
		return nil
	}}
	res := New(f, noRetry()).Concurrent(context.Background(), texts(250))
	if res.Failed != 1 || res.Embedded != 200 {
		t.Fatalf("failed = %d, embedded = %d", res.Failed, res.Embedded)
	}
	if res.Err() != nil {
		t.Fatalf("partial failure should not be an error: %v", res.Err())
	}
	for i := 0; i < 200; i++ {
		if res.Vectors[i] == nil || res.Vectors[i][0] != float32(i) {
			t.Fatalf("position %d = %v", i, res.Vectors[i])
		}
	}
	for i := 200; i < 250; i++ {
		if res.Vectors[i] != nil {
			t.Fatalf("position %d should be empty", i)
		}
	}
	b := res.Batches[2]
	if b.OK || b.Start != 200 || b.End != 250 || !errors.Is(b.Err, errDown) {
		t.Fatalf("batch 2 outcome = %+v", b)
	}

	ids := texts(250)
	meta := make([]domain.Metadata, 250)
	recs := Records(ids, meta, res)
	if len(recs) != 200 || recs[199].ID != "t199" {
		t.Fatalf("records = %d", len(recs))
	}
}

func TestConcurrentOrderIndependentOfCompletion(t *testing.T) {
	// Earlier batches finish last.
	f := &fakeEmbedder{delay: func(ts []string) time.Duration {
		return time.Duration(10-position(ts)/10) * time.Millisecond
	}}
	res := New(f, Options{BatchSize: 10, Concurrency: 10, Retry: fn.NoRetry}).Concurrent(context.Background(), texts(100))
	if res.Embedded != 100 {
		t.Fatalf("embedded = %d", res.Embedded)
	}
	for i, v := range res.Vectors {
		if v[0] != float32(i) {
			t.Fatalf("position %d holds vector for %v", i, v[0])
		}
	}
}

func TestConcurrentRespectsCap(t *testing.T) {
	f := &fakeEmbedder{delay: func([]string) time.Duration { return 5 * time.Millisecond }}
	res := New(f, Options{BatchSize: 1, Concurrency: 3, Retry: fn.NoRetry}).Concurrent(context.Background(), texts(30))
	if res.Embedded != 30 {
		t.Fatalf("embedded = %d", res.Embedded)
	}
	if m := f.maxSeen.Load(); m > 3 {
		t.Fatalf("saw %d batches in flight, cap is 3", m)
	}
}

func TestConcurrentTotalFailure(t *testing.T) {
	f := &fakeEmbedder{fail: func([]string) error { return errDown }}
	res := New(f, noRetry()).Concurrent(context.Background(), texts(250))
	if res.Failed != 3 || res.Embedded != 0 {
		t.Fatalf("failed = %d, embedded = %d", res.Failed, res.Embedded)
	}
	if !errors.Is(res.Err(), domain.ErrNoEmbeddings) {
		t.Fatalf("expected ErrNoEmbeddings, got %v", res.Err())
	}
	if len(Records(texts(250), make([]domain.Metadata, 250), res)) != 0 {
		t.Fatal("expected no records")
	}
}

func TestConcurrentEmptyInput(t *testing.T) {
	res := New(&fakeEmbedder{}, noRetry()).Concurrent(context.Background(), nil)
	if res.Err() != nil || len(res.Batches) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestConcurrentRetriesTransientFailure(t *testing.T) {
	var failures atomic.Int64
	f := &fakeEmbedder{fail: func(ts []string) error {
		if position(ts) == 100 && failures.Add(1) <= 2 {
			return errDown
		}
		return nil
	}}
	opts := Options{BatchSize: 100, Concurrency: 5, Retry: fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}}
	res := New(f, opts).Concurrent(context.Background(), texts(250))
	if res.Failed != 0 || res.Embedded != 250 {
		t.Fatalf("failed = %d, embedded = %d", res.Failed, res.Embedded)
	}
	if res.Batches[1].Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Batches[1].Attempts)
	}
}

func TestDimensionMismatchFailsBatchWithoutRetry(t *testing.T) {
	f := &fakeEmbedder{dim: 3}
	opts := Options{BatchSize: 10, Dimension: 2, Retry: fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}}
	res := New(f, opts).Concurrent(context.Background(), texts(10))
	if res.Failed != 1 || !errors.Is(res.Batches[0].Err, domain.ErrDimensionMismatch) {
		t.Fatalf("outcome = %+v", res.Batches[0])
	}
	if f.calls != 1 {
		t.Fatalf("calls = %d, dimension errors must not be retried", f.calls)
	}
	if _, err := New(f, opts).Query(context.Background(), "t1"); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("query err = %v", err)
	}
}

func TestConcurrentCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeEmbedder{}
	res := New(f, Options{BatchSize: 10, Concurrency: 1, Retry: fn.NoRetry}).Concurrent(ctx, texts(50))
	if res.Embedded != 0 || res.Failed != 5 {
		t.Fatalf("failed = %d, embedded = %d", res.Failed, res.Embedded)
	}
}

func TestProgressReportsEveryBatch(t *testing.T) {
	var mu sync.Mutex
	var last Progress
	calls := 0
	opts := Options{BatchSize: 10, Concurrency: 4, Retry: fn.NoRetry, Progress: func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if p.TextsDone > last.TextsDone {
			last = p
		}
	}}
	New(&fakeEmbedder{}, opts).Concurrent(context.Background(), texts(95))
	if calls != 10 || last.TextsDone != 95 || last.Batches != 10 || last.Texts != 95 {
		t.Fatalf("calls = %d, last = %+v", calls, last)
	}
}

func TestMetricsRecorded(t *testing.T) {
	reg := metrics.New()
	f := &fakeEmbedder{fail: func(ts []string) error {
		if position(ts) == 0 {
			return errDown
		}
		return nil
	}}
	New(f, Options{BatchSize: 10, Retry: fn.NoRetry, Metrics: reg}).Concurrent(context.Background(), texts(30))
	if v := reg.Counter("pcr_embedded_vectors_total", "").Value(); v != 20 {
		t.Fatalf("embedded counter = %d", v)
	}
	if v := reg.Counter("pcr_embed_failed_batches_total", "").Value(); v != 1 {
		t.Fatalf("failed counter = %d", v)
	}
}

func TestEstimateBytes(t *testing.T) {
	if EstimateBytes([]string{"ab", "cde", ""}) != 5 {
		t.Fatal("wrong estimate")
	}
}

func TestGuardedBreakerOpens(t *testing.T) {
	f := &fakeEmbedder{fail: func([]string) error { return errDown }}
	g := Guarded{
		Embedder: f,
		Limiter:  resilience.NewLimiter(resilience.LimiterOpts{}),
		Breaker:  resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute}),
	}
	ctx := context.Background()
	_, _ = g.EmbedBatch(ctx, []string{"t0"})
	_, _ = g.EmbedQuery(ctx, "t0")
	if _, err := g.EmbedBatch(ctx, []string{"t0"}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if f.calls != 2 {
		t.Fatalf("calls = %d", f.calls)
	}
}

func TestGuardedPassesThrough(t *testing.T) {
	g := Guarded{Embedder: &fakeEmbedder{}}
	v, err := g.EmbedQuery(context.Background(), "t7")
	if err != nil || v[0] != 7 {
		t.Fatalf("got %v, %v", v, err)
	}
}
