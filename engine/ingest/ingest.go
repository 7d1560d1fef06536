// Package ingest turns documents into parent records and child vectors. It
// holds the hierarchical chunker, the Indexer that drives a batch of
// documents through chunk, embed and upsert stages, and the NATS consumer
// that feeds the Indexer.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/parentchild/engine/domain"
	"github.com/WessleyAI/parentchild/engine/embed"
	"github.com/WessleyAI/parentchild/engine/parentstore"
	"github.com/WessleyAI/parentchild/pkg/fn"
	"github.com/WessleyAI/parentchild/pkg/metrics"
)

// DefaultUpsertBatch is the number of records per vector index write.
const DefaultUpsertBatch = 512

// VectorIndex is the write side of the vector index.
type VectorIndex interface {
	Upsert(ctx context.Context, namespace string, records []domain.EmbeddingRecord) error
}

// Mode selects how children are embedded.
type Mode int

const (
	// Sync embeds batch after batch and aborts on the first failure.
	Sync Mode = iota
	// Concurrent embeds batches in parallel and keeps what succeeded.
	Concurrent
)

func (m Mode) String() string {
	if m == Concurrent {
		return "concurrent"
	}
	return "sync"
}

// ParseMode maps "sync" or "concurrent" to a Mode. Empty means Sync.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sync":
		return Sync, nil
	case "concurrent":
		return Concurrent, nil
	default:
		return Sync, domain.NewValidationError("mode", s, domain.ErrInvalidConfig)
	}
}

// Options configures an Indexer.
type Options struct {
	Namespace string
	// UpsertBatch caps records per Upsert call. Zero means DefaultUpsertBatch.
	UpsertBatch int
	Logger      *slog.Logger
	Metrics     *metrics.Registry
}

// AddOptions tunes one Add call.
type AddOptions struct {
	// SaveParents flushes the parent store to its backend after indexing.
	SaveParents bool
}

// Report describes what one Add call did.
type Report struct {
	ParentIDs     []string `json:"parent_ids"`
	Children      int      `json:"children"`
	Indexed       int      `json:"indexed"`
	FailedBatches int      `json:"failed_batches"`
	// TotalFailure is set when there were children but none got a vector.
	TotalFailure bool `json:"total_failure"`
	ParentsSaved bool `json:"parents_saved"`
}

// Err returns domain.ErrNoEmbeddings for a total failure.
func (r Report) Err() error {
	if r.TotalFailure {
		return domain.ErrNoEmbeddings
	}
	return nil
}

// Indexer indexes documents into one namespace.
type Indexer struct {
	chunker   Chunker
	pipeline  *embed.Pipeline
	index     VectorIndex
	parents   *parentstore.Store
	namespace string
	batch     int
	log       *slog.Logger
	m         indexerMetrics
}

// NewIndexer wires the chunker, embedding pipeline, vector index and parent
// store together.
func NewIndexer(c Chunker, p *embed.Pipeline, index VectorIndex, parents *parentstore.Store, opts Options) *Indexer {
	if opts.UpsertBatch <= 0 {
		opts.UpsertBatch = DefaultUpsertBatch
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		chunker:   c,
		pipeline:  p,
		index:     index,
		parents:   parents,
		namespace: opts.Namespace,
		batch:     opts.UpsertBatch,
		log:       log.With("namespace", opts.Namespace),
		m:         newIndexerMetrics(opts.Metrics),
	}
}

// Namespace returns the namespace the Indexer writes to.
func (ix *Indexer) Namespace() string { return ix.namespace }

// Parents returns the parent store.
func (ix *Indexer) Parents() *parentstore.Store { return ix.parents }

// run carries one Add call through the stages.
type run struct {
	mode     Mode
	opts     AddOptions
	docs     []domain.Document
	plans    []Plan
	children []domain.ChildChunk
	records  []domain.EmbeddingRecord
	report   Report
}

// Add indexes docs synchronously. Any embedding failure aborts the call
// after the parent records were stored.
func (ix *Indexer) Add(ctx context.Context, docs []domain.Document, opts AddOptions) (Report, error) {
	return ix.add(ctx, Sync, docs, opts)
}

// AddConcurrent indexes docs with concurrent embedding. Failed batches are
// skipped; when nothing could be embedded the Report has TotalFailure set
// and the error is nil.
func (ix *Indexer) AddConcurrent(ctx context.Context, docs []domain.Document, opts AddOptions) (Report, error) {
	return ix.add(ctx, Concurrent, docs, opts)
}

// AddMode dispatches to Add or AddConcurrent.
func (ix *Indexer) AddMode(ctx context.Context, mode Mode, docs []domain.Document, opts AddOptions) (Report, error) {
	return ix.add(ctx, mode, docs, opts)
}

func (ix *Indexer) add(ctx context.Context, mode Mode, docs []domain.Document, opts AddOptions) (Report, error) {
	start := time.Now()
	r := &run{mode: mode, opts: opts, docs: docs}
	res := ix.pipelineFor(mode)(ctx, r)
	if _, err := res.Unwrap(); err != nil {
		ix.log.Error("ingest: add failed", "mode", mode.String(), "documents", len(docs), "error", err)
		return r.report, err
	}
	ix.m.duration.Since(start)
	ix.log.Info("ingest: add done", "mode", mode.String(), "documents", len(docs),
		"children", r.report.Children, "indexed", r.report.Indexed,
		"failed_batches", r.report.FailedBatches, "duration", time.Since(start))
	return r.report, nil
}

// pipelineFor composes validate → chunk → embed → upsert → persist.
func (ix *Indexer) pipelineFor(mode Mode) fn.Stage[*run, *run] {
	embedStage := ix.embedSync
	if mode == Concurrent {
		embedStage = ix.embedConcurrent
	}
	validated := fn.Then(LoggedTap[*run]("validate", ix.log), fn.TracedStage[*run, *run]("ingest.validate", ix.validate))
	chunked := fn.Then(validated, fn.Then(LoggedTap[*run]("chunk", ix.log), fn.TracedStage[*run, *run]("ingest.chunk", ix.chunk)))
	embedded := fn.Then(chunked, fn.Then(LoggedTap[*run]("embed", ix.log), fn.TracedStage[*run, *run]("ingest.embed", embedStage)))
	upserted := fn.Then(embedded, fn.Then(LoggedTap[*run]("upsert", ix.log), fn.TracedStage[*run, *run]("ingest.upsert", ix.upsert)))
	return fn.Then(upserted, fn.Then(LoggedTap[*run]("persist", ix.log), fn.TracedStage[*run, *run]("ingest.persist", ix.persist)))
}

// LoggedTap returns a stage that logs entry and exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

func (ix *Indexer) validate(_ context.Context, r *run) fn.Result[*run] {
	for i, d := range r.docs {
		if err := domain.ValidateDocument(d); err != nil {
			return fn.Err[*run](fmt.Errorf("ingest: document %d: %w", i, err))
		}
	}
	return fn.Ok(r)
}

// chunk plans every document and stores the parent records before any
// embedding starts.
func (ix *Indexer) chunk(_ context.Context, r *run) fn.Result[*run] {
	r.plans = ix.chunker.SplitAll(r.docs)
	r.children = Flatten(r.plans)
	r.report.ParentIDs = make([]string, len(r.plans))
	for i, p := range r.plans {
		r.report.ParentIDs[i] = p.ParentID
		ix.parents.PutAll(p.Parents)
	}
	r.report.Children = len(r.children)
	ix.m.documents.Add(int64(len(r.docs)))
	ix.m.children.Add(int64(len(r.children)))
	ix.m.parents.Set(int64(ix.parents.Len()))
	return fn.Ok(r)
}

func childTexts(children []domain.ChildChunk) ([]string, []string, []domain.Metadata) {
	texts := make([]string, len(children))
	ids := make([]string, len(children))
	meta := make([]domain.Metadata, len(children))
	for i, c := range children {
		texts[i] = c.Text
		ids[i] = c.ChildID
		meta[i] = c.Payload()
	}
	return texts, ids, meta
}

func (ix *Indexer) embedSync(ctx context.Context, r *run) fn.Result[*run] {
	if len(r.children) == 0 {
		return fn.Ok(r)
	}
	texts, ids, meta := childTexts(r.children)
	vecs, err := ix.pipeline.Sequential(ctx, texts)
	if err != nil {
		return fn.Err[*run](fmt.Errorf("ingest: %w", err))
	}
	r.records = make([]domain.EmbeddingRecord, len(vecs))
	for i, v := range vecs {
		r.records[i] = domain.EmbeddingRecord{ID: ids[i], Vector: v, Metadata: meta[i]}
	}
	return fn.Ok(r)
}

func (ix *Indexer) embedConcurrent(ctx context.Context, r *run) fn.Result[*run] {
	if len(r.children) == 0 {
		return fn.Ok(r)
	}
	texts, ids, meta := childTexts(r.children)
	res := ix.pipeline.Concurrent(ctx, texts)
	r.report.FailedBatches = res.Failed
	r.records = embed.Records(ids, meta, res)
	if err := res.Err(); err != nil {
		r.report.TotalFailure = true
		ix.log.Error("ingest: no embeddings produced, skipping upsert",
			"children", len(texts), "failed_batches", res.Failed, "error", err)
	} else if res.Failed > 0 {
		ix.log.Warn("ingest: partial embedding",
			"embedded", res.Embedded, "children", len(texts), "failed_batches", res.Failed)
	}
	return fn.Ok(r)
}

// upsert writes the records in sub-batches. A failure is fatal.
func (ix *Indexer) upsert(ctx context.Context, r *run) fn.Result[*run] {
	for i, batch := range fn.Chunk(r.records, ix.batch) {
		if err := ix.index.Upsert(ctx, ix.namespace, batch); err != nil {
			return fn.Err[*run](fmt.Errorf("ingest: upsert batch %d: %w", i, err))
		}
		r.report.Indexed += len(batch)
	}
	ix.m.indexed.Add(int64(r.report.Indexed))
	return fn.Ok(r)
}

// persist flushes the parent store when asked. A failure is logged only.
func (ix *Indexer) persist(ctx context.Context, r *run) fn.Result[*run] {
	if !r.opts.SaveParents {
		return fn.Ok(r)
	}
	if err := ix.parents.Flush(ctx); err != nil {
		ix.m.flushFailures.Inc()
		ix.log.Error("ingest: saving parents failed", "error", err)
		return fn.Ok(r)
	}
	r.report.ParentsSaved = true
	return fn.Ok(r)
}

type indexerMetrics struct {
	documents     *metrics.Counter
	children      *metrics.Counter
	indexed       *metrics.Counter
	flushFailures *metrics.Counter
	parents       *metrics.Gauge
	duration      *metrics.Histogram
}

func newIndexerMetrics(r *metrics.Registry) indexerMetrics {
	if r == nil {
		r = metrics.New()
	}
	return indexerMetrics{
		documents:     r.Counter("pcr_ingest_documents_total", "Documents received for indexing."),
		children:      r.Counter("pcr_ingest_children_total", "Child chunks produced."),
		indexed:       r.Counter("pcr_ingest_indexed_total", "Child vectors written to the index."),
		flushFailures: r.Counter("pcr_parent_store_flush_failures_total", "Failed parent store flushes."),
		parents:       r.Gauge("pcr_parent_store_records", "Records held by the parent store."),
		duration:      r.Histogram("pcr_ingest_seconds", "Duration of a successful Add call.", nil),
	}
}
