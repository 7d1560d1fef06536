package embed

import "github.com/WessleyAI/parentchild/pkg/metrics"

type pipelineMetrics struct {
	embedded *metrics.Counter
	failed   *metrics.Counter
	retries  *metrics.Counter
	latency  *metrics.Histogram
}

// newPipelineMetrics registers the pipeline metrics on r, or on a private
// registry when r is nil.
func newPipelineMetrics(r *metrics.Registry) pipelineMetrics {
	if r == nil {
		r = metrics.New()
	}
	return pipelineMetrics{
		embedded: r.Counter("pcr_embedded_vectors_total", "Vectors returned by the embedder."),
		failed:   r.Counter("pcr_embed_failed_batches_total", "Embedding batches that failed after retries."),
		retries:  r.Counter("pcr_embed_retries_total", "Embedding batch retries."),
		latency:  r.Histogram("pcr_embed_batch_seconds", "Latency of a single EmbedBatch call.", nil),
	}
}
