package embed

import "sync/atomic"

// Progress is a snapshot of an embedding run.
type Progress struct {
	Batches       int
	BatchesDone   int
	BatchesFailed int
	Texts         int
	TextsDone     int
}

// ProgressFunc receives progress snapshots. It may be called from several
// goroutines at once.
type ProgressFunc func(Progress)

// Counter tracks finished batches and texts. Safe for concurrent use.
type Counter struct {
	batches atomic.Int64
	failed  atomic.Int64
	texts   atomic.Int64
}

func (c *Counter) done(texts int) {
	c.texts.Add(int64(texts))
	c.batches.Add(1)
}

func (c *Counter) fail() { c.failed.Add(1) }

// Snapshot returns the current counts against the run totals.
func (c *Counter) Snapshot(batches, texts int) Progress {
	return Progress{
		Batches:       batches,
		BatchesDone:   int(c.batches.Load()),
		BatchesFailed: int(c.failed.Load()),
		Texts:         texts,
		TextsDone:     int(c.texts.Load()),
	}
}
