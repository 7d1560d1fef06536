// Package parentstore keeps parent records in memory for retrieval and
// optionally persists the whole mapping through a Backend.
package parentstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/WessleyAI/parentchild/engine/domain"
)

// Backend persists a namespace's parent mapping. PutAll replaces everything
// previously stored; LoadAll returns what was stored, empty if nothing was.
type Backend interface {
	Put(ctx context.Context, rec domain.ParentRecord) error
	PutAll(ctx context.Context, recs map[string]domain.ParentRecord) error
	LoadAll(ctx context.Context) (map[string]domain.ParentRecord, error)
}

// Options configures a Store.
type Options struct {
	// ChunkParents marks a store fed by parent-chunked ingestion. Such a
	// store cannot be reloaded.
	ChunkParents bool
	Logger       *slog.Logger
}

// Store maps parent and parent-chunk ids to their records. Safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	parents map[string]domain.ParentRecord
	backend Backend
	opts    Options
	log     *slog.Logger
}

// New creates an empty Store. backend may be nil for a memory-only store.
func New(backend Backend, opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		parents: make(map[string]domain.ParentRecord),
		backend: backend,
		opts:    opts,
		log:     log,
	}
}

// Put adds or replaces one record.
func (s *Store) Put(rec domain.ParentRecord) {
	s.mu.Lock()
	s.parents[rec.ID] = rec
	s.mu.Unlock()
}

// PutAll adds or replaces records.
func (s *Store) PutAll(recs []domain.ParentRecord) {
	s.mu.Lock()
	for _, r := range recs {
		s.parents[r.ID] = r
	}
	s.mu.Unlock()
}

// Get returns the record for id.
func (s *Store) Get(id string) (domain.ParentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.parents[id]
	return r, ok
}

// Has reports whether id is known.
func (s *Store) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.parents)
}

// All returns every record sorted by id.
func (s *Store) All() []domain.ParentRecord {
	s.mu.RLock()
	out := make([]domain.ParentRecord, 0, len(s.parents))
	for _, r := range s.parents {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear drops every record from memory. The backend is untouched.
func (s *Store) Clear() {
	s.mu.Lock()
	s.parents = make(map[string]domain.ParentRecord)
	s.mu.Unlock()
}

// snapshot copies the mapping.
func (s *Store) snapshot() map[string]domain.ParentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.ParentRecord, len(s.parents))
	for k, v := range s.parents {
		out[k] = v
	}
	return out
}

// Flush writes the whole mapping to the backend, replacing what it held.
// Without a backend Flush does nothing.
func (s *Store) Flush(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	snap := s.snapshot()
	if err := s.backend.PutAll(ctx, snap); err != nil {
		return fmt.Errorf("parentstore: flush: %w", err)
	}
	s.log.Info("parentstore: flushed", "records", len(snap))
	return nil
}

// Load replaces the in-memory mapping with the backend's contents. It fails
// with domain.ErrNotSupported for parent-chunked stores.
func (s *Store) Load(ctx context.Context) error {
	if s.opts.ChunkParents {
		return fmt.Errorf("parentstore: load with parent chunking: %w", domain.ErrNotSupported)
	}
	if s.backend == nil {
		return nil
	}
	recs, err := s.backend.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("parentstore: load: %w", err)
	}
	if recs == nil {
		recs = make(map[string]domain.ParentRecord)
	}
	s.mu.Lock()
	s.parents = recs
	s.mu.Unlock()
	s.log.Info("parentstore: loaded", "records", len(recs))
	return nil
}
