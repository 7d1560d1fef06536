package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/WessleyAI/parentchild/engine/domain"
	"github.com/WessleyAI/parentchild/engine/ingest"
	"github.com/WessleyAI/parentchild/engine/rag"
	"github.com/WessleyAI/parentchild/engine/semantic"
)

type indexer interface {
	AddMode(ctx context.Context, mode ingest.Mode, docs []domain.Document, opts ingest.AddOptions) (ingest.Report, error)
}

type retriever interface {
	RetrieveWithScores(ctx context.Context, query string, topK int) ([]rag.Hit, error)
	Stats() rag.Stats
}

type vectorAdmin interface {
	DescribeStats(ctx context.Context, namespace string) (semantic.Stats, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

type parentCache interface {
	Len() int
	Clear()
	Flush(ctx context.Context) error
}

type server struct {
	indexer   indexer
	retriever retriever
	vectors   vectorAdmin
	parents   parentCache
	namespace string
	log       *slog.Logger
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DocumentsRequest is the JSON body for POST /api/documents.
type DocumentsRequest struct {
	Documents   []domain.Document `json:"documents"`
	SaveParents bool              `json:"save_parents,omitempty"`
}

func (s *server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	mode, err := ingest.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req DocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents are required")
		return
	}

	rep, err := s.indexer.AddMode(r.Context(), mode, req.Documents, ingest.AddOptions{SaveParents: req.SaveParents})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidDocument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("ingest failed", "err", err, "mode", mode.String())
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	status := http.StatusOK
	if rep.Err() != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, rep)
}

// RetrieveRequest is the JSON body for POST /api/retrieve.
type RetrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// RetrieveResponse is the JSON response for POST /api/retrieve.
type RetrieveResponse struct {
	Hits    []rag.Hit `json:"hits"`
	Context []string  `json:"context"`
}

func (s *server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, "top_k must not be negative")
		return
	}
	hits, err := s.retriever.RetrieveWithScores(r.Context(), req.Query, req.TopK)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "query is required")
			return
		}
		s.log.Error("retrieve failed", "err", err)
		writeError(w, http.StatusInternalServerError, "retrieve failed")
		return
	}
	if hits == nil {
		hits = []rag.Hit{}
	}
	writeJSON(w, http.StatusOK, RetrieveResponse{Hits: hits, Context: rag.FormatContext(hits)})
}

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	Index     semantic.Stats `json:"index"`
	Parents   int            `json:"parents"`
	Retriever rag.Stats      `json:"retriever"`
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.vectors.DescribeStats(r.Context(), s.namespace)
	if err != nil {
		s.log.Error("describe stats failed", "err", err)
		writeError(w, http.StatusBadGateway, "index unavailable")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Index: st, Parents: s.parents.Len(), Retriever: s.retriever.Stats()})
}

func (s *server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	if err := s.vectors.DeleteNamespace(r.Context(), s.namespace); err != nil {
		s.log.Error("delete namespace failed", "err", err)
		writeError(w, http.StatusBadGateway, "delete failed")
		return
	}
	s.parents.Clear()
	if err := s.parents.Flush(r.Context()); err != nil {
		s.log.Warn("parent store flush after delete failed", "err", err)
	}
	s.log.Info("namespace deleted", "namespace", s.namespace)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": s.namespace})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
