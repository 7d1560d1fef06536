package parentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/WessleyAI/parentchild/engine/domain"
)

// DefaultDir is where parent files go when no directory is configured.
const DefaultDir = "parent_store"

// fileEntry is the on-disk form of one record.
type fileEntry struct {
	Metadata    domain.Metadata `json:"metadata"`
	PageContent string          `json:"page_content"`
}

// JSONFile stores a namespace's parents as one indented JSON object
// id → {"metadata", "page_content"} in {Dir}/parents_{namespace}.json.
type JSONFile struct {
	Dir       string
	Namespace string
}

// NewJSONFile returns a JSONFile backend. An empty dir means DefaultDir.
func NewJSONFile(dir, namespace string) *JSONFile {
	if dir == "" {
		dir = DefaultDir
	}
	return &JSONFile{Dir: dir, Namespace: namespace}
}

// Path returns the file the backend reads and writes.
func (j *JSONFile) Path() string {
	return filepath.Join(j.Dir, "parents_"+j.Namespace+".json")
}

// Put rewrites the file with rec added.
func (j *JSONFile) Put(ctx context.Context, rec domain.ParentRecord) error {
	all, err := j.LoadAll(ctx)
	if err != nil {
		return err
	}
	all[rec.ID] = rec
	return j.PutAll(ctx, all)
}

// PutAll overwrites the file with recs. The file is written next to its
// final path and renamed into place.
func (j *JSONFile) PutAll(ctx context.Context, recs map[string]domain.ParentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries := make(map[string]fileEntry, len(recs))
	for id, r := range recs {
		entries[id] = fileEntry{Metadata: r.Metadata, PageContent: r.Content}
	}
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode: %w", err)
	}
	if err := os.MkdirAll(j.Dir, 0o755); err != nil {
		return fmt.Errorf("jsonfile: %w", err)
	}
	tmp, err := os.CreateTemp(j.Dir, ".parents-*.json")
	if err != nil {
		return fmt.Errorf("jsonfile: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.Path()); err != nil {
		return fmt.Errorf("jsonfile: %w", err)
	}
	return nil
}

// LoadAll reads the file. A missing file is an empty mapping.
func (j *JSONFile) LoadAll(ctx context.Context) (map[string]domain.ParentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(j.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]domain.ParentRecord), nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonfile: %w", err)
	}
	var entries map[string]fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("jsonfile: decode %s: %w", j.Path(), err)
	}
	out := make(map[string]domain.ParentRecord, len(entries))
	for id, e := range entries {
		out[id] = domain.ParentRecord{ID: id, Content: e.PageContent, Metadata: e.Metadata}
	}
	return out, nil
}
