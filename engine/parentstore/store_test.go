package parentstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WessleyAI/parentchild/engine/domain"
)

func fixtures() []domain.ParentRecord {
	return []domain.ParentRecord{
		{ID: "parent-b", Content: "The quick brown fox.", Metadata: domain.NewMetadata("source", "fox.txt", "page", 3, "score", 0.5, "draft", false)},
		{ID: "parent-a", Content: "", Metadata: domain.Metadata{}},
		{ID: "parent-c", Content: "Ünïcödé text", Metadata: domain.NewMetadata("z", "first", "a", nil)},
	}
}

func assertSameMapping(t *testing.T, got map[string]domain.ParentRecord, want []domain.ParentRecord) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("records = %d, want %d", len(got), len(want))
	}
	for _, w := range want {
		g, ok := got[w.ID]
		if !ok {
			t.Fatalf("missing %s", w.ID)
		}
		if g.ID != w.ID || g.Content != w.Content || !g.Metadata.Equal(w.Metadata) {
			t.Fatalf("record %s = %+v, want %+v", w.ID, g, w)
		}
	}
}

type failingBackend struct{ err error }

func (f failingBackend) Put(context.Context, domain.ParentRecord) error { return f.err }
func (f failingBackend) PutAll(context.Context, map[string]domain.ParentRecord) error {
	return f.err
}
func (f failingBackend) LoadAll(context.Context) (map[string]domain.ParentRecord, error) {
	return nil, f.err
}

func TestStoreBasics(t *testing.T) {
	s := New(nil, Options{})
	s.PutAll(fixtures())
	s.Put(domain.ParentRecord{ID: "parent-d"})
	if s.Len() != 4 || !s.Has("parent-a") || s.Has("nope") {
		t.Fatal("unexpected contents")
	}
	r, ok := s.Get("parent-b")
	if !ok || r.Content != "The quick brown fox." {
		t.Fatalf("get = %+v", r)
	}
	all := s.All()
	if all[0].ID != "parent-a" || all[3].ID != "parent-d" {
		t.Fatal("All should be sorted by id")
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatal("clear failed")
	}
}

func TestStoreWithoutBackend(t *testing.T) {
	s := New(nil, Options{})
	s.PutAll(fixtures())
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 {
		t.Fatal("load without backend must keep memory contents")
	}
}

func TestJSONFileRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "parents")
	ctx := context.Background()
	src := New(NewJSONFile(dir, "docs"), Options{})
	src.PutAll(fixtures())
	if err := src.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	dst := New(NewJSONFile(dir, "docs"), Options{})
	dst.Put(domain.ParentRecord{ID: "stale"})
	if err := dst.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if dst.Has("stale") {
		t.Fatal("load must replace the mapping wholesale")
	}
	got := make(map[string]domain.ParentRecord)
	for _, r := range dst.All() {
		got[r.ID] = r
	}
	assertSameMapping(t, got, fixtures())
}

func TestJSONFileFormat(t *testing.T) {
	dir := t.TempDir()
	b := NewJSONFile(dir, "ns1")
	err := b.PutAll(context.Background(), map[string]domain.ParentRecord{
		"parent-1": {ID: "parent-1", Content: "hello", Metadata: domain.NewMetadata("source", "a")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.Path() != filepath.Join(dir, "parents_ns1.json") {
		t.Fatalf("path = %s", b.Path())
	}
	data, err := os.ReadFile(b.Path())
	if err != nil {
		t.Fatal(err)
	}
	want := `{
    "parent-1": {
        "metadata": {
            "source": "a"
        },
        "page_content": "hello"
    }
}`
	if string(data) != want {
		t.Fatalf("file =\n%s", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestJSONFilePutAndMissingFile(t *testing.T) {
	ctx := context.Background()
	b := NewJSONFile(t.TempDir(), "x")
	all, err := b.LoadAll(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("missing file should load empty, got %v %v", all, err)
	}
	if err := b.Put(ctx, domain.ParentRecord{ID: "a", Content: "1"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Put(ctx, domain.ParentRecord{ID: "b", Content: "2"}); err != nil {
		t.Fatal(err)
	}
	all, _ = b.LoadAll(ctx)
	if len(all) != 2 || all["a"].Content != "1" {
		t.Fatalf("all = %v", all)
	}
}

func TestJSONFileCorrupt(t *testing.T) {
	dir := t.TempDir()
	b := NewJSONFile(dir, "bad")
	if err := os.WriteFile(b.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := b.LoadAll(context.Background()); err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestNewJSONFileDefaultDir(t *testing.T) {
	if NewJSONFile("", "ns").Dir != DefaultDir {
		t.Fatal("empty dir should use DefaultDir")
	}
}

func TestLoadChunkedParentsNotSupported(t *testing.T) {
	s := New(NewJSONFile(t.TempDir(), "ns"), Options{ChunkParents: true})
	err := s.Load(context.Background())
	if !errors.Is(err, domain.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestFlushAndLoadErrorsWrapped(t *testing.T) {
	boom := errors.New("disk full")
	s := New(failingBackend{err: boom}, Options{})
	if err := s.Flush(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("flush = %v", err)
	}
	if err := s.Load(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("load = %v", err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:", "docs")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	src := New(db, Options{})
	src.PutAll(fixtures())
	if err := src.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	// A second flush replaces rows rather than duplicating them.
	src.Clear()
	src.PutAll(fixtures()[:2])
	if err := src.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	dst := New(db, Options{})
	if err := dst.Load(ctx); err != nil {
		t.Fatal(err)
	}
	got := make(map[string]domain.ParentRecord)
	for _, r := range dst.All() {
		got[r.ID] = r
	}
	assertSameMapping(t, got, fixtures()[:2])
}

func TestSQLiteNamespacesIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "parents.db")
	a, err := OpenSQLite(ctx, path, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := OpenSQLite(ctx, path, "b")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.Put(ctx, domain.ParentRecord{ID: "p", Content: "in a"}); err != nil {
		t.Fatal(err)
	}
	if err := b.PutAll(ctx, map[string]domain.ParentRecord{"q": {ID: "q", Content: "in b"}}); err != nil {
		t.Fatal(err)
	}
	fromA, _ := a.LoadAll(ctx)
	fromB, _ := b.LoadAll(ctx)
	if len(fromA) != 1 || fromA["p"].Content != "in a" || len(fromB) != 1 || fromB["q"].Content != "in b" {
		t.Fatalf("a = %v, b = %v", fromA, fromB)
	}
}
