package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type item struct {
	ID   string
	Name string
}

type fakeResult struct {
	records []*neo4j.Record
	i       int
	err     error
}

func (r *fakeResult) Next(context.Context) bool {
	if r.i >= len(r.records) {
		return false
	}
	r.i++
	return true
}

func (r *fakeResult) Record() *neo4j.Record { return r.records[r.i-1] }
func (r *fakeResult) Err() error            { return r.err }

type call struct {
	cypher string
	params map[string]any
	mode   neo4j.AccessMode
}

type fakeRunner struct {
	calls   *[]call
	mode    neo4j.AccessMode
	records []*neo4j.Record
	err     error
	closed  *int
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) (result, error) {
	*f.calls = append(*f.calls, call{cypher: cypher, params: params, mode: f.mode})
	if f.err != nil {
		return nil, f.err
	}
	return &fakeResult{records: f.records}, nil
}

func (f *fakeRunner) Close(context.Context) error {
	*f.closed++
	return nil
}

func nodeRecord(props map[string]any) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{neo4j.Node{Props: props}}}
}

func newTestRepo(records []*neo4j.Record, err error, opts ...Neo4jOption[item, string]) (*Neo4jRepo[item, string], *[]call, *int) {
	calls := &[]call{}
	closed := new(int)
	r := NewNeo4jRepo[item, string](nil, "Item",
		func(it item) map[string]any { return map[string]any{"id": it.ID, "name": it.Name} },
		func(rec *neo4j.Record) (item, error) {
			v, _ := rec.Get("n")
			n, ok := v.(neo4j.Node)
			if !ok {
				return item{}, errors.New("not a node")
			}
			id, _ := n.Props["id"].(string)
			name, _ := n.Props["name"].(string)
			return item{ID: id, Name: name}, nil
		},
		opts...,
	)
	r.newSession = func(_ context.Context, mode neo4j.AccessMode) runner {
		return &fakeRunner{calls: calls, mode: mode, records: records, err: err, closed: closed}
	}
	return r, calls, closed
}

func TestNewNeo4jRepoOptions(t *testing.T) {
	r := NewNeo4jRepo[item, string](nil, "Node", nil, nil,
		WithIDKey[item, string]("uuid"),
		WithScope[item, string]("namespace", "ns1"),
		WithDatabase[item, string]("parents"),
	)
	if r.idKey != "uuid" || r.scopeKey != "namespace" || r.scopeVal != "ns1" || r.database != "parents" {
		t.Fatalf("options not applied: %+v", r)
	}
	if NewNeo4jRepo[item, string](nil, "Node", nil, nil).idKey != "id" {
		t.Fatal("default id key should be id")
	}
}

func TestGetScoped(t *testing.T) {
	r, calls, closed := newTestRepo([]*neo4j.Record{nodeRecord(map[string]any{"id": "a", "name": "alpha"})}, nil,
		WithScope[item, string]("namespace", "ns1"))
	got, err := r.Get(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "alpha" {
		t.Fatalf("got %+v", got)
	}
	c := (*calls)[0]
	if c.cypher != "MATCH (n:Item {id: $id, namespace: $scope}) RETURN n" {
		t.Fatalf("cypher = %s", c.cypher)
	}
	if c.params["scope"] != "ns1" || c.params["id"] != "a" || c.mode != neo4j.AccessModeRead {
		t.Fatalf("params = %v mode = %v", c.params, c.mode)
	}
	if *closed != 1 {
		t.Fatal("session not closed")
	}
}

func TestGetNotFound(t *testing.T) {
	r, _, _ := newTestRepo(nil, nil)
	if _, err := r.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListWithFilterAndLimit(t *testing.T) {
	recs := []*neo4j.Record{
		nodeRecord(map[string]any{"id": "a", "name": "x"}),
		nodeRecord(map[string]any{"id": "b", "name": "x"}),
	}
	r, calls, _ := newTestRepo(recs, nil)
	items, err := r.List(context.Background(), ListOpts{Limit: 10, Filter: map[string]any{"name": "x"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[1].ID != "b" {
		t.Fatalf("items = %+v", items)
	}
	want := "MATCH (n:Item) WHERE n.name = $f0 RETURN n ORDER BY n.id SKIP $offset LIMIT $limit"
	if (*calls)[0].cypher != want {
		t.Fatalf("cypher = %s", (*calls)[0].cypher)
	}
}

func TestListUnlimited(t *testing.T) {
	r, calls, _ := newTestRepo(nil, nil)
	if _, err := r.List(context.Background(), ListOpts{}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains((*calls)[0].cypher, "LIMIT") {
		t.Fatalf("unexpected limit: %s", (*calls)[0].cypher)
	}
}

func TestUpsertAddsScope(t *testing.T) {
	r, calls, _ := newTestRepo(nil, nil, WithScope[item, string]("namespace", "ns1"))
	err := r.Upsert(context.Background(), item{ID: "a", Name: "x"}, item{ID: "b"})
	if err != nil {
		t.Fatal(err)
	}
	c := (*calls)[0]
	if !strings.Contains(c.cypher, "MERGE (n:Item {id: row.id, namespace: row.namespace}) SET n = row") {
		t.Fatalf("cypher = %s", c.cypher)
	}
	rows := c.params["rows"].([]map[string]any)
	if len(rows) != 2 || rows[0]["namespace"] != "ns1" || c.mode != neo4j.AccessModeWrite {
		t.Fatalf("rows = %v", rows)
	}
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	r, calls, _ := newTestRepo(nil, nil)
	if err := r.Upsert(context.Background()); err != nil || len(*calls) != 0 {
		t.Fatal("empty upsert should not touch the database")
	}
}

func TestDeleteAllScoped(t *testing.T) {
	r, calls, _ := newTestRepo(nil, nil, WithScope[item, string]("namespace", "ns1"))
	if err := r.DeleteAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if (*calls)[0].cypher != "MATCH (n:Item {namespace: $scope}) DETACH DELETE n" {
		t.Fatalf("cypher = %s", (*calls)[0].cypher)
	}
	if err := r.Delete(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if (*calls)[1].cypher != "MATCH (n:Item {id: $id, namespace: $scope}) DETACH DELETE n" {
		t.Fatalf("cypher = %s", (*calls)[1].cypher)
	}
}

func TestRunErrorsWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	r, _, _ := newTestRepo(nil, boom)
	ctx := context.Background()
	if _, err := r.Get(ctx, "a"); !errors.Is(err, boom) {
		t.Fatalf("get: %v", err)
	}
	if _, err := r.List(ctx, ListOpts{}); !errors.Is(err, boom) {
		t.Fatalf("list: %v", err)
	}
	if err := r.Upsert(ctx, item{ID: "a"}); !errors.Is(err, boom) {
		t.Fatalf("upsert: %v", err)
	}
	if err := r.DeleteAll(ctx); !errors.Is(err, boom) {
		t.Fatalf("delete all: %v", err)
	}
}
