package parentstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/parentchild/engine/domain"
	"github.com/WessleyAI/parentchild/pkg/repo"
)

// Neo4jLabel is the node label parents are stored under.
const Neo4jLabel = "Parent"

// Neo4j stores parents as (:Parent {id, namespace, page_content, metadata})
// nodes. Metadata is kept as a JSON string to preserve key order.
type Neo4j struct {
	repo repo.Repository[domain.ParentRecord, string]
}

// NewNeo4j returns a backend scoped to namespace. An empty database uses
// the server default.
func NewNeo4j(driver neo4j.DriverWithContext, namespace, database string) *Neo4j {
	return &Neo4j{repo: newParentRepo(driver, namespace, database)}
}

func newParentRepo(driver neo4j.DriverWithContext, namespace, database string) *repo.Neo4jRepo[domain.ParentRecord, string] {
	opts := []repo.Neo4jOption[domain.ParentRecord, string]{
		repo.WithScope[domain.ParentRecord, string]("namespace", namespace),
	}
	if database != "" {
		opts = append(opts, repo.WithDatabase[domain.ParentRecord, string](database))
	}
	return repo.NewNeo4jRepo[domain.ParentRecord, string](driver, Neo4jLabel, parentToMap, parentFromRecord, opts...)
}

func parentToMap(r domain.ParentRecord) map[string]any {
	meta, _ := json.Marshal(r.Metadata)
	return map[string]any{
		"id":           r.ID,
		"page_content": r.Content,
		"metadata":     string(meta),
	}
}

func parentFromRecord(rec *neo4j.Record) (domain.ParentRecord, error) {
	v, ok := rec.Get("n")
	if !ok {
		return domain.ParentRecord{}, fmt.Errorf("neo4j: record has no node")
	}
	node, ok := v.(neo4j.Node)
	if !ok {
		return domain.ParentRecord{}, fmt.Errorf("neo4j: unexpected %T", v)
	}
	var r domain.ParentRecord
	r.ID, _ = node.Props["id"].(string)
	r.Content, _ = node.Props["page_content"].(string)
	if s, _ := node.Props["metadata"].(string); s != "" {
		if err := json.Unmarshal([]byte(s), &r.Metadata); err != nil {
			return domain.ParentRecord{}, fmt.Errorf("neo4j: decode %s: %w", r.ID, err)
		}
	}
	return r, nil
}

// Put merges one record.
func (n *Neo4j) Put(ctx context.Context, rec domain.ParentRecord) error {
	return n.repo.Upsert(ctx, rec)
}

// PutAll deletes the namespace's nodes and writes recs.
func (n *Neo4j) PutAll(ctx context.Context, recs map[string]domain.ParentRecord) error {
	if err := n.repo.DeleteAll(ctx); err != nil {
		return err
	}
	batch := make([]domain.ParentRecord, 0, len(recs))
	for _, r := range recs {
		batch = append(batch, r)
	}
	return n.repo.Upsert(ctx, batch...)
}

// LoadAll lists the namespace's nodes.
func (n *Neo4j) LoadAll(ctx context.Context) (map[string]domain.ParentRecord, error) {
	items, err := n.repo.List(ctx, repo.ListOpts{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.ParentRecord, len(items))
	for _, r := range items {
		out[r.ID] = r
	}
	return out, nil
}
