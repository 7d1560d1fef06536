package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Neo4jRepo stores entities as nodes with a single label. An optional scope
// property restricts every query to nodes carrying the scope value, so one
// label can hold several independent collections.
type Neo4jRepo[T any, ID comparable] struct {
	driver     neo4j.DriverWithContext
	database   string
	label      string
	idKey      string
	scopeKey   string
	scopeVal   any
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
	newSession func(ctx context.Context, mode neo4j.AccessMode) runner // for testing
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// WithScope limits the repository to nodes where key = value. Upserted nodes
// get the property set.
func WithScope[T any, ID comparable](key string, value any) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) {
		r.scopeKey = key
		r.scopeVal = value
	}
}

// WithDatabase selects the Neo4j database (default: server default).
func WithDatabase[T any, ID comparable](name string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.database = name }
}

// NewNeo4jRepo creates a new Neo4j-backed repository. fromRecord receives
// records with the node bound to "n".
func NewNeo4jRepo[T any, ID comparable](
	driver neo4j.DriverWithContext,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		driver:     driver,
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Compile-time interface check.
var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (r *Neo4jRepo[T, ID]) session(ctx context.Context, mode neo4j.AccessMode) runner {
	if r.newSession != nil {
		return r.newSession(ctx, mode)
	}
	return &neo4jSessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: r.database,
	})}
}

// match returns the MATCH pattern for n, including the scope and id
// properties when requested.
func (r *Neo4jRepo[T, ID]) match(withID bool, params map[string]any) string {
	var props []string
	if withID {
		props = append(props, r.idKey+": $id")
	}
	if r.scopeKey != "" {
		props = append(props, r.scopeKey+": $scope")
		params["scope"] = r.scopeVal
	}
	if len(props) == 0 {
		return fmt.Sprintf("(n:%s)", r.label)
	}
	return fmt.Sprintf("(n:%s {%s})", r.label, strings.Join(props, ", "))
}

// Get returns the entity with id, or ErrNotFound.
func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	params := map[string]any{"id": id}
	cypher := fmt.Sprintf("MATCH %s RETURN n", r.match(true, params))
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return zero, fmt.Errorf("repo: get %s: %w", r.label, err)
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return zero, fmt.Errorf("repo: get %s: %w", r.label, err)
		}
		return zero, fmt.Errorf("repo: %s %v: %w", r.label, id, ErrNotFound)
	}
	return r.fromRecord(res.Record())
}

// List returns entities ordered by id. Filter entries become equality
// conditions.
func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	sess := r.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	params := map[string]any{"offset": opts.Offset}
	var where []string
	keys := make([]string, 0, len(opts.Filter))
	for k := range opts.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		p := fmt.Sprintf("f%d", i)
		where = append(where, fmt.Sprintf("n.%s = $%s", k, p))
		params[p] = opts.Filter[k]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MATCH %s", r.match(false, params))
	if len(where) > 0 {
		fmt.Fprintf(&b, " WHERE %s", strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " RETURN n ORDER BY n.%s SKIP $offset", r.idKey)
	if opts.Limit > 0 {
		b.WriteString(" LIMIT $limit")
		params["limit"] = opts.Limit
	}

	res, err := sess.Run(ctx, b.String(), params)
	if err != nil {
		return nil, fmt.Errorf("repo: list %s: %w", r.label, err)
	}
	var items []T
	for res.Next(ctx) {
		item, err := r.fromRecord(res.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("repo: list %s: %w", r.label, err)
	}
	return items, nil
}

// Upsert merges entities by id, replacing their properties.
func (r *Neo4jRepo[T, ID]) Upsert(ctx context.Context, entities ...T) error {
	if len(entities) == 0 {
		return nil
	}
	sess := r.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	rows := make([]map[string]any, len(entities))
	for i, e := range entities {
		props := r.toMap(e)
		if r.scopeKey != "" {
			props[r.scopeKey] = r.scopeVal
		}
		rows[i] = props
	}
	key := r.idKey
	merge := fmt.Sprintf("(n:%s {%s: row.%s})", r.label, key, key)
	if r.scopeKey != "" {
		merge = fmt.Sprintf("(n:%s {%s: row.%s, %s: row.%s})", r.label, key, key, r.scopeKey, r.scopeKey)
	}
	cypher := fmt.Sprintf("UNWIND $rows AS row MERGE %s SET n = row", merge)
	res, err := sess.Run(ctx, cypher, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("repo: upsert %s: %w", r.label, err)
	}
	return res.Err()
}

// Delete removes the entity with id. Missing ids are not an error.
func (r *Neo4jRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	sess := r.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	params := map[string]any{"id": id}
	cypher := fmt.Sprintf("MATCH %s DETACH DELETE n", r.match(true, params))
	if _, err := sess.Run(ctx, cypher, params); err != nil {
		return fmt.Errorf("repo: delete %s: %w", r.label, err)
	}
	return nil
}

// DeleteAll removes every node in the repository's scope.
func (r *Neo4jRepo[T, ID]) DeleteAll(ctx context.Context) error {
	sess := r.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	params := map[string]any{}
	cypher := fmt.Sprintf("MATCH %s DETACH DELETE n", r.match(false, params))
	if _, err := sess.Run(ctx, cypher, params); err != nil {
		return fmt.Errorf("repo: delete all %s: %w", r.label, err)
	}
	return nil
}
