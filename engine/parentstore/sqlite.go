package parentstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/WessleyAI/parentchild/engine/domain"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS parents (
	namespace TEXT NOT NULL,
	id        TEXT NOT NULL,
	content   TEXT NOT NULL,
	metadata  TEXT NOT NULL,
	PRIMARY KEY (namespace, id)
)`

// SQLite stores parents in a table keyed by (namespace, id).
type SQLite struct {
	db        *sql.DB
	namespace string
}

// OpenSQLite opens (or creates) the database at path and prepares the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path, namespace string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and writes
	// serialized.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &SQLite{db: db, namespace: namespace}, nil
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

// Put inserts or replaces one record.
func (s *SQLite) Put(ctx context.Context, rec domain.ParentRecord) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: encode %s: %w", rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO parents (namespace, id, content, metadata) VALUES (?, ?, ?, ?)`,
		s.namespace, rec.ID, rec.Content, string(meta))
	if err != nil {
		return fmt.Errorf("sqlite: put %s: %w", rec.ID, err)
	}
	return nil
}

// PutAll replaces the namespace's rows in one transaction.
func (s *SQLite) PutAll(ctx context.Context, recs map[string]domain.ParentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM parents WHERE namespace = ?`, s.namespace); err != nil {
		return fmt.Errorf("sqlite: clear: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO parents (namespace, id, content, metadata) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()
	for id, r := range recs {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: encode %s: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, s.namespace, id, r.Content, string(meta)); err != nil {
			return fmt.Errorf("sqlite: insert %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// LoadAll returns the namespace's rows.
func (s *SQLite) LoadAll(ctx context.Context) (map[string]domain.ParentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata FROM parents WHERE namespace = ?`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.ParentRecord)
	for rows.Next() {
		var (
			r    domain.ParentRecord
			meta string
		)
		if err := rows.Scan(&r.ID, &r.Content, &meta); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite: decode %s: %w", r.ID, err)
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}
