// Package graphstore provides SQLite-backed persistence for completed graphs.
package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"insightgraph/internal/model"
)

// Record is a persisted graph with its source text and extraction metadata.
type Record struct {
	JobID     string       `json:"job_id"`
	Text      string       `json:"text,omitempty"`
	Graph     *model.Graph `json:"graph"`
	NodeCount int          `json:"node_count"`
	EdgeCount int          `json:"edge_count"`
	CreatedAt time.Time    `json:"created_at"`
}

// Store provides access to the graphs SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the database at path and runs migrations.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		path += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time, and :memory: databases are
	// per-connection, so a single pooled connection serves both cases.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS graphs (
		job_id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		node_count INTEGER NOT NULL,
		edge_count INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_graphs_created_at ON graphs(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts the graph for a job together with the text it was extracted
// from. Requeued jobs may complete more than once; the latest result wins.
func (s *Store) Save(ctx context.Context, jobID, text string, g *model.Graph) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graphs (job_id, source_text, payload, node_count, edge_count, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET source_text = excluded.source_text, payload = excluded.payload,
		 node_count = excluded.node_count, edge_count = excluded.edge_count, created_at = excluded.created_at`,
		jobID, text, string(payload), len(g.Nodes), len(g.Edges), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert graph: %w", err)
	}
	return nil
}

// Get retrieves the graph persisted for a job, or nil when none exists.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	rec := &Record{JobID: jobID}
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT source_text, payload, node_count, edge_count, created_at FROM graphs WHERE job_id = ?`,
		jobID,
	).Scan(&rec.Text, &payload, &rec.NodeCount, &rec.EdgeCount, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query graph: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &rec.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return rec, nil
}

// List returns up to limit persisted graphs, newest first. limit <= 0 means
// no cap.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT job_id, source_text, payload, node_count, edge_count, created_at FROM graphs ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query graphs: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Search returns graphs whose source text contains q, case-insensitive,
// newest first. limit <= 0 means no cap.
func (s *Store) Search(ctx context.Context, q string, limit int) ([]Record, error) {
	query := `SELECT job_id, source_text, payload, node_count, edge_count, created_at FROM graphs
		 WHERE instr(lower(source_text), lower(?)) > 0 ORDER BY created_at DESC`
	args := []interface{}{q}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search graphs: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		var rec Record
		var payload string
		if err := rows.Scan(&rec.JobID, &rec.Text, &payload, &rec.NodeCount, &rec.EdgeCount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan graph: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal graph: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete removes the graph for a job. Reports whether a row existed.
func (s *Store) Delete(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE job_id = ?`, jobID)
	if err != nil {
		return false, fmt.Errorf("delete graph: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
