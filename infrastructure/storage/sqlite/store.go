// Package sqlite stores runs in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import for side effects

	"github.com/fllarpy/reqprof/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT    NOT NULL,
	namespace  TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	wall_ns    INTEGER NOT NULL,
	cpu        BLOB    NOT NULL,
	heap       BLOB,
	meta       TEXT    NOT NULL,
	PRIMARY KEY (namespace, id)
);
CREATE INDEX IF NOT EXISTS runs_namespace_created ON runs (namespace, created_at);
`

var _ domain.RunStore = (*Store)(nil)

// Store keeps runs in the runs table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens the database at dsn and creates the schema if needed.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open runs database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create runs schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SaveRun inserts the run.
func (s *Store) SaveRun(ctx context.Context, data *domain.CallGraph, namespace string) (string, error) {
	m, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode run metadata: %w", err)
	}
	var heap []byte
	if len(data.Heap) > 0 {
		heap = data.Heap
	}
	cpu := data.CPU
	if cpu == nil {
		cpu = []byte{}
	}

	id := domain.NewRunID()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, namespace, created_at, wall_ns, cpu, heap, meta) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, namespace, s.now().UnixNano(), int64(data.Wall()), cpu, heap, string(m),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// GetRun loads a run.
func (s *Store) GetRun(ctx context.Context, id, namespace string) (*domain.CallGraph, error) {
	var (
		cpu, heap []byte
		m         string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT cpu, heap, meta FROM runs WHERE namespace = ? AND id = ?`, namespace, id,
	).Scan(&cpu, &heap, &m)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var g domain.CallGraph
	if err := json.Unmarshal([]byte(m), &g); err != nil {
		return nil, fmt.Errorf("failed to decode run metadata: %w", err)
	}
	g.CPU = cpu
	g.Heap = heap
	return &g, nil
}

// ListRuns returns the newest runs of namespace first. A non-positive limit lists all.
func (s *Store) ListRuns(ctx context.Context, namespace string, limit int) ([]domain.RunInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, wall_ns, heap IS NOT NULL FROM runs
		 WHERE namespace = ? ORDER BY created_at DESC, id DESC LIMIT ?`, namespace, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunInfo
	for rows.Next() {
		var (
			info      domain.RunInfo
			createdAt int64
			wall      int64
		)
		if err := rows.Scan(&info.ID, &createdAt, &wall, &info.HasHeap); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		info.Namespace = namespace
		info.CreatedAt = time.Unix(0, createdAt)
		info.Wall = time.Duration(wall)
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
