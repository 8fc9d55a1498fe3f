package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	changes    INTEGER NOT NULL DEFAULT 0,
	record     TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps each record as a JSON document in one table
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}
	// One writer; modernc serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create project schema: %w", err)
	}
	logger.Info("project store opened", "path", path)
	return &SQLiteStore{db: db, log: logger, now: time.Now}, nil
}

// Get loads a record
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM projects WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.log.Error("project get failed", "project_id", id, "err", err)
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", id, err)
	}
	return &rec, nil
}

// Put inserts or replaces a record and stamps UpdatedAt
func (s *SQLiteStore) Put(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ProjectID == "" {
		return errors.New("project id is required")
	}
	rec.UpdatedAt = s.now().UTC()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode project %s: %w", rec.ProjectID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, changes, record, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			changes = excluded.changes,
			record = excluded.record,
			updated_at = excluded.updated_at`,
		rec.ProjectID, rec.ProjectName, len(rec.ChangeLog), string(raw), rec.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		s.log.Error("project put failed", "project_id", rec.ProjectID, "err", err)
		return fmt.Errorf("put project %s: %w", rec.ProjectID, err)
	}
	s.log.Debug("project saved", "project_id", rec.ProjectID, "changes", len(rec.ChangeLog))
	return nil
}

// Delete removes a record
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns summaries, most recently updated first
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, changes, updated_at FROM projects ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var updated string
		if err := rows.Scan(&sum.ProjectID, &sum.ProjectName, &sum.Changes, &updated); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			sum.UpdatedAt = t
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	s.log.Info("closing project store")
	return s.db.Close()
}
