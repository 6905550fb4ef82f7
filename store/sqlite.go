package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps writers from racing for the lock.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema tables.
func (s *SQLiteStore) Init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		dsl         TEXT NOT NULL,
		deleted     INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_instances (
		workflow_id TEXT NOT NULL,
		agent_name  TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		created_at  DATETIME NOT NULL,
		PRIMARY KEY (workflow_id, agent_name)
	);

	CREATE TABLE IF NOT EXISTS workflow_runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL UNIQUE,
		workflow_id TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'running',
		input       TEXT NOT NULL DEFAULT '{}',
		output      TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		started_at  DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS run_events (
		run_id     TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		type       TEXT NOT NULL,
		data       TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_workflow_runs_workflow ON workflow_runs(workflow_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveWorkflow creates or replaces a workflow document.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, w Workflow) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, dsl, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			dsl = excluded.dsl,
			deleted = 0,
			updated_at = excluded.updated_at`,
		w.ID, w.Name, w.Description, w.DSL, now, now,
	)
	return err
}

// GetWorkflow returns a live workflow by id.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var w Workflow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, dsl, created_at, updated_at
		 FROM workflows WHERE id = ? AND deleted = 0`, id,
	).Scan(&w.ID, &w.Name, &w.Description, &w.DSL, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkflows returns live workflows ordered by id.
func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, dsl, created_at, updated_at
		 FROM workflows WHERE deleted = 0 ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		var w Workflow
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.DSL, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWorkflow soft-deletes a workflow and forgets its agent instances.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE workflows SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_instances WHERE workflow_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// EnsureAgentInstance returns the stable instance id for an agent.
func (s *SQLiteStore) EnsureAgentInstance(ctx context.Context, workflowID, agentName, fingerprint string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var id, fp string
	err = tx.QueryRowContext(ctx,
		`SELECT instance_id, fingerprint FROM agent_instances WHERE workflow_id = ? AND agent_name = ?`,
		workflowID, agentName,
	).Scan(&id, &fp)
	switch {
	case err == nil && fp == fingerprint:
		return id, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return "", err
	}

	id = uuid.New().String()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO agent_instances (workflow_id, agent_name, instance_id, fingerprint, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		workflowID, agentName, id, fingerprint, time.Now().UTC(),
	); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// InsertRun records the start of a run.
func (s *SQLiteStore) InsertRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (run_id, workflow_id, status, input, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.RunID, r.WorkflowID, r.Status, r.Input, r.StartedAt.UTC(),
	)
	return err
}

// FinishRun records the outcome of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID, status, output, errMsg string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = ?, output = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		status, output, errMsg, finishedAt.UTC(), runID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// InsertRunEvent appends an event to a run's trace.
func (s *SQLiteStore) InsertRunEvent(ctx context.Context, e RunEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, seq, type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.RunID, e.Seq, e.Type, e.Data, e.CreatedAt.UTC(),
	)
	return err
}

// ListRuns returns recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, workflow_id, status, input, output, error, started_at, finished_at
		 FROM workflow_runs WHERE (? = '' OR workflow_id = ?) ORDER BY id DESC LIMIT ?`,
		workflowID, workflowID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.WorkflowID, &r.Status, &r.Input, &r.Output, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunEvents returns a run's trace in order.
func (s *SQLiteStore) ListRunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, type, data, created_at FROM run_events WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
