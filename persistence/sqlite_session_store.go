package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/gradscout/framework"
)

// SQLiteSessionStore keeps sessions in a private in-memory SQLite database.
// The database disappears with the store, so nothing outlives the process.
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore opens a fresh in-memory database.
func NewSQLiteSessionStore() (*SQLiteSessionStore, error) {
	dsn := fmt.Sprintf("file:gradscout-%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A shared-cache memory database lives only while a connection is open.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	store := &SQLiteSessionStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteSessionStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		profile TEXT NOT NULL,
		results TEXT NOT NULL,
		required TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);
	CREATE TABLE IF NOT EXISTS context_entries (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		stage TEXT NOT NULL,
		output TEXT NOT NULL,
		PRIMARY KEY(run_id, position),
		FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE TABLE IF NOT EXISTS exchanges (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		asked_at TEXT,
		PRIMARY KEY(run_id, position),
		FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database, discarding every session.
func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}

// Save writes the run row and replaces its context entries in one
// transaction. Follow-up history is kept.
func (s *SQLiteSessionStore) Save(ctx context.Context, run *framework.PipelineRun) error {
	if err := validateRun(run); err != nil {
		return err
	}
	profile, err := json.Marshal(run.Profile)
	if err != nil {
		return err
	}
	results, err := json.Marshal(run.Results)
	if err != nil {
		return err
	}
	required, err := json.Marshal(run.Required)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := saveRun(ctx, tx, run, profile, results, required); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func saveRun(ctx context.Context, tx *sql.Tx, run *framework.PipelineRun, profile, results, required []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, status, profile, results, required, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			profile = excluded.profile,
			results = excluded.results,
			required = excluded.required,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		run.ID, string(run.Status), string(profile), string(results), string(required),
		formatTime(run.StartedAt), formatTime(run.FinishedAt))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM context_entries WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	if run.Context == nil {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO context_entries (run_id, position, stage, output) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, entry := range run.Context.Entries() {
		if _, err := stmt.ExecContext(ctx, run.ID, i, entry.Stage, entry.Output); err != nil {
			return err
		}
	}
	return nil
}

// Load rebuilds a run, including its PipelineContext in execution order.
func (s *SQLiteSessionStore) Load(ctx context.Context, id string) (*framework.PipelineRun, bool, error) {
	var (
		status, profile, results, required string
		started, finished                  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, profile, results, required, started_at, finished_at
		FROM runs WHERE id = ?`, id).
		Scan(&status, &profile, &results, &required, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	run := &framework.PipelineRun{
		ID:         id,
		Status:     framework.RunStatus(status),
		StartedAt:  parseTime(started),
		FinishedAt: parseTime(finished),
		Context:    framework.NewPipelineContext(),
	}
	if err := json.Unmarshal([]byte(profile), &run.Profile); err != nil {
		return nil, false, fmt.Errorf("decode profile for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(results), &run.Results); err != nil {
		return nil, false, fmt.Errorf("decode results for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(required), &run.Required); err != nil {
		return nil, false, fmt.Errorf("decode required stages for %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, output FROM context_entries
		WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var stage, output string
		if err := rows.Scan(&stage, &output); err != nil {
			return nil, false, err
		}
		if err := run.Context.Append(stage, output); err != nil {
			return nil, false, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return run, true, nil
}

// List returns run summaries, most recent first.
func (s *SQLiteSessionStore) List(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, results, started_at, finished_at FROM runs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var (
			id, status, results string
			started, finished   sql.NullString
		)
		if err := rows.Scan(&id, &status, &results, &started, &finished); err != nil {
			return nil, err
		}
		run := &framework.PipelineRun{
			ID:         id,
			Status:     framework.RunStatus(status),
			StartedAt:  parseTime(started),
			FinishedAt: parseTime(finished),
		}
		if err := json.Unmarshal([]byte(results), &run.Results); err != nil {
			return nil, fmt.Errorf("decode results for %s: %w", id, err)
		}
		out = append(out, summarize(run))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSummaries(out)
	return out, nil
}

// Delete removes a run together with its context entries and history.
func (s *SQLiteSessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	return err
}

// AppendExchange records a follow-up against a stored run.
func (s *SQLiteSessionStore) AppendExchange(ctx context.Context, runID string, ex Exchange) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (run_id, position, question, answer, asked_at)
		SELECT id, (SELECT COUNT(*) FROM exchanges WHERE run_id = ?), ?, ?, ?
		FROM runs WHERE id = ?`,
		runID, ex.Question, ex.Answer, formatTime(ex.AskedAt), runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// History returns the follow-ups asked against a run, oldest first.
func (s *SQLiteSessionStore) History(ctx context.Context, runID string) ([]Exchange, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT question, answer, asked_at FROM exchanges
		WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Exchange
	for rows.Next() {
		var (
			ex    Exchange
			asked sql.NullString
		)
		if err := rows.Scan(&ex.Question, &ex.Answer, &asked); err != nil {
			return nil, err
		}
		ex.AskedAt = parseTime(asked)
		out = append(out, ex)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
