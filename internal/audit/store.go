// Package audit records every tool execution in SQLite, the durable action
// log that survives session transcripts being deleted.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record is one executed tool call.
type Record struct {
	ID        string
	SessionID string
	Tool      string
	Input     string
	ExitCode  int
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

// Store is a SQLite-backed action log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the audit database and initializes the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			input TEXT,
			exit_code INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// RecordExecution writes one action record. Input is serialized as JSON.
func (s *Store) RecordExecution(ctx context.Context, sessionID, tool string, input map[string]any, exitCode int, execErr string, duration time.Duration) error {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		inputJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO actions (id, session_id, tool, input, exit_code, error, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), sessionID, tool, string(inputJSON), exitCode, execErr,
		duration.Nanoseconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// BySession returns the action records of one session in execution order.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tool, input, exit_code, error, duration_ns, created_at
		 FROM actions WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var durationNs int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Tool, &r.Input, &r.ExitCode, &r.Error, &durationNs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		r.Duration = time.Duration(durationNs)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
