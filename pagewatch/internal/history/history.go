// Package history records every check a Service performs in SQLite: the
// outcome, the fingerprint and version it produced, or the error that
// aborted it.
package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/pagewatch/idgen"
)

// Schema creates the checks table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS checks (
    id              TEXT PRIMARY KEY,
    target_key      TEXT NOT NULL,
    url             TEXT NOT NULL,
    outcome         TEXT NOT NULL,
    fingerprint     TEXT NOT NULL DEFAULT '',
    version         TEXT NOT NULL DEFAULT '',
    resource_count  INTEGER NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    checked_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checks_target ON checks(target_key, checked_at DESC);
`

// Outcome values stored in the outcome column.
const (
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeError     = "error"
)

// Entry is one check.
type Entry struct {
	ID            string `json:"id"`
	TargetKey     string `json:"target_key"`
	URL           string `json:"url"`
	Outcome       string `json:"outcome"`
	Fingerprint   string `json:"fingerprint,omitempty"`
	Version       string `json:"version,omitempty"`
	ResourceCount int    `json:"resource_count"`
	ErrorMessage  string `json:"error_message,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	CheckedAt     int64  `json:"checked_at"` // epoch milliseconds
}

// Store wraps the history database.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator used for entry IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// NewStore wraps an opened database. The schema must already be applied.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{DB: db, newID: idgen.Prefixed("chk_", idgen.Default)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ApplySchema creates the tables.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Insert records e. An empty ID is filled from the generator.
func (s *Store) Insert(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = s.newID()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO checks (id, target_key, url, outcome, fingerprint, version,
		resource_count, error_message, duration_ms, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TargetKey, e.URL, e.Outcome, e.Fingerprint, e.Version,
		e.ResourceCount, e.ErrorMessage, e.DurationMs, e.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// List returns the checks of a target, newest first.
func (s *Store) List(ctx context.Context, targetKey string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, target_key, url, outcome, fingerprint, version,
		resource_count, error_message, duration_ms, checked_at
		FROM checks WHERE target_key = ?
		ORDER BY checked_at DESC, id DESC LIMIT ?`, targetKey, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TargetKey, &e.URL, &e.Outcome, &e.Fingerprint,
			&e.Version, &e.ResourceCount, &e.ErrorMessage, &e.DurationMs, &e.CheckedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

// Stats summarises the checks of one target.
type Stats struct {
	Checks        int    `json:"checks"`
	Changes       int    `json:"changes"`
	Errors        int    `json:"errors"`
	LastCheckedAt int64  `json:"last_checked_at"`
	LastChangeAt  int64  `json:"last_change_at"`
	LastVersion   string `json:"last_version,omitempty"`
}

// TargetStats aggregates the checks of targetKey.
func (s *Store) TargetStats(ctx context.Context, targetKey string) (*Stats, error) {
	var st Stats
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*),
		COALESCE(SUM(outcome = 'changed'), 0),
		COALESCE(SUM(outcome = 'error'), 0),
		COALESCE(MAX(checked_at), 0),
		COALESCE(MAX(CASE WHEN outcome = 'changed' THEN checked_at END), 0)
		FROM checks WHERE target_key = ?`, targetKey).
		Scan(&st.Checks, &st.Changes, &st.Errors, &st.LastCheckedAt, &st.LastChangeAt)
	if err != nil {
		return nil, fmt.Errorf("history: stats: %w", err)
	}
	err = s.DB.QueryRowContext(ctx,
		`SELECT version FROM checks WHERE target_key = ? AND outcome = 'changed'
		ORDER BY checked_at DESC, id DESC LIMIT 1`, targetKey).Scan(&st.LastVersion)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("history: last version: %w", err)
	}
	return &st, nil
}
