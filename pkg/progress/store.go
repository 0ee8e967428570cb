// Package progress persists step completions per student into a local
// SQLite database, feeding the course-level progress view that outlives
// any single session. Writes are idempotent: the first completion of a
// (student, module, step) wins and later ones are ignored.
package progress

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS progress (
	student_id   TEXT NOT NULL,
	module_id    TEXT NOT NULL,
	step_id      TEXT NOT NULL,
	completed_at TIMESTAMP NOT NULL,
	source       TEXT NOT NULL,
	PRIMARY KEY (student_id, module_id, step_id)
);
`

// Record is one persisted completion.
type Record struct {
	StudentID   string
	ModuleID    string
	StepID      string
	CompletedAt time.Time
	Source      string
}

// Store wraps the progress database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the progress database at path. WAL mode
// and a busy timeout let the updater and ad-hoc readers coexist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open progress database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize progress schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// MarkCompleted records a completion. Returns false when the row already
// exists; the earliest completion timestamp is preserved.
func (s *Store) MarkCompleted(ctx context.Context, rec Record) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO progress (student_id, module_id, step_id, completed_at, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (student_id, module_id, step_id) DO NOTHING`,
		rec.StudentID, rec.ModuleID, rec.StepID, rec.CompletedAt.UTC(), rec.Source)
	if err != nil {
		return false, fmt.Errorf("insert progress row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Completed returns the completed step IDs for a student and module, in
// completion order.
func (s *Store) Completed(ctx context.Context, studentID, moduleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id FROM progress
		WHERE student_id = ? AND module_id = ?
		ORDER BY completed_at`,
		studentID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var stepID string
		if err := rows.Scan(&stepID); err != nil {
			return nil, err
		}
		out = append(out, stepID)
	}
	return out, rows.Err()
}
