package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Sternrassler/bulkfetch/pkg/record"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	category TEXT,
	started_at DATETIME,
	finished_at DATETIME,
	submitted INTEGER,
	attempted INTEGER,
	successes INTEGER,
	failures INTEGER,
	not_attempted INTEGER,
	cancelled INTEGER
);
CREATE TABLE IF NOT EXISTS outcomes (
	run_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	identifier TEXT NOT NULL,
	status TEXT NOT NULL,
	error_kind TEXT,
	error_class TEXT,
	attempts INTEGER,
	message TEXT,
	fields TEXT,
	PRIMARY KEY (run_id, position)
);
`

// SQLite appends each run to a SQLite database.
type SQLite struct {
	Path string
}

// NewSQLite returns an exporter writing to the database at path.
func NewSQLite(path string) *SQLite {
	return &SQLite{Path: path}
}

// Preflight checks that the database directory exists and is writable.
func (s *SQLite) Preflight() error {
	if s.Path == "" {
		return fmt.Errorf("sqlite export: empty path")
	}
	if err := checkWritableDir(filepath.Dir(s.Path)); err != nil {
		return fmt.Errorf("sqlite export: %w", err)
	}
	return nil
}

// Export writes the run and its outcomes in one transaction. Re-exporting
// a run ID replaces the earlier rows.
func (s *SQLite) Export(ctx context.Context, rs *record.ResultSet) error {
	db, err := sql.Open("sqlite3", s.Path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer tx.Rollback()

	sum := rs.Summary()
	if _, err := tx.ExecContext(ctx, `DELETE FROM outcomes WHERE run_id = ?`, rs.RunID); err != nil {
		return fmt.Errorf("clear outcomes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, category, started_at, finished_at, submitted, attempted, successes, failures, not_attempted, cancelled) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rs.RunID, rs.Category, rs.StartedAt.UTC().Format(time.RFC3339Nano), rs.FinishedAt.UTC().Format(time.RFC3339Nano),
		sum.Submitted, sum.Attempted, sum.Successes, sum.Failures, sum.NotAttempted, rs.Cancelled,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes (run_id, position, identifier, status, error_kind, error_class, attempts, message, fields) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	for i, o := range rs.Outcomes {
		var (
			status, kind, class, message string
			fields                       sql.NullString
		)
		if o.Record != nil {
			status = "ok"
			data, err := json.Marshal(o.Record)
			if err != nil {
				return fmt.Errorf("encode record %s: %w", o.Identifier, err)
			}
			fields = sql.NullString{String: string(data), Valid: true}
		} else if o.Failure != nil {
			status = "failed"
			kind = string(o.Failure.Kind)
			class = o.Failure.Class
			if o.Failure.Err != nil {
				message = o.Failure.Err.Error()
			}
		}
		if _, err := stmt.ExecContext(ctx, rs.RunID, i, o.Identifier, status, kind, class, o.Attempts, message, fields); err != nil {
			return fmt.Errorf("insert outcome %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}
