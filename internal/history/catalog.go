// Package history keeps a local record of backup runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"db-backup-utility/internal/backup"

	_ "modernc.org/sqlite"
)

// FileName is the catalog file created in the backup root
const FileName = "history.db"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	database_name TEXT NOT NULL,
	token         TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL,
	succeeded     INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	failed_tables TEXT,
	total_rows    INTEGER NOT NULL DEFAULT 0,
	archive_path  TEXT,
	archive_size  INTEGER NOT NULL DEFAULT 0,
	error         TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Run is one row of the catalog
type Run struct {
	RunID        string
	Database     string
	Token        string
	Status       string
	StartedAt    time.Time
	FinishedAt   time.Time
	Succeeded    int
	Failed       int
	FailedTables []string
	TotalRows    int
	ArchivePath  string
	ArchiveSize  int64
	Error        string
}

// Duration is the wall time of the run
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Catalog stores run records
type Catalog struct {
	db *sql.DB
}

// Open opens or creates the catalog at path
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history catalog: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close releases the catalog
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record stores the outcome of a pipeline run. Re-recording a run ID
// replaces the earlier row.
func (c *Catalog) Record(ctx context.Context, s *backup.Summary) error {
	failed := s.Failed()
	names := make([]string, 0, len(failed))
	for _, f := range failed {
		names = append(names, f.Table)
	}

	var archivePath string
	var archiveSize int64
	if s.Archive != nil {
		archivePath = s.Archive.Path
		archiveSize = s.Archive.Size
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			run_id, database_name, token, status, started_at, finished_at,
			succeeded, failed, failed_tables, total_rows, archive_path, archive_size, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Database, s.Token, s.Status(),
		s.StartedAt.UTC().Format(time.RFC3339Nano), s.FinishedAt.UTC().Format(time.RFC3339Nano),
		len(s.Succeeded()), len(failed), strings.Join(names, ","), s.TotalRows(),
		archivePath, archiveSize, s.FatalError,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", s.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. An empty database name
// returns runs of every database.
func (c *Catalog) Recent(ctx context.Context, database string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT run_id, database_name, token, status, started_at, finished_at,
		succeeded, failed, failed_tables, total_rows, archive_path, archive_size, error
		FROM runs`
	var args []any
	if database != "" {
		query += " WHERE database_name = ?"
		args = append(args, database)
	}
	query += " ORDER BY started_at DESC, token DESC LIMIT ?"
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                     Run
			started, finished     string
			failedTables, archive sql.NullString
			runErr                sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Database, &r.Token, &r.Status, &started, &finished,
			&r.Succeeded, &r.Failed, &failedTables, &r.TotalRows, &archive, &r.ArchiveSize, &runErr); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parsing started_at of run %s: %w", r.RunID, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parsing finished_at of run %s: %w", r.RunID, err)
		}
		if failedTables.String != "" {
			r.FailedTables = strings.Split(failedTables.String, ",")
		}
		r.ArchivePath = archive.String
		r.Error = runErr.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
