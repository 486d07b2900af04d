package backup

import (
	"time"

	"db-backup-utility/internal/archive"
	"db-backup-utility/internal/database"
	"db-backup-utility/internal/errors"
)

// Run statuses
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// TableFailure records why a table has no backup file
type TableFailure struct {
	Table string       `json:"table"`
	Stage errors.Stage `json:"stage"`
	Error string       `json:"error"`
	Cause error        `json:"-"`
}

// TableResult is the outcome for one enumerated table
type TableResult struct {
	Table    database.Table `json:"table"`
	Rows     int            `json:"rows"`
	File     string         `json:"file,omitempty"`
	Duration time.Duration  `json:"duration"`
	Failure  *TableFailure  `json:"failure,omitempty"`
}

// Summary aggregates the outcome of one pipeline run
type Summary struct {
	RunID         string          `json:"run_id"`
	Database      string          `json:"database"`
	Token         string          `json:"token"`
	SessionDir    string          `json:"session_dir,omitempty"`
	ServerVersion string          `json:"server_version,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Printed       bool            `json:"printed,omitempty"`
	Tables        []TableResult   `json:"tables"`
	Archive       *archive.Result `json:"archive,omitempty"`
	ArchiveError  string          `json:"archive_error,omitempty"`
	Manifest      string          `json:"manifest,omitempty"`
	Uploads       []string        `json:"uploads,omitempty"`
	UploadErrors  []string        `json:"upload_errors,omitempty"`
	Pruned        []string        `json:"pruned,omitempty"`
	FatalError    string          `json:"fatal_error,omitempty"`
}

// Succeeded lists the tables backed up, in enumeration order
func (s *Summary) Succeeded() []string {
	var names []string
	for _, r := range s.Tables {
		if r.Failure == nil {
			names = append(names, r.Table.Name)
		}
	}
	return names
}

// Failed lists the tables that could not be backed up, in enumeration order
func (s *Summary) Failed() []TableFailure {
	var failures []TableFailure
	for _, r := range s.Tables {
		if r.Failure != nil {
			failures = append(failures, *r.Failure)
		}
	}
	return failures
}

// TotalRows sums the rows of every successful table
func (s *Summary) TotalRows() int {
	total := 0
	for _, r := range s.Tables {
		if r.Failure == nil {
			total += r.Rows
		}
	}
	return total
}

// Duration is the wall time of the run
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Status classifies the run
func (s *Summary) Status() string {
	switch {
	case s.FatalError != "":
		return StatusFailed
	case len(s.Failed()) > 0 || s.ArchiveError != "" || len(s.UploadErrors) > 0:
		return StatusPartial
	}
	return StatusSuccess
}

// Err returns errors.ErrPartialFailure when any table, the archive or an
// upload failed.
func (s *Summary) Err() error {
	if s.Status() == StatusPartial {
		return errors.ErrPartialFailure
	}
	return nil
}
