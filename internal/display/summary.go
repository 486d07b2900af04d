// Package display renders run summaries and history for the terminal.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"db-backup-utility/internal/backup"
	"db-backup-utility/internal/history"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat validates a format name; empty means text
func ParseFormat(name string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(name)); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("invalid output format '%s', must be one of: text, json, yaml", name)
}

// Renderer writes summaries in one output format
type Renderer struct {
	out    io.Writer
	format OutputFormat
	colors *ColorSystem
}

// NewRenderer creates a renderer that colors text output when out is a terminal
func NewRenderer(out io.Writer, format OutputFormat, theme ColorTheme) *Renderer {
	return &Renderer{out: out, format: format, colors: NewColorSystem(out, theme)}
}

type summaryView struct {
	RunID         string                `json:"run_id" yaml:"run_id"`
	Database      string                `json:"database" yaml:"database"`
	Status        string                `json:"status" yaml:"status"`
	Token         string                `json:"token" yaml:"token"`
	SessionDir    string                `json:"session_dir,omitempty" yaml:"session_dir,omitempty"`
	ServerVersion string                `json:"server_version,omitempty" yaml:"server_version,omitempty"`
	StartedAt     time.Time             `json:"started_at" yaml:"started_at"`
	DurationMS    int64                 `json:"duration_ms" yaml:"duration_ms"`
	Succeeded     []string              `json:"succeeded" yaml:"succeeded"`
	Failed        []backup.TableFailure `json:"failed" yaml:"failed"`
	TotalRows     int                   `json:"total_rows" yaml:"total_rows"`
	Archive       string                `json:"archive,omitempty" yaml:"archive,omitempty"`
	ArchiveSize   int64                 `json:"archive_size,omitempty" yaml:"archive_size,omitempty"`
	ArchiveError  string                `json:"archive_error,omitempty" yaml:"archive_error,omitempty"`
	Uploads       []string              `json:"uploads,omitempty" yaml:"uploads,omitempty"`
	UploadErrors  []string              `json:"upload_errors,omitempty" yaml:"upload_errors,omitempty"`
	Pruned        []string              `json:"pruned,omitempty" yaml:"pruned,omitempty"`
	Error         string                `json:"error,omitempty" yaml:"error,omitempty"`
}

func newSummaryView(s *backup.Summary) summaryView {
	v := summaryView{
		RunID:         s.RunID,
		Database:      s.Database,
		Status:        s.Status(),
		Token:         s.Token,
		SessionDir:    s.SessionDir,
		ServerVersion: s.ServerVersion,
		StartedAt:     s.StartedAt,
		DurationMS:    s.Duration().Milliseconds(),
		Succeeded:     s.Succeeded(),
		Failed:        s.Failed(),
		TotalRows:     s.TotalRows(),
		ArchiveError:  s.ArchiveError,
		Uploads:       s.Uploads,
		UploadErrors:  s.UploadErrors,
		Pruned:        s.Pruned,
		Error:         s.FatalError,
	}
	if v.Succeeded == nil {
		v.Succeeded = []string{}
	}
	if v.Failed == nil {
		v.Failed = []backup.TableFailure{}
	}
	if s.Archive != nil {
		v.Archive = s.Archive.Path
		v.ArchiveSize = s.Archive.Size
	}
	return v
}

// Summary writes the end-of-run report
func (r *Renderer) Summary(s *backup.Summary) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(newSummaryView(s))
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		defer enc.Close()
		return enc.Encode(newSummaryView(s))
	}
	return r.textSummary(s)
}

func (r *Renderer) textSummary(s *backup.Summary) error {
	theme := r.colors.Theme()
	var b strings.Builder

	fmt.Fprintf(&b, "Backup of %s (run %s, session %s)\n", r.colors.Colorize(s.Database, theme.Primary), s.RunID, s.Token)
	if s.ServerVersion != "" {
		fmt.Fprintf(&b, "Server: MySQL %s\n", s.ServerVersion)
	}

	if len(s.Tables) > 0 {
		t := NewTable(r.colors, "TABLE", "STATUS", "ROWS", "FILE / ERROR")
		t.SetColumnAlignment(2, AlignRight)
		for _, res := range s.Tables {
			if res.Failure != nil {
				t.AddRow(res.Table.Name, "failed ("+string(res.Failure.Stage)+")", "-", res.Failure.Error)
				continue
			}
			file := "(stdout)"
			if res.File != "" {
				file = filepath.Base(res.File)
			}
			t.AddRow(res.Table.Name, "ok", humanize.Comma(int64(res.Rows)), file)
		}
		b.WriteString(t.Render())
	}

	status := s.Status()
	line := fmt.Sprintf("%d tables backed up, %d failed, %s rows in %s",
		len(s.Succeeded()), len(s.Failed()), humanize.Comma(int64(s.TotalRows())), s.Duration().Round(time.Millisecond))
	switch status {
	case backup.StatusSuccess:
		b.WriteString(r.colors.Colorize("SUCCESS", theme.Success))
	case backup.StatusPartial:
		b.WriteString(r.colors.Colorize("PARTIAL", theme.Warning))
	default:
		b.WriteString(r.colors.Colorize("FAILED", theme.Error))
	}
	b.WriteString(": " + line + "\n")

	if s.FatalError != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.colors.Colorize(s.FatalError, theme.Error))
	}
	if s.SessionDir != "" {
		fmt.Fprintf(&b, "Session: %s\n", s.SessionDir)
	}
	if s.Archive != nil {
		fmt.Fprintf(&b, "Archive: %s (%s, %s", s.Archive.Path, humanize.Bytes(uint64(s.Archive.Size)), s.Archive.Compression)
		if s.Archive.Encrypted {
			b.WriteString(", encrypted")
		}
		b.WriteString(")\n")
	}
	if s.ArchiveError != "" {
		fmt.Fprintf(&b, "Archive error: %s\n", r.colors.Colorize(s.ArchiveError, theme.Error))
	}
	for _, u := range s.Uploads {
		fmt.Fprintf(&b, "Uploaded: %s\n", u)
	}
	for _, e := range s.UploadErrors {
		fmt.Fprintf(&b, "Upload error: %s\n", r.colors.Colorize(e, theme.Error))
	}
	if len(s.Pruned) > 0 {
		fmt.Fprintf(&b, "Pruned %d old %s: %s\n", len(s.Pruned), plural(len(s.Pruned), "session", "sessions"), strings.Join(s.Pruned, ", "))
	}

	return writeString(r.out, b.String())
}

type runView struct {
	RunID        string    `json:"run_id" yaml:"run_id"`
	Database     string    `json:"database" yaml:"database"`
	Token        string    `json:"token" yaml:"token"`
	Status       string    `json:"status" yaml:"status"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	DurationMS   int64     `json:"duration_ms" yaml:"duration_ms"`
	Succeeded    int       `json:"succeeded" yaml:"succeeded"`
	Failed       int       `json:"failed" yaml:"failed"`
	FailedTables []string  `json:"failed_tables,omitempty" yaml:"failed_tables,omitempty"`
	TotalRows    int       `json:"total_rows" yaml:"total_rows"`
	Archive      string    `json:"archive,omitempty" yaml:"archive,omitempty"`
	ArchiveSize  int64     `json:"archive_size,omitempty" yaml:"archive_size,omitempty"`
	Error        string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// History writes a list of recorded runs, newest first
func (r *Renderer) History(runs []history.Run) error {
	if r.format == FormatJSON || r.format == FormatYAML {
		views := make([]runView, 0, len(runs))
		for _, run := range runs {
			views = append(views, runView{
				RunID:        run.RunID,
				Database:     run.Database,
				Token:        run.Token,
				Status:       run.Status,
				StartedAt:    run.StartedAt,
				DurationMS:   run.Duration().Milliseconds(),
				Succeeded:    run.Succeeded,
				Failed:       run.Failed,
				FailedTables: run.FailedTables,
				TotalRows:    run.TotalRows,
				Archive:      run.ArchivePath,
				ArchiveSize:  run.ArchiveSize,
				Error:        run.Error,
			})
		}
		if r.format == FormatJSON {
			enc := json.NewEncoder(r.out)
			enc.SetIndent("", "  ")
			return enc.Encode(views)
		}
		enc := yaml.NewEncoder(r.out)
		defer enc.Close()
		return enc.Encode(views)
	}

	if len(runs) == 0 {
		_, err := fmt.Fprintln(r.out, "No backup runs recorded.")
		return err
	}

	t := NewTable(r.colors, "STARTED", "DATABASE", "SESSION", "STATUS", "TABLES", "ROWS", "ARCHIVE")
	t.SetColumnAlignment(4, AlignRight)
	t.SetColumnAlignment(5, AlignRight)
	for _, run := range runs {
		archive := "-"
		if run.ArchivePath != "" {
			archive = humanize.Bytes(uint64(run.ArchiveSize))
		}
		t.AddRow(
			humanize.Time(run.StartedAt),
			run.Database,
			run.Token,
			run.Status,
			fmt.Sprintf("%d/%d", run.Succeeded, run.Succeeded+run.Failed),
			humanize.Comma(int64(run.TotalRows)),
			archive,
		)
	}
	return writeString(r.out, t.Render())
}

func writeString(w io.Writer, s string) error {
	_, err := io.WriteString(w, s)
	return err
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
