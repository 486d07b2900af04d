package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"db-backup-utility/internal/dump"
	"db-backup-utility/internal/errors"
)

// Writer persists one reconstruction script per table. In print mode the
// scripts go to an io.Writer instead of the session directory.
type Writer struct {
	out io.Writer
	mu  sync.Mutex
}

// NewWriter writes into session directories
func NewWriter() *Writer {
	return &Writer{}
}

// NewPrintWriter writes every script to out
func NewPrintWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// WriteTable stores schema and inserts as <db>_<table>.txt in the session
// directory, replacing any existing file of that name. It returns the path
// written, or "" in print mode.
func (w *Writer) WriteTable(session *Session, table, schema string, inserts []string) (string, error) {
	name := FileName(session.Database, table)
	script := dump.Script(schema, inserts)

	if w.out != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, err := fmt.Fprintf(w.out, "-- %s\n%s\n", name, script); err != nil {
			return "", &errors.WriteError{Path: name, Cause: err}
		}
		return "", nil
	}

	path := filepath.Join(session.Dir, name)
	if session.Sealed() {
		return "", &errors.WriteError{Path: path, Cause: ErrSessionSealed}
	}
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		return "", &errors.WriteError{Path: path, Cause: err}
	}
	return path, nil
}
