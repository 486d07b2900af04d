package errors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrPartialFailure is returned by a run that finished but could not back up every table.
var ErrPartialFailure = errors.New("backup completed with failures")

// Stage names the step of table extraction that failed.
type Stage string

const (
	StageData   Stage = "data"
	StageSchema Stage = "schema"
	StageWrite  Stage = "write"
)

// ConnectionError is returned when no connection could be established.
type ConnectionError struct {
	Reason       string
	AttemptsMade int
	Cause        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed after %d attempt(s): %s", e.AttemptsMade, e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// QueryError is returned when table enumeration fails.
type QueryError struct {
	Query string
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q failed: %v", e.Query, e.Cause)
}

func (e *QueryError) Unwrap() error { return e.Cause }

// ExtractionError is returned when the data or schema of one table cannot be fetched.
type ExtractionError struct {
	Table string
	Stage Stage
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s of table %s: %v", e.Stage, e.Table, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// ConnectionLost reports whether the failure was caused by losing the server
// connection, in which case the remaining tables cannot be extracted either.
func (e *ExtractionError) ConnectionLost() bool {
	return IsConnectionLost(e.Cause)
}

// WriteError is returned when a table's reconstruction script cannot be persisted.
type WriteError struct {
	Path  string
	Cause error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Cause)
}

func (e *WriteError) Unwrap() error { return e.Cause }

// ArchiveError is returned when the session directory cannot be archived.
type ArchiveError struct {
	Path  string
	Cause error
}

func (e *ArchiveError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("archiving failed: %v", e.Cause)
	}
	return fmt.Sprintf("archiving %s: %v", e.Path, e.Cause)
}

func (e *ArchiveError) Unwrap() error { return e.Cause }

// IsConnectionLost reports whether err means the server connection is gone.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 2006 || mysqlErr.Number == 2013
	}
	return false
}

// ConnectionUnusable reports whether the connection that produced err must be
// replaced before it runs another query. The MySQL driver closes the network
// connection when a query deadline fires, so timeouts count as well.
func ConnectionUnusable(err error) bool {
	return IsConnectionLost(err) || errors.Is(err, context.DeadlineExceeded)
}
