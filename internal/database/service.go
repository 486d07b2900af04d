package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"db-backup-utility/internal/errors"
	"db-backup-utility/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

const showTablesQuery = "SHOW FULL TABLES"

// Opener opens a database handle. sql.Open is used unless overridden.
type Opener func(driverName, dsn string) (*sql.DB, error)

// Service establishes connections and runs introspection queries
type Service struct {
	logger      *logging.Logger
	retryConfig errors.RetryConfig
	open        Opener
}

// NewService creates a new database service with default retry settings
func NewService() *Service {
	return NewServiceWithOptions(logging.NewDefaultLogger(), errors.DefaultRetryConfig())
}

// NewServiceWithOptions creates a database service with a custom logger and retry policy
func NewServiceWithOptions(logger *logging.Logger, retry errors.RetryConfig) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		logger:      logger,
		retryConfig: retry,
		open:        sql.Open,
	}
}

// SetOpener replaces the function used to open database handles
func (s *Service) SetOpener(open Opener) {
	s.open = open
}

// Connect opens a ping-validated connection, retrying with exponential backoff.
// Authentication failures and unknown databases are not retried. When every
// attempt fails a *errors.ConnectionError is returned.
func (s *Service) Connect(ctx context.Context, cfg ConnectionConfig) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &errors.ConnectionError{Reason: err.Error(), Cause: err}
	}

	startTime := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"database": cfg.Database,
	}).Info("Attempting database connection")

	retry := s.retryConfig
	// A per-attempt ping deadline or dial timeout is retried; only the
	// caller's own cancellation ends the loop early.
	retry.ShouldRetry = func(appErr *errors.AppError) bool {
		if ctx.Err() != nil {
			return false
		}
		switch appErr.Type {
		case errors.ErrorTypePermission, errors.ErrorTypeValidation:
			return false
		}
		return true
	}
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.LogConnectionAttempt(cfg.Host, attempt, retry.MaxAttempts, delay, err)
	}
	handler := errors.NewRetryHandler(retry)

	var db *sql.DB
	err := handler.Retry(ctx, func() error {
		conn, openErr := s.open("mysql", cfg.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}
		conn.SetConnMaxLifetime(5 * time.Minute)

		if pingErr := s.ping(ctx, conn, cfg.Timeout); pingErr != nil {
			conn.Close()
			return pingErr
		}
		db = conn
		return nil
	})

	s.logger.LogDatabaseConnection(cfg.Host, cfg.Database, err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, &errors.ConnectionError{
			Reason:       rootReason(err),
			AttemptsMade: errors.AttemptsFrom(err),
			Cause:        err,
		}
	}

	return db, nil
}

func (s *Service) ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return db.PingContext(ctx)
}

// rootReason reports the underlying driver message rather than the classification
func rootReason(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && appErr.Cause != nil {
		return appErr.Cause.Error()
	}
	return err.Error()
}

// Close closes the database handle
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}

	s.logger.Debug("Closing database connection")
	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}
	return nil
}

// ListTables returns the tables of the connected database in server order.
func (s *Service) ListTables(ctx context.Context, q Queryer) ([]Table, error) {
	startTime := time.Now()

	rows, err := q.QueryContext(ctx, showTablesQuery)
	if err != nil {
		s.logger.LogSQLExecution(showTablesQuery, time.Since(startTime), 0, err)
		return nil, &errors.QueryError{Query: showTablesQuery, Cause: err}
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name, &t.Kind); err != nil {
			return nil, &errors.QueryError{Query: showTablesQuery, Cause: err}
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		s.logger.LogSQLExecution(showTablesQuery, time.Since(startTime), int64(len(tables)), err)
		return nil, &errors.QueryError{Query: showTablesQuery, Cause: err}
	}

	s.logger.LogSQLExecution(showTablesQuery, time.Since(startTime), int64(len(tables)), nil)
	return tables, nil
}

// GetVersion retrieves the MySQL server version
func (s *Service) GetVersion(ctx context.Context, q Queryer) (string, error) {
	const query = "SELECT VERSION()"

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}
	defer rows.Close()

	var version string
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", errors.WrapError(err, "failed to get database version")
		}
		return "", fmt.Errorf("failed to get database version: empty result")
	}
	if err := rows.Scan(&version); err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}

	s.logger.WithField("version", version).Debug("Retrieved database version")
	return version, nil
}
