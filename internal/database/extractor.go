package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"db-backup-utility/internal/errors"
	"db-backup-utility/internal/logging"
)

// Extractor reads the rows and the creation statement of a single table
type Extractor struct {
	logger       *logging.Logger
	queryTimeout time.Duration
}

// NewExtractor creates an extractor. A zero queryTimeout leaves queries bounded
// only by the caller's context.
func NewExtractor(logger *logging.Logger, queryTimeout time.Duration) *Extractor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Extractor{logger: logger, queryTimeout: queryTimeout}
}

// Extract fetches column names, rows and the creation statement of table.
// Views are extracted schema-only.
func (e *Extractor) Extract(ctx context.Context, q Queryer, table Table) (*TableSnapshot, error) {
	snapshot := &TableSnapshot{Table: table}

	if !table.IsView() {
		err := e.bounded(ctx, func(qctx context.Context) error {
			var err error
			snapshot.Columns, snapshot.Rows, err = e.extractRows(qctx, q, table.Name)
			return err
		})
		if err != nil {
			return nil, &errors.ExtractionError{Table: table.Name, Stage: errors.StageData, Cause: err}
		}
	}

	var schema string
	err := e.bounded(ctx, func(qctx context.Context) error {
		var err error
		schema, err = e.extractSchema(qctx, q, table.Name)
		return err
	})
	if err != nil {
		return nil, &errors.ExtractionError{Table: table.Name, Stage: errors.StageSchema, Cause: err}
	}
	snapshot.Schema = schema

	return snapshot, nil
}

// bounded runs one query under the per-query deadline. When that deadline,
// rather than ctx, ended the query the error is marked
// context.DeadlineExceeded whatever the driver reported.
func (e *Extractor) bounded(ctx context.Context, query func(context.Context) error) error {
	if e.queryTimeout <= 0 {
		return query(ctx)
	}

	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	err := query(qctx)
	if err == nil || ctx.Err() != nil || qctx.Err() == nil || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("query exceeded %s: %w: %w", e.queryTimeout, context.DeadlineExceeded, err)
}

func (e *Extractor) extractRows(ctx context.Context, q Queryer, table string) ([]string, [][]any, error) {
	query := "SELECT * FROM " + QuoteIdentifier(table)
	startTime := time.Now()

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		e.logger.LogSQLExecution(query, time.Since(startTime), 0, err)
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("reading columns: %w", err)
	}

	var result [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, fmt.Errorf("scanning row %d: %w", len(result)+1, err)
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		e.logger.LogSQLExecution(query, time.Since(startTime), int64(len(result)), err)
		return nil, nil, err
	}

	e.logger.LogSQLExecution(query, time.Since(startTime), int64(len(result)), nil)
	return columns, result, nil
}

// extractSchema returns the second column of SHOW CREATE TABLE. Tables yield
// two columns and views four, so the row is scanned generically.
func (e *Extractor) extractSchema(ctx context.Context, q Queryer, table string) (string, error) {
	query := "SHOW CREATE TABLE " + QuoteIdentifier(table)
	startTime := time.Now()

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		e.logger.LogSQLExecution(query, time.Since(startTime), 0, err)
		return "", err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("reading columns: %w", err)
	}
	if len(columns) < 2 {
		return "", fmt.Errorf("unexpected result shape: %d column(s)", len(columns))
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no creation statement returned")
	}

	values := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return "", fmt.Errorf("scanning creation statement: %w", err)
	}

	e.logger.LogSQLExecution(query, time.Since(startTime), 1, nil)
	return values[1].String, nil
}
