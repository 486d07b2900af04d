// Package backup runs a logical backup of one MySQL database: every table is
// extracted, serialized to INSERT statements and written to its own file in a
// timestamped session directory, which is then archived.
package backup

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"db-backup-utility/internal/archive"
	"db-backup-utility/internal/database"
	"db-backup-utility/internal/dump"
	"db-backup-utility/internal/errors"
	"db-backup-utility/internal/logging"
	"db-backup-utility/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Connector opens the source database and enumerates its tables
type Connector interface {
	Connect(ctx context.Context, cfg database.ConnectionConfig) (*sql.DB, error)
	ListTables(ctx context.Context, q database.Queryer) ([]database.Table, error)
	GetVersion(ctx context.Context, q database.Queryer) (string, error)
	Close(db *sql.DB) error
}

// Progress is told about every finished table. TableDone may be called from
// several workers at once.
type Progress interface {
	Start(total int)
	TableDone(result TableResult)
	Finish()
}

// Options controls one pipeline run
type Options struct {
	Connection    database.ConnectionConfig
	Root          string
	Workers       int
	Tables        []string
	ExcludeTables []string
	PrintOnly     bool
	SkipArchive   bool
	Timeout       time.Duration
	Keep          int
	UploadPrefix  string
}

// Dependencies are the collaborators of a pipeline. Nil optional members
// disable their stage.
type Dependencies struct {
	Connector Connector
	Extractor *database.Extractor
	Writer    *Writer
	Archiver  *archive.Archiver
	Encryptor *archive.Encryptor
	Uploader  storage.Provider
	Retention *Retention
	Progress  Progress
	Logger    *logging.Logger
	Now       func() time.Time
	NewRunID  func() string
}

// Pipeline is the single backup flow: connect, enumerate, extract, serialize,
// write, archive, then the optional encrypt, upload and prune stages.
type Pipeline struct {
	opts Options
	deps Dependencies
}

// NewPipeline validates opts and fills default dependencies
func NewPipeline(opts Options, deps Dependencies) (*Pipeline, error) {
	if deps.Connector == nil {
		return nil, fmt.Errorf("pipeline requires a database connector")
	}
	if opts.Root == "" && !opts.PrintOnly {
		return nil, fmt.Errorf("pipeline requires a backup root directory")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Extractor == nil {
		deps.Extractor = database.NewExtractor(deps.Logger, 0)
	}
	if deps.Writer == nil {
		deps.Writer = NewWriter()
	}
	if deps.Archiver == nil {
		deps.Archiver = archive.NewArchiver(archive.CompressionGzip, 0, deps.Logger)
	}
	if deps.Retention == nil {
		deps.Retention = NewRetention(deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	return &Pipeline{opts: opts, deps: deps}, nil
}

// Run performs one backup. Tables that fail extraction or writing are
// recorded in the summary and the run continues; the returned error is then
// errors.ErrPartialFailure. Connection, enumeration and session failures are
// fatal, as is a lost connection that cannot be replaced. A summary is
// returned in every case.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	startedAt := p.deps.Now()
	runID := p.deps.NewRunID()
	logger := p.deps.Logger.WithRunID(runID)
	cfg := p.opts.Connection

	summary := &Summary{
		RunID:     runID,
		Database:  cfg.Database,
		Token:     startedAt.Format(TokenLayout),
		StartedAt: startedAt,
		Printed:   p.opts.PrintOnly,
	}
	fail := func(err error) (*Summary, error) {
		summary.FatalError = err.Error()
		summary.FinishedAt = p.deps.Now()
		return summary, err
	}

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	done := logger.LogOperationStart("backup_run", map[string]interface{}{
		"database": cfg.Database,
		"workers":  p.opts.Workers,
	})

	db, err := p.deps.Connector.Connect(ctx, cfg)
	if err != nil {
		done(err)
		return fail(err)
	}
	defer p.deps.Connector.Close(db)
	db.SetMaxOpenConns(p.opts.Workers + 1)

	if version, err := p.deps.Connector.GetVersion(ctx, db); err == nil {
		summary.ServerVersion = version
	} else {
		logger.WithField("error", err.Error()).Debug("Could not read server version")
	}

	tables, err := p.deps.Connector.ListTables(ctx, db)
	if err != nil {
		done(err)
		return fail(err)
	}
	tables = p.filterTables(tables, logger)
	logger.WithField("tables", len(tables)).Info("Enumerated tables")

	var session *Session
	if p.opts.PrintOnly {
		session = newDetachedSession(cfg.Database, runID, startedAt)
	} else {
		session, err = NewSession(p.opts.Root, cfg.Database, runID, startedAt)
		if err != nil {
			done(err)
			return fail(err)
		}
		summary.SessionDir = session.Dir
	}
	summary.Token = session.Token

	if p.deps.Progress != nil {
		p.deps.Progress.Start(len(tables))
	}
	results, err := p.processTables(ctx, db, session, tables, logger)
	if p.deps.Progress != nil {
		p.deps.Progress.Finish()
	}
	summary.Tables = results
	if err != nil {
		done(err)
		if !p.opts.PrintOnly {
			summary.FatalError = err.Error()
			p.writeManifest(summary, logger)
		}
		return fail(err)
	}

	session.Seal()

	if !p.opts.PrintOnly {
		if !p.opts.SkipArchive {
			p.archive(ctx, session, summary, logger)
		}
		p.writeManifest(summary, logger)

		if p.opts.Keep > 0 {
			pruned, err := p.deps.Retention.Prune(p.opts.Root, cfg.Database, p.opts.Keep, session.Token)
			summary.Pruned = pruned
			if err != nil {
				logger.WithField("error", err.Error()).Warn("Retention pruning incomplete")
			}
		}
	}

	summary.FinishedAt = p.deps.Now()
	runErr := summary.Err()
	done(runErr)
	return summary, runErr
}

func (p *Pipeline) filterTables(tables []database.Table, logger *logging.Logger) []database.Table {
	if len(p.opts.Tables) == 0 && len(p.opts.ExcludeTables) == 0 {
		return tables
	}

	matches := func(patterns []string, name string) bool {
		for _, pattern := range patterns {
			if ok, _ := path.Match(pattern, name); ok {
				return true
			}
		}
		return false
	}

	var kept []database.Table
	for _, t := range tables {
		if len(p.opts.Tables) > 0 && !matches(p.opts.Tables, t.Name) {
			continue
		}
		if matches(p.opts.ExcludeTables, t.Name) {
			logger.WithField("table", t.Name).Debug("Table excluded by filter")
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// processTables runs extract, serialize and write for every table on a
// bounded set of workers, each holding its own connection. Results keep the
// enumeration order. A worker whose connection became unusable leases a new
// one; the run aborts when that fails or the context expires.
func (p *Pipeline) processTables(ctx context.Context, db *sql.DB, session *Session, tables []database.Table, logger *logging.Logger) ([]TableResult, error) {
	results := make([]TableResult, len(tables))
	if len(tables) == 0 {
		return results, nil
	}

	workers := p.opts.Workers
	if p.opts.PrintOnly {
		workers = 1
	}
	if workers > len(tables) {
		workers = len(tables)
	}

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range tables {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			conn, err := leaseConn(gctx, db)
			if err != nil {
				return &errors.ConnectionError{Reason: "failed to lease a connection: " + err.Error(), AttemptsMade: 1, Cause: err}
			}
			defer func() {
				if conn != nil {
					conn.Close()
				}
			}()

			for i := range jobs {
				result, fatal := p.processTable(gctx, conn, session, tables[i], logger)
				if fatal == nil && result.Failure != nil && errors.ConnectionUnusable(result.Failure.Cause) {
					conn.Close()
					if conn, err = leaseConn(gctx, db); err != nil {
						fatal = fmt.Errorf("connection lost while backing up %s: %w (reconnect: %w)", tables[i].Name, result.Failure.Cause, err)
					} else {
						logger.WithField("table", tables[i].Name).Warn("Replaced database connection after failed table")
					}
				}
				results[i] = result
				if p.deps.Progress != nil {
					p.deps.Progress.TableDone(result)
				}
				if fatal != nil {
					return fatal
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return compact(results), err
	}
	return results, nil
}

// leaseConn takes a dedicated connection from the pool and checks it is alive
func leaseConn(ctx context.Context, db *sql.DB) (*sql.Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// compact drops the results of tables that were never reached
func compact(results []TableResult) []TableResult {
	out := results[:0]
	for _, r := range results {
		if r.Table.Name != "" {
			out = append(out, r)
		}
	}
	return out
}

func (p *Pipeline) processTable(ctx context.Context, q database.Queryer, session *Session, table database.Table, logger *logging.Logger) (TableResult, error) {
	start := time.Now()
	result := TableResult{Table: table}

	snapshot, err := p.deps.Extractor.Extract(ctx, q, table)
	if err != nil {
		result.Duration = time.Since(start)
		logger.LogTableBackup(table.Name, 0, "", result.Duration, err)

		var extErr *errors.ExtractionError
		if stderrors.As(err, &extErr) {
			result.Failure = &TableFailure{Table: table.Name, Stage: extErr.Stage, Error: extErr.Cause.Error(), Cause: err}
		} else {
			result.Failure = &TableFailure{Table: table.Name, Stage: errors.StageData, Error: err.Error(), Cause: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("backup interrupted at table %s: %w", table.Name, ctxErr)
		}
		return result, nil
	}

	inserts := dump.SerializeRows(table.Name, snapshot.Columns, snapshot.Rows)
	file, err := p.deps.Writer.WriteTable(session, table.Name, snapshot.Schema, inserts)
	result.Duration = time.Since(start)
	result.Rows = snapshot.RowCount()
	if err != nil {
		result.Failure = &TableFailure{Table: table.Name, Stage: errors.StageWrite, Error: err.Error(), Cause: err}
		logger.LogTableBackup(table.Name, result.Rows, "", result.Duration, err)
		return result, nil
	}

	result.File = file
	logger.LogTableBackup(table.Name, result.Rows, file, result.Duration, nil)
	return result, nil
}

func (p *Pipeline) archive(ctx context.Context, session *Session, summary *Summary, logger *logging.Logger) {
	result, err := p.deps.Archiver.Archive(ctx, session.Dir, session.ArchiveBase())
	if err != nil {
		summary.ArchiveError = err.Error()
		return
	}
	summary.Archive = result

	if p.deps.Encryptor != nil {
		encPath, size, err := p.deps.Encryptor.EncryptFile(result.Path)
		if err != nil {
			summary.ArchiveError = (&errors.ArchiveError{Path: result.Path, Cause: fmt.Errorf("encryption failed: %w", err)}).Error()
			logger.WithField("error", err.Error()).Error("Archive encryption failed")
			return
		}
		result.Path = encPath
		result.Size = size
		result.Encrypted = true
		logger.WithField("archive", encPath).Info("Archive encrypted")
	}

	if p.deps.Uploader != nil {
		key := storage.ObjectKey(p.opts.UploadPrefix, result.Path)
		location, err := p.deps.Uploader.Upload(ctx, result.Path, key)
		fields := map[string]interface{}{
			"operation": "upload",
			"provider":  string(p.deps.Uploader.Name()),
			"key":       key,
		}
		if err != nil {
			summary.UploadErrors = append(summary.UploadErrors, err.Error())
			fields["error"] = err.Error()
			logger.WithFields(fields).Error("Archive upload failed")
			return
		}
		summary.Uploads = append(summary.Uploads, location)
		fields["location"] = location
		logger.WithFields(fields).Info("Archive uploaded")
	}
}

func (p *Pipeline) writeManifest(summary *Summary, logger *logging.Logger) {
	summary.FinishedAt = p.deps.Now()
	path := ManifestPath(p.opts.Root, summary.Database, summary.Token)
	if err := WriteManifest(path, NewManifest(summary)); err != nil {
		logger.WithField("error", err.Error()).Warn("Could not write session manifest")
		return
	}
	summary.Manifest = filepath.Clean(path)
}
