// Package application wires configuration, logging and the backup pipeline
// into runnable commands.
package application

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"db-backup-utility/internal/archive"
	"db-backup-utility/internal/backup"
	"db-backup-utility/internal/config"
	"db-backup-utility/internal/database"
	"db-backup-utility/internal/display"
	"db-backup-utility/internal/errors"
	"db-backup-utility/internal/history"
	"db-backup-utility/internal/logging"
	"db-backup-utility/internal/metrics"
	"db-backup-utility/internal/scheduler"
	"db-backup-utility/internal/storage"
)

// Exit statuses
const (
	ExitSuccess = 0
	ExitFatal   = 1
	ExitPartial = 2
)

// RunContext is built once at start and handed to everything that needs
// process-wide state.
type RunContext struct {
	Config     *config.Config
	Logger     *logging.Logger
	WorkDir    string
	BackupRoot string
	Metrics    *metrics.Metrics
	History    *history.Catalog
	Stdout     io.Writer
	Stderr     io.Writer

	connector backup.Connector
	now       func() time.Time
	newRunID  func() string
}

// Option customizes a RunContext
type Option func(*RunContext)

// WithOutput redirects summary and statement output
func WithOutput(stdout, stderr io.Writer) Option {
	return func(rc *RunContext) {
		rc.Stdout = stdout
		rc.Stderr = stderr
	}
}

// WithLogger replaces the logger built from the configuration
func WithLogger(logger *logging.Logger) Option {
	return func(rc *RunContext) { rc.Logger = logger }
}

// WithConnector replaces the MySQL connection manager
func WithConnector(c backup.Connector) Option {
	return func(rc *RunContext) { rc.connector = c }
}

// WithClock fixes the session clock and run IDs
func WithClock(now func() time.Time, newRunID func() string) Option {
	return func(rc *RunContext) {
		rc.now = now
		rc.newRunID = newRunID
	}
}

// WithWorkDir sets the directory an empty destination resolves to
func WithWorkDir(dir string) Option {
	return func(rc *RunContext) { rc.WorkDir = dir }
}

// NewRunContext builds the run context and ensures the backup root exists
func NewRunContext(cfg *config.Config, opts ...Option) (*RunContext, error) {
	rc := &RunContext{
		Config:  cfg,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(rc)
	}

	if rc.Logger == nil {
		logger, err := logging.NewLogger(logging.Config{
			Level:      logging.LogLevel(cfg.Logging.Level),
			Output:     rc.Stderr,
			Format:     cfg.Logging.Format,
			ShowCaller: cfg.Logging.Caller,
			LogFile:    cfg.Logging.File,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		rc.Logger = logger
	}

	if rc.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		rc.WorkDir = wd
	}
	rc.BackupRoot = cfg.BackupRoot(rc.WorkDir)

	if rc.connector == nil {
		rc.connector = database.NewServiceWithOptions(rc.Logger, cfg.RetryPolicy())
	}

	if cfg.Backup.Print {
		return rc, nil
	}

	if err := os.MkdirAll(rc.BackupRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup root %s: %w", rc.BackupRoot, err)
	}

	if cfg.History.Enabled {
		catalog, err := history.Open(cfg.HistoryPath(rc.WorkDir))
		if err != nil {
			rc.Logger.WithField("error", err.Error()).Warn("Run history disabled")
		} else {
			rc.History = catalog
		}
	}

	return rc, nil
}

// Close releases the history catalog
func (rc *RunContext) Close() error {
	if rc.History != nil {
		return rc.History.Close()
	}
	return nil
}

// newPipeline assembles the pipeline for one run. The returned cleanup
// releases upload clients.
func (rc *RunContext) newPipeline(ctx context.Context) (*backup.Pipeline, func(), error) {
	cfg := rc.Config
	cleanup := func() {}

	compression, err := archive.ParseCompression(cfg.Backup.Compression)
	if err != nil {
		return nil, cleanup, err
	}

	deps := backup.Dependencies{
		Connector: rc.connector,
		Extractor: database.NewExtractor(rc.Logger, cfg.Backup.QueryTimeout),
		Writer:    backup.NewWriter(),
		Archiver:  archive.NewArchiver(compression, cfg.Backup.CompressionLevel, rc.Logger),
		Retention: backup.NewRetention(rc.Logger),
		Logger:    rc.Logger,
		Now:       rc.now,
		NewRunID:  rc.newRunID,
	}
	if cfg.Backup.Print {
		deps.Writer = backup.NewPrintWriter(rc.Stdout)
	} else if rc.showProgress() {
		deps.Progress = display.NewProgressBar(rc.Stderr, display.GetThemeByName(cfg.Display.Theme))
	}

	if cfg.Encryption.Enabled && !cfg.Backup.Print {
		enc, err := archive.NewEncryptorFromEnv(cfg.Encryption.PassphraseEnv)
		if err != nil {
			return nil, cleanup, err
		}
		deps.Encryptor = enc
	}

	if cfg.Storage.Enabled() && !cfg.Backup.Print {
		provider, err := storage.NewProvider(ctx, cfg.Storage)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.Provider, err)
		}
		deps.Uploader = provider
		if closer, ok := provider.(io.Closer); ok {
			cleanup = func() { closer.Close() }
		}
	}

	p, err := backup.NewPipeline(backup.Options{
		Connection:    cfg.Database,
		Root:          rc.BackupRoot,
		Workers:       cfg.Backup.Workers,
		Tables:        cfg.Backup.Tables,
		ExcludeTables: cfg.Backup.ExcludeTables,
		PrintOnly:     cfg.Backup.Print,
		SkipArchive:   cfg.Backup.SkipArchive,
		Timeout:       cfg.Backup.Timeout,
		Keep:          cfg.Backup.Keep,
		UploadPrefix:  cfg.Storage.Prefix,
	}, deps)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return p, cleanup, nil
}

// showProgress is true for interactive runs that are not quiet
func (rc *RunContext) showProgress() bool {
	return rc.Config.Logging.Level != string(logging.LogLevelQuiet) && display.IsTerminal(rc.Stderr)
}

// RunOnce performs one backup, records it and prints the summary. The error
// is errors.ErrPartialFailure when the run completed with failed tables.
func (rc *RunContext) RunOnce(ctx context.Context) (*backup.Summary, error) {
	p, cleanup, err := rc.newPipeline(ctx)
	if err != nil {
		rc.handleExecutionError(err)
		return nil, err
	}
	defer cleanup()

	summary, runErr := p.Run(ctx)

	if rc.History != nil && summary != nil {
		if err := rc.History.Record(ctx, summary); err != nil {
			rc.Logger.WithField("error", err.Error()).Warn("Could not record run history")
		}
	}

	if summary != nil {
		rc.Metrics.Observe(summary)
		if url := rc.Config.Metrics.PushgatewayURL; url != "" {
			if err := rc.Metrics.Push(ctx, url, rc.Config.Metrics.Job, summary.Database); err != nil {
				rc.Logger.WithField("error", err.Error()).Warn("Metrics push failed")
			}
		}
		if err := rc.renderSummary(summary); err != nil {
			rc.Logger.WithField("error", err.Error()).Warn("Could not print summary")
		}
	}

	if runErr != nil && !stderrors.Is(runErr, errors.ErrPartialFailure) {
		rc.handleExecutionError(runErr)
	}
	return summary, runErr
}

// renderSummary writes to stdout, or stderr when stdout carries the statements
func (rc *RunContext) renderSummary(s *backup.Summary) error {
	format, err := display.ParseFormat(rc.Config.Display.Format)
	if err != nil {
		return err
	}
	out := rc.Stdout
	if rc.Config.Backup.Print {
		out = rc.Stderr
	}
	return display.NewRenderer(out, format, display.GetThemeByName(rc.Config.Display.Theme)).Summary(s)
}

// ShowHistory prints the most recent runs of the configured database
func (rc *RunContext) ShowHistory(ctx context.Context, limit int, allDatabases bool) error {
	if rc.History == nil {
		return fmt.Errorf("run history is not available")
	}
	db := rc.Config.Database.Database
	if allDatabases {
		db = ""
	}
	runs, err := rc.History.Recent(ctx, db, limit)
	if err != nil {
		return err
	}
	format, err := display.ParseFormat(rc.Config.Display.Format)
	if err != nil {
		return err
	}
	return display.NewRenderer(rc.Stdout, format, display.GetThemeByName(rc.Config.Display.Theme)).History(runs)
}

// Schedule runs a backup on every tick of spec until ctx is done. When a
// listen address is configured /metrics and /health are served meanwhile.
func (rc *RunContext) Schedule(ctx context.Context, spec string) error {
	sched, err := scheduler.New(spec, func(ctx context.Context) error {
		_, err := rc.RunOnce(ctx)
		return err
	}, rc.Logger)
	if err != nil {
		return err
	}

	var server *http.Server
	if addr := rc.Config.Metrics.ListenAddress; addr != "" {
		server = rc.Metrics.NewServer(addr)
		go func() {
			rc.Logger.WithField("address", addr).Info("Starting metrics server")
			if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				rc.Logger.WithField("error", err.Error()).Error("Metrics server failed")
			}
		}()
	}

	sched.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}
	return nil
}

// ExitCode maps a run error to the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case stderrors.Is(err, errors.ErrPartialFailure):
		return ExitPartial
	}
	return ExitFatal
}

// handleExecutionError logs a fatal run error with troubleshooting hints
func (rc *RunContext) handleExecutionError(err error) {
	fmt.Fprintf(rc.Stderr, "Error: %s\n", err.Error())

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		rc.Logger.WithFields(map[string]interface{}{
			"error_type":  string(appErr.Type),
			"recoverable": appErr.IsRecoverable(),
		}).Debug("Run failed")
		var connErr *errors.ConnectionError
		rc.provideTroubleshootingHints(appErr, stderrors.As(err, &connErr))
	}
}

func (rc *RunContext) provideTroubleshootingHints(appErr *errors.AppError, connecting bool) {
	var hints []string
	switch appErr.Type {
	case errors.ErrorTypeConnection:
		hints = []string{
			"Check that the database server is running",
			"Verify the host and port are correct",
			"Ensure network connectivity to the database server",
		}
	case errors.ErrorTypePermission:
		hints = []string{
			"Verify the username and password are correct",
			"Check that the user has SELECT and SHOW VIEW privileges",
		}
	case errors.ErrorTypeValidation:
		hints = []string{
			"Check that the database name is correct",
			"Review the command line arguments",
		}
	case errors.ErrorTypeTimeout:
		if connecting {
			hints = []string{
				"Try increasing --connect-timeout (database.connect_timeout) or --max-attempts",
				"Ensure network connectivity to the database server",
			}
			break
		}
		hints = []string{
			"Try increasing --timeout or --query-timeout (0 disables the per-query deadline)",
			"Check database server performance",
		}
	}
	if len(hints) == 0 {
		return
	}

	fmt.Fprintf(rc.Stderr, "\nTroubleshooting hints:\n")
	for _, h := range hints {
		fmt.Fprintf(rc.Stderr, "- %s\n", h)
	}
}
