// Package logging is the structured logger shared by every stage of a backup
// run. Entries of one run carry its run_id.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel is the verbosity selected on the command line
type LogLevel string

const (
	LogLevelQuiet   LogLevel = "quiet"   // errors only
	LogLevelNormal  LogLevel = "normal"  // one line per table and stage
	LogLevelVerbose LogLevel = "verbose" // plus retries and filtered tables
	LogLevelDebug   LogLevel = "debug"   // plus every SQL statement
)

var logrusLevels = map[LogLevel]logrus.Level{
	LogLevelQuiet:   logrus.ErrorLevel,
	LogLevelNormal:  logrus.InfoLevel,
	LogLevelVerbose: logrus.DebugLevel,
	LogLevelDebug:   logrus.TraceLevel,
}

const maxLoggedSQL = 200

// Logger wraps a logrus logger with fields bound to it
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
	fields logrus.Fields
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer // stderr when nil
	Format     string    // "text" or "json"
	ShowCaller bool
	LogFile    string // appended to in addition to Output
}

// NewLogger creates a logger from config
func NewLogger(config Config) (*Logger, error) {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		out = io.MultiWriter(out, file)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(newFormatter(config.Format, config.ShowCaller))
	logger.SetReportCaller(config.ShowCaller)
	logger.SetLevel(toLogrusLevel(config.Level))

	return &Logger{logger: logger, level: config.Level}, nil
}

func newFormatter(format string, showCaller bool) logrus.Formatter {
	var prettyfier func(*runtime.Frame) (string, string)
	if showCaller {
		prettyfier = func(f *runtime.Frame) (string, string) {
			return f.Function + "()", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
	}

	if format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyfier,
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05",
		CallerPrettyfier: prettyfier,
	}
}

// NewDefaultLogger logs text at normal level to stderr
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Format: "text"})
	return logger
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

func toLogrusLevel(level LogLevel) logrus.Level {
	if l, ok := logrusLevels[level]; ok {
		return l
	}
	return logrus.InfoLevel
}

// With returns a child logger whose entries always carry fields
func (l *Logger) With(fields map[string]interface{}) *Logger {
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{logger: l.logger, level: l.level, fields: merged}
}

// WithRunID tags every entry with the backup run id
func (l *Logger) WithRunID(runID string) *Logger {
	return l.With(map[string]interface{}{"run_id": runID})
}

func (l *Logger) entry() *logrus.Entry {
	return l.logger.WithFields(l.fields)
}

func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.entry().WithFields(fields)
}

func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry().WithField(key, value)
}

// outcome logs success at level ok, or failure with the error at error level
func (l *Logger) outcome(fields logrus.Fields, err error, ok logrus.Level, okMsg, failMsg string) {
	if err != nil {
		fields["error"] = err.Error()
		l.entry().WithFields(fields).Error(failMsg)
		return
	}
	l.entry().WithFields(fields).Log(ok, okMsg)
}

// LogConnectionAttempt logs a failed connection attempt that will be retried
func (l *Logger) LogConnectionAttempt(host string, attempt, maxAttempts int, delay time.Duration, err error) {
	fields := logrus.Fields{
		"operation":    "database_connection",
		"host":         host,
		"attempt":      attempt,
		"max_attempts": maxAttempts,
		"retry_in":     delay.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.entry().WithFields(fields).Warn("Database connection attempt failed, retrying")
}

// LogDatabaseConnection logs the final outcome of connecting
func (l *Logger) LogDatabaseConnection(host, database string, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	}
	if !success && err == nil {
		err = fmt.Errorf("connection not established")
	}
	l.outcome(fields, err, logrus.InfoLevel, "Database connection established", "Database connection failed")
}

// LogSQLExecution logs one introspection or extraction query. Statements
// longer than 200 bytes are truncated.
func (l *Logger) LogSQLExecution(sql string, duration time.Duration, rows int64, err error) {
	fields := logrus.Fields{
		"operation": "sql_query",
		"duration":  duration.String(),
		"rows":      rows,
		"sql":       sql,
	}
	if len(sql) > maxLoggedSQL {
		fields["sql"] = sql[:maxLoggedSQL] + "..."
		fields["sql_length"] = len(sql)
	}
	l.outcome(fields, err, logrus.TraceLevel, "SQL query executed", "SQL query failed")
}

// LogTableBackup logs the outcome of backing up one table
func (l *Logger) LogTableBackup(table string, rows int, path string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "table_backup",
		"table":     table,
		"rows":      rows,
		"duration":  duration.String(),
	}
	if path != "" {
		fields["file"] = path
	}
	l.outcome(fields, err, logrus.InfoLevel, "Table backed up", "Table backup failed")
}

// LogArchive logs the outcome of archiving a session directory
func (l *Logger) LogArchive(sessionDir, archivePath string, size int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":   "archive",
		"session_dir": sessionDir,
		"duration":    duration.String(),
	}
	if err == nil {
		fields["archive"] = archivePath
		fields["size_bytes"] = size
	}
	l.outcome(fields, err, logrus.InfoLevel, "Backup archive created", "Archiving failed; table files are kept in the session directory")
}

func (l *Logger) Info(msg string)  { l.entry().Info(msg) }
func (l *Logger) Debug(msg string) { l.entry().Debug(msg) }
func (l *Logger) Warn(msg string)  { l.entry().Warn(msg) }
func (l *Logger) Error(msg string) { l.entry().Error(msg) }

// GetLevel returns the configured level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel changes the level of this logger and every child sharing it
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled reports whether entries at level are written
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	return l.logger.IsLevelEnabled(toLogrusLevel(level))
}

// LogOperationStart logs the start of operation at debug level and returns
// the function that logs its completion.
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{"operation": operation, "status": "started"}
	for k, v := range fields {
		logFields[k] = v
	}
	l.entry().WithFields(logFields).Debug("Operation started")

	return func(err error) {
		done := make(logrus.Fields, len(logFields)+3)
		for k, v := range logFields {
			done[k] = v
		}
		done["status"] = "completed"
		done["duration"] = time.Since(startTime).String()
		done["success"] = err == nil
		l.outcome(done, err, logrus.InfoLevel, "Operation completed", "Operation failed")
	}
}
