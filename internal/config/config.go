// Package config loads the backup configuration from defaults, a YAML file,
// DBBACKUP_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"db-backup-utility/internal/archive"
	"db-backup-utility/internal/database"
	apperrors "db-backup-utility/internal/errors"
	"db-backup-utility/internal/logging"
	"db-backup-utility/internal/storage"
)

// BackupDirName is the directory created under the destination
const BackupDirName = "bkp"

// DefaultQueryTimeout bounds each extraction query unless configured otherwise
const DefaultQueryTimeout = 5 * time.Minute

// Config is the complete application configuration
type Config struct {
	Database   database.ConnectionConfig `mapstructure:"database" yaml:"database"`
	Backup     BackupConfig              `mapstructure:"backup" yaml:"backup"`
	Retry      RetryConfig               `mapstructure:"retry" yaml:"retry"`
	Storage    storage.Config            `mapstructure:"storage" yaml:"storage"`
	Encryption EncryptionConfig          `mapstructure:"encryption" yaml:"encryption"`
	Metrics    MetricsConfig             `mapstructure:"metrics" yaml:"metrics"`
	History    HistoryConfig             `mapstructure:"history" yaml:"history"`
	Logging    LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Display    DisplayConfig             `mapstructure:"display" yaml:"display"`
}

// BackupConfig controls what a run extracts and where it writes
type BackupConfig struct {
	Destination      string        `mapstructure:"destination" yaml:"destination"`
	Compression      string        `mapstructure:"compression" yaml:"compression"`
	CompressionLevel int           `mapstructure:"compression_level" yaml:"compression_level"`
	Workers          int           `mapstructure:"workers" yaml:"workers"`
	Tables           []string      `mapstructure:"tables" yaml:"tables"`
	ExcludeTables    []string      `mapstructure:"exclude_tables" yaml:"exclude_tables"`
	Keep             int           `mapstructure:"keep" yaml:"keep"`
	Print            bool          `mapstructure:"print" yaml:"print"`
	SkipArchive      bool          `mapstructure:"skip_archive" yaml:"skip_archive"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"` // 0 disables the per-query deadline
	Schedule         string        `mapstructure:"schedule" yaml:"schedule"`
}

// RetryConfig is the connection retry policy
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// EncryptionConfig enables archive encryption. The passphrase itself is only
// read from the named environment variable.
type EncryptionConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	PassphraseEnv string `mapstructure:"passphrase_env" yaml:"passphrase_env"`
}

// MetricsConfig configures Prometheus export
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	Job            string `mapstructure:"job" yaml:"job"`
	ListenAddress  string `mapstructure:"listen_address" yaml:"listen_address"`
}

// HistoryConfig configures the run catalog
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig configures the application logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
	Caller bool   `mapstructure:"caller" yaml:"caller"`
}

// DisplayConfig configures the end-of-run summary
type DisplayConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Theme  string `mapstructure:"theme" yaml:"theme"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.Backup.QueryTimeout = DefaultQueryTimeout
	c.SetDefaults()
	return c
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()

	if c.Backup.Compression == "" {
		c.Backup.Compression = string(archive.CompressionGzip)
	}
	if c.Backup.Workers <= 0 {
		c.Backup.Workers = 1
	}

	def := apperrors.DefaultRetryConfig()
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = def.BaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = def.Multiplier
	}

	if c.Encryption.PassphraseEnv == "" {
		c.Encryption.PassphraseEnv = archive.DefaultPassphraseEnv
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = ":9090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LogLevelNormal)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Display.Format == "" {
		c.Display.Format = "text"
	}
	if c.Display.Theme == "" {
		c.Display.Theme = "dark"
	}
}

// Validate checks every section and reports all problems together
func (c *Config) Validate() error {
	var errs []error

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}

	if _, err := archive.ParseCompression(c.Backup.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.Backup.Workers < 1 {
		errs = append(errs, errors.New("backup.workers must be at least 1"))
	}
	if c.Backup.Keep < 0 {
		errs = append(errs, errors.New("backup.keep cannot be negative"))
	}
	if c.Backup.Timeout < 0 {
		errs = append(errs, errors.New("backup.timeout cannot be negative"))
	}
	if c.Backup.QueryTimeout < 0 {
		errs = append(errs, errors.New("backup.query_timeout cannot be negative"))
	}
	if c.Backup.Print && c.Backup.SkipArchive {
		errs = append(errs, errors.New("backup.print and backup.skip_archive are mutually exclusive"))
	}
	for _, pattern := range append(append([]string{}, c.Backup.Tables...), c.Backup.ExcludeTables...) {
		if _, err := path.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("invalid table pattern '%s': %w", pattern, err))
		}
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry.multiplier must be at least 1"))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Encryption.Enabled && c.Encryption.PassphraseEnv == "" {
		errs = append(errs, errors.New("encryption.passphrase_env is required when encryption is enabled"))
	}

	switch logging.LogLevel(c.Logging.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs = append(errs, fmt.Errorf("invalid log level '%s', must be one of: quiet, normal, verbose, debug", c.Logging.Level))
	}
	if !contains([]string{"text", "json"}, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("invalid log format '%s', must be one of: text, json", c.Logging.Format))
	}
	if !contains([]string{"text", "json", "yaml"}, strings.ToLower(c.Display.Format)) {
		errs = append(errs, fmt.Errorf("invalid output format '%s', must be one of: text, json, yaml", c.Display.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// BackupRoot returns <destination>/bkp; an empty destination means workDir
func (c *Config) BackupRoot(workDir string) string {
	dest := c.Backup.Destination
	if dest == "" {
		dest = workDir
	}
	return filepath.Join(dest, BackupDirName)
}

// HistoryPath returns the catalog location, by default inside the backup root
func (c *Config) HistoryPath(workDir string) string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.BackupRoot(workDir), "history.db")
}

// RetryPolicy converts the retry section for the connection manager
func (c *Config) RetryPolicy() apperrors.RetryConfig {
	return apperrors.RetryConfig{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Multiplier:  c.Retry.Multiplier,
	}
}

// String renders the configuration without secrets
func (c Config) String() string {
	return fmt.Sprintf("database=%s backup_root=%s compression=%s workers=%d keep=%d storage=%s encryption=%t",
		c.Database.String(), c.BackupRoot("."), c.Backup.Compression, c.Backup.Workers, c.Backup.Keep,
		orNone(string(c.Storage.Provider)), c.Encryption.Enabled)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
