package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. DBBACKUP_DATABASE_PASSWORD
const EnvPrefix = "DBBACKUP"

// Loader handles loading configuration from various sources
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a loader with every key registered with its default
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	return &Loader{viper: v}
}

// defaults registers every key so AutomaticEnv can resolve it during Unmarshal
func defaults() map[string]interface{} {
	d := Default()
	return map[string]interface{}{
		"database.host":            d.Database.Host,
		"database.port":            d.Database.Port,
		"database.username":        "root",
		"database.password":        "admin",
		"database.name":            "ecom_db",
		"database.connect_timeout": d.Database.Timeout,

		"backup.destination":       "",
		"backup.compression":       d.Backup.Compression,
		"backup.compression_level": 0,
		"backup.workers":           d.Backup.Workers,
		"backup.tables":            []string{},
		"backup.exclude_tables":    []string{},
		"backup.keep":              0,
		"backup.print":             false,
		"backup.skip_archive":      false,
		"backup.timeout":           time.Duration(0),
		"backup.query_timeout":     d.Backup.QueryTimeout,
		"backup.schedule":          "",

		"retry.max_attempts": d.Retry.MaxAttempts,
		"retry.base_delay":   d.Retry.BaseDelay,
		"retry.max_delay":    d.Retry.MaxDelay,
		"retry.multiplier":   d.Retry.Multiplier,

		"storage.provider":             "",
		"storage.prefix":               "",
		"storage.local.path":           "",
		"storage.s3.bucket":            "",
		"storage.s3.region":            "",
		"storage.s3.endpoint":          "",
		"storage.s3.access_key":        "",
		"storage.s3.secret_key":        "",
		"storage.s3.force_path_style":  false,
		"storage.gcs.bucket":           "",
		"storage.gcs.credentials_path": "",
		"storage.azure.account_name":   "",
		"storage.azure.account_key":    "",
		"storage.azure.container":      "",

		"encryption.enabled":        false,
		"encryption.passphrase_env": d.Encryption.PassphraseEnv,

		"metrics.pushgateway_url": "",
		"metrics.job":             "",
		"metrics.listen_address":  d.Metrics.ListenAddress,

		"history.enabled": true,
		"history.path":    "",

		"logging.level":  d.Logging.Level,
		"logging.format": d.Logging.Format,
		"logging.file":   "",
		"logging.caller": false,

		"display.format": d.Display.Format,
		"display.theme":  d.Display.Theme,
	}
}

// FlagKeys maps command-line flag names to configuration keys
var FlagKeys = map[string]string{
	"host":            "database.host",
	"port":            "database.port",
	"username":        "database.username",
	"password":        "database.password",
	"db-name":         "database.name",
	"connect-timeout": "database.connect_timeout",
	"destination":     "backup.destination",
	"compression":     "backup.compression",
	"workers":         "backup.workers",
	"tables":          "backup.tables",
	"exclude-tables":  "backup.exclude_tables",
	"keep":            "backup.keep",
	"print":           "backup.print",
	"skip-archive":    "backup.skip_archive",
	"timeout":         "backup.timeout",
	"query-timeout":   "backup.query_timeout",
	"cron":            "backup.schedule",
	"max-attempts":    "retry.max_attempts",
	"retry-delay":     "retry.base_delay",
	"storage":         "storage.provider",
	"storage-prefix":  "storage.prefix",
	"encrypt":         "encryption.enabled",
	"pushgateway":     "metrics.pushgateway_url",
	"listen":          "metrics.listen_address",
	"log-format":      "logging.format",
	"log-file":        "logging.file",
	"output":          "display.format",
	"theme":           "display.theme",
}

// BindFlags binds every flag of fs that has a configuration key. Only flags
// set on the command line override the file and environment.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := FlagKeys[f.Name]
		if !ok {
			return
		}
		if err := l.viper.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("binding flag --%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Set overrides a key, e.g. a password read from the terminal
func (l *Loader) Set(key string, value interface{}) {
	l.viper.Set(key, value)
}

// Load reads configFile (or the default locations), applies the environment
// and bound flags, then fills defaults and validates.
func (l *Loader) Load(configFile string) (*Config, error) {
	if configFile != "" {
		l.viper.SetConfigFile(configFile)
	} else {
		l.viper.SetConfigName("db-backup-utility")
		l.viper.SetConfigType("yaml")
		l.viper.AddConfigPath(".")
		l.viper.AddConfigPath("$HOME/.config/db-backup-utility")
		l.viper.AddConfigPath("$HOME")
	}

	// a missing default config file is fine
	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the config file that was read
func (l *Loader) ConfigFileUsed() string {
	return l.viper.ConfigFileUsed()
}
