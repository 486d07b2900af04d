package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"db-backup-utility/internal/application"
	"db-backup-utility/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var (
	cfgFile        string
	verbose        bool
	quiet          bool
	passwordPrompt bool
)

// rootCmd runs one backup when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "db-backup-utility",
	Short: "Logical backup of a MySQL database into per-table INSERT files",
	Long: `db-backup-utility connects to a MySQL database, dumps every table as a
CREATE statement followed by one INSERT statement per row, writes one file per
table into a timestamped session directory and packs the session into an archive.

Exit status is 0 when every table was backed up, 2 when the run finished with
failed tables and 1 on a fatal error.`,
	Example: `  # Back up ecom_db into ./bkp
  db-backup-utility --host localhost -u root --password admin --db ecom_db

  # Print the statements instead of writing files
  db-backup-utility --db ecom_db --print

  # Four workers, zstd archive, keep the last 7 sessions
  db-backup-utility --db ecom_db --workers 4 --compression zstd --keep 7

  # Encrypt and upload the archive
  BACKUP_ENCRYPTION_PASSPHRASE=secret db-backup-utility --db ecom_db --encrypt --storage s3`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBackup,
}

// Execute runs the command tree and exits with the run's status
func Execute() {
	err := rootCmd.Execute()
	if err != nil && !handled(err) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(application.ExitCode(err))
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.SetNormalizeFunc(normalizeFlagName)

	pf.StringVar(&cfgFile, "config", "", "config file (default ./db-backup-utility.yaml or $HOME/.config/db-backup-utility/)")

	// Connection
	pf.String("host", "localhost", "database host")
	pf.IntP("port", "p", 3306, "database port")
	pf.StringP("username", "u", "root", "database username")
	pf.String("password", "admin", "database password (alias --pwd)")
	pf.String("db-name", "ecom_db", "database name (aliases --db, --db_name)")
	pf.BoolVar(&passwordPrompt, "password-prompt", false, "read the password from the terminal")
	pf.Int("max-attempts", 3, "connection attempts")
	pf.Duration("retry-delay", time.Second, "base delay between connection attempts")
	pf.Duration("connect-timeout", 30*time.Second, "deadline for each connection attempt")

	// Backup
	pf.StringP("destination", "d", "", "backup destination root (default working directory)")
	pf.Duration("timeout", 0, "overall run deadline (0 = none)")
	pf.Duration("query-timeout", config.DefaultQueryTimeout, "per query deadline (0 = none)")
	pf.Int("workers", 1, "concurrent table workers")
	pf.StringSlice("tables", nil, "only back up tables matching these patterns")
	pf.StringSlice("exclude-tables", nil, "skip tables matching these patterns")
	pf.String("compression", "gzip", "archive compression: gzip, zstd, lz4, none")
	pf.Bool("print", false, "print statements to stdout instead of writing files")
	pf.Bool("skip-archive", false, "keep the session directory without building an archive")
	pf.Int("keep", 0, "sessions to keep per database (0 = all)")

	// Upload and output
	pf.String("storage", "", "upload provider: local, s3, gcs, azure")
	pf.String("storage-prefix", "", "object key prefix for uploads")
	pf.Bool("encrypt", false, "encrypt the archive with the passphrase from the environment")
	pf.String("pushgateway", "", "Prometheus Pushgateway URL")
	pf.String("output", "text", "summary format: text, json, yaml")
	pf.String("theme", "dark", "color theme: dark, light, plain")

	// Logging
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	pf.String("log-format", "text", "log format: text, json")
	pf.String("log-file", "", "also write logs to this file")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
	rootCmd.MarkFlagsMutuallyExclusive("print", "skip-archive")
}

// normalizeFlagName maps the historical spellings -pwd, -db and -db_name
// onto their long flags.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "pwd":
		name = "password"
	case "db", "db_name":
		name = "db-name"
	}
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// loadConfig merges file, environment and the flags set on cmd
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader()
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	switch {
	case verbose:
		loader.Set("logging.level", "verbose")
	case quiet:
		loader.Set("logging.level", "quiet")
	}

	if passwordPrompt {
		password, err := readPassword()
		if err != nil {
			return nil, err
		}
		loader.Set("database.password", password)
	}

	cfg, err := loader.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--password-prompt requires an interactive terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunContext(cmd *cobra.Command) (*application.RunContext, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	rc, err := application.NewRunContext(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return rc, nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	rc, err := newRunContext(cmd)
	if err != nil {
		return err
	}
	defer rc.Close()

	ctx, stop := signalContext()
	defer stop()

	_, err = rc.RunOnce(ctx)
	if err != nil {
		return runError{err}
	}
	return nil
}

// runError marks an error RunOnce has already reported
type runError struct{ error }

func (e runError) Unwrap() error { return e.error }

func handled(err error) bool {
	_, ok := err.(runError)
	return ok
}
