package application

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"db-backup-utility/internal/backup"
	"db-backup-utility/internal/config"
	"db-backup-utility/internal/database"
	"db-backup-utility/internal/errors"
	"db-backup-utility/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

type fixture struct {
	cfg    *config.Config
	mock   sqlmock.Sqlmock
	stdout bytes.Buffer
	stderr bytes.Buffer
	dir    string
	opts   []Option
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	service := database.NewServiceWithOptions(logging.NewNopLogger(), errors.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond})
	service.SetOpener(func(driverName, dsn string) (*sql.DB, error) { return db, nil })

	cfg := config.Default()
	cfg.Database.Username = "root"
	cfg.Database.Database = "shop"
	cfg.History.Enabled = true
	cfg.Metrics.ListenAddress = ""

	f := &fixture{cfg: cfg, mock: mock, dir: t.TempDir()}
	f.opts = []Option{
		WithOutput(&f.stdout, &f.stderr),
		WithLogger(logging.NewNopLogger()),
		WithConnector(service),
		WithClock(func() time.Time { return fixedNow }, func() string { return "run-1" }),
		WithWorkDir(f.dir),
	}
	return f
}

func (f *fixture) runContext(t *testing.T) *RunContext {
	t.Helper()
	rc, err := NewRunContext(f.cfg, f.opts...)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc
}

func (f *fixture) expectOrders() {
	f.mock.ExpectQuery("SELECT VERSION()").
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))
	f.mock.ExpectQuery("SHOW FULL TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"Tables_in_shop", "Table_type"}).AddRow("orders", "BASE TABLE"))
	f.mock.ExpectQuery("SELECT * FROM `orders`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "note"}).AddRow([]byte("1"), nil))
	f.mock.ExpectQuery("SHOW CREATE TABLE `orders`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow("orders", "CREATE TABLE `orders` (`id` int, `note` text)"))
}

func TestNewRunContext_CreatesBackupRoot(t *testing.T) {
	f := newFixture(t)
	rc := f.runContext(t)

	assert.Equal(t, filepath.Join(f.dir, "bkp"), rc.BackupRoot)
	assert.DirExists(t, rc.BackupRoot)
	require.NotNil(t, rc.History)
	assert.FileExists(t, filepath.Join(rc.BackupRoot, "history.db"))
}

func TestNewRunContext_PrintModeTouchesNothing(t *testing.T) {
	f := newFixture(t)
	f.cfg.Backup.Print = true
	rc := f.runContext(t)

	assert.NoDirExists(t, rc.BackupRoot)
	assert.Nil(t, rc.History)
}

func TestRunOnce_Success(t *testing.T) {
	f := newFixture(t)
	f.expectOrders()
	rc := f.runContext(t)
	ctx := context.Background()

	summary, err := rc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, ExitCode(err))

	assert.Equal(t, []string{"orders"}, summary.Succeeded())
	assert.FileExists(t, filepath.Join(rc.BackupRoot, "2024_03_15_10_30_00", "shop_orders.txt"))
	assert.FileExists(t, filepath.Join(rc.BackupRoot, "shop_2024_03_15_10_30_00.tar.gz"))

	assert.Contains(t, f.stdout.String(), "SUCCESS: 1 tables backed up, 0 failed")
	assert.Empty(t, f.stderr.String())

	runs, err := rc.History.Recent(ctx, "shop", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(rc.Metrics.RunsTotal.WithLabelValues("shop", backup.StatusSuccess)))

	f.stdout.Reset()
	require.NoError(t, rc.ShowHistory(ctx, 5, false))
	assert.Contains(t, f.stdout.String(), "2024_03_15_10_30_00")
}

func TestRunOnce_PartialFailure(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SELECT VERSION()").
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))
	f.mock.ExpectQuery("SHOW FULL TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"Tables_in_shop", "Table_type"}).AddRow("secret", "BASE TABLE"))
	f.mock.ExpectQuery("SELECT * FROM `secret`").
		WillReturnError(&mysql.MySQLError{Number: 1142, Message: "SELECT command denied"})

	rc := f.runContext(t)
	summary, err := rc.RunOnce(context.Background())

	require.ErrorIs(t, err, errors.ErrPartialFailure)
	assert.Equal(t, ExitPartial, ExitCode(err))
	assert.Len(t, summary.Failed(), 1)
	assert.Contains(t, f.stdout.String(), "PARTIAL")
	assert.NotContains(t, f.stderr.String(), "Error:")
}

func TestRunOnce_FatalConnection(t *testing.T) {
	f := newFixture(t)
	service := database.NewServiceWithOptions(logging.NewNopLogger(), errors.RetryConfig{MaxAttempts: 1})
	service.SetOpener(func(driverName, dsn string) (*sql.DB, error) {
		return nil, &mysql.MySQLError{Number: 1045, Message: "Access denied for user 'root'"}
	})
	f.opts = append(f.opts, WithConnector(service))

	rc := f.runContext(t)
	summary, err := rc.RunOnce(context.Background())

	require.Error(t, err)
	assert.Equal(t, ExitFatal, ExitCode(err))
	assert.Equal(t, backup.StatusFailed, summary.Status())
	assert.Contains(t, f.stderr.String(), "Access denied")
	assert.Contains(t, f.stderr.String(), "Troubleshooting hints")
	assert.Contains(t, f.stderr.String(), "username and password")
	assert.Contains(t, f.stdout.String(), "FAILED")
}

func TestRunOnce_ConnectTimeoutHint(t *testing.T) {
	f := newFixture(t)
	service := database.NewServiceWithOptions(logging.NewNopLogger(), errors.RetryConfig{MaxAttempts: 1})
	service.SetOpener(func(driverName, dsn string) (*sql.DB, error) {
		return nil, context.DeadlineExceeded
	})
	f.opts = append(f.opts, WithConnector(service))

	rc := f.runContext(t)
	_, err := rc.RunOnce(context.Background())

	require.Error(t, err)
	assert.Contains(t, f.stderr.String(), "--connect-timeout")
	assert.NotContains(t, f.stderr.String(), "--query-timeout")
}

func TestRunOnce_PrintMode(t *testing.T) {
	f := newFixture(t)
	f.cfg.Backup.Print = true
	f.expectOrders()

	rc := f.runContext(t)
	_, err := rc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Contains(t, f.stdout.String(), "-- shop_orders.txt")
	assert.Contains(t, f.stdout.String(), "INSERT INTO `orders` (`id`, `note`) VALUES ('1', NULL);")
	assert.NotContains(t, f.stdout.String(), "SUCCESS", "summary goes to stderr in print mode")
	assert.Contains(t, f.stderr.String(), "SUCCESS")
	assert.NoDirExists(t, rc.BackupRoot)
}

func TestRunOnce_EncryptionWithoutPassphrase(t *testing.T) {
	f := newFixture(t)
	f.cfg.Encryption.Enabled = true
	f.cfg.Encryption.PassphraseEnv = "DBBACKUP_TEST_UNSET_PASSPHRASE"

	rc := f.runContext(t)
	_, err := rc.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunOnce_JSONOutput(t *testing.T) {
	f := newFixture(t)
	f.cfg.Display.Format = "json"
	f.expectOrders()

	rc := f.runContext(t)
	_, err := rc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, f.stdout.String(), `"status": "success"`)
}

func TestShowHistory_Unavailable(t *testing.T) {
	f := newFixture(t)
	f.cfg.History.Enabled = false
	rc := f.runContext(t)

	assert.Error(t, rc.ShowHistory(context.Background(), 10, true))
}

func TestSchedule_InvalidSpec(t *testing.T) {
	f := newFixture(t)
	rc := f.runContext(t)

	assert.Error(t, rc.Schedule(context.Background(), "every tuesday"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitPartial, ExitCode(errors.ErrPartialFailure))
	assert.Equal(t, ExitFatal, ExitCode(&errors.ConnectionError{Reason: "refused", AttemptsMade: 3}))
}
