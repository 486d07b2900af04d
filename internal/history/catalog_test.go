package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"db-backup-utility/internal/archive"
	"db-backup-utility/internal/backup"
	"db-backup-utility/internal/database"
	"db-backup-utility/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustOpen(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "bkp", FileName))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func summaryAt(runID, db string, start time.Time) *backup.Summary {
	return &backup.Summary{
		RunID:      runID,
		Database:   db,
		Token:      start.Format(backup.TokenLayout),
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Tables: []backup.TableResult{
			{Table: database.Table{Name: "users"}, Rows: 4},
		},
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", FileName)
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()
	assert.FileExists(t, path)
}

func TestRecordAndRecent(t *testing.T) {
	c := mustOpen(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	first := summaryAt("run-1", "shop", base)
	first.Archive = &archive.Result{Path: "/bkp/shop_2024_03_15_10_00_00.tar.gz", Size: 2048}
	require.NoError(t, c.Record(ctx, first))

	second := summaryAt("run-2", "shop", base.Add(time.Hour))
	second.Tables = append(second.Tables,
		backup.TableResult{Table: database.Table{Name: "audit"}, Failure: &backup.TableFailure{Table: "audit", Stage: errors.StageData, Error: "denied"}},
		backup.TableResult{Table: database.Table{Name: "logs"}, Failure: &backup.TableFailure{Table: "logs", Stage: errors.StageSchema, Error: "denied"}},
	)
	require.NoError(t, c.Record(ctx, second))

	require.NoError(t, c.Record(ctx, summaryAt("run-3", "crm", base.Add(2*time.Hour))))

	runs, err := c.Recent(ctx, "shop", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, backup.StatusPartial, runs[0].Status)
	assert.Equal(t, 1, runs[0].Succeeded)
	assert.Equal(t, 2, runs[0].Failed)
	assert.Equal(t, []string{"audit", "logs"}, runs[0].FailedTables)

	assert.Equal(t, "run-1", runs[1].RunID)
	assert.Equal(t, backup.StatusSuccess, runs[1].Status)
	assert.Equal(t, 4, runs[1].TotalRows)
	assert.Equal(t, int64(2048), runs[1].ArchiveSize)
	assert.Equal(t, "/bkp/shop_2024_03_15_10_00_00.tar.gz", runs[1].ArchivePath)
	assert.True(t, base.Equal(runs[1].StartedAt))
	assert.Equal(t, 2*time.Second, runs[1].Duration())
	assert.Nil(t, runs[1].FailedTables)

	all, err := c.Recent(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "run-3", all[0].RunID)
}

func TestRecent_Limit(t *testing.T) {
	c := mustOpen(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.Record(ctx, summaryAt(id, "shop", base.Add(time.Duration(i)*time.Minute))))
	}

	runs, err := c.Recent(ctx, "shop", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
}

func TestRecord_FatalRun(t *testing.T) {
	c := mustOpen(t)
	ctx := context.Background()

	s := summaryAt("run-x", "shop", time.Now())
	s.Tables = nil
	s.FatalError = "connection failed after 3 attempts"
	require.NoError(t, c.Record(ctx, s))
	require.NoError(t, c.Record(ctx, s), "recording the same run twice replaces it")

	runs, err := c.Recent(ctx, "shop", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, backup.StatusFailed, runs[0].Status)
	assert.Equal(t, "connection failed after 3 attempts", runs[0].Error)
}
