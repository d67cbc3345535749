package attachment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taskattach/internal/repository"
	"taskattach/internal/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type staticRecords []*repository.Attachment

func (r staticRecords) ListAll(context.Context) ([]*repository.Attachment, error) {
	return r, nil
}

func seedBlobs(t *testing.T, fs *storage.FileSystem, keys ...string) {
	t.Helper()
	for _, k := range keys {
		_, err := fs.Save(context.Background(), k, strings.NewReader("x"), 1, "text/plain")
		require.NoError(t, err)
	}
}

func sweepFixture(t *testing.T, dryRun bool) (*Sweeper, *storage.FileSystem) {
	t.Helper()
	fs := storage.NewMemoryFileSystem(nil)
	seedBlobs(t, fs,
		"1/20250101100000_aaaaaaaa_old-orphan.txt",
		"1/20250101115500_bbbbbbbb_fresh-orphan.txt",
		"1/20250101090000_cccccccc_referenced.txt",
		"2/notes-without-timestamp.txt",
	)
	records := staticRecords{
		{ID: 1, TaskID: 1, StorageKey: "1/20250101090000_cccccccc_referenced.txt"},
		{ID: 2, TaskID: 3, StorageKey: "3/20250101080000_dddddddd_lost.pdf"},
	}

	s := NewSweeper(fs, records, SweepOptions{DryRun: dryRun})
	s.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	return s, fs
}

func TestSweepDeletesOldOrphans(t *testing.T) {
	ctx := context.Background()
	s, fs := sweepFixture(t, false)

	report, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, report.Blobs)
	require.Equal(t, 2, report.Records)
	require.Equal(t, []string{"1/20250101100000_aaaaaaaa_old-orphan.txt"}, report.Orphans)
	require.Equal(t, report.Orphans, report.Deleted)
	require.Equal(t, []string{"3/20250101080000_dddddddd_lost.pdf"}, report.MissingBlobs)

	keys, err := fs.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{
		"1/20250101090000_cccccccc_referenced.txt",
		"1/20250101115500_bbbbbbbb_fresh-orphan.txt",
		"2/notes-without-timestamp.txt",
	}, keys)
}

func TestSweepDryRunDeletesNothing(t *testing.T) {
	ctx := context.Background()
	s, fs := sweepFixture(t, true)

	report, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, report.Orphans, 1)
	require.Empty(t, report.Deleted)

	keys, err := fs.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, keys, 4)
}

func TestSweeperSchedule(t *testing.T) {
	s, _ := sweepFixture(t, true)

	require.Error(t, s.Start("not a schedule"))
	require.NoError(t, s.Start("@every 1h"))
	require.Error(t, s.Start("@every 1h"))
	s.Stop()
	s.Stop()
}

func TestSweeperScheduleLogsThroughZap(t *testing.T) {
	s, _ := sweepFixture(t, true)
	core, logs := observer.New(zapcore.DebugLevel)
	s.log = zap.New(core)

	require.NoError(t, s.Start("@every 1h"))
	s.Stop()

	require.NotZero(t, logs.FilterMessage("cron: start").Len())
}

func TestCronLoggerErrorCarriesCause(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := cronLogger{zap.New(core).Sugar()}

	l.Error(errors.New("boom"), "panic", "job", "sweep")

	entries := logs.FilterMessage("cron: panic").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	ctx := entries[0].ContextMap()
	require.Equal(t, "sweep", ctx["job"])
	require.Equal(t, "boom", ctx["error"])
}
