package analytics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLayout(t *testing.T) config.Layout {
	t.Helper()
	base := t.TempDir()
	layout := config.Layout{
		Home:        filepath.Join(base, "home"),
		Cwd:         filepath.Join(base, "proj"),
		ProjectRoot: filepath.Join(base, "proj"),
	}
	require.NoError(t, os.MkdirAll(layout.ProjectDir(), 0o755))
	return layout
}

// blockPrimary makes the project analytics directory impossible to create.
func blockPrimary(t *testing.T, layout config.Layout) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(layout.ProjectDir(), "analytics"), []byte("x"), 0o644))
}

func unblockPrimary(t *testing.T, layout config.Layout) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(layout.ProjectDir(), "analytics")))
}

func countIn(t *testing.T, dir string) int {
	t.Helper()
	store, err := OpenExisting(context.Background(), dir)
	require.NoError(t, err)
	defer store.Close()
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func access(i int) Access {
	return Access{
		Command: "show",
		Skill:   "pdf",
		Scope:   config.ScopeProject,
		Section: "Merge",
		Args:    []string{"pdf", fmt.Sprintf("--section=%d", i)},
	}
}

func TestLogPrimary(t *testing.T) {
	ctx := context.Background()
	layout := newLayout(t)
	l := NewLogger(layout)

	assert.Equal(t, DestPrimary, l.Log(ctx, access(1)))
	assert.Equal(t, 1, countIn(t, layout.AnalyticsDir(config.ScopeProject, "pdf")))

	store, err := OpenExisting(ctx, layout.AnalyticsDir(config.ScopeProject, "pdf"))
	require.NoError(t, err)
	defer store.Close()
	evs, err := store.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, l.RunID(), evs[0].RunID)
	assert.Equal(t, `["pdf","--section=1"]`, evs[0].Args)
	assert.Equal(t, layout.Cwd, evs[0].Cwd)
	assert.False(t, evs[0].Error.Valid)
}

func TestLogFallback(t *testing.T) {
	ctx := context.Background()
	layout := newLayout(t)
	blockPrimary(t, layout)

	l := NewLogger(layout)
	assert.Equal(t, DestFallback, l.Log(ctx, access(1)))
	assert.Equal(t, 1, countIn(t, l.FallbackDir("pdf")))
}

func TestLogDropped(t *testing.T) {
	ctx := context.Background()
	layout := newLayout(t)
	blockPrimary(t, layout)
	require.NoError(t, os.WriteFile(layout.FallbackLogs(), []byte("x"), 0o644))

	var warnings []errcode.Warning
	l := NewLogger(layout)
	l.Warn = func(_ context.Context, w errcode.Warning) { warnings = append(warnings, w) }

	assert.Equal(t, DestDropped, l.Log(ctx, access(1)))
	require.Len(t, warnings, 1)
	assert.Equal(t, errcode.WarnLoggingDisabled, warnings[0].Code)
}

func TestStaleFallbackWarning(t *testing.T) {
	ctx := context.Background()
	layout := newLayout(t)
	blockPrimary(t, layout)
	NewLogger(layout).Log(ctx, access(1))
	unblockPrimary(t, layout)

	db := filepath.Join(layout.FallbackLogs(), "pdf", LogsFile)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(db, old, old))

	var warnings []errcode.Warning
	l := NewLogger(layout)
	l.Warn = func(_ context.Context, w errcode.Warning) { warnings = append(warnings, w) }
	l.Log(ctx, access(2))
	l.Log(ctx, access(3))

	require.Len(t, warnings, 1, "warned once per run")
	assert.Equal(t, errcode.WarnStaleLogs, warnings[0].Code)
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	layout := newLayout(t)
	blockPrimary(t, layout)
	l := NewLogger(layout)
	for i := range 5 {
		require.Equal(t, DestFallback, l.Log(ctx, access(i)))
	}
	unblockPrimary(t, layout)

	results, err := NewSyncer(layout).Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 5, results[0].Synced)
	assert.True(t, results[0].Removed)

	assert.Equal(t, 5, countIn(t, layout.AnalyticsDir(config.ScopeProject, "pdf")))
	_, err = os.Stat(layout.FallbackLogs())
	assert.True(t, os.IsNotExist(err), "empty fallback store is removed")
}

func TestSyncDryRun(t *testing.T) {
	ctx := context.Background()
	layout := newLayout(t)
	blockPrimary(t, layout)
	l := NewLogger(layout)
	l.Log(ctx, access(1))
	l.Log(ctx, access(2))
	unblockPrimary(t, layout)

	results, err := NewSyncer(layout).Sync(ctx, SyncOptions{Skill: "pdf", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, results[0].Synced)
	assert.Equal(t, 2, countIn(t, l.FallbackDir("pdf")))
}

func TestSyncMergeSafeUnderFault(t *testing.T) {
	ctx := context.Background()
	layout := newLayout(t)
	blockPrimary(t, layout)
	l := NewLogger(layout)
	const n, k = 8, 3
	for i := range n {
		require.Equal(t, DestFallback, l.Log(ctx, access(i)))
	}
	unblockPrimary(t, layout)

	syncFaultHook = func(committed int) error {
		if committed == k {
			return errors.New("simulated crash")
		}
		return nil
	}
	t.Cleanup(func() { syncFaultHook = nil })

	results, err := NewSyncer(layout).Sync(ctx, SyncOptions{Skill: "pdf"})
	require.Error(t, err)
	assert.Equal(t, k, results[0].Synced)
	primary := layout.AnalyticsDir(config.ScopeProject, "pdf")
	assert.Equal(t, k, countIn(t, primary))
	// the k-th entry is committed but not yet removed from the fallback
	assert.Equal(t, n-k+1, countIn(t, l.FallbackDir("pdf")))

	syncFaultHook = nil
	results, err = NewSyncer(layout).Sync(ctx, SyncOptions{Skill: "pdf"})
	require.NoError(t, err)
	assert.Equal(t, n-k, results[0].Synced)
	assert.Equal(t, 1, results[0].Skipped)
	assert.True(t, results[0].Removed)
	assert.Equal(t, n, countIn(t, primary), "no entry lost or duplicated")
}

func TestSyncNoLocalLogs(t *testing.T) {
	layout := newLayout(t)
	_, err := NewSyncer(layout).Sync(context.Background(), SyncOptions{Skill: "pdf"})
	assert.True(t, errors.Is(err, errcode.ErrNoLocalLogs))

	results, err := NewSyncer(layout).Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSyncDestinationNotWritable(t *testing.T) {
	ctx := context.Background()
	layout := newLayout(t)
	blockPrimary(t, layout)
	NewLogger(layout).Log(ctx, access(1))

	results, err := NewSyncer(layout).Sync(ctx, SyncOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(results[0].Err, errcode.ErrSyncDestNotWritable))
	assert.Equal(t, 1, countIn(t, filepath.Join(layout.FallbackLogs(), "pdf")), "fallback is kept")
}

func TestSyncSourceNotReadable(t *testing.T) {
	layout := newLayout(t)
	dir := filepath.Join(layout.FallbackLogs(), "pdf")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, LogsFile), []byte("definitely not sqlite, padded to be long enough"), 0o644))

	results, err := NewSyncer(layout).Sync(context.Background(), SyncOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(results[0].Err, errcode.ErrSyncSourceNotReadable))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	layout := newLayout(t)
	l := NewLogger(layout)
	l.Log(ctx, access(1))
	l.Log(ctx, access(2))
	search := Access{Command: "search", Skill: "pdf", Scope: config.ScopeProject, Err: errors.New("empty query")}
	l.Log(ctx, search)

	store, err := OpenExisting(ctx, layout.AnalyticsDir(config.ScopeProject, "pdf"))
	require.NoError(t, err)
	defer store.Close()
	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Errors)
	assert.Equal(t, []CommandCount{{Command: "show", Count: 2}, {Command: "search", Count: 1}}, st.Commands)
	assert.Equal(t, []SectionCount{{Section: "Merge", Count: 2}}, st.Sections)
}
