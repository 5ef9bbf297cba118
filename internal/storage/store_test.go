package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/runnerr0/procedura/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore creates a migrated in-memory Store for testing.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// A single connection keeps every statement on the same in-memory DB.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run())

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func sampleStep(text string) types.CapturedStep {
	return types.CapturedStep{
		ActionType:      types.ActionClick,
		ElementSelector: "#save",
		ElementText:     types.StringPtr(text),
		ElementTag:      "button",
		ClickX:          types.IntPtr(10),
		ClickY:          types.IntPtr(20),
		PageURL:         "https://app.example.com/form",
		PageTitle:       "Form",
		CapturedAt:      "2026-01-02T03:04:05.000Z",
	}
}

// --- Put + Get roundtrip ---

func TestPutGet_Roundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "answer", 42))

	var got int
	found, err := store.Get(ctx, "answer", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, got)
}

func TestGet_MissingKeyLeavesDest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	got := "unchanged"
	found, err := store.Get(ctx, "nope", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "unchanged", got)
}

func TestPut_Overwrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", "one"))
	require.NoError(t, store.Put(ctx, "k", "two"))

	var got string
	_, err := store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.Equal(t, "two", got)
}

func TestDelete_MissingKeyIsNotError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", 1))
	require.NoError(t, store.Delete(ctx, "k", "other"))

	var got int
	found, err := store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Recording state ---

func TestLoadRecording_FreshDatabaseIsIdle(t *testing.T) {
	store := openTestStore(t)

	state, tab, err := store.LoadRecording(context.Background())
	require.NoError(t, err)
	assert.False(t, state.IsRecording)
	assert.Nil(t, state.ProcedureID)
	assert.NotNil(t, state.Steps)
	assert.Empty(t, state.Steps)
	assert.Nil(t, tab)
}

func TestSaveRecording_RoundtripWithTab(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	state := types.RecordingState{
		IsRecording: true,
		ProcedureID: types.StringPtr("p-1"),
		Title:       types.StringPtr("Checkout"),
		StartedAt:   types.StringPtr("2026-01-02T03:04:05.000Z"),
		Steps:       []types.CapturedStep{sampleStep("Save")},
	}
	require.NoError(t, store.SaveRecording(ctx, state, types.IntPtr(7)))

	got, tab, err := store.LoadRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, state, got)
	require.NotNil(t, tab)
	assert.Equal(t, 7, *tab)

	require.NoError(t, store.SaveRecording(ctx, types.RecordingState{Steps: []types.CapturedStep{}}, nil))
	got, tab, err = store.LoadRecording(ctx)
	require.NoError(t, err)
	assert.False(t, got.IsRecording)
	assert.Nil(t, tab)
}

func TestLoadSettings_MergesDefaults(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	settings, err := store.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultSettings(), settings)

	// A partial document keeps defaults for the missing fields.
	require.NoError(t, store.Put(ctx, KeySettings, map[string]any{"maxStepsPerRecording": 3}))
	settings, err = store.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, settings.MaxStepsPerRecording)
	assert.True(t, settings.AutoSave)
	assert.Equal(t, 100, settings.CaptureDelay)
}

func TestQueue_Roundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	q, err := store.LoadQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, q)

	queue := []types.QueuedRecording{
		{ID: "a", Title: "A", Steps: []types.CapturedStep{sampleStep("x")}, CreatedAt: "t1"},
		{ID: "b", Title: "B", Steps: []types.CapturedStep{}, CreatedAt: "t2", RetryCount: 2, LastError: types.StringPtr("boom")},
	}
	require.NoError(t, store.SaveQueue(ctx, queue))

	got, err := store.LoadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, 2, got[1].RetryCount)
	assert.Equal(t, "boom", *got[1].LastError)
}

func TestSession_SaveLoadClear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, err := store.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	require.NoError(t, store.SaveSession(ctx, types.AuthSession{AccessToken: "tok", Email: "a@b.c"}))
	session, err = store.LoadSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "tok", session.AccessToken)

	require.NoError(t, store.ClearSession(ctx))
	session, err = store.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)
}

// --- Dropped recordings ---

func TestAddDropped_ListDropped(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := types.QueuedRecording{
		ID:          "q-1",
		Title:       "Lost",
		Description: types.StringPtr("desc"),
		Steps:       []types.CapturedStep{sampleStep("a"), sampleStep("b")},
		CreatedAt:   "2026-01-02T03:04:05.000Z",
		RetryCount:  3,
		LastError:   types.StringPtr("server down"),
	}
	require.NoError(t, store.AddDropped(ctx, rec))

	dropped, err := store.ListDropped(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	d := dropped[0]
	assert.Equal(t, "q-1", d.ID)
	assert.Equal(t, "Lost", d.Title)
	assert.Equal(t, "desc", *d.Description)
	assert.Len(t, d.Steps, 2)
	assert.Equal(t, 3, d.RetryCount)
	assert.Equal(t, "server down", *d.LastError)
	assert.False(t, d.DroppedAt.IsZero())
}

func TestListDropped_EmptyIsNotNil(t *testing.T) {
	store := openTestStore(t)

	dropped, err := store.ListDropped(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, dropped)
	assert.Empty(t, dropped)
}

func TestPruneDropped(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.AddDropped(ctx, types.QueuedRecording{ID: "old"}))
	store.now = func() time.Time { return base.Add(48 * time.Hour) }
	require.NoError(t, store.AddDropped(ctx, types.QueuedRecording{ID: "new"}))

	cutoff := base.Add(24 * time.Hour)
	count, err := store.CountDroppedBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	n, err := store.PruneDropped(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	dropped, err := store.ListDropped(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.Equal(t, "new", dropped[0].ID)
}

// --- Audit log ---

func TestAudit_RecentNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Audit(ctx, "recording_started", "Checkout", "p-1"))
	require.NoError(t, store.Audit(ctx, "sync_complete", "", "p-1"))

	entries, err := store.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sync_complete", entries[0].Action)
	assert.Equal(t, "recording_started", entries[1].Action)
	assert.Equal(t, "p-1", entries[1].RefID)
}

// --- Purge + stats ---

func TestPurgeAll_EmptiesEverything(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", 1))
	require.NoError(t, store.AddDropped(ctx, types.QueuedRecording{ID: "d"}))
	require.NoError(t, store.Audit(ctx, "x", "", ""))

	require.NoError(t, store.PurgeAll(ctx))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Keys)
	assert.Equal(t, int64(0), stats.DroppedCount)
	assert.Equal(t, int64(0), stats.AuditEntries)
}

func TestGetStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Keys)
	assert.True(t, stats.LastDroppedAt.IsZero())

	require.NoError(t, store.SaveQueue(ctx, []types.QueuedRecording{{ID: "a"}}))
	require.NoError(t, store.AddDropped(ctx, types.QueuedRecording{ID: "d"}))

	stats, err = store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Keys)
	assert.Equal(t, int64(1), stats.DroppedCount)
	assert.False(t, stats.LastDroppedAt.IsZero())
	assert.False(t, stats.LastActivity.IsZero())
}
