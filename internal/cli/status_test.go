package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_EmptyDB(t *testing.T) {
	store, db := setupTestStore(t)
	cmd := &StatusCommand{globals: testGlobals(), version: "dev"}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store, db))
	})

	assert.Contains(t, output, "Procedura Status")
	assert.Contains(t, output, "dev")
	assert.Contains(t, output, "schema v2")
	assert.Contains(t, output, "Recording:     idle")
	assert.Contains(t, output, "Queued:        0")
	assert.Contains(t, output, "Signed in:     no")
	assert.Contains(t, output, "Service:       not running")
}

func TestStatus_WithRecordingAndQueue(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()

	state := types.RecordingState{
		IsRecording: true,
		ProcedureID: types.StringPtr("p-1"),
		Title:       types.StringPtr("Onboarding"),
		Steps:       []types.CapturedStep{{ActionType: types.ActionClick}, {ActionType: types.ActionInput}},
		StartedAt:   types.StringPtr("2026-03-01T10:00:00.000Z"),
	}
	require.NoError(t, store.SaveRecording(ctx, state, types.IntPtr(1)))
	require.NoError(t, store.SaveQueue(ctx, []types.QueuedRecording{{ID: "q1", Title: "Later"}}))
	require.NoError(t, store.SaveSession(ctx, types.AuthSession{AccessToken: "t", Email: "ana@example.com"}))

	cmd := &StatusCommand{globals: testGlobals(), version: "dev"}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store, db))
	})

	assert.Contains(t, output, `Recording:     "Onboarding" (2 steps)`)
	assert.Contains(t, output, "Started:       2026-03-01T10:00:00.000Z")
	assert.Contains(t, output, "Queued:        1")
	assert.Contains(t, output, "Signed in:     ana@example.com")
}

func TestStatus_LiveServiceJSON(t *testing.T) {
	store, db := setupTestStore(t)
	svc := newFakeService()
	svc.replies[protocol.GetSyncStatus] = protocol.OK(map[string]any{
		"isOnline":   false,
		"isSyncing":  false,
		"queueCount": 3,
	})

	globals := testGlobals()
	globals.JSON = true
	cmd := &StatusCommand{globals: globals, version: "1.0.0", service: svc}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store, db))
	})

	var out statusJSON
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, "1.0.0", out.Version)
	assert.True(t, out.ServiceRunning)
	require.NotNil(t, out.Online)
	assert.False(t, *out.Online)
	assert.Equal(t, 3, out.QueueCount, "live count wins over the stored queue")
	assert.Greater(t, out.DatabaseSizeBytes, int64(0))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))
	assert.Equal(t, "1.0 GB", formatBytes(1<<30))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", formatNumber(0))
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
}
