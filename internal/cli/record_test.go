package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_SendsTitleAndTab(t *testing.T) {
	svc := newFakeService()
	svc.replies[protocol.StartRecording] = protocol.OK(nil)
	svc.replies[protocol.GetStatus] = protocol.OK(map[string]any{"procedureId": "p-9", "title": "Billing"})

	cmd := &StartCommand{Title: "Billing", Tab: 4, globals: testGlobals(), service: svc}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	sent := svc.sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, protocol.StartRecording, sent[0].Type)
	assert.Equal(t, "Billing", sent[0].Payload.Title)
	assert.Equal(t, 4, *sent[0].Payload.TabID)
	assert.Contains(t, output, `Recording "Billing" (p-9)`)
}

func TestStart_ReportsServiceError(t *testing.T) {
	svc := newFakeService()
	svc.replies[protocol.StartRecording] = protocol.Fail("No active tab")

	cmd := &StartCommand{globals: testGlobals(), service: svc}
	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No active tab")
}

func TestStart_ServiceUnreachable(t *testing.T) {
	svc := newFakeService()
	svc.err = errors.New("nats: no responders available for request")

	cmd := &StartCommand{globals: testGlobals(), service: svc}
	assert.Error(t, cmd.Execute(nil))
}

func TestStop_FollowsProgressUntilComplete(t *testing.T) {
	svc := newFakeService()
	svc.replies[protocol.StopRecording] = protocol.OK(map[string]any{"stepCount": 3})
	svc.events[protocol.StopRecording] = []protocol.Request{
		{Type: protocol.SyncProgress, Payload: &protocol.Payload{Progress: &types.SyncProgress{Phase: types.PhaseCreating, Progress: 5, Message: "Criando procedimento..."}}},
		{Type: protocol.GetStatus},
		{Type: protocol.SyncProgress, Payload: &protocol.Payload{Progress: &types.SyncProgress{Phase: types.PhaseComplete, Progress: 100, Message: "Procedimento salvo!"}}},
		{Type: protocol.SyncComplete, Payload: &protocol.Payload{Result: &protocol.SyncResult{Success: true, ProcedureID: "p-1"}}},
	}

	cmd := &StopCommand{globals: testGlobals()}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.run(context.Background(), svc))
	})

	assert.Contains(t, output, "Stopped: 3 steps captured")
	assert.Contains(t, output, "[  5%] Criando procedimento...")
	assert.Contains(t, output, "[100%] Procedimento salvo!")
	assert.Contains(t, output, "Synced procedure p-1")
}

func TestStop_NoStepsDoesNotWait(t *testing.T) {
	svc := newFakeService()
	svc.replies[protocol.StopRecording] = protocol.OK(map[string]any{"stepCount": 0})

	cmd := &StopCommand{globals: testGlobals()}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.run(context.Background(), svc))
	})
	assert.Contains(t, output, "Stopped: 0 steps captured")
}

func TestStop_ReportsQueuedFailure(t *testing.T) {
	svc := newFakeService()
	svc.replies[protocol.StopRecording] = protocol.OK(map[string]any{"stepCount": 1})
	svc.events[protocol.StopRecording] = []protocol.Request{
		{Type: protocol.SyncComplete, Payload: &protocol.Payload{Result: &protocol.SyncResult{Error: "Sem conexão. Salvo localmente."}}},
	}

	cmd := &StopCommand{globals: testGlobals()}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.run(context.Background(), svc))
	})
	assert.Contains(t, output, "Not synced: Sem conexão. Salvo localmente.")
}

func TestStop_CancelledWhileWaiting(t *testing.T) {
	svc := newFakeService()
	svc.replies[protocol.StopRecording] = protocol.OK(map[string]any{"stepCount": 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmd := &StopCommand{globals: testGlobals()}
	var err error
	captureOutput(t, func() {
		err = cmd.run(ctx, svc)
	})
	assert.ErrorIs(t, err, context.Canceled)
}
