package storage

import (
	"context"

	"github.com/runnerr0/procedura/internal/types"
)

// LoadRecording returns the persisted recording state and the tab being
// recorded. A fresh database yields the idle state and a nil tab.
func (s *SQLiteStore) LoadRecording(ctx context.Context) (types.RecordingState, *int, error) {
	var state types.RecordingState
	if _, err := s.Get(ctx, KeyRecordingState, &state); err != nil {
		return types.RecordingState{}, nil, err
	}
	if state.Steps == nil {
		state.Steps = []types.CapturedStep{}
	}

	var tabID int
	found, err := s.Get(ctx, KeyActiveTabID, &tabID)
	if err != nil {
		return types.RecordingState{}, nil, err
	}
	if !found {
		return state, nil, nil
	}
	return state, &tabID, nil
}

// SaveRecording writes the recording state and active tab together. A nil
// tabID removes the stored tab.
func (s *SQLiteStore) SaveRecording(ctx context.Context, state types.RecordingState, tabID *int) error {
	puts := map[string]any{KeyRecordingState: state}
	var deletes []string
	if tabID != nil {
		puts[KeyActiveTabID] = *tabID
	} else {
		deletes = append(deletes, KeyActiveTabID)
	}
	return s.Apply(ctx, puts, deletes)
}

// LoadSettings returns stored settings merged over the defaults.
func (s *SQLiteStore) LoadSettings(ctx context.Context) (types.Settings, error) {
	settings := types.DefaultSettings()
	if _, err := s.Get(ctx, KeySettings, &settings); err != nil {
		return types.DefaultSettings(), err
	}
	return settings, nil
}

// SaveSettings persists settings.
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings types.Settings) error {
	return s.Put(ctx, KeySettings, settings)
}

// LoadQueue returns the persisted sync queue in insertion order.
func (s *SQLiteStore) LoadQueue(ctx context.Context) ([]types.QueuedRecording, error) {
	var queue []types.QueuedRecording
	if _, err := s.Get(ctx, KeySyncQueue, &queue); err != nil {
		return nil, err
	}
	if queue == nil {
		queue = []types.QueuedRecording{}
	}
	return queue, nil
}

// SaveQueue replaces the persisted sync queue.
func (s *SQLiteStore) SaveQueue(ctx context.Context, queue []types.QueuedRecording) error {
	if queue == nil {
		queue = []types.QueuedRecording{}
	}
	return s.Put(ctx, KeySyncQueue, queue)
}

// LoadSession returns the stored auth session, or nil when signed out.
func (s *SQLiteStore) LoadSession(ctx context.Context) (*types.AuthSession, error) {
	var session types.AuthSession
	found, err := s.Get(ctx, KeyAuthSession, &session)
	if err != nil || !found {
		return nil, err
	}
	return &session, nil
}

// SaveSession persists the auth session.
func (s *SQLiteStore) SaveSession(ctx context.Context, session types.AuthSession) error {
	return s.Put(ctx, KeyAuthSession, session)
}

// ClearSession forgets the auth session.
func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	return s.Delete(ctx, KeyAuthSession)
}

// ClearRecording removes the persisted recording state and active tab.
func (s *SQLiteStore) ClearRecording(ctx context.Context) error {
	return s.Apply(ctx, nil, []string{KeyRecordingState, KeyActiveTabID})
}
