// Package recording owns the single recording session: start, append
// steps, stop, and resume after a restart.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/types"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrStepLimit        = errors.New("step limit reached")
)

// Store persists the session. Every mutation is written before the
// Recorder reports success.
type Store interface {
	LoadRecording(ctx context.Context) (types.RecordingState, *int, error)
	SaveRecording(ctx context.Context, state types.RecordingState, tabID *int) error
	ClearRecording(ctx context.Context) error
	LoadSettings(ctx context.Context) (types.Settings, error)
}

// Tabs reaches the browser tab being recorded.
type Tabs interface {
	// Inject arranges for the capture engine to run in the tab's page.
	Inject(ctx context.Context, tabID int) error
	// Notify delivers a message to the tab's capture engine.
	Notify(ctx context.Context, tabID int, req protocol.Request) error
}

// Recorder is the recording state machine. The zero value is not usable;
// construct with New.
type Recorder struct {
	store  Store
	tabs   Tabs
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.Mutex
	state    types.RecordingState
	tabID    *int
	maxSteps int
	restored bool
}

func New(store Store, tabs Tabs, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		tabs:   tabs,
		logger: logger.With(slog.String("component", "recording")),
		now:    time.Now,
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
		state:  idleState(),
	}
}

func idleState() types.RecordingState {
	return types.RecordingState{Steps: []types.CapturedStep{}}
}

// Restore reloads an in-progress session persisted before a restart. It
// runs once; later calls and an empty store are no-ops.
func (r *Recorder) Restore(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.restored {
		return nil
	}

	state, tabID, err := r.store.LoadRecording(ctx)
	if err != nil {
		return fmt.Errorf("restore recording: %w", err)
	}
	r.restored = true
	if !state.IsRecording {
		return nil
	}

	settings, err := r.store.LoadSettings(ctx)
	if err != nil {
		r.logger.Warn("loading settings failed, using defaults", slog.String("error", err.Error()))
		settings = types.DefaultSettings()
	}
	r.state = state
	r.tabID = tabID
	r.maxSteps = settings.MaxStepsPerRecording
	r.logger.Info("recording restored",
		slog.String("procedureId", deref(state.ProcedureID)),
		slog.Int("steps", len(state.Steps)))
	return nil
}

// Start opens a session in tabID. Injecting the capture engine is best
// effort: a failure is logged and the session stays open.
func (r *Recorder) Start(ctx context.Context, tabID int, title string) error {
	r.mu.Lock()
	if r.state.IsRecording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}

	settings, err := r.store.LoadSettings(ctx)
	if err != nil {
		r.logger.Warn("loading settings failed, using defaults", slog.String("error", err.Error()))
		settings = types.DefaultSettings()
	}

	next := types.RecordingState{
		IsRecording: true,
		ProcedureID: types.StringPtr(r.newID()),
		Title:       types.StringPtr(title),
		Steps:       []types.CapturedStep{},
		StartedAt:   types.StringPtr(types.Timestamp(r.now())),
	}
	tab := types.IntPtr(tabID)
	if err := r.store.SaveRecording(ctx, next, tab); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("persist recording: %w", err)
	}
	r.state = next
	r.tabID = tab
	r.maxSteps = settings.MaxStepsPerRecording
	r.mu.Unlock()

	if err := r.tabs.Inject(ctx, tabID); err != nil {
		r.logger.Error("failed to inject capture engine", slog.Int("tabId", tabID), slog.String("error", err.Error()))
	}
	r.logger.Info("recording started", slog.String("procedureId", *next.ProcedureID), slog.String("title", title))
	return nil
}

// Stop closes the session and returns its final state. Stopping while
// idle returns the idle snapshot.
func (r *Recorder) Stop(ctx context.Context) (types.RecordingState, error) {
	r.mu.Lock()
	if !r.state.IsRecording {
		snap := r.state.Clone()
		r.mu.Unlock()
		return snap, nil
	}
	final := r.state.Clone()
	tab := r.tabID
	r.mu.Unlock()

	if tab != nil {
		off := false
		err := r.tabs.Notify(ctx, *tab, protocol.Request{
			Type:    protocol.RecordingStatus,
			Payload: &protocol.Payload{IsRecording: &off},
		})
		if err != nil {
			// the tab may be gone
			r.logger.Debug("stop notification not delivered", slog.Int("tabId", *tab), slog.String("error", err.Error()))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.IsRecording {
		return r.state.Clone(), nil
	}
	// steps may have arrived while the tab was notified
	final = r.state.Clone()
	if err := r.store.ClearRecording(ctx); err != nil {
		return types.RecordingState{}, fmt.Errorf("clear recording: %w", err)
	}
	r.state = idleState()
	r.tabID = nil
	r.logger.Info("recording stopped", slog.Int("steps", len(final.Steps)))
	return final, nil
}

// AddStep appends step to the open session and returns the new step
// count. Steps arriving while idle are dropped with a warning and
// ErrNotRecording.
func (r *Recorder) AddStep(ctx context.Context, step types.CapturedStep) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.IsRecording {
		r.logger.Warn("cannot add step: not recording")
		return 0, ErrNotRecording
	}
	if r.maxSteps > 0 && len(r.state.Steps) >= r.maxSteps {
		return len(r.state.Steps), ErrStepLimit
	}

	r.state.Steps = append(r.state.Steps, step)
	if err := r.store.SaveRecording(ctx, r.state, r.tabID); err != nil {
		r.state.Steps = r.state.Steps[:len(r.state.Steps)-1]
		return len(r.state.Steps), fmt.Errorf("persist step: %w", err)
	}
	return len(r.state.Steps), nil
}

// State returns a copy of the current session.
func (r *Recorder) State() types.RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// ActiveTab returns the tab being recorded, or nil.
func (r *Recorder) ActiveTab() *int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tabID == nil {
		return nil
	}
	return types.IntPtr(*r.tabID)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
