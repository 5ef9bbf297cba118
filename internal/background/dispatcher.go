// Package background is the service side of the recorder: it owns the
// recording session and the sync pipeline and answers protocol requests
// from pages, the popup and the CLI.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/runnerr0/procedura/internal/badge"
	"github.com/runnerr0/procedura/internal/capture"
	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/recording"
	"github.com/runnerr0/procedura/internal/remote"
	"github.com/runnerr0/procedura/internal/syncer"
	"github.com/runnerr0/procedura/internal/types"
)

// Broadcaster delivers notifications to whoever is listening. Nobody
// listening is not an error.
type Broadcaster interface {
	Broadcast(ctx context.Context, req protocol.Request) error
}

// Browser answers tab and screenshot queries.
type Browser interface {
	ActiveTab(ctx context.Context) (*int, error)
	CaptureScreenshot(ctx context.Context, tabID int) (string, error)
}

// Auth is the remote account.
type Auth interface {
	CurrentUser(ctx context.Context) (*remote.User, error)
	SignIn(ctx context.Context, email, password string) (*types.AuthSession, error)
	SignOut(ctx context.Context) error
}

// Auditor keeps a local trail of what the service did.
type Auditor interface {
	Audit(ctx context.Context, action, detail, refID string) error
}

// SettingsLoader reads the stored user preferences.
type SettingsLoader interface {
	LoadSettings(ctx context.Context) (types.Settings, error)
}

// Deps are the collaborators of a Dispatcher. Browser, Auth, Badge,
// Broadcaster, Auditor and Settings are optional.
type Deps struct {
	Recorder     *recording.Recorder
	Sync         *syncer.Pipeline
	Tabs         recording.Tabs
	Browser      Browser
	Auth         Auth
	Badge        badge.Presenter
	Broadcaster  Broadcaster
	Auditor      Auditor
	Settings     SettingsLoader
	DefaultTitle string
	Logger       *slog.Logger
}

// Dispatcher routes protocol requests to the recorder and the pipeline.
type Dispatcher struct {
	deps   Deps
	logger *slog.Logger

	// background tracks syncs started by STOP_RECORDING.
	background sync.WaitGroup
}

const defaultTitle = "Novo Procedimento"

func New(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultTitle == "" {
		deps.DefaultTitle = defaultTitle
	}
	return &Dispatcher{
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "background")),
	}
}

// Init restores an interrupted recording and loads the offline queue. It
// must complete before the first request is handled. A queue drain is
// started in the background.
func (d *Dispatcher) Init(ctx context.Context) error {
	if err := d.deps.Recorder.Restore(ctx); err != nil {
		return err
	}
	if err := d.deps.Sync.Init(ctx); err != nil {
		return err
	}

	state := d.deps.Recorder.State()
	if state.IsRecording {
		d.setBadgeCount(len(state.Steps))
	} else {
		d.setBadge(badge.Idle)
	}

	d.background.Add(1)
	go func() {
		defer d.background.Done()
		d.deps.Sync.ProcessQueue(context.WithoutCancel(ctx))
	}()
	return nil
}

// Wait blocks until background syncs and drains have finished.
func (d *Dispatcher) Wait() {
	d.background.Wait()
}

// Handle answers req. Handler panics and errors become failed responses.
func (d *Dispatcher) Handle(ctx context.Context, sender protocol.Sender, req protocol.Request) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("PANIC in message handler", slog.String("type", string(req.Type)), slog.Any("error", r))
			resp = protocol.Fail("%v", r)
		}
	}()

	logger := d.logger.With(slog.String("type", string(req.Type)))
	logger.Debug("handling message")

	switch req.Type {
	case protocol.GetStatus:
		return d.getStatus()
	case protocol.StartRecording:
		return d.startRecording(ctx, sender, req.Payload)
	case protocol.StopRecording:
		return d.stopRecording(ctx)
	case protocol.GetSyncStatus:
		return d.getSyncStatus()
	case protocol.SyncProcedure:
		return d.syncProcedure(ctx, req.Payload)
	case protocol.AddStep:
		return d.addStep(ctx, req.Payload)
	case protocol.CaptureScreenshot:
		return d.captureScreenshot(ctx, sender, req.Payload)
	case protocol.GetUser:
		return d.getUser(ctx)
	case protocol.SignIn:
		return d.signIn(ctx, req.Payload)
	case protocol.SignOut:
		return d.signOut(ctx)
	case protocol.RetryQueue:
		return d.retryQueue(ctx)
	case protocol.ClearQueue:
		return d.clearQueue(ctx)
	}
	logger.Warn("unknown message type")
	return protocol.Fail(protocol.ErrUnknownType)
}

func (d *Dispatcher) getStatus() protocol.Response {
	state := d.deps.Recorder.State()
	return protocol.OK(map[string]any{
		"isRecording": state.IsRecording,
		"procedureId": deref(state.ProcedureID),
		"stepCount":   len(state.Steps),
		"title":       deref(state.Title),
	})
}

func (d *Dispatcher) startRecording(ctx context.Context, sender protocol.Sender, p *protocol.Payload) protocol.Response {
	tabID := sender.TabID
	if p != nil && p.TabID != nil {
		tabID = p.TabID
	}
	if tabID == nil && d.deps.Browser != nil {
		active, err := d.deps.Browser.ActiveTab(ctx)
		if err != nil {
			d.logger.Warn("active tab lookup failed", slog.String("error", err.Error()))
		}
		tabID = active
	}
	if tabID == nil {
		return protocol.Fail("No active tab")
	}

	title := d.deps.DefaultTitle
	if p != nil && strings.TrimSpace(p.Title) != "" {
		title = p.Title
	}
	if err := d.deps.Recorder.Start(ctx, *tabID, title); err != nil {
		if errors.Is(err, recording.ErrAlreadyRecording) {
			return protocol.Fail("Already recording")
		}
		return protocol.Fail("%s", err.Error())
	}
	d.setBadge(badge.Recording)
	state := d.deps.Recorder.State()
	d.audit(ctx, "recording.start", title, deref(state.ProcedureID))
	return protocol.OK(nil)
}

func (d *Dispatcher) stopRecording(ctx context.Context) protocol.Response {
	state, err := d.deps.Recorder.Stop(ctx)
	if err != nil {
		return protocol.Fail("%s", err.Error())
	}
	d.setBadge(badge.Idle)

	if state.IsRecording {
		d.audit(ctx, "recording.stop", fmt.Sprintf("%d steps", len(state.Steps)), deref(state.ProcedureID))
	}
	if len(state.Steps) > 0 && deref(state.Title) != "" {
		if d.settings(ctx).AutoSave {
			d.syncInBackground(ctx, syncer.Request{Title: *state.Title, Steps: state.Steps})
		} else {
			d.logger.Info("auto save is off, leaving sync to the caller", slog.Int("steps", len(state.Steps)))
		}
	}

	return protocol.OK(map[string]any{
		"procedureId": nilIfEmpty(deref(state.ProcedureID)),
		"stepCount":   len(state.Steps),
		"steps":       state.Steps,
	})
}

// syncInBackground runs a sync detached from the request, broadcasting
// its progress and result.
func (d *Dispatcher) syncInBackground(ctx context.Context, req syncer.Request) {
	ctx = context.WithoutCancel(ctx)
	attempt := d.deps.Sync.Sync(ctx, req)
	d.setBadge(badge.Processing)

	d.background.Add(1)
	go func() {
		defer d.background.Done()
		d.relayProgress(ctx, attempt)
		res := attempt.Wait()
		d.broadcast(ctx, protocol.Request{
			Type: protocol.SyncComplete,
			Payload: &protocol.Payload{Result: &protocol.SyncResult{
				Success:     res.Success,
				ProcedureID: res.ProcedureID,
				Error:       res.Error,
			}},
		})
		d.finishSync(ctx, req.Title, res)
	}()
}

func (d *Dispatcher) relayProgress(ctx context.Context, attempt *syncer.Attempt) {
	for ev := range attempt.Progress() {
		ev := ev
		d.broadcast(ctx, protocol.Request{
			Type:    protocol.SyncProgress,
			Payload: &protocol.Payload{Progress: &ev},
		})
	}
}

func (d *Dispatcher) finishSync(ctx context.Context, title string, res syncer.Result) {
	if d.deps.Recorder.State().IsRecording {
		// a new recording started meanwhile; its badge wins
		return
	}
	if res.Success {
		d.setBadge(badge.Idle)
		d.audit(ctx, "sync.complete", title, res.ProcedureID)
		return
	}
	switch res.Err() {
	case syncer.ErrBusy, syncer.ErrOffline:
		d.setBadge(badge.Idle)
	default:
		d.setBadge(badge.Error)
	}
	d.audit(ctx, "sync.failed", res.Error, "")
}

func (d *Dispatcher) getSyncStatus() protocol.Response {
	st := d.deps.Sync.State()
	var current any
	if st.CurrentProgress != nil {
		current = st.CurrentProgress
	}
	return protocol.OK(map[string]any{
		"isOnline":        st.IsOnline,
		"isSyncing":       st.IsSyncing,
		"queueCount":      len(st.Queue),
		"currentProgress": current,
	})
}

func (d *Dispatcher) syncProcedure(ctx context.Context, p *protocol.Payload) protocol.Response {
	if p == nil || p.Title == "" || p.Steps == nil {
		return protocol.Fail("Missing title or steps")
	}
	attempt := d.deps.Sync.Sync(ctx, syncer.Request{Title: p.Title, Description: p.Description, Steps: p.Steps})
	d.relayProgress(ctx, attempt)
	res := attempt.Wait()
	return protocol.Response{
		Success: res.Success,
		Data:    map[string]any{"procedureId": nilIfEmpty(res.ProcedureID)},
		Error:   res.Error,
	}
}

// retryQueue drains the offline queue now and reports what is left.
func (d *Dispatcher) retryQueue(ctx context.Context) protocol.Response {
	before := d.deps.Sync.QueueCount()
	d.deps.Sync.ProcessQueue(ctx)
	return protocol.OK(map[string]any{
		"queued":     before,
		"queueCount": d.deps.Sync.QueueCount(),
	})
}

func (d *Dispatcher) clearQueue(ctx context.Context) protocol.Response {
	n := d.deps.Sync.QueueCount()
	if err := d.deps.Sync.ClearQueue(ctx); err != nil {
		return protocol.Fail("%s", err.Error())
	}
	d.audit(ctx, "queue.clear", fmt.Sprintf("%d recordings", n), "")
	return protocol.OK(map[string]any{"cleared": n})
}

func (d *Dispatcher) addStep(ctx context.Context, p *protocol.Payload) protocol.Response {
	if p == nil || p.Step == nil {
		return protocol.Fail("No step data provided")
	}
	n, err := d.deps.Recorder.AddStep(ctx, *p.Step)
	switch {
	case errors.Is(err, recording.ErrNotRecording):
		n = len(d.deps.Recorder.State().Steps)
	case errors.Is(err, recording.ErrStepLimit):
		return protocol.Fail("Step limit reached (%d steps)", n)
	case err != nil:
		return protocol.Fail("%s", err.Error())
	default:
		d.setBadgeCount(n)
	}
	return protocol.OK(map[string]any{"stepCount": n})
}

func (d *Dispatcher) captureScreenshot(ctx context.Context, sender protocol.Sender, p *protocol.Payload) protocol.Response {
	tabID := sender.TabID
	if p != nil && p.TabID != nil {
		tabID = p.TabID
	}
	if tabID == nil {
		return protocol.Fail("No tab ID for screenshot")
	}
	if d.deps.Browser == nil {
		return protocol.Fail("Failed to capture screenshot")
	}
	dataURL, err := d.deps.Browser.CaptureScreenshot(ctx, *tabID)
	if err != nil {
		d.logger.Warn("screenshot failed", slog.Int("tabId", *tabID), slog.String("error", err.Error()))
		return protocol.Fail("Failed to capture screenshot")
	}
	return protocol.OK(map[string]any{"screenshotDataUrl": dataURL})
}

// TabUpdated re-attaches the capture engine after a page load in tabID
// while a recording is in progress.
func (d *Dispatcher) TabUpdated(ctx context.Context, tabID int, url string) {
	if url == "" || !d.deps.Recorder.State().IsRecording {
		return
	}
	for _, prefix := range []string{"chrome://", "chrome-extension://", "about:"} {
		if strings.HasPrefix(url, prefix) {
			return
		}
	}
	logger := d.logger.With(slog.Int("tabId", tabID), slog.String("url", url))
	if err := d.deps.Tabs.Inject(ctx, tabID); err != nil {
		logger.Error("failed to inject capture engine", slog.String("error", err.Error()))
		return
	}
	on := true
	err := d.deps.Tabs.Notify(ctx, tabID, protocol.Request{
		Type:    protocol.RecordingStatus,
		Payload: &protocol.Payload{IsRecording: &on},
	})
	if err != nil {
		logger.Error("failed to notify capture engine", slog.String("error", err.Error()))
	}
}

// RecordingDropped publishes a recording the pipeline gave up on.
func (d *Dispatcher) RecordingDropped(ctx context.Context, rec types.QueuedRecording) {
	d.audit(ctx, "sync.dropped", rec.Title, rec.ID)
	d.broadcast(ctx, protocol.Request{
		Type:    protocol.SyncDropped,
		Payload: &protocol.Payload{Dropped: &rec},
	})
}

// Messenger returns the channel the capture engine in tabID uses.
func (d *Dispatcher) Messenger(tabID int) capture.Messenger {
	return tabMessenger{d: d, tabID: tabID}
}

type tabMessenger struct {
	d     *Dispatcher
	tabID int
}

func (m tabMessenger) Send(ctx context.Context, req protocol.Request) protocol.Response {
	tab := m.tabID
	return m.d.Handle(ctx, protocol.Sender{TabID: &tab}, req)
}

func (d *Dispatcher) broadcast(ctx context.Context, req protocol.Request) {
	if d.deps.Broadcaster == nil {
		return
	}
	if err := d.deps.Broadcaster.Broadcast(ctx, req); err != nil {
		d.logger.Debug("broadcast not delivered", slog.String("type", string(req.Type)), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) audit(ctx context.Context, action, detail, refID string) {
	if d.deps.Auditor == nil {
		return
	}
	if err := d.deps.Auditor.Audit(ctx, action, detail, refID); err != nil {
		d.logger.Warn("audit write failed", slog.String("action", action), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) setBadge(s badge.State) {
	if d.deps.Badge != nil {
		d.deps.Badge.Set(s)
	}
}

func (d *Dispatcher) setBadgeCount(n int) {
	if d.deps.Badge != nil {
		d.deps.Badge.SetCount(n)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (d *Dispatcher) settings(ctx context.Context) types.Settings {
	if d.deps.Settings == nil {
		return types.DefaultSettings()
	}
	s, err := d.deps.Settings.LoadSettings(ctx)
	if err != nil {
		d.logger.Warn("loading settings failed, using defaults", slog.String("error", err.Error()))
		return types.DefaultSettings()
	}
	return s
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
