package background

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	_ "github.com/mattn/go-sqlite3"
	"github.com/runnerr0/procedura/internal/badge"
	"github.com/runnerr0/procedura/internal/capture"
	"github.com/runnerr0/procedura/internal/config"
	"github.com/runnerr0/procedura/internal/log"
	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/recording"
	"github.com/runnerr0/procedura/internal/remote"
	"github.com/runnerr0/procedura/internal/storage"
	"github.com/runnerr0/procedura/internal/syncer"
	"github.com/runnerr0/procedura/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkoutPage = `<html><head><title>Shop</title></head><body>
<button id="buy">Buy now</button>
<label for="qty">Quantity</label><input id="qty" name="qty">
<form id="signin">
  <input id="email" name="email" type="email">
  <input id="pw" name="pw" type="password" autocomplete="current-password">
  <button id="submit" type="submit">Submit</button>
</form>
</body></html>`

var shotURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png"))

func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewMigrationRunner(db).Run())
	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type stubRemote struct {
	mu       sync.Mutex
	userID   string
	fail     error
	created  []string
	inserted []remote.StepRecord
}

func (s *stubRemote) UserID(context.Context) (string, error) {
	if s.userID == "" {
		return "", remote.ErrNotAuthenticated
	}
	return s.userID, nil
}

func (s *stubRemote) CreateProcedure(_ context.Context, title string, _ *string) (*remote.Procedure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	s.created = append(s.created, title)
	return &remote.Procedure{ID: fmt.Sprintf("proc-%d", len(s.created)), Title: title}, nil
}

func (s *stubRemote) UpdateStatus(context.Context, string, string) error { return nil }

func (s *stubRemote) UpdateSummary(context.Context, string, int, *string) error { return nil }

func (s *stubRemote) InsertSteps(_ context.Context, steps []remote.StepRecord) ([]remote.StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, steps...)
	return steps, nil
}

func (s *stubRemote) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}

type stubObjects struct{}

func (stubObjects) Upload(_ context.Context, path string, _ []byte, _ string) (string, error) {
	return "https://cdn.example.com/" + path, nil
}

type stubBrowser struct {
	active  *int
	shotErr error
}

func (b *stubBrowser) ActiveTab(context.Context) (*int, error) { return b.active, nil }

func (b *stubBrowser) CaptureScreenshot(context.Context, int) (string, error) {
	if b.shotErr != nil {
		return "", b.shotErr
	}
	return shotURL, nil
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []protocol.Request
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, req protocol.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, req)
	return nil
}

func (r *recordingBroadcaster) ofType(t protocol.MessageType) []protocol.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Request
	for _, req := range r.sent {
		if req.Type == t {
			out = append(out, req)
		}
	}
	return out
}

// pageTabs stands in for the browser: Inject loads a fresh capture engine
// wired back to the dispatcher and Notify hands messages to it.
type pageTabs struct {
	mu        sync.Mutex
	d         *Dispatcher
	engines   map[int]*capture.Engine
	docs      map[int]*goquery.Document
	injectErr error
	injected  int
	// debounce is the engines' input debounce; zero means an hour.
	debounce time.Duration
}

func (p *pageTabs) Inject(ctx context.Context, tabID int) error {
	p.mu.Lock()
	p.injected++
	if p.injectErr != nil {
		p.mu.Unlock()
		return p.injectErr
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(checkoutPage))
	if err != nil {
		p.mu.Unlock()
		return err
	}
	debounce := p.debounce
	if debounce == 0 {
		debounce = time.Hour
	}
	engine := capture.New(capture.Page{Doc: doc, URL: "https://shop.example.com/cart", Title: "Shop"},
		p.d.Messenger(tabID), capture.Config{ShowIndicator: true, InputDebounce: debounce, Logger: log.Discard()})
	p.engines[tabID] = engine
	p.docs[tabID] = doc
	p.mu.Unlock()

	engine.Init(ctx)
	return nil
}

func (p *pageTabs) Notify(ctx context.Context, tabID int, req protocol.Request) error {
	engine := p.engine(tabID)
	if engine == nil {
		return errors.New("no such tab")
	}
	engine.HandleMessage(ctx, req)
	return nil
}

func (p *pageTabs) engine(tabID int) *capture.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engines[tabID]
}

func (p *pageTabs) click(t *testing.T, tabID int, sel string) {
	t.Helper()
	p.mu.Lock()
	doc := p.docs[tabID]
	engine := p.engines[tabID]
	p.mu.Unlock()
	require.NotNil(t, engine)
	engine.HandleEvent(testContext(t), capture.Event{Type: capture.EventClick, Target: doc.Find(sel), ClientX: 10, ClientY: 20})
}

func (p *pageTabs) input(t *testing.T, tabID int, sel, value string) {
	t.Helper()
	p.mu.Lock()
	doc := p.docs[tabID]
	engine := p.engines[tabID]
	p.mu.Unlock()
	require.NotNil(t, engine)
	engine.HandleEvent(testContext(t), capture.Event{Type: capture.EventInput, Target: doc.Find(sel), Value: value})
}

// stepCount reads the live count through GET_STATUS; -1 on failure.
func stepCount(t *testing.T, d *Dispatcher) int {
	resp := d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.GetStatus})
	if !resp.Success {
		return -1
	}
	n, _ := resp.Int("stepCount")
	return n
}

type fixture struct {
	d       *Dispatcher
	store   *storage.SQLiteStore
	remote  *stubRemote
	tabs    *pageTabs
	browser *stubBrowser
	badge   *badge.Terminal
	bus     *recordingBroadcaster
	pipe    *syncer.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   openTestStore(t),
		remote:  &stubRemote{userID: "u1"},
		tabs:    &pageTabs{engines: map[int]*capture.Engine{}, docs: map[int]*goquery.Document{}},
		browser: &stubBrowser{},
		badge:   badge.NewTerminal(io.Discard),
		bus:     &recordingBroadcaster{},
	}
	var d *Dispatcher
	f.pipe = syncer.New(config.SyncConfig{BatchSize: 5, MaxRetries: 3, SettleDelayMS: 60000},
		f.remote, stubObjects{}, f.store,
		syncer.DropNotifierFunc(func(ctx context.Context, rec types.QueuedRecording) { d.RecordingDropped(ctx, rec) }),
		log.Discard())
	t.Cleanup(f.pipe.Close)

	d = New(Deps{
		Recorder:    recording.New(f.store, f.tabs, log.Discard()),
		Sync:        f.pipe,
		Tabs:        f.tabs,
		Browser:     f.browser,
		Badge:       f.badge,
		Broadcaster: f.bus,
		Auditor:     f.store,
		Logger:      log.Discard(),
	})
	f.d = d
	f.tabs.d = d
	require.NoError(t, d.Init(testContext(t)))
	d.Wait()
	return f
}

func fromTab(id int) protocol.Sender { return protocol.Sender{TabID: &id} }

func TestDispatcher_RecordAndSyncEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	resp := f.d.Handle(ctx, fromTab(7), protocol.Request{Type: protocol.StartRecording, Payload: &protocol.Payload{Title: "Checkout"}})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, badge.Recording, f.badge.State())

	engine := f.tabs.engine(7)
	require.NotNil(t, engine)
	assert.True(t, engine.IsRecording(), "engine picks up the session from GET_STATUS")

	f.tabs.click(t, 7, "#buy")
	f.tabs.click(t, 7, "#buy")

	status := f.d.Handle(ctx, protocol.Sender{}, protocol.Request{Type: protocol.GetStatus})
	require.True(t, status.Success)
	assert.True(t, status.Bool("isRecording"))
	n, _ := status.Int("stepCount")
	assert.Equal(t, 2, n)
	title, _ := status.String("title")
	assert.Equal(t, "Checkout", title)
	assert.Equal(t, "2", f.badge.Text())

	resp = f.d.Handle(ctx, protocol.Sender{}, protocol.Request{Type: protocol.StopRecording})
	require.True(t, resp.Success, resp.Error)
	n, _ = resp.Int("stepCount")
	assert.Equal(t, 2, n)
	assert.False(t, engine.IsRecording())

	f.d.Wait()
	assert.Equal(t, []string{"Checkout"}, f.remote.titles())
	assert.Len(t, f.remote.inserted, 2)
	require.NotNil(t, f.remote.inserted[0].ScreenshotURL)

	complete := f.bus.ofType(protocol.SyncComplete)
	require.Len(t, complete, 1)
	assert.True(t, complete[0].Payload.Result.Success)
	assert.Equal(t, "proc-1", complete[0].Payload.Result.ProcedureID)

	progress := f.bus.ofType(protocol.SyncProgress)
	require.NotEmpty(t, progress)
	assert.Equal(t, types.PhaseComplete, progress[len(progress)-1].Payload.Progress.Phase)
	assert.Equal(t, badge.Idle, f.badge.State())
}

func TestDispatcher_ClickThenTypeIsRecordedInOrder(t *testing.T) {
	f := newFixture(t)
	f.tabs.debounce = 10 * time.Millisecond
	ctx := testContext(t)

	require.True(t, f.d.Handle(ctx, fromTab(4), protocol.Request{Type: protocol.StartRecording, Payload: &protocol.Payload{Title: "Sign in"}}).Success)

	f.tabs.click(t, 4, "#submit")
	f.tabs.input(t, 4, "#email", "ana@example.com")
	require.Eventually(t, func() bool { return stepCount(t, f.d) == 2 }, time.Second, 5*time.Millisecond)

	resp := f.d.Handle(ctx, protocol.Sender{}, protocol.Request{Type: protocol.StopRecording})
	require.True(t, resp.Success, resp.Error)
	id, ok := resp.String("procedureId")
	require.True(t, ok)
	assert.NotEmpty(t, id)

	steps, ok := resp.Data["steps"].([]types.CapturedStep)
	require.True(t, ok)
	require.Len(t, steps, 2)
	assert.Equal(t, types.ActionClick, steps[0].ActionType)
	require.NotNil(t, steps[0].ElementText)
	assert.Equal(t, "Submit", *steps[0].ElementText)
	assert.Equal(t, types.ActionInput, steps[1].ActionType)
	assert.Equal(t, "#email", steps[1].ElementSelector)

	f.d.Wait()
	assert.Len(t, f.remote.inserted, 2)
}

func TestDispatcher_PasswordInputIsNeverRecorded(t *testing.T) {
	f := newFixture(t)
	f.tabs.debounce = 10 * time.Millisecond
	ctx := testContext(t)

	require.True(t, f.d.Handle(ctx, fromTab(5), protocol.Request{Type: protocol.StartRecording, Payload: &protocol.Payload{Title: "Login"}}).Success)

	f.tabs.input(t, 5, "#pw", "hunter2")
	f.tabs.engine(5).Flush(ctx)
	assert.Never(t, func() bool { return stepCount(t, f.d) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	resp := f.d.Handle(ctx, protocol.Sender{}, protocol.Request{Type: protocol.StopRecording})
	require.True(t, resp.Success, resp.Error)
	n, _ := resp.Int("stepCount")
	assert.Zero(t, n)

	f.d.Wait()
	assert.Empty(t, f.remote.titles(), "nothing to sync")
}

func TestDispatcher_AutoSaveOffSkipsBackgroundSync(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	settings := types.DefaultSettings()
	settings.AutoSave = false
	require.NoError(t, f.store.SaveSettings(ctx, settings))
	f.d.deps.Settings = f.store

	require.True(t, f.d.Handle(ctx, fromTab(6), protocol.Request{Type: protocol.StartRecording, Payload: &protocol.Payload{Title: "Manual"}}).Success)
	f.tabs.click(t, 6, "#buy")

	resp := f.d.Handle(ctx, protocol.Sender{}, protocol.Request{Type: protocol.StopRecording})
	require.True(t, resp.Success, resp.Error)
	n, _ := resp.Int("stepCount")
	assert.Equal(t, 1, n)

	f.d.Wait()
	assert.Empty(t, f.remote.titles())
	assert.Empty(t, f.bus.ofType(protocol.SyncComplete))
	assert.Equal(t, badge.Idle, f.badge.State())
}

func TestDispatcher_NavigationKeepsRecording(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	require.True(t, f.d.Handle(ctx, fromTab(3), protocol.Request{Type: protocol.StartRecording}).Success)
	f.tabs.click(t, 3, "#buy")

	f.d.TabUpdated(ctx, 3, "https://shop.example.com/pay")
	assert.Equal(t, 2, f.tabs.injected)

	engine := f.tabs.engine(3)
	assert.True(t, engine.IsRecording())
	assert.Equal(t, 1, engine.StepCount(), "new page load resumes the count")
	visible, label := engine.Indicator()
	assert.True(t, visible)
	assert.Contains(t, label, "1")

	f.tabs.click(t, 3, "#buy")
	assert.Len(t, f.d.deps.Recorder.State().Steps, 2)
	assert.Equal(t, defaultTitle, *f.d.deps.Recorder.State().Title)
}

func TestDispatcher_TabUpdatedSkipsInternalPages(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	f.d.TabUpdated(ctx, 1, "https://example.com")
	assert.Equal(t, 0, f.tabs.injected, "idle")

	require.True(t, f.d.Handle(ctx, fromTab(1), protocol.Request{Type: protocol.StartRecording}).Success)
	for _, u := range []string{"chrome://settings", "chrome-extension://abc/popup.html", "about:blank", ""} {
		f.d.TabUpdated(ctx, 1, u)
	}
	assert.Equal(t, 1, f.tabs.injected)
}

func TestDispatcher_StartFallsBackToActiveTab(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.StartRecording})
	assert.False(t, resp.Success)
	assert.Equal(t, "No active tab", resp.Error)

	f.browser.active = types.IntPtr(4)
	resp = f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.StartRecording})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 4, *f.d.deps.Recorder.ActiveTab())
}

func TestDispatcher_StartTwiceFails(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.d.Handle(testContext(t), fromTab(1), protocol.Request{Type: protocol.StartRecording}).Success)
	resp := f.d.Handle(testContext(t), fromTab(1), protocol.Request{Type: protocol.StartRecording})
	assert.False(t, resp.Success)
}

func TestDispatcher_StartSucceedsWhenInjectFails(t *testing.T) {
	f := newFixture(t)
	f.tabs.injectErr = errors.New("cannot access page")

	resp := f.d.Handle(testContext(t), fromTab(1), protocol.Request{Type: protocol.StartRecording})
	require.True(t, resp.Success)
	assert.True(t, f.d.deps.Recorder.State().IsRecording)
}

func TestDispatcher_StopWithoutStepsDoesNotSync(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.d.Handle(testContext(t), fromTab(1), protocol.Request{Type: protocol.StartRecording}).Success)

	resp := f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.StopRecording})
	require.True(t, resp.Success)
	f.d.Wait()
	assert.Empty(t, f.remote.titles())
	assert.Empty(t, f.bus.ofType(protocol.SyncComplete))
}

func TestDispatcher_StopWhileIdle(t *testing.T) {
	f := newFixture(t)
	resp := f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.StopRecording})
	require.True(t, resp.Success)
	n, _ := resp.Int("stepCount")
	assert.Zero(t, n)
	assert.Nil(t, resp.Data["procedureId"])
}

func TestDispatcher_FailedSyncShowsErrorBadge(t *testing.T) {
	f := newFixture(t)
	f.remote.fail = errors.New("boom")

	require.True(t, f.d.Handle(testContext(t), fromTab(1), protocol.Request{Type: protocol.StartRecording}).Success)
	f.tabs.click(t, 1, "#buy")
	require.True(t, f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.StopRecording}).Success)
	f.d.Wait()

	assert.Equal(t, badge.Error, f.badge.State())
	assert.Equal(t, 1, f.pipe.QueueCount())
	complete := f.bus.ofType(protocol.SyncComplete)
	require.Len(t, complete, 1)
	assert.False(t, complete[0].Payload.Result.Success)
}

func TestDispatcher_OfflineStopQueuesLocally(t *testing.T) {
	f := newFixture(t)
	f.pipe.SetOnline(testContext(t), false)

	require.True(t, f.d.Handle(testContext(t), fromTab(1), protocol.Request{Type: protocol.StartRecording}).Success)
	f.tabs.click(t, 1, "#buy")
	require.True(t, f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.StopRecording}).Success)
	f.d.Wait()

	assert.Empty(t, f.remote.titles())
	assert.Equal(t, 1, f.pipe.QueueCount())
	assert.Equal(t, badge.Idle, f.badge.State())

	status := f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.GetSyncStatus})
	require.True(t, status.Success)
	assert.False(t, status.Bool("isOnline"))
	n, _ := status.Int("queueCount")
	assert.Equal(t, 1, n)
}

func TestDispatcher_SyncProcedure(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.SyncProcedure, Payload: &protocol.Payload{Title: "x"}})
	assert.False(t, resp.Success)
	assert.Equal(t, "Missing title or steps", resp.Error)

	steps := []types.CapturedStep{{ActionType: types.ActionClick, ElementSelector: "#a", ElementTag: "button"}}
	resp = f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{
		Type:    protocol.SyncProcedure,
		Payload: &protocol.Payload{Title: "Manual", Steps: steps},
	})
	require.True(t, resp.Success, resp.Error)
	id, _ := resp.String("procedureId")
	assert.Equal(t, "proc-1", id)
	assert.NotEmpty(t, f.bus.ofType(protocol.SyncProgress))
}

func TestDispatcher_AddStep(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	resp := f.d.Handle(ctx, fromTab(1), protocol.Request{Type: protocol.AddStep})
	assert.Equal(t, "No step data provided", resp.Error)

	step := types.CapturedStep{ActionType: types.ActionClick, ElementSelector: "#a"}
	resp = f.d.Handle(ctx, fromTab(1), protocol.Request{Type: protocol.AddStep, Payload: &protocol.Payload{Step: &step}})
	require.True(t, resp.Success, "steps outside a session are ignored, not rejected")
	n, _ := resp.Int("stepCount")
	assert.Zero(t, n)

	require.NoError(t, f.store.SaveSettings(ctx, types.Settings{MaxStepsPerRecording: 1}))
	require.True(t, f.d.Handle(ctx, fromTab(1), protocol.Request{Type: protocol.StartRecording}).Success)
	resp = f.d.Handle(ctx, fromTab(1), protocol.Request{Type: protocol.AddStep, Payload: &protocol.Payload{Step: &step}})
	require.True(t, resp.Success)
	resp = f.d.Handle(ctx, fromTab(1), protocol.Request{Type: protocol.AddStep, Payload: &protocol.Payload{Step: &step}})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Step limit")
}

func TestDispatcher_CaptureScreenshot(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.CaptureScreenshot})
	assert.Equal(t, "No tab ID for screenshot", resp.Error)

	resp = f.d.Handle(testContext(t), fromTab(2), protocol.Request{Type: protocol.CaptureScreenshot})
	require.True(t, resp.Success)
	url, _ := resp.String("screenshotDataUrl")
	assert.Equal(t, shotURL, url)

	f.browser.shotErr = errors.New("tab hidden")
	resp = f.d.Handle(testContext(t), fromTab(2), protocol.Request{Type: protocol.CaptureScreenshot})
	assert.Equal(t, "Failed to capture screenshot", resp.Error)
}

func TestDispatcher_UnknownType(t *testing.T) {
	f := newFixture(t)
	resp := f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: "BOGUS"})
	assert.False(t, resp.Success)
	assert.Equal(t, protocol.ErrUnknownType, resp.Error)
}

type panickyAuth struct{}

func (panickyAuth) CurrentUser(context.Context) (*remote.User, error) { panic("nil map") }

func (panickyAuth) SignIn(context.Context, string, string) (*types.AuthSession, error) {
	return nil, errors.New("Invalid login credentials")
}

func (panickyAuth) SignOut(context.Context) error { return nil }

func TestDispatcher_RecoversHandlerPanic(t *testing.T) {
	f := newFixture(t)
	f.d.deps.Auth = panickyAuth{}

	resp := f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.GetUser})
	assert.False(t, resp.Success)
	assert.Equal(t, "nil map", resp.Error)

	resp = f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.SignIn, Payload: &protocol.Payload{Email: "a@b.c"}})
	assert.Equal(t, "Missing email or password", resp.Error)

	resp = f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.SignIn, Payload: &protocol.Payload{Email: "a@b.c", Password: "x"}})
	assert.Equal(t, "Invalid login credentials", resp.Error)
}

func TestDispatcher_AuthWithoutRemote(t *testing.T) {
	f := newFixture(t)
	resp := f.d.Handle(testContext(t), protocol.Sender{}, protocol.Request{Type: protocol.SignOut})
	assert.False(t, resp.Success)
}

func TestDispatcher_RecordingDroppedIsBroadcast(t *testing.T) {
	f := newFixture(t)
	rec := types.QueuedRecording{ID: "q1", Title: "Lost", RetryCount: 3}

	f.d.RecordingDropped(testContext(t), rec)

	dropped := f.bus.ofType(protocol.SyncDropped)
	require.Len(t, dropped, 1)
	assert.Equal(t, "q1", dropped[0].Payload.Dropped.ID)

	entries, err := f.store.RecentAudit(testContext(t), 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "sync.dropped", entries[0].Action)
}

func TestDispatcher_InitRestoresBadge(t *testing.T) {
	store := openTestStore(t)
	state := types.RecordingState{
		IsRecording: true,
		ProcedureID: types.StringPtr("p"),
		Title:       types.StringPtr("Resumed"),
		Steps:       []types.CapturedStep{{ActionType: types.ActionClick}},
	}
	require.NoError(t, store.SaveRecording(testContext(t), state, types.IntPtr(1)))

	term := badge.NewTerminal(io.Discard)
	tabs := &pageTabs{engines: map[int]*capture.Engine{}, docs: map[int]*goquery.Document{}}
	pipe := syncer.New(config.SyncConfig{BatchSize: 1}, &stubRemote{}, stubObjects{}, store, nil, log.Discard())
	t.Cleanup(pipe.Close)
	d := New(Deps{Recorder: recording.New(store, tabs, log.Discard()), Sync: pipe, Tabs: tabs, Badge: term, Logger: log.Discard()})

	require.NoError(t, d.Init(testContext(t)))
	d.Wait()
	assert.Equal(t, badge.Recording, term.State())
	assert.Equal(t, "1", term.Text())
}

func TestDispatcher_QueueMaintenance(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	f.pipe.SetOnline(ctx, false)

	steps := []types.CapturedStep{{ActionType: types.ActionClick, ElementSelector: "#a"}}
	resp := f.d.Handle(ctx, protocol.Sender{}, protocol.Request{Type: protocol.SyncProcedure, Payload: &protocol.Payload{Title: "Later", Steps: steps}})
	assert.False(t, resp.Success)
	require.Equal(t, 1, f.pipe.QueueCount())

	f.pipe.SetOnline(ctx, true)
	resp = f.d.Handle(ctx, protocol.Sender{}, protocol.Request{Type: protocol.RetryQueue})
	require.True(t, resp.Success)
	left, _ := resp.Int("queueCount")
	assert.Zero(t, left)
	assert.Equal(t, []string{"Later"}, f.remote.titles())

	f.pipe.SetOnline(ctx, false)
	f.d.Handle(ctx, protocol.Sender{}, protocol.Request{Type: protocol.SyncProcedure, Payload: &protocol.Payload{Title: "Again", Steps: steps}})
	resp = f.d.Handle(ctx, protocol.Sender{}, protocol.Request{Type: protocol.ClearQueue})
	require.True(t, resp.Success)
	n, _ := resp.Int("cleared")
	assert.Equal(t, 1, n)
	assert.Zero(t, f.pipe.QueueCount())
}

// testContext stands in for t.Context, which needs Go 1.24: the context is
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
