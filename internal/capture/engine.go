// Package capture turns DOM events in one page into recorded steps and
// forwards them to the background.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/runnerr0/procedura/internal/badge"
	"github.com/runnerr0/procedura/internal/privacy"
	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/types"
)

// DefaultInputDebounce collapses a burst of keystrokes into one step.
const DefaultInputDebounce = 500 * time.Millisecond

// Messenger delivers requests to the background and returns its reply.
type Messenger interface {
	Send(ctx context.Context, req protocol.Request) protocol.Response
}

// EventType is a DOM event the engine listens for.
type EventType string

const (
	EventClick  EventType = "click"
	EventInput  EventType = "input"
	EventChange EventType = "change"
)

// Event is one DOM event delivered in the capturing phase.
type Event struct {
	Type    EventType
	Target  *goquery.Selection
	ClientX int
	ClientY int
	// Value is the control's current value for input and change events.
	Value string
}

// Page is the document the engine is attached to.
type Page struct {
	Doc   *goquery.Document
	URL   string
	Title string
}

// Config tunes an Engine. Zero values select defaults.
type Config struct {
	InputDebounce time.Duration
	ShowIndicator bool
	// CaptureDelay pauses before each screenshot so the page can repaint
	// after the interaction.
	CaptureDelay time.Duration
	// SensitiveURLs, when set, suppresses screenshots on matching pages.
	SensitiveURLs *privacy.URLMatcher
	Logger        *slog.Logger
	Now           func() time.Time
}

// Engine is the capture state of one page load. Recording state is local
// to the page and starts over on every load.
type Engine struct {
	page      Page
	messenger Messenger
	overlay   *badge.Overlay
	cfg       Config
	logger    *slog.Logger

	// mu guards the fields below and the page document.
	mu        sync.Mutex
	recording bool
	stepCount int
	pending   *pendingInput

	// sendMu keeps one screenshot+step exchange in flight per page.
	sendMu sync.Mutex
}

type pendingInput struct {
	target *goquery.Selection
	timer  *time.Timer
	ctx    context.Context
}

func New(page Page, messenger Messenger, cfg Config) *Engine {
	if cfg.InputDebounce <= 0 {
		cfg.InputDebounce = DefaultInputDebounce
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		page:      page,
		messenger: messenger,
		overlay:   badge.NewOverlay(page.Doc),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "capture"), slog.String("url", page.URL)),
	}
}

// Init asks the background for the recording status and starts capturing
// when a recording is already in progress, which is the case after a
// navigation mid-recording.
func (e *Engine) Init(ctx context.Context) {
	resp := e.messenger.Send(ctx, protocol.Request{Type: protocol.GetStatus})
	if !resp.Success || !resp.Bool("isRecording") {
		return
	}
	if n, ok := resp.Int("stepCount"); ok {
		e.mu.Lock()
		e.stepCount = n
		e.mu.Unlock()
	}
	e.Start()
}

// Start attaches the listeners and shows the indicator. No-op when
// already capturing.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recording {
		return
	}
	e.recording = true
	if e.cfg.ShowIndicator {
		e.overlay.Show()
		if e.stepCount > 0 {
			e.overlay.SetCount(e.stepCount)
		}
	}
	e.logger.Info("recording started")
}

// Stop detaches the listeners, drops any pending input and hides the
// indicator. No-op when not capturing.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.recording {
		return
	}
	e.recording = false
	e.stepCount = 0
	if e.pending != nil {
		e.pending.timer.Stop()
		e.pending = nil
	}
	e.overlay.Hide()
	e.logger.Info("recording stopped")
}

// Refresh swaps in a newer snapshot of the same page load. Live hosts
// call it before HandleEvent so the target resolves against the current DOM.
func (e *Engine) Refresh(page Page) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.page = page
	e.overlay = badge.NewOverlay(page.Doc)
	if e.recording && e.cfg.ShowIndicator {
		e.overlay.Show()
		if e.stepCount > 0 {
			e.overlay.SetCount(e.stepCount)
		}
	}
}

// Indicator reports whether the in-page indicator is shown and its label.
func (e *Engine) Indicator() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overlay.Visible(), e.overlay.Label()
}

// IsRecording reports whether listeners are attached.
func (e *Engine) IsRecording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recording
}

// StepCount is the number of steps the background acknowledged.
func (e *Engine) StepCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepCount
}

// HandleMessage processes messages addressed to the page. It reports
// false for message types the engine does not own.
func (e *Engine) HandleMessage(_ context.Context, req protocol.Request) (protocol.Response, bool) {
	if req.Type != protocol.RecordingStatus {
		return protocol.Response{}, false
	}
	if req.Payload != nil && req.Payload.IsRecording != nil && *req.Payload.IsRecording {
		e.Start()
	} else {
		e.Stop()
	}
	return protocol.OK(nil), true
}

// HandleEvent records ev if it qualifies. Clicks and select changes are
// forwarded before HandleEvent returns; inputs are debounced.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) {
	if ev.Target == nil || ev.Target.Length() == 0 {
		return
	}
	target := ev.Target.First()

	e.mu.Lock()
	if !e.recording {
		e.mu.Unlock()
		return
	}

	switch ev.Type {
	case EventClick:
		if target.Closest("#"+badge.IndicatorID).Length() > 0 {
			e.mu.Unlock()
			return
		}
		step := e.buildStep(target, types.ActionClick, &ev)
		e.mu.Unlock()
		e.send(ctx, step)

	case EventInput:
		if privacy.IsSensitiveField(target) {
			e.mu.Unlock()
			e.logger.Debug("skipping sensitive field", slog.String("value", privacy.MaskSensitiveValue(ev.Value)))
			return
		}
		e.schedule(ctx, target)
		e.mu.Unlock()

	case EventChange:
		if goquery.NodeName(target) != "select" || privacy.IsSensitiveField(target) {
			e.mu.Unlock()
			return
		}
		step := e.buildStep(target, types.ActionSelect, &ev)
		e.mu.Unlock()
		e.send(ctx, step)

	default:
		e.mu.Unlock()
	}
}

// schedule (re)arms the input debounce timer. Callers hold e.mu.
func (e *Engine) schedule(ctx context.Context, target *goquery.Selection) {
	if e.pending != nil {
		e.pending.timer.Stop()
	}
	p := &pendingInput{target: target, ctx: context.WithoutCancel(ctx)}
	p.timer = time.AfterFunc(e.cfg.InputDebounce, func() { e.fire(p) })
	e.pending = p
}

// Flush emits a pending debounced input immediately.
func (e *Engine) Flush(ctx context.Context) {
	e.mu.Lock()
	p := e.pending
	if p == nil {
		e.mu.Unlock()
		return
	}
	p.timer.Stop()
	e.mu.Unlock()
	e.fire(p)
}

func (e *Engine) fire(p *pendingInput) {
	e.mu.Lock()
	if e.pending != p || !e.recording {
		e.mu.Unlock()
		return
	}
	e.pending = nil
	step := e.buildStep(p.target, types.ActionInput, nil)
	e.mu.Unlock()
	e.send(p.ctx, step)
}

// send attaches a screenshot and forwards step to the background. A failed
// screenshot never drops the step.
func (e *Engine) send(ctx context.Context, step types.CapturedStep) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	if e.cfg.SensitiveURLs != nil && e.cfg.SensitiveURLs.Match(step.PageURL) {
		e.logger.Debug("sensitive page, sending step without screenshot")
	} else {
		if e.cfg.CaptureDelay > 0 {
			select {
			case <-time.After(e.cfg.CaptureDelay):
			case <-ctx.Done():
				return
			}
		}
		shot := e.messenger.Send(ctx, protocol.Request{Type: protocol.CaptureScreenshot})
		if url, ok := shot.String("screenshotDataUrl"); shot.Success && ok && url != "" {
			step.ScreenshotDataURL = url
		} else if !shot.Success {
			e.logger.Warn("screenshot failed", slog.String("error", shot.Error))
		}
	}

	resp := e.messenger.Send(ctx, protocol.Request{
		Type:    protocol.AddStep,
		Payload: &protocol.Payload{Step: &step},
	})
	if !resp.Success {
		e.logger.Error("failed to send step", slog.String("error", resp.Error))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := resp.Int("stepCount"); ok && n > 0 {
		e.stepCount = n
	} else {
		e.stepCount++
	}
	if e.recording && e.cfg.ShowIndicator {
		e.overlay.SetCount(e.stepCount)
	}
	e.logger.Debug("step captured", slog.String("actionType", string(step.ActionType)))
}
