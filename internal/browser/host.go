// Package browser attaches the capture engine to tabs of a running Chrome
// through the DevTools protocol and serves screenshots and tab lookups to
// the background.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/runnerr0/procedura/internal/capture"
	"github.com/runnerr0/procedura/internal/config"
	"github.com/runnerr0/procedura/internal/protocol"
)

// ErrUnknownTab is returned for tab ids the host has not seen.
var ErrUnknownTab = errors.New("unknown tab")

// MessengerFunc returns the channel a tab's capture engine talks to the
// background through.
type MessengerFunc func(tabID int) capture.Messenger

// NavigateFunc is told when a tab's main frame navigates.
type NavigateFunc func(ctx context.Context, tabID int, url string)

type tab struct {
	id       int
	targetID target.ID
	ctx      context.Context
	cancel   context.CancelFunc
	engine   *capture.Engine
}

// Host holds the DevTools connection. Tab ids are small integers assigned
// in the order targets are first seen.
type Host struct {
	allocCtx      context.Context
	cancelAlloc   context.CancelFunc
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	engineCfg     capture.Config
	logger        *slog.Logger

	mu         sync.Mutex
	messenger  MessengerFunc
	onNavigate NavigateFunc
	ids        map[target.ID]int
	tabs       map[int]*tab
	nextID     int
	compress   bool
}

// Connect attaches to the browser at cfg.DevToolsURL.
func Connect(ctx context.Context, cfg config.BrowserConfig, engineCfg capture.Config, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), cfg.DevToolsURL)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("connect to browser at %s: %w", cfg.DevToolsURL, err)
	}
	h := &Host{
		allocCtx:      allocCtx,
		cancelAlloc:   cancelAlloc,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		engineCfg:     engineCfg,
		logger:        logger.With(slog.String("component", "browser")),
		ids:           map[target.ID]int{},
		tabs:          map[int]*tab{},
		nextID:        1,
	}
	h.logger.Info("connected to browser", slog.String("url", cfg.DevToolsURL))
	return h, nil
}

// SetMessenger wires tab engines to the background. It must be called
// before the first Inject.
func (h *Host) SetMessenger(fn MessengerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messenger = fn
}

// OnNavigate registers the handler for main-frame navigations of attached
// tabs.
func (h *Host) OnNavigate(fn NavigateFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onNavigate = fn
}

// Close detaches from every tab and the browser.
func (h *Host) Close() {
	h.mu.Lock()
	for _, t := range h.tabs {
		if t.cancel != nil {
			t.cancel()
		}
	}
	h.tabs = map[int]*tab{}
	h.mu.Unlock()
	h.cancelBrowser()
	h.cancelAlloc()
}

// idFor returns the tab id for a target, assigning one when new. Callers
// hold h.mu.
func (h *Host) idFor(tid target.ID) int {
	if id, ok := h.ids[tid]; ok {
		return id
	}
	id := h.nextID
	h.nextID++
	h.ids[tid] = id
	h.tabs[id] = &tab{id: id, targetID: tid}
	return id
}

// ActiveTab returns the id of the focused page, or nil when the browser
// has no page open.
func (h *Host) ActiveTab(ctx context.Context) (*int, error) {
	infos, err := chromedp.Targets(h.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	info := pickActive(infos)
	if info == nil {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.idFor(info.TargetID)
	return &id, nil
}

// session returns the tab with a live DevTools session, opening one on
// first use.
func (h *Host) session(tabID int) (*tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[tabID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTab, tabID)
	}
	if t.ctx == nil {
		t.ctx, t.cancel = chromedp.NewContext(h.browserCtx, chromedp.WithTargetID(t.targetID))
		chromedp.ListenTarget(t.ctx, func(ev any) { h.onTargetEvent(t, ev) })
	}
	return t, nil
}

// SetCompression switches screenshots between lossless PNG and JPEG.
func (h *Host) SetCompression(on bool) {
	h.mu.Lock()
	h.compress = on
	h.mu.Unlock()
}

// CaptureScreenshot returns the visible area of the tab as a data URL.
func (h *Host) CaptureScreenshot(ctx context.Context, tabID int) (string, error) {
	t, err := h.session(tabID)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	params, mime := screenshotParams(h.compress)
	h.mu.Unlock()

	var buf []byte
	err = chromedp.Run(t.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	return dataURL(mime, buf), nil
}

// Inject installs the event bridge in the tab and starts a capture engine
// for its current page. Re-injecting after a navigation replaces the
// engine.
func (h *Host) Inject(ctx context.Context, tabID int) error {
	t, err := h.session(tabID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	messenger := h.messenger
	h.mu.Unlock()
	if messenger == nil {
		return errors.New("browser host has no messenger")
	}

	err = chromedp.Run(t.ctx,
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bootstrapJS).Do(ctx)
			return err
		}),
		chromedp.Evaluate(bootstrapJS, nil),
	)
	if err != nil {
		return fmt.Errorf("inject into tab %d: %w", tabID, err)
	}

	pg, err := h.snapshot(t)
	if err != nil {
		return err
	}
	engine := capture.New(pg, messenger(tabID), h.engineCfg)

	h.mu.Lock()
	old := t.engine
	t.engine = engine
	h.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	engine.Init(ctx)
	h.syncIndicator(t)
	h.logger.Debug("capture engine attached", slog.Int("tabId", tabID), slog.String("url", pg.URL))
	return nil
}

// Notify delivers req to the tab's capture engine.
func (h *Host) Notify(ctx context.Context, tabID int, req protocol.Request) error {
	h.mu.Lock()
	t, ok := h.tabs[tabID]
	var engine *capture.Engine
	if ok {
		engine = t.engine
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTab, tabID)
	}
	if engine == nil {
		return fmt.Errorf("tab %d has no capture engine", tabID)
	}
	resp, handled := engine.HandleMessage(ctx, req)
	if !handled {
		return fmt.Errorf("tab %d does not handle %s", tabID, req.Type)
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	h.syncIndicator(t)
	return nil
}

func readDOM(t *tab) (html, url, title string, err error) {
	err = chromedp.Run(t.ctx,
		chromedp.Location(&url),
		chromedp.Title(&title),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return "", "", "", fmt.Errorf("snapshot tab %d: %w", t.id, err)
	}
	return html, url, title, nil
}

func (h *Host) snapshot(t *tab) (capture.Page, error) {
	html, url, title, err := readDOM(t)
	if err != nil {
		return capture.Page{}, err
	}
	doc, err := parseSnapshot(html)
	if err != nil {
		return capture.Page{}, err
	}
	return capture.Page{Doc: doc, URL: url, Title: title}, nil
}

// onTargetEvent runs on the DevTools event loop and must not block.
func (h *Host) onTargetEvent(t *tab, ev any) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name != bindingName {
			return
		}
		go h.handlePageEvent(t, e.Payload)
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		h.mu.Lock()
		fn := h.onNavigate
		h.mu.Unlock()
		if fn != nil {
			go fn(context.WithoutCancel(t.ctx), t.id, e.Frame.URL)
		}
	}
}

func (h *Host) handlePageEvent(t *tab, raw string) {
	logger := h.logger.With(slog.Int("tabId", t.id))
	p, err := decodeEvent(raw)
	if err != nil {
		logger.Warn("dropping page event", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	engine := t.engine
	h.mu.Unlock()
	if engine == nil || !engine.IsRecording() {
		return
	}

	html, url, title, err := readDOM(t)
	if err != nil {
		logger.Warn("snapshot failed", slog.String("error", err.Error()))
		return
	}
	doc, ev, err := resolveEvent(html, p)
	if err != nil {
		logger.Warn("dropping page event", slog.String("error", err.Error()))
		return
	}

	ctx := context.WithoutCancel(t.ctx)
	engine.Refresh(capture.Page{Doc: doc, URL: url, Title: title})
	engine.HandleEvent(ctx, ev)
	h.syncIndicator(t)
}

// syncIndicator mirrors the engine's overlay into the live page.
func (h *Host) syncIndicator(t *tab) {
	h.mu.Lock()
	engine := t.engine
	h.mu.Unlock()
	if engine == nil || t.ctx == nil {
		return
	}
	visible, label := engine.Indicator()
	if err := chromedp.Run(t.ctx, chromedp.Evaluate(indicatorJS(visible, label), nil)); err != nil {
		h.logger.Debug("indicator update failed", slog.Int("tabId", t.id), slog.String("error", err.Error()))
	}
}
