package browser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/runnerr0/procedura/internal/capture"
)

// eventPayload is what the bootstrap script sends through the binding.
type eventPayload struct {
	Type   string `json:"type"`
	Marker string `json:"marker"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Value  string `json:"value"`
}

func decodeEvent(raw string) (eventPayload, error) {
	var p eventPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("decode page event: %w", err)
	}
	switch capture.EventType(p.Type) {
	case capture.EventClick, capture.EventInput, capture.EventChange:
	default:
		return p, fmt.Errorf("unsupported page event %q", p.Type)
	}
	if p.Marker == "" {
		return p, fmt.Errorf("page event without target marker")
	}
	return p, nil
}

// resolveEvent parses a DOM snapshot and locates the marked event target.
// The marker attribute is stripped from the returned document.
func resolveEvent(html string, p eventPayload) (*goquery.Document, capture.Event, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, capture.Event{}, fmt.Errorf("parse snapshot: %w", err)
	}
	sel := doc.Find(`[` + markerAttr + `="` + p.Marker + `"]`).First()
	if sel.Length() == 0 {
		return nil, capture.Event{}, fmt.Errorf("event target %s not in snapshot", p.Marker)
	}
	doc.Find(`[` + markerAttr + `]`).RemoveAttr(markerAttr)
	return doc, capture.Event{
		Type:    capture.EventType(p.Type),
		Target:  sel,
		ClientX: p.X,
		ClientY: p.Y,
		Value:   p.Value,
	}, nil
}

// pickActive returns the first regular page target, which Chrome lists
// most recently focused first.
func pickActive(infos []*target.Info) *target.Info {
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		if strings.HasPrefix(info.URL, "devtools://") {
			continue
		}
		return info
	}
	return nil
}

// jpegQuality matches the 0.8 canvas quality of in-page compression.
const jpegQuality = 80

// screenshotParams builds the CDP capture for the visible viewport.
func screenshotParams(compress bool) (*page.CaptureScreenshotParams, string) {
	if compress {
		return page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(jpegQuality), "image/jpeg"
	}
	return page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng), "image/png"
}

func dataURL(mime string, buf []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(buf)
}

func jsBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

// parseSnapshot parses a DOM snapshot with any target markers removed.
func parseSnapshot(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	doc.Find(`[` + markerAttr + `]`).RemoveAttr(markerAttr)
	return doc, nil
}
