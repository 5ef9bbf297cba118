package capture

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/runnerr0/procedura/internal/selector"
	"github.com/runnerr0/procedura/internal/types"
)

// maxTextLen bounds the text content used to describe generic elements.
const maxTextLen = 100

// buildStep snapshots target into a step. Callers hold e.mu.
func (e *Engine) buildStep(target *goquery.Selection, action types.ActionType, ev *Event) types.CapturedStep {
	step := types.CapturedStep{
		ActionType:      action,
		ElementSelector: selector.Generate(target),
		ElementText:     elementText(target, ev),
		ElementTag:      goquery.NodeName(target),
		PageURL:         e.page.URL,
		PageTitle:       e.page.Title,
		CapturedAt:      types.Timestamp(e.cfg.Now()),
	}
	if action == types.ActionClick && ev != nil {
		step.ClickX = types.IntPtr(ev.ClientX)
		step.ClickY = types.IntPtr(ev.ClientY)
	}
	return step
}

// elementText returns a human-readable description of el, or nil.
func elementText(el *goquery.Selection, ev *Event) *string {
	switch goquery.NodeName(el) {
	case "input", "textarea":
		if id, ok := el.Attr("id"); ok && id != "" {
			if label := labelFor(el, id); label != nil {
				return nonEmpty(strings.TrimSpace(label.Text()))
			}
		}
		if v := el.AttrOr("placeholder", ""); v != "" {
			return &v
		}
		return nonEmpty(el.AttrOr("name", ""))

	case "button", "a":
		if t := strings.TrimSpace(el.Text()); t != "" {
			return &t
		}
		return nonEmpty(el.AttrOr("title", ""))

	case "select":
		return nonEmpty(selectedOptionText(el, ev))
	}

	t := strings.TrimSpace(el.Text())
	if t == "" || utf8.RuneCountInString(t) >= maxTextLen {
		return nil
	}
	return &t
}

func labelFor(el *goquery.Selection, id string) *goquery.Selection {
	top := el.Get(0)
	for top.Parent != nil {
		top = top.Parent
	}
	var found *goquery.Selection
	goquery.NewDocumentFromNode(top).Find("label").EachWithBreak(func(_ int, l *goquery.Selection) bool {
		if l.AttrOr("for", "") == id {
			found = l
			return false
		}
		return true
	})
	return found
}

// selectedOptionText returns the visible text of the chosen option. The
// event value wins over the markup; without either the first option is
// selected, as in a browser.
func selectedOptionText(el *goquery.Selection, ev *Event) string {
	options := el.Find("option")
	if ev != nil && ev.Value != "" {
		var text string
		options.EachWithBreak(func(_ int, o *goquery.Selection) bool {
			v, ok := o.Attr("value")
			if !ok {
				v = strings.TrimSpace(o.Text())
			}
			if v == ev.Value {
				text = strings.TrimSpace(o.Text())
				return false
			}
			return true
		})
		if text != "" {
			return text
		}
	}
	if sel := options.FilterFunction(func(_ int, o *goquery.Selection) bool {
		_, ok := o.Attr("selected")
		return ok
	}); sel.Length() > 0 {
		return strings.TrimSpace(sel.First().Text())
	}
	return strings.TrimSpace(options.First().Text())
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
