package badge

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// IndicatorID is the id of the in-page recording indicator.
const IndicatorID = "proceduraai-indicator"

const indicatorLabel = "Gravando..."

const indicatorMarkup = `<div id="` + IndicatorID + `" style="position: fixed; top: 12px; right: 12px; z-index: 2147483647; pointer-events: none;">` +
	`<div class="proceduraai-dot"></div><span>` + indicatorLabel + `</span></div>`

// Overlay manages the recording indicator inside one page document.
type Overlay struct {
	doc *goquery.Document
}

func NewOverlay(doc *goquery.Document) *Overlay {
	return &Overlay{doc: doc}
}

// Show inserts the indicator. A second call leaves a single indicator.
func (o *Overlay) Show() {
	if o.Visible() {
		return
	}
	o.doc.Find("body").First().AppendHtml(indicatorMarkup)
}

// Hide removes the indicator if present.
func (o *Overlay) Hide() {
	o.doc.Find("#" + IndicatorID).Remove()
}

// Visible reports whether the indicator is in the page.
func (o *Overlay) Visible() bool {
	return o.doc.Find("#"+IndicatorID).Length() > 0
}

// SetCount updates the indicator label with the running step count.
func (o *Overlay) SetCount(n int) {
	o.doc.Find("#" + IndicatorID + " span").First().SetText(fmt.Sprintf("%s (%d passos)", indicatorLabel, n))
}

// Label returns the indicator's current text, or "" when hidden.
func (o *Overlay) Label() string {
	return o.doc.Find("#" + IndicatorID + " span").First().Text()
}
