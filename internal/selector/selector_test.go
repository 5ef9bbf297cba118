package selector

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><body>
<div id="app">
  <form>
    <input name="email" type="email">
    <input name="email" type="text">
    <input name="nickname">
    <button data-testid="submit-btn">Send</button>
  </form>
  <ul class="list items">
    <li>one</li><li class="hot">two</li><li>three</li>
  </ul>
</div>
<section><p>plain</p><p>also plain</p></section>
<span id="1st">digit id</span>
<a id="dup">a</a><a id="dup">b</a>
</body></html>`

func loadDoc(t *testing.T) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

// assertResolves checks that the generated selector re-identifies the element.
func assertResolves(t *testing.T, doc *goquery.Document, el *goquery.Selection) string {
	t.Helper()
	s := Generate(el)
	require.NotEmpty(t, s)
	found := doc.Find(s)
	require.Equal(t, 1, found.Length(), "selector %q should match exactly one element", s)
	assert.Same(t, el.Get(0), found.Get(0), "selector %q matched a different element", s)
	return s
}

func TestGenerate_PrefersUniqueID(t *testing.T) {
	doc := loadDoc(t)
	assert.Equal(t, "#app", assertResolves(t, doc, doc.Find("#app")))
}

func TestGenerate_DataTestID(t *testing.T) {
	doc := loadDoc(t)
	s := assertResolves(t, doc, doc.Find("button"))
	assert.Equal(t, `button[data-testid="submit-btn"]`, s)
}

func TestGenerate_UniqueName(t *testing.T) {
	doc := loadDoc(t)
	s := assertResolves(t, doc, doc.Find(`input[name="nickname"]`))
	assert.Equal(t, `input[name="nickname"]`, s)
}

func TestGenerate_DuplicateNameFallsBackToPath(t *testing.T) {
	doc := loadDoc(t)
	second := doc.Find(`input[name="email"]`).Eq(1)
	s := assertResolves(t, doc, second)
	assert.True(t, strings.HasPrefix(s, "#app > "), "path should anchor on the nearest id: %q", s)
	assert.Contains(t, s, "input:nth-of-type(2)")
}

func TestGenerate_ClassesAndPosition(t *testing.T) {
	doc := loadDoc(t)
	s := assertResolves(t, doc, doc.Find("li.hot"))
	assert.Equal(t, "#app > ul.list.items > li.hot:nth-of-type(2)", s)
}

func TestGenerate_BareElements(t *testing.T) {
	doc := loadDoc(t)
	s := assertResolves(t, doc, doc.Find("section p").Last())
	assert.Equal(t, "body > section > p:nth-of-type(2)", s)
}

func TestGenerate_DigitAndDuplicateIDsAreSkipped(t *testing.T) {
	doc := loadDoc(t)

	s := assertResolves(t, doc, doc.Find("span"))
	assert.NotContains(t, s, "#1st")

	s = assertResolves(t, doc, doc.Find("a").Last())
	assert.NotContains(t, s, "#dup")
}

func TestGenerate_Deterministic(t *testing.T) {
	doc := loadDoc(t)
	el := doc.Find("li").First()
	assert.Equal(t, Generate(el), Generate(el))
}

func TestGenerate_EmptySelection(t *testing.T) {
	doc := loadDoc(t)
	assert.Equal(t, "", Generate(doc.Find("table")))
	assert.Equal(t, "", Generate(nil))
}

func TestEscapeIdent(t *testing.T) {
	assert.Equal(t, `md\:flex`, escapeIdent("md:flex"))
	assert.Equal(t, `w-1\/2`, escapeIdent("w-1/2"))
	assert.Equal(t, `\31 0px`, escapeIdent("10px"))
}
