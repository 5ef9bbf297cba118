// Package selector builds CSS selectors that re-identify an element in a
// page.
package selector

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// maxClasses bounds how many classes go into one path segment.
const maxClasses = 2

// Generate returns a selector for the first element of sel. Preference
// order: a unique id, a unique data-testid, a unique form name, then a
// structural path from the nearest anchored ancestor. It never fails on
// bare elements and returns "" only for an empty selection.
func Generate(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	n := sel.Get(0)
	if n.Type != html.ElementNode {
		return ""
	}
	root := documentRoot(n)
	el := sel.First()

	if s, ok := byID(root, el); ok {
		return s
	}
	tag := n.Data
	if v, ok := el.Attr("data-testid"); ok && v != "" {
		if s := fmt.Sprintf(`%s[data-testid="%s"]`, tag, quoteAttr(v)); unique(root, s) {
			return s
		}
	}
	if isFormControl(tag) {
		if v, ok := el.Attr("name"); ok && v != "" {
			if s := fmt.Sprintf(`%s[name="%s"]`, tag, quoteAttr(v)); unique(root, s) {
				return s
			}
		}
	}
	return structuralPath(root, n)
}

// segment is one element in a structural path.
type segment struct {
	tagName string
	classes []string
	nth     int // 1-based :nth-of-type, 0 when the tag is alone among siblings
}

func (s segment) string() string {
	out := s.tagName
	for _, cl := range s.classes {
		out += "." + escapeIdent(cl)
	}
	if s.nth > 0 {
		out += fmt.Sprintf(":nth-of-type(%d)", s.nth)
	}
	return out
}

type path []segment

func (p path) string() string {
	parts := make([]string, 0, len(p))
	for _, s := range p {
		parts = append(parts, s.string())
	}
	return strings.Join(parts, " > ")
}

func structuralPath(root *goquery.Selection, n *html.Node) string {
	var p path
	anchor := ""
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if cur != n {
			if s, ok := byID(root, goquery.NewDocumentFromNode(cur).Selection); ok {
				anchor = s
				break
			}
		}
		p = append(p, newSegment(cur))
		if cur.Data == "body" || cur.Data == "html" {
			break
		}
	}

	// reverse into root-to-leaf order
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
	if anchor != "" {
		return anchor + " > " + p.string()
	}
	return p.string()
}

func newSegment(n *html.Node) segment {
	s := segment{tagName: n.Data}
	if n.Data != "body" && n.Data != "html" {
		for _, cl := range strings.Fields(attr(n, "class")) {
			if len(s.classes) == maxClasses {
				break
			}
			s.classes = append(s.classes, cl)
		}
	}
	if n.Parent == nil {
		return s
	}
	idx, count := 0, 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != n.Data {
			continue
		}
		count++
		if c == n {
			idx = count
		}
	}
	if count > 1 {
		s.nth = idx
	}
	return s
}

func byID(root, el *goquery.Selection) (string, bool) {
	id, ok := el.Attr("id")
	if !ok || id == "" || strings.ContainsAny(id, " \t\n") || unicode.IsDigit(rune(id[0])) {
		return "", false
	}
	s := "#" + escapeIdent(id)
	return s, unique(root, s)
}

func unique(root *goquery.Selection, selector string) bool {
	return root.Find(selector).Length() == 1
}

func documentRoot(n *html.Node) *goquery.Selection {
	top := n
	for top.Parent != nil {
		top = top.Parent
	}
	return goquery.NewDocumentFromNode(top).Selection
}

func isFormControl(tag string) bool {
	switch tag {
	case "input", "select", "textarea", "button":
		return true
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// escapeIdent escapes characters that would otherwise end a CSS identifier.
func escapeIdent(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case i == 0 && unicode.IsDigit(r):
			fmt.Fprintf(&b, `\3%c `, r)
		case strings.ContainsRune(`:>[]/!%.#()+~*=,'"@$^&|{}`, r):
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func quoteAttr(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
