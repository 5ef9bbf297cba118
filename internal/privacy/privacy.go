// Package privacy classifies form fields and URLs that must never be
// recorded verbatim. The checks are heuristics: false negatives are
// possible.
package privacy

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var sensitiveInputTypes = map[string]bool{
	"password":    true,
	"credit-card": true,
	"cc-number":   true,
	"cc-exp":      true,
	"cc-csc":      true,
	"card-number": true,
}

var sensitiveAutocomplete = map[string]bool{
	"current-password": true,
	"new-password":     true,
	"cc-number":        true,
	"cc-exp":           true,
	"cc-exp-month":     true,
	"cc-exp-year":      true,
	"cc-csc":           true,
	"cc-type":          true,
}

// sensitivePatterns cover credentials, payment data and personal ids,
// including the Brazilian CPF/CNPJ.
var sensitivePatterns = compile(
	`password`, `senha`, `pwd`, `secret`,
	`credit.?card`, `cartao`, `cvv`, `cvc`,
	`ssn`, `social.?security`, `cpf`, `cnpj`,
	`pin`, `otp`, `token`, `api.?key`,
)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

// IsSensitiveField reports whether el is an input or textarea whose type,
// autocomplete hint, name, id, placeholder, aria-label or label text marks
// it as holding sensitive data.
func IsSensitiveField(el *goquery.Selection) bool {
	if el == nil || el.Length() == 0 {
		return false
	}
	el = el.First()
	tag := goquery.NodeName(el)
	if tag != "input" && tag != "textarea" {
		return false
	}

	if t, ok := el.Attr("type"); ok && sensitiveInputTypes[strings.ToLower(t)] {
		return true
	}
	if ac, ok := el.Attr("autocomplete"); ok {
		for _, tok := range strings.Fields(strings.ToLower(ac)) {
			if sensitiveAutocomplete[tok] {
				return true
			}
		}
	}

	for _, key := range []string{"name", "id", "placeholder", "aria-label"} {
		if v, ok := el.Attr(key); ok && matchesAny(v) {
			return true
		}
	}
	return matchesAny(LabelText(el))
}

// LabelText returns the trimmed text of the label associated with el: a
// label whose for attribute names el's id, else the label enclosing el.
func LabelText(el *goquery.Selection) string {
	if id, ok := el.Attr("id"); ok && id != "" {
		root := documentRoot(el)
		found := ""
		root.Find("label").EachWithBreak(func(_ int, l *goquery.Selection) bool {
			if f, _ := l.Attr("for"); f == id {
				found = strings.TrimSpace(l.Text())
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	if l := el.Closest("label"); l.Length() > 0 {
		return strings.TrimSpace(l.Text())
	}
	return ""
}

func matchesAny(s string) bool {
	if s == "" {
		return false
	}
	for _, re := range sensitivePatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func documentRoot(el *goquery.Selection) *goquery.Selection {
	top := el.Get(0)
	for top.Parent != nil {
		top = top.Parent
	}
	return goquery.NewDocumentFromNode(top).Selection
}

// MaskSensitiveValue hides most of value. Card-like numbers (13 to 19
// digits once spaces and dashes are removed) keep their last four digits;
// values of up to six characters are fully masked; anything longer keeps
// three characters on each end.
func MaskSensitiveValue(value string) string {
	digits := strings.NewReplacer(" ", "", "-", "").Replace(value)
	if n := len(digits); n >= 13 && n <= 19 && allDigits(digits) {
		return strings.Repeat("*", n-4) + digits[n-4:]
	}

	r := []rune(value)
	if len(r) <= 6 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:3]) + strings.Repeat("*", len(r)-6) + string(r[len(r)-3:])
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
