package privacy

import (
	"strings"

	"github.com/runnerr0/procedura/internal/config"
)

// URLMatcher flags URLs of sign-in, password and payment pages.
type URLMatcher struct {
	patterns []string
}

// NewURLMatcher builds a matcher over path fragments. Matching is
// case-insensitive.
func NewURLMatcher(patterns []string) *URLMatcher {
	m := &URLMatcher{}
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			m.patterns = append(m.patterns, strings.ToLower(p))
		}
	}
	return m
}

// Match reports whether url contains one of the patterns.
func (m *URLMatcher) Match(url string) bool {
	u := strings.ToLower(url)
	for _, p := range m.patterns {
		if strings.Contains(u, p) {
			return true
		}
	}
	return false
}

var defaultMatcher = NewURLMatcher(config.DefaultSensitiveURLPatterns())

// ContainsSensitiveURL reports whether url looks like a login, checkout or
// payment page.
func ContainsSensitiveURL(url string) bool {
	return defaultMatcher.Match(url)
}
