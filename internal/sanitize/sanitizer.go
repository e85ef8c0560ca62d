// Package sanitize redacts secret material from execution output before it
// leaves the service.
package sanitize

import (
	"sort"
	"strings"
)

// Sanitizer replaces exact occurrences of known secret values in text.
type Sanitizer struct {
	values []string // descending length
}

// New builds a Sanitizer over the plaintext credential values scoped to
// one execution. Values are applied longest-first so short secrets cannot
// shadow substrings of longer ones.
func New(values []string) *Sanitizer {
	sorted := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			sorted = append(sorted, v)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})
	return &Sanitizer{values: sorted}
}

// FromMap builds a Sanitizer from a credential name → value map.
func FromMap(credentials map[string]string) *Sanitizer {
	values := make([]string, 0, len(credentials))
	for _, v := range credentials {
		values = append(values, v)
	}
	return New(values)
}

// Apply redacts every exact secret occurrence in text. The second return
// reports whether any redaction fired.
func (s *Sanitizer) Apply(text string) (string, bool) {
	if text == "" || len(s.values) == 0 {
		return text, false
	}

	fired := false
	for _, v := range s.values {
		if !strings.Contains(text, v) {
			continue
		}
		text = strings.ReplaceAll(text, v, placeholder(v))
		fired = true
	}
	return text, fired
}

// placeholder keeps the last four characters of longer secrets so an
// operator can tell which credential leaked.
func placeholder(value string) string {
	if len(value) <= 4 {
		return "[REDACTED]"
	}
	return "[REDACTED..." + value[len(value)-4:] + "]"
}
