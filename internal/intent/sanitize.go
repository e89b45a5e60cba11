// Package intent classifies user turns and extracts fields from them.
// Deterministic regex rules run first; the LLM is a fallback bound to a
// strict JSON contract, and anything outside the contract collapses to
// UNKNOWN. All text headed for the LLM passes through the sanitiser.
package intent

import (
	"regexp"
	"strings"
)

// FilteredMarker replaces detected injection markers in LLM input.
const FilteredMarker = "[FILTERED]"

// escapeSeqRe finds literal two-character escape sequences (a backslash
// followed by n, t, or r) inside user text. These are collapsed to spaces so
// an attacker cannot smuggle line structure into the prompt.
var escapeSeqRe = regexp.MustCompile(`\\[ntr]`)

// injectionRe matches the known prompt-injection markers. Detection is
// case-insensitive, and replacement uses the same match, so the two stay in
// lockstep by construction.
var injectionRe = regexp.MustCompile(`(?i)(ignore previous instructions|<\|assistant\|>|\[assistant\]|\bsystem:|\bassistant:)`)

// Sanitizer prepares user text for an outbound LLM call. Sanitize is
// idempotent: applying it twice yields the same output as applying it once.
type Sanitizer struct {
	max int
}

// NewSanitizer creates a Sanitizer with the given maximum input length in
// runes. Non-positive values fall back to 1000.
func NewSanitizer(max int) *Sanitizer {
	if max <= 0 {
		max = 1000
	}
	return &Sanitizer{max: max}
}

// Sanitize collapses literal escape sequences to spaces, filters injection
// markers to [FILTERED], and truncates to the configured maximum. Filtering
// and truncation alternate until stable, because replacing a short marker
// with the longer [FILTERED] can push the text back over the limit and a cut
// can expose a marker at the new boundary.
func (s *Sanitizer) Sanitize(text string) string {
	text = escapeSeqRe.ReplaceAllString(text, " ")
	for {
		text = injectionRe.ReplaceAllString(text, FilteredMarker)
		runes := []rune(text)
		if len(runes) <= s.max {
			return text
		}
		text = strings.TrimSpace(string(runes[:s.max]))
	}
}
