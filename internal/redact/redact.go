// Package redact centralises the PII rules for HydroChat: NRIC validation
// and masking, bearer-token redaction, and the slog handler that enforces
// both at the formatter boundary.
//
// Masking is applied wherever text leaves the process — log records, stored
// tool snapshots, and user-facing replies — so call sites never need to
// remember to mask.
package redact

import (
	"regexp"
	"strings"
)

// nricPattern is the agent-side NRIC policy. It is deliberately stricter
// than the backend, which accepts any value up to nine characters.
const nricPattern = `^[STFG]\d{7}[A-Z]$`

var (
	nricRe = regexp.MustCompile(nricPattern)

	// nricScanRe finds NRIC-shaped substrings inside free text. Used by the
	// boundary masker; the anchored nricRe is used for field validation.
	nricScanRe = regexp.MustCompile(`\b[STFG]\d{7}[A-Z]\b`)
)

// NRICPattern returns the validation pattern source, for callers that want
// to embed it in a user-facing format hint.
func NRICPattern() string { return nricPattern }

// ValidNRIC reports whether s satisfies the agent NRIC policy.
func ValidNRIC(s string) bool {
	return nricRe.MatchString(s)
}

// MaskNRIC replaces the middle six characters of a nine-character NRIC with
// asterisks: S1234567A becomes S******7A. Values of any other length are
// returned fully masked so a malformed identifier can never leak.
func MaskNRIC(s string) string {
	if len(s) == 9 {
		return s[:1] + "******" + s[7:]
	}
	return strings.Repeat("*", len(s))
}

// MaskText masks every NRIC-shaped substring in text. Non-matching text is
// returned unchanged.
func MaskText(text string) string {
	return nricScanRe.ReplaceAllStringFunc(text, MaskNRIC)
}

// Token redacts an opaque secret to its first four characters plus "***".
// Secrets of four characters or fewer redact entirely.
func Token(tok string) string {
	if tok == "" {
		return ""
	}
	if len(tok) <= 4 {
		return "***"
	}
	return tok[:4] + "***"
}

// Secret removes every occurrence of secret from text, substituting the
// redacted form. A blank secret leaves text unchanged.
func Secret(text, secret string) string {
	if secret == "" {
		return text
	}
	return strings.ReplaceAll(text, secret, Token(secret))
}
