package redact

import "strings"

// Utterance token sets. Matching is case-insensitive on the trimmed message;
// a cancellation or confirmation must be the entire utterance, not a
// substring, so "stop deleting Bob" is not a cancellation.
var (
	cancellationTokens = map[string]struct{}{
		"cancel": {}, "abort": {}, "stop": {},
	}
	affirmativeTokens = map[string]struct{}{
		"yes": {}, "y": {}, "confirm": {}, "proceed": {},
	}
	negativeTokens = map[string]struct{}{
		"no": {}, "n": {}, "cancel": {}, "abort": {},
	}
)

// normalizeUtterance lowercases and trims an utterance, dropping a single
// trailing terminator so "yes." and "yes!" still confirm.
func normalizeUtterance(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!")
	return strings.TrimSpace(s)
}

// IsCancellation reports whether s is a cancellation utterance.
func IsCancellation(s string) bool {
	_, ok := cancellationTokens[normalizeUtterance(s)]
	return ok
}

// IsAffirmative reports whether s confirms a pending action.
func IsAffirmative(s string) bool {
	_, ok := affirmativeTokens[normalizeUtterance(s)]
	return ok
}

// IsNegative reports whether s declines a pending action.
func IsNegative(s string) bool {
	_, ok := negativeTokens[normalizeUtterance(s)]
	return ok
}
