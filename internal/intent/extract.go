package intent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/hydrosense/hydrochat/internal/observe"
	"github.com/hydrosense/hydrochat/internal/redact"
	"github.com/hydrosense/hydrochat/internal/state"
	"github.com/hydrosense/hydrochat/pkg/provider/llm"
)

// Field names used across extraction, validation, and the clarification
// loop. FieldPatient is the patient reference (name or id) for operations
// that target an existing record.
const (
	FieldFirstName   = "first_name"
	FieldLastName    = "last_name"
	FieldNRIC        = "nric"
	FieldDateOfBirth = "date_of_birth"
	FieldContactNo   = "contact_no"
	FieldDetails     = "details"
	FieldPatient     = "patient"
)

// DateFormat is the only accepted date-of-birth layout.
const DateFormat = "2006-01-02"

var (
	nricFindRe = regexp.MustCompile(`\b[STFG]\d{7}[A-Z]\b`)

	// nameAfterVerbRe captures up to two capitalised tokens following a
	// recognised verb, optionally skipping the word "patient". Verbs match
	// case-insensitively; the name tokens must be capitalised.
	nameAfterVerbRe = regexp.MustCompile(`(?:(?i:create|add|new|update|change|modify|edit|delete|remove|del|show|get|for)\s+(?i:patient\s+)?)([A-Z][a-z]+)(?:\s+([A-Z][a-z]+))?`)

	// patientNumRe captures a numeric patient reference.
	patientNumRe = regexp.MustCompile(`(?i)\bpatient\s+(\d+)\b`)

	// renameRe captures a replacement name in an update ("... to Jane Tan").
	renameRe = regexp.MustCompile(`\bto\s+([A-Z][a-z]+)\s+([A-Z][a-z]+)\b`)

	contactRe    = regexp.MustCompile(`(?i)\b(?:contact|phone|mobile)\b\D{0,15}?(\+?\d[\d\s-]{6,}\d)`)
	dateRe       = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	dobKeywordRe = regexp.MustCompile(`(?i)\b(?:date of birth|dob|born)\b`)
	detailsRe2   = regexp.MustCompile(`(?i)\bdetails?\s*[:,]?\s+(.+)$`)

	bareNumberRe = regexp.MustCompile(`^\+?[\d\s-]+$`)
	capTokenRe   = regexp.MustCompile(`^([A-Z][a-z]+)(?:\s+([A-Z][a-z]+))?$`)
)

// extractorSystemPrompt binds the extraction fallback to a flat JSON object.
const extractorSystemPrompt = `You extract fields from a clinician's message for a patient-records assistant.
Reply with a single JSON object and nothing else, mapping only fields actually present in the message.
Allowed keys: first_name, last_name, nric, date_of_birth, contact_no, details, patient.
Dates must be YYYY-MM-DD. Never invent values; omit anything not stated.`

// RequiredFields returns the canonical ordered required set for an intent.
func RequiredFields(i state.Intent) []string {
	switch i {
	case state.IntentCreatePatient:
		return []string{FieldFirstName, FieldLastName, FieldNRIC}
	case state.IntentUpdatePatient, state.IntentDeletePatient,
		state.IntentGetPatientDetails, state.IntentGetScanResults:
		return []string{FieldPatient}
	default:
		return nil
	}
}

// UpdatableFields lists the patient fields an update may change.
var UpdatableFields = []string{
	FieldFirstName, FieldLastName, FieldNRIC, FieldDateOfBirth, FieldContactNo, FieldDetails,
}

// Extractor parses fields from user text. Each regex step is independent;
// the LLM fallback fills required fields the patterns missed.
type Extractor struct {
	provider  llm.Provider
	sanitizer *Sanitizer
	metrics   *observe.Metrics
}

// NewExtractor creates an Extractor. provider and metrics may be nil.
func NewExtractor(provider llm.Provider, sanitizer *Sanitizer, metrics *observe.Metrics) *Extractor {
	if sanitizer == nil {
		sanitizer = NewSanitizer(0)
	}
	return &Extractor{provider: provider, sanitizer: sanitizer, metrics: metrics}
}

// Extract parses message for st.Intent, populating ExtractedFields and
// ValidatedFields and recomputing PendingFields against the intent's
// required set. A fresh turn starts from empty maps.
func (e *Extractor) Extract(ctx context.Context, st *state.ConversationState, message string) {
	st.ExtractedFields = map[string]string{}
	st.ValidatedFields = map[string]string{}

	e.extractPatterns(st, message)

	st.PendingFields = missingRequired(st)
	if len(st.PendingFields) > 0 && e.provider != nil {
		e.extractLLM(ctx, st, message)
		st.PendingFields = missingRequired(st)
	}
}

// extractPatterns runs the deterministic extraction steps. Each step is
// independent of the others.
func (e *Extractor) extractPatterns(st *state.ConversationState, message string) {
	// NRIC.
	if m := nricFindRe.FindString(message); m != "" {
		e.accept(st, FieldNRIC, m)
	}

	// Patient reference / name tokens.
	if m := patientNumRe.FindStringSubmatch(message); m != nil {
		e.accept(st, FieldPatient, m[1])
	} else if m := nameAfterVerbRe.FindStringSubmatch(message); m != nil {
		if st.Intent == state.IntentCreatePatient {
			e.accept(st, FieldFirstName, m[1])
			if m[2] != "" {
				e.accept(st, FieldLastName, m[2])
			}
		} else {
			name := m[1]
			if m[2] != "" {
				name += " " + m[2]
			}
			e.accept(st, FieldPatient, name)
		}
	}

	// Replacement name in an update ("rename ... to Jane Tan").
	if st.Intent == state.IntentUpdatePatient {
		if m := renameRe.FindStringSubmatch(message); m != nil {
			e.accept(st, FieldFirstName, m[1])
			e.accept(st, FieldLastName, m[2])
		}
	}

	// Contact number.
	if m := contactRe.FindStringSubmatch(message); m != nil {
		e.accept(st, FieldContactNo, m[1])
	}

	// Date of birth. A keyword with no well-formed date keeps the raw text
	// in ExtractedFields so the clarification prompt can carry the format
	// hint.
	if m := dateRe.FindStringSubmatch(message); m != nil {
		e.accept(st, FieldDateOfBirth, m[1])
	} else if dobKeywordRe.MatchString(message) {
		st.ExtractedFields[FieldDateOfBirth] = message
	}

	// Free-form details.
	if m := detailsRe2.FindStringSubmatch(message); m != nil {
		e.accept(st, FieldDetails, strings.TrimSpace(m[1]))
	}
}

// CollectAnswer merges a follow-up reply into the still-pending fields.
// Shaped values (NRIC, date, number) bind to their matching pending field;
// bare capitalised tokens fill pending name fields in order; anything else
// falls through to the first pending free-text field.
func (e *Extractor) CollectAnswer(st *state.ConversationState, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}

	if st.HasPendingField(FieldNRIC) {
		if m := nricFindRe.FindString(message); m != "" {
			e.accept(st, FieldNRIC, m)
		} else if len(st.PendingFields) == 1 {
			// The reply was meant as the NRIC but fails the policy; keep it
			// visible for the format-hint prompt.
			st.ExtractedFields[FieldNRIC] = message
		}
	}
	if st.HasPendingField(FieldDateOfBirth) {
		if m := dateRe.FindStringSubmatch(message); m != nil {
			e.accept(st, FieldDateOfBirth, m[1])
		} else {
			st.ExtractedFields[FieldDateOfBirth] = message
		}
	}
	if st.HasPendingField(FieldPatient) && bareNumberRe.MatchString(message) {
		e.accept(st, FieldPatient, strings.TrimSpace(message))
	}
	if st.HasPendingField(FieldContactNo) && bareNumberRe.MatchString(message) {
		e.accept(st, FieldContactNo, message)
	}

	if m := capTokenRe.FindStringSubmatch(message); m != nil {
		tokens := []string{m[1]}
		if m[2] != "" {
			tokens = append(tokens, m[2])
		}
		for _, f := range []string{FieldFirstName, FieldLastName, FieldPatient} {
			if len(tokens) == 0 {
				break
			}
			if st.HasPendingField(f) {
				if f == FieldPatient {
					e.accept(st, f, strings.Join(tokens, " "))
					tokens = nil
				} else {
					e.accept(st, f, tokens[0])
					tokens = tokens[1:]
				}
			}
		}
	}

	if st.HasPendingField(FieldDetails) {
		e.accept(st, FieldDetails, message)
	}

	st.PendingFields = missingRequired(st)
}

// accept records a raw extraction and, when it validates, the typed value.
// Validation failures stay in ExtractedFields only, keeping the field
// pending.
func (e *Extractor) accept(st *state.ConversationState, field, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	st.ExtractedFields[field] = raw

	switch field {
	case FieldNRIC:
		if !redact.ValidNRIC(raw) {
			return
		}
	case FieldDateOfBirth:
		if _, err := time.Parse(DateFormat, raw); err != nil {
			return
		}
	case FieldContactNo:
		raw = normalizeContact(raw)
		if len(strings.TrimPrefix(raw, "+")) < 7 {
			return
		}
	}
	st.ValidatedFields[field] = raw
}

// missingRequired lists required fields without a validated value, plus any
// optional field that was supplied but failed validation (so the user is
// re-asked with the format hint rather than silently dropped).
func missingRequired(st *state.ConversationState) []string {
	var pending []string
	for _, f := range RequiredFields(st.Intent) {
		if _, ok := st.ValidatedFields[f]; !ok {
			pending = append(pending, f)
		}
	}
	for _, f := range []string{FieldDateOfBirth, FieldNRIC} {
		_, extracted := st.ExtractedFields[f]
		_, valid := st.ValidatedFields[f]
		if extracted && !valid && !contains(pending, f) {
			pending = append(pending, f)
		}
	}
	if pending == nil {
		pending = []string{}
	}
	return pending
}

// extractLLM asks the provider for the missing fields under the strict JSON
// contract and merges any values that validate.
func (e *Extractor) extractLLM(ctx context.Context, st *state.ConversationState, message string) {
	prompt := "Missing fields: " + strings.Join(st.PendingFields, ", ") +
		"\nMessage: " + e.sanitizer.Sanitize(message)

	start := time.Now()
	resp, err := e.provider.Complete(ctx, llm.Request{
		SystemPrompt: extractorSystemPrompt,
		Prompt:       prompt,
		Temperature:  0,
		MaxTokens:    300,
	})
	elapsed := time.Since(start)

	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordLLMRequest(ctx, e.provider.Name(), status, elapsed)
	}
	if err != nil || resp == nil {
		observe.Warn(ctx, observe.CategoryError, "llm field extraction failed", "err", err)
		return
	}
	recordUsage(ctx, e.metrics, e.provider.Name(), st, resp.Usage)

	var fields map[string]string
	if uerr := json.Unmarshal([]byte(stripFences(resp.Content)), &fields); uerr != nil {
		observe.Warn(ctx, observe.CategoryMissing, "llm extraction outside the JSON contract", "err", uerr)
		return
	}
	for field, value := range fields {
		switch field {
		case FieldFirstName, FieldLastName, FieldNRIC, FieldDateOfBirth,
			FieldContactNo, FieldDetails, FieldPatient:
			if _, already := st.ValidatedFields[field]; !already {
				e.accept(st, field, value)
			}
		}
	}
}

// normalizeContact strips separators, keeping a leading + prefix.
func normalizeContact(s string) string {
	plus := strings.HasPrefix(strings.TrimSpace(s), "+")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if plus {
		return "+" + b.String()
	}
	return b.String()
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
