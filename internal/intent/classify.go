package intent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/hydrosense/hydrochat/internal/observe"
	"github.com/hydrosense/hydrochat/internal/state"
	"github.com/hydrosense/hydrochat/pkg/provider/llm"
)

// Deterministic classification rules, tried in order. The scan rule runs
// before the patient-details rule so "show scan results for patient 5" never
// classifies as GET_PATIENT_DETAILS.
var (
	createRe  = regexp.MustCompile(`(?i)\b(create|add|new)\s+patient\b`)
	updateRe  = regexp.MustCompile(`(?i)\b(update|change|modify|edit)\s+(patient|contact|nric|name|details)\b`)
	deleteRe  = regexp.MustCompile(`(?i)\b(delete|remove|del)\s+patient\b`)
	listRe    = regexp.MustCompile(`(?i)\b(list|show|all)\s+patients\b`)
	scanRe    = regexp.MustCompile(`(?i)\b(show|list|get)\b.*\b(scan|result)s?\b`)
	scanWord  = regexp.MustCompile(`(?i)\b(scan|result)s?\b`)
	detailsRe = regexp.MustCompile(`(?i)\b(show|get)\b.*\bpatient\b`)
)

// classifierSystemPrompt binds the LLM fallback to the closed intent enum.
const classifierSystemPrompt = `You classify a clinician's message into exactly one intent for a patient-records assistant.
Reply with a single JSON object and nothing else: {"intent": "<INTENT>", "reason": "<short reason>"}.
<INTENT> must be one of: CREATE_PATIENT, UPDATE_PATIENT, DELETE_PATIENT, LIST_PATIENTS, GET_PATIENT_DETAILS, GET_SCAN_RESULTS, UNKNOWN.
Never invent patient data. If unsure, use UNKNOWN.`

// Classification is the outcome of one classification attempt. Source
// records which stage decided: "pattern", "llm", or "none" when both stages
// passed and the intent collapsed to UNKNOWN.
type Classification struct {
	Intent state.Intent
	Source string
	Reason string
}

// Classifier applies the regex rules and falls back to the LLM. A nil
// provider disables the fallback, leaving pattern misses as UNKNOWN.
type Classifier struct {
	provider  llm.Provider
	sanitizer *Sanitizer
	metrics   *observe.Metrics
}

// NewClassifier creates a Classifier. provider and metrics may be nil.
func NewClassifier(provider llm.Provider, sanitizer *Sanitizer, metrics *observe.Metrics) *Classifier {
	if sanitizer == nil {
		sanitizer = NewSanitizer(0)
	}
	return &Classifier{provider: provider, sanitizer: sanitizer, metrics: metrics}
}

// Classify determines the intent of message. Pattern rules decide
// deterministically; only a complete pattern miss consults the LLM. The
// conversation state supplies recent context for the fallback prompt and
// accumulates the provider-reported token usage.
func (c *Classifier) Classify(ctx context.Context, st *state.ConversationState, message string) Classification {
	if in, ok := classifyPattern(message); ok {
		observe.Debug(ctx, observe.CategoryIntent, "pattern classified", "intent", string(in))
		return Classification{Intent: in, Source: "pattern"}
	}
	if c.provider == nil {
		return Classification{Intent: state.IntentUnknown, Source: "none"}
	}
	return c.classifyLLM(ctx, st, message)
}

// PatternIntent applies only the deterministic rules, without the LLM
// fallback. Mid-flow turns use it to detect a fresh command that supersedes
// the pending flow; a miss is not a verdict there, so no fallback belongs.
func PatternIntent(message string) (state.Intent, bool) {
	return classifyPattern(message)
}

// classifyPattern applies the anchored regex rules in order.
func classifyPattern(message string) (state.Intent, bool) {
	switch {
	case createRe.MatchString(message):
		return state.IntentCreatePatient, true
	case updateRe.MatchString(message):
		return state.IntentUpdatePatient, true
	case deleteRe.MatchString(message):
		return state.IntentDeletePatient, true
	case listRe.MatchString(message):
		return state.IntentListPatients, true
	case scanRe.MatchString(message):
		return state.IntentGetScanResults, true
	case detailsRe.MatchString(message) && !scanWord.MatchString(message):
		return state.IntentGetPatientDetails, true
	}
	return state.IntentUnknown, false
}

// llmVerdict is the strict JSON contract for the fallback. Anything that
// fails to decode, or decodes to an intent outside the enum, is UNKNOWN.
type llmVerdict struct {
	Intent string `json:"intent"`
	Reason string `json:"reason"`
}

func (c *Classifier) classifyLLM(ctx context.Context, st *state.ConversationState, message string) Classification {
	prompt := c.buildPrompt(st, message)

	start := time.Now()
	resp, err := c.provider.Complete(ctx, llm.Request{
		SystemPrompt: classifierSystemPrompt,
		Prompt:       prompt,
		Temperature:  0,
		MaxTokens:    200,
	})
	elapsed := time.Since(start)

	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		name := "none"
		if c.provider != nil {
			name = c.provider.Name()
		}
		c.metrics.RecordLLMRequest(ctx, name, status, elapsed)
	}
	if err != nil || resp == nil {
		observe.Warn(ctx, observe.CategoryError, "llm classification failed", "err", err)
		return Classification{Intent: state.IntentUnknown, Source: "llm"}
	}

	recordUsage(ctx, c.metrics, c.provider.Name(), st, resp.Usage)

	verdict := llmVerdict{}
	if uerr := json.Unmarshal([]byte(stripFences(resp.Content)), &verdict); uerr != nil {
		observe.Warn(ctx, observe.CategoryIntent, "llm reply outside the JSON contract", "err", uerr)
		return Classification{Intent: state.IntentUnknown, Source: "llm"}
	}
	in := state.Intent(verdict.Intent)
	if !in.IsValid() {
		observe.Warn(ctx, observe.CategoryIntent, "llm intent outside the enum", "intent", verdict.Intent)
		return Classification{Intent: state.IntentUnknown, Source: "llm"}
	}
	observe.Debug(ctx, observe.CategoryIntent, "llm classified", "intent", string(in))
	return Classification{Intent: in, Source: "llm", Reason: verdict.Reason}
}

// buildPrompt assembles sanitised message text with the recent conversation
// window and the history summary.
func (c *Classifier) buildPrompt(st *state.ConversationState, message string) string {
	var b strings.Builder
	if st.HistorySummary != "" {
		b.WriteString("Conversation summary: ")
		b.WriteString(c.sanitizer.Sanitize(st.HistorySummary))
		b.WriteString("\n")
	}
	for _, m := range st.RecentMessages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(c.sanitizer.Sanitize(m.Content))
		b.WriteString("\n")
	}
	b.WriteString("Message to classify: ")
	b.WriteString(c.sanitizer.Sanitize(message))
	return b.String()
}

// recordUsage books provider-reported token counts into state and telemetry.
// Counts are never estimated; absent metadata stays zero everywhere.
func recordUsage(ctx context.Context, m *observe.Metrics, provider string, st *state.ConversationState, u llm.Usage) {
	st.Metrics.LLMPromptTokens += int64(u.PromptTokens)
	st.Metrics.LLMCompletionTokens += int64(u.CompletionTokens)
	if m != nil {
		m.RecordLLMTokens(ctx, provider, int64(u.PromptTokens), int64(u.CompletionTokens))
	}
}

// stripFences removes a surrounding markdown code fence from an LLM reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
