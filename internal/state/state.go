// Package state defines the per-conversation state object that every graph
// node reads and mutates. All fields exist from construction — a missing
// field is a programming error, not a runtime condition — and the whole
// object round-trips through JSON for snapshots and the optional persistent
// store.
package state

import (
	"time"

	"github.com/hydrosense/hydrochat/internal/redact"
	"github.com/hydrosense/hydrochat/pkg/types"
)

const (
	// RecentMessageWindow bounds the verbatim message history; older
	// messages are folded into HistorySummary.
	RecentMessageWindow = 5

	// PatientCacheLimit caps the per-conversation name-resolution cache.
	PatientCacheLimit = 1000

	// CacheStaleAfter is the age past which the patient cache must be
	// reloaded before resolution.
	CacheStaleAfter = 5 * time.Minute

	// ScanDisplayLimit is the fixed page size for scan result previews.
	ScanDisplayLimit = 10
)

// Message is one turn-level record in the bounded conversation window.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Candidate is one ambiguous name-resolution match presented for selection.
// NRIC is pre-masked; the raw value never enters a candidate.
type Candidate struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	MaskedNRIC  string `json:"masked_nric"`
}

// Metrics holds the per-conversation operation counters surfaced by the
// developer stats command.
type Metrics struct {
	TotalAPICalls       int64 `json:"total_api_calls"`
	Retries             int64 `json:"retries"`
	SuccessfulOps       int64 `json:"successful_ops"`
	AbortedOps          int64 `json:"aborted_ops"`
	LLMPromptTokens     int64 `json:"llm_prompt_tokens"`
	LLMCompletionTokens int64 `json:"llm_completion_tokens"`
}

// ConversationState carries everything a conversation accumulates across
// turns. Nodes communicate exclusively through this object; no node holds a
// reference to another.
type ConversationState struct {
	// RecentMessages is the bounded window of the last five messages,
	// oldest first. Overflow is folded into HistorySummary by the
	// summariser node.
	RecentMessages []Message `json:"recent_messages"`

	// HistorySummary is the free-form digest of everything evicted past
	// the message window.
	HistorySummary string `json:"history_summary"`

	// TurnCount is the number of user turns processed so far.
	TurnCount int `json:"turn_count"`

	// Intent is this turn's classification.
	Intent Intent `json:"intent"`

	// PendingAction tracks a multi-turn flow across user turns.
	PendingAction PendingAction `json:"pending_action"`

	// ExtractedFields maps raw field name to the raw string parsed this
	// turn, before validation.
	ExtractedFields map[string]string `json:"extracted_fields"`

	// ValidatedFields maps field name to a value ready for a tool payload.
	// NRIC enters only after passing the agent policy pattern.
	ValidatedFields map[string]string `json:"validated_fields"`

	// PendingFields lists required field names still missing, in canonical
	// prompt order. A tool call is allowed only when this is empty.
	PendingFields []string `json:"pending_fields"`

	// PatientCache is the per-conversation name-resolution cache. Raw NRICs
	// live here and are masked at every exit point.
	PatientCache []types.Patient `json:"patient_cache"`

	// PatientCacheTimestamp is the instant of the last cache load; zero
	// means never loaded.
	PatientCacheTimestamp time.Time `json:"patient_cache_timestamp"`

	// DisambiguationOptions, when non-empty, means the turn must end
	// awaiting an explicit selection — no tool may run.
	DisambiguationOptions []Candidate `json:"disambiguation_options"`

	// SelectedPatientID is the resolved id for the current action; zero
	// until resolved.
	SelectedPatientID int64 `json:"selected_patient_id"`

	// ClarificationLoopCount counts missing-field prompts for the current
	// flow. It resets when a fresh intent starts; past the first prompt the
	// re-ask must carry explicit format instructions.
	ClarificationLoopCount int `json:"clarification_loop_count"`

	// ConfirmationRequired is true exactly when AwaitingConfirmationType
	// is not NONE.
	ConfirmationRequired     bool             `json:"confirmation_required"`
	AwaitingConfirmationType ConfirmationType `json:"awaiting_confirmation_type"`

	// LastPatientSnapshot is the full pre-update object used by the PUT
	// merge. Nil outside an update flow.
	LastPatientSnapshot *types.Patient `json:"last_patient_snapshot,omitempty"`

	// LastToolRequest, LastToolResponse, and LastToolError record the most
	// recent REST interaction, NRIC-masked and body-truncated.
	LastToolRequest  *types.ToolRequestSnapshot  `json:"last_tool_request,omitempty"`
	LastToolResponse *types.ToolResponseSnapshot `json:"last_tool_response,omitempty"`
	LastToolError    *types.ToolErrorSnapshot    `json:"last_tool_error,omitempty"`

	// ScanResultsBuffer holds the full descending-by-creation scan list for
	// the current patient.
	ScanResultsBuffer []types.ScanResult `json:"scan_results_buffer"`

	// ScanPaginationOffset is the count of previewed items already shown.
	ScanPaginationOffset int `json:"scan_pagination_offset"`

	// ScanDisplayLimit is the preview page size. Constant in practice;
	// carried in state so serialized snapshots are self-describing.
	ScanDisplayLimit int `json:"scan_display_limit"`

	// DownloadStage tracks the two-stage STL disclosure.
	DownloadStage DownloadStage `json:"download_stage"`

	// Metrics are the per-conversation counters.
	Metrics Metrics `json:"metrics"`

	// NRICPolicy is the compiled-in validation pattern, recorded so
	// serialized state is self-describing.
	NRICPolicy string `json:"nric_policy"`

	// ConfigSnapshot is the redacted runtime configuration captured at
	// construction (token reduced to its first four characters plus "***").
	ConfigSnapshot map[string]string `json:"config_snapshot"`

	// NRICProvenance records, per raw NRIC value, whether the user supplied
	// it in this conversation. Full-NRIC disclosure is allowed only for
	// values the same user typed.
	NRICProvenance map[string]bool `json:"nric_provenance"`
}

// New constructs a ConversationState with every field populated to its
// initial value. configSnapshot may be nil; it is stored as an empty map.
func New(configSnapshot map[string]string) *ConversationState {
	if configSnapshot == nil {
		configSnapshot = map[string]string{}
	}
	return &ConversationState{
		RecentMessages:           []Message{},
		HistorySummary:           "",
		TurnCount:                0,
		Intent:                   IntentUnknown,
		PendingAction:            PendingNone,
		ExtractedFields:          map[string]string{},
		ValidatedFields:          map[string]string{},
		PendingFields:            []string{},
		PatientCache:             []types.Patient{},
		DisambiguationOptions:    []Candidate{},
		SelectedPatientID:        0,
		ClarificationLoopCount:   0,
		ConfirmationRequired:     false,
		AwaitingConfirmationType: ConfirmNone,
		ScanResultsBuffer:        []types.ScanResult{},
		ScanPaginationOffset:     0,
		ScanDisplayLimit:         ScanDisplayLimit,
		DownloadStage:            StageNone,
		Metrics:                  Metrics{},
		NRICPolicy:               redact.NRICPattern(),
		ConfigSnapshot:           configSnapshot,
		NRICProvenance:           map[string]bool{},
	}
}

// AppendMessage adds a message to the bounded window, discarding the oldest
// entry on overflow. The discarded content is the summariser's concern; this
// method only enforces the bound.
func (s *ConversationState) AppendMessage(role Role, content string, at time.Time) {
	s.RecentMessages = append(s.RecentMessages, Message{Role: role, Content: content, Timestamp: at})
	if len(s.RecentMessages) > RecentMessageWindow {
		s.RecentMessages = s.RecentMessages[len(s.RecentMessages)-RecentMessageWindow:]
	}
}

// LastUserMessage returns the content of the most recent user message, or
// "" when none exists in the window.
func (s *ConversationState) LastUserMessage() string {
	for i := len(s.RecentMessages) - 1; i >= 0; i-- {
		if s.RecentMessages[i].Role == RoleUser {
			return s.RecentMessages[i].Content
		}
	}
	return ""
}

// ResetPending clears every in-flight flow marker. Invoked by the
// cancellation handler; calling it twice is equivalent to calling it once.
func (s *ConversationState) ResetPending() {
	s.PendingAction = PendingNone
	s.PendingFields = []string{}
	s.DisambiguationOptions = []Candidate{}
	s.ConfirmationRequired = false
	s.AwaitingConfirmationType = ConfirmNone
	s.DownloadStage = StageNone
	s.ClarificationLoopCount = 0
}

// SetConfirmation sets the paired confirmation fields together so the
// invariant (required ⇔ type ≠ NONE) cannot be broken piecemeal.
func (s *ConversationState) SetConfirmation(t ConfirmationType) {
	s.AwaitingConfirmationType = t
	s.ConfirmationRequired = t != ConfirmNone
}

// HasPendingField reports whether name is still missing.
func (s *ConversationState) HasPendingField(name string) bool {
	for _, f := range s.PendingFields {
		if f == name {
			return true
		}
	}
	return false
}

// RemovePendingField drops name from the pending set, preserving order.
func (s *ConversationState) RemovePendingField(name string) {
	out := s.PendingFields[:0]
	for _, f := range s.PendingFields {
		if f != name {
			out = append(out, f)
		}
	}
	s.PendingFields = out
}

// CacheStale reports whether the patient cache must be reloaded: never
// loaded, or older than the staleness threshold.
func (s *ConversationState) CacheStale(now time.Time) bool {
	if s.PatientCacheTimestamp.IsZero() {
		return true
	}
	return now.Sub(s.PatientCacheTimestamp) > CacheStaleAfter
}

// SetPatientCache replaces the cache, enforcing the size cap, and stamps it.
func (s *ConversationState) SetPatientCache(patients []types.Patient, now time.Time) {
	if len(patients) > PatientCacheLimit {
		patients = patients[:PatientCacheLimit]
	}
	s.PatientCache = patients
	s.PatientCacheTimestamp = now
}

// InvalidateCache forces the next resolution to reload the patient list.
func (s *ConversationState) InvalidateCache() {
	s.PatientCache = []types.Patient{}
	s.PatientCacheTimestamp = time.Time{}
}

// CachedPatient returns the cached record with the given id, if present.
func (s *ConversationState) CachedPatient(id int64) (types.Patient, bool) {
	for _, p := range s.PatientCache {
		if p.ID == id {
			return p, true
		}
	}
	return types.Patient{}, false
}

// MarkUserSuppliedNRIC records that the user typed this NRIC in this
// conversation, which is the precondition for full disclosure on request.
func (s *ConversationState) MarkUserSuppliedNRIC(nric string) {
	if nric == "" {
		return
	}
	s.NRICProvenance[nric] = true
}

// UserSuppliedNRIC reports whether nric was typed by the user in this
// conversation.
func (s *ConversationState) UserSuppliedNRIC(nric string) bool {
	return s.NRICProvenance[nric]
}
