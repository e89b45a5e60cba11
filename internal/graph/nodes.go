package graph

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hydrosense/hydrochat/internal/intent"
	"github.com/hydrosense/hydrochat/internal/observe"
	"github.com/hydrosense/hydrochat/internal/redact"
	"github.com/hydrosense/hydrochat/internal/resolve"
	"github.com/hydrosense/hydrochat/internal/state"
	"github.com/hydrosense/hydrochat/internal/tools"
	"github.com/hydrosense/hydrochat/pkg/types"
)

// Ingest-level commands handled before classification.
var (
	statsCmdRe    = regexp.MustCompile(`(?i)\bshow\s+agent\s+stats\b`)
	refreshCmdRe  = regexp.MustCompile(`(?i)\brefresh\s+patients\b`)
	fullNRICCmdRe = regexp.MustCompile(`(?i)\bshow\s+full\s+nric\b`)
	showMoreRe    = regexp.MustCompile(`(?i)\bshow\s+more\s+scans\b`)
)

// ingest normalises the incoming message, appends it to the window, and
// short-circuits turns that never reach classification: empty input,
// cancellation, and the developer commands.
func (e *Engine) ingest(t *turn, st *state.ConversationState) Token {
	if t.input == "" {
		t.reply = append(t.reply, replyEmptyInput)
		return TokenHandled
	}
	if r := []rune(t.input); len(r) > maxInputRunes {
		t.input = strings.TrimSpace(string(r[:maxInputRunes]))
	}

	st.TurnCount++
	st.AppendMessage(state.RoleUser, t.input, e.now())

	if redact.IsCancellation(t.input) {
		if flowInProgress(st) {
			st.Metrics.AbortedOps++
			st.ResetPending()
			st.SelectedPatientID = 0
			observe.Info(t.ctx, observe.CategoryConfirm, "flow cancelled by user")
			t.reply = append(t.reply, replyCancelled)
		} else {
			t.reply = append(t.reply, replyNothingPending)
		}
		return TokenHandled
	}

	switch {
	case statsCmdRe.MatchString(t.input):
		t.reply = append(t.reply, e.statsReply(st))
		return TokenHandled
	case refreshCmdRe.MatchString(t.input):
		st.InvalidateCache()
		t.reply = append(t.reply, replyCacheRefreshed)
		return TokenHandled
	case fullNRICCmdRe.MatchString(t.input):
		return e.discloseNRIC(t, st)
	}
	return TokenNext
}

func flowInProgress(st *state.ConversationState) bool {
	return st.PendingAction != state.PendingNone ||
		st.ConfirmationRequired ||
		len(st.DisambiguationOptions) > 0 ||
		len(st.PendingFields) > 0
}

// discloseNRIC reveals a raw NRIC only when the same user typed that value
// earlier in this conversation. Everything else stays masked.
func (e *Engine) discloseNRIC(t *turn, st *state.ConversationState) Token {
	raw := st.ValidatedFields[intent.FieldNRIC]
	if raw == "" && st.SelectedPatientID != 0 {
		if p, ok := st.CachedPatient(st.SelectedPatientID); ok {
			raw = p.NRIC
		}
	}
	if raw != "" && st.UserSuppliedNRIC(raw) {
		t.noMask = true
		t.reply = append(t.reply, "NRIC: "+raw)
		observe.Info(t.ctx, observe.CategoryConfirm, "full nric disclosed on request")
	} else {
		t.reply = append(t.reply, replyNRICPolicy)
	}
	return TokenHandled
}

// classify decides this turn's intent. Mid-flow turns resume the stored
// intent instead of reclassifying; a fresh recognisable command supersedes a
// pending clarification.
func (e *Engine) classify(t *turn, st *state.ConversationState) Token {
	if st.ConfirmationRequired || len(st.DisambiguationOptions) > 0 {
		t.resuming = true
		if st.PendingAction != state.PendingNone {
			st.Intent = st.PendingAction.Intent()
		}
		return TokenNext
	}

	if len(st.PendingFields) > 0 {
		if in, ok := intent.PatternIntent(t.input); ok && in != st.Intent {
			observe.Info(t.ctx, observe.CategoryIntent, "pending flow superseded",
				"old", string(st.Intent), "new", string(in))
			st.ResetPending()
			st.SelectedPatientID = 0
			st.Intent = in
			return TokenNext
		}
		t.resuming = true
		if st.PendingAction != state.PendingNone {
			st.Intent = st.PendingAction.Intent()
		}
		return TokenNext
	}

	// Fresh turn: no carry-over from a completed flow.
	st.SelectedPatientID = 0
	st.PendingAction = state.PendingNone
	st.ClarificationLoopCount = 0

	var cls intent.Classification
	t.net(func() {
		cls = e.classifier.Classify(t.ctx, st, t.input)
	})
	st.Intent = cls.Intent
	if st.Intent == state.IntentUnknown {
		observe.Info(t.ctx, observe.CategoryIntent, "message not classified", "source", cls.Source)
		t.reply = append(t.reply, replyHelp)
		return TokenUnknownIntent
	}
	observe.Info(t.ctx, observe.CategoryIntent, "classified",
		"intent", string(st.Intent), "source", cls.Source)
	return TokenNext
}

// extract parses fields. Fresh turns run full extraction; clarification
// replies bind to the still-pending fields; selection and confirmation
// replies carry no fields at all.
func (e *Engine) extract(t *turn, st *state.ConversationState) Token {
	if st.ConfirmationRequired || len(st.DisambiguationOptions) > 0 {
		return TokenNext
	}
	if t.resuming {
		e.extractor.CollectAnswer(st, t.input)
	} else {
		t.net(func() {
			e.extractor.Extract(t.ctx, st, t.input)
		})
	}
	if raw, ok := st.ValidatedFields[intent.FieldNRIC]; ok {
		st.MarkUserSuppliedNRIC(raw)
	}
	return TokenNext
}

func needsPatient(i state.Intent) bool {
	switch i {
	case state.IntentUpdatePatient, state.IntentDeletePatient,
		state.IntentGetPatientDetails, state.IntentGetScanResults:
		return true
	}
	return false
}

// resolvePatient turns the patient reference into a concrete id, or consumes
// a pending disambiguation selection.
func (e *Engine) resolvePatient(t *turn, st *state.ConversationState) Token {
	if len(st.DisambiguationOptions) > 0 {
		return e.applySelection(t, st)
	}
	if !needsPatient(st.Intent) || st.SelectedPatientID != 0 {
		return TokenNext
	}
	ref := st.ValidatedFields[intent.FieldPatient]
	if ref == "" {
		return TokenNext // collect will ask for the reference
	}

	var res resolve.Result
	var err error
	t.net(func() {
		res, err = e.resolver.Resolve(t.ctx, st, ref)
	})
	if err != nil {
		observe.Error(t.ctx, observe.CategoryError, "patient list unavailable for resolution", "err", err)
		st.Metrics.AbortedOps++
		t.reply = append(t.reply, replyBackendDown)
		return TokenResolveFailed
	}

	switch res.Kind {
	case resolve.KindMatched:
		st.SelectedPatientID = res.ID
		return TokenNext
	case resolve.KindAmbiguous:
		st.DisambiguationOptions = res.Candidates
		return TokenNext // handle_ambiguity renders the options
	default:
		observe.Info(t.ctx, observe.CategoryAmbiguous, "no resolution for reference")
		delete(st.ValidatedFields, intent.FieldPatient)
		t.reply = append(t.reply, noMatchReply(ref))
		return TokenResolveFailed
	}
}

// applySelection interprets the reply to a disambiguation prompt: a 1-based
// list index, or one of the listed patient ids.
func (e *Engine) applySelection(t *turn, st *state.ConversationState) Token {
	options := st.DisambiguationOptions
	n, err := strconv.Atoi(strings.TrimSpace(t.input))
	if err == nil {
		var picked int64
		if n >= 1 && n <= len(options) {
			picked = options[n-1].ID
		} else {
			for _, c := range options {
				if c.ID == int64(n) {
					picked = c.ID
					break
				}
			}
		}
		if picked != 0 {
			st.SelectedPatientID = picked
			st.DisambiguationOptions = []state.Candidate{}
			observe.Info(t.ctx, observe.CategoryAmbiguous, "selection applied", "id", picked)
			return TokenNext
		}
	}
	t.reply = append(t.reply, replySelectRepeat)
	return TokenResolveFailed // options stay pending for the next turn
}

// ambiguity ends the turn when multiple candidates need an explicit choice.
func (e *Engine) ambiguity(t *turn, st *state.ConversationState) Token {
	if len(st.DisambiguationOptions) == 0 {
		return TokenResolved
	}
	st.PendingAction = state.PendingFor(st.Intent)
	observe.Info(t.ctx, observe.CategoryAmbiguous, "multiple candidates",
		"count", len(st.DisambiguationOptions))
	t.reply = append(t.reply, disambiguationReply(st.DisambiguationOptions))
	return TokenAmbiguousPresent
}

// collect asks for missing fields. The first prompt of a flow is the short
// form; once the user has already been asked, the prompt switches to
// explicit format instructions plus the cancellation escape.
func (e *Engine) collect(t *turn, st *state.ConversationState) Token {
	if len(st.PendingFields) == 0 {
		return TokenFieldsComplete
	}
	st.PendingAction = state.PendingFor(st.Intent)
	observe.Info(t.ctx, observe.CategoryMissing, "fields missing",
		"fields", strings.Join(st.PendingFields, ","))
	if st.ClarificationLoopCount == 0 {
		st.ClarificationLoopCount++
		t.reply = append(t.reply, needFieldsReply(st))
	} else {
		t.reply = append(t.reply, explicitFieldsReply(st))
	}
	return TokenNeedMoreFields
}

// gate holds destructive and disclosure actions behind an explicit yes/no,
// and forks scan turns into the fetch path.
func (e *Engine) gate(t *turn, st *state.ConversationState) Token {
	if st.AwaitingConfirmationType == state.ConfirmDownloadSTL {
		switch {
		case showMoreRe.MatchString(t.input) && st.ScanPaginationOffset < len(st.ScanResultsBuffer):
			return TokenPaginationContinue
		case redact.IsAffirmative(t.input):
			st.DownloadStage = state.StageAwaitingSTL
			return TokenConfirmedSTL
		case redact.IsNegative(t.input):
			st.SetConfirmation(state.ConfirmNone)
			st.PendingAction = state.PendingNone
			st.DownloadStage = state.StagePreviewShown
			observe.Info(t.ctx, observe.CategoryConfirm, "stl links declined")
			t.reply = append(t.reply, replySkipSTL)
			return TokenRejected
		}
		t.reply = append(t.reply, replySTLRepeat)
		return TokenAwaitingConfirmation
	}

	if st.Intent == state.IntentDeletePatient {
		if st.AwaitingConfirmationType == state.ConfirmDelete {
			switch {
			case redact.IsAffirmative(t.input):
				st.SetConfirmation(state.ConfirmNone)
				observe.Info(t.ctx, observe.CategoryConfirm, "delete confirmed",
					"id", st.SelectedPatientID)
				return TokenConfirmed
			case redact.IsNegative(t.input):
				st.Metrics.AbortedOps++
				st.ResetPending()
				st.SelectedPatientID = 0
				observe.Info(t.ctx, observe.CategoryConfirm, "delete rejected")
				t.reply = append(t.reply, replyDeleteAborted)
				return TokenRejected
			}
			t.reply = append(t.reply, replyConfirmRepeat)
			return TokenAwaitingConfirmation
		}
		st.SetConfirmation(state.ConfirmDelete)
		st.PendingAction = state.PendingDeletePatient
		observe.Info(t.ctx, observe.CategoryConfirm, "delete confirmation requested",
			"id", st.SelectedPatientID)
		t.reply = append(t.reply, confirmDeleteReply(st.SelectedPatientID, e.patientName(st)))
		return TokenAwaitingConfirmation
	}

	if st.Intent == state.IntentGetScanResults {
		return TokenScanFlow
	}
	return TokenConfirmed
}

// patientName finds a display name for the selected patient, preferring the
// cache over the raw reference the user typed.
func (e *Engine) patientName(st *state.ConversationState) string {
	if p, ok := st.CachedPatient(st.SelectedPatientID); ok {
		return p.FullName()
	}
	ref := st.ValidatedFields[intent.FieldPatient]
	if _, err := strconv.Atoi(ref); err != nil && ref != "" {
		return ref
	}
	return ""
}

// prepare builds the outgoing payload. Updates are read-merge-write: fetch
// the full object, overlay the validated changes, and verify the result is
// still complete before the PUT.
func (e *Engine) prepare(t *turn, st *state.ConversationState) Token {
	switch st.Intent {
	case state.IntentCreatePatient:
		p := patientFromFields(st.ValidatedFields)
		t.payload = &p
	case state.IntentUpdatePatient:
		var cur *types.Patient
		var err error
		t.net(func() {
			cur, err = e.tools.GetPatient(t.ctx, st, st.SelectedPatientID)
		})
		if err != nil {
			t.toolErr = err
			return TokenPrepareFailed
		}
		st.LastPatientSnapshot = cur

		merged := *cur
		for _, f := range intent.UpdatableFields {
			v, ok := st.ValidatedFields[f]
			if !ok {
				continue
			}
			if fieldOf(&merged, f) != v {
				t.changed = append(t.changed, f)
			}
			setField(&merged, f, v)
		}
		if len(t.changed) == 0 {
			t.reply = append(t.reply, "What would you like to change? You can update name, nric, date of birth, contact, or details.")
			return TokenNothingToChange
		}

		var missing []string
		if merged.FirstName == "" {
			missing = append(missing, intent.FieldFirstName)
		}
		if merged.LastName == "" {
			missing = append(missing, intent.FieldLastName)
		}
		if merged.NRIC == "" {
			missing = append(missing, intent.FieldNRIC)
		}
		if len(missing) > 0 {
			st.PendingFields = missing
			st.PendingAction = state.PendingUpdatePatient
			return TokenMergeIncomplete
		}
		t.payload = &merged
	}
	return TokenNext
}

func patientFromFields(fields map[string]string) types.Patient {
	return types.Patient{
		FirstName:   fields[intent.FieldFirstName],
		LastName:    fields[intent.FieldLastName],
		NRIC:        fields[intent.FieldNRIC],
		DateOfBirth: fields[intent.FieldDateOfBirth],
		ContactNo:   fields[intent.FieldContactNo],
		Details:     fields[intent.FieldDetails],
	}
}

func fieldOf(p *types.Patient, field string) string {
	switch field {
	case intent.FieldFirstName:
		return p.FirstName
	case intent.FieldLastName:
		return p.LastName
	case intent.FieldNRIC:
		return p.NRIC
	case intent.FieldDateOfBirth:
		return p.DateOfBirth
	case intent.FieldContactNo:
		return p.ContactNo
	case intent.FieldDetails:
		return p.Details
	}
	return ""
}

func setField(p *types.Patient, field, value string) {
	switch field {
	case intent.FieldFirstName:
		p.FirstName = value
	case intent.FieldLastName:
		p.LastName = value
	case intent.FieldNRIC:
		p.NRIC = value
	case intent.FieldDateOfBirth:
		p.DateOfBirth = value
	case intent.FieldContactNo:
		p.ContactNo = value
	case intent.FieldDetails:
		p.Details = value
	}
}

// execute performs the single tool call of the turn.
func (e *Engine) execute(t *turn, st *state.ConversationState) Token {
	t.net(func() {
		switch st.Intent {
		case state.IntentCreatePatient:
			t.created, t.toolErr = e.tools.CreatePatient(t.ctx, st, *t.payload)
		case state.IntentUpdatePatient:
			t.updated, t.toolErr = e.tools.UpdatePatient(t.ctx, st, st.SelectedPatientID, *t.payload)
		case state.IntentDeletePatient:
			t.deletedName = e.patientName(st)
			t.toolErr = e.tools.DeletePatient(t.ctx, st, st.SelectedPatientID)
		case state.IntentListPatients:
			t.listed, t.toolErr = e.tools.ListPatients(t.ctx, st)
			if t.toolErr == nil {
				st.SetPatientCache(t.listed, e.now())
			}
		case state.IntentGetPatientDetails:
			t.fetched, t.toolErr = e.tools.GetPatient(t.ctx, st, st.SelectedPatientID)
		}
	})
	return TokenNext
}

// toolError sorts a failed call into its recovery path. Backend validation
// reopens the clarification loop for exactly the rejected fields; everything
// else ends the turn.
func (e *Engine) toolError(t *turn, st *state.ConversationState) Token {
	if t.toolErr == nil {
		return TokenProceed
	}
	if errors.Is(t.toolErr, tools.ErrNotFound) {
		observe.Error(t.ctx, observe.CategoryTool, "target no longer exists", "err", t.toolErr)
		st.SelectedPatientID = 0
		st.PendingAction = state.PendingNone
		st.Metrics.AbortedOps++
		t.reply = append(t.reply, notFoundReply())
		return TokenRetryLater
	}
	if fields, ok := tools.ValidationFields(t.toolErr); ok {
		observe.Error(t.ctx, observe.CategoryTool, "backend rejected fields", "err", t.toolErr)
		for _, f := range fields {
			delete(st.ValidatedFields, f)
		}
		st.PendingFields = fields
		st.PendingAction = state.PendingFor(st.Intent)
		t.reply = append(t.reply, validationFailedReply(fields))
		return TokenValidationError
	}
	observe.Error(t.ctx, observe.CategoryTool, "tool call failed", "err", t.toolErr)
	st.PendingAction = state.PendingNone
	st.Metrics.AbortedOps++
	t.reply = append(t.reply, replyBackendDown)
	return TokenRetryLater
}

// postTool turns a successful call into the reply and settles state.
func (e *Engine) postTool(t *turn, st *state.ConversationState) Token {
	switch st.Intent {
	case state.IntentCreatePatient:
		st.InvalidateCache()
		t.reply = append(t.reply, createdReply(t.created))
		t.op = state.OpCreate
	case state.IntentUpdatePatient:
		t.reply = append(t.reply, updatedReply(st.SelectedPatientID, t.changed))
		t.op = state.OpUpdate
	case state.IntentDeletePatient:
		st.InvalidateCache()
		t.reply = append(t.reply, deletedReply(st.SelectedPatientID, t.deletedName))
		t.op = state.OpDelete
	case state.IntentListPatients:
		t.reply = append(t.reply, patientListReply(t.listed))
	case state.IntentGetPatientDetails:
		t.reply = append(t.reply, patientDetailsReply(t.fetched))
	}

	st.Metrics.SuccessfulOps++
	st.PendingAction = state.PendingNone
	st.PendingFields = []string{}
	st.LastPatientSnapshot = nil
	st.SelectedPatientID = 0
	observe.Info(t.ctx, observe.CategorySuccess, "operation completed",
		"intent", string(st.Intent), "op", string(t.op))
	return TokenNext
}

// fetchScans loads the full scan list for the selected patient and resets
// pagination.
func (e *Engine) fetchScans(t *turn, st *state.ConversationState) Token {
	id := st.SelectedPatientID
	var buf []types.ScanResult
	var err error
	t.net(func() {
		buf, err = e.tools.ListScanResults(t.ctx, st, id)
	})
	if err != nil {
		observe.Error(t.ctx, observe.CategoryTool, "scan fetch failed", "err", err)
		st.Metrics.AbortedOps++
		st.PendingAction = state.PendingNone
		t.reply = append(t.reply, replyBackendDown)
		return TokenFetchFailed
	}

	sort.SliceStable(buf, func(i, j int) bool {
		return buf[i].CreatedAt.After(buf[j].CreatedAt)
	})
	st.ScanResultsBuffer = buf
	st.ScanPaginationOffset = 0
	st.DownloadStage = state.StageNone

	if len(buf) == 0 {
		st.PendingAction = state.PendingNone
		t.reply = append(t.reply, noScansReply(id))
		return TokenNoResults
	}
	st.PendingAction = state.PendingGetScanResults
	return TokenResultsFound
}

// paginate slices the next preview window without rendering it.
func (e *Engine) paginate(t *turn, st *state.ConversationState) Token {
	limit := st.ScanDisplayLimit
	if limit <= 0 {
		limit = state.ScanDisplayLimit
	}
	start := st.ScanPaginationOffset
	end := start + limit
	if end > len(st.ScanResultsBuffer) {
		end = len(st.ScanResultsBuffer)
	}
	t.window = st.ScanResultsBuffer[start:end]
	observe.Info(t.ctx, observe.CategoryPagination, "scan page sliced",
		"from", start, "to", end, "total", len(st.ScanResultsBuffer))
	return TokenPageReady
}

// previews renders the current window, advances the offset, and poses the
// STL question. STL URLs never appear here.
func (e *Engine) previews(t *turn, st *state.ConversationState) Token {
	lines := []string{scanHeaderLine(st.SelectedPatientID)}
	for _, s := range t.window {
		lines = append(lines, scanPreviewLine(s))
	}
	st.ScanPaginationOffset += len(t.window)

	total := len(st.ScanResultsBuffer)
	if st.ScanPaginationOffset < total {
		lines = append(lines, fmt.Sprintf("Showing %d of %d. Say 'show more scans' to see the rest.",
			st.ScanPaginationOffset, total))
	} else {
		lines = append(lines, fmt.Sprintf("Showing all %d scan(s).", total))
	}
	lines = append(lines, "Would you like the STL download links for these scans? (yes/no)")

	st.DownloadStage = state.StagePreviewShown
	st.SetConfirmation(state.ConfirmDownloadSTL)
	st.PendingAction = state.PendingGetScanResults
	t.reply = append(t.reply, strings.Join(lines, "\n"))
	return TokenAwaitingSTLConfirm
}

// stlLinks discloses download URLs for every scan previewed so far. This is
// the only node that renders an STL URL.
func (e *Engine) stlLinks(t *turn, st *state.ConversationState) Token {
	items := st.ScanResultsBuffer
	if st.ScanPaginationOffset < len(items) {
		items = items[:st.ScanPaginationOffset]
	}
	lines := []string{fmt.Sprintf("STL download links for Patient #%d:", st.SelectedPatientID)}
	for _, s := range items {
		lines = append(lines, stlLinkLine(s))
	}

	st.DownloadStage = state.StageSTLLinksSent
	st.SetConfirmation(state.ConfirmNone)
	st.PendingAction = state.PendingNone
	observe.Info(t.ctx, observe.CategorySuccess, "stl links sent", "count", len(items))
	t.reply = append(t.reply, strings.Join(lines, "\n"))
	return TokenSTLLinksSent
}

// summarize folds accumulated context into the history digest. The digest is
// derived from structured state, never from raw message text, so no PII can
// leak through it.
func (e *Engine) summarize(t *turn, st *state.ConversationState) Token {
	var parts []string
	parts = append(parts, fmt.Sprintf("%d turns so far", st.TurnCount))
	if st.Intent != state.IntentUnknown {
		parts = append(parts, "last intent "+string(st.Intent))
	}
	if st.PendingAction != state.PendingNone {
		p := "awaiting " + string(st.PendingAction)
		if len(st.PendingFields) > 0 {
			p += " (missing " + strings.Join(st.PendingFields, ", ") + ")"
		}
		parts = append(parts, p)
	}
	if st.SelectedPatientID != 0 {
		parts = append(parts, fmt.Sprintf("working with patient #%d", st.SelectedPatientID))
	}
	if st.Metrics.SuccessfulOps > 0 {
		parts = append(parts, fmt.Sprintf("%d completed operation(s)", st.Metrics.SuccessfulOps))
	}
	st.HistorySummary = strings.Join(parts, "; ") + "."
	return TokenDone
}

// finalize composes the single outgoing message, applies the outbound NRIC
// mask, and appends it to the conversation window.
func (e *Engine) finalize(t *turn, st *state.ConversationState) Token {
	if len(t.reply) == 0 {
		t.reply = append(t.reply, replyHelp)
	}
	msg := strings.Join(t.reply, "\n")
	if !t.noMask {
		msg = redact.MaskText(msg)
	}
	st.AppendMessage(state.RoleAssistant, msg, e.now())
	t.finalReply = msg

	if st.TurnCount > summarizeAfterTurns {
		return TokenSummarize
	}
	return TokenDone
}
