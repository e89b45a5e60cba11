package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hydrosense/hydrochat/internal/intent"
	"github.com/hydrosense/hydrochat/internal/redact"
	"github.com/hydrosense/hydrochat/internal/state"
	"github.com/hydrosense/hydrochat/pkg/types"
)

// Reply templates. Wording here is load-bearing: clients and transcripts key
// off these shapes, so changes ripple into every scenario test.

const (
	replyCancelled      = "Action cancelled. What would you like to do next?"
	replyNothingPending = "Nothing to cancel. What would you like to do?"
	replyEmptyInput     = "I didn't catch that. What would you like to do?"
	replyCacheRefreshed = "Patient cache refreshed. The next lookup will load the latest list."
	replyHelp           = "I can create, update, delete, and list patients, show patient details, and show scan results. What would you like to do?"
	replyBackendDown    = "Sorry, I couldn't reach the patient system just now. Please try again shortly."
	replySkipSTL        = "Okay, skipping the STL links. Anything else?"
	replyDeleteAborted  = "Okay, I won't delete anyone. Anything else?"
	replyConfirmRepeat  = "Please answer yes or no."
	replySTLRepeat      = "Reply yes for the STL links, no to skip, or 'show more scans' to see more."
	replySelectRepeat   = "Please reply with a number from the list, or say cancel."
	replyNRICPolicy     = "I can only show NRICs in masked form, unless you provided the value yourself in this conversation."
)

func createdReply(p *types.Patient) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Created patient #%d: %s %s (NRIC %s).",
		p.ID, p.FirstName, p.LastName, redact.MaskNRIC(p.NRIC))
	if p.DateOfBirth != "" {
		fmt.Fprintf(&b, " Date of birth: %s.", p.DateOfBirth)
	}
	if p.ContactNo != "" {
		fmt.Fprintf(&b, " Contact: %s.", p.ContactNo)
	}
	return b.String()
}

func updatedReply(id int64, changed []string) string {
	return fmt.Sprintf("Updated patient #%d: changed %s.", id, strings.Join(changed, ", "))
}

func deletedReply(id int64, name string) string {
	if name == "" {
		return fmt.Sprintf("Deleted patient #%d.", id)
	}
	return fmt.Sprintf("Deleted patient #%d (%s).", id, name)
}

func confirmDeleteReply(id int64, name string) string {
	if name == "" {
		name = fmt.Sprintf("patient %d", id)
	}
	return fmt.Sprintf("Please confirm deletion of patient ID %d (%s) – yes or no?", id, name)
}

func needFieldsReply(st *state.ConversationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Need %s. Please provide.", strings.Join(st.PendingFields, ", "))
	appendFormatHints(&b, st)
	return b.String()
}

// explicitFieldsReply is the second-and-final clarification shape: concrete
// format instructions per field plus the cancellation escape hatch.
func explicitFieldsReply(st *state.ConversationState) string {
	var b strings.Builder
	b.WriteString("I still need:")
	for _, f := range st.PendingFields {
		b.WriteString("\n- ")
		b.WriteString(fieldInstruction(f))
	}
	b.WriteString("\nOr say 'cancel' to abort.")
	return b.String()
}

func fieldInstruction(field string) string {
	switch field {
	case intent.FieldNRIC:
		return "nric: one letter S/T/F/G, seven digits, one letter (e.g. S1234567A)"
	case intent.FieldDateOfBirth:
		return "date_of_birth: YYYY-MM-DD (e.g. 1990-03-14)"
	case intent.FieldContactNo:
		return "contact_no: digits only, optionally starting with + (e.g. +6591234567)"
	case intent.FieldPatient:
		return "patient: a patient name or numeric id"
	default:
		return field + ": plain text"
	}
}

// appendFormatHints adds a format hint for each field that was supplied but
// failed validation, so a single re-ask carries the reason.
func appendFormatHints(b *strings.Builder, st *state.ConversationState) {
	if _, extracted := st.ExtractedFields[intent.FieldNRIC]; extracted && st.HasPendingField(intent.FieldNRIC) {
		if _, valid := st.ValidatedFields[intent.FieldNRIC]; !valid {
			b.WriteString(" NRIC must be one letter S/T/F/G, seven digits, one letter.")
		}
	}
	if _, extracted := st.ExtractedFields[intent.FieldDateOfBirth]; extracted && st.HasPendingField(intent.FieldDateOfBirth) {
		if _, valid := st.ValidatedFields[intent.FieldDateOfBirth]; !valid {
			b.WriteString(" Dates must be YYYY-MM-DD.")
		}
	}
}

func disambiguationReply(options []state.Candidate) string {
	var b strings.Builder
	b.WriteString("I found more than one match:")
	for i, c := range options {
		fmt.Fprintf(&b, "\n%d. %s (NRIC %s, id %d)", i+1, c.DisplayName, c.MaskedNRIC, c.ID)
	}
	b.WriteString("\nPlease reply with the number of the patient you mean.")
	return b.String()
}

func noMatchReply(ref string) string {
	return fmt.Sprintf("No patient named %q found. Say 'list patients' to see everyone, or try another name or id.", ref)
}

func notFoundReply() string {
	return "I couldn't find that patient. Say 'list patients' to see everyone, or try another name or id."
}

func patientListReply(patients []types.Patient) string {
	if len(patients) == 0 {
		return "No patients on record yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d patient(s):", len(patients))
	for _, p := range patients {
		fmt.Fprintf(&b, "\n- #%d %s (NRIC %s)", p.ID, p.FullName(), redact.MaskNRIC(p.NRIC))
	}
	return b.String()
}

func patientDetailsReply(p *types.Patient) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient #%d: %s", p.ID, p.FullName())
	fmt.Fprintf(&b, "\n- NRIC: %s", redact.MaskNRIC(p.NRIC))
	if p.DateOfBirth != "" {
		fmt.Fprintf(&b, "\n- Date of birth: %s", p.DateOfBirth)
	}
	if p.ContactNo != "" {
		fmt.Fprintf(&b, "\n- Contact: %s", p.ContactNo)
	}
	if p.Details != "" {
		fmt.Fprintf(&b, "\n- Details: %s", p.Details)
	}
	return b.String()
}

func scanHeaderLine(patientID int64) string {
	return fmt.Sprintf("Scan Results for Patient #%d", patientID)
}

func scanPreviewLine(s types.ScanResult) string {
	volume := "—"
	if s.VolumeEstimate != nil {
		volume = fmt.Sprintf("%.2f", *s.VolumeEstimate)
	}
	stl := "No"
	if s.STLFileURL != "" {
		stl = "Yes"
	}
	return fmt.Sprintf("- Scan %d | Date %s | Volume %s | STL %s",
		s.ID, s.CreatedAt.Format(intent.DateFormat), volume, stl)
}

func stlLinkLine(s types.ScanResult) string {
	if s.STLFileURL == "" {
		return fmt.Sprintf("Scan %d: (No STL available)", s.ID)
	}
	return fmt.Sprintf("Download STL (Scan %d): %s", s.ID, s.STLFileURL)
}

func noScansReply(patientID int64) string {
	return fmt.Sprintf("No scans available for patient #%d.", patientID)
}

func validationFailedReply(fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return fmt.Sprintf("The patient system rejected %s.", strings.Join(sorted, ", "))
}
