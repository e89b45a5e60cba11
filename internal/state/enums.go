package state

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// IsValid reports whether r is a recognised message role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Intent is the classification of a user turn. Exactly one intent is
// assigned per turn; anything the classifier cannot place collapses to
// IntentUnknown rather than guessing.
type Intent string

const (
	IntentCreatePatient     Intent = "CREATE_PATIENT"
	IntentUpdatePatient     Intent = "UPDATE_PATIENT"
	IntentDeletePatient     Intent = "DELETE_PATIENT"
	IntentListPatients      Intent = "LIST_PATIENTS"
	IntentGetPatientDetails Intent = "GET_PATIENT_DETAILS"
	IntentGetScanResults    Intent = "GET_SCAN_RESULTS"
	IntentUnknown           Intent = "UNKNOWN"
)

// IsValid reports whether i is a recognised intent.
func (i Intent) IsValid() bool {
	switch i {
	case IntentCreatePatient, IntentUpdatePatient, IntentDeletePatient,
		IntentListPatients, IntentGetPatientDetails, IntentGetScanResults,
		IntentUnknown:
		return true
	}
	return false
}

// PendingAction tracks a multi-turn flow that has not yet completed —
// an operation still waiting on fields, disambiguation, or confirmation.
type PendingAction string

const (
	PendingNone           PendingAction = "NONE"
	PendingCreatePatient  PendingAction = "CREATE_PATIENT"
	PendingUpdatePatient  PendingAction = "UPDATE_PATIENT"
	PendingDeletePatient  PendingAction = "DELETE_PATIENT"
	PendingGetScanResults PendingAction = "GET_SCAN_RESULTS"
)

// IsValid reports whether p is a recognised pending action.
func (p PendingAction) IsValid() bool {
	switch p {
	case PendingNone, PendingCreatePatient, PendingUpdatePatient,
		PendingDeletePatient, PendingGetScanResults:
		return true
	}
	return false
}

// PendingFor maps an intent to the pending action that represents it
// mid-flow. Intents that complete within a single turn map to PendingNone.
func PendingFor(i Intent) PendingAction {
	switch i {
	case IntentCreatePatient:
		return PendingCreatePatient
	case IntentUpdatePatient:
		return PendingUpdatePatient
	case IntentDeletePatient:
		return PendingDeletePatient
	case IntentGetScanResults:
		return PendingGetScanResults
	default:
		return PendingNone
	}
}

// Intent returns the intent a pending action resumes as on the next turn.
func (p PendingAction) Intent() Intent {
	switch p {
	case PendingCreatePatient:
		return IntentCreatePatient
	case PendingUpdatePatient:
		return IntentUpdatePatient
	case PendingDeletePatient:
		return IntentDeletePatient
	case PendingGetScanResults:
		return IntentGetScanResults
	default:
		return IntentUnknown
	}
}

// ConfirmationType names what a pending confirmation would authorise.
// Invariant: ConfirmationRequired is true exactly when the type is not NONE.
type ConfirmationType string

const (
	ConfirmNone        ConfirmationType = "NONE"
	ConfirmDelete      ConfirmationType = "DELETE"
	ConfirmDownloadSTL ConfirmationType = "DOWNLOAD_STL"
)

// IsValid reports whether c is a recognised confirmation type.
func (c ConfirmationType) IsValid() bool {
	switch c {
	case ConfirmNone, ConfirmDelete, ConfirmDownloadSTL:
		return true
	}
	return false
}

// DownloadStage tracks progress through the two-stage scan disclosure.
// STL URLs may be rendered only in the STL_LINKS_SENT transition.
type DownloadStage string

const (
	StageNone         DownloadStage = "NONE"
	StagePreviewShown DownloadStage = "PREVIEW_SHOWN"
	StageAwaitingSTL  DownloadStage = "AWAITING_STL_CONFIRM"
	StageSTLLinksSent DownloadStage = "STL_LINKS_SENT"
)

// IsValid reports whether d is a recognised download stage.
func (d DownloadStage) IsValid() bool {
	switch d {
	case StageNone, StagePreviewShown, StageAwaitingSTL, StageSTLLinksSent:
		return true
	}
	return false
}

// AgentOp is the outward hint returned to the client so it knows whether to
// refresh its local patient list after this turn.
type AgentOp string

const (
	OpCreate AgentOp = "CREATE"
	OpUpdate AgentOp = "UPDATE"
	OpDelete AgentOp = "DELETE"
	OpNone   AgentOp = "NONE"
)

// IsValid reports whether o is a recognised agent op.
func (o AgentOp) IsValid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete, OpNone:
		return true
	}
	return false
}
