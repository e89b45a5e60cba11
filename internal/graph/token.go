// Package graph is the control plane of HydroChat: the node functions, the
// closed routing table between them, and the turn loop that drives a
// conversation from the entry node to its single assistant reply.
//
// Nodes communicate only through the conversation state. Each node returns a
// control token from a closed set; dispatch is a table lookup from
// (node, token) to the next node, and an unrouted token fails the turn with
// a diagnostic instead of falling through.
package graph

// Token is a control token returned by a node. Only tokens present in the
// routing table are valid; anything else is a programming error.
type Token string

const (
	// TokenNext is the fall-through token of linear nodes.
	TokenNext Token = "NEXT"

	// TokenHandled short-circuits to finalize for turns fully handled at
	// ingest: cancellations, the stats command, cache refresh, and the
	// full-NRIC disclosure request.
	TokenHandled Token = "HANDLED"

	// TokenUnknownIntent ends the turn with a clarifying prompt.
	TokenUnknownIntent Token = "UNKNOWN_INTENT"

	// TokenResolveFailed ends the turn when a reference cannot be resolved:
	// no match, an unusable selection, or a failed cache refresh.
	TokenResolveFailed Token = "RESOLVE_FAILED"

	TokenAmbiguousPresent Token = "AMBIGUOUS_PRESENT"
	TokenResolved         Token = "RESOLVED"

	TokenNeedMoreFields Token = "NEED_MORE_FIELDS"
	TokenFieldsComplete Token = "FIELDS_COMPLETE"

	TokenAwaitingConfirmation Token = "AWAITING_CONFIRMATION"
	TokenConfirmed            Token = "CONFIRMED"
	TokenRejected             Token = "REJECTED"

	// TokenConfirmedSTL routes an affirmative STL answer to the disclosure
	// node rather than the tool pipeline.
	TokenConfirmedSTL Token = "CONFIRMED_STL"

	// TokenScanFlow forks a scan-results turn into the fetch/paginate path.
	TokenScanFlow Token = "SCAN_FLOW"

	// TokenPrepareFailed carries a payload-preparation failure (the
	// pre-update fetch) into error handling.
	TokenPrepareFailed Token = "PREPARE_FAILED"

	// TokenNothingToChange ends an update turn that names no field to change.
	TokenNothingToChange Token = "NOTHING_TO_CHANGE"

	// TokenMergeIncomplete re-enters the clarification loop when the merged
	// update object is missing a required field.
	TokenMergeIncomplete Token = "MERGE_INCOMPLETE"

	TokenValidationError Token = "VALIDATION_ERROR"
	TokenRetryLater      Token = "RETRY_LATER"
	TokenProceed         Token = "PROCEED"

	TokenNoResults    Token = "NO_RESULTS"
	TokenResultsFound Token = "RESULTS_FOUND"
	TokenFetchFailed  Token = "FETCH_FAILED"

	TokenPageReady          Token = "PAGE_READY"
	TokenAwaitingSTLConfirm Token = "AWAITING_STL_CONFIRM"
	TokenSTLLinksSent       Token = "STL_LINKS_SENT"

	// TokenPaginationContinue advances scan pagination instead of answering
	// the STL question.
	TokenPaginationContinue Token = "PAGINATION_CONTINUE"

	// TokenSummarize sends the turn through the history summariser before
	// terminating.
	TokenSummarize Token = "SUMMARIZE"

	// TokenDone terminates the turn. Only finalize and summarize may
	// return it.
	TokenDone Token = "DONE"
)

// nodeID names a node in the graph.
type nodeID string

const (
	nodeIngest    nodeID = "ingest_user_message"
	nodeClassify  nodeID = "classify_intent"
	nodeExtract   nodeID = "extract_entities_and_fields"
	nodeResolve   nodeID = "resolve_patient_reference"
	nodeAmbiguity nodeID = "handle_ambiguity"
	nodeCollect   nodeID = "collect_missing_fields"
	nodeGate      nodeID = "confirmation_gate"
	nodePrepare   nodeID = "prepare_tool_payload"
	nodeExecute   nodeID = "execute_tool"
	nodeToolError nodeID = "handle_tool_error"
	nodePostTool  nodeID = "update_state_post_tool"
	nodeFetch     nodeID = "fetch_scan_results"
	nodePaginate  nodeID = "paginate_scan_results"
	nodePreviews  nodeID = "format_scan_previews"
	nodeSTLLinks  nodeID = "provide_stl_links"
	nodeSummarize nodeID = "summarize_history"
	nodeFinalize  nodeID = "finalize_response"
)
