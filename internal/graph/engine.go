package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hydrosense/hydrochat/internal/intent"
	"github.com/hydrosense/hydrochat/internal/observe"
	"github.com/hydrosense/hydrochat/internal/resolve"
	"github.com/hydrosense/hydrochat/internal/state"
	"github.com/hydrosense/hydrochat/internal/tools"
	"github.com/hydrosense/hydrochat/pkg/provider/llm"
	"github.com/hydrosense/hydrochat/pkg/types"
)

// maxSteps bounds a single turn's node traversal. The longest legitimate
// path is well under this; hitting the cap means a routing cycle.
const maxSteps = 32

// summarizeAfterTurns is the turn count past which every turn re-derives the
// history summary.
const summarizeAfterTurns = 5

// maxInputRunes caps the stored user message length. Longer input is
// truncated before it enters the conversation window.
const maxInputRunes = 2000

type routeKey struct {
	from  nodeID
	token Token
}

// routes is the complete dispatch table. A (node, token) pair absent from
// this map is a routing bug and fails the turn loudly.
var routes = map[routeKey]nodeID{
	{nodeIngest, TokenNext}:    nodeClassify,
	{nodeIngest, TokenHandled}: nodeFinalize,

	{nodeClassify, TokenNext}:          nodeExtract,
	{nodeClassify, TokenUnknownIntent}: nodeFinalize,

	{nodeExtract, TokenNext}: nodeResolve,

	{nodeResolve, TokenNext}:          nodeAmbiguity,
	{nodeResolve, TokenResolveFailed}: nodeFinalize,

	{nodeAmbiguity, TokenAmbiguousPresent}: nodeFinalize,
	{nodeAmbiguity, TokenResolved}:         nodeCollect,

	{nodeCollect, TokenNeedMoreFields}: nodeFinalize,
	{nodeCollect, TokenFieldsComplete}: nodeGate,

	{nodeGate, TokenAwaitingConfirmation}: nodeFinalize,
	{nodeGate, TokenConfirmed}:            nodePrepare,
	{nodeGate, TokenRejected}:             nodeFinalize,
	{nodeGate, TokenConfirmedSTL}:         nodeSTLLinks,
	{nodeGate, TokenPaginationContinue}:   nodePaginate,
	{nodeGate, TokenScanFlow}:             nodeFetch,

	{nodePrepare, TokenNext}:            nodeExecute,
	{nodePrepare, TokenPrepareFailed}:   nodeToolError,
	{nodePrepare, TokenNothingToChange}: nodeFinalize,
	{nodePrepare, TokenMergeIncomplete}: nodeCollect,

	{nodeExecute, TokenNext}: nodeToolError,

	{nodeToolError, TokenValidationError}: nodeCollect,
	{nodeToolError, TokenRetryLater}:      nodeFinalize,
	{nodeToolError, TokenProceed}:         nodePostTool,

	{nodePostTool, TokenNext}: nodeFinalize,

	{nodeFetch, TokenNoResults}:    nodeFinalize,
	{nodeFetch, TokenResultsFound}: nodePaginate,
	{nodeFetch, TokenFetchFailed}:  nodeFinalize,

	{nodePaginate, TokenPageReady}: nodePreviews,

	{nodePreviews, TokenAwaitingSTLConfirm}: nodeFinalize,

	{nodeSTLLinks, TokenSTLLinksSent}: nodeFinalize,

	{nodeFinalize, TokenSummarize}: nodeSummarize,
	{nodeFinalize, TokenDone}:      nodeTerminal,
	{nodeSummarize, TokenDone}:     nodeTerminal,
}

// nodeTerminal is the pseudo-node that ends the traversal.
const nodeTerminal nodeID = "terminal"

// StoreStats is the conversation-store view the stats command renders. The
// server wires it in; a nil callback just omits the store lines.
type StoreStats struct {
	Active    int
	Evictions int64
}

// Config assembles an Engine. Tools, Resolver, Classifier, and Extractor are
// required; the rest default sensibly.
type Config struct {
	Tools      *tools.Service
	Resolver   *resolve.Resolver
	Classifier *intent.Classifier
	Extractor  *intent.Extractor

	Metrics   *observe.Metrics
	TurnStats *observe.TurnStats

	// StoreStats supplies conversation-store counters for the stats command.
	StoreStats func() StoreStats

	// InputRatePerMTok and OutputRatePerMTok price the LLM token counters in
	// the stats command. Zero rates render a zero cost.
	InputRatePerMTok  float64
	OutputRatePerMTok float64

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine drives one conversation turn through the node graph. It is
// stateless across turns; everything persistent lives in the conversation
// state, so a single Engine serves every conversation.
type Engine struct {
	tools      *tools.Service
	resolver   *resolve.Resolver
	classifier *intent.Classifier
	extractor  *intent.Extractor
	metrics    *observe.Metrics
	turnStats  *observe.TurnStats
	storeStats func() StoreStats
	inputRate  float64
	outputRate float64
	now        func() time.Time
}

// New builds an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Tools == nil || cfg.Resolver == nil || cfg.Classifier == nil || cfg.Extractor == nil {
		return nil, fmt.Errorf("graph: tools, resolver, classifier, and extractor are all required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		tools:      cfg.Tools,
		resolver:   cfg.Resolver,
		classifier: cfg.Classifier,
		extractor:  cfg.Extractor,
		metrics:    cfg.Metrics,
		turnStats:  cfg.TurnStats,
		storeStats: cfg.StoreStats,
		inputRate:  cfg.InputRatePerMTok,
		outputRate: cfg.OutputRatePerMTok,
		now:        now,
	}, nil
}

// Outcome is the result of one completed turn.
type Outcome struct {
	// Reply is the single assistant message for this turn, already masked.
	Reply string

	// AgentOp tells the client whether a patient record was created,
	// updated, or deleted this turn.
	AgentOp state.AgentOp

	// Intent is the turn's classification after any mid-flow resumption.
	Intent state.Intent

	// AwaitingConfirmation and MissingFields mirror the conversation state
	// at end of turn, for the response envelope.
	AwaitingConfirmation bool
	MissingFields        []string
}

// turn is the scratch space a single traversal threads between nodes.
// Anything that must survive the turn goes in the conversation state instead.
type turn struct {
	ctx      context.Context
	input    string
	resuming bool

	// noMask disables the finalize-time NRIC mask. Only the explicit
	// full-disclosure path sets it.
	noMask bool

	// reply collects the lines of the single outgoing message.
	reply []string

	op state.AgentOp

	// netTime accumulates time spent on the wire (backend plus LLM), so the
	// slow-turn detector can subtract it from the total.
	netTime time.Duration

	payload     *types.Patient
	changed     []string
	toolErr     error
	created     *types.Patient
	updated     *types.Patient
	fetched     *types.Patient
	listed      []types.Patient
	deletedName string
	window      []types.ScanResult

	finalReply string
}

// net runs fn and books its wall time as network time.
func (t *turn) net(fn func()) {
	start := time.Now()
	fn()
	t.netTime += time.Since(start)
}

// Turn processes one user message against st and produces the single
// assistant reply. The caller must hold the conversation's lock; the engine
// itself never locks state.
func (e *Engine) Turn(ctx context.Context, st *state.ConversationState, message string) (*Outcome, error) {
	start := time.Now()
	t := &turn{ctx: ctx, input: strings.TrimSpace(message), op: state.OpNone}

	cur := nodeIngest
	for steps := 0; steps < maxSteps; steps++ {
		token := e.step(cur, t, st)
		next, ok := routes[routeKey{cur, token}]
		if !ok {
			return nil, fmt.Errorf("graph: no route from %s on token %s", cur, token)
		}
		if next == nodeTerminal {
			e.recordTurn(ctx, st, start, t)
			return &Outcome{
				Reply:                t.finalReply,
				AgentOp:              t.op,
				Intent:               st.Intent,
				AwaitingConfirmation: st.ConfirmationRequired,
				MissingFields:        append([]string(nil), st.PendingFields...),
			}, nil
		}
		cur = next
	}
	return nil, fmt.Errorf("graph: turn exceeded %d steps at node %s", maxSteps, cur)
}

func (e *Engine) step(id nodeID, t *turn, st *state.ConversationState) Token {
	switch id {
	case nodeIngest:
		return e.ingest(t, st)
	case nodeClassify:
		return e.classify(t, st)
	case nodeExtract:
		return e.extract(t, st)
	case nodeResolve:
		return e.resolvePatient(t, st)
	case nodeAmbiguity:
		return e.ambiguity(t, st)
	case nodeCollect:
		return e.collect(t, st)
	case nodeGate:
		return e.gate(t, st)
	case nodePrepare:
		return e.prepare(t, st)
	case nodeExecute:
		return e.execute(t, st)
	case nodeToolError:
		return e.toolError(t, st)
	case nodePostTool:
		return e.postTool(t, st)
	case nodeFetch:
		return e.fetchScans(t, st)
	case nodePaginate:
		return e.paginate(t, st)
	case nodePreviews:
		return e.previews(t, st)
	case nodeSTLLinks:
		return e.stlLinks(t, st)
	case nodeSummarize:
		return e.summarize(t, st)
	case nodeFinalize:
		return e.finalize(t, st)
	}
	// Unreachable while the table and this switch stay in sync.
	return Token("INVALID_NODE:" + string(id))
}

func (e *Engine) recordTurn(ctx context.Context, st *state.ConversationState, start time.Time, t *turn) {
	total := time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordTurn(ctx, string(st.Intent), total)
	}
	if e.turnStats != nil && e.turnStats.Record(total, t.netTime) {
		observe.Warn(ctx, observe.CategoryError, "slow turn",
			"total_ms", total.Milliseconds(),
			"network_ms", t.netTime.Milliseconds(),
			"intent", string(st.Intent))
	}
}

// statsReply renders the developer stats command from the per-conversation
// counters and process-wide latency window.
func (e *Engine) statsReply(st *state.ConversationState) string {
	cost := llm.Usage{
		PromptTokens:     int(st.Metrics.LLMPromptTokens),
		CompletionTokens: int(st.Metrics.LLMCompletionTokens),
	}.Cost(e.inputRate, e.outputRate)

	var b strings.Builder
	b.WriteString("Agent stats:")
	fmt.Fprintf(&b, "\n- api_calls: %d (retries %d)", st.Metrics.TotalAPICalls, st.Metrics.Retries)
	fmt.Fprintf(&b, "\n- ops: %d succeeded, %d aborted", st.Metrics.SuccessfulOps, st.Metrics.AbortedOps)
	fmt.Fprintf(&b, "\n- cached_patients: %d", len(st.PatientCache))
	if !st.PatientCacheTimestamp.IsZero() {
		fmt.Fprintf(&b, "\n- cache_age_seconds: %.0f", e.now().Sub(st.PatientCacheTimestamp).Seconds())
	}
	fmt.Fprintf(&b, "\n- llm_tokens: %d prompt, %d completion (est. cost $%.4f)",
		st.Metrics.LLMPromptTokens, st.Metrics.LLMCompletionTokens, cost)
	if e.turnStats != nil {
		snap := e.turnStats.Snapshot()
		fmt.Fprintf(&b, "\n- turn_latency: p50 %dms, p95 %dms over %d sample(s)",
			snap.P50.Milliseconds(), snap.P95.Milliseconds(), snap.Samples)
		fmt.Fprintf(&b, "\n- slow_turns: %d of %d", snap.SlowTurns, snap.Turns)
	}
	if e.storeStats != nil {
		s := e.storeStats()
		fmt.Fprintf(&b, "\n- conversations: %d active, %d evicted", s.Active, s.Evictions)
	}
	return b.String()
}
