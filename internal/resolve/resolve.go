// Package resolve turns a user-supplied patient reference — a numeric id or
// a full name — into a backend patient id using the per-conversation cache.
// It never guesses: zero matches is a miss, and two or more matches are
// returned as candidates for explicit disambiguation. Fuzzy or phonetic
// matching is deliberately absent.
package resolve

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hydrosense/hydrochat/internal/redact"
	"github.com/hydrosense/hydrochat/internal/state"
	"github.com/hydrosense/hydrochat/internal/tools"
)

// Kind classifies a resolution outcome.
type Kind int

const (
	// KindMatched means exactly one patient matched; Result.ID is set.
	KindMatched Kind = iota

	// KindAmbiguous means two or more patients matched; Result.Candidates
	// carries them with masked NRICs.
	KindAmbiguous

	// KindNone means no patient matched the reference.
	KindNone
)

// Result is the outcome of one resolution attempt.
type Result struct {
	Kind       Kind
	ID         int64
	Candidates []state.Candidate
}

// Resolver resolves references against the conversation's patient cache,
// refreshing it through the list tool when stale.
type Resolver struct {
	tools *tools.Service

	// now is swappable for staleness tests.
	now func() time.Time
}

// New creates a Resolver over the given tool service.
func New(svc *tools.Service) *Resolver {
	return &Resolver{tools: svc, now: time.Now}
}

// Resolve maps ref to a patient id. A purely numeric ref is returned
// verbatim without touching the cache. Name lookups refresh the cache when
// it is empty or older than the staleness threshold; a failed refresh is
// retried once before the attempt is abandoned with an error the caller
// must surface to the user.
func (r *Resolver) Resolve(ctx context.Context, st *state.ConversationState, ref string) (Result, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Result{Kind: KindNone}, nil
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		return Result{Kind: KindMatched, ID: id}, nil
	}

	if err := r.ensureFresh(ctx, st); err != nil {
		return Result{}, err
	}

	query := normalizeName(ref)
	var matches []state.Candidate
	for _, p := range st.PatientCache {
		if normalizeName(p.FullName()) == query {
			matches = append(matches, state.Candidate{
				ID:          p.ID,
				DisplayName: p.FullName(),
				MaskedNRIC:  redact.MaskNRIC(p.NRIC),
			})
		}
	}

	switch len(matches) {
	case 0:
		return Result{Kind: KindNone}, nil
	case 1:
		return Result{Kind: KindMatched, ID: matches[0].ID}, nil
	default:
		return Result{Kind: KindAmbiguous, Candidates: matches}, nil
	}
}

// ensureFresh reloads the patient cache when it is stale, retrying the list
// call once on failure.
func (r *Resolver) ensureFresh(ctx context.Context, st *state.ConversationState) error {
	if !st.CacheStale(r.now()) {
		return nil
	}
	patients, err := r.tools.ListPatients(ctx, st)
	if err != nil {
		patients, err = r.tools.ListPatients(ctx, st)
		if err != nil {
			return fmt.Errorf("resolve: refresh patient list: %w", err)
		}
	}
	st.SetPatientCache(patients, r.now())
	return nil
}

// normalizeName lowercases a name and collapses runs of whitespace so the
// comparison is insensitive to case and spacing but nothing else.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
