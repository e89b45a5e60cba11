package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hydrosense/hydrochat/internal/backend"
	"github.com/hydrosense/hydrochat/internal/state"
	"github.com/hydrosense/hydrochat/internal/tools"
)

const patientList = `[
	{"id":12,"first_name":"John","last_name":"Lee","nric":"S1234567A"},
	{"id":34,"first_name":"John","last_name":"Lee","nric":"T7654321K"},
	{"id":56,"first_name":"Alice","last_name":"Ng","nric":"G1111111B"}
]`

func newResolver(t *testing.T, handler http.HandlerFunc) (*Resolver, *state.ConversationState) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc := tools.NewService(backend.New(srv.URL, "", 2*time.Second), nil)
	return New(svc), state.New(nil)
}

func TestResolve_NumericIDBypassesCache(t *testing.T) {
	t.Parallel()

	var calls int32
	r, st := newResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(patientList))
	})

	res, err := r.Resolve(context.Background(), st, "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindMatched || res.ID != 42 {
		t.Errorf("got %+v, want matched id 42", res)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("numeric id must not trigger a list call")
	}
}

func TestResolve_SingleMatchCaseInsensitive(t *testing.T) {
	t.Parallel()

	r, st := newResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(patientList))
	})

	res, err := r.Resolve(context.Background(), st, "alice  NG")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindMatched || res.ID != 56 {
		t.Errorf("got %+v, want matched id 56", res)
	}
}

func TestResolve_AmbiguousReturnsMaskedCandidates(t *testing.T) {
	t.Parallel()

	r, st := newResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(patientList))
	})

	res, err := r.Resolve(context.Background(), st, "John Lee")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindAmbiguous || len(res.Candidates) != 2 {
		t.Fatalf("got %+v, want two candidates", res)
	}
	for _, c := range res.Candidates {
		if c.MaskedNRIC == "S1234567A" || c.MaskedNRIC == "T7654321K" {
			t.Errorf("candidate carries raw NRIC: %+v", c)
		}
	}
	if res.Candidates[0].MaskedNRIC != "S******7A" {
		t.Errorf("MaskedNRIC = %q, want S******7A", res.Candidates[0].MaskedNRIC)
	}
}

func TestResolve_NoMatchNeverGuesses(t *testing.T) {
	t.Parallel()

	r, st := newResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(patientList))
	})

	// "Jon Lee" is one letter off two cached patients; the contract forbids
	// fuzzy fallback.
	res, err := r.Resolve(context.Background(), st, "Jon Lee")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindNone {
		t.Errorf("got %+v, want none", res)
	}
}

func TestResolve_CacheReusedUntilStale(t *testing.T) {
	t.Parallel()

	var calls int32
	r, st := newResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(patientList))
	})

	now := time.Now()
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), st, "Alice Ng"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("list calls = %d, want 1 while fresh", got)
	}

	// Advance past the staleness threshold; the next resolve reloads.
	now = now.Add(state.CacheStaleAfter + time.Second)
	if _, err := r.Resolve(context.Background(), st, "Alice Ng"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("list calls = %d, want 2 after staleness", got)
	}
}

func TestResolve_ListFailureRetriedOnce(t *testing.T) {
	t.Parallel()

	var calls int32
	r, st := newResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// Non-retryable failure so the envelope does not retry inside
			// the first logical call.
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(patientList))
	})

	res, err := r.Resolve(context.Background(), st, "Alice Ng")
	if err != nil {
		t.Fatalf("unexpected error after one retry: %v", err)
	}
	if res.Kind != KindMatched || res.ID != 56 {
		t.Errorf("got %+v, want matched id 56", res)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("list calls = %d, want 2 (fail then retry)", got)
	}
}

func TestResolve_ListFailureAbandonsAfterRetry(t *testing.T) {
	t.Parallel()

	r, st := newResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := r.Resolve(context.Background(), st, "Alice Ng"); err == nil {
		t.Fatal("expected an error when both list attempts fail")
	}
}
