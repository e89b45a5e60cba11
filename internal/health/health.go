// Package health serves the liveness and readiness probes for the chat
// service. Liveness is unconditional; readiness runs the configured
// dependency checks (backend API, conversation store, LLM providers) in
// parallel and reports each one by name with its outcome and duration.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout caps each readiness check. A dependency that cannot answer
// within this window counts as down.
const checkTimeout = 5 * time.Second

// Checker probes one dependency.
type Checker struct {
	// Name keys the check in the /readyz response, e.g. "backend" or
	// "conversations".
	Name string

	// Check returns nil when the dependency can serve traffic. It must
	// honor ctx cancellation.
	Check func(ctx context.Context) error
}

// CheckResult is the per-dependency entry in the /readyz response.
type CheckResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

type report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler answers /healthz and /readyz. Safe for concurrent use; the check
// set is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] over the given checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz reports liveness: a process that reaches this handler is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every checker concurrently, each under its own
// [checkTimeout], and returns 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]CheckResult, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			res := CheckResult{Status: "ok", Elapsed: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	out := report{Status: "ok", Checks: make(map[string]CheckResult, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		out.Checks[c.Name] = results[i]
		if results[i].Status != "ok" {
			out.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, out)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
