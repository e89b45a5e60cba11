// Package tools exposes the six typed operations HydroChat may perform
// against the backend: create, list, get, update, and delete patient, plus
// listing a patient's scan results. Every operation records its masked
// exchange snapshot and counters into the conversation state, so the graph
// never talks to the envelope directly.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/hydrosense/hydrochat/internal/backend"
	"github.com/hydrosense/hydrochat/internal/observe"
	"github.com/hydrosense/hydrochat/internal/state"
	"github.com/hydrosense/hydrochat/pkg/types"
)

// ErrNotFound is returned when an id-scoped route answers 404.
var ErrNotFound = errors.New("tools: patient not found")

// Service wraps the REST envelope with the fixed tool surface. Safe for
// concurrent use across conversations; within one conversation the caller
// serialises turns.
type Service struct {
	client  *backend.Client
	metrics *observe.Metrics
}

// NewService creates a Service over client. metrics may be nil in tests.
func NewService(client *backend.Client, metrics *observe.Metrics) *Service {
	return &Service{client: client, metrics: metrics}
}

// CreatePatient issues POST /api/patients/. Read-only keys are stripped from
// the payload before the wire body is built.
func (s *Service) CreatePatient(ctx context.Context, st *state.ConversationState, p types.Patient) (*types.Patient, error) {
	p.ID = 0
	p.User = 0
	var created types.Patient
	if err := s.call(ctx, st, "create_patient", http.MethodPost, "/api/patients/", p, nil, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListPatients issues GET /api/patients/. The caller populates the name
// cache from the returned slice.
func (s *Service) ListPatients(ctx context.Context, st *state.ConversationState) ([]types.Patient, error) {
	var patients []types.Patient
	if err := s.call(ctx, st, "list_patients", http.MethodGet, "/api/patients/", nil, nil, &patients); err != nil {
		return nil, err
	}
	return patients, nil
}

// GetPatient issues GET /api/patients/{id}/. A 404 maps to [ErrNotFound].
func (s *Service) GetPatient(ctx context.Context, st *state.ConversationState, id int64) (*types.Patient, error) {
	var p types.Patient
	err := s.call(ctx, st, "get_patient", http.MethodGet, patientPath(id), nil, nil, &p)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &p, nil
}

// UpdatePatient issues PUT /api/patients/{id}/ with a full-object body.
// The merge against the current record is the graph's responsibility; this
// operation only enforces the wire rules (read-only keys stripped).
func (s *Service) UpdatePatient(ctx context.Context, st *state.ConversationState, id int64, p types.Patient) (*types.Patient, error) {
	p.ID = 0
	p.User = 0
	var updated types.Patient
	err := s.call(ctx, st, "update_patient", http.MethodPut, patientPath(id), p, nil, &updated)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &updated, nil
}

// DeletePatient issues DELETE /api/patients/{id}/. Destructive: callers must
// have passed the confirmation gate before invoking it.
func (s *Service) DeletePatient(ctx context.Context, st *state.ConversationState, id int64) error {
	if err := s.call(ctx, st, "delete_patient", http.MethodDelete, patientPath(id), nil, nil, nil); err != nil {
		return notFoundOr(err)
	}
	return nil
}

// ListScanResults issues GET /api/scan-results/?patient={id}. The backend
// orders results by descending creation time.
func (s *Service) ListScanResults(ctx context.Context, st *state.ConversationState, patientID int64) ([]types.ScanResult, error) {
	q := url.Values{"patient": []string{strconv.FormatInt(patientID, 10)}}
	var results []types.ScanResult
	if err := s.call(ctx, st, "list_scan_results", http.MethodGet, "/api/scan-results/", nil, q, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// call runs one logical envelope request and records the masked exchange and
// counters into st regardless of outcome.
func (s *Service) call(ctx context.Context, st *state.ConversationState, tool, method, path string, body any, query url.Values, out any) error {
	start := time.Now()
	res, ex, err := s.client.Request(ctx, method, path, body, query)
	elapsed := time.Since(start)

	st.LastToolRequest = ex.Request
	st.LastToolResponse = ex.Response
	st.LastToolError = ex.Error
	st.Metrics.TotalAPICalls++
	st.Metrics.Retries += ex.Retries

	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordToolCall(ctx, tool, status, elapsed)
		for i := int64(0); i < ex.Retries; i++ {
			s.metrics.RecordToolRetry(ctx, tool)
		}
	}

	if err != nil {
		return fmt.Errorf("tools: %s: %w", tool, err)
	}
	if out != nil && len(res.Body) > 0 {
		if uerr := json.Unmarshal(res.Body, out); uerr != nil {
			return fmt.Errorf("tools: %s: decode response: %w", tool, uerr)
		}
	}
	observe.Debug(ctx, observe.CategoryTool, "tool call succeeded",
		"tool", tool, "status", res.Status, "elapsed_ms", res.ElapsedMS)
	return nil
}

// patientPath builds the id-scoped patient route with its trailing slash.
func patientPath(id int64) string {
	return "/api/patients/" + strconv.FormatInt(id, 10) + "/"
}

// notFoundOr converts a 404 HTTPError into ErrNotFound, passing every other
// error through unchanged.
func notFoundOr(err error) error {
	var herr *backend.HTTPError
	if errors.As(err, &herr) && herr.NotFound() {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// ValidationFields extracts the failing field names from a 400 response
// body of the form {"field": ["problem", ...], ...}. The second return is
// false when err is not a field-mapped validation failure.
func ValidationFields(err error) ([]string, bool) {
	var herr *backend.HTTPError
	if !errors.As(err, &herr) || !herr.Validation() {
		return nil, false
	}
	var fieldErrs map[string]json.RawMessage
	if uerr := json.Unmarshal([]byte(herr.Body), &fieldErrs); uerr != nil || len(fieldErrs) == 0 {
		return nil, false
	}
	fields := make([]string, 0, len(fieldErrs))
	for f := range fieldErrs {
		if f == "detail" || f == "error" {
			continue
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil, false
	}
	sort.Strings(fields)
	return fields, true
}
