// Package server is the HTTP facade over the conversation engine: a single
// POST /converse endpoint plus health probes and the Prometheus scrape
// endpoint. The facade owns conversation id issuance and the store
// acquire/release bracket; everything conversational happens in the graph.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hydrosense/hydrochat/internal/config"
	"github.com/hydrosense/hydrochat/internal/convo"
	"github.com/hydrosense/hydrochat/internal/graph"
	"github.com/hydrosense/hydrochat/internal/health"
	"github.com/hydrosense/hydrochat/internal/observe"
	"github.com/hydrosense/hydrochat/internal/state"
)

// shutdownTimeout bounds graceful drain on exit.
const shutdownTimeout = 10 * time.Second

// Config assembles a Server.
type Config struct {
	// ListenAddr is the host:port to bind.
	ListenAddr string

	// TLS enables HTTPS when non-nil.
	TLS *config.TLSConfig

	// Engine drives conversation turns. Required.
	Engine *graph.Engine

	// Store retains conversation state between turns. Required.
	Store convo.Store

	// Metrics instruments the HTTP layer. Optional.
	Metrics *observe.Metrics

	// ReadyChecks are evaluated by /readyz in order.
	ReadyChecks []health.Checker
}

// Server is the HTTP facade.
type Server struct {
	httpSrv *http.Server
	tls     *config.TLSConfig
	engine  *graph.Engine
	store   convo.Store
}

// New wires the routes and middleware. It does not start listening; call
// [Server.Run].
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Store == nil {
		return nil, fmt.Errorf("server: engine and store are required")
	}

	s := &Server{
		engine: cfg.Engine,
		store:  cfg.Store,
		tls:    cfg.TLS,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /converse", s.handleConverse)

	health.New(cfg.ReadyChecks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           observe.Middleware(cfg.Metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler exposes the assembled handler chain, for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Run serves until ctx is cancelled, then drains in-flight requests within
// [shutdownTimeout].
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if s.tls != nil {
			err = s.httpSrv.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(drainCtx)
	})

	return g.Wait()
}

// converseRequest is the POST /converse body. MessageID is accepted for
// client-side idempotency bookkeeping and validated but otherwise unused.
type converseRequest struct {
	ConversationID string  `json:"conversation_id"`
	Message        string  `json:"message"`
	MessageID      *string `json:"message_id"`
}

type converseResponse struct {
	ConversationID string             `json:"conversation_id"`
	Messages       []converseMessage  `json:"messages"`
	AgentState     converseAgentState `json:"agent_state"`
	AgentOp        string             `json:"agent_op"`
}

type converseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type converseAgentState struct {
	Intent               string   `json:"intent"`
	AwaitingConfirmation bool     `json:"awaiting_confirmation"`
	MissingFields        []string `json:"missing_fields"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleConverse(w http.ResponseWriter, r *http.Request) {
	var req converseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Detail: "request body is not valid JSON"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Detail: "message must not be empty"})
		return
	}
	if req.MessageID != nil && *req.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Detail: "message_id must not be empty when present"})
		return
	}

	id := req.ConversationID
	if id == "" {
		id = uuid.NewString()
	}
	if req.MessageID != nil {
		slog.DebugContext(r.Context(), "client message id", "message_id", *req.MessageID)
	}

	handle, err := s.store.Acquire(r.Context(), id)
	if err != nil {
		observe.Error(r.Context(), observe.CategoryError, "conversation acquire failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "server"})
		return
	}

	out, turnErr := s.engine.Turn(r.Context(), handle.State, req.Message)
	if err := handle.Release(r.Context()); err != nil {
		observe.Error(r.Context(), observe.CategoryError, "conversation release failed", "err", err)
	}
	if turnErr != nil {
		observe.Error(r.Context(), observe.CategoryError, "turn failed", "err", turnErr)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "server"})
		return
	}

	writeJSON(w, http.StatusOK, converseResponse{
		ConversationID: id,
		Messages: []converseMessage{
			{Role: string(state.RoleAssistant), Content: out.Reply},
		},
		AgentState: converseAgentState{
			Intent:               string(out.Intent),
			AwaitingConfirmation: out.AwaitingConfirmation,
			MissingFields:        out.MissingFields,
		},
		AgentOp: string(out.AgentOp),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
