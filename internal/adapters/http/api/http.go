// Package api exposes the guard pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/internal/domain/types"
	"github.com/okian/txguard/pkg/logger"
)

// ActorHeader carries the authenticated actor id set by the upstream gateway.
const ActorHeader = "X-Actor-ID"

// IdempotencyHeader may carry the client idempotency key instead of the body.
const IdempotencyHeader = "Idempotency-Key"

// Guard is the pipeline the handlers drive.
type Guard interface {
	Evaluate(ctx context.Context, req model.TransactionRequest) (types.Decision, error)
	Complete(ctx context.Context, actorID, key, decisionID string, response []byte) error
	Abort(ctx context.Context, actorID, key, decisionID string) error
}

// Server wires HTTP routes for the guard API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	guardHandler  *GuardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(guard Guard, stats StatsProvider, opts ...Option) *Server {
	cfg := serverConfig{log: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler: NewHealthHandler(cfg.checks...),
		statsHandler:  NewStatsHandler(stats),
		guardHandler:  NewGuardHandler(guard, cfg.log),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/guard/evaluate", Instrument(s.guardHandler.HandleEvaluate, "evaluate"))
	mux.HandleFunc("POST /v1/guard/complete", Instrument(s.guardHandler.HandleComplete, "complete"))
	mux.HandleFunc("POST /v1/guard/abort", Instrument(s.guardHandler.HandleAbort, "abort"))
	mux.HandleFunc("GET /healthz", Instrument(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", Instrument(s.statsHandler.HandleStats, "stats"))
	mux.Handle("GET /metrics", MetricsHandler())
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with code and a message. Server-side failures get only the
// status text; the wrapped error goes to the log.
func writeError(w http.ResponseWriter, r *http.Request, log logger.Logger, status int, code string, err error) {
	msg := http.StatusText(status)
	switch {
	case status >= http.StatusInternalServerError:
		if err != nil {
			log.Error(r.Context(), "request failed",
				logger.String("path", r.URL.Path),
				logger.Int("status", status),
				logger.Error(err),
			)
		}
	case err != nil:
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor maps a decision to its HTTP status.
func statusFor(d types.Decision) int {
	if d.Allowed {
		return http.StatusOK
	}
	switch d.Code {
	case types.CodeRateLimited:
		return http.StatusTooManyRequests
	case types.CodeIdempotentConflict:
		return http.StatusConflict
	case types.CodeIdempotentReplay:
		return http.StatusOK
	}
	return http.StatusForbidden
}

func writeDecision(w http.ResponseWriter, d types.Decision) {
	if d.RetryAfterSeconds != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*d.RetryAfterSeconds))
	}
	if d.Code == types.CodeIdempotentReplay && len(d.Replay) > 0 {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(d.Replay)
		return
	}
	writeJSON(w, statusFor(d), d)
}

func actorFrom(r *http.Request) (string, error) {
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		return "", ErrUnauthorized
	}
	return actor, nil
}

// statusForError maps pipeline errors to HTTP statuses.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, model.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}
