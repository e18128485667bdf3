package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/txguard/internal/domain/guard"
	"github.com/okian/txguard/internal/domain/idempotency"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/pkg/logger"
)

const maxBodyBytes = 1 << 20

type evaluateRequest struct {
	ActionType      string            `json:"actionType"`
	AmountTokens    int64             `json:"amountTokens"`
	TargetID        string            `json:"targetId,omitempty"`
	PaymentMetadata map[string]string `json:"paymentMetadata,omitempty"`
	IdempotencyKey  string            `json:"idempotencyKey,omitempty"`
}

type settleRequest struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	DecisionID     string          `json:"decisionId"`
	Response       json.RawMessage `json:"response,omitempty"`
}

func (s settleRequest) validate() error {
	switch {
	case s.IdempotencyKey == "":
		return errors.New("missing idempotencyKey")
	case s.DecisionID == "":
		return errors.New("missing decisionId")
	}
	return nil
}

// GuardHandler serves the evaluate, complete and abort endpoints.
type GuardHandler struct {
	guard Guard
	log   logger.Logger
}

// NewGuardHandler creates a handler over g. Server-side failures are logged to log.
func NewGuardHandler(g Guard, log logger.Logger) *GuardHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GuardHandler{guard: g, log: log}
}

// HandleEvaluate handles POST /v1/guard/evaluate.
func (h *GuardHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	const op = "api.evaluate"
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, h.log, http.StatusUnauthorized, "unauthorized", NewKind(op, err))
		return
	}

	var body evaluateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, r, h.log, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	action, ok := model.ParseActionType(body.ActionType)
	if !ok {
		writeError(w, r, h.log, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("unknown actionType")))
		return
	}
	key := body.IdempotencyKey
	if hk := r.Header.Get(IdempotencyHeader); hk != "" {
		key = hk
	}

	d, err := h.guard.Evaluate(r.Context(), model.TransactionRequest{
		ActorID:         actor,
		ActionType:      action,
		AmountTokens:    body.AmountTokens,
		TargetID:        body.TargetID,
		PaymentMetadata: body.PaymentMetadata,
		IdempotencyKey:  key,
	})
	if err != nil {
		status, code := statusForError(err)
		writeError(w, r, h.log, status, code, err)
		return
	}
	writeDecision(w, d)
}

// HandleComplete handles POST /v1/guard/complete.
func (h *GuardHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, "api.complete", func(actor string, req settleRequest) error {
		return h.guard.Complete(r.Context(), actor, req.IdempotencyKey, req.DecisionID, req.Response)
	})
}

// HandleAbort handles POST /v1/guard/abort.
func (h *GuardHandler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, "api.abort", func(actor string, req settleRequest) error {
		return h.guard.Abort(r.Context(), actor, req.IdempotencyKey, req.DecisionID)
	})
}

func (h *GuardHandler) settle(w http.ResponseWriter, r *http.Request, op string, fn func(string, settleRequest) error) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, h.log, http.StatusUnauthorized, "unauthorized", NewKind(op, err))
		return
	}
	var body settleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, r, h.log, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, r, h.log, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	err = fn(actor, body)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, guard.ErrForeignKey):
		writeError(w, r, h.log, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, idempotency.ErrLockLost), errors.Is(err, idempotency.ErrAlreadyCompleted):
		writeError(w, r, h.log, http.StatusConflict, "conflict", err)
	default:
		status, code := statusForError(err)
		writeError(w, r, h.log, status, code, err)
	}
}
