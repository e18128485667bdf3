// Package idempotency deduplicates retried and concurrent mutation requests.
//
// A key moves LOCKED -> COMPLETED at most once per lock epoch. Begin takes the
// lock with an atomic set-if-not-exists; concurrent contenders observe either a
// conflict (still LOCKED) or the cached response (COMPLETED). Locks expire on
// their own so a crashed worker cannot wedge a key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/pkg/logger"
	"github.com/okian/txguard/pkg/metrics"
)

// Store is the subset of the shared counter store used for idempotency records.
type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// State of an idempotency record.
type State string

// Record states.
const (
	StateLocked    State = "LOCKED"
	StateCompleted State = "COMPLETED"
)

// Record is the stored form of an idempotency key.
type Record struct {
	Key       string    `json:"key"`
	State     State     `json:"state"`
	Owner     string    `json:"owner,omitempty"`
	Response  []byte    `json:"response,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Status is the outcome of Begin.
type Status string

// Begin outcomes.
const (
	StatusProceed  Status = "proceed"
	StatusReplay   Status = "replay"
	StatusConflict Status = "conflict"
)

// BeginResult is returned by Begin. Cached is set only for StatusReplay.
type BeginResult struct {
	Status Status
	Key    string
	Cached []byte
}

// Guard implements begin/complete/abort over a Store.
type Guard struct {
	store     Store
	clock     clock.Clock
	lockTTL   time.Duration
	resultTTL time.Duration
	log       logger.Logger
}

// New creates a guard over store.
func New(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:     store,
		clock:     clock.Real{},
		lockTTL:   10 * time.Second,
		resultTTL: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.Nop()
	}
	return g
}

// canonicalPayload is hashed when the client supplies no key.
// encoding/json writes map keys sorted, so metadata order does not matter.
type canonicalPayload struct {
	ActorID    string            `json:"a"`
	ActionType model.ActionType  `json:"t"`
	Amount     int64             `json:"n"`
	TargetID   string            `json:"r"`
	Metadata   map[string]string `json:"m"`
}

// KeyFor derives the record key for req. A client key is namespaced by actor;
// otherwise the key is a stable hash of the request payload.
func KeyFor(req model.TransactionRequest) string {
	if req.IdempotencyKey != "" {
		return fmt.Sprintf("idem:%s:%s", req.ActorID, req.IdempotencyKey)
	}
	raw, _ := json.Marshal(canonicalPayload{
		ActorID:    req.ActorID,
		ActionType: req.ActionType,
		Amount:     req.AmountTokens,
		TargetID:   req.TargetID,
		Metadata:   req.PaymentMetadata,
	})
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("idem:%s:h:%s", req.ActorID, hex.EncodeToString(sum[:]))
}

// Begin tries to take the lock for key on behalf of owner.
func (g *Guard) Begin(ctx context.Context, key, owner string) (BeginResult, error) {
	now := g.clock.Now()
	lock, err := encode(Record{Key: key, State: StateLocked, Owner: owner, ExpiresAt: now.Add(g.lockTTL)})
	if err != nil {
		return BeginResult{}, err
	}

	// Two attempts: the existing record may expire between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := g.store.SetIfAbsent(ctx, key, lock, g.lockTTL)
		if err != nil {
			return BeginResult{}, fmt.Errorf("%w: idempotency lock: %v", model.ErrDependencyUnavailable, err)
		}
		if ok {
			metrics.RecordIdempotencyOutcome(string(StatusProceed))
			return BeginResult{Status: StatusProceed, Key: key}, nil
		}

		raw, found, err := g.store.Get(ctx, key)
		if err != nil {
			return BeginResult{}, fmt.Errorf("%w: idempotency read: %v", model.ErrDependencyUnavailable, err)
		}
		if !found {
			continue
		}
		rec, err := decode(raw)
		if err != nil {
			return BeginResult{}, err
		}
		if rec.State == StateCompleted {
			metrics.RecordIdempotencyOutcome(string(StatusReplay))
			return BeginResult{Status: StatusReplay, Key: key, Cached: rec.Response}, nil
		}
		break
	}

	metrics.RecordIdempotencyOutcome(string(StatusConflict))
	return BeginResult{Status: StatusConflict, Key: key}, nil
}

// Complete caches response under key so later replays return it unchanged.
// It fails with ErrLockLost when another owner holds the lock and with
// ErrAlreadyCompleted when the key already carries a result.
func (g *Guard) Complete(ctx context.Context, key, owner string, response []byte) error {
	raw, found, err := g.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: idempotency read: %v", model.ErrDependencyUnavailable, err)
	}
	if found {
		rec, err := decode(raw)
		if err != nil {
			return err
		}
		switch {
		case rec.State == StateCompleted:
			return ErrAlreadyCompleted
		case rec.Owner != owner:
			return ErrLockLost
		}
	} else {
		// The lock expired before completion; the mutation already ran, so the
		// result is still cached to stop a re-execution.
		g.log.Warn(ctx, "idempotency lock expired before completion", logger.String("key", key))
	}

	done, err := encode(Record{
		Key:       key,
		State:     StateCompleted,
		Response:  response,
		ExpiresAt: g.clock.Now().Add(g.resultTTL),
	})
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, key, done, g.resultTTL); err != nil {
		return fmt.Errorf("%w: idempotency complete: %v", model.ErrDependencyUnavailable, err)
	}
	return nil
}

// Abort releases owner's lock without caching a result so a retry can proceed.
// Aborting a key that is gone is a no-op.
func (g *Guard) Abort(ctx context.Context, key, owner string) error {
	raw, found, err := g.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: idempotency read: %v", model.ErrDependencyUnavailable, err)
	}
	if !found {
		return nil
	}
	rec, err := decode(raw)
	if err != nil {
		return err
	}
	switch {
	case rec.State == StateCompleted:
		return ErrAlreadyCompleted
	case rec.Owner != owner:
		return ErrLockLost
	}
	if _, err := g.store.CompareAndDelete(ctx, key, raw); err != nil {
		return fmt.Errorf("%w: idempotency abort: %v", model.ErrDependencyUnavailable, err)
	}
	return nil
}

func encode(r Record) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode idempotency record: %w", err)
	}
	return string(b), nil
}

func decode(raw string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return r, nil
}
