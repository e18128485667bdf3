// Package velocity enforces rolling-window spend and action-count caps.
//
// All aggregates are read from the ledger at check time; nothing is cached
// locally because the ledger is the source of truth.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/pkg/logger"
)

// Ledger is the read access the guard needs.
type Ledger interface {
	SumSpend(ctx context.Context, identity string, since time.Time, categories []model.ActionType) (int64, error)
	CountActions(ctx context.Context, identity string, since time.Time, categories []model.ActionType) (int64, error)
}

// Result describes the binding window of a check.
// Current is the amount (or count) already used before this request.
type Result struct {
	Allowed   bool
	Family    string
	Window    time.Duration
	Current   int64
	Limit     int64
	Remaining int64
}

// Guard checks spend and action-count velocity.
type Guard struct {
	ledger Ledger
	cfg    Config
	clock  clock.Clock
	log    logger.Logger
}

// New creates a guard with cfg.
func New(ledger Ledger, cfg Config, opts ...Option) *Guard {
	g := &Guard{ledger: ledger, cfg: cfg, clock: clock.Real{}}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.Nop()
	}
	return g
}

// Tenure classifies an account age with the guard's boundaries.
func (g *Guard) Tenure(age time.Duration) TenureClass {
	return g.cfg.Tenure(age)
}

// CheckSpend verifies that spending amount keeps the identity within the
// hourly and daily caps of the action's spend family. Both windows must pass.
// On ledger errors it returns an allowed result together with the error.
func (g *Guard) CheckSpend(ctx context.Context, identity string, action model.ActionType, amount int64, tenure TenureClass) (Result, error) {
	fam, ok := g.cfg.FamilyFor(action)
	if !ok {
		return Result{Allowed: true}, nil
	}
	limits, ok := fam.Limits[tenure]
	if !ok {
		return Result{Allowed: true, Family: fam.Name}, fmt.Errorf("%w: %s/%s", ErrUnknownTenure, fam.Name, tenure)
	}

	now := g.clock.Now()
	windows := []struct {
		d     time.Duration
		limit int64
	}{
		{time.Hour, limits.Hourly},
		{24 * time.Hour, limits.Daily},
	}

	var binding *Result
	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		current, err := g.ledger.SumSpend(ctx, identity, now.Add(-w.d), fam.Categories)
		if err != nil {
			return g.degraded(ctx, "spend", identity, Result{Family: fam.Name}, err)
		}
		r := Result{
			Allowed:   current+amount <= w.limit,
			Family:    fam.Name,
			Window:    w.d,
			Current:   current,
			Limit:     w.limit,
			Remaining: max(0, w.limit-current),
		}
		if !r.Allowed {
			return r, nil
		}
		if binding == nil || r.Remaining < binding.Remaining {
			binding = &r
		}
	}
	if binding == nil {
		return Result{Allowed: true, Family: fam.Name}, nil
	}
	return *binding, nil
}

// CheckActionCount verifies the hourly action cap for category. Caps apply
// regardless of tenure.
func (g *Guard) CheckActionCount(ctx context.Context, identity string, category model.ActionType) (Result, error) {
	limit := g.cfg.ActionCaps[category]
	if limit <= 0 {
		return Result{Allowed: true, Family: string(category)}, nil
	}
	count, err := g.ledger.CountActions(ctx, identity, g.clock.Now().Add(-time.Hour), []model.ActionType{category})
	if err != nil {
		return g.degraded(ctx, "action_count", identity, Result{Family: string(category)}, err)
	}
	return Result{
		Allowed:   count+1 <= limit,
		Family:    string(category),
		Window:    time.Hour,
		Current:   count,
		Limit:     limit,
		Remaining: max(0, limit-count),
	}, nil
}

func (g *Guard) degraded(ctx context.Context, kind, identity string, r Result, err error) (Result, error) {
	g.log.Warn(ctx, "velocity read failed, allowing request",
		logger.String("check", kind),
		logger.String("identity", identity),
		logger.Error(err),
	)
	r.Allowed = true
	return r, fmt.Errorf("%w: velocity %s: %v", model.ErrDependencyUnavailable, kind, err)
}
