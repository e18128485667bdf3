package simulate

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/txguard/pkg/logger"
)

// action mix in percent; the remainder goes to payouts.
const (
	purchaseShare = 50
	tipShare      = 20
	giftShare     = 15
	callShare     = 10
)

var fundingSources = []string{"card", "card", "card", "bank", "prepaid", "gift_card"} //nolint:gochecknoglobals // weighted table

// generateRequests builds cfg.NumRequests requests spread over cfg.Actors
// actors. Replays reuse the body and idempotency key of an earlier request.
func generateRequests(ctx context.Context, cfg *Config) ([]Request, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // synthetic traffic
	logger.Get().Info(ctx, "generating requests",
		logger.Int("requests", cfg.NumRequests),
		logger.Int("actors", cfg.Actors),
		logger.Int64("seed", int64(seed)))

	actors := make([]string, max(cfg.Actors, 2))
	for i := range actors {
		actors[i] = fmt.Sprintf("sim-actor-%04d", i)
	}

	reqs := make([]Request, 0, cfg.NumRequests)
	for i := 0; i < cfg.NumRequests; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("generation cancelled: %w", err)
		}
		if len(reqs) > 0 && rng.Float64() < cfg.ReplayRatio {
			reqs = append(reqs, reqs[rng.IntN(len(reqs))])
			continue
		}
		reqs = append(reqs, generateOne(rng, actors))
	}
	return reqs, nil
}

func generateOne(rng *rand.Rand, actors []string) Request {
	actor := actors[rng.IntN(len(actors))]
	req := Request{ActorID: actor, IdempotencyKey: uuid.NewString()}

	switch p := rng.IntN(100); {
	case p < purchaseShare:
		req.ActionType = "purchase"
		req.AmountTokens = amount(rng, 100, 20000)
		req.PaymentMetadata = map[string]string{"funding": fundingSources[rng.IntN(len(fundingSources))]}
	case p < purchaseShare+tipShare:
		req.ActionType = "tip"
		req.AmountTokens = amount(rng, 10, 5000)
		req.TargetID = otherActor(rng, actors, actor)
	case p < purchaseShare+tipShare+giftShare:
		req.ActionType = "gift"
		req.AmountTokens = amount(rng, 50, 10000)
		req.TargetID = otherActor(rng, actors, actor)
	case p < purchaseShare+tipShare+giftShare+callShare:
		req.ActionType = "call"
		req.AmountTokens = amount(rng, 100, 3000)
		req.TargetID = otherActor(rng, actors, actor)
	default:
		req.ActionType = "payout"
		req.AmountTokens = amount(rng, 500, 50000)
		req.IdempotencyKey = ""
	}
	return req
}

// amount draws from a log-uniform distribution so small amounts dominate.
func amount(rng *rand.Rand, lo, hi int64) int64 {
	f := float64(lo) * math.Pow(float64(hi)/float64(lo), rng.Float64())
	return max(lo, min(hi, int64(f)))
}

func otherActor(rng *rand.Rand, actors []string, self string) string {
	for {
		if a := actors[rng.IntN(len(actors))]; a != self {
			return a
		}
	}
}
