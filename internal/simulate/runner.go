package simulate

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/txguard/pkg/logger"
)

// Run executes a complete simulation and returns its report.
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	log := logger.Get()
	log.Info(ctx, "starting guard simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("requests", cfg.NumRequests),
		logger.Int("actors", cfg.Actors),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout),
		logger.Float64("replayRatio", cfg.ReplayRatio))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	reqs, err := generateRequests(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("request generation failed: %w", err)
	}

	rep := submit(ctx, cfg, client, reqs)

	if cfg.OutputFile != "" {
		if err := saveReport(cfg.OutputFile, rep); err != nil {
			log.Warn(ctx, "failed to save report", logger.Error(err))
		}
	}
	displayReport(ctx, rep)
	return rep, nil
}

type tally struct {
	mu        sync.Mutex
	byCode    map[string]int
	byStatus  map[int]int
	actions   map[string]int
	errors    map[string]int64
	latencies []time.Duration

	submitted, allowed, denied, failed, completed atomic.Int64
}

func (t *tally) observe(r Request, status int, d Decision, elapsed time.Duration, err error) {
	t.submitted.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions[r.ActionType]++
	t.latencies = append(t.latencies, elapsed)
	if err != nil {
		t.failed.Add(1)
		t.errors[err.Error()]++
		return
	}
	t.byStatus[status]++
	t.byCode[d.Code]++
	if d.Allowed {
		t.allowed.Add(1)
	} else {
		t.denied.Add(1)
	}
}

// submit sends reqs through a worker pool. Allowed spend decisions are
// completed so later replays of the same key hit the cached response.
func submit(ctx context.Context, cfg *Config, client *HTTPClient, reqs []Request) *Report {
	log := logger.Get()
	t := &tally{
		byCode:   map[string]int{},
		byStatus: map[int]int{},
		actions:  map[string]int{},
		errors:   map[string]int64{},
	}
	start := time.Now()

	work := make(chan Request, cfg.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range work {
				began := time.Now()
				status, d, err := client.Evaluate(ctx, r)
				t.observe(r, status, d, time.Since(began), err)
				if err != nil {
					continue
				}
				if cfg.Verbose {
					log.Info(ctx, "decision",
						logger.String("actor", r.ActorID),
						logger.String("action", r.ActionType),
						logger.Int64("amount", r.AmountTokens),
						logger.Int("status", status),
						logger.String("code", d.Code))
				}
				if d.Allowed && d.IdempotencyKey != "" {
					if err := client.Complete(ctx, r.ActorID, d); err != nil {
						log.Warn(ctx, "complete failed", logger.String("decision_id", d.DecisionID), logger.Error(err))
						continue
					}
					t.completed.Add(1)
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, r := range reqs {
			select {
			case <-ctx.Done():
				return
			case work <- r:
			}
		}
	}()
	wg.Wait()

	return &Report{
		Generated: len(reqs),
		Submitted: int(t.submitted.Load()),
		Allowed:   int(t.allowed.Load()),
		Denied:    int(t.denied.Load()),
		Failed:    int(t.failed.Load()),
		Completed: int(t.completed.Load()),
		ByCode:    t.byCode,
		ByStatus:  t.byStatus,
		Actions:   t.actions,
		Errors:    t.errors,
		Started:   start,
		Duration:  time.Since(start),
		Latency:   summarize(t.latencies),
	}
}

func summarize(lat []time.Duration) LatencySummary {
	if len(lat) == 0 {
		return LatencySummary{}
	}
	s := slices.Clone(lat)
	slices.Sort(s)
	at := func(p float64) time.Duration {
		return s[min(len(s)-1, int(p*float64(len(s))))]
	}
	return LatencySummary{P50: at(0.50), P95: at(0.95), P99: at(0.99), Max: s[len(s)-1]}
}

func saveReport(path string, rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// displayReport logs the totals and the decision code histogram, most frequent first.
func displayReport(ctx context.Context, rep *Report) {
	log := logger.Get()
	var rps float64
	if rep.Duration > 0 {
		rps = float64(rep.Submitted) / rep.Duration.Seconds()
	}
	log.Info(ctx, "simulation finished",
		logger.Int("submitted", rep.Submitted),
		logger.Int("allowed", rep.Allowed),
		logger.Int("denied", rep.Denied),
		logger.Int("failed", rep.Failed),
		logger.Int("completed", rep.Completed),
		logger.Duration("duration", rep.Duration),
		logger.Float64("requestsPerSecond", rps),
		logger.Duration("p50", rep.Latency.P50),
		logger.Duration("p99", rep.Latency.P99))

	codes := make([]string, 0, len(rep.ByCode))
	for c := range rep.ByCode {
		codes = append(codes, c)
	}
	slices.SortFunc(codes, func(a, b string) int {
		if n := rep.ByCode[b] - rep.ByCode[a]; n != 0 {
			return n
		}
		return cmp.Compare(a, b)
	})
	for _, c := range codes {
		log.Info(ctx, "decision code", logger.String("code", c), logger.Int("count", rep.ByCode[c]))
	}
}
