// Package simulate drives synthetic transaction traffic against a running
// guard service and reports the decision mix.
package simulate

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL     string        // Base URL of the service
	NumRequests int           // Number of requests to generate
	Actors      int           // Number of distinct actors
	Workers     int           // Number of concurrent workers
	Timeout     time.Duration // HTTP request timeout
	ReplayRatio float64       // Share of requests that resend an earlier idempotency key
	Seed        uint64        // Generator seed; 0 picks one from the clock
	OutputFile  string        // Optional JSON report path
	Verbose     bool          // Log every decision
}

// Request is one generated evaluation request.
type Request struct {
	ActorID         string            `json:"-"`
	IdempotencyKey  string            `json:"-"`
	ActionType      string            `json:"actionType"`
	AmountTokens    int64             `json:"amountTokens"`
	TargetID        string            `json:"targetId,omitempty"`
	PaymentMetadata map[string]string `json:"paymentMetadata,omitempty"`
}

// Decision is the subset of the guard response the simulator reads.
type Decision struct {
	Allowed        bool   `json:"allowed"`
	Code           string `json:"code"`
	DecisionID     string `json:"decisionId"`
	IdempotencyKey string `json:"idempotencyKey"`
	ReviewQueued   bool   `json:"reviewQueued"`
}

// Report holds run statistics.
type Report struct {
	Generated int              `json:"generated"`
	Submitted int              `json:"submitted"`
	Allowed   int              `json:"allowed"`
	Denied    int              `json:"denied"`
	Failed    int              `json:"failed"`
	Completed int              `json:"completed"`
	ByCode    map[string]int   `json:"byCode"`
	ByStatus  map[int]int      `json:"byStatus"`
	Started   time.Time        `json:"started"`
	Duration  time.Duration    `json:"duration"`
	Latency   LatencySummary   `json:"latency"`
	Actions   map[string]int   `json:"actions"`
	Errors    map[string]int64 `json:"errors,omitempty"`
}

// LatencySummary reports request latency percentiles.
type LatencySummary struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
	Max time.Duration `json:"max"`
}
