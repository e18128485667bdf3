package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/txguard/internal/simulate"
	"github.com/okian/txguard/pkg/logger"
)

// Default configuration constants.
const (
	defaultRequests    = 5000
	defaultActors      = 200
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultReplay      = 0.05
	defaultTimeout     = 10 * time.Second
	defaultRunDeadline = 10 * time.Minute
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "Base URL of the service")
		requests = flag.Int("requests", defaultRequests, "Number of requests to generate and submit")
		actors   = flag.Int("actors", defaultActors, "Number of distinct actors")
		workers  = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		replay   = flag.Float64("replay", defaultReplay, "Share of requests that resend an earlier idempotency key")
		seed     = flag.Uint64("seed", 0, "Generator seed, 0 for a random one")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		output   = flag.String("output", "", "Write the JSON report to this file")
		verbose  = flag.Bool("verbose", false, "Log every decision")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunDeadline)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:     *baseURL,
		NumRequests: *requests,
		Actors:      *actors,
		Workers:     max(1, *workers),
		Timeout:     *timeout,
		ReplayRatio: *replay,
		Seed:        *seed,
		OutputFile:  *output,
		Verbose:     *verbose,
	}

	if _, err := simulate.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("simulation failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
