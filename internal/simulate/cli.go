package simulate

import (
	"os"
)

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Transaction Guard Simulator
===========================

Fires synthetic purchase, tip, gift, call and payout requests at a running
guard service and prints the decision code histogram.

Usage:
  guard-sim [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:8080")
  -requests int
        Number of requests to generate and submit (default 5000)
  -actors int
        Number of distinct actors (default 200)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -replay float
        Share of requests that resend an earlier idempotency key (default 0.05)
  -seed uint
        Generator seed, 0 for a random one
  -timeout duration
        HTTP request timeout (default 10s)
  -output string
        Write the JSON report to this file
  -verbose
        Log every decision
  -help
        Show this help message

Examples:
  guard-sim -requests 20000 -workers 32
  guard-sim -actors 10 -replay 0.2 -seed 42 -output report.json
`)
}
