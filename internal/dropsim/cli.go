package dropsim

import "os"

// ShowHelp prints usage information for drop-sim.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`drop-sim
========

Reports concurrent winners to a running neodrop service, repeating each
account, then checks GET /winners lists every account exactly once.

Usage:
  go run ./cmd/drop-sim [options]

Options:
  -url string        Base URL of the service (default "http://localhost:9080")
  -accounts int      Distinct winner accounts (default 200)
  -repeats int       Reports per account (default 3)
  -invalid int       Malformed reports mixed in (default 0)
  -workers int       Concurrent reporters (default 8)
  -rate float        Client-side reports per second, 0 for unpaced
  -retries int       Retries on 409 and 429 (default 5)
  -timeout duration  HTTP request timeout (default 10s)
  -output string     Write statistics and accounts as JSON
  -verbose           Log progress
  -help              Show this help message

The service limits winner reports per client address; raise
NEODROP_WINNER_RATE_PER_SEC or pass -rate to stay under it.
`)
}
