package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/neodrop/internal/dropsim"
	"github.com/okian/neodrop/pkg/logger"
)

const defaultRunTimeout = 10 * time.Minute

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the service")
		accounts = flag.Int("accounts", dropsim.DefaultAccounts, "Distinct winner accounts")
		repeats  = flag.Int("repeats", dropsim.DefaultRepeats, "Reports per account")
		invalid  = flag.Int("invalid", 0, "Malformed reports mixed in")
		workers  = flag.Int("workers", dropsim.DefaultWorkers, "Concurrent reporters")
		rps      = flag.Float64("rate", 0, "Client-side reports per second, 0 for unpaced")
		retries  = flag.Int("retries", dropsim.DefaultMaxRetries, "Retries on 409 and 429")
		timeout  = flag.Duration("timeout", dropsim.DefaultTimeout, "HTTP request timeout")
		output   = flag.String("output", "", "Write statistics and accounts as JSON")
		verbose  = flag.Bool("verbose", false, "Log progress")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		dropsim.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	_, err := dropsim.Run(ctx, dropsim.Config{
		BaseURL:    *baseURL,
		Accounts:   *accounts,
		Repeats:    *repeats,
		Invalid:    *invalid,
		Workers:    *workers,
		RatePerSec: *rps,
		MaxRetries: *retries,
		Timeout:    *timeout,
		OutputFile: *output,
		Verbose:    *verbose,
	})
	if err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		os.Exit(1)
	}
}
