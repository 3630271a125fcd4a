// Package dropsim drives a running neodrop service with concurrent winner
// reports and checks that every account lands in the ledger exactly once.
package dropsim

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Accounts   int           // Distinct winner accounts to generate
	Repeats    int           // Reports sent per account
	Invalid    int           // Malformed reports mixed in
	Workers    int           // Concurrent reporters
	RatePerSec float64       // Client-side pacing; 0 sends as fast as possible
	MaxRetries int           // Retries on 409 and 429
	Timeout    time.Duration // HTTP request timeout
	OutputFile string        // Report file; empty skips it
	Verbose    bool
}

// Report is one POST /winners body.
type Report struct {
	Account string `json:"account"`
}

// Stats holds run statistics.
type Stats struct {
	AccountsGenerated int `json:"accounts_generated"`
	ReportsSubmitted  int `json:"reports_submitted"`
	ReportsRecorded   int `json:"reports_recorded"`
	ReportsRejected   int `json:"reports_rejected"`
	ReportsFailed     int `json:"reports_failed"`
	Retries           int `json:"retries"`
	WinnersListed     int `json:"winners_listed"`

	NeoID     string        `json:"neo_id"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}
