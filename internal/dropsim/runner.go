package dropsim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/okian/neodrop/internal/domain/types"
	"github.com/okian/neodrop/pkg/logger"
)

func (c *Config) normalize() {
	if c.Accounts <= 0 {
		c.Accounts = DefaultAccounts
	}
	if c.Repeats <= 0 {
		c.Repeats = DefaultRepeats
	}
	if c.Invalid < 0 {
		c.Invalid = 0
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Run executes a simulation against cfg.BaseURL and returns its statistics.
// The global logger must be initialized.
func Run(ctx context.Context, cfg Config) (*Stats, error) {
	cfg.normalize()
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting drop simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("accounts", cfg.Accounts),
		logger.Int("repeats", cfg.Repeats),
		logger.Int("invalid", cfg.Invalid),
		logger.Int("workers", cfg.Workers))

	client := newHTTPClient(&cfg)

	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	var neo types.Neo
	if err := client.getJSON(ctx, "/neo", &neo); err != nil {
		return stats, fmt.Errorf("no current neo: %w", err)
	}
	stats.NeoID = neo.ID

	accounts := GenerateAccounts(cfg.Accounts)
	stats.AccountsGenerated = len(accounts)
	reports := BuildReports(accounts, cfg.Repeats, cfg.Invalid)

	submitReports(ctx, &cfg, client, reports, stats)

	listed, err := client.currentWinners(ctx)
	if err != nil {
		return stats, fmt.Errorf("winners retrieval failed: %w", err)
	}
	if err := verifyWinners(ctx, stats.NeoID, accounts, listed, stats); err != nil {
		return stats, fmt.Errorf("verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if cfg.OutputFile != "" {
		if err := saveStats(cfg.OutputFile, accounts, stats); err != nil {
			log.Warn(ctx, "failed to save report", logger.Error(err))
		}
	}
	return stats, nil
}

func checkServiceHealth(ctx context.Context, client *httpClient) error {
	resp, err := client.get(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	_ = resp.Body.Close()
	// The service answers with Prometheus metrics; any 200 is healthy.
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func saveStats(path string, accounts []string, stats *Stats) error {
	data, err := json.MarshalIndent(struct {
		Stats    *Stats   `json:"stats"`
		Accounts []string `json:"accounts"`
	}{stats, accounts}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, outputFilePermission)
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, reportsPerSecond float64
	if stats.ReportsSubmitted > 0 {
		successRate = float64(stats.ReportsRecorded) / float64(stats.ReportsSubmitted) * percentageMultiplier
	}
	if stats.Duration > 0 {
		reportsPerSecond = float64(stats.ReportsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.String("neo_id", stats.NeoID),
		logger.Int("accountsGenerated", stats.AccountsGenerated),
		logger.Int("reportsSubmitted", stats.ReportsSubmitted),
		logger.Int("reportsRecorded", stats.ReportsRecorded),
		logger.Int("reportsRejected", stats.ReportsRejected),
		logger.Int("reportsFailed", stats.ReportsFailed),
		logger.Int("retries", stats.Retries),
		logger.Int("winnersListed", stats.WinnersListed),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("reportsPerSecond", reportsPerSecond))
}
