// Package config defines service configuration and its loading.
//
// Values are layered: defaults from New, an optional YAML file named by
// NEODROP_CONFIG, then NEODROP_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Metadata drivers.
const (
	MetadataMemory = "memory"
	MetadataS3     = "s3"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the repository backend: memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN string `koanf:"postgres_dsn"`

	// FeedFile is the YAML candidate fixture. Its quizzes seed the quiz bank.
	FeedFile string `koanf:"feed_file"`
	// FeedLeadDays and FeedWindowDays place the candidate window after today (UTC).
	FeedLeadDays   int `koanf:"feed_lead_days"`
	FeedWindowDays int `koanf:"feed_window_days"`

	// MetadataDriver selects where token metadata is published: memory or s3.
	MetadataDriver string `koanf:"metadata_driver"`
	S3Bucket       string `koanf:"s3_bucket"`
	S3Region       string `koanf:"s3_region"`
	S3Endpoint     string `koanf:"s3_endpoint"`
	S3PathStyle    bool   `koanf:"s3_path_style"`
	// S3AccessKeyID and S3SecretAccessKey are optional static credentials;
	// without them the default AWS credentials chain is used.
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`
	MetadataBaseURL   string `koanf:"metadata_base_url"`
	ImageBaseURL      string `koanf:"image_base_url"`

	// SignerAddress is the account that mints and sends rewards.
	SignerAddress string `koanf:"signer_address"`
	// GateWaitTimeoutMS bounds waits for the transaction gate; 0 waits forever.
	GateWaitTimeoutMS int `koanf:"gate_wait_timeout_ms"`

	// QuizSchedule is a five-field cron spec read in UTC.
	QuizSchedule string `koanf:"quiz_schedule"`

	// DedupeSize bounds the winner dedupe cache.
	DedupeSize int `koanf:"dedupe_size"`
	// TriggerQueueSize bounds pending rotation triggers.
	TriggerQueueSize int `koanf:"trigger_queue_size"`

	// AdminToken guards operator routes. Empty disables them.
	AdminToken string `koanf:"admin_token"`

	// WinnerRatePerSec and WinnerBurst limit winner reports per client.
	WinnerRatePerSec float64 `koanf:"winner_rate_per_sec"`
	WinnerBurst      int     `koanf:"winner_burst"`

	// MaxTopLimit caps GET /neo/top/{attribute}?limit.
	MaxTopLimit int `koanf:"max_top_limit"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		StoreDriver:      StoreMemory,
		SQLitePath:       "neodrop.db",
		FeedLeadDays:     2,
		FeedWindowDays:   1,
		MetadataDriver:   MetadataMemory,
		S3Region:         "us-east-1",
		SignerAddress:    "0x00000000000000000000000000000000000000A1",
		QuizSchedule:     "0 0 * * *",
		DedupeSize:       50_000,
		TriggerQueueSize: 16,
		WinnerRatePerSec: 5,
		WinnerBurst:      10,
		MaxTopLimit:      100,
	}
}

// GateWaitTimeout returns GateWaitTimeoutMS as a duration.
func (c *Config) GateWaitTimeout() time.Duration {
	return time.Duration(c.GateWaitTimeoutMS) * time.Millisecond
}

// Validate checks the configuration. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(c.Addr) == "" {
		return invalid("addr must not be empty")
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return invalid("log_format %q is not text or json", c.LogFormat)
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return invalid("sqlite_path is required for the sqlite store")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return invalid("postgres_dsn is required for the postgres store")
		}
	default:
		return invalid("unknown store_driver %q", c.StoreDriver)
	}
	switch c.MetadataDriver {
	case MetadataMemory:
	case MetadataS3:
		if c.S3Bucket == "" {
			return invalid("s3_bucket is required for the s3 metadata driver")
		}
	default:
		return invalid("unknown metadata_driver %q", c.MetadataDriver)
	}
	if c.FeedLeadDays < 0 || c.FeedWindowDays < 1 {
		return invalid("feed window must have lead >= 0 and length >= 1 day")
	}
	if !common.IsHexAddress(c.SignerAddress) {
		return invalid("signer_address %q is not a hex address", c.SignerAddress)
	}
	if c.GateWaitTimeoutMS < 0 {
		return invalid("gate_wait_timeout_ms must not be negative")
	}
	if _, err := cron.ParseStandard(c.QuizSchedule); err != nil {
		return invalid("quiz_schedule %q: %v", c.QuizSchedule, err)
	}
	if c.DedupeSize < 1 || c.TriggerQueueSize < 1 || c.MaxTopLimit < 1 {
		return invalid("dedupe_size, trigger_queue_size and max_top_limit must be positive")
	}
	if c.WinnerRatePerSec <= 0 || c.WinnerBurst < 1 {
		return invalid("winner rate and burst must be positive")
	}
	return nil
}
