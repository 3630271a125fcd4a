package dropsim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/neodrop/internal/domain/types"
	"github.com/okian/neodrop/pkg/logger"
)

// httpClient wraps http.Client with optional client-side pacing.
type httpClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func newHTTPClient(cfg *Config) *httpClient {
	c := &httpClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return c
}

func (c *httpClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

func (c *httpClient) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// getJSON decodes a 200 response of path into v.
func (c *httpClient) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// currentWinners fetches GET /winners.
func (c *httpClient) currentWinners(ctx context.Context) (types.Winners, error) {
	var w types.Winners
	err := c.getJSON(ctx, "/winners", &w)
	return w, err
}

// submitReports posts reports from cfg.Workers goroutines.
func submitReports(ctx context.Context, cfg *Config, client *httpClient, reports []Report, stats *Stats) {
	log := logger.Get()
	log.Info(ctx, "submitting winner reports",
		logger.Int("reports", len(reports)),
		logger.Int("workers", cfg.Workers))

	var submitted, recorded, rejected, failed, retries atomic.Int64
	var lastReport atomic.Int64

	ch := make(chan Report, cfg.Workers*workerChannelMultiplier)
	var wg sync.WaitGroup
	for range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range ch {
				outcome, tries := submitReport(ctx, cfg, client, r)
				submitted.Add(1)
				retries.Add(int64(tries))
				switch outcome {
				case outcomeRecorded:
					recorded.Add(1)
				case outcomeRejected:
					rejected.Add(1)
				default:
					failed.Add(1)
				}

				now := time.Now().UnixNano()
				last := lastReport.Load()
				if cfg.Verbose && now-last >= int64(progressInterval) && lastReport.CompareAndSwap(last, now) {
					log.Info(ctx, "progress",
						logger.Int64("submitted", submitted.Load()),
						logger.Int("total", len(reports)),
						logger.Int64("recorded", recorded.Load()),
						logger.Int64("rejected", rejected.Load()),
						logger.Int64("failed", failed.Load()))
				}
			}
		}()
	}

	go func() {
		defer close(ch)
		for _, r := range reports {
			select {
			case <-ctx.Done():
				return
			case ch <- r:
			}
		}
	}()
	wg.Wait()

	stats.ReportsSubmitted = int(submitted.Load())
	stats.ReportsRecorded = int(recorded.Load())
	stats.ReportsRejected = int(rejected.Load())
	stats.ReportsFailed = int(failed.Load())
	stats.Retries = int(retries.Load())

	log.Info(ctx, "winner reports submitted",
		logger.Int("recorded", stats.ReportsRecorded),
		logger.Int("rejected", stats.ReportsRejected),
		logger.Int("failed", stats.ReportsFailed),
		logger.Int("retries", stats.Retries))
}

// submitReport posts one report, retrying while the service asks to.
func submitReport(ctx context.Context, cfg *Config, client *httpClient, r Report) (string, int) {
	for attempt := 0; ; attempt++ {
		resp, err := client.postJSON(ctx, "/winners", r)
		if err != nil {
			return outcomeFailed, attempt
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return outcomeRecorded, attempt
		case http.StatusBadRequest:
			return outcomeRejected, attempt
		case http.StatusConflict, http.StatusTooManyRequests, http.StatusServiceUnavailable:
			if attempt >= cfg.MaxRetries {
				return outcomeFailed, attempt
			}
			select {
			case <-ctx.Done():
				return outcomeFailed, attempt
			case <-time.After(retryAfter(resp)):
			}
		default:
			return outcomeFailed, attempt
		}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	return defaultRetryAfter
}
