package tle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dzeleniak/tleme/internal/metrics"
)

const (
	// DefaultSourceURL is CelesTrak's active-satellite group in TLE format.
	DefaultSourceURL = "https://celestrak.org/NORAD/elements/gp.php?FORMAT=tle&GROUP=ACTIVE"

	defaultFetchTimeout = 30 * time.Second
	maxBodyBytes        = 50 << 20
)

// Fetcher retrieves the raw catalog feed. Each Fetch is a single attempt;
// retry policy belongs to the caller.
type Fetcher struct {
	sourceURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for sourceURL bounded by timeout.
func NewFetcher(sourceURL string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if sourceURL == "" {
		sourceURL = DefaultSourceURL
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{
		sourceURL: sourceURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SourceURL returns the configured source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch performs an HTTP GET of the feed. Every failure wraps
// ErrSourceUnavailable.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	start := time.Now()
	body, err := f.fetch(ctx)
	if err != nil {
		metrics.RecordFetch("error", time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	metrics.RecordFetch("ok", time.Since(start))

	f.logger.Debug("fetched catalog feed",
		"source_url", f.sourceURL,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return body, nil
}

func (f *Fetcher) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, errors.New("response exceeds 50 MB byte limit")
	}

	return body, nil
}
