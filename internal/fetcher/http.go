package fetcher

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/groundwater/internal/resilience"
)

// DefaultMaxBytes caps a downloaded dataset.
const DefaultMaxBytes = 256 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
	// RPS limits outgoing requests. Zero means unlimited.
	RPS   float64
	Retry resilience.RetryConfig
}

// HTTPFetcher implements Fetcher using net/http with retry and rate limiting.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "groundwater/1.0"
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = func(attempt int, err error) {
			zap.L().Warn("http fetch failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Fetch downloads location, retrying network failures, 429s and 5xx
// responses.
func (f *HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	body, err := resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) ([]byte, error) {
		return f.fetchOnce(ctx, location)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: download %s", location)
	}
	zap.L().Info("dataset downloaded", zap.String("url", location), zap.Int("bytes", len(body)))
	return body, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, location string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, resilience.NewTransientError(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, resilience.NewTransientError(eris.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "read body"))
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return nil, eris.Errorf("body exceeds %d bytes", f.opts.MaxBytes)
	}
	return body, nil
}
