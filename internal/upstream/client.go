// Package upstream fetches the country dataset from the REST Countries API.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"country-stats/internal/country"
	apperrors "country-stats/internal/errors"
	"country-stats/internal/metrics"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const userAgent = "country-stats"

// Options configures a Client
type Options struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration
	RPS        float64
	Burst      int
}

// Client performs the dataset GET
type Client struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoffMin time.Duration
	backoffMax time.Duration
	metrics    *metrics.Metrics
}

// NewClient creates a client with a pooled transport
func NewClient(opts Options, m *metrics.Metrics) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	if m == nil {
		m = metrics.GetMetrics()
	}

	return &Client{
		url: opts.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: opts.MaxRetries,
		backoffMin: opts.BackoffMin,
		backoffMax: opts.BackoffMax,
		metrics:    m,
	}
}

// Fetch downloads and decodes the full country list. Network errors, 429
// and 5xx responses are retried with exponential backoff.
func (c *Client) Fetch(ctx context.Context) ([]country.Country, error) {
	b := &backoff.Backoff{
		Min:    c.backoffMin,
		Max:    c.backoffMax,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := b.Duration()
			log.WithFields(log.Fields{
				"attempt": attempt,
				"delay":   delay,
				"error":   lastErr,
			}).Warn("Retrying country dataset fetch")

			select {
			case <-ctx.Done():
				return nil, apperrors.New(apperrors.ErrTypeUpstream, "fetch cancelled", ctx.Err())
			case <-time.After(delay):
			}
		}

		countries, retry, err := c.fetchOnce(ctx)
		if err == nil {
			return countries, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}

	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context) (countries []country.Country, retry bool, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, apperrors.New(apperrors.ErrTypeUpstream, "rate limiter wait aborted", err)
	}

	start := time.Now()
	defer func() {
		c.metrics.RecordFetch(err, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, false, apperrors.New(apperrors.ErrTypeUpstream, "failed to build request", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)

	entry := log.WithFields(log.Fields{"url": c.url, "request_id": requestID})
	entry.Debug("Fetching country dataset")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, apperrors.New(apperrors.ErrTypeUpstream, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		retry = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, apperrors.Newf(apperrors.ErrTypeUpstream, "unexpected status %d from %s", resp.StatusCode, c.url)
	}

	countries, err = country.Decode(resp.Body)
	if err != nil {
		return nil, false, err
	}

	entry.WithFields(log.Fields{
		"countries": len(countries),
		"duration":  time.Since(start),
	}).Info("Country dataset fetched")

	return countries, false, nil
}

// String describes the client for logs.
func (c *Client) String() string {
	return fmt.Sprintf("upstream(%s)", c.url)
}
