// Package noaa talks to the NOAA GSOD HTTP archive: directory listings, per-year tarballs,
// per-station files and the isd-history station list.
package noaa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/couchcryptid/gsod-etl/internal/config"
	"github.com/couchcryptid/gsod-etl/internal/observability"
)

// ErrNotFound is returned when the server answers 404. It is never retried.
var ErrNotFound = errors.New("not found on NOAA server")

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errUnexpected  = errors.New("unexpected status code")
	errCircuitOpen = errors.New("circuit breaker open")
)

// RetryPolicy controls exponential backoff between attempts.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialInterval << attempt
	if d <= 0 || (p.MaxInterval > 0 && d > p.MaxInterval) {
		d = p.MaxInterval
	}
	return d
}

// Client fetches files from the GSOD archive with retries and a circuit breaker.
type Client struct {
	baseURL     string
	stationsURL string
	httpClient  *http.Client
	retry       RetryPolicy
	breaker     *gobreaker.CircuitBreaker
	clock       clockwork.Clock
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithClock sets the clock used for backoff waits.
func WithClock(c clockwork.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(cl *Client) { cl.httpClient = h }
}

// NewClient creates a NOAA archive client from the service configuration.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     cfg.BaseURL,
		stationsURL: cfg.StationsURL,
		httpClient: &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retry: RetryPolicy{
			MaxRetries:      cfg.RetryMax,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
		},
		clock:   clockwork.NewRealClock(),
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	maxFailures := uint32(cfg.BreakerMaxFailures)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "noaa",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A missing file says nothing about the health of the server.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			c.metrics.BreakerState.Set(breakerGauge(to))
		},
	})
	return c
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return observability.BreakerOpen
	case gobreaker.StateHalfOpen:
		return observability.BreakerHalfOpen
	default:
		return observability.BreakerClosed
	}
}

// URL returns the absolute URL of a path relative to the archive root.
func (c *Client) URL(relPath string) string {
	return c.baseURL + strings.TrimLeft(relPath, "/")
}

// Download fetches relPath (e.g. "2010/gsod_2010.tar") into dest, replacing it atomically.
// It returns the number of bytes written.
func (c *Client) Download(ctx context.Context, relPath, dest string) (int64, error) {
	kind := "station"
	if strings.HasSuffix(relPath, ".tar") {
		kind = "tar"
	}
	return c.download(ctx, c.URL(relPath), dest, kind)
}

// DownloadStationHistory fetches isd-history.csv into dest.
func (c *Client) DownloadStationHistory(ctx context.Context, dest string) (int64, error) {
	return c.download(ctx, c.stationsURL, dest, "history")
}

func (c *Client) download(ctx context.Context, url, dest, kind string) (int64, error) {
	start := c.clock.Now()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}

	var written int64
	err := c.get(ctx, url, func(body io.Reader) error {
		n, err := writeAtomic(dest, body)
		written = n
		return err
	})
	c.metrics.DownloadDuration.Observe(c.clock.Since(start).Seconds())
	if err != nil {
		c.metrics.DownloadFailures.WithLabelValues(failureReason(err)).Inc()
		return 0, fmt.Errorf("download %s: %w", url, err)
	}

	c.metrics.FilesDownloaded.WithLabelValues(kind).Inc()
	c.metrics.BytesDownloaded.Add(float64(written))
	c.logger.Debug("downloaded", "url", url, "dest", dest, "bytes", written)
	return written, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, errCircuitOpen):
		return "breaker"
	case errors.Is(err, errServerError), errors.Is(err, errRateLimited), errors.Is(err, errUnexpected):
		return "http"
	default:
		return "io"
	}
}

// writeAtomic copies r into a temp file next to dest and renames it into place.
func writeAtomic(dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}

// get performs a GET with retries, exponential backoff and the circuit breaker. consume is
// called with the response body of a successful attempt; an error from it is retried too.
func (c *Client) get(ctx context.Context, url string, consume func(io.Reader) error) error {
	var attempt int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.do(ctx, url, consume)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		if !retryable(ctx, err) || attempt >= c.retry.MaxRetries {
			return err
		}

		delay := c.retry.delay(attempt)
		c.logger.Warn("request failed, retrying", "url", url, "attempt", attempt+1, "backoff", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(delay):
		}
		attempt++
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, errUnexpected)
}

func (c *Client) do(ctx context.Context, url string, consume func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return errRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
	}
	return consume(resp.Body)
}
