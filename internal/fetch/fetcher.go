// Package fetch retrieves article HTML with polite, domain-aware limits.
//
// A global semaphore caps total in-flight requests and a per-host semaphore
// caps requests to any single site. Hosts that keep failing trip a per-host
// circuit breaker so one dead site cannot stall the rest of a batch. HTTP
// 429 and 503 responses honour Retry-After before the exponential retry
// kicks in, and every URL passes an SSRF guard before any network activity.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/semaphore"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

const (
	// DefaultMaxConcurrent caps total in-flight requests across all hosts.
	DefaultMaxConcurrent = 50

	// DefaultPerDomain caps in-flight requests to one host.
	DefaultPerDomain = 3

	// DefaultTimeout bounds a whole request including body read.
	DefaultTimeout = 30 * time.Second

	connectTimeout  = 10 * time.Second
	defaultRetryMin = 1 * time.Second
	defaultRetryMax = 30 * time.Second
	maxAttempts     = 3

	retryAfterCapSeconds     = 60
	retryAfterDefaultSeconds = 5

	defaultUserAgent = "Mozilla/5.0 (compatible; GeoSignal-Bot/1.0; " +
		"+https://github.com/AteetVatan/masx-geosignal)"
)

var (
	// ErrDomainBlocked means the host's circuit breaker is open and the
	// fetch was skipped.
	ErrDomainBlocked = errors.New("domain circuit breaker is open")

	// ErrUnsafeURL means the URL failed the SSRF guard and was never
	// fetched.
	ErrUnsafeURL = errors.New("url blocked by ssrf guard")
)

type (
	// HTTPError is a non-success HTTP status that survived all retries.
	HTTPError struct {
		URL        string
		StatusCode int
	}

	// Error wraps transport-level failures such as DNS errors, TLS
	// failures, and timeouts. These are not retried; the circuit breaker
	// absorbs them instead.
	Error struct {
		URL string
		Err error
	}

	// Result is a successfully fetched page.
	Result struct {
		URL         string
		FinalURL    string
		HTML        string
		StatusCode  int
		ContentType string
		Duration    time.Duration
	}

	// DomainStat is a point-in-time view of one host's circuit breaker.
	DomainStat struct {
		Failures int
		IsOpen   bool
	}
)

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config controls fetcher concurrency and retry behaviour. Zero values fall
// back to the package defaults, except Delay: a zero delay disables the
// polite pause after successful fetches.
type Config struct {
	MaxConcurrent    int
	PerDomain        int
	Timeout          time.Duration
	Delay            time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	UserAgent        string

	// RetryMinWait and RetryMaxWait bound the exponential backoff between
	// retry attempts.
	RetryMinWait time.Duration
	RetryMaxWait time.Duration

	// AllowPrivateHosts disables the SSRF guard. Intended for tests and
	// local development against fixture servers.
	AllowPrivateHosts bool
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.PerDomain <= 0 {
		c.PerDomain = DefaultPerDomain
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = DefaultBreakerCooldown
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.RetryMinWait <= 0 {
		c.RetryMinWait = defaultRetryMin
	}
	if c.RetryMaxWait <= 0 {
		c.RetryMaxWait = defaultRetryMax
	}

	return c
}

// Fetcher downloads pages subject to global and per-host concurrency
// limits. It is safe for concurrent use.
type Fetcher struct {
	cfg    Config
	client *http.Client
	global *semaphore.Weighted
	logger *slog.Logger

	mu       sync.Mutex
	domains  map[string]*semaphore.Weighted
	breakers map[string]*CircuitBreaker
}

// NewFetcher creates a fetcher with the given limits.
func NewFetcher(cfg Config) *Fetcher {
	cfg = cfg.withDefaults()

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		global:   semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		domains:  make(map[string]*semaphore.Weighted),
		breakers: make(map[string]*CircuitBreaker),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Fetch downloads one URL with all protections applied.
//
// The URL is screened by the SSRF guard, the host's circuit breaker is
// consulted, then a global permit and a per-host permit are acquired in
// that order. Both permits are held for the whole request including the
// polite delay, and released on every exit path.
//
// Returns ErrUnsafeURL, ErrDomainBlocked, *HTTPError after exhausted
// retries, or *Error for transport failures.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if !f.cfg.AllowPrivateHosts && !IsSafeURL(rawURL) {
		return nil, fmt.Errorf("%s: %w", rawURL, ErrUnsafeURL)
	}

	domain := hostOf(rawURL)
	breaker := f.breakerFor(domain)

	if breaker.IsOpen() {
		return nil, fmt.Errorf("%s: %w", domain, ErrDomainBlocked)
	}

	if err := f.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.global.Release(1)

	domainSem := f.domainSemFor(domain)
	if err := domainSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer domainSem.Release(1)

	return f.doFetch(ctx, rawURL, breaker)
}

// Close releases idle connections held by the underlying HTTP client.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

// DomainStats returns circuit breaker state for every host seen so far.
func (f *Fetcher) DomainStats() map[string]DomainStat {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := make(map[string]DomainStat, len(f.breakers))
	for domain, breaker := range f.breakers {
		stats[domain] = DomainStat{
			Failures: breaker.Failures(),
			IsOpen:   breaker.IsOpen(),
		}
	}

	return stats
}

// doFetch runs the request with retries. HTTP status errors are retried up
// to maxAttempts with exponential backoff; transport errors fail
// immediately. Every failed attempt feeds the host's circuit breaker.
func (f *Fetcher) doFetch(ctx context.Context, rawURL string, breaker *CircuitBreaker) (*Result, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.RetryMinWait
	bo.MaxInterval = f.cfg.RetryMaxWait
	bo.Multiplier = 2

	operation := func() (*Result, error) {
		result, err := f.attempt(ctx, rawURL)
		if err != nil {
			breaker.RecordFailure()

			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		breaker.RecordSuccess()
		return result, nil
	}

	return backoff.RetryWithData(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx))
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		wait := retryAfterSeconds(resp.Header.Get("Retry-After"))
		f.logger.Warn("rate limited",
			"url", rawURL,
			"status", resp.StatusCode,
			"retry_after_seconds", wait,
		)

		if err := sleepCtx(ctx, time.Duration(wait)*time.Second); err != nil {
			return nil, &Error{URL: rawURL, Err: err}
		}
		return nil, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	html, err := decodeBody(resp)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}

	duration := time.Since(start)

	// Polite delay, still holding the per-host slot.
	if f.cfg.Delay > 0 {
		if err := sleepCtx(ctx, f.cfg.Delay); err != nil {
			return nil, &Error{URL: rawURL, Err: err}
		}
	}

	return &Result{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		HTML:        html,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Duration:    duration,
	}, nil
}

func (f *Fetcher) breakerFor(domain string) *CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	breaker, ok := f.breakers[domain]
	if !ok {
		breaker = NewCircuitBreaker(f.cfg.BreakerThreshold, f.cfg.BreakerCooldown)
		f.breakers[domain] = breaker
	}

	return breaker
}

func (f *Fetcher) domainSemFor(domain string) *semaphore.Weighted {
	f.mu.Lock()
	defer f.mu.Unlock()

	sem, ok := f.domains[domain]
	if !ok {
		sem = semaphore.NewWeighted(int64(f.cfg.PerDomain))
		f.domains[domain] = sem
	}

	return sem
}

// decodeBody reads the response body, converting legacy charsets to UTF-8
// based on the Content-Type header and document sniffing.
func decodeBody(resp *http.Response) (string, error) {
	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", err
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// retryAfterSeconds parses a Retry-After header given in seconds, capped at
// retryAfterCapSeconds. Missing or unparseable headers fall back to
// retryAfterDefaultSeconds.
func retryAfterSeconds(header string) int {
	if header == "" {
		return retryAfterDefaultSeconds
	}

	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		return retryAfterDefaultSeconds
	}

	if seconds > retryAfterCapSeconds {
		return retryAfterCapSeconds
	}
	if seconds < 0 {
		return 0
	}

	return seconds
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return u.Host
}
