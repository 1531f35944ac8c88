package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/bulkfetch/pkg/cache"
	"github.com/Sternrassler/bulkfetch/pkg/ratelimit"
	"github.com/Sternrassler/bulkfetch/pkg/record"
)

// Prometheus metrics for source requests.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_http_requests_total",
		Help: "Total source requests by category and status",
	}, []string{"category", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bulkfetch_http_request_duration_seconds",
		Help:    "Source request duration in seconds by category",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"category"})
)

// DefaultMaxBodyBytes bounds how much of a page is read.
const DefaultMaxBodyBytes = 10 << 20

// HTTPConfig holds the HTTP fetcher configuration.
type HTTPConfig struct {
	// UserAgent header sent with every request (required).
	UserAgent string

	// Timeout for a single HTTP exchange.
	Timeout time.Duration

	// RequestsPerSecond paces requests across all workers. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the token bucket size for pacing.
	Burst int

	// RequestsPerMinute caps the sustained rate on top of RequestsPerSecond.
	// Zero disables the cap.
	RequestsPerMinute int

	// MaxBodyBytes bounds the page size. Larger pages fail with an extract
	// error. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Redis enables the page cache and shares cooldowns across processes.
	// May be nil.
	Redis *redis.Client

	// CacheTTL is the page cache TTL used when responses carry no freshness
	// headers. Zero means cache.DefaultTTL.
	CacheTTL time.Duration

	// HTTPClient overrides the default client (for testing).
	HTTPClient *http.Client
}

// DefaultHTTPConfig returns a safe default configuration.
func DefaultHTTPConfig(userAgent string) HTTPConfig {
	return HTTPConfig{
		UserAgent:         userAgent,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 0,
		Burst:             1,
		CacheTTL:          24 * time.Hour,
		MaxBodyBytes:      DefaultMaxBodyBytes,
	}
}

// HTTPFetcher fetches pages over HTTP and extracts records using a Profile.
type HTTPFetcher struct {
	profile    *Profile
	httpClient *http.Client
	cooldowns  *ratelimit.Tracker
	pacer      ratelimit.Limiter
	cache      *cache.Manager
	config     HTTPConfig
	logger     zerolog.Logger
}

// NewHTTPFetcher creates an HTTP fetcher for profile.
func NewHTTPFetcher(profile *Profile, cfg HTTPConfig) (*HTTPFetcher, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests per second must be >= 0 (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.RequestsPerMinute < 0 {
		return nil, fmt.Errorf("requests per minute must be >= 0 (got %d)", cfg.RequestsPerMinute)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	logger := log.With().
		Str("component", "http-fetcher").
		Str("category", profile.Category).
		Logger()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	pacer := ratelimit.NewPacer(cfg.RequestsPerSecond, cfg.Burst)
	if cfg.RequestsPerMinute > 0 {
		pacer = ratelimit.Multi(pacer, rate.NewLimiter(ratelimit.Per(cfg.RequestsPerMinute, time.Minute), 1))
	}

	f := &HTTPFetcher{
		profile:    profile,
		httpClient: httpClient,
		cooldowns:  ratelimit.NewTracker(cfg.Redis, logger),
		pacer:      pacer,
		config:     cfg,
		logger:     logger,
	}
	if cfg.Redis != nil {
		f.cache = cache.NewManager(cfg.Redis)
	}
	return f, nil
}

// Profile returns the profile the fetcher extracts with.
func (f *HTTPFetcher) Profile() *Profile {
	return f.profile
}

// Fetch resolves identifier, loads the page (from cache when possible) and
// extracts a record.
func (f *HTTPFetcher) Fetch(ctx context.Context, identifier string) (*record.Record, error) {
	pageURL, id, err := f.profile.Resolve(identifier)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.Identifier = identifier
		}
		return nil, err
	}

	body, err := f.load(ctx, identifier, pageURL)
	if err != nil {
		return nil, err
	}

	rec, err := f.profile.Extract(identifier, pageURL, id, body)
	if err != nil && f.cache != nil && Classify(err) == ErrorClassExtract {
		// Drop the cached copy so the next fetch loads the page again
		key := cache.PageKey{Category: f.profile.Category, URL: pageURL}
		if derr := f.cache.Delete(ctx, key); derr != nil {
			f.logger.Warn().Err(derr).Str("url", pageURL).Msg("Failed to drop cached page")
		}
	}
	return rec, err
}

// waitError classifies an interrupted cooldown or pacing wait. Waits cut
// short by the attempt deadline are transient; caller cancellation is not.
func (f *HTTPFetcher) waitError(ctx context.Context, identifier, stage string, err error) error {
	class := ErrorClassRateLimit
	if errors.Is(ctx.Err(), context.Canceled) {
		class = ErrorClassCancelled
		err = fmt.Errorf("%w: %w", err, ctx.Err())
	}
	return &FetchError{Identifier: identifier, Class: class, Message: stage + " wait interrupted", Err: err}
}

// load returns the page body for pageURL.
func (f *HTTPFetcher) load(ctx context.Context, identifier, pageURL string) ([]byte, error) {
	key := cache.PageKey{Category: f.profile.Category, URL: pageURL}

	if f.cache != nil {
		entry, err := f.cache.Get(ctx, key)
		if err == nil {
			f.logger.Debug().Str("url", pageURL).Dur("age", entry.Age()).Msg("Page cache hit")
			return entry.Data, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			f.logger.Warn().Err(err).Str("url", pageURL).Msg("Cache get error")
		}
	}

	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, &FetchError{Identifier: identifier, Class: ErrorClassInvalidIdentifier, Message: "bad url", Err: err}
	}

	// Shared cooldown first, then pacing
	if err := f.cooldowns.Wait(ctx, u.Host); err != nil {
		if ctx.Err() != nil {
			return nil, f.waitError(ctx, identifier, "cooldown", err)
		}
		f.logger.Warn().Err(err).Str("host", u.Host).Msg("Cooldown check failed")
	}
	if err := f.pacer.Wait(ctx); err != nil {
		return nil, f.waitError(ctx, identifier, "pacing", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{Identifier: identifier, Class: ErrorClassInvalidIdentifier, Message: "create request", Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	httpRequestDuration.WithLabelValues(f.profile.Category).Observe(time.Since(start).Seconds())
	if err != nil {
		httpRequestsTotal.WithLabelValues(f.profile.Category, "network_error").Inc()
		f.logger.Debug().Err(err).Str("url", pageURL).Msg("HTTP request failed")
		return nil, &FetchError{Identifier: identifier, Class: Classify(err), Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	httpRequestsTotal.WithLabelValues(f.profile.Category, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		if err := f.cooldowns.UpdateFromResponse(ctx, u.Host, resp.StatusCode, resp.Header); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to record cooldown")
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.config.MaxBodyBytes))

		class := ClassifyStatus(resp.StatusCode)
		f.logger.Debug().
			Str("url", pageURL).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Source returned error status")
		return nil, &FetchError{
			Identifier: identifier,
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}
	}

	// Read one byte past the limit so an oversized page is detected, not truncated
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{Identifier: identifier, Class: ErrorClassNetwork, Message: "read body", Err: err}
	}
	if int64(len(body)) > f.config.MaxBodyBytes {
		f.logger.Debug().Str("url", pageURL).Int64("limit", f.config.MaxBodyBytes).Msg("Page too large")
		return nil, &FetchError{
			Identifier: identifier,
			Class:      ErrorClassExtract,
			Message:    fmt.Sprintf("page exceeds %d bytes", f.config.MaxBodyBytes),
		}
	}

	if f.cache != nil && resp.StatusCode == http.StatusOK {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		entry, err := cache.ResponseToEntry(resp, f.config.CacheTTL)
		if err != nil {
			return nil, &FetchError{Identifier: identifier, Class: ErrorClassNetwork, Message: "read body", Err: err}
		}
		if err := f.cache.Set(ctx, key, entry); err != nil {
			f.logger.Warn().Err(err).Str("url", pageURL).Msg("Failed to cache page")
		}
	}
	return body, nil
}
