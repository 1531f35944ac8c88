package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/bulkfetch/pkg/record"
)

// Prometheus metrics for fetch attempts and retries.
var (
	fetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_fetch_attempts_total",
		Help: "Total fetch attempts by result class (empty class = success)",
	}, []string{"error_class"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bulkfetch_fetch_duration_seconds",
		Help:    "Duration of single fetch attempts in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy holds the configuration for retry logic.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial one).
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Delay is the fixed pause between attempts. Zero means no pause.
	Delay time.Duration

	// AttemptTimeout bounds each attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns the default retry policy: a single attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 1,
	}
}

// Attempt is the result of running one identifier through the Retrier.
type Attempt struct {
	Record   *record.Record
	Attempts int
	Err      error
	Class    ErrorClass
}

// OK reports whether a record was produced.
func (a Attempt) OK() bool {
	return a.Err == nil && a.Record != nil
}

// Kind returns the outcome kind of a failed attempt.
func (a Attempt) Kind() record.ErrorKind {
	if a.Class == ErrorClassCancelled && a.Attempts == 0 {
		return record.KindNotAttempted
	}
	return a.Class.Kind()
}

// Failure converts a failed attempt into a record.Failure.
func (a Attempt) Failure(identifier string) *record.Failure {
	return &record.Failure{
		Identifier: identifier,
		Kind:       a.Kind(),
		Class:      string(a.Class),
		Attempts:   a.Attempts,
		Err:        a.Err,
	}
}

// Retrier wraps a Fetcher with bounded, fixed-delay retries.
type Retrier struct {
	fetcher Fetcher
	policy  RetryPolicy
	logger  zerolog.Logger
}

// NewRetrier creates a retrier around fetcher.
func NewRetrier(fetcher Fetcher, policy RetryPolicy) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Delay < 0 {
		policy.Delay = 0
	}
	return &Retrier{
		fetcher: fetcher,
		policy:  policy,
		logger:  log.With().Str("component", "retrier").Logger(),
	}
}

// WithLogger returns a copy of the retrier that logs through logger.
func (r *Retrier) WithLogger(logger zerolog.Logger) *Retrier {
	cp := *r
	cp.logger = logger
	return &cp
}

// Policy returns the effective retry policy.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Attempt fetches identifier, retrying transient failures up to the policy
// limit. Terminal failures return after the first attempt. Errors are
// returned as data in the Attempt, never escalated.
func (r *Retrier) Attempt(ctx context.Context, identifier string) Attempt {
	var lastErr error
	var lastClass ErrorClass

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Attempt{
				Attempts: attempt - 1,
				Err:      fmt.Errorf("%w before attempt %d: %w", ErrCancelled, attempt, err),
				Class:    ErrorClassCancelled,
			}
		}

		rec, err := r.fetchOnce(ctx, identifier)
		if err == nil && rec == nil {
			err = &FetchError{Identifier: identifier, Class: ErrorClassExtract, Message: "fetcher returned no record"}
		}

		if err == nil {
			fetchAttemptsTotal.WithLabelValues("").Inc()
			if attempt > 1 {
				r.logger.Info().
					Str("identifier", identifier).
					Int("attempt", attempt).
					Msg("Fetch succeeded after retry")
			}
			return Attempt{Record: rec, Attempts: attempt}
		}

		lastErr = err
		lastClass = Classify(err)
		if ctx.Err() != nil {
			lastClass = ErrorClassCancelled
		}
		fetchAttemptsTotal.WithLabelValues(string(lastClass)).Inc()

		// Terminal errors cannot be fixed by retrying
		if !lastClass.Retryable() {
			r.logger.Debug().
				Err(err).
				Str("identifier", identifier).
				Str("error_class", string(lastClass)).
				Int("attempt", attempt).
				Msg("Fetch failed with non-retryable error")
			return Attempt{Attempts: attempt, Err: err, Class: lastClass}
		}

		if attempt >= r.policy.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(lastClass)).Inc()
		r.logger.Debug().
			Err(err).
			Str("identifier", identifier).
			Str("error_class", string(lastClass)).
			Int("attempt", attempt).
			Dur("delay", r.policy.Delay).
			Msg("Retrying fetch after delay")

		if r.policy.Delay > 0 {
			timer := time.NewTimer(r.policy.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				r.logger.Warn().
					Str("identifier", identifier).
					Int("attempt", attempt).
					Msg("Context cancelled during retry delay")
				return Attempt{
					Attempts: attempt,
					Err:      fmt.Errorf("%w after %d attempt(s) (last error: %v): %w", ErrCancelled, attempt, lastErr, ctx.Err()),
					Class:    ErrorClassCancelled,
				}
			case <-timer.C:
			}
		}
	}

	if r.policy.MaxAttempts == 1 {
		return Attempt{Attempts: 1, Err: lastErr, Class: lastClass}
	}

	retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	r.logger.Warn().
		Err(lastErr).
		Str("identifier", identifier).
		Str("error_class", string(lastClass)).
		Int("max_attempts", r.policy.MaxAttempts).
		Msg("Retry attempts exhausted")

	return Attempt{
		Attempts: r.policy.MaxAttempts,
		Err:      fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, r.policy.MaxAttempts, lastErr),
		Class:    lastClass,
	}
}

// fetchOnce runs a single attempt, bounded by the per-attempt timeout.
func (r *Retrier) fetchOnce(ctx context.Context, identifier string) (*record.Record, error) {
	start := time.Now()
	defer func() {
		fetchDuration.Observe(time.Since(start).Seconds())
	}()

	if r.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
		defer cancel()
	}
	return r.fetcher.Fetch(ctx, identifier)
}
