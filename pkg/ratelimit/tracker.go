package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for cooldown tracking.
var (
	cooldownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_cooldowns_total",
		Help: "Total number of cooldowns started by triggering status code",
	}, []string{"status"})

	cooldownWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bulkfetch_cooldown_wait_seconds",
		Help:    "Time requests spent waiting for a host cooldown",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

// Tracker shares host cooldowns between workers. With a Redis client the
// state is shared across processes; without one it is kept in memory.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu    sync.Mutex
	local map[string]*CooldownState
}

// NewTracker creates a cooldown tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		local:  make(map[string]*CooldownState),
	}
}

// GetState returns the cooldown state for host. A host without state
// yields an inactive zero state.
func (t *Tracker) GetState(ctx context.Context, host string) (*CooldownState, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if s, ok := t.local[host]; ok {
			cp := *s
			return &cp, nil
		}
		return &CooldownState{Host: host}, nil
	}

	data, err := t.redis.Get(ctx, RedisKeyCooldownPrefix+host).Bytes()
	if errors.Is(err, redis.Nil) {
		return &CooldownState{Host: host}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cooldown state: %w", err)
	}

	var state CooldownState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse cooldown state: %w", err)
	}
	return &state, nil
}

// UpdateFromResponse starts a cooldown when status is 429 or 503. The
// length comes from the Retry-After header (seconds or HTTP date).
// Other statuses are ignored.
func (t *Tracker) UpdateFromResponse(ctx context.Context, host string, status int, headers http.Header) error {
	if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
		return nil
	}

	wait := clampCooldown(ParseRetryAfter(headers.Get("Retry-After"), time.Now()))
	now := time.Now()
	state := &CooldownState{
		Host:       host,
		Until:      now.Add(wait),
		StatusCode: status,
		LastUpdate: now,
	}

	if err := t.store(ctx, state, wait); err != nil {
		return err
	}

	cooldownsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	t.logger.Warn().
		Str("host", host).
		Int("status", status).
		Dur("cooldown", wait).
		Msg("Source asked to back off, cooldown started")
	return nil
}

func (t *Tracker) store(ctx context.Context, state *CooldownState, ttl time.Duration) error {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		// Keep the later deadline when two workers report at once
		if cur, ok := t.local[state.Host]; ok && cur.Until.After(state.Until) {
			return nil
		}
		t.local[state.Host] = state
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal cooldown state: %w", err)
	}
	if err := t.redis.Set(ctx, RedisKeyCooldownPrefix+state.Host, data, ttl).Err(); err != nil {
		return fmt.Errorf("store cooldown state in redis: %w", err)
	}
	return nil
}

// Wait blocks until host is out of cooldown or ctx is done.
func (t *Tracker) Wait(ctx context.Context, host string) error {
	state, err := t.GetState(ctx, host)
	if err != nil {
		return fmt.Errorf("get cooldown state: %w", err)
	}
	if !state.Active() {
		return nil
	}

	wait := state.Remaining()
	t.logger.Debug().
		Str("host", host).
		Dur("wait_duration", wait).
		Msg("Host in cooldown, waiting")

	start := time.Now()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		cooldownWaitSeconds.Observe(time.Since(start).Seconds())
		return nil
	}
}

// ParseRetryAfter parses a Retry-After value given in seconds or as an
// HTTP date. Returns 0 for empty or malformed values.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
