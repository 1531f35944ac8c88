package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/Sternrassler/bulkfetch/pkg/fetch"
)

// sourceOptions configures the HTTP fetcher shared by run and serve.
type sourceOptions struct {
	profilePath string
	userAgent   string
	redisURL    string
	rps         float64
	rpm         int
	burst       int
	cacheTTL    time.Duration
	timeout     time.Duration
}

func (o *sourceOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.profilePath, "profile", "", "path to the YAML source profile (required)")
	fs.StringVar(&o.userAgent, "user-agent", getEnv("BULKFETCH_USER_AGENT", defaultUserAgent), "User-Agent sent to the source")
	fs.StringVar(&o.redisURL, "redis-url", getEnv("BULKFETCH_REDIS_URL", ""), "Redis address or URL for the page cache and shared cooldowns")
	fs.Float64Var(&o.rps, "rps", 0, "maximum requests per second to the source (0 = unlimited)")
	fs.IntVar(&o.rpm, "rpm", 0, "maximum requests per minute to the source, applied on top of --rps (0 = unlimited)")
	fs.IntVar(&o.burst, "burst", 1, "request burst allowed by --rps")
	fs.DurationVar(&o.cacheTTL, "cache-ttl", 24*time.Hour, "page cache TTL when the source sends no freshness headers")
	fs.DurationVar(&o.timeout, "http-timeout", 30*time.Second, "timeout of a single HTTP exchange")
}

// build loads the profile and creates the fetcher. The returned Redis
// client is nil when no Redis URL is configured.
func (o *sourceOptions) build(ctx context.Context) (*fetch.HTTPFetcher, *redis.Client, error) {
	if o.profilePath == "" {
		return nil, nil, fmt.Errorf("--profile is required")
	}
	profile, err := fetch.LoadProfile(o.profilePath)
	if err != nil {
		return nil, nil, err
	}

	redisClient, err := newRedis(ctx, o.redisURL)
	if err != nil {
		return nil, nil, err
	}

	cfg := fetch.DefaultHTTPConfig(o.userAgent)
	cfg.RequestsPerSecond = o.rps
	cfg.RequestsPerMinute = o.rpm
	cfg.Burst = o.burst
	cfg.CacheTTL = o.cacheTTL
	cfg.Timeout = o.timeout
	cfg.Redis = redisClient

	fetcher, err := fetch.NewHTTPFetcher(profile, cfg)
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, nil, fmt.Errorf("create fetcher: %w", err)
	}
	return fetcher, redisClient, nil
}
