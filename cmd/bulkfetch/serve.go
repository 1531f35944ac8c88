package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/bulkfetch/pkg/export"
	"github.com/Sternrassler/bulkfetch/pkg/metrics"
	"github.com/Sternrassler/bulkfetch/pkg/pipeline"
)

// maxRequestBytes bounds the body of a run request.
const maxRequestBytes = 1 << 20

type serveOptions struct {
	source sourceOptions
	addr   string
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve bulk fetch runs over HTTP",
		Long: `Starts an HTTP service exposing:
  GET  /health    liveness
  GET  /ready     readiness (pings Redis when configured)
  GET  /metrics   Prometheus metrics
  POST /v1/runs   run the pipeline over {"identifiers": [...], "config": {...}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	opts.source.addFlags(cmd.Flags())
	cmd.Flags().StringVar(&opts.addr, "addr", ":"+getEnv("PORT", "8080"), "listen address")

	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	fetcher, redisClient, err := opts.source.build(ctx)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	p := pipeline.New(fetcher)
	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           newMux(p, fetcher.Profile().Category, redisClient),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", opts.addr).
			Str("category", fetcher.Profile().Category).
			Str("user_agent", opts.source.userAgent).
			Msg("Starting bulkfetch server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newMux(p *pipeline.Pipeline, category string, redisClient *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(redisClient))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /v1/runs", runsHandler(p, category))
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Warn().Err(err).Msg("Readiness check failed")
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// runRequest is the body of POST /v1/runs. Durations use Go syntax ("2s").
type runRequest struct {
	Identifiers []string         `json:"identifiers"`
	Config      runRequestConfig `json:"config"`
}

type runRequestConfig struct {
	SemaphoreCount *int     `json:"semaphore_count"`
	NumAttempts    *int     `json:"num_attempts"`
	RetryDelay     string   `json:"retry_delay"`
	AttemptTimeout string   `json:"attempt_timeout"`
	BatchSize      int      `json:"batch_size"`
	BatchDelay     string   `json:"batch_delay"`
	ExcludeAttrs   []string `json:"exclude_attrs"`
}

// pipelineConfig converts the request into a run configuration. Export
// paths cannot be set over HTTP.
func (c runRequestConfig) pipelineConfig(category string) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	cfg.Category = category
	if c.SemaphoreCount != nil {
		cfg.SemaphoreCount = *c.SemaphoreCount
	}
	if c.NumAttempts != nil {
		cfg.MaxAttempts = *c.NumAttempts
	}
	cfg.BatchSize = c.BatchSize
	cfg.ExcludeFields = c.ExcludeAttrs

	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"retry_delay", c.RetryDelay, &cfg.RetryDelay},
		{"attempt_timeout", c.AttemptTimeout, &cfg.AttemptTimeout},
		{"batch_delay", c.BatchDelay, &cfg.BatchDelay},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: %w", pipeline.ErrInvalidConfig, d.name, err)
		}
		*d.dst = v
	}

	return cfg, cfg.Validate()
}

func runsHandler(p *pipeline.Pipeline, category string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}

		cfg, err := req.Config.pipelineConfig(category)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		rs, err := p.Run(r.Context(), req.Identifiers, cfg)
		switch {
		case errors.Is(err, pipeline.ErrInvalidConfig):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, context.Canceled):
			log.Info().Int("identifiers", len(req.Identifiers)).Msg("Client went away, run cancelled")
			return
		case err != nil && rs == nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		data, err := export.Encode(rs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Run-ID", rs.RunID)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			log.Warn().Err(err).Msg("Failed to write response")
		}
	}
}
