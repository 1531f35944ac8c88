// Package pipeline fetches many records concurrently and returns their
// outcomes in input order.
//
// A run partitions the identifiers into groups, fetches each group with a
// bounded number of concurrent, retried fetches, waits between groups and
// finally strips excluded fields and exports the result set. Per-item
// failures never abort a run; they are recorded as outcomes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/bulkfetch/pkg/batch"
	"github.com/Sternrassler/bulkfetch/pkg/export"
	"github.com/Sternrassler/bulkfetch/pkg/fetch"
	"github.com/Sternrassler/bulkfetch/pkg/limiter"
	"github.com/Sternrassler/bulkfetch/pkg/logging"
	"github.com/Sternrassler/bulkfetch/pkg/progress"
	"github.com/Sternrassler/bulkfetch/pkg/record"
)

// Prometheus metrics for pipeline runs.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_runs_total",
		Help: "Total runs by final status",
	}, []string{"status"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkfetch_outcomes_total",
		Help: "Total outcomes by status",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bulkfetch_run_duration_seconds",
		Help:    "Wall time of pipeline runs in seconds",
		Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900, 3600},
	})
)

// Pipeline runs bulk fetches against one Fetcher.
type Pipeline struct {
	fetcher  fetch.Fetcher
	reporter progress.Reporter
	exporter export.Exporter
	logger   zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReporter receives a progress event for every finished identifier.
func WithReporter(r progress.Reporter) Option {
	return func(p *Pipeline) {
		p.reporter = r
	}
}

// WithExporter writes every result set through e, in addition to
// Config.ExportPath.
func WithExporter(e export.Exporter) Option {
	return func(p *Pipeline) {
		p.exporter = e
	}
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a pipeline around fetcher.
func New(fetcher fetch.Fetcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher: fetcher,
		logger:  log.With().Str("component", "pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run holds the state of one Run call.
type run struct {
	cfg         Config
	identifiers []string
	pool        *limiter.Pool
	retrier     *fetch.Retrier
	dispatcher  *progress.Dispatcher
	logger      zerolog.Logger

	// outcomes[i] is written only by the goroutine for identifier i.
	outcomes []record.Outcome
	done     []bool
}

// Run fetches every identifier and returns one outcome per identifier in
// input order.
//
// Configuration problems return ErrInvalidConfig before any fetch. When
// ctx is cancelled no new fetches start, the remaining identifiers are
// marked not attempted, the partial result set is still exported, and it
// is returned together with ctx.Err(). An export failure returns the
// complete result set together with an error wrapping ErrExport.
func (p *Pipeline) Run(ctx context.Context, identifiers []string, cfg Config) (*record.ResultSet, error) {
	if p.fetcher == nil {
		runsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		runsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	exporter := p.exporter
	if cfg.ExportPath != "" {
		exporter = export.Multi(p.exporter, export.NewJSONFile(cfg.ExportPath))
	}
	if exporter != nil {
		if err := export.Preflight(exporter); err != nil {
			runsTotal.WithLabelValues("invalid").Inc()
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	pool, err := limiter.New(cfg.SemaphoreCount)
	if err != nil {
		runsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	rs := &record.ResultSet{
		RunID:     uuid.NewString(),
		Category:  cfg.Category,
		StartedAt: time.Now(),
	}
	logger := logging.WithRun(p.logger, rs.RunID, cfg.Category)

	r := &run{
		cfg:         cfg,
		identifiers: identifiers,
		pool:        pool,
		retrier: fetch.NewRetrier(p.fetcher, fetch.RetryPolicy{
			MaxAttempts:    cfg.attempts(),
			Delay:          cfg.RetryDelay,
			AttemptTimeout: cfg.AttemptTimeout,
		}).WithLogger(logger),
		logger:   logger,
		outcomes: make([]record.Outcome, len(identifiers)),
		done:     make([]bool, len(identifiers)),
	}

	if p.reporter != nil || cfg.ShowProgress {
		reporters := []progress.Reporter{p.reporter}
		if cfg.ShowProgress {
			reporters = append(reporters, progress.NewLogReporter(logger))
		}
		r.dispatcher = progress.NewDispatcher(len(identifiers), progress.Multi(reporters...))
	}

	plan := batch.NewPlan(len(identifiers), cfg.BatchSize, cfg.BatchDelay)
	logger.Info().
		Int("identifiers", len(identifiers)).
		Int("batches", plan.Len()).
		Int("semaphore_count", cfg.SemaphoreCount).
		Int("max_attempts", cfg.attempts()).
		Msg("Run started")

	r.execute(ctx, plan)

	if r.dispatcher != nil {
		r.dispatcher.Close()
	}

	rs.Outcomes = r.finalize(ctx.Err())
	rs.Cancelled = ctx.Err() != nil
	rs.FinishedAt = time.Now()

	r.exclude(rs)
	p.logSummary(logger, rs)

	var errs []error
	status := "ok"
	if err := ctx.Err(); err != nil {
		status = "cancelled"
		errs = append(errs, err)
	}

	if exporter != nil {
		// Partial results are exported after cancellation too
		if err := exporter.Export(context.WithoutCancel(ctx), rs); err != nil {
			logger.Warn().Err(err).Msg("Export failed")
			status = "export_failed"
			errs = append(errs, fmt.Errorf("%w: %w", ErrExport, err))
		}
	}

	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(rs.FinishedAt.Sub(rs.StartedAt).Seconds())

	switch len(errs) {
	case 0:
		return rs, nil
	case 1:
		return rs, errs[0]
	default:
		return rs, errors.Join(errs...)
	}
}

// execute processes the groups of plan one after another.
func (r *run) execute(ctx context.Context, plan batch.Plan) {
	for gi, rg := range plan.Ranges {
		if ctx.Err() != nil {
			return
		}

		r.logger.Debug().
			Int("batch", gi).
			Int("start", rg.Start).
			Int("end", rg.End).
			Msg("Starting batch")

		var g errgroup.Group
		for i := rg.Start; i < rg.End; i++ {
			g.Go(func() error {
				r.fetchOne(ctx, i)
				return nil
			})
		}
		_ = g.Wait()

		if err := plan.Wait(ctx, gi); err != nil {
			r.logger.Debug().Err(err).Int("batch", gi).Msg("Batch delay interrupted")
			return
		}
	}
}

// fetchOne runs identifier i under a permit and stores its outcome.
func (r *run) fetchOne(ctx context.Context, i int) {
	id := r.identifiers[i]
	start := time.Now()

	if err := r.pool.Acquire(ctx); err != nil {
		return
	}
	a := r.retrier.Attempt(ctx, id)
	r.pool.Release()

	if a.OK() {
		r.outcomes[i] = record.Success(i, id, a.Record, a.Attempts)
	} else {
		if a.Kind() == record.KindNotAttempted {
			return
		}
		r.outcomes[i] = record.Failed(i, a.Failure(id))
	}
	r.done[i] = true

	if r.dispatcher != nil {
		ev := progress.Event{
			Identifier: id,
			Index:      i,
			OK:         a.OK(),
			Attempts:   a.Attempts,
			Elapsed:    time.Since(start),
		}
		if !a.OK() {
			ev.Kind = a.Kind()
		}
		r.dispatcher.Notify(ev)
	}
}

// finalize marks identifiers that never ran as not attempted.
func (r *run) finalize(cause error) []record.Outcome {
	for i, ok := range r.done {
		if ok {
			continue
		}
		r.outcomes[i] = record.Failed(i, &record.Failure{
			Identifier: r.identifiers[i],
			Kind:       record.KindNotAttempted,
			Class:      string(fetch.ErrorClassCancelled),
			Err:        cause,
		})
	}
	return r.outcomes
}

// exclude strips the configured fields from successful records.
func (r *run) exclude(rs *record.ResultSet) {
	if len(r.cfg.ExcludeFields) == 0 {
		return
	}
	for i := range rs.Outcomes {
		o := &rs.Outcomes[i]
		if o.Record == nil {
			continue
		}
		before := o.Record.Len()
		o.Record = o.Record.Without(r.cfg.ExcludeFields...)
		if before > 0 && o.Record.Len() == 0 {
			r.logger.Warn().
				Str("identifier", o.Identifier).
				Msg("Field exclusion removed every field of the record")
		}
	}
}

func (p *Pipeline) logSummary(logger zerolog.Logger, rs *record.ResultSet) {
	s := rs.Summary()
	for _, o := range rs.Outcomes {
		switch {
		case o.Record != nil:
			outcomesTotal.WithLabelValues("ok").Inc()
		case o.Failure != nil:
			outcomesTotal.WithLabelValues(string(o.Failure.Kind)).Inc()
		}
	}

	logger.Info().
		Int("submitted", s.Submitted).
		Int("attempted", s.Attempted).
		Int("successes", s.Successes).
		Int("failures", s.Failures).
		Int("not_attempted", s.NotAttempted).
		Float64("success_rate", s.SuccessRate).
		Strs("failed", s.FailedIdentifiers).
		Dur("duration", s.FinishedAt.Sub(s.StartedAt)).
		Bool("cancelled", rs.Cancelled).
		Msg("Run finished")
}
