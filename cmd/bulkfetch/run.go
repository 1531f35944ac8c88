package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/bulkfetch/pkg/export"
	"github.com/Sternrassler/bulkfetch/pkg/pipeline"
	"github.com/Sternrassler/bulkfetch/pkg/record"
)

// Result views accepted by --view.
const (
	viewObject = "object"
	viewMap    = "map"
)

type runOptions struct {
	source sourceOptions

	inputPath      string
	semaphoreCount int
	numAttempts    int
	retryDelay     time.Duration
	attemptTimeout time.Duration
	batchSize      int
	batchDelay     time.Duration
	exclude        []string
	progress       bool
	writeJSON      string
	writeSQLite    string
	view           string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [identifiers...]",
		Short: "Fetch records for the given identifiers",
		Long: `Fetches one record per identifier using the source profile. Identifiers
are numeric IDs or full page URLs, given as arguments or one per line in
--input. Results are written to stdout as JSON in input order; the run
summary goes to stderr.`,
		Example: `  # Fetch three books, four at a time, retrying transient failures
  bulkfetch run --profile book.yaml --semaphore-count 4 --num-attempts 3 7144 2767052 5107

  # Read identifiers from a file, pause 10s between groups of 100
  bulkfetch run --profile book.yaml --input ids.txt --batch-size 100 --batch-delay 10s --write-json books.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRun(ctx, cmd, opts, args)
		},
	}

	fs := cmd.Flags()
	opts.source.addFlags(fs)
	fs.StringVar(&opts.inputPath, "input", "", "file with one identifier per line ('-' for stdin)")
	fs.IntVar(&opts.semaphoreCount, "semaphore-count", pipeline.DefaultSemaphoreCount, "maximum concurrent fetches")
	fs.IntVar(&opts.numAttempts, "num-attempts", pipeline.DefaultMaxAttempts, "attempts per identifier")
	fs.DurationVar(&opts.retryDelay, "retry-delay", 0, "pause between attempts of one identifier")
	fs.DurationVar(&opts.attemptTimeout, "attempt-timeout", 0, "timeout of a single attempt (0 = none)")
	fs.IntVar(&opts.batchSize, "batch-size", 0, "identifiers per group (0 = one group)")
	fs.DurationVar(&opts.batchDelay, "batch-delay", 0, "pause between groups")
	fs.StringSliceVar(&opts.exclude, "exclude", nil, "fields to drop from every record")
	fs.BoolVar(&opts.progress, "progress", false, "log progress for every finished identifier")
	fs.StringVar(&opts.writeJSON, "write-json", "", "write the result set to this JSON file")
	fs.StringVar(&opts.writeSQLite, "write-sqlite", "", "append the result set to this SQLite database")
	fs.StringVar(&opts.view, "view", viewObject, "stdout view of records: object (field order kept) or map")

	return cmd
}

func runRun(ctx context.Context, cmd *cobra.Command, opts *runOptions, args []string) error {
	if opts.view != viewObject && opts.view != viewMap {
		return fmt.Errorf("unknown view %q (want %s or %s)", opts.view, viewObject, viewMap)
	}

	identifiers := append([]string(nil), args...)
	if opts.inputPath != "" {
		fromFile, err := readIdentifiersFile(opts.inputPath, cmd.InOrStdin())
		if err != nil {
			return err
		}
		identifiers = append(identifiers, fromFile...)
	}
	if len(identifiers) == 0 {
		return fmt.Errorf("no identifiers given")
	}

	fetcher, redisClient, err := opts.source.build(ctx)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var popts []pipeline.Option
	if opts.writeSQLite != "" {
		popts = append(popts, pipeline.WithExporter(export.NewSQLite(opts.writeSQLite)))
	}

	cfg := pipeline.DefaultConfig()
	cfg.Category = fetcher.Profile().Category
	cfg.SemaphoreCount = opts.semaphoreCount
	cfg.MaxAttempts = opts.numAttempts
	cfg.RetryDelay = opts.retryDelay
	cfg.AttemptTimeout = opts.attemptTimeout
	cfg.BatchSize = opts.batchSize
	cfg.BatchDelay = opts.batchDelay
	cfg.ExcludeFields = opts.exclude
	cfg.ExportPath = opts.writeJSON
	cfg.ShowProgress = opts.progress

	rs, runErr := pipeline.New(fetcher, popts...).Run(ctx, identifiers, cfg)
	if rs == nil {
		return runErr
	}

	if _, err := rs.Summary().WriteTo(cmd.ErrOrStderr()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := writeResults(cmd.OutOrStdout(), rs, opts.view); err != nil {
		return err
	}

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, context.Canceled):
		log.Warn().Msg("Run interrupted, partial results written")
	}
	return runErr
}

// readIdentifiersFile reads one identifier per line, skipping blank lines
// and lines starting with '#'. path "-" reads stdin.
func readIdentifiersFile(path string, stdin io.Reader) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	return readIdentifiers(r)
}

func readIdentifiers(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return ids, nil
}

// writeResults prints the outcomes as a JSON array in input order.
func writeResults(w io.Writer, rs *record.ResultSet, view string) error {
	items := make([]any, len(rs.Outcomes))
	for i, o := range rs.Outcomes {
		if view == viewMap && o.Record != nil {
			items[i] = o.Record.Map()
			continue
		}
		items[i] = o
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
