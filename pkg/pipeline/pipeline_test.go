package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/bulkfetch/internal/testutil"
	"github.com/Sternrassler/bulkfetch/pkg/fetch"
	"github.com/Sternrassler/bulkfetch/pkg/progress"
	"github.com/Sternrassler/bulkfetch/pkg/record"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("id-%d", i)
	}
	return out
}

func notFound(id string) error {
	return &fetch.FetchError{Identifier: id, StatusCode: 404, Class: fetch.ErrorClassNotFound, Message: "404 Not Found"}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Category = "book"
	return cfg
}

func TestRun_EndToEnd(t *testing.T) {
	stub := testutil.NewStubFetcher().
		Script("B", testutil.Step{Err: notFound("B")})

	cfg := testConfig()
	cfg.SemaphoreCount = 2

	rs, err := New(stub).Run(context.Background(), []string{"A", "B", "C"}, cfg)
	require.NoError(t, err)
	require.Equal(t, 3, rs.Len())

	assert.True(t, rs.Outcomes[0].OK())
	assert.Equal(t, "A", rs.Outcomes[0].Identifier)

	require.NotNil(t, rs.Outcomes[1].Failure)
	assert.Equal(t, "B", rs.Outcomes[1].Failure.Identifier)
	assert.Equal(t, record.KindTerminal, rs.Outcomes[1].Failure.Kind)
	assert.Equal(t, 1, rs.Outcomes[1].Failure.Attempts)

	assert.True(t, rs.Outcomes[2].OK())
	assert.Equal(t, "C", rs.Outcomes[2].Identifier)

	s := rs.Summary()
	assert.Equal(t, 3, s.Attempted)
	assert.Equal(t, 2, s.Successes)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, []string{"B"}, s.FailedIdentifiers)
	assert.InDelta(t, 2.0/3.0, s.SuccessRate, 1e-9)
	assert.NotEmpty(t, rs.RunID)
	assert.False(t, rs.Cancelled)
}

func TestRun_Cardinality(t *testing.T) {
	for _, n := range []int{0, 1, 7, 50} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			stub := testutil.NewStubFetcher()
			if n > 0 {
				stub.Script("id-0", testutil.Step{Err: notFound("id-0")})
			}

			cfg := testConfig()
			cfg.SemaphoreCount = 4
			cfg.BatchSize = 3

			rs, err := New(stub).Run(context.Background(), ids(n), cfg)
			require.NoError(t, err)
			assert.Equal(t, n, rs.Len())
			for i, o := range rs.Outcomes {
				assert.Equal(t, i, o.Index)
				assert.NotEqual(t, o.Record != nil, o.Failure != nil, "exactly one of record or failure at %d", i)
			}
		})
	}
}

func TestRun_PreservesInputOrder(t *testing.T) {
	// Earlier identifiers take longer, so completion order is reversed
	in := ids(6)
	stub := testutil.NewStubFetcher()
	for i, id := range in {
		stub.Script(id, testutil.Step{
			Record: record.New(id, record.F("pos", i)),
			Delay:  time.Duration(len(in)-i) * 15 * time.Millisecond,
		})
	}

	cfg := testConfig()
	cfg.SemaphoreCount = len(in)

	rs, err := New(stub).Run(context.Background(), in, cfg)
	require.NoError(t, err)

	for i, o := range rs.Outcomes {
		require.True(t, o.OK())
		assert.Equal(t, in[i], o.Identifier)
		v, ok := o.Record.Get("pos")
		require.True(t, ok)
		assert.Equal(t, i, v.OrElse(-1))
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	for _, k := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			stub := testutil.NewStubFetcher()
			stub.Delay = 10 * time.Millisecond

			cfg := testConfig()
			cfg.SemaphoreCount = k

			rs, err := New(stub).Run(context.Background(), ids(20), cfg)
			require.NoError(t, err)
			assert.Equal(t, 20, rs.Len())
			assert.LessOrEqual(t, stub.MaxInFlight(), k)
			assert.Equal(t, 20, stub.TotalCalls())
		})
	}
}

func TestRun_Retries(t *testing.T) {
	transient := fetch.Transient(errors.New("connection reset"))

	stub := testutil.NewStubFetcher().
		Script("flaky", testutil.Step{Err: transient}, testutil.Step{Err: transient}, testutil.Step{Record: record.New("flaky", record.F("ok", true))}).
		Script("down", testutil.Step{Err: transient}).
		Script("gone", testutil.Step{Err: notFound("gone")})

	cfg := testConfig()
	cfg.MaxAttempts = 3
	cfg.RetryDelay = 5 * time.Millisecond

	rs, err := New(stub).Run(context.Background(), []string{"flaky", "down", "gone"}, cfg)
	require.NoError(t, err)

	assert.True(t, rs.Outcomes[0].OK())
	assert.Equal(t, 3, stub.Calls("flaky"))
	assert.Equal(t, 3, rs.Outcomes[0].Attempts, "success records the attempt that produced it")
	assert.Equal(t, 3, rs.Outcomes[1].Attempts)

	require.NotNil(t, rs.Outcomes[1].Failure)
	assert.Equal(t, record.KindTransient, rs.Outcomes[1].Failure.Kind)
	assert.Equal(t, 3, rs.Outcomes[1].Failure.Attempts)
	assert.ErrorIs(t, rs.Outcomes[1].Failure, fetch.ErrRetryExhausted)
	assert.Equal(t, 3, stub.Calls("down"))

	require.NotNil(t, rs.Outcomes[2].Failure)
	assert.Equal(t, record.KindTerminal, rs.Outcomes[2].Failure.Kind)
	assert.Equal(t, 1, stub.Calls("gone"))
}

func TestRun_Batching(t *testing.T) {
	const gap = 80 * time.Millisecond

	var mu sync.Mutex
	started := make(map[string]time.Time)
	f := fetch.FetcherFunc(func(_ context.Context, id string) (*record.Record, error) {
		mu.Lock()
		started[id] = time.Now()
		mu.Unlock()
		return record.New(id, record.F("id", id)), nil
	})

	cfg := testConfig()
	cfg.SemaphoreCount = 5
	cfg.BatchSize = 2
	cfg.BatchDelay = gap

	in := ids(5)
	begin := time.Now()
	rs, err := New(f).Run(context.Background(), in, cfg)
	elapsed := time.Since(begin)
	require.NoError(t, err)
	assert.Equal(t, 5, rs.Len())

	// Groups are [0 1] [2 3] [4]
	assert.GreaterOrEqual(t, started[in[2]].Sub(started[in[1]]), gap)
	assert.GreaterOrEqual(t, started[in[3]].Sub(started[in[0]]), gap)
	assert.GreaterOrEqual(t, started[in[4]].Sub(started[in[3]]), gap)
	assert.Less(t, started[in[1]].Sub(started[in[0]]).Abs(), gap)

	// Two gaps, none after the last group
	assert.GreaterOrEqual(t, elapsed, 2*gap)
	assert.Less(t, elapsed, 3*gap)
}

func TestRun_ExcludeFields(t *testing.T) {
	stub := testutil.NewStubFetcher().
		Script("A", testutil.Step{Record: record.New("A", record.F("title", "a"), record.F("url", "http://x/a"), record.F("isbn", "1"))}).
		Script("B", testutil.Step{Record: record.New("B", record.F("url", "http://x/b"))})

	cfg := testConfig()
	cfg.ExcludeFields = []string{"url", "missing"}

	rs, err := New(stub).Run(context.Background(), []string{"A", "B"}, cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"title", "isbn"}, rs.Outcomes[0].Record.Names())
	assert.False(t, rs.Outcomes[0].Record.Has("url"))

	// A record emptied by exclusion stays a success
	require.True(t, rs.Outcomes[1].OK())
	assert.Equal(t, 0, rs.Outcomes[1].Record.Len())
}

var timestampLine = regexp.MustCompile(`(?m)^\s*"query_(start|end)": ".*",\n`)

func TestRun_ExportIdempotent(t *testing.T) {
	dir := t.TempDir()
	stub := testutil.NewStubFetcher().
		Script("B", testutil.Step{Err: notFound("B")})

	run := func(name string) []byte {
		cfg := testConfig()
		cfg.ExportPath = filepath.Join(dir, name)
		_, err := New(stub).Run(context.Background(), []string{"A", "B", "C", "D"}, cfg)
		require.NoError(t, err)
		data, err := os.ReadFile(cfg.ExportPath)
		require.NoError(t, err)
		return timestampLine.ReplaceAll(data, nil)
	}

	first := run("first.json")
	second := run("second.json")
	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), `"failed": [`)
	assert.NotContains(t, string(first), "query_start")
}

func TestRun_Cancellation(t *testing.T) {
	stub := testutil.NewStubFetcher()
	stub.Delay = 40 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	// Single-item batches run strictly in input order
	cfg := testConfig()
	cfg.SemaphoreCount = 1
	cfg.BatchSize = 1
	cfg.ExportPath = filepath.Join(t.TempDir(), "partial.json")

	in := ids(6)
	rs, err := New(stub).Run(ctx, in, cfg)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rs)

	assert.True(t, rs.Cancelled)
	assert.Equal(t, len(in), rs.Len())
	assert.True(t, rs.Outcomes[0].OK(), "first fetch finished before cancellation")

	last := rs.Outcomes[len(in)-1]
	require.NotNil(t, last.Failure)
	assert.Equal(t, record.KindNotAttempted, last.Failure.Kind)
	assert.Equal(t, 0, last.Failure.Attempts)
	assert.Equal(t, 2, stub.TotalCalls())

	// The in-flight fetch was interrupted, not skipped
	require.NotNil(t, rs.Outcomes[1].Failure)
	assert.Equal(t, 1, rs.Outcomes[1].Failure.Attempts)
	assert.Equal(t, record.KindTransient, rs.Outcomes[1].Failure.Kind)
	s := rs.Summary()
	assert.Equal(t, 2, s.Attempted, "only fetched identifiers count as attempted")
	assert.Equal(t, 4, s.NotAttempted)
	assert.Equal(t, 1, s.Failures)
	assert.InDelta(t, 0.5, s.SuccessRate, 1e-9)

	_, statErr := os.Stat(cfg.ExportPath)
	assert.NoError(t, statErr, "partial results are exported")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	stub := testutil.NewStubFetcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rs, err := New(stub).Run(ctx, ids(3), testConfig())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stub.TotalCalls())
	for _, o := range rs.Outcomes {
		require.NotNil(t, o.Failure)
		assert.Equal(t, record.KindNotAttempted, o.Failure.Kind)
	}
}

type failingExporter struct{}

func (failingExporter) Export(context.Context, *record.ResultSet) error {
	return errors.New("disk full")
}

func TestRun_ExportFailureKeepsResults(t *testing.T) {
	stub := testutil.NewStubFetcher()

	rs, err := New(stub, WithExporter(failingExporter{})).Run(context.Background(), ids(3), testConfig())
	require.ErrorIs(t, err, ErrExport)
	require.NotNil(t, rs)
	assert.Equal(t, 3, rs.Summary().Successes)
}

func TestRun_InvalidConfig(t *testing.T) {
	stub := testutil.NewStubFetcher()

	cfg := testConfig()
	cfg.SemaphoreCount = 0
	rs, err := New(stub).Run(context.Background(), ids(2), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, rs)

	cfg = testConfig()
	cfg.ExportPath = filepath.Join(t.TempDir(), "missing-dir", "out.json")
	rs, err = New(stub).Run(context.Background(), ids(2), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, rs)

	_, err = New(nil).Run(context.Background(), ids(2), testConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	assert.Equal(t, 0, stub.TotalCalls(), "no fetch before validation passes")
}

func TestRun_Progress(t *testing.T) {
	stub := testutil.NewStubFetcher().
		Script("id-3", testutil.Step{Err: notFound("id-3")})

	var mu sync.Mutex
	var events []progress.Event
	reporter := progress.ReporterFunc(func(ev progress.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	tracker := progress.NewTracker(10)

	cfg := testConfig()
	cfg.SemaphoreCount = 4
	cfg.ShowProgress = true

	_, err := New(stub, WithReporter(progress.Multi(reporter, tracker))).Run(context.Background(), ids(10), cfg)
	require.NoError(t, err)

	require.Len(t, events, 10)
	seen := make(map[int]bool)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Completed, "completed counts are monotonic")
		assert.Equal(t, 10, ev.Total)
		seen[ev.Index] = true
		if ev.Identifier == "id-3" {
			assert.False(t, ev.OK)
			assert.Equal(t, record.KindTerminal, ev.Kind)
		}
	}
	assert.Len(t, seen, 10)
	assert.InDelta(t, 100.0, events[len(events)-1].Percent(), 1e-9)

	assert.True(t, tracker.IsComplete())
	snap := tracker.Snapshot()
	assert.Equal(t, 9, snap.Successes)
	assert.Equal(t, 1, snap.Failures)
}
