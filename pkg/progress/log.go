package progress

import (
	"github.com/rs/zerolog"
)

// LogReporter writes one line per finished item and a percentage line
// every Step percent.
type LogReporter struct {
	logger zerolog.Logger
	// Step is the percentage interval for summary lines. Zero disables them.
	Step float64

	nextMark float64
}

// NewLogReporter creates a reporter logging through logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{
		logger: logger,
		Step:   10,
	}
}

// Report logs ev.
func (r *LogReporter) Report(ev Event) {
	if ev.OK {
		r.logger.Info().
			Str("identifier", ev.Identifier).
			Int("attempts", ev.Attempts).
			Dur("elapsed", ev.Elapsed).
			Int("completed", ev.Completed).
			Int("total", ev.Total).
			Msg("Pulled record")
	} else {
		r.logger.Warn().
			Str("identifier", ev.Identifier).
			Str("kind", string(ev.Kind)).
			Int("attempts", ev.Attempts).
			Int("completed", ev.Completed).
			Int("total", ev.Total).
			Msg("Failed to pull record")
	}

	if r.Step <= 0 {
		return
	}
	if r.nextMark == 0 {
		r.nextMark = r.Step
	}
	pct := ev.Percent()
	if pct < r.nextMark && ev.Completed != ev.Total {
		return
	}
	for r.nextMark <= pct {
		r.nextMark += r.Step
	}
	r.logger.Info().
		Int("completed", ev.Completed).
		Int("total", ev.Total).
		Float64("percent", pct).
		Msg("Progress")
}
