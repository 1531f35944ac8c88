package pipeline

import (
	"fmt"
	"time"
)

// Defaults for a run.
const (
	DefaultSemaphoreCount = 3
	DefaultMaxAttempts    = 1
)

// Config is the configuration of one run. The zero value is not valid;
// start from DefaultConfig.
type Config struct {
	// Category labels the run and its export (e.g. "book").
	Category string

	// SemaphoreCount is the maximum number of fetches in flight.
	SemaphoreCount int

	// MaxAttempts per identifier. 0 is treated as 1.
	MaxAttempts int

	// RetryDelay is the pause between attempts of one identifier.
	RetryDelay time.Duration

	// AttemptTimeout bounds a single attempt. Zero means no bound.
	AttemptTimeout time.Duration

	// BatchSize splits the identifiers into groups processed one after
	// another. Zero processes everything as one group.
	BatchSize int

	// BatchDelay is the pause between groups.
	BatchDelay time.Duration

	// ExcludeFields are removed from every successful record.
	ExcludeFields []string

	// ExportPath writes the result set as JSON when set.
	ExportPath string

	// ShowProgress logs one line per finished identifier.
	ShowProgress bool
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		SemaphoreCount: DefaultSemaphoreCount,
		MaxAttempts:    DefaultMaxAttempts,
	}
}

// Validate checks the configuration. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.SemaphoreCount < 1:
		return fmt.Errorf("%w: semaphore count must be >= 1 (got %d)", ErrInvalidConfig, c.SemaphoreCount)
	case c.MaxAttempts < 0:
		return fmt.Errorf("%w: max attempts must be >= 0 (got %d)", ErrInvalidConfig, c.MaxAttempts)
	case c.BatchSize < 0:
		return fmt.Errorf("%w: batch size must be >= 0 (got %d)", ErrInvalidConfig, c.BatchSize)
	case c.BatchDelay < 0:
		return fmt.Errorf("%w: batch delay must be >= 0 (got %v)", ErrInvalidConfig, c.BatchDelay)
	case c.RetryDelay < 0:
		return fmt.Errorf("%w: retry delay must be >= 0 (got %v)", ErrInvalidConfig, c.RetryDelay)
	case c.AttemptTimeout < 0:
		return fmt.Errorf("%w: attempt timeout must be >= 0 (got %v)", ErrInvalidConfig, c.AttemptTimeout)
	}
	for _, f := range c.ExcludeFields {
		if f == "" {
			return fmt.Errorf("%w: empty field name in exclusions", ErrInvalidConfig)
		}
	}
	return nil
}

// attempts returns the effective attempt limit.
func (c Config) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}
