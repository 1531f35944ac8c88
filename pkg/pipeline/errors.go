package pipeline

import (
	"errors"
)

var (
	// ErrInvalidConfig is returned before any fetch when the run
	// configuration or export target is unusable.
	ErrInvalidConfig = errors.New("invalid run configuration")

	// ErrExport is returned together with a complete ResultSet when the
	// export step failed.
	ErrExport = errors.New("export failed")
)
