// Package fetch provides the single-record side of the bulk pipeline: the
// Fetcher contract, error classification, the retry wrapper and a generic
// profile-driven HTTP fetcher.
package fetch

import (
	"context"

	"github.com/Sternrassler/bulkfetch/pkg/record"
)

// Fetcher retrieves and extracts one record.
type Fetcher interface {
	// Fetch returns the record for identifier, or a classified error.
	Fetch(ctx context.Context, identifier string) (*record.Record, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, identifier string) (*record.Record, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, identifier string) (*record.Record, error) {
	return f(ctx, identifier)
}
