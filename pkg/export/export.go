// Package export persists the result set of a run.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Sternrassler/bulkfetch/pkg/record"
)

// Exporter writes a finished result set somewhere.
type Exporter interface {
	Export(ctx context.Context, rs *record.ResultSet) error
}

// Preflighter is implemented by exporters that can check their target
// before a run starts.
type Preflighter interface {
	Preflight() error
}

// Preflight runs e's preflight check when it has one.
func Preflight(e Exporter) error {
	if p, ok := e.(Preflighter); ok {
		return p.Preflight()
	}
	return nil
}

// Multi writes to every exporter in order and joins their errors.
func Multi(exporters ...Exporter) Exporter {
	var es []Exporter
	for _, e := range exporters {
		if e != nil {
			es = append(es, e)
		}
	}
	return multi(es)
}

type multi []Exporter

func (m multi) Export(ctx context.Context, rs *record.ResultSet) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, rs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Preflight() error {
	var errs []error
	for _, e := range m {
		if err := Preflight(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkWritableDir fails unless dir is a directory the process can create
// files in.
func checkWritableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".bulkfetch-preflight-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
