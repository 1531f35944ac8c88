package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/bulkfetch/pkg/record"
)

// jsonIndent is the indentation of exported documents.
const jsonIndent = "    "

// Envelope is the exported JSON document.
type Envelope struct {
	Category     string           `json:"category"`
	QueryStart   string           `json:"query_start"`
	QueryEnd     string           `json:"query_end"`
	Submitted    int              `json:"submitted"`
	Attempted    int              `json:"attempted"`
	Successes    int              `json:"successes"`
	Failures     int              `json:"failures"`
	Failed       []string         `json:"failed"`
	NotAttempted int              `json:"not_attempted"`
	SuccessRate  float64          `json:"success_rate"`
	Results      []record.Outcome `json:"results"`
}

// NewEnvelope builds the export document for rs.
func NewEnvelope(rs *record.ResultSet) Envelope {
	s := rs.Summary()
	results := rs.Outcomes
	if results == nil {
		results = []record.Outcome{}
	}
	return Envelope{
		Category:     s.Category,
		QueryStart:   s.StartedAt.Format(time.RFC3339Nano),
		QueryEnd:     s.FinishedAt.Format(time.RFC3339Nano),
		Submitted:    s.Submitted,
		Attempted:    s.Attempted,
		Successes:    s.Successes,
		Failures:     s.Failures,
		Failed:       s.FailedIdentifiers,
		NotAttempted: s.NotAttempted,
		SuccessRate:  s.SuccessRate,
		Results:      results,
	}
}

// Encode renders rs as an indented JSON document.
func Encode(rs *record.ResultSet) ([]byte, error) {
	data, err := json.MarshalIndent(NewEnvelope(rs), "", jsonIndent)
	if err != nil {
		return nil, fmt.Errorf("encode result set: %w", err)
	}
	return append(data, '\n'), nil
}

// JSONFile writes the result set as one JSON document.
type JSONFile struct {
	Path string
}

// NewJSONFile returns an exporter writing to path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

// Preflight checks that the target directory exists and is writable.
func (j *JSONFile) Preflight() error {
	if j.Path == "" {
		return fmt.Errorf("json export: empty path")
	}
	if err := checkWritableDir(filepath.Dir(j.Path)); err != nil {
		return fmt.Errorf("json export: %w", err)
	}
	return nil
}

// Export writes the document through a temporary file and renames it into
// place, so readers never see a partial file.
func (j *JSONFile) Export(_ context.Context, rs *record.ResultSet) error {
	data, err := Encode(rs)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.Path), "."+filepath.Base(j.Path)+".*")
	if err != nil {
		return fmt.Errorf("json export: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("json export write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("json export close: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.Path); err != nil {
		return fmt.Errorf("json export rename: %w", err)
	}
	return nil
}
