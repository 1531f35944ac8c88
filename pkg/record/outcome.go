package record

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrorKind separates failures that retrying could fix from those it cannot.
type ErrorKind string

const (
	// KindTransient marks failures that were retried (network, 5xx, 429).
	KindTransient ErrorKind = "transient"

	// KindTerminal marks failures that are never retried (404, 403, private).
	KindTerminal ErrorKind = "terminal"

	// KindNotAttempted marks identifiers skipped because the run was cancelled.
	KindNotAttempted ErrorKind = "not_attempted"
)

// Failure describes why an identifier produced no record.
type Failure struct {
	Identifier string
	Kind       ErrorKind
	// Class is the fetch error class (network, server, not_found, ...).
	Class    string
	Attempts int
	Err      error
}

// Error implements the error interface so a Failure can be logged or wrapped.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s failure after %d attempt(s): %v", f.Identifier, f.Kind, f.Attempts, f.Err)
	}
	return fmt.Sprintf("%s: %s failure after %d attempt(s)", f.Identifier, f.Kind, f.Attempts)
}

// Unwrap returns the underlying fetch error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// MarshalJSON encodes the explicit failure marker used in exports.
func (f *Failure) MarshalJSON() ([]byte, error) {
	out := struct {
		Identifier string    `json:"identifier"`
		Error      ErrorKind `json:"error"`
		Class      string    `json:"class,omitempty"`
		Attempts   int       `json:"attempts"`
		Message    string    `json:"message,omitempty"`
	}{
		Identifier: f.Identifier,
		Error:      f.Kind,
		Class:      f.Class,
		Attempts:   f.Attempts,
	}
	if f.Err != nil {
		out.Message = f.Err.Error()
	}
	return json.Marshal(out)
}

// Outcome is the result for one identifier: exactly one of Record or
// Failure is set.
type Outcome struct {
	// Identifier is the caller-supplied identifier at Index.
	Identifier string
	// Index is the identifier's position in the input.
	Index int
	// Attempts is the number of fetch attempts made, zero when not attempted.
	Attempts int
	Record   *Record
	Failure  *Failure
}

// Success builds a successful outcome reached after attempts fetches.
func Success(index int, identifier string, rec *Record, attempts int) Outcome {
	return Outcome{Identifier: identifier, Index: index, Attempts: attempts, Record: rec}
}

// Failed builds a failed outcome.
func Failed(index int, f *Failure) Outcome {
	return Outcome{Identifier: f.Identifier, Index: index, Attempts: f.Attempts, Failure: f}
}

// OK reports whether the outcome holds a record.
func (o Outcome) OK() bool {
	return o.Record != nil
}

// MarshalJSON encodes successes as the record's field mapping and failures
// as the explicit failure object.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Record != nil {
		return o.Record.MarshalJSON()
	}
	if o.Failure != nil {
		return o.Failure.MarshalJSON()
	}
	return []byte("null"), nil
}

// ResultSet is the ordered outcome of one pipeline run. Outcomes[i] always
// belongs to the i-th input identifier.
type ResultSet struct {
	RunID      string
	Category   string
	Outcomes   []Outcome
	StartedAt  time.Time
	FinishedAt time.Time
	// Cancelled is set when the run stopped before every identifier was attempted.
	Cancelled bool
}

// Len returns the number of outcomes (equal to the number of identifiers).
func (rs *ResultSet) Len() int {
	return len(rs.Outcomes)
}

// Records returns the successful records in input order.
func (rs *ResultSet) Records() []*Record {
	out := make([]*Record, 0, len(rs.Outcomes))
	for _, o := range rs.Outcomes {
		if o.Record != nil {
			out = append(out, o.Record)
		}
	}
	return out
}

// Failures returns the failures in input order.
func (rs *ResultSet) Failures() []*Failure {
	var out []*Failure
	for _, o := range rs.Outcomes {
		if o.Failure != nil {
			out = append(out, o.Failure)
		}
	}
	return out
}

// FailedIdentifiers returns the identifiers that were fetched but produced
// no record.
func (rs *ResultSet) FailedIdentifiers() []string {
	ids := []string{}
	for _, o := range rs.Outcomes {
		if o.Failure != nil && o.Failure.Kind != KindNotAttempted {
			ids = append(ids, o.Identifier)
		}
	}
	return ids
}

// NotAttemptedIdentifiers returns the identifiers skipped by cancellation.
func (rs *ResultSet) NotAttemptedIdentifiers() []string {
	ids := []string{}
	for _, o := range rs.Outcomes {
		if o.Failure != nil && o.Failure.Kind == KindNotAttempted {
			ids = append(ids, o.Identifier)
		}
	}
	return ids
}

// Summary aggregates run statistics. Attempted, Failures and SuccessRate
// cover fetched identifiers only; skipped ones are counted in NotAttempted.
type Summary struct {
	Category  string
	Submitted int
	Attempted int
	Successes int
	Failures  int
	// NotAttempted counts identifiers skipped by cancellation.
	NotAttempted            int
	SuccessRate             float64
	StartedAt               time.Time
	FinishedAt              time.Time
	FailedIdentifiers       []string
	NotAttemptedIdentifiers []string
}

// Summary computes the run statistics.
func (rs *ResultSet) Summary() Summary {
	s := Summary{
		Category:                rs.Category,
		Submitted:               len(rs.Outcomes),
		StartedAt:               rs.StartedAt,
		FinishedAt:              rs.FinishedAt,
		FailedIdentifiers:       rs.FailedIdentifiers(),
		NotAttemptedIdentifiers: rs.NotAttemptedIdentifiers(),
	}
	for _, o := range rs.Outcomes {
		switch {
		case o.Record != nil:
			s.Successes++
		case o.Failure != nil && o.Failure.Kind == KindNotAttempted:
			s.NotAttempted++
		default:
			s.Failures++
		}
	}
	s.Attempted = s.Submitted - s.NotAttempted
	if s.Attempted > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.Attempted)
	}
	return s
}

// WriteTo renders the human-readable run report.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	category := s.Category
	if category == "" {
		category = "record"
	}
	var b strings.Builder
	b.WriteString("------------------------------------\n")
	fmt.Fprintf(&b, "category: %s\n", category)
	fmt.Fprintf(&b, "started at: %s\n", s.StartedAt.Format(time.ANSIC))
	fmt.Fprintf(&b, "ended at: %s\n", s.FinishedAt.Format(time.ANSIC))
	fmt.Fprintf(&b, "attempted: %d\n", s.Attempted)
	fmt.Fprintf(&b, "successes: %d\n", s.Successes)
	fmt.Fprintf(&b, "failures: %d\n", s.Failures)
	fmt.Fprintf(&b, "%ss failed: [%s]\n", category, strings.Join(s.FailedIdentifiers, ", "))
	if s.NotAttempted > 0 {
		fmt.Fprintf(&b, "not attempted: %d of %d [%s]\n", s.NotAttempted, s.Submitted, strings.Join(s.NotAttemptedIdentifiers, ", "))
	}
	fmt.Fprintf(&b, "success rate: %.2f\n", s.SuccessRate)
	b.WriteString("------------------------------------\n")
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
