package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Sternrassler/bulkfetch/pkg/record"
)

// Common errors returned by the fetch layer.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrCancelled is returned when the context is cancelled between attempts.
	ErrCancelled = errors.New("fetch cancelled")
)

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassNetwork represents dial, read and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassClient represents 4xx statuses other than not found / forbidden.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassRetryable marks collaborator errors explicitly flagged as transient.
	ErrorClassRetryable ErrorClass = "retryable"

	// ErrorClassNotFound represents 404 and 410 responses.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassForbidden represents 401/403 responses and private pages.
	ErrorClassForbidden ErrorClass = "forbidden"

	// ErrorClassInvalidIdentifier represents identifiers that cannot be resolved to a URL.
	ErrorClassInvalidIdentifier ErrorClass = "invalid_identifier"

	// ErrorClassExtract represents pages that loaded but could not be parsed.
	ErrorClassExtract ErrorClass = "extract"

	// ErrorClassCancelled represents caller cancellation.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassUnknown represents unclassified errors.
	ErrorClassUnknown ErrorClass = "unknown"
)

// Retryable reports whether another attempt could succeed.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassNetwork, ErrorClassServer, ErrorClassRateLimit, ErrorClassClient, ErrorClassRetryable:
		return true
	default:
		return false
	}
}

// Kind maps the class onto the outcome taxonomy.
func (c ErrorClass) Kind() record.ErrorKind {
	if c.Retryable() || c == ErrorClassCancelled {
		return record.KindTransient
	}
	return record.KindTerminal
}

// FetchError is a fetch failure with classification context.
type FetchError struct {
	Identifier string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	prefix := fmt.Sprintf("fetch %s error", e.Class)
	if e.Identifier != "" {
		prefix = fmt.Sprintf("fetch %s %s error", e.Identifier, e.Class)
	}
	if e.StatusCode > 0 {
		prefix = fmt.Sprintf("%s (status %d)", prefix, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable regardless of its type.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &FetchError{Class: ErrorClassRetryable, Message: "transient failure", Err: err}
}

// Terminal marks err as not retryable regardless of its type.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &FetchError{Class: ErrorClassUnknown, Message: "terminal failure", Err: err}
}

// Classify categorizes an error for retry decisions and observability.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var fe *FetchError
	if errors.As(err, &fe) && fe.Class != "" {
		return fe.Class
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return ErrorClassCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}

	return ErrorClassUnknown
}

// ClassifyStatus maps a non-success HTTP status to an error class.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusNotFound, status == http.StatusGone:
		return ErrorClassNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrorClassForbidden
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusRequestTimeout:
		return ErrorClassNetwork
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
