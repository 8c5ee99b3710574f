package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Application exit codes define the standard exit statuses for the application.
// These codes are used to signal the outcome of the program execution to the OS.
const (
	ExitSuccess       = 0   // At least one city was fetched.
	ExitErrorGeneric  = 1   // Every city failed, or a generic error.
	ExitErrorTimeout  = 2   // Every city failed and every failure was a timeout.
	ExitErrorConfig   = 4   // Indicates a configuration error.
	ExitErrorCanceled = 130 // Indicates the operation was canceled (e.g., SIGINT).
)

// ErrRateLimited is returned when a rate-limit permit could not be obtained.
var ErrRateLimited = errors.New("rate limit exceeded")

// Kind classifies a fetch failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindTimeout
	KindHTTPStatus
	KindParse
	KindRateLimit
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknown",
	KindNetwork:    "network",
	KindTimeout:    "timeout",
	KindHTTPStatus: "http_status",
	KindParse:      "parse",
	KindRateLimit:  "rate_limit",
	KindCanceled:   "canceled",
}

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// ConfigError represents a user configuration error, such as invalid flags or
// values. It indicates that the application cannot proceed due to incorrect user input.
type ConfigError struct {
	// Message explains the specific configuration error.
	Message string
}

// Error returns the error message for a ConfigError.
func (e ConfigError) Error() string { return e.Message }

// NewConfigError creates a new ConfigError with a formatted message.
func NewConfigError(format string, a ...any) error {
	return ConfigError{Message: fmt.Sprintf(format, a...)}
}

// FetchError is the failure of one city's fetch. Error() returns the cause's
// message so it can be used directly as the failure description.
type FetchError struct {
	// City is the requested city name.
	City string
	// Kind is the failure class.
	Kind Kind
	// Cause is the underlying error.
	Cause error
}

// Error returns the error message from the underlying cause.
func (e *FetchError) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Cause.Error()
}

// Unwrap returns the original wrapped error.
func (e *FetchError) Unwrap() error { return e.Cause }

// NewFetchError classifies err and wraps it for city.
func NewFetchError(city string, err error) *FetchError {
	return &FetchError{City: city, Kind: Classify(err), Cause: err}
}

// TimeoutError represents an operation that exceeded its time limit.
type TimeoutError struct {
	// Operation is the name of the operation that timed out.
	Operation string
	// Limit is the duration after which the operation was considered timed out.
	Limit time.Duration
}

// Error returns a formatted message describing the timeout.
func (e TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s", e.Operation, e.Limit)
}

// HTTPStatusError is a non-2xx response from the upstream API.
type HTTPStatusError struct {
	StatusCode int
	// Body is a truncated copy of the response body, for diagnostics.
	Body string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("API returned status %d", e.StatusCode)
}

// ParseError is a response body that could not be decoded into weather data.
type ParseError struct {
	Cause error
}

func (e ParseError) Error() string { return "malformed response: " + e.Cause.Error() }

func (e ParseError) Unwrap() error { return e.Cause }

// ValidationError represents an input validation failure. It identifies which
// field failed validation and provides a human-readable explanation.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string
	// Message explains the validation failure.
	Message string
}

// Error returns a formatted message describing the validation failure.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for %q: %s", e.Field, e.Message)
}

// Classify maps an error onto the fetch failure taxonomy. Typed errors win
// over the context errors they may wrap; anything left over from the
// transport is a network error.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var fetchErr *FetchError
	var timeoutErr TimeoutError
	var statusErr HTTPStatusError
	var parseErr ParseError
	var netErr net.Error

	switch {
	case errors.As(err, &fetchErr):
		return fetchErr.Kind
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &statusErr):
		return KindHTTPStatus
	case errors.As(err, &parseErr):
		return KindParse
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	}
	return KindNetwork
}

// WrapError wraps an error with additional context using fmt.Errorf and %w.
// It returns nil if err is nil.
func WrapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsContextError checks if the error is a context cancellation or deadline exceeded error.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
