package ingest

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fetch and scheduling failures so callers can branch on
// outcome without string matching.
type ErrorKind string

// Supported error kinds.
const (
	KindTimeout          ErrorKind = "timeout"
	KindConnectionFailed ErrorKind = "connection_failed"
	KindHTTPStatus       ErrorKind = "http_status"
	KindBlocked          ErrorKind = "blocked"
	KindExhaustedRetries ErrorKind = "exhausted_retries"
	KindCancelled        ErrorKind = "cancelled"
	KindPermanent        ErrorKind = "permanent"
	KindJobFailure       ErrorKind = "job_failure"
)

// Error is the typed failure returned across package boundaries.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Op         string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed Error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewStatusError builds a typed Error carrying an HTTP status code.
func NewStatusError(kind ErrorKind, op string, code int, err error) *Error {
	return &Error{Kind: kind, StatusCode: code, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from err, or "" when err is not typed.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsCancelled reports whether err represents caller-driven cancellation.
func IsCancelled(err error) bool {
	return IsKind(err, KindCancelled)
}

// IsRetryableStatus reports whether an HTTP status code is worth retrying
// within the current protocol stage. 403 is handled separately by the
// escalation path and is deliberately not listed here.
func IsRetryableStatus(code int) bool {
	switch {
	case code == 429:
		return true
	case code >= 500 && code < 600:
		return true
	default:
		return false
	}
}
