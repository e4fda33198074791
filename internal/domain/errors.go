package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrParserExhausted = errors.New("story text is empty")
)

// ErrorKind classifies pipeline failures. The transient subset is retried by
// the controller; everything else surfaces on the job record.
type ErrorKind string

const (
	KindValidation          ErrorKind = "ValidationError"
	KindParserExhausted     ErrorKind = "ParserExhausted"
	KindUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	KindUpstreamRateLimited ErrorKind = "UpstreamRateLimited"
	KindUpstreamBadResponse ErrorKind = "UpstreamBadResponse"
	KindStorageUnavailable  ErrorKind = "StorageUnavailable"
	KindAssemblyFailed      ErrorKind = "AssemblyFailed"
	KindTimeout             ErrorKind = "Timeout"
	KindCancelled           ErrorKind = "Cancelled"
	KindInternal            ErrorKind = "Internal"
)

// Error is the typed failure carried on job records and progress frames.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a typed error, optionally wrapping a cause.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Errorf builds a typed error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, defaulting to Internal for untyped
// errors and Timeout for context deadline errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, ErrParserExhausted) {
		return KindParserExhausted
	}
	if errors.Is(err, ErrNotFound) {
		return KindValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// Transient reports whether err belongs to the retryable subset.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindUpstreamUnavailable, KindUpstreamRateLimited, KindTimeout:
		return true
	}
	return false
}
