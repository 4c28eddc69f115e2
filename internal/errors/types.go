// Package errors defines the service error taxonomy and retry helpers.
//
// Every failure on a request path is classified into one of the Kind values
// below; the executor and HTTP layer branch on Kind(err) rather than on error
// strings.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind classifies an error for handling and reporting.
type Kind int

const (
	// KindInternal - invariant violation or unclassified failure.
	KindInternal Kind = iota
	// KindUserInput - malformed request or arguments; never retried.
	KindUserInput
	// KindPolicyDenied - governance refused the action; never retried.
	KindPolicyDenied
	// KindUpstream - LLM or tool adapter I/O failure; retryable.
	KindUpstream
	// KindParse - router or tool-call JSON invalid; falls back, never retried.
	KindParse
	// KindExhausted - iteration or repeat-call cap hit; deterministic fallback.
	KindExhausted
	// KindCancelled - client disconnect or shutdown.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindUserInput:
		return "user_input"
	case KindPolicyDenied:
		return "policy_denied"
	case KindUpstream:
		return "upstream_unavailable"
	case KindParse:
		return "parse_failure"
	case KindExhausted:
		return "resource_exhaustion"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	K       Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.K.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a message.
func New(kind Kind, message string) error {
	return &Error{K: kind, Message: message}
}

// Wrap classifies an existing error. A nil err returns nil.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{K: kind, Message: message, Err: err}
}

// UserInput marks an error as caller-caused.
func UserInput(message string) error { return New(KindUserInput, message) }

// PolicyDenied marks an error as refused by governance.
func PolicyDenied(message string) error { return New(KindPolicyDenied, message) }

// Upstream wraps an adapter I/O failure.
func Upstream(message string, err error) error { return Wrap(KindUpstream, message, err) }

// Parse classifies a JSON or schema failure. Unlike Wrap, a nil cause still
// yields an error; a malformed document is a failure whether or not a decoder
// reported one.
func Parse(message string, err error) error {
	if err == nil {
		return New(KindParse, message)
	}
	return Wrap(KindParse, message, err)
}

// Exhausted marks a deterministic cap being hit.
func Exhausted(message string) error { return New(KindExhausted, message) }

// KindOf returns the classification of err. Context cancellation and network
// failures are recognised even when the error was never wrapped.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.K
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	if isNetworkError(err) {
		return KindUpstream
	}
	return KindInternal
}

// IsRetryable reports whether the error may be retried. Only upstream
// failures qualify; everything else either cannot succeed on retry or must
// fall through to a deterministic fallback.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUpstream
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused", "connection reset", "broken pipe",
		"timeout", "deadline exceeded", "dns", "no such host",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
