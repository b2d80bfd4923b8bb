package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// FailureClass partitions every pipeline error into exactly one of five
// outcomes. Callers never see provider-specific errors, only these.
type FailureClass string

const (
	// FailureInvalidInput marks a caller error. Never retried, never
	// escalated to the chain.
	FailureInvalidInput FailureClass = "INVALID_INPUT"
	// FailureTransient marks a provider-local error. The chain moves to
	// the next provider.
	FailureTransient FailureClass = "TRANSIENT"
	// FailureFatal marks a configuration or authentication error that
	// would recur for every remaining provider. Aborts the whole chain.
	FailureFatal FailureClass = "FATAL"
	// FailureCancelled marks caller-initiated cancellation. Takes
	// precedence over any in-flight result.
	FailureCancelled FailureClass = "CANCELLED"
	// FailureExhausted marks chain exhaustion with only transient
	// failures. Carries the most recent failure reason.
	FailureExhausted FailureClass = "ALL_PROVIDERS_FAILED"
)

// Failure is the only error type that crosses the provider boundary.
// Provider internals wrap their errors into a Failure; the orchestrator
// and callers branch on Class.
type Failure struct {
	Class    FailureClass
	Provider string // provider that produced it, empty for chain-level failures
	Reason   string
	Cause    error
}

func (f *Failure) Error() string {
	prefix := string(f.Class)
	if f.Provider != "" {
		prefix = fmt.Sprintf("%s (%s)", prefix, f.Provider)
	}
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, f.Reason, f.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Failure constructors. Reason strings are short and stable; raw vendor
// error text belongs in Cause and the progress log only.

func InvalidInput(reason string) *Failure {
	return &Failure{Class: FailureInvalidInput, Reason: reason}
}

func Transient(provider, reason string, cause error) *Failure {
	return &Failure{Class: FailureTransient, Provider: provider, Reason: reason, Cause: cause}
}

func Fatal(provider, reason string, cause error) *Failure {
	return &Failure{Class: FailureFatal, Provider: provider, Reason: reason, Cause: cause}
}

func Cancelled(cause error) *Failure {
	return &Failure{Class: FailureCancelled, Reason: "run cancelled", Cause: cause}
}

// Exhausted builds the terminal chain failure from the last transient
// failure seen.
func Exhausted(last *Failure) *Failure {
	reason := "no providers available"
	var cause error
	if last != nil {
		reason = fmt.Sprintf("last failure from %s: %s", last.Provider, last.Reason)
		cause = last
	}
	return &Failure{Class: FailureExhausted, Reason: reason, Cause: cause}
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ClassOf reports the failure class of err, defaulting unclassified
// errors to Transient so that a stray error can never halt a chain the
// way a Fatal does.
func ClassOf(err error) FailureClass {
	if f, ok := AsFailure(err); ok {
		return f.Class
	}
	if errors.Is(err, context.Canceled) {
		return FailureCancelled
	}
	return FailureTransient
}

func IsInvalidInput(err error) bool { return ClassOf(err) == FailureInvalidInput }
func IsTransient(err error) bool    { return ClassOf(err) == FailureTransient }
func IsFatal(err error) bool        { return ClassOf(err) == FailureFatal }
func IsCancelled(err error) bool    { return ClassOf(err) == FailureCancelled }
func IsExhausted(err error) bool    { return ClassOf(err) == FailureExhausted }

// ClassifyHTTP maps a provider HTTP status onto a failure class.
// Authentication and payment statuses are fatal because every sibling
// attempt against the same provider family shares the credentials; all
// other non-2xx statuses are transient.
func ClassifyHTTP(status int) FailureClass {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusPaymentRequired:
		return FailureFatal
	default:
		return FailureTransient
	}
}

// ClassifyContext converts a context error observed during an attempt.
// A deadline expiry is the attempt's own timeout and therefore
// transient; cancellation always belongs to the caller.
func ClassifyContext(provider string, err error) *Failure {
	if errors.Is(err, context.Canceled) {
		return Cancelled(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(provider, "attempt timed out", err)
	}
	return Transient(provider, "context error", err)
}
