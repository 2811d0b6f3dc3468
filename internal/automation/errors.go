package automation

import (
	"fmt"
	"strings"
)

// SetupError means a usable browser session could not be created, even after
// profile repair and (when enabled) the ephemeral fallback.
type SetupError struct {
	Reason string
	Err    error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session setup failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("session setup failed: %s", e.Reason)
}

func (e *SetupError) Unwrap() error { return e.Err }

// NavigationError means the target site could not be reached or rendered.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// AuthenticationTimeout is recorded when the manual-login wait elapses. It is
// not fatal: the pipeline proceeds and later stages surface the real failure.
type AuthenticationTimeout struct {
	Waited string
}

func (e *AuthenticationTimeout) Error() string {
	return fmt.Sprintf("login not detected within %s, continuing anyway", e.Waited)
}

// CandidateFailure is the reason one locator candidate did not match.
type CandidateFailure struct {
	Selector string
	Reason   string
}

// LocatorNotFoundError means every candidate for one logical element failed.
// It carries the per-candidate reasons so a diagnostic reader can see which
// selector generation is stale.
type LocatorNotFoundError struct {
	Element  string
	Attempts []CandidateFailure
}

func (e *LocatorNotFoundError) Error() string {
	var reasons []string
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %s", a.Selector, a.Reason))
	}
	return fmt.Sprintf("element %q not found after %d candidates (%s)",
		e.Element, len(e.Attempts), strings.Join(reasons, "; "))
}

// AvailabilityError means the requested product appears unavailable. Up to
// three alternative suggestions may be attached.
type AvailabilityError struct {
	Item         string
	Alternatives []string
}

func (e *AvailabilityError) Error() string {
	if len(e.Alternatives) == 0 {
		return fmt.Sprintf("%q is not available and no alternatives were found", e.Item)
	}
	return fmt.Sprintf("%q is not available; alternatives: %s",
		e.Item, strings.Join(e.Alternatives, ", "))
}

// PaymentError is fatal for the order it occurs on.
type PaymentError struct {
	Stage string
	Err   error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment failed at %s: %v", e.Stage, e.Err)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// UnknownFailure wraps anything the taxonomy does not classify. The original
// diagnostic text is always preserved.
type UnknownFailure struct {
	Diagnostic string
	Err        error
}

func (e *UnknownFailure) Error() string {
	return fmt.Sprintf("order failed: %s", e.Diagnostic)
}

func (e *UnknownFailure) Unwrap() error { return e.Err }
