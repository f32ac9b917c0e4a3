package core

import (
	"errors"
	"fmt"
)

// Kind values for FrameworkError, matching the error taxonomy of the
// elicitation core (see spec §7): what is surfaced to callers, not a
// language-level type hierarchy.
const (
	KindInvalidInput  = "invalid_input"
	KindUnauthorized  = "unauthorized"
	KindForbidden     = "forbidden"
	KindRateLimited   = "rate_limited"
	KindReplayAttack  = "replay_attack"
	KindNotFound      = "not_found"
	KindExpired       = "expired"
	KindResource      = "resource"
	KindIO            = "io"
	KindCorruption    = "corruption"
	KindShutdown      = "shutdown"
	KindSecurity      = "security"
	KindAuth          = "auth"
)

// Sentinel errors for comparison via errors.Is(). These are the generic
// conditions that FrameworkError wraps with operation-specific context.
var (
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("expired")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrRateLimited       = errors.New("rate limited")
	ErrReplayAttack      = errors.New("replay attack detected")
	ErrInvalidInput      = errors.New("invalid input")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrShuttingDown      = errors.New("component shutting down")

	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	ErrAlreadyStarted  = errors.New("already started")
	ErrNotInitialized  = errors.New("not initialized")

	ErrTimeout            = errors.New("operation timeout")
	ErrContextCanceled    = errors.New("context canceled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	ErrConnectionFailed = errors.New("connection failed")
)

// FrameworkError carries structured, machine-readable failure information
// across the core's API boundary. No stack traces cross that boundary —
// just Kind (for callers to branch on) and Message (for humans).
type FrameworkError struct {
	Op      string // Operation that failed (e.g., "elicitation.Respond")
	Kind    string // One of the Kind* constants above
	ID      string // Optional id of the entity involved (elicitation id, agent id, ...)
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewFrameworkError creates a FrameworkError wrapping err under op/kind.
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

// NewFrameworkErrorWithID is NewFrameworkError plus the entity id, used
// throughout the elicitation manager where callers need the id back even
// on failure (e.g. "elicitation not found: elicit_...").
func NewFrameworkErrorWithID(op, kind, id string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, ID: id, Err: err}
}

// KindOf extracts the Kind of a FrameworkError in err's chain, or ""
// if err is nil or does not wrap a FrameworkError. Callers branch on
// this instead of comparing error strings.
func KindOf(err error) string {
	var fe *FrameworkError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsRetryable reports whether an error is a transient condition worth a
// caller-side retry (the core itself never retries internally — see
// spec §7 propagation rules).
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindResource, KindIO:
		return true
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed)
}

// IsNotFound reports whether an error represents an unknown or already
// terminal elicitation/entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || KindOf(err) == KindNotFound
}

// IsConfigurationError reports whether an error is configuration-related.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrMissingConfiguration)
}

// IsSecurity reports whether an error is security-severity (unauthorized,
// forbidden, replay_attack, security, or auth kind).
func IsSecurity(err error) bool {
	switch KindOf(err) {
	case KindUnauthorized, KindForbidden, KindReplayAttack, KindSecurity, KindAuth:
		return true
	}
	return false
}
