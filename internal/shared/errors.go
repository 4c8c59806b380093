package shared

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Platform errors. Adapters wrap one of these in a [PlatformError].
	ErrTransient       = errors.New("transient platform error")
	ErrPermanent       = errors.New("permanent platform error")
	ErrAlreadyApplied  = errors.New("mutation already applied")
	ErrUnknownPlatform = errors.New("unknown platform")

	// Engine errors
	ErrNotFound          = errors.New("not found")
	ErrStale             = errors.New("plan is stale")
	ErrConflict          = errors.New("unresolved conflict")
	ErrDataIntegrity     = errors.New("data integrity")
	ErrLeaseHeld         = errors.New("playlist is locked by another session")
	ErrLeaseLost         = errors.New("lease expired or released")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotCancellable    = errors.New("session cannot be cancelled")
	ErrInvalidPolicy     = errors.New("invalid conflict policy")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// PlatformError describes a failed call against a streaming platform.
//
// Err is always [ErrTransient] or [ErrPermanent] (possibly wrapped), so callers classify with [errors.Is].
type PlatformError struct {
	Platform   string
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *PlatformError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Platform, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// Classify maps an HTTP status code to [ErrTransient] or [ErrPermanent].
//
// Returns nil for 2xx/3xx responses.
func Classify(status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return ErrTransient
	default:
		return ErrPermanent
	}
}

// NewPlatformError builds a [PlatformError] from an HTTP status.
func NewPlatformError(platform, op string, status int, message string) *PlatformError {
	kind := Classify(status)
	if kind == nil {
		kind = ErrPermanent
	}
	return &PlatformError{Platform: platform, Op: op, StatusCode: status, Message: message, Err: kind}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
