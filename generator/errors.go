package generator

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnsupportedBackend is returned by the registry for names it does not know.
	ErrUnsupportedBackend = errors.New("unsupported backend")
	// ErrMisconfiguredBackend is returned at construction when a required setting is missing.
	ErrMisconfiguredBackend = errors.New("misconfigured backend")

	ErrTimeout           = errors.New("backend timed out")
	ErrUnavailable       = errors.New("backend unavailable")
	ErrMalformedResponse = errors.New("malformed backend response")

	ErrSessionNotFound  = errors.New("session not found")
	ErrEmptyPrompt      = errors.New("prompt is empty")
	ErrEmptyInstruction = errors.New("instruction is empty")
)

func misconfigured(backend, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", backend, ErrMisconfiguredBackend, fmt.Sprintf(format, args...))
}

func timedOut(backend string, d time.Duration) error {
	return fmt.Errorf("%s: %w after %s", backend, ErrTimeout, d)
}

func unavailable(backend string, err error) error {
	return fmt.Errorf("%s: %w: %v", backend, ErrUnavailable, err)
}

func malformed(backend, detail string) error {
	return fmt.Errorf("%s: %w: %s", backend, ErrMalformedResponse, detail)
}

// IsBackendFailure reports whether err came from a generation call rather than from
// request validation.
func IsBackendFailure(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrMalformedResponse)
}
