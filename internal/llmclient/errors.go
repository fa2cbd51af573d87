package llmclient

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind int

const (
	ErrUnavailable ErrorKind = iota
	ErrAuthFailure
	ErrRateLimited
	ErrContextTooLarge
	ErrTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrAuthFailure:
		return "auth_failure"
	case ErrRateLimited:
		return "rate_limited"
	case ErrContextTooLarge:
		return "context_too_large"
	case ErrTimeout:
		return "timeout"
	case ErrUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// BackendError classifies a backend failure. AuthFailure and
// ContextTooLarge will not resolve with retries; the rest are transient.
type BackendError struct {
	Kind       ErrorKind
	RetryAfter time.Duration // hint from the server for ErrRateLimited
	Err        error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend %s: %v", e.Kind, e.Err)
	}
	return "backend " + e.Kind.String()
}

func (e *BackendError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the same call can succeed.
func Retryable(err error) bool {
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	switch be.Kind {
	case ErrRateLimited, ErrTimeout, ErrUnavailable:
		return true
	}
	return false
}

// IsContextTooLarge reports whether the prompt exceeded the model window.
func IsContextTooLarge(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == ErrContextTooLarge
}
