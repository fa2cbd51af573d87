package tracker

import (
	"fmt"
	"time"
)

type FetchErrorKind int

const (
	FetchNotFound FetchErrorKind = iota
	FetchAuthFailure
	FetchRateLimited
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchNotFound:
		return "not_found"
	case FetchAuthFailure:
		return "auth_failure"
	case FetchRateLimited:
		return "rate_limited"
	}
	return "unknown"
}

// FetchError classifies a failed ticket fetch. Retry and backoff policy
// belongs to the caller.
type FetchError struct {
	Kind       FetchErrorKind
	Key        string
	RetryAfter time.Duration // set for FetchRateLimited when the server said so
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.Key, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Failure records one ticket that could not be fetched during a batch.
type Failure struct {
	Key string
	Err *FetchError
}
