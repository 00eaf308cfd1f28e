package main

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed gateway call.
type ErrorKind string

const (
	// ErrKindTimeout means the call exceeded its per-call timeout.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindRateLimited means the provider rejected the call with a 429.
	ErrKindRateLimited ErrorKind = "rate_limited"
	// ErrKindProvider means the provider returned a non-2xx or semantically
	// unusable response (bad JSON, no choices, empty content).
	ErrKindProvider ErrorKind = "provider_error"
	// ErrKindTransport means the request never completed at the network level.
	ErrKindTransport ErrorKind = "transport_error"
)

// CallError is the typed failure of a single gateway call.
type CallError struct {
	Provider   string
	Kind       ErrorKind
	RetryAfter time.Duration // only set for rate_limited, when the provider supplied it
	Err        error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// CallErrorKind extracts the error kind from err, or "" if err is not a
// gateway call failure.
func CallErrorKind(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Session-fatal errors. Individual provider failures are recovered locally;
// these two abort the session.
var (
	ErrInsufficientResponses = errors.New("insufficient successful responses")
	ErrChairmanFailure       = errors.New("chairman synthesis failed")
)
