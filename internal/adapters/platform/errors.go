package platform

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAdapterTimeout marks a source that missed its fetch deadline.
	ErrAdapterTimeout = errors.New("adapter timeout")
	// ErrAdapterUnavailable marks a source that failed or is circuit-broken.
	ErrAdapterUnavailable = errors.New("adapter unavailable")
)

// AdapterTimeoutError reports a fetch that exceeded its deadline.
type AdapterTimeoutError struct {
	SourceID string
	Timeout  time.Duration
}

func (e *AdapterTimeoutError) Error() string {
	return fmt.Sprintf("source %s: fetch exceeded %s", e.SourceID, e.Timeout)
}

func (e *AdapterTimeoutError) Unwrap() error { return ErrAdapterTimeout }

// AdapterUnavailableError reports any other fetch failure.
type AdapterUnavailableError struct {
	SourceID string
	Err      error
}

func (e *AdapterUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.SourceID, e.Err)
}

func (e *AdapterUnavailableError) Unwrap() []error {
	return []error{ErrAdapterUnavailable, e.Err}
}
