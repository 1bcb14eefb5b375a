package signal

import (
	"errors"
	"fmt"
)

// ErrMalformedSignal marks a raw payload that cannot become a SignalRecord.
var ErrMalformedSignal = errors.New("malformed signal")

// MalformedSignalError carries the identifying fields of a dropped payload.
type MalformedSignalError struct {
	SourceID  string
	ContentID string
	Field     string
	Reason    string
}

func (e *MalformedSignalError) Error() string {
	return fmt.Sprintf("malformed signal from %s (content %q): %s: %s", e.SourceID, e.ContentID, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedSignal.
func (e *MalformedSignalError) Unwrap() error {
	return ErrMalformedSignal
}
