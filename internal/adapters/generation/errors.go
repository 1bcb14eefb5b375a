package generation

import "errors"

// ErrBackendUnavailable is returned by a backend that cannot take the call.
var ErrBackendUnavailable = errors.New("generation backend unavailable")
