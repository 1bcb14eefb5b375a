package cache

import "errors"

// ErrHistory wraps failures talking to the history backend.
var ErrHistory = errors.New("signal history unavailable")
