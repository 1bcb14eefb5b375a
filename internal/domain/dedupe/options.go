package dedupe

import "time"

// Option applies a configuration option to the in-memory deduper.
type Option func(*MemoryDeduper)

// WithMaxSize bounds the number of tracked keys. Values <= 0 remove the bound.
func WithMaxSize(maxSize int) Option {
	return func(d *MemoryDeduper) {
		d.maxSize = maxSize
	}
}

// WithRetention sets how long a key counts as seen. Zero disables tracking.
func WithRetention(retention time.Duration) Option {
	return func(d *MemoryDeduper) {
		d.retention = retention
	}
}

// WithClock sets the time source for expiry.
func WithClock(now func() time.Time) Option {
	return func(d *MemoryDeduper) {
		if now != nil {
			d.now = now
		}
	}
}
