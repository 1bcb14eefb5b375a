package repository

import (
	"time"

	"github.com/okian/trendcast/pkg/logger"
)

// Option configures a store.
type Option func(*options)

type options struct {
	now          func() time.Time
	queryTimeout time.Duration
	log          logger.Logger
}

func newOptions(opts []Option) options {
	o := options{
		now:          time.Now,
		queryTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("repository")
	}
	return o
}

// WithClock sets the time source for UpdatedAt on transitions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithQueryTimeout bounds each database call.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.queryTimeout = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}
