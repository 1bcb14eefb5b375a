package platform

import (
	"net/http"
	"time"

	"github.com/okian/trendcast/pkg/logger"
)

// Breaker defaults for HTTPAdapter.
const (
	defaultBreakerFailures = 3
	defaultBreakerTimeout  = 30 * time.Second
	defaultBreakerInterval = time.Minute
)

type adapterConfig struct {
	reach           float64
	rateLimit       int
	timeout         time.Duration
	client          *http.Client
	breakerFailures uint32
	breakerTimeout  time.Duration
	log             logger.Logger
}

func newAdapterConfig(opts []AdapterOption) adapterConfig {
	c := adapterConfig{
		reach:           1,
		client:          http.DefaultClient,
		breakerFailures: defaultBreakerFailures,
		breakerTimeout:  defaultBreakerTimeout,
		log:             logger.Get().Named("platform"),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// AdapterOption configures StaticAdapter and HTTPAdapter.
type AdapterOption func(*adapterConfig)

// WithReachMultiplier sets the declared reach multiplier; negatives are ignored.
func WithReachMultiplier(m float64) AdapterOption {
	return func(c *adapterConfig) {
		if m >= 0 {
			c.reach = m
		}
	}
}

// WithRateLimit sets the declared calls per minute.
func WithRateLimit(perMinute int) AdapterOption {
	return func(c *adapterConfig) {
		if perMinute >= 0 {
			c.rateLimit = perMinute
		}
	}
}

// WithTimeout sets the source's own fetch deadline.
func WithTimeout(d time.Duration) AdapterOption {
	return func(c *adapterConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) AdapterOption {
	return func(c *adapterConfig) {
		if client != nil {
			c.client = client
		}
	}
}

// WithBreaker sets consecutive failures to trip and the open-state duration.
func WithBreaker(failures uint32, openFor time.Duration) AdapterOption {
	return func(c *adapterConfig) {
		if failures > 0 {
			c.breakerFailures = failures
		}
		if openFor > 0 {
			c.breakerTimeout = openFor
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(l logger.Logger) AdapterOption {
	return func(c *adapterConfig) {
		if l != nil {
			c.log = l
		}
	}
}
