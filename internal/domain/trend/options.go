package trend

import (
	"time"

	"github.com/okian/trendcast/internal/domain/scoring"
)

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the time source used for peak and window math.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithTotalKnownSources sets the denominator of source coverage.
func WithTotalKnownSources(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.totalKnown = n
		}
	}
}

// WithScorer replaces the per-record scorer.
func WithScorer(s scoring.Scorer) Option {
	return func(b *Builder) {
		if s != nil {
			b.scorer = s
		}
	}
}

// WithReachMultiplier sets how much one use on sourceID is worth in reach.
func WithReachMultiplier(sourceID string, m float64) Option {
	return func(b *Builder) {
		if m > 0 {
			b.reach[sourceID] = m
		}
	}
}
