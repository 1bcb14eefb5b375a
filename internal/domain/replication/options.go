package replication

import (
	"time"

	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/pkg/logger"
)

// Option configures a Planner.
type Option func(*Planner)

// WithVariantTimeout bounds each backend call.
func WithVariantTimeout(d time.Duration) Option {
	return func(p *Planner) {
		if d > 0 {
			p.variantTimeout = d
		}
	}
}

// WithRule declares the adjustment rule for one target source, replacing
// any default for it.
func WithRule(sourceID string, rule model.AdjustmentRule) Option {
	return func(p *Planner) {
		if sourceID != "" {
			p.rules[sourceID] = rule
		}
	}
}

// WithDefaultStyle sets the style id used when a request names none.
func WithDefaultStyle(styleID string) Option {
	return func(p *Planner) {
		if styleID != "" {
			p.defaultStyle = styleID
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the planner logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.log = l
		}
	}
}
