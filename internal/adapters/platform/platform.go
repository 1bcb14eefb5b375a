// Package platform defines the source and sink contracts and the adapters
// that satisfy them.
package platform

import (
	"context"
	"time"

	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/internal/domain/signal"
)

// Adapter is one trending-item source.
type Adapter interface {
	SourceID() string
	FetchTrending(ctx context.Context, window time.Duration) ([]signal.RawPayload, error)
	// ReachMultiplier weights the source's usage counts; 1 is neutral.
	ReachMultiplier() float64
	// RateLimit is the maximum calls per minute, 0 for unlimited. The
	// caller is expected to honour it.
	RateLimit() int
}

// Sink hands one platform-adjusted artifact to its destination.
type Sink interface {
	SourceID() string
	Adapt(ctx context.Context, variant model.Variant, adj model.PlatformAdjustment) (model.DeliveredArtifact, error)
}

type timeouter interface {
	Timeout() time.Duration
}
