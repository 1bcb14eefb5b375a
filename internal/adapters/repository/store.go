// Package repository persists trend signatures and replication opportunities.
package repository

import (
	"context"
	"time"

	"github.com/okian/trendcast/internal/domain/model"
)

// Store is the exclusive owner of signatures and opportunities.
type Store interface {
	// UpsertSignature writes a re-scan idempotently. Metrics are replaced while
	// CreatedAt and a non-active status are preserved. Returns the stored value.
	UpsertSignature(ctx context.Context, sig model.TrendSignature) (model.TrendSignature, error)

	// GetSignature returns ErrNotFound for unknown ids.
	GetSignature(ctx context.Context, trendID string) (model.TrendSignature, error)

	// ListActiveSignatures returns active signatures whose peak is after now,
	// ordered by velocity desc then trend id asc.
	ListActiveSignatures(ctx context.Context, now time.Time) ([]model.TrendSignature, error)

	// TransitionSignature moves a signature from one status to another.
	// A stored status other than from, or a disallowed move, is ErrConflict.
	TransitionSignature(ctx context.Context, trendID string, from, to model.SignatureStatus) (model.TrendSignature, error)

	// ExpireSignatures marks active signatures whose peak is at or before now
	// as expired and returns their ids.
	ExpireSignatures(ctx context.Context, now time.Time) ([]string, error)

	// UpsertOpportunity writes opp if opp.Version matches the stored version
	// (0 for a new opportunity) and the status does not move backward. The
	// stored copy has Version incremented.
	UpsertOpportunity(ctx context.Context, opp model.Opportunity) (model.Opportunity, error)

	// GetOpportunity returns ErrNotFound for unknown ids.
	GetOpportunity(ctx context.Context, opportunityID string) (model.Opportunity, error)

	// ListOpportunities returns a trend's opportunities ordered by creation.
	ListOpportunities(ctx context.Context, trendID string) ([]model.Opportunity, error)

	Close() error
}
