package repository

import (
	"github.com/okian/trendcast/internal/domain/model"
)

// checkOpportunityWrite enforces optimistic versioning and the forward-only
// state machine. stored is nil for an unknown opportunity.
func checkOpportunityWrite(stored *model.Opportunity, next model.Opportunity) error {
	if stored == nil {
		if next.Version != 0 {
			return conflict(EntityOpportunity, next.OpportunityID, "version %d given for a new opportunity", next.Version)
		}
		return nil
	}
	if stored.Version != next.Version {
		return conflict(EntityOpportunity, next.OpportunityID, "stale version %d, stored %d", next.Version, stored.Version)
	}
	if next.Status != stored.Status && !stored.Status.CanTransitionTo(next.Status) {
		return conflict(EntityOpportunity, next.OpportunityID, "cannot move from %s to %s", stored.Status, next.Status)
	}
	return nil
}

// nextOpportunity is the value written after checkOpportunityWrite passes.
func nextOpportunity(stored *model.Opportunity, next model.Opportunity) model.Opportunity {
	out := next.Clone()
	if stored != nil && !stored.CreatedAt.IsZero() {
		out.CreatedAt = stored.CreatedAt
	}
	out.Version = next.Version + 1
	return out
}

func checkSignatureTransition(stored model.TrendSignature, from, to model.SignatureStatus) error {
	if stored.Status != from {
		return conflict(EntitySignature, stored.TrendID, "status is %s, expected %s", stored.Status, from)
	}
	if !from.CanTransitionTo(to) {
		return conflict(EntitySignature, stored.TrendID, "cannot move from %s to %s", from, to)
	}
	return nil
}
