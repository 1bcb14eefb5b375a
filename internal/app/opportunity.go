package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/okian/trendcast/internal/adapters/mq/queue"
	"github.com/okian/trendcast/internal/adapters/platform"
	"github.com/okian/trendcast/internal/adapters/repository"
	"github.com/okian/trendcast/internal/adapters/sink"
	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/internal/domain/replication"
	"github.com/okian/trendcast/pkg/logger"
	"github.com/okian/trendcast/pkg/metrics"
)

// Plan runs the replication planner for a stored trend and persists the
// result. Planning the same trend, targets and style again returns the
// existing opportunity once it has a winner; a pending one is retried.
// When every variant fails the stored pending opportunity is returned with
// replication.ErrAllVariantsFailed.
func (s *Service) Plan(ctx context.Context, trendID string, req replication.PlanRequest) (model.Opportunity, error) {
	sig, err := s.store.GetSignature(ctx, trendID)
	if err != nil {
		return model.Opportunity{}, err
	}
	if sig.Status == model.SignatureExpired || !sig.PredictedPeakAt.After(s.now()) {
		return model.Opportunity{}, fmt.Errorf("plan %s: %w", trendID, ErrSignatureExpired)
	}

	if req.VariantCount == 0 {
		req.VariantCount = s.variantCount
	}
	if req.StyleID == "" {
		req.StyleID = s.defaultStyle
	}
	targets, err := replication.ResolveTargets(sig, req.Targets)
	if err != nil {
		return model.Opportunity{}, err
	}
	req.Targets = targets

	id := replication.OpportunityID(sig.TrendID, targets, req.StyleID)
	existing, err := s.store.GetOpportunity(ctx, id)
	switch {
	case err == nil && existing.Status.AtLeast(model.OpportunitySelected):
		return existing, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return model.Opportunity{}, err
	}

	opp, planErr := s.planner.Plan(ctx, sig, req)
	if planErr != nil && !errors.Is(planErr, replication.ErrAllVariantsFailed) {
		return model.Opportunity{}, planErr
	}

	stored, err := s.persistPlan(ctx, opp)
	if err != nil {
		return model.Opportunity{}, err
	}
	return stored, planErr
}

// persistPlan writes a fresh plan over whatever is stored under the same id
// and marks the trend exploited once a winner exists.
func (s *Service) persistPlan(ctx context.Context, opp model.Opportunity) (model.Opportunity, error) {
	var stored model.Opportunity
	err := s.store.WithTrendLock(opp.TrendID, func(inner repository.Store) error {
		cur, err := inner.GetOpportunity(ctx, opp.OpportunityID)
		switch {
		case err == nil:
			if cur.Status.AtLeast(model.OpportunitySelected) {
				stored = cur
				return nil
			}
			opp.Version = cur.Version
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		stored, err = inner.UpsertOpportunity(ctx, opp)
		if err != nil {
			return err
		}
		if stored.Status != model.OpportunitySelected {
			return nil
		}
		_, err = inner.TransitionSignature(ctx, opp.TrendID, model.SignatureActive, model.SignatureExploited)
		if errors.Is(err, repository.ErrConflict) {
			// Already exploited by another opportunity.
			return nil
		}
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Error(ctx, "opportunity write conflict",
				logger.String("opportunity_id", opp.OpportunityID),
				logger.Error(err),
			)
		}
		return model.Opportunity{}, fmt.Errorf("persist opportunity %s: %w", opp.OpportunityID, err)
	}
	return stored, nil
}

// Deliver queues the winner's platform copies for the given targets, or for
// every target not yet delivered when none are named. It returns the
// sources queued.
func (s *Service) Deliver(ctx context.Context, opportunityID string, targets ...string) ([]string, error) {
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	if !opp.Status.AtLeast(model.OpportunitySelected) {
		return nil, fmt.Errorf("deliver %s: %w", opportunityID, ErrNotSelected)
	}

	if len(targets) == 0 {
		targets = opp.TargetSources
	}
	queued := make([]string, 0, len(targets))
	for _, src := range targets {
		if !slices.Contains(opp.TargetSources, src) {
			return queued, fmt.Errorf("deliver %s to %q: %w", opportunityID, src, ErrUnknownTarget)
		}
		if _, done := opp.Deliveries[src]; done {
			continue
		}
		job := queue.Job{
			OpportunityID: opp.OpportunityID,
			TrendID:       opp.TrendID,
			SourceID:      src,
			EnqueuedAt:    s.now().UTC(),
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return queued, fmt.Errorf("queue delivery to %s: %w", src, err)
		}
		queued = append(queued, src)
	}
	return queued, nil
}

// HandleDelivery hands one platform copy to its sink and records it on the
// opportunity. It implements worker.Handler and is idempotent per target.
func (s *Service) HandleDelivery(ctx context.Context, job queue.Job) error {
	opp, err := s.store.GetOpportunity(ctx, job.OpportunityID)
	if err != nil {
		return err
	}
	if _, done := opp.Deliveries[job.SourceID]; done {
		return nil
	}
	winner, ok := opp.Winner()
	if !ok {
		return fmt.Errorf("deliver %s: %w", job.OpportunityID, ErrNotSelected)
	}
	adj, ok := winner.PlatformAdjustments[job.SourceID]
	if !ok {
		return fmt.Errorf("deliver %s to %q: %w", job.OpportunityID, job.SourceID, ErrUnknownTarget)
	}

	delivered, err := s.sinkFor(job.SourceID).Adapt(ctx, winner, adj)
	if err != nil {
		return err
	}

	return s.store.WithTrendLock(opp.TrendID, func(inner repository.Store) error {
		cur, err := inner.GetOpportunity(ctx, job.OpportunityID)
		if err != nil {
			return err
		}
		if _, done := cur.Deliveries[job.SourceID]; done {
			return nil
		}
		if cur.Deliveries == nil {
			cur.Deliveries = make(map[string]model.DeliveredArtifact, len(cur.TargetSources))
		}
		cur.Deliveries[job.SourceID] = delivered
		cur.UpdatedAt = s.now().UTC()
		if len(cur.Deliveries) == len(cur.TargetSources) {
			cur.Status = model.OpportunityDelivered
		}
		next, err := inner.UpsertOpportunity(ctx, cur)
		if err != nil {
			return err
		}
		if next.Status == model.OpportunityDelivered {
			metrics.RecordOpportunityStatus(string(model.OpportunityDelivered))
		}
		s.logger.Info(ctx, "artifact delivered",
			logger.String("opportunity_id", next.OpportunityID),
			logger.String("source_id", job.SourceID),
			logger.String("delivery_ref", delivered.DeliveryRef),
			logger.String("status", string(next.Status)),
		)
		return nil
	})
}

func (s *Service) sinkFor(sourceID string) platform.Sink {
	if sk, ok := s.sinks[sourceID]; ok {
		return sk
	}
	return sink.NewLogSink(sourceID, sink.WithClock(s.now), sink.WithLogger(s.logger.Named("sink")))
}
