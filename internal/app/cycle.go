package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/trendcast/internal/adapters/platform"
	"github.com/okian/trendcast/internal/adapters/repository"
	"github.com/okian/trendcast/internal/domain/cluster"
	"github.com/okian/trendcast/internal/domain/dedupe"
	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/internal/domain/signal"
	"github.com/okian/trendcast/pkg/logger"
	"github.com/okian/trendcast/pkg/metrics"
)

// CycleReport summarizes one scan.
type CycleReport struct {
	StartedAt      time.Time                `json:"started_at"`
	Duration       time.Duration            `json:"duration"`
	Sources        map[string]SourceOutcome `json:"sources"`
	Normalized     int                      `json:"normalized"`
	Malformed      int                      `json:"malformed"`
	Fresh          int                      `json:"fresh"`
	Repeats        int                      `json:"repeats"`
	Clusters       int                      `json:"clusters"`
	SingleSource   int                      `json:"single_source"`
	Expired        []string                 `json:"expired,omitempty"`
	Signatures     []model.TrendSignature   `json:"signatures"`
	Conflicts      int                      `json:"conflicts"`
	HistoryOffline bool                     `json:"history_offline,omitempty"`
}

// SourceOutcome is one adapter's contribution to a cycle.
type SourceOutcome struct {
	Records int    `json:"records"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunCycle fetches every source, builds signatures from the batch and
// persists them. Source failures never fail the cycle. Cancelling ctx
// before persistence discards the whole batch.
func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	if !s.cycleMu.TryLock() {
		return CycleReport{}, ErrCycleRunning
	}
	defer s.cycleMu.Unlock()

	start := s.now().UTC()
	report := CycleReport{StartedAt: start, Sources: make(map[string]SourceOutcome, len(s.adapters))}

	expired, err := s.expire(ctx, start)
	if err != nil {
		metrics.RecordCycleFailure()
		return report, fmt.Errorf("expire signatures: %w", err)
	}
	report.Expired = expired
	metrics.RecordSignaturesExpired(len(expired))

	due := make([]platform.Adapter, 0, len(s.adapters))
	for _, a := range s.adapters {
		if l := s.limiters[a.SourceID()]; l != nil && !l.Allow() {
			report.Sources[a.SourceID()] = SourceOutcome{Skipped: true}
			metrics.RecordFetch(a.SourceID(), metrics.FetchSkipped)
			continue
		}
		due = append(due, a)
	}

	batches, err := s.fetcher.FetchAll(ctx, due, s.fetchWindow)
	if err != nil {
		metrics.RecordCycleFailure()
		return report, err
	}

	var records []model.SignalRecord
	for _, b := range batches {
		out := SourceOutcome{Records: len(b.Payloads)}
		if b.Err != nil {
			out.Error = b.Err.Error()
		}
		report.Sources[b.SourceID] = out
		for _, raw := range b.Payloads {
			rec, err := s.normalizer.Normalize(raw, b.SourceID)
			if err != nil {
				report.Malformed++
				metrics.RecordSignalMalformed(b.SourceID)
				s.logMalformed(ctx, err)
				continue
			}
			metrics.RecordSignalNormalized(b.SourceID)
			records = append(records, rec)
		}
	}
	report.Normalized = len(records)

	// History only classifies records as new or repeat. Clustering always
	// sees the whole collapsed batch so records corroborate across cycles
	// and known trends are rebuilt from current metrics.
	records = dedupe.Collapse(records)
	fresh, repeats, err := dedupe.FilterNew(ctx, s.history, records)
	if err != nil {
		s.logger.Warn(ctx, "signal history unavailable, counting every record as new", logger.Error(err))
		metrics.RecordErrorByComponent("history", "unavailable")
		s.forget(ctx, fresh)
		fresh, repeats = records, nil
		report.HistoryOffline = true
	}
	report.Fresh = len(fresh)
	report.Repeats = len(repeats)
	for _, rec := range repeats {
		metrics.RecordSignalDuplicate(rec.SourceID)
	}

	clusters, single := cluster.Partition(records)
	report.Clusters = len(clusters)
	report.SingleSource = len(single)
	metrics.RecordClustersFormed(len(clusters))
	metrics.RecordSingleSourceGroups(len(single))

	built := make([]model.TrendSignature, 0, len(clusters))
	for _, c := range clusters {
		built = append(built, s.builder.Build(c))
	}

	if err := ctx.Err(); err != nil {
		if !report.HistoryOffline {
			s.forget(context.WithoutCancel(ctx), fresh)
		}
		metrics.RecordCycleFailure()
		return CycleReport{}, fmt.Errorf("cycle cancelled: %w", err)
	}

	for _, sig := range built {
		stored, err := s.store.UpsertSignature(ctx, sig)
		if err != nil {
			if errors.Is(err, repository.ErrConflict) {
				report.Conflicts++
				s.logger.Error(ctx, "signature write conflict",
					logger.String("trend_id", sig.TrendID),
					logger.Error(err),
				)
				continue
			}
			metrics.RecordCycleFailure()
			return report, fmt.Errorf("upsert signature %s: %w", sig.TrendID, err)
		}
		metrics.RecordSignatureUpserted()
		if stored.LowOpportunity {
			metrics.RecordLowOpportunity()
		}
		report.Signatures = append(report.Signatures, stored)
	}

	if active, err := s.store.ListActiveSignatures(ctx, s.now().UTC()); err == nil {
		metrics.UpdateActiveSignatures(len(active))
	}

	report.Duration = s.now().Sub(start)
	metrics.RecordCycle(float64(report.Duration.Milliseconds()), s.now().Unix())
	s.logger.Info(ctx, "cycle complete",
		logger.Int("sources", len(due)),
		logger.Int("records", report.Normalized),
		logger.Int("fresh", report.Fresh),
		logger.Int("repeats", report.Repeats),
		logger.Int("clusters", report.Clusters),
		logger.Int("signatures", len(report.Signatures)),
		logger.Int("expired", len(report.Expired)),
		logger.Duration("duration", report.Duration),
	)
	return report, nil
}

// expire marks stale signatures expired. A write conflict with a concurrent
// transition is retried once; a second conflict skips expiry for this cycle.
func (s *Service) expire(ctx context.Context, now time.Time) ([]string, error) {
	expired, err := s.store.ExpireSignatures(ctx, now)
	if !errors.Is(err, repository.ErrConflict) {
		return expired, err
	}
	expired, err = s.store.ExpireSignatures(ctx, now)
	if errors.Is(err, repository.ErrConflict) {
		s.logger.Warn(ctx, "expiry skipped after repeated write conflicts", logger.Error(err))
		return nil, nil
	}
	return expired, err
}

// forget unrecords keys so an abandoned batch is treated as new next time.
func (s *Service) forget(ctx context.Context, recs []model.SignalRecord) {
	for _, rec := range recs {
		if err := s.history.Unrecord(ctx, rec.Key()); err != nil {
			s.logger.Warn(ctx, "unrecord failed", logger.String("key", rec.Key()), logger.Error(err))
		}
	}
}

func (s *Service) logMalformed(ctx context.Context, err error) {
	var mse *signal.MalformedSignalError
	if errors.As(err, &mse) {
		s.logger.Warn(ctx, "dropping malformed signal",
			logger.String("source_id", mse.SourceID),
			logger.String("content_id", mse.ContentID),
			logger.String("field", mse.Field),
			logger.String("reason", mse.Reason),
		)
		return
	}
	s.logger.Warn(ctx, "dropping malformed signal", logger.Error(err))
}
