package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/pkg/metrics"
)

// MemoryStore keeps everything in process. Active signatures are kept in a
// velocity index so listing never sorts.
type MemoryStore struct {
	mu            sync.RWMutex
	signatures    map[string]model.TrendSignature
	active        *velocityIndex
	opportunities map[string]model.Opportunity
	byTrend       map[string][]string
	closed        bool
	opts          options
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		signatures:    make(map[string]model.TrendSignature),
		active:        newVelocityIndex(),
		opportunities: make(map[string]model.Opportunity),
		byTrend:       make(map[string][]string),
		opts:          newOptions(opts),
	}
}

func (s *MemoryStore) index(sig model.TrendSignature) {
	if sig.Status == model.SignatureActive {
		s.active.Put(sig.TrendID, sig.ViralVelocity)
		return
	}
	s.active.Remove(sig.TrendID)
}

// UpsertSignature implements Store.
func (s *MemoryStore) UpsertSignature(_ context.Context, sig model.TrendSignature) (model.TrendSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.TrendSignature{}, ErrClosed
	}

	merged := sig.Clone()
	if stored, ok := s.signatures[sig.TrendID]; ok {
		merged = model.MergeSignature(stored, merged)
	}
	s.signatures[sig.TrendID] = merged
	s.index(merged)
	return merged.Clone(), nil
}

// GetSignature implements Store.
func (s *MemoryStore) GetSignature(_ context.Context, trendID string) (model.TrendSignature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signatures[trendID]
	if !ok {
		return model.TrendSignature{}, notFound(EntitySignature, trendID)
	}
	return sig.Clone(), nil
}

// ListActiveSignatures implements Store.
func (s *MemoryStore) ListActiveSignatures(_ context.Context, now time.Time) ([]model.TrendSignature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TrendSignature, 0, s.active.Len())
	s.active.Ascend(func(id string) bool {
		if sig := s.signatures[id]; sig.PredictedPeakAt.After(now) {
			out = append(out, sig.Clone())
		}
		return true
	})
	return out, nil
}

// TransitionSignature implements Store.
func (s *MemoryStore) TransitionSignature(_ context.Context, trendID string, from, to model.SignatureStatus) (model.TrendSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.signatures[trendID]
	if !ok {
		return model.TrendSignature{}, notFound(EntitySignature, trendID)
	}
	if err := checkSignatureTransition(stored, from, to); err != nil {
		metrics.RecordPersistenceConflict(EntitySignature)
		return model.TrendSignature{}, err
	}
	stored.Status = to
	stored.UpdatedAt = s.opts.now().UTC()
	s.signatures[trendID] = stored
	s.index(stored)
	return stored.Clone(), nil
}

// ExpireSignatures implements Store.
func (s *MemoryStore) ExpireSignatures(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	s.active.Ascend(func(id string) bool {
		if !s.signatures[id].PredictedPeakAt.After(now) {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		sig := s.signatures[id]
		sig.Status = model.SignatureExpired
		sig.UpdatedAt = now.UTC()
		s.signatures[id] = sig
		s.active.Remove(id)
	}
	sort.Strings(stale)
	return stale, nil
}

// UpsertOpportunity implements Store.
func (s *MemoryStore) UpsertOpportunity(_ context.Context, opp model.Opportunity) (model.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Opportunity{}, ErrClosed
	}

	var stored *model.Opportunity
	if cur, ok := s.opportunities[opp.OpportunityID]; ok {
		stored = &cur
	}
	if err := checkOpportunityWrite(stored, opp); err != nil {
		metrics.RecordPersistenceConflict(EntityOpportunity)
		return model.Opportunity{}, err
	}

	next := nextOpportunity(stored, opp)
	if stored == nil {
		s.byTrend[opp.TrendID] = append(s.byTrend[opp.TrendID], opp.OpportunityID)
	}
	s.opportunities[opp.OpportunityID] = next
	return next.Clone(), nil
}

// GetOpportunity implements Store.
func (s *MemoryStore) GetOpportunity(_ context.Context, opportunityID string) (model.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opp, ok := s.opportunities[opportunityID]
	if !ok {
		return model.Opportunity{}, notFound(EntityOpportunity, opportunityID)
	}
	return opp.Clone(), nil
}

// ListOpportunities implements Store.
func (s *MemoryStore) ListOpportunities(_ context.Context, trendID string) ([]model.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTrend[trendID]
	out := make([]model.Opportunity, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.opportunities[id].Clone())
	}
	return out, nil
}

// Close marks the store closed for writes.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
