package repository

import (
	"context"
	"sync"

	"github.com/okian/trendcast/internal/domain/model"
)

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Serialized wraps a Store so writes for the same trend id never interleave.
// Writes for different trends proceed in parallel. Reads and
// ExpireSignatures pass through to the inner store.
type Serialized struct {
	Store
	locks *keyedMutex
}

// NewSerialized decorates inner.
func NewSerialized(inner Store) *Serialized {
	return &Serialized{Store: inner, locks: newKeyedMutex()}
}

// UpsertSignature implements Store.
func (s *Serialized) UpsertSignature(ctx context.Context, sig model.TrendSignature) (model.TrendSignature, error) {
	defer s.locks.Lock(sig.TrendID)()
	return s.Store.UpsertSignature(ctx, sig)
}

// TransitionSignature implements Store.
func (s *Serialized) TransitionSignature(ctx context.Context, trendID string, from, to model.SignatureStatus) (model.TrendSignature, error) {
	defer s.locks.Lock(trendID)()
	return s.Store.TransitionSignature(ctx, trendID, from, to)
}

// UpsertOpportunity implements Store.
func (s *Serialized) UpsertOpportunity(ctx context.Context, opp model.Opportunity) (model.Opportunity, error) {
	defer s.locks.Lock(opp.TrendID)()
	return s.Store.UpsertOpportunity(ctx, opp)
}

// WithTrendLock runs fn while holding trendID's write lock, for callers that
// read, decide, and write as one step. fn must use the inner store.
func (s *Serialized) WithTrendLock(trendID string, fn func(inner Store) error) error {
	defer s.locks.Lock(trendID)()
	return fn(s.Store)
}
