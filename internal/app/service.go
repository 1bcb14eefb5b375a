// Package service runs the scan cycle and exposes planning and delivery to
// the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/trendcast/internal/adapters/generation"
	"github.com/okian/trendcast/internal/adapters/mq/queue"
	"github.com/okian/trendcast/internal/adapters/mq/worker"
	"github.com/okian/trendcast/internal/adapters/platform"
	"github.com/okian/trendcast/internal/adapters/repository"
	"github.com/okian/trendcast/internal/domain/dedupe"
	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/internal/domain/replication"
	"github.com/okian/trendcast/internal/domain/signal"
	"github.com/okian/trendcast/internal/domain/trend"
	"github.com/okian/trendcast/pkg/logger"
)

type namedCloser struct {
	name string
	fn   func() error
}

// Service owns the pipeline components.
type Service struct {
	mu      sync.Mutex
	cycleMu sync.Mutex

	adapters  []platform.Adapter
	limiters  map[string]*rate.Limiter
	sinks     map[string]platform.Sink
	fieldMaps map[string]signal.FieldMap
	rules     map[string]model.AdjustmentRule

	rawStore repository.Store
	store    *repository.Serialized
	history  dedupe.Deduper
	backend  replication.Backend

	fetcher    *platform.Fetcher
	normalizer *signal.Normalizer
	builder    *trend.Builder
	planner    *replication.Planner
	queue      *queue.InMemoryQueue
	pool       *worker.Pool

	pollInterval      time.Duration
	fetchWindow       time.Duration
	fetchTimeout      time.Duration
	generationTimeout time.Duration
	variantCount      int
	defaultStyle      string
	totalKnown        int
	workerCount       int
	queueSize         int

	started  bool
	stopCh   chan struct{}
	loopDone chan struct{}
	closers  []namedCloser

	now    func() time.Time
	logger logger.Logger
}

// New constructs a Service. Components left unset default to in-memory
// implementations.
func New(opts ...Option) *Service {
	s := &Service{
		sinks:             make(map[string]platform.Sink),
		fieldMaps:         make(map[string]signal.FieldMap),
		rules:             make(map[string]model.AdjustmentRule),
		pollInterval:      5 * time.Minute,
		fetchWindow:       24 * time.Hour,
		fetchTimeout:      platform.DefaultFetchTimeout,
		generationTimeout: replication.DefaultVariantTimeout,
		variantCount:      replication.DefaultVariantCount,
		defaultStyle:      replication.DefaultStyleID,
		totalKnown:        trend.DefaultTotalKnownSources,
		workerCount:       4,
		queueSize:         1024,
		now:               time.Now,
		logger:            logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.rawStore == nil {
		s.rawStore = repository.NewMemoryStore(repository.WithClock(s.now))
	}
	s.store = repository.NewSerialized(s.rawStore)
	if s.history == nil {
		s.history = dedupe.NewInMemoryDeduper(dedupe.WithClock(s.now))
	}
	if s.backend == nil {
		s.backend = generation.NewHeuristic()
	}

	s.limiters = make(map[string]*rate.Limiter, len(s.adapters))
	builderOpts := []trend.Option{trend.WithClock(s.now), trend.WithTotalKnownSources(s.totalKnown)}
	for _, a := range s.adapters {
		s.limiters[a.SourceID()] = limiterFor(a.RateLimit())
		builderOpts = append(builderOpts, trend.WithReachMultiplier(a.SourceID(), a.ReachMultiplier()))
	}

	normOpts := []signal.Option{signal.WithClock(s.now)}
	for id, fm := range s.fieldMaps {
		normOpts = append(normOpts, signal.WithFieldMap(id, fm))
	}

	plannerOpts := []replication.Option{
		replication.WithClock(s.now),
		replication.WithVariantTimeout(s.generationTimeout),
		replication.WithDefaultStyle(s.defaultStyle),
		replication.WithLogger(s.logger.Named("planner")),
	}
	for id, rule := range s.rules {
		plannerOpts = append(plannerOpts, replication.WithRule(id, rule))
	}

	s.fetcher = platform.NewFetcher(
		platform.WithDefaultTimeout(s.fetchTimeout),
		platform.WithFetcherLogger(s.logger.Named("fetcher")),
	)
	s.normalizer = signal.NewNormalizer(normOpts...)
	s.builder = trend.NewBuilder(builderOpts...)
	s.planner = replication.NewPlanner(s.backend, plannerOpts...)
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, s, worker.WithLogger(s.logger.Named("worker")))
	return s
}

// limiterFor converts calls per minute into a limiter; 0 means unlimited.
func limiterFor(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Start launches the delivery workers and the scheduled cycle loop. The
// first cycle runs immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.pool.Start(ctx)
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.loop(ctx)

	s.started = true
	s.logger.Info(ctx, "trendcast service started",
		logger.Int("sources", len(s.adapters)),
		logger.Int("workers", s.pool.Size()),
		logger.Duration("poll_interval", s.pollInterval),
	)
	return nil
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleRunning) {
			s.logger.Error(ctx, "cycle failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Stop halts the loop and drains the delivery queue.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	close(s.stopCh)
	select {
	case <-s.loopDone:
	case <-ctx.Done():
		return fmt.Errorf("stop: %w", ctx.Err())
	}
	if err := s.pool.Shutdown(ctx); err != nil {
		return err
	}
	s.started = false
	s.logger.Info(ctx, "trendcast service stopped")
	return nil
}

// Close releases the store and any registered resources. Call after Stop.
func (s *Service) Close() error {
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.closers[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// Ready reports whether the store answers.
func (s *Service) Ready(ctx context.Context) error {
	_, err := s.store.GetSignature(ctx, "")
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

// Signatures lists active signatures, fastest first.
func (s *Service) Signatures(ctx context.Context) ([]model.TrendSignature, error) {
	return s.store.ListActiveSignatures(ctx, s.now().UTC())
}

// Signature returns one signature.
func (s *Service) Signature(ctx context.Context, trendID string) (model.TrendSignature, error) {
	return s.store.GetSignature(ctx, trendID)
}

// Opportunities lists a trend's opportunities.
func (s *Service) Opportunities(ctx context.Context, trendID string) ([]model.Opportunity, error) {
	if _, err := s.store.GetSignature(ctx, trendID); err != nil {
		return nil, err
	}
	return s.store.ListOpportunities(ctx, trendID)
}

// Opportunity returns one opportunity.
func (s *Service) Opportunity(ctx context.Context, opportunityID string) (model.Opportunity, error) {
	return s.store.GetOpportunity(ctx, opportunityID)
}
