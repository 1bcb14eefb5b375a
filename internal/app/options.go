package service

import (
	"time"

	"github.com/okian/trendcast/internal/adapters/platform"
	"github.com/okian/trendcast/internal/adapters/repository"
	"github.com/okian/trendcast/internal/domain/dedupe"
	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/internal/domain/replication"
	"github.com/okian/trendcast/internal/domain/signal"
	"github.com/okian/trendcast/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithAdapters sets the trending sources.
func WithAdapters(adapters ...platform.Adapter) Option {
	return func(s *Service) {
		s.adapters = append(s.adapters, adapters...)
	}
}

// WithSinks sets the delivery sinks, keyed by their source id.
func WithSinks(sinks ...platform.Sink) Option {
	return func(s *Service) {
		for _, sk := range sinks {
			s.sinks[sk.SourceID()] = sk
		}
	}
}

// WithStore sets the signature store. It is wrapped in a per-trend lock.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.rawStore = store
		}
	}
}

// WithHistory sets the cross-cycle signal history.
func WithHistory(d dedupe.Deduper) Option {
	return func(s *Service) {
		if d != nil {
			s.history = d
		}
	}
}

// WithBackend sets the generation backend.
func WithBackend(b replication.Backend) Option {
	return func(s *Service) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithRule declares one target's adjustment rule.
func WithRule(sourceID string, rule model.AdjustmentRule) Option {
	return func(s *Service) {
		s.rules[sourceID] = rule
	}
}

// WithFieldMap sets one source's payload field map.
func WithFieldMap(sourceID string, fm signal.FieldMap) Option {
	return func(s *Service) {
		s.fieldMaps[sourceID] = fm
	}
}

// WithPollInterval sets the time between scheduled cycles.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithFetchWindow sets the lookback passed to adapters.
func WithFetchWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchWindow = d
		}
	}
}

// WithFetchTimeout sets the default per-source deadline.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithGenerationTimeout bounds each variant's backend call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.generationTimeout = d
		}
	}
}

// WithVariantCount sets the default variants per plan.
func WithVariantCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.variantCount = n
		}
	}
}

// WithDefaultStyle sets the style id used when a plan names none.
func WithDefaultStyle(styleID string) Option {
	return func(s *Service) {
		if styleID != "" {
			s.defaultStyle = styleID
		}
	}
}

// WithTotalKnownSources sets the coverage denominator for confidence.
func WithTotalKnownSources(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.totalKnown = n
		}
	}
}

// WithDeliveryWorkers sets the number of delivery workers.
func WithDeliveryWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

// WithQueueSize sets the delivery queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCloser registers a resource released by Close.
func WithCloser(name string, fn func() error) Option {
	return func(s *Service) {
		s.closers = append(s.closers, namedCloser{name: name, fn: fn})
	}
}
