package service

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/okian/trendcast/internal/adapters/cache"
	"github.com/okian/trendcast/internal/adapters/platform"
	"github.com/okian/trendcast/internal/adapters/repository"
	"github.com/okian/trendcast/internal/adapters/sink"
	"github.com/okian/trendcast/internal/config"
	"github.com/okian/trendcast/internal/domain/dedupe"
	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/internal/domain/signal"
	"github.com/okian/trendcast/pkg/logger"
)

// NewFromConfig builds a Service and its adapters, store, history and sinks
// from cfg. Resources it opens are released by Service.Close.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Get()

	adapters, err := buildAdapters(cfg, log)
	if err != nil {
		return nil, err
	}

	var closers []Option
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var history dedupe.Deduper
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		rh := cache.NewRedisHistory(client, cfg.HistoryRetention)
		if err := rh.Ping(ctx); err != nil {
			// The cycle falls back to unfiltered batches while Redis is down.
			log.Warn(ctx, "redis history unreachable at startup", logger.String("addr", cfg.RedisAddr), logger.Error(err))
		}
		history = rh
		closers = append(closers, WithCloser("redis", rh.Close))
	} else {
		history = dedupe.NewInMemoryDeduper(
			dedupe.WithRetention(cfg.HistoryRetention),
			dedupe.WithMaxSize(cfg.HistorySize),
		)
	}

	pubsub := sink.NewInProcessPubSub(log.Named("pubsub"))
	closers = append(closers, WithCloser("pubsub", pubsub.Close))

	base := []Option{
		WithAdapters(adapters...),
		WithStore(store),
		WithHistory(history),
		WithPollInterval(cfg.PollInterval),
		WithFetchWindow(cfg.FetchWindow),
		WithFetchTimeout(cfg.FetchTimeout),
		WithGenerationTimeout(cfg.GenerationTimeout),
		WithVariantCount(cfg.VariantCount),
		WithDefaultStyle(cfg.DefaultStyleID),
		WithTotalKnownSources(cfg.TotalKnownSources),
		WithDeliveryWorkers(cfg.DeliveryWorkers),
		WithQueueSize(cfg.DeliveryQueueSize),
		WithLogger(log.Named("service")),
	}
	for _, src := range cfg.Sources {
		base = append(base, WithSinks(sink.NewPubSubSink(src.ID, pubsub, sink.WithLogger(log.Named("sink")))))
		if rule, ok := ruleFor(src); ok {
			base = append(base, WithRule(src.ID, rule))
		}
	}
	base = append(base, closers...)
	return New(append(base, opts...)...), nil
}

func buildAdapters(cfg *config.Config, log logger.Logger) ([]platform.Adapter, error) {
	adapters := make([]platform.Adapter, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		opts := []platform.AdapterOption{
			platform.WithRateLimit(src.RateLimit),
			platform.WithTimeout(src.EffectiveTimeout(cfg.FetchTimeout)),
			platform.WithLogger(log.Named("adapter")),
		}
		if src.ReachMultiplier > 0 {
			opts = append(opts, platform.WithReachMultiplier(src.ReachMultiplier))
		}

		switch src.Kind {
		case config.SourceKindHTTP:
			adapters = append(adapters, platform.NewHTTPAdapter(src.ID, src.URL, opts...))
		default:
			var payloads []signal.RawPayload
			if src.Fixture != "" {
				p, err := platform.LoadFixture(src.Fixture)
				if err != nil {
					return nil, fmt.Errorf("source %s: %w", src.ID, err)
				}
				payloads = p
			}
			adapters = append(adapters, platform.NewStaticAdapter(src.ID, payloads, opts...))
		}
	}
	return adapters, nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	opts := []repository.Option{repository.WithLogger(logger.Get().Named("store"))}
	switch cfg.StoreDriver {
	case config.StoreBadger:
		db, err := repository.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		return repository.NewBadgerStore(db, opts...), nil
	case config.StorePostgres:
		db, err := repository.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		store := repository.NewPostgresStore(db, opts...)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return repository.NewMemoryStore(opts...), nil
	}
}

// ruleFor returns a source's declared rule; false keeps the built-in default.
func ruleFor(src config.Source) (model.AdjustmentRule, bool) {
	if src.MaxDurationSec == 0 && src.HookWithinSec == 0 && src.AspectRatio == "" && len(src.Tags) == 0 {
		return model.AdjustmentRule{}, false
	}
	return model.AdjustmentRule{
		MaxDurationSec: src.MaxDurationSec,
		HookWithinSec:  src.HookWithinSec,
		AspectRatio:    src.AspectRatio,
		Tags:           src.Tags,
	}, true
}
