package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/trendcast/internal/domain/signal"
	"github.com/okian/trendcast/pkg/logger"
	"github.com/okian/trendcast/pkg/metrics"
)

// DefaultFetchTimeout applies to adapters that declare no timeout.
const DefaultFetchTimeout = 10 * time.Second

// Batch is one source's contribution to a cycle. Err is nil,
// *AdapterTimeoutError or *AdapterUnavailableError; a failed source has no
// payloads.
type Batch struct {
	SourceID string
	Payloads []signal.RawPayload
	Err      error
	Latency  time.Duration
}

// Fetcher runs adapters concurrently, one task per source.
type Fetcher struct {
	timeout time.Duration
	log     logger.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithDefaultTimeout sets the deadline for adapters without their own.
func WithDefaultTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithFetcherLogger sets the fetcher logger.
func WithFetcherLogger(l logger.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.log = l
		}
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{timeout: DefaultFetchTimeout, log: logger.Get().Named("fetcher")}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll returns one batch per adapter in adapter order. Source failures
// are reported in the batch, never as the returned error; the only error is
// the parent context's, in which case every result is discarded.
func (f *Fetcher) FetchAll(ctx context.Context, adapters []Adapter, window time.Duration) ([]Batch, error) {
	batches := make([]Batch, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			batches[i] = f.fetchOne(ctx, a, window)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch cancelled: %w", err)
	}
	return batches, nil
}

func (f *Fetcher) timeoutFor(a Adapter) time.Duration {
	if t, ok := a.(timeouter); ok && t.Timeout() > 0 {
		return t.Timeout()
	}
	return f.timeout
}

func (f *Fetcher) fetchOne(parent context.Context, a Adapter, window time.Duration) Batch {
	id := a.SourceID()
	timeout := f.timeoutFor(a)
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type result struct {
		payloads []signal.RawPayload
		err      error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		p, err := a.FetchTrending(ctx, window)
		done <- result{p, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	b := Batch{SourceID: id, Latency: time.Since(start)}
	metrics.RecordFetchLatency(id, float64(b.Latency.Milliseconds()))

	switch {
	case r.err == nil:
		b.Payloads = r.payloads
		metrics.RecordFetch(id, metrics.FetchOK)
		return b
	case parent.Err() != nil:
		b.Err = parent.Err()
		return b
	case errors.Is(r.err, context.DeadlineExceeded):
		b.Err = &AdapterTimeoutError{SourceID: id, Timeout: timeout}
		metrics.RecordFetch(id, metrics.FetchTimeout)
	default:
		var unavailable *AdapterUnavailableError
		if errors.As(r.err, &unavailable) {
			b.Err = unavailable
		} else {
			b.Err = &AdapterUnavailableError{SourceID: id, Err: r.err}
		}
		metrics.RecordFetch(id, metrics.FetchUnavailable)
	}
	metrics.RecordErrorByComponent("fetcher", "source_failed")
	f.log.Warn(parent, "source contributed no records",
		logger.String("source_id", id),
		logger.Duration("latency", b.Latency),
		logger.Error(b.Err),
	)
	return b
}
