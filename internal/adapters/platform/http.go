package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/okian/trendcast/internal/domain/signal"
	"github.com/okian/trendcast/pkg/logger"
)

const maxResponseBytes = 8 << 20

// HTTPAdapter fetches payloads from GET {baseURL}?window=<duration>. The
// body is either a JSON array or an object with an "items" array.
type HTTPAdapter struct {
	id      string
	baseURL string
	cfg     adapterConfig
	breaker *gobreaker.CircuitBreaker[[]signal.RawPayload]
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter creates an adapter guarded by a circuit breaker.
func NewHTTPAdapter(id, baseURL string, opts ...AdapterOption) *HTTPAdapter {
	a := &HTTPAdapter{id: id, baseURL: baseURL, cfg: newAdapterConfig(opts)}
	a.breaker = gobreaker.NewCircuitBreaker[[]signal.RawPayload](gobreaker.Settings{
		Name:        "platform-" + id,
		MaxRequests: 1,
		Interval:    defaultBreakerInterval,
		Timeout:     a.cfg.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= a.cfg.breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.cfg.log.Warn(context.Background(), "circuit breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	return a
}

func (a *HTTPAdapter) SourceID() string         { return a.id }
func (a *HTTPAdapter) ReachMultiplier() float64 { return a.cfg.reach }
func (a *HTTPAdapter) RateLimit() int           { return a.cfg.rateLimit }
func (a *HTTPAdapter) Timeout() time.Duration   { return a.cfg.timeout }

// FetchTrending implements Adapter. An open breaker fails fast with
// AdapterUnavailableError.
func (a *HTTPAdapter) FetchTrending(ctx context.Context, window time.Duration) ([]signal.RawPayload, error) {
	payloads, err := a.breaker.Execute(func() ([]signal.RawPayload, error) {
		return a.fetch(ctx, window)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &AdapterUnavailableError{SourceID: a.id, Err: err}
	}
	return payloads, err
}

func (a *HTTPAdapter) fetch(ctx context.Context, window time.Duration) ([]signal.RawPayload, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("window", window.String())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.cfg.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", a.id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", a.id, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", a.id, err)
	}
	return decodePayloads(body)
}

func decodePayloads(body []byte) ([]signal.RawPayload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []signal.RawPayload
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode payloads: %w", err)
		}
		return items, nil
	}
	var envelope struct {
		Items []signal.RawPayload `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode payloads: %w", err)
	}
	return envelope.Items, nil
}
