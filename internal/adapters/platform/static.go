package platform

import (
	"context"
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/trendcast/internal/domain/signal"
)

// StaticAdapter serves a fixed set of payloads.
type StaticAdapter struct {
	id       string
	payloads []signal.RawPayload
	cfg      adapterConfig
}

var _ Adapter = (*StaticAdapter)(nil)

// NewStaticAdapter creates an adapter that always returns payloads.
func NewStaticAdapter(id string, payloads []signal.RawPayload, opts ...AdapterOption) *StaticAdapter {
	return &StaticAdapter{id: id, payloads: payloads, cfg: newAdapterConfig(opts)}
}

// LoadFixture reads a JSON array of payloads.
func LoadFixture(path string) ([]signal.RawPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var payloads []signal.RawPayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return payloads, nil
}

func (a *StaticAdapter) SourceID() string         { return a.id }
func (a *StaticAdapter) ReachMultiplier() float64 { return a.cfg.reach }
func (a *StaticAdapter) RateLimit() int           { return a.cfg.rateLimit }
func (a *StaticAdapter) Timeout() time.Duration   { return a.cfg.timeout }

// FetchTrending returns shallow copies so callers cannot mutate the fixture.
func (a *StaticAdapter) FetchTrending(ctx context.Context, _ time.Duration) ([]signal.RawPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]signal.RawPayload, len(a.payloads))
	for i, p := range a.payloads {
		out[i] = maps.Clone(p)
	}
	return out, nil
}
