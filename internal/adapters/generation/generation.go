// Package generation holds the outbound contract to the audio generation
// backend and two in-process implementations.
package generation

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/okian/trendcast/internal/domain/model"
)

// DefaultDurationSec is the length of a full-length generated track.
const DefaultDurationSec = 60

// Backend generates one artifact per request.
type Backend interface {
	Generate(ctx context.Context, req model.GenerationRequest) (model.Artifact, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req model.GenerationRequest) (model.Artifact, error)

// Generate implements Backend.
func (f BackendFunc) Generate(ctx context.Context, req model.GenerationRequest) (model.Artifact, error) {
	return f(ctx, req)
}

var artifactNamespace = uuid.MustParse("5b0c2f1e-8f0e-4c53-9a35-0d5b3f6f2a11")

// Heuristic returns a deterministic artifact and no prediction, leaving
// scoring to the planner's musical-profile heuristic.
type Heuristic struct {
	DurationSec int
}

// NewHeuristic creates a Heuristic backend.
func NewHeuristic() *Heuristic {
	return &Heuristic{DurationSec: DefaultDurationSec}
}

// Generate implements Backend.
func (h *Heuristic) Generate(ctx context.Context, req model.GenerationRequest) (model.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return model.Artifact{}, err
	}
	duration := h.DurationSec
	if req.TargetDurationSec > 0 {
		duration = req.TargetDurationSec
	}
	id := uuid.NewSHA1(artifactNamespace, []byte(req.TrendID+"|"+req.StyleID+"|"+req.Perturbation+"|"+req.Prompt))
	return model.Artifact{
		Ref:         fmt.Sprintf("artifact://%s/%s", req.TrendID, id),
		DurationSec: duration,
	}, nil
}

// Flaky fails the first Failures calls, then delegates.
type Flaky struct {
	Backend  Backend
	Failures int64
	calls    atomic.Int64
}

// NewFlaky wraps b so its first failures calls return ErrBackendUnavailable.
func NewFlaky(b Backend, failures int) *Flaky {
	return &Flaky{Backend: b, Failures: int64(failures)}
}

// Generate implements Backend.
func (f *Flaky) Generate(ctx context.Context, req model.GenerationRequest) (model.Artifact, error) {
	if n := f.calls.Add(1); n <= f.Failures {
		return model.Artifact{}, fmt.Errorf("call %d: %w", n, ErrBackendUnavailable)
	}
	return f.Backend.Generate(ctx, req)
}

// Calls reports how many calls reached the wrapper.
func (f *Flaky) Calls() int64 {
	return f.calls.Load()
}
