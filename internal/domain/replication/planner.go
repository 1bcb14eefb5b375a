// Package replication turns a trend signature into a generation request,
// generates perturbed variants in parallel and selects a winner.
package replication

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/pkg/logger"
	"github.com/okian/trendcast/pkg/metrics"
)

// Planner defaults.
const (
	DefaultVariantCount      = 3
	DefaultVariantTimeout    = 30 * time.Second
	DefaultStyleID           = "default"
	DefaultTargetDurationSec = 60
)

// Variant outcomes recorded in metrics.
const (
	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeTimeout = "timeout"
)

var idNamespace = uuid.MustParse("0f6d2a4c-3b7e-4f51-8a9d-6c1e2b3f4a5d")

// Backend is the generation collaborator.
type Backend interface {
	Generate(ctx context.Context, req model.GenerationRequest) (model.Artifact, error)
}

// PlanRequest selects targets, style and variant count for one plan.
// Empty Targets means every source of the trend; zero VariantCount means
// DefaultVariantCount.
type PlanRequest struct {
	Targets      []string `json:"targets,omitempty"`
	StyleID      string   `json:"style_id,omitempty"`
	VariantCount int      `json:"variant_count,omitempty"`
}

// Planner runs replication plans.
type Planner struct {
	backend        Backend
	variantTimeout time.Duration
	rules          map[string]model.AdjustmentRule
	defaultStyle   string
	now            func() time.Time
	log            logger.Logger
}

// NewPlanner creates a Planner with the default platform rules.
func NewPlanner(backend Backend, opts ...Option) *Planner {
	p := &Planner{
		backend:        backend,
		variantTimeout: DefaultVariantTimeout,
		rules:          DefaultRules(),
		defaultStyle:   DefaultStyleID,
		now:            time.Now,
		log:            logger.Get().Named("planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OpportunityID is stable for a trend, target set and style.
func OpportunityID(trendID string, targets []string, styleID string) string {
	sorted := slices.Clone(targets)
	slices.Sort(sorted)
	return uuid.NewSHA1(idNamespace, []byte(trendID+"|"+strings.Join(sorted, ",")+"|"+styleID)).String()
}

// VariantID is stable for an opportunity, position and perturbation.
func VariantID(opportunityID string, index int, perturbation string) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s|%d|%s", opportunityID, index, perturbation))).String()
}

// BaseRequest builds the unperturbed request from the canonical attributes.
func BaseRequest(sig model.TrendSignature, styleID string) model.GenerationRequest {
	attrs := sig.CanonicalAttributes
	req := model.GenerationRequest{
		TrendID:           sig.TrendID,
		StyleID:           styleID,
		Category:          attrs.Category,
		Tempo:             attrs.Tempo,
		KeyOrScale:        attrs.KeyOrScale,
		MoodTerms:         slices.Clone(attrs.MoodTerms),
		ProductionStyle:   ProductionStyleFor(attrs.Category),
		TargetDurationSec: DefaultTargetDurationSec,
	}
	req.Prompt = Prompt(req)
	return req
}

// VariantRequest applies a perturbation to the base request.
func VariantRequest(base model.GenerationRequest, p Perturbation) model.GenerationRequest {
	req := base
	req.MoodTerms = slices.Clone(base.MoodTerms)
	req.Perturbation = p.Name
	req.EnergyShift = p.EnergyShift
	req.Tempo = p.tempo(base.Tempo)
	req.Directive = p.Directive
	req.Prompt = Prompt(req)
	return req
}

// Prompt renders the text prompt handed to the backend.
func Prompt(req model.GenerationRequest) string {
	profile := ProfileFor(req)
	moods := "unspecified"
	if len(req.MoodTerms) > 0 {
		moods = strings.Join(req.MoodTerms, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create a %s track at %.0f BPM", req.Category, req.Tempo)
	if req.KeyOrScale != "" {
		fmt.Fprintf(&b, " in %s", req.KeyOrScale)
	}
	b.WriteString(".\n")
	fmt.Fprintf(&b, "Mood: %s with %s energy (level %.1f).\n", moods, emotionalDirection(profile.Energy), profile.Energy)
	fmt.Fprintf(&b, "Production: %s.\n", profile.ProductionStyle)
	b.WriteString("Structure: short intro, main hook early, sized for short-form video.\n")
	fmt.Fprintf(&b, "Style: %s signature, trend-aware.", req.StyleID)
	if req.Directive != "" {
		fmt.Fprintf(&b, "\nVariation: %s", req.Directive)
	}
	return b.String()
}

// Plan generates variants for sig and selects a winner. The returned
// opportunity is selected on success. When every variant fails it is
// returned pending together with ErrAllVariantsFailed. Cancelling ctx
// discards all results.
func (p *Planner) Plan(ctx context.Context, sig model.TrendSignature, req PlanRequest) (model.Opportunity, error) {
	count := req.VariantCount
	if count == 0 {
		count = DefaultVariantCount
	}
	if count < 1 || count > len(Perturbations) {
		return model.Opportunity{}, fmt.Errorf("%w: %d not in [1,%d]", ErrInvalidVariantCount, count, len(Perturbations))
	}

	targets, err := ResolveTargets(sig, req.Targets)
	if err != nil {
		return model.Opportunity{}, err
	}
	style := req.StyleID
	if style == "" {
		style = p.defaultStyle
	}

	now := p.now().UTC()
	base := BaseRequest(sig, style)
	opp := model.Opportunity{
		OpportunityID:        OpportunityID(sig.TrendID, targets, style),
		TrendID:              sig.TrendID,
		TargetSources:        targets,
		StyleID:              style,
		GenerationRequest:    base,
		SelectedVariantIndex: model.NoSelection,
		Status:               model.OpportunityPending,
		Urgency:              model.UrgencyFor(sig.ExploitationWindow.Remaining(now)),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	variants := p.generateAll(ctx, opp.OpportunityID, base, count)
	if err := ctx.Err(); err != nil {
		return model.Opportunity{}, fmt.Errorf("plan %s: %w", sig.TrendID, err)
	}
	opp.Variants = variants

	winner := Select(variants)
	if winner == model.NoSelection {
		p.log.Warn(ctx, "all variants failed",
			logger.String("trend_id", sig.TrendID),
			logger.String("opportunity_id", opp.OpportunityID),
			logger.Int("variants", count),
		)
		metrics.RecordOpportunityStatus(string(model.OpportunityPending))
		return opp, fmt.Errorf("plan %s: %w", sig.TrendID, ErrAllVariantsFailed)
	}
	metrics.RecordOpportunityStatus(string(model.OpportunityGenerated))

	adjustments := make(map[string]model.PlatformAdjustment, len(targets))
	for _, target := range targets {
		adjustments[target] = Adjust(variants[winner], target, p.rules[target], style)
	}
	opp.Variants[winner].PlatformAdjustments = adjustments
	opp.SelectedVariantIndex = winner
	opp.Status = model.OpportunitySelected
	metrics.RecordOpportunityStatus(string(model.OpportunitySelected))

	p.log.Info(ctx, "variant selected",
		logger.String("trend_id", sig.TrendID),
		logger.String("opportunity_id", opp.OpportunityID),
		logger.Int("index", winner),
		logger.Float64("score", variants[winner].PredictedScore),
		logger.String("urgency", opp.Urgency),
	)
	return opp, nil
}

// Select returns the index of the highest composite among successful
// variants, the lowest index on ties, or model.NoSelection.
func Select(variants []model.Variant) int {
	best := model.NoSelection
	for i, v := range variants {
		if v.Failed {
			continue
		}
		if best == model.NoSelection || v.PredictedScore > variants[best].PredictedScore {
			best = i
		}
	}
	return best
}

func (p *Planner) generateAll(ctx context.Context, opportunityID string, base model.GenerationRequest, count int) []model.Variant {
	variants := make([]model.Variant, count)
	var g errgroup.Group
	for i := 0; i < count; i++ {
		pert := Perturbations[i]
		g.Go(func() error {
			variants[i] = p.generateOne(ctx, opportunityID, i, VariantRequest(base, pert))
			return nil
		})
	}
	_ = g.Wait()
	return variants
}

func (p *Planner) generateOne(ctx context.Context, opportunityID string, index int, req model.GenerationRequest) model.Variant {
	v := model.Variant{
		VariantID:  VariantID(opportunityID, index, req.Perturbation),
		Index:      index,
		Parameters: req,
	}

	start := time.Now()
	artifact, err := p.call(ctx, req)
	metrics.RecordGenerationLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		outcome := outcomeFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = outcomeTimeout
		}
		metrics.RecordVariant(outcome)
		err = fmt.Errorf("variant %d: %w: %w", index, ErrGenerationBackend, err)
		v.Failed = true
		v.Error = err.Error()
		p.log.Warn(ctx, "variant generation failed",
			logger.String("trend_id", req.TrendID),
			logger.Int("index", index),
			logger.String("perturbation", req.Perturbation),
			logger.Error(err),
		)
		return v
	}
	metrics.RecordVariant(outcomeOK)

	pred := HeuristicPrediction(req)
	if artifact.Prediction != nil {
		pred = *artifact.Prediction
	}
	v.ArtifactRef = artifact.Ref
	v.DurationSec = float64(artifact.DurationSec)
	v.PredictedViralPotential = clamp01(pred.ViralPotential)
	v.PredictedEngagement = clamp01(pred.Engagement)
	v.PredictedScore = Composite(pred)
	return v
}

// call runs one backend request under the variant timeout. A backend that
// ignores its context is abandoned when the deadline passes.
func (p *Planner) call(ctx context.Context, req model.GenerationRequest) (model.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, p.variantTimeout)
	defer cancel()

	type result struct {
		artifact model.Artifact
		err      error
	}
	done := make(chan result, 1)
	go func() {
		a, err := p.backend.Generate(ctx, req)
		done <- result{a, err}
	}()

	select {
	case r := <-done:
		return r.artifact, r.err
	case <-ctx.Done():
		return model.Artifact{}, ctx.Err()
	}
}

// ResolveTargets validates targets against the trend sources and returns
// them sorted and deduplicated. Empty targets mean every source.
func ResolveTargets(sig model.TrendSignature, targets []string) ([]string, error) {
	if len(targets) == 0 {
		out := slices.Clone(sig.Sources)
		slices.Sort(out)
		return out, nil
	}
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if !sig.HasSource(t) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTargets, t)
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out, nil
}
