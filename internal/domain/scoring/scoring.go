// Package scoring defines the contract for computing a record's viral velocity.
package scoring

import (
	"math"

	"github.com/okian/trendcast/internal/domain/model"
)

// Component weights and caps.
const (
	BaseWeight       = 0.5
	QualityWeight    = 0.3
	MomentumWeight   = 0.2
	maxBase          = 100
	maxQuality       = 50
	maxMomentum      = 50
	maxVelocityValue = 100
)

// tier awards points to the first threshold the value exceeds.
type tier struct {
	above  float64
	points float64
}

var (
	reactionTiers   = []tier{{1000, 15}, {500, 10}, {100, 5}}
	shareTiers      = []tier{{100, 15}, {50, 10}, {10, 5}}
	completionTiers = []tier{{0.7, 10}, {0.5, 5}}
	saveTiers       = []tier{{0.1, 10}, {0.05, 5}}
)

// Scorer computes a momentum score in [0,100] for one record. Implementations
// must be pure so the same record always scores the same.
type Scorer interface {
	Score(rec model.SignalRecord) float64
}

// Breakdown exposes the components behind a velocity score.
type Breakdown struct {
	Base              float64 `json:"base"`
	EngagementQuality float64 `json:"engagement_quality"`
	UsageMomentum     float64 `json:"usage_momentum"`
	Velocity          float64 `json:"velocity"`
}

// VelocityScorer is the default explainable Scorer.
type VelocityScorer struct{}

// NewVelocityScorer creates a VelocityScorer.
func NewVelocityScorer() *VelocityScorer {
	return &VelocityScorer{}
}

// Score returns the record's viral velocity.
func (s *VelocityScorer) Score(rec model.SignalRecord) float64 {
	return s.Breakdown(rec).Velocity
}

// Breakdown scores rec and returns every component.
func (s *VelocityScorer) Breakdown(rec model.SignalRecord) Breakdown {
	b := Breakdown{
		Base:              clamp(rec.GrowthRatePct, 0, maxBase),
		EngagementQuality: EngagementQuality(rec),
		UsageMomentum:     UsageMomentum(rec.UsageCount),
	}
	b.Velocity = clamp(b.Base*BaseWeight+b.EngagementQuality*QualityWeight+b.UsageMomentum*MomentumWeight, 0, maxVelocityValue)
	return b
}

// EngagementQuality sums tiered points over the engagement metrics, capped at 50.
func EngagementQuality(rec model.SignalRecord) float64 {
	q := award(rec.Metric(model.MetricPrimaryReactionRate), reactionTiers) +
		award(rec.Metric(model.MetricShareRate), shareTiers) +
		award(rec.Metric(model.MetricCompletionRate), completionTiers) +
		award(rec.Metric(model.MetricSaveRate), saveTiers)
	return math.Min(q, maxQuality)
}

// UsageMomentum is min(log10(max(usage,1))*10, 50).
func UsageMomentum(usage int64) float64 {
	if usage < 1 {
		usage = 1
	}
	return math.Min(math.Log10(float64(usage))*10, maxMomentum)
}

func award(v float64, tiers []tier) float64 {
	for _, t := range tiers {
		if v > t.above {
			return t.points
		}
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
