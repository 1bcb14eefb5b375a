package model

import "time"

// OpportunityStatus is the replication state machine.
type OpportunityStatus string

// Opportunity statuses in order.
const (
	OpportunityPending   OpportunityStatus = "pending"
	OpportunityGenerated OpportunityStatus = "generated"
	OpportunitySelected  OpportunityStatus = "selected"
	OpportunityDelivered OpportunityStatus = "delivered"
)

func (s OpportunityStatus) rank() int {
	switch s {
	case OpportunityPending:
		return 1
	case OpportunityGenerated:
		return 2
	case OpportunitySelected:
		return 3
	case OpportunityDelivered:
		return 4
	default:
		return 0
	}
}

// CanTransitionTo reports whether moving from s to next goes forward.
func (s OpportunityStatus) CanTransitionTo(next OpportunityStatus) bool {
	return next.rank() > 0 && next.rank() > s.rank()
}

// AtLeast reports whether s has reached other.
func (s OpportunityStatus) AtLeast(other OpportunityStatus) bool {
	return s.rank() >= other.rank()
}

// Urgency labels.
const (
	UrgencyImmediate = "immediate"
	UrgencyHigh      = "high"
	UrgencyMedium    = "medium"
	UrgencyLow       = "low"
)

// UrgencyFor labels the time left in an exploitation window.
func UrgencyFor(remaining time.Duration) string {
	switch {
	case remaining < 6*time.Hour:
		return UrgencyImmediate
	case remaining < 12*time.Hour:
		return UrgencyHigh
	case remaining < 24*time.Hour:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// GenerationRequest is the exact input handed to a generation backend.
type GenerationRequest struct {
	TrendID           string   `json:"trend_id"`
	StyleID           string   `json:"style_id"`
	Category          string   `json:"category"`
	Tempo             float64  `json:"tempo"`
	KeyOrScale        string   `json:"key_or_scale,omitempty"`
	MoodTerms         []string `json:"mood_terms,omitempty"`
	Perturbation      string   `json:"perturbation,omitempty"`
	EnergyShift       float64  `json:"energy_shift,omitempty"`
	Directive         string   `json:"directive,omitempty"`
	ProductionStyle   string   `json:"production_style,omitempty"`
	TargetDurationSec int      `json:"target_duration_sec,omitempty"`
	Prompt            string   `json:"prompt,omitempty"`
}

// Prediction is a generation backend's own estimate, each value in [0,1].
type Prediction struct {
	ViralPotential float64 `json:"viral_potential"`
	Engagement     float64 `json:"engagement"`
}

// Artifact is what a generation backend produced for one request.
type Artifact struct {
	Ref         string      `json:"ref"`
	DurationSec int         `json:"duration_sec"`
	Prediction  *Prediction `json:"prediction,omitempty"`
}

// AdjustmentRule is a target platform's declared output constraints.
type AdjustmentRule struct {
	MaxDurationSec int      `json:"max_duration_sec,omitempty"`
	HookWithinSec  int      `json:"hook_within_sec,omitempty"`
	AspectRatio    string   `json:"aspect_ratio,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// PlatformAdjustment is the winner's derived copy for one source.
type PlatformAdjustment struct {
	SourceID    string   `json:"source_id"`
	ArtifactRef string   `json:"artifact_ref"`
	DurationSec float64  `json:"duration_sec"`
	HookAtSec   int      `json:"hook_at_sec,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Variant is one generated candidate.
type Variant struct {
	VariantID               string                        `json:"variant_id"`
	Index                   int                           `json:"index"`
	Parameters              GenerationRequest             `json:"parameters"`
	ArtifactRef             string                        `json:"artifact_ref,omitempty"`
	DurationSec             float64                       `json:"duration_sec,omitempty"`
	PredictedViralPotential float64                       `json:"predicted_viral_potential"`
	PredictedEngagement     float64                       `json:"predicted_engagement"`
	PredictedScore          float64                       `json:"predicted_score"`
	Failed                  bool                          `json:"failed,omitempty"`
	Error                   string                        `json:"error,omitempty"`
	PlatformAdjustments     map[string]PlatformAdjustment `json:"platform_adjustments,omitempty"`
}

// DeliveredArtifact describes one artifact handed to a sink.
type DeliveredArtifact struct {
	SourceID    string    `json:"source_id"`
	VariantID   string    `json:"variant_id"`
	ArtifactRef string    `json:"artifact_ref"`
	DeliveryRef string    `json:"delivery_ref"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// NoSelection marks an opportunity without a winner.
const NoSelection = -1

// Opportunity is one replication run for a trend.
type Opportunity struct {
	OpportunityID        string                       `json:"opportunity_id"`
	TrendID              string                       `json:"trend_id"`
	TargetSources        []string                     `json:"target_sources"`
	StyleID              string                       `json:"style_id"`
	GenerationRequest    GenerationRequest            `json:"generation_request"`
	Variants             []Variant                    `json:"variants"`
	SelectedVariantIndex int                          `json:"selected_variant_index"`
	Status               OpportunityStatus            `json:"status"`
	Urgency              string                       `json:"urgency,omitempty"`
	Version              int64                        `json:"version"`
	Deliveries           map[string]DeliveredArtifact `json:"deliveries,omitempty"`
	CreatedAt            time.Time                    `json:"created_at"`
	UpdatedAt            time.Time                    `json:"updated_at"`
}

// Winner returns the selected variant.
func (o Opportunity) Winner() (Variant, bool) {
	if o.SelectedVariantIndex < 0 || o.SelectedVariantIndex >= len(o.Variants) {
		return Variant{}, false
	}
	return o.Variants[o.SelectedVariantIndex], true
}
