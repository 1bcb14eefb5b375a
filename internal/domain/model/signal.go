// Package model contains domain models passed between layers.
package model

import "time"

// Recognized engagement metric keys.
const (
	MetricPrimaryReactionRate = "primary_reaction_rate"
	MetricShareRate           = "share_rate"
	MetricCompletionRate      = "completion_rate"
	MetricSaveRate            = "save_rate"
)

// SignalRecord is one observed trending item from one source.
type SignalRecord struct {
	SourceID      string             `json:"source_id"`
	ContentID     string             `json:"content_id"` // unique within a source
	ObservedAt    time.Time          `json:"observed_at"`
	UsageCount    int64              `json:"usage_count"`
	GrowthRatePct float64            `json:"growth_rate_pct"` // may be negative
	Engagement    map[string]float64 `json:"engagement,omitempty"`
	Attributes    Attributes         `json:"attributes"`
}

// Attributes is the closed set of recognized musical attributes. Unrecognized
// keys ride along in Extra and are never required.
type Attributes struct {
	Tempo      float64        `json:"tempo"` // bpm
	KeyOrScale string         `json:"key_or_scale,omitempty"`
	Category   string         `json:"category"`
	MoodTerms  []string       `json:"mood_terms,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Metric returns an engagement metric, 0 when absent.
func (r SignalRecord) Metric(key string) float64 {
	return r.Engagement[key]
}

// Key identifies the record across cycles.
func (r SignalRecord) Key() string {
	return r.SourceID + ":" + r.ContentID
}
