package model

import (
	"fmt"
	"time"
)

// SignatureStatus is the lifecycle state of a TrendSignature.
type SignatureStatus string

// Signature statuses.
const (
	SignatureActive    SignatureStatus = "active"
	SignatureExpired   SignatureStatus = "expired"
	SignatureExploited SignatureStatus = "exploited"
)

// CanTransitionTo reports whether s may move to next. Only active signatures move.
func (s SignatureStatus) CanTransitionTo(next SignatureStatus) bool {
	return s == SignatureActive && (next == SignatureExpired || next == SignatureExploited)
}

// BucketKey groups records by category and 10-bpm tempo band.
type BucketKey struct {
	Category  string `json:"category"`
	TempoBand int    `json:"tempo_band"`
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%s|%d", k.Category, k.TempoBand)
}

// TrendCluster is a transient group of records sharing a bucket key.
type TrendCluster struct {
	Key     BucketKey
	Members []SignalRecord
}

// Sources returns the distinct source ids in first-seen order.
func (c TrendCluster) Sources() []string {
	seen := make(map[string]struct{}, len(c.Members))
	out := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if _, ok := seen[m.SourceID]; ok {
			continue
		}
		seen[m.SourceID] = struct{}{}
		out = append(out, m.SourceID)
	}
	return out
}

// SourceEngagement is one source's share of a trend's engagement.
type SourceEngagement struct {
	Reach      float64 `json:"reach"`
	Engagement float64 `json:"engagement"`
	Members    int     `json:"members"`
}

// AggregateEngagement sums reach and engagement over a cluster.
type AggregateEngagement struct {
	TotalReach      float64                     `json:"total_reach"`
	TotalEngagement float64                     `json:"total_engagement"`
	EngagementRate  float64                     `json:"engagement_rate"`
	PerSource       map[string]SourceEngagement `json:"per_source"`
}

// Window is a half-open time range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Remaining returns how long is left in the window at now, never negative.
func (w Window) Remaining(now time.Time) time.Duration {
	if d := w.End.Sub(now); d > 0 {
		return d
	}
	return 0
}

// TrendSignature is the persisted description of a detected trend.
type TrendSignature struct {
	TrendID             string              `json:"trend_id"`
	BucketKey           BucketKey           `json:"bucket_key"`
	Sources             []string            `json:"sources"` // sorted
	CanonicalAttributes Attributes          `json:"canonical_attributes"`
	AggregateEngagement AggregateEngagement `json:"aggregate_engagement"`
	ViralVelocity       float64             `json:"viral_velocity"`
	Confidence          float64             `json:"confidence"`
	PredictedPeakAt     time.Time           `json:"predicted_peak_at"`
	ExploitationWindow  Window              `json:"exploitation_window"`
	LowOpportunity      bool                `json:"low_opportunity"`
	Status              SignatureStatus     `json:"status"`
	MemberCount         int                 `json:"member_count"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// HasSource reports whether id contributed to the trend.
func (s TrendSignature) HasSource(id string) bool {
	for _, src := range s.Sources {
		if src == id {
			return true
		}
	}
	return false
}

// MergeSignature applies a re-scan onto the stored signature: metrics come
// from next while CreatedAt and a non-active status are kept.
func MergeSignature(stored, next TrendSignature) TrendSignature {
	merged := next
	if !stored.CreatedAt.IsZero() {
		merged.CreatedAt = stored.CreatedAt
	}
	if stored.Status != "" && stored.Status != SignatureActive {
		merged.Status = stored.Status
	}
	return merged
}
