// Package trend turns a cross-source cluster into a scored TrendSignature.
package trend

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/internal/domain/scoring"
)

// Model constants.
const (
	DefaultTotalKnownSources = 7
	BaseHoursToPeak          = 48.0
	MaxVelocityFactor        = 2.0
	SourceDelayFactor        = 0.2
	SourceDelayScale         = 7.0
	PeakSafetyMargin         = 6 * time.Hour
	trendIDLength            = 16
)

// Builder builds signatures from clusters.
type Builder struct {
	now        func() time.Time
	totalKnown int
	scorer     scoring.Scorer
	reach      map[string]float64
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		now:        time.Now,
		totalKnown: DefaultTotalKnownSources,
		scorer:     scoring.NewVelocityScorer(),
		reach:      make(map[string]float64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build scores the cluster and predicts its peak and exploitation window.
func (b *Builder) Build(c model.TrendCluster) model.TrendSignature {
	now := b.now().UTC()

	velocities := make([]float64, len(c.Members))
	var velocity float64
	for i, m := range c.Members {
		velocities[i] = b.scorer.Score(m)
		velocity += velocities[i]
	}

	sources := c.Sources()
	sort.Strings(sources)
	distinct := len(sources)

	confidence := Confidence(distinct, b.totalKnown, velocities)
	hours := HoursToPeak(velocity, confidence, distinct)
	peak := now.Add(time.Duration(hours * float64(time.Hour)))
	window, low := ExploitationWindow(now, peak)

	attrs := CanonicalAttributes(c.Members)
	return model.TrendSignature{
		TrendID:             TrendID(c.Key, attrs),
		BucketKey:           c.Key,
		Sources:             sources,
		CanonicalAttributes: attrs,
		AggregateEngagement: b.aggregate(c.Members),
		ViralVelocity:       velocity,
		Confidence:          confidence,
		PredictedPeakAt:     peak,
		ExploitationWindow:  window,
		LowOpportunity:      low,
		Status:              model.SignatureActive,
		MemberCount:         len(c.Members),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (b *Builder) reachMultiplier(sourceID string) float64 {
	if m, ok := b.reach[sourceID]; ok {
		return m
	}
	return 1.0
}

func (b *Builder) aggregate(members []model.SignalRecord) model.AggregateEngagement {
	agg := model.AggregateEngagement{PerSource: make(map[string]model.SourceEngagement)}
	for _, m := range members {
		reach := float64(m.UsageCount) * b.reachMultiplier(m.SourceID)
		eng := m.Metric(model.MetricPrimaryReactionRate) + m.Metric(model.MetricShareRate)

		agg.TotalReach += reach
		agg.TotalEngagement += eng
		ps := agg.PerSource[m.SourceID]
		ps.Reach += reach
		ps.Engagement += eng
		ps.Members++
		agg.PerSource[m.SourceID] = ps
	}
	agg.EngagementRate = agg.TotalEngagement / math.Max(agg.TotalReach, 1)
	return agg
}

// Confidence is source coverage scaled down by disagreement between member
// velocities: (distinct/total) * (1 - min(popvariance/100, 1)), in [0,1].
func Confidence(distinct, totalKnown int, velocities []float64) float64 {
	if totalKnown <= 0 || len(velocities) == 0 {
		return 0
	}
	coverage := float64(distinct) / float64(totalKnown)
	c := coverage * (1 - math.Min(populationVariance(velocities)/100, 1))
	return math.Max(0, math.Min(1, c))
}

// HoursToPeak predicts hours until a trend peaks. Faster, better-corroborated
// trends peak sooner; each extra source delays the peak slightly.
func HoursToPeak(velocity, confidence float64, distinctSources int) float64 {
	speed := 1 + math.Min(velocity/100, MaxVelocityFactor)*confidence
	delay := 1 + (float64(distinctSources)/SourceDelayScale)*SourceDelayFactor
	return BaseHoursToPeak / speed * delay
}

// ExploitationWindow runs from now to the safety margin before peak. A window
// that would end at or before now collapses to (now, now) and is flagged low.
func ExploitationWindow(now, peak time.Time) (model.Window, bool) {
	end := peak.Add(-PeakSafetyMargin)
	if !end.After(now) {
		return model.Window{Start: now, End: now}, true
	}
	return model.Window{Start: now, End: end}, false
}

// TrendID hashes the bucket key and canonical attributes so re-scans of the
// same pattern produce the same id.
func TrendID(key model.BucketKey, attrs model.Attributes) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s",
		key.String(),
		int64(math.Round(attrs.Tempo)),
		attrs.Category,
		attrs.KeyOrScale,
		strings.Join(attrs.MoodTerms, ","),
	)
	return hex.EncodeToString(h.Sum(nil))[:trendIDLength]
}

// CanonicalAttributes derives one attribute set for a cluster: mean tempo
// rounded, plurality category and key, and mood tokens ordered by votes.
// Ties go to the value seen first.
func CanonicalAttributes(members []model.SignalRecord) model.Attributes {
	if len(members) == 0 {
		return model.Attributes{}
	}

	var tempoSum float64
	category := newVote()
	key := newVote()
	mood := newVote()
	for _, m := range members {
		tempoSum += m.Attributes.Tempo
		category.add(m.Attributes.Category)
		key.add(m.Attributes.KeyOrScale)
		for _, t := range m.Attributes.MoodTerms {
			mood.add(t)
		}
	}

	out := model.Attributes{
		Tempo:      math.Round(tempoSum / float64(len(members))),
		Category:   category.winner(),
		KeyOrScale: key.winner(),
	}
	if ranked := mood.ranked(); len(ranked) > 0 {
		out.MoodTerms = ranked
	}
	return out
}

// vote counts tokens and remembers first-seen order.
type vote struct {
	order  []string
	counts map[string]int
}

func newVote() *vote {
	return &vote{counts: make(map[string]int)}
}

func (v *vote) add(token string) {
	if token == "" {
		return
	}
	if _, ok := v.counts[token]; !ok {
		v.order = append(v.order, token)
	}
	v.counts[token]++
}

func (v *vote) ranked() []string {
	out := append([]string(nil), v.order...)
	sort.SliceStable(out, func(i, j int) bool {
		return v.counts[out[i]] > v.counts[out[j]]
	})
	return out
}

func (v *vote) winner() string {
	if r := v.ranked(); len(r) > 0 {
		return r[0]
	}
	return ""
}

func populationVariance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return ss / float64(len(xs))
}
