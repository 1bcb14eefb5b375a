// Package signal turns source-shaped payloads into model.SignalRecord values.
package signal

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/okian/trendcast/internal/domain/model"
)

// Defaults applied when a payload omits an attribute.
const (
	DefaultTempo    = 120.0
	DefaultCategory = "unknown"
)

// MaxTempo is the fastest plausible tempo in bpm; anything above falls back
// to DefaultTempo.
const MaxTempo = 1000.0

// maxUsage is the first float64 that no longer fits an int64.
const maxUsage = float64(1 << 63)

// Field names reported in MalformedSignalError.
const (
	FieldContentID  = "content_id"
	FieldUsageCount = "usage_count"
	FieldSourceID   = "source_id"
)

// RawPayload is one trending item as a source delivered it.
type RawPayload map[string]any

// FieldMap lists candidate keys, in priority order, for each field.
type FieldMap struct {
	ContentID  []string
	UsageCount []string
	GrowthRate []string
	ObservedAt []string

	// EngagementContainers name nested objects holding engagement metrics.
	// Metrics are also looked up at the top level.
	EngagementContainers []string
	// Engagement maps a recognized metric key to its aliases.
	Engagement map[string][]string

	// AttributeContainers name nested objects holding musical attributes.
	AttributeContainers []string
	Tempo               []string
	KeyOrScale          []string
	Category            []string
	MoodTerms           []string
}

// DefaultFieldMap recognizes the payload shapes of the built-in platforms.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		ContentID:            []string{"content_id", "sound_id", "reel_id", "id"},
		UsageCount:           []string{"usage_count", "uses", "views", "plays"},
		GrowthRate:           []string{"growth_rate_pct", "growth_rate"},
		ObservedAt:           []string{"observed_at", "timestamp"},
		EngagementContainers: []string{"engagement", "engagement_metrics", "metrics"},
		Engagement: map[string][]string{
			model.MetricPrimaryReactionRate: {model.MetricPrimaryReactionRate, "likes_per_use", "avg_likes"},
			model.MetricShareRate:           {model.MetricShareRate, "shares_per_use", "avg_shares"},
			model.MetricCompletionRate:      {model.MetricCompletionRate},
			model.MetricSaveRate:            {model.MetricSaveRate},
		},
		AttributeContainers: []string{"attributes", "musical_characteristics", "musical_elements"},
		Tempo:               []string{"bpm", "tempo"},
		KeyOrScale:          []string{"key", "key_or_scale"},
		Category:            []string{"genre", "category"},
		MoodTerms:           []string{"mood", "mood_terms"},
	}
}

// Normalizer converts raw payloads using per-source field maps.
type Normalizer struct {
	fieldMaps  map[string]FieldMap
	defaultMap FieldMap
	now        func() time.Time
}

// NewNormalizer creates a Normalizer with the default field map.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		fieldMaps:  make(map[string]FieldMap),
		defaultMap: DefaultFieldMap(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Normalizer) fieldMap(sourceID string) FieldMap {
	if fm, ok := n.fieldMaps[sourceID]; ok {
		return fm
	}
	return n.defaultMap
}

// Normalize converts one payload. The only failure is *MalformedSignalError,
// returned when content id or usage count cannot be derived.
func (n *Normalizer) Normalize(raw RawPayload, sourceID string) (model.SignalRecord, error) {
	fm := n.fieldMap(sourceID)
	consumed := make(map[string]struct{})

	if sourceID == "" {
		return model.SignalRecord{}, &MalformedSignalError{Field: FieldSourceID, Reason: "empty source id"}
	}

	contentID, ok := lookupString(raw, fm.ContentID, consumed)
	if !ok || contentID == "" {
		return model.SignalRecord{}, &MalformedSignalError{SourceID: sourceID, Field: FieldContentID, Reason: "missing"}
	}

	usage, ok := lookupNumber(raw, fm.UsageCount, consumed)
	switch {
	case !ok:
		return model.SignalRecord{}, &MalformedSignalError{SourceID: sourceID, ContentID: contentID, Field: FieldUsageCount, Reason: "missing or not numeric"}
	case usage < 0:
		return model.SignalRecord{}, &MalformedSignalError{SourceID: sourceID, ContentID: contentID, Field: FieldUsageCount, Reason: "negative"}
	case math.Round(usage) >= maxUsage:
		return model.SignalRecord{}, &MalformedSignalError{SourceID: sourceID, ContentID: contentID, Field: FieldUsageCount, Reason: "out of range"}
	}

	rec := model.SignalRecord{
		SourceID:   sourceID,
		ContentID:  contentID,
		UsageCount: int64(math.Round(usage)),
		ObservedAt: n.observedAt(raw, fm.ObservedAt, consumed),
		Engagement: make(map[string]float64, len(fm.Engagement)),
	}
	if growth, ok := lookupNumber(raw, fm.GrowthRate, consumed); ok {
		rec.GrowthRatePct = growth
	}

	engagement := containers(raw, fm.EngagementContainers, consumed)
	for metric, aliases := range fm.Engagement {
		v, ok := lookupNumberIn(engagement, aliases)
		if !ok {
			v, ok = lookupNumber(raw, aliases, consumed)
		}
		if !ok {
			v = 0
		}
		if metric == model.MetricCompletionRate || metric == model.MetricSaveRate {
			v = clamp(v, 0, 1)
		}
		rec.Engagement[metric] = v
	}

	rec.Attributes = n.attributes(raw, fm, consumed)
	return rec, nil
}

func (n *Normalizer) attributes(raw RawPayload, fm FieldMap, consumed map[string]struct{}) model.Attributes {
	attrs := containers(raw, fm.AttributeContainers, consumed)
	attrConsumed := make(map[string]struct{})

	lookupNum := func(keys []string) (float64, bool) {
		if v, ok := lookupNumber(attrs, keys, attrConsumed); ok {
			return v, true
		}
		return lookupNumber(raw, keys, consumed)
	}
	lookupStr := func(keys []string) (string, bool) {
		if v, ok := lookupString(attrs, keys, attrConsumed); ok {
			return v, true
		}
		return lookupString(raw, keys, consumed)
	}

	out := model.Attributes{Tempo: DefaultTempo, Category: DefaultCategory}
	if tempo, ok := lookupNum(fm.Tempo); ok && tempo > 0 && tempo <= MaxTempo {
		out.Tempo = tempo
	}
	if key, ok := lookupStr(fm.KeyOrScale); ok {
		out.KeyOrScale = strings.TrimSpace(key)
	}
	if cat, ok := lookupStr(fm.Category); ok {
		if cat = strings.ToLower(strings.TrimSpace(cat)); cat != "" {
			out.Category = cat
		}
	}

	moods, ok := lookupAny(attrs, fm.MoodTerms, attrConsumed)
	if !ok {
		moods, _ = lookupAny(raw, fm.MoodTerms, consumed)
	}
	out.MoodTerms = moodTerms(moods)

	extra := make(map[string]any)
	for k, v := range attrs {
		if _, used := attrConsumed[k]; !used {
			extra[k] = v
		}
	}
	for k, v := range raw {
		if _, used := consumed[k]; !used {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		out.Extra = extra
	}
	return out
}

func (n *Normalizer) observedAt(raw RawPayload, keys []string, consumed map[string]struct{}) time.Time {
	v, ok := lookupAny(raw, keys, consumed)
	if !ok {
		return n.now().UTC()
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC()
		}
	}
	if secs, ok := toFloat(v); ok && secs > 0 {
		return time.Unix(int64(secs), 0).UTC()
	}
	return n.now().UTC()
}

// containers merges the nested objects found under keys; earlier keys win.
func containers(raw RawPayload, keys []string, consumed map[string]struct{}) map[string]any {
	out := make(map[string]any)
	for _, k := range keys {
		var nested map[string]any
		switch v := raw[k].(type) {
		case map[string]any:
			nested = v
		case RawPayload:
			nested = v
		default:
			continue
		}
		consumed[k] = struct{}{}
		for nk, nv := range nested {
			if _, exists := out[nk]; !exists {
				out[nk] = nv
			}
		}
	}
	return out
}

func lookupAny(m map[string]any, keys []string, consumed map[string]struct{}) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			consumed[k] = struct{}{}
			return v, true
		}
	}
	return nil, false
}

func lookupNumber(m map[string]any, keys []string, consumed map[string]struct{}) (float64, bool) {
	for _, k := range keys {
		if f, ok := toFloat(m[k]); ok {
			consumed[k] = struct{}{}
			return f, true
		}
	}
	return 0, false
}

func lookupNumberIn(m map[string]any, keys []string) (float64, bool) {
	return lookupNumber(m, keys, make(map[string]struct{}))
}

func lookupString(m map[string]any, keys []string, consumed map[string]struct{}) (string, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			consumed[k] = struct{}{}
			return v, true
		case nil:
			continue
		default:
			if f, ok := toFloat(v); ok {
				consumed[k] = struct{}{}
				return strconv.FormatFloat(f, 'f', -1, 64), true
			}
		}
	}
	return "", false
}

type float64er interface {
	Float64() (float64, error)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		f := float64(n)
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64er:
		f, err := n.Float64()
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

func moodTerms(v any) []string {
	var parts []string
	switch m := v.(type) {
	case string:
		parts = strings.Split(m, ",")
	case []string:
		parts = m
	case []any:
		for _, item := range m {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
