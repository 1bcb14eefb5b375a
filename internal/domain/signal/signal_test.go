package signal_test

import (
	"errors"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/okian/trendcast/internal/domain/cluster"
	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/internal/domain/signal"
	. "github.com/smartystreets/goconvey/convey"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newNormalizer(opts ...signal.Option) *signal.Normalizer {
	opts = append([]signal.Option{signal.WithClock(func() time.Time { return fixedNow })}, opts...)
	return signal.NewNormalizer(opts...)
}

func TestNormalize_CanonicalShape(t *testing.T) {
	Convey("Given a payload already in the canonical shape", t, func() {
		n := newNormalizer()
		raw := signal.RawPayload{
			"content_id":      "c-1",
			"usage_count":     1000000,
			"growth_rate_pct": 50.0,
			"observed_at":     "2026-02-28T10:00:00Z",
			"engagement": map[string]any{
				"primary_reaction_rate": 1250.0,
				"share_rate":            150.0,
				"completion_rate":       0.75,
				"save_rate":             0.12,
			},
			"attributes": map[string]any{
				"tempo":        84,
				"key_or_scale": "C minor",
				"category":     "LoFi ",
				"mood_terms":   []any{"Chill", "nostalgic"},
				"instrument":   "rhodes",
			},
		}

		Convey("When it is normalized", func() {
			rec, err := n.Normalize(raw, "tiktok")

			Convey("Then every field is mapped", func() {
				So(err, ShouldBeNil)
				So(rec.SourceID, ShouldEqual, "tiktok")
				So(rec.ContentID, ShouldEqual, "c-1")
				So(rec.UsageCount, ShouldEqual, 1000000)
				So(rec.GrowthRatePct, ShouldEqual, 50.0)
				So(rec.ObservedAt, ShouldEqual, time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC))
				So(rec.Metric(model.MetricPrimaryReactionRate), ShouldEqual, 1250.0)
				So(rec.Metric(model.MetricShareRate), ShouldEqual, 150.0)
				So(rec.Metric(model.MetricCompletionRate), ShouldEqual, 0.75)
				So(rec.Metric(model.MetricSaveRate), ShouldEqual, 0.12)
				So(rec.Attributes.Tempo, ShouldEqual, 84.0)
				So(rec.Attributes.KeyOrScale, ShouldEqual, "C minor")
				So(rec.Attributes.Category, ShouldEqual, "lofi")
				So(rec.Attributes.MoodTerms, ShouldResemble, []string{"chill", "nostalgic"})
			})

			Convey("Then unrecognized attributes pass through untouched", func() {
				So(rec.Attributes.Extra, ShouldContainKey, "instrument")
				So(rec.Attributes.Extra["instrument"], ShouldEqual, "rhodes")
			})
		})
	})
}

func TestNormalize_PlatformAliases(t *testing.T) {
	Convey("Given payloads shaped like the built-in platforms", t, func() {
		n := newNormalizer()

		Convey("When a sound payload uses per-use metrics and musical characteristics", func() {
			raw := signal.RawPayload{
				"sound_id":    "s-9",
				"uses":        "25000",
				"growth_rate": 120,
				"engagement_metrics": map[string]any{
					"likes_per_use":   700,
					"shares_per_use":  60,
					"completion_rate": 1.4,
					"save_rate":       -0.2,
				},
				"musical_characteristics": map[string]any{
					"bpm":   141,
					"key":   "F# minor",
					"genre": "trap",
					"mood":  "dark, aggressive ,",
				},
				"name": "untitled",
			}
			rec, err := n.Normalize(raw, "tiktok")

			Convey("Then aliases resolve to recognized fields", func() {
				So(err, ShouldBeNil)
				So(rec.ContentID, ShouldEqual, "s-9")
				So(rec.UsageCount, ShouldEqual, 25000)
				So(rec.GrowthRatePct, ShouldEqual, 120.0)
				So(rec.Metric(model.MetricPrimaryReactionRate), ShouldEqual, 700.0)
				So(rec.Metric(model.MetricShareRate), ShouldEqual, 60.0)
				So(rec.Attributes.Tempo, ShouldEqual, 141.0)
				So(rec.Attributes.Category, ShouldEqual, "trap")
				So(rec.Attributes.MoodTerms, ShouldResemble, []string{"dark", "aggressive"})
				So(rec.Attributes.Extra["name"], ShouldEqual, "untitled")
			})

			Convey("Then bounded rates are clamped to [0,1]", func() {
				So(rec.Metric(model.MetricCompletionRate), ShouldEqual, 1.0)
				So(rec.Metric(model.MetricSaveRate), ShouldEqual, 0.0)
			})
		})

		Convey("When a reel payload is decoded from JSON", func() {
			var raw signal.RawPayload
			err := gojson.Unmarshal([]byte(`{"reel_id": 778, "views": 5e5, "timestamp": 1767225600,
				"metrics": {"avg_likes": 120.5, "avg_shares": 11}}`), &raw)
			So(err, ShouldBeNil)
			rec, err := n.Normalize(raw, "instagram")

			Convey("Then numbers and unix timestamps are accepted", func() {
				So(err, ShouldBeNil)
				So(rec.ContentID, ShouldEqual, "778")
				So(rec.UsageCount, ShouldEqual, 500000)
				So(rec.ObservedAt, ShouldEqual, time.Unix(1767225600, 0).UTC())
				So(rec.Metric(model.MetricPrimaryReactionRate), ShouldEqual, 120.5)
			})

			Convey("Then missing attributes take their defaults", func() {
				So(rec.Attributes.Tempo, ShouldEqual, signal.DefaultTempo)
				So(rec.Attributes.Category, ShouldEqual, signal.DefaultCategory)
				So(rec.Attributes.KeyOrScale, ShouldBeEmpty)
				So(rec.Attributes.MoodTerms, ShouldBeEmpty)
				So(rec.Metric(model.MetricCompletionRate), ShouldEqual, 0.0)
				So(rec.ObservedAt, ShouldNotEqual, fixedNow)
			})
		})

		Convey("When the payload carries no timestamp", func() {
			rec, err := n.Normalize(signal.RawPayload{"id": "x", "plays": 1}, "youtube")

			Convey("Then the clock supplies it", func() {
				So(err, ShouldBeNil)
				So(rec.ObservedAt, ShouldEqual, fixedNow)
			})
		})
	})
}

func TestNormalize_Malformed(t *testing.T) {
	Convey("Given payloads that cannot be normalized", t, func() {
		n := newNormalizer()

		cases := []struct {
			name  string
			raw   signal.RawPayload
			field string
		}{
			{"missing content id", signal.RawPayload{"usage_count": 10}, signal.FieldContentID},
			{"empty content id", signal.RawPayload{"content_id": "", "usage_count": 10}, signal.FieldContentID},
			{"missing usage", signal.RawPayload{"content_id": "a"}, signal.FieldUsageCount},
			{"non-numeric usage", signal.RawPayload{"content_id": "a", "usage_count": "lots"}, signal.FieldUsageCount},
			{"negative usage", signal.RawPayload{"content_id": "a", "usage_count": -1}, signal.FieldUsageCount},
			{"usage beyond int64", signal.RawPayload{"content_id": "a", "usage_count": 1e20}, signal.FieldUsageCount},
			{"usage at 2^63", signal.RawPayload{"content_id": "a", "usage_count": "9223372036854775808"}, signal.FieldUsageCount},
			{"non-finite usage", signal.RawPayload{"content_id": "a", "usage_count": "Inf"}, signal.FieldUsageCount},
		}

		for _, tc := range cases {
			Convey("When the payload has "+tc.name, func() {
				_, err := n.Normalize(tc.raw, "tiktok")

				Convey("Then a MalformedSignalError names the field", func() {
					So(errors.Is(err, signal.ErrMalformedSignal), ShouldBeTrue)
					var me *signal.MalformedSignalError
					So(errors.As(err, &me), ShouldBeTrue)
					So(me.Field, ShouldEqual, tc.field)
					So(me.SourceID, ShouldEqual, "tiktok")
				})
			})
		}

		Convey("When the source id is empty", func() {
			_, err := n.Normalize(signal.RawPayload{"content_id": "a", "usage_count": 1}, "")
			So(errors.Is(err, signal.ErrMalformedSignal), ShouldBeTrue)
		})
	})
}

func TestNormalize_Bounds(t *testing.T) {
	Convey("Given payloads at the edges of the numeric ranges", t, func() {
		n := newNormalizer()

		Convey("When usage is large but fits an int64", func() {
			rec, err := n.Normalize(signal.RawPayload{"content_id": "a", "usage_count": 1e18}, "tiktok")
			So(err, ShouldBeNil)
			So(rec.UsageCount, ShouldEqual, int64(1e18))
		})

		Convey("When the tempo is absurdly fast", func() {
			rec, err := n.Normalize(signal.RawPayload{
				"content_id":  "a",
				"usage_count": 10,
				"attributes":  map[string]any{"tempo": 1e300, "category": "trap"},
			}, "tiktok")
			So(err, ShouldBeNil)
			So(rec.Attributes.Tempo, ShouldEqual, signal.DefaultTempo)
			So(cluster.KeyFor(rec).TempoBand, ShouldEqual, 120)
		})

		Convey("When the tempo is at the ceiling", func() {
			rec, err := n.Normalize(signal.RawPayload{
				"content_id":  "a",
				"usage_count": 10,
				"bpm":         signal.MaxTempo,
			}, "tiktok")
			So(err, ShouldBeNil)
			So(rec.Attributes.Tempo, ShouldEqual, signal.MaxTempo)
		})
	})
}

func TestNormalize_SourceFieldMap(t *testing.T) {
	Convey("Given a source with its own field map", t, func() {
		fm := signal.DefaultFieldMap()
		fm.ContentID = []string{"track"}
		fm.UsageCount = []string{"streams"}
		n := newNormalizer(signal.WithFieldMap("spotify", fm))

		Convey("When that source's payload is normalized", func() {
			rec, err := n.Normalize(signal.RawPayload{"track": "t-1", "streams": 42}, "spotify")

			Convey("Then the source map is used", func() {
				So(err, ShouldBeNil)
				So(rec.ContentID, ShouldEqual, "t-1")
				So(rec.UsageCount, ShouldEqual, 42)
			})
		})

		Convey("When another source sends the same shape", func() {
			_, err := n.Normalize(signal.RawPayload{"track": "t-1", "streams": 42}, "tiktok")

			Convey("Then the default map rejects it", func() {
				So(errors.Is(err, signal.ErrMalformedSignal), ShouldBeTrue)
			})
		})
	})
}
