package sink

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/pkg/logger"
)

var deliveredAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func winner() (model.Variant, model.PlatformAdjustment) {
	v := model.Variant{
		VariantID:   "v-1",
		ArtifactRef: "artifact://t/1",
		DurationSec: 60,
		Parameters:  model.GenerationRequest{TrendID: "t"},
	}
	adj := model.PlatformAdjustment{
		SourceID:    "tiktok",
		ArtifactRef: "artifact://t/1?platform=tiktok",
		DurationSec: 15,
		HookAtSec:   2,
		Tags:        []string{"#viral"},
	}
	return v, adj
}

func TestPubSubSink(t *testing.T) {
	Convey("Given a pub/sub sink over an in-process channel", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ps := NewInProcessPubSub(logger.Discard())
		defer func() { _ = ps.Close() }()
		messages, err := ps.Subscribe(ctx, Topic("tiktok"))
		So(err, ShouldBeNil)

		s := NewPubSubSink("tiktok", ps, WithClock(func() time.Time { return deliveredAt }), WithLogger(logger.Discard()))

		Convey("When an artifact is adapted", func() {
			v, adj := winner()
			delivered, err := s.Adapt(ctx, v, adj)
			So(err, ShouldBeNil)

			Convey("Then the descriptor names the topic and message", func() {
				So(delivered.SourceID, ShouldEqual, "tiktok")
				So(delivered.VariantID, ShouldEqual, "v-1")
				So(delivered.DeliveryRef, ShouldEqual, "deliveries.tiktok/"+DeliveryID("v-1", "tiktok"))
				So(delivered.DeliveredAt, ShouldEqual, deliveredAt)
			})

			Convey("Then a subscriber receives the adjusted artifact", func() {
				var msg Message
				select {
				case m := <-messages:
					m.Ack()
					So(m.UUID, ShouldEqual, DeliveryID("v-1", "tiktok"))
					So(m.Metadata.Get("variant_id"), ShouldEqual, "v-1")
					So(json.Unmarshal(m.Payload, &msg), ShouldBeNil)
				case <-ctx.Done():
					So(ctx.Err(), ShouldBeNil)
				}
				So(msg.ArtifactRef, ShouldEqual, adj.ArtifactRef)
				So(msg.DurationSec, ShouldEqual, 15.0)
				So(msg.TrendID, ShouldEqual, "t")
			})
		})
	})
}

func TestLogSink(t *testing.T) {
	Convey("Given a log sink", t, func() {
		s := NewLogSink("instagram", WithClock(func() time.Time { return deliveredAt }), WithLogger(logger.Discard()))

		Convey("When an artifact is adapted", func() {
			v, adj := winner()
			delivered, err := s.Adapt(context.Background(), v, adj)

			Convey("Then it reports a log reference", func() {
				So(err, ShouldBeNil)
				So(delivered.SourceID, ShouldEqual, "instagram")
				So(delivered.DeliveryRef, ShouldStartWith, "log/")
			})
		})
	})
}
