package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/trendcast/internal/domain/model"
)

func TestHeuristic(t *testing.T) {
	convey.Convey("Given the heuristic backend", t, func() {
		b := NewHeuristic()
		req := model.GenerationRequest{TrendID: "abc", StyleID: "luna", Perturbation: "baseline", Prompt: "p"}

		convey.Convey("When the same request is generated twice", func() {
			a1, err1 := b.Generate(context.Background(), req)
			a2, err2 := b.Generate(context.Background(), req)

			convey.Convey("Then the artifact is identical and carries no prediction", func() {
				convey.So(err1, convey.ShouldBeNil)
				convey.So(err2, convey.ShouldBeNil)
				convey.So(a1, convey.ShouldResemble, a2)
				convey.So(a1.Prediction, convey.ShouldBeNil)
				convey.So(a1.DurationSec, convey.ShouldEqual, DefaultDurationSec)
			})
		})

		convey.Convey("When the perturbation differs", func() {
			a1, _ := b.Generate(context.Background(), req)
			req.Perturbation = "energy"
			a2, _ := b.Generate(context.Background(), req)
			convey.So(a1.Ref, convey.ShouldNotEqual, a2.Ref)
		})

		convey.Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := b.Generate(ctx, req)
			convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
		})
	})
}

func TestFlaky(t *testing.T) {
	convey.Convey("Given a backend that fails twice", t, func() {
		f := NewFlaky(NewHeuristic(), 2)
		ctx := context.Background()

		convey.Convey("Then the first two calls fail and the third succeeds", func() {
			_, err := f.Generate(ctx, model.GenerationRequest{})
			convey.So(errors.Is(err, ErrBackendUnavailable), convey.ShouldBeTrue)
			_, err = f.Generate(ctx, model.GenerationRequest{})
			convey.So(errors.Is(err, ErrBackendUnavailable), convey.ShouldBeTrue)
			_, err = f.Generate(ctx, model.GenerationRequest{})
			convey.So(err, convey.ShouldBeNil)
			convey.So(f.Calls(), convey.ShouldEqual, 3)
		})
	})
}
