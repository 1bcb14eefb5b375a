package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/trendcast/internal/adapters/generation"
	"github.com/okian/trendcast/internal/adapters/mq/queue"
	"github.com/okian/trendcast/internal/adapters/platform"
	"github.com/okian/trendcast/internal/adapters/repository"
	"github.com/okian/trendcast/internal/adapters/sink"
	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/internal/domain/replication"
	"github.com/okian/trendcast/internal/domain/signal"
	"github.com/okian/trendcast/pkg/logger"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func lofiPayload(id string, growth float64, moods ...any) signal.RawPayload {
	return signal.RawPayload{
		"content_id":      id,
		"usage_count":     100_000,
		"growth_rate_pct": growth,
		"engagement": map[string]any{
			"primary_reaction_rate": 600.0,
			"share_rate":            60.0,
			"completion_rate":       0.6,
			"save_rate":             0.06,
		},
		"attributes": map[string]any{
			"tempo":        84,
			"category":     "lofi",
			"key_or_scale": "C minor",
			"mood_terms":   moods,
		},
	}
}

func scenarioAdapters() []platform.Adapter {
	quiet := platform.WithLogger(logger.Discard())
	return []platform.Adapter{
		platform.NewStaticAdapter("tiktok", []signal.RawPayload{
			lofiPayload("a", 40, "chill"),
			{"content_id": "broken"},
		}, quiet),
		platform.NewStaticAdapter("instagram", []signal.RawPayload{
			lofiPayload("b", 60, "chill", "nostalgic"),
		}, quiet),
		platform.NewStaticAdapter("youtube", []signal.RawPayload{
			{"content_id": "solo", "usage_count": 500, "attributes": map[string]any{"tempo": 140, "category": "trap"}},
		}, quiet),
	}
}

func newScenario(clock *fakeClock, opts ...Option) *Service {
	base := []Option{
		WithAdapters(scenarioAdapters()...),
		WithClock(clock.Now),
		WithLogger(logger.Discard()),
		WithDeliveryWorkers(2),
	}
	return New(append(base, opts...)...)
}

func TestService_Cycle(t *testing.T) {
	Convey("Given a service over three static sources", t, func() {
		ctx := context.Background()
		clock := &fakeClock{t: t0}
		s := newScenario(clock)
		defer func() { _ = s.Close() }()

		Convey("When a cycle runs", func() {
			report, err := s.RunCycle(ctx)
			So(err, ShouldBeNil)

			Convey("Then one corroborated lofi trend is persisted", func() {
				So(report.Signatures, ShouldHaveLength, 1)
				sig := report.Signatures[0]
				So(sig.Sources, ShouldResemble, []string{"instagram", "tiktok"})
				So(sig.ViralVelocity, ShouldAlmostEqual, 88.0, 1e-9)
				So(sig.Confidence, ShouldAlmostEqual, (2.0/7.0)*(1-25.0/100), 1e-9)
				So(sig.BucketKey, ShouldResemble, model.BucketKey{Category: "lofi", TempoBand: 80})

				listed, err := s.Signatures(ctx)
				So(err, ShouldBeNil)
				So(listed, ShouldHaveLength, 1)
				So(listed[0].TrendID, ShouldEqual, sig.TrendID)
			})

			Convey("Then the report accounts for every payload", func() {
				So(report.Normalized, ShouldEqual, 3)
				So(report.Fresh, ShouldEqual, 3)
				So(report.Malformed, ShouldEqual, 1)
				So(report.Clusters, ShouldEqual, 1)
				So(report.SingleSource, ShouldEqual, 1)
				So(report.Sources, ShouldHaveLength, 3)
				So(report.Sources["tiktok"].Records, ShouldEqual, 2)
			})

			Convey("And the same payloads are seen again", func() {
				again, err := s.RunCycle(ctx)
				So(err, ShouldBeNil)

				Convey("Then they count as repeats and the same trend is refreshed", func() {
					So(again.Repeats, ShouldEqual, 3)
					So(again.Fresh, ShouldEqual, 0)
					So(again.Signatures, ShouldHaveLength, 1)
					So(again.Signatures[0].TrendID, ShouldEqual, report.Signatures[0].TrendID)
					So(again.Signatures[0].CreatedAt, ShouldEqual, report.Signatures[0].CreatedAt)
					listed, _ := s.Signatures(ctx)
					So(listed, ShouldHaveLength, 1)
				})
			})

			Convey("And the peak passes", func() {
				clock.Advance(30 * 24 * time.Hour)
				later, err := s.RunCycle(ctx)
				So(err, ShouldBeNil)

				Convey("Then the trend is expired and can no longer be planned", func() {
					So(later.Expired, ShouldResemble, []string{report.Signatures[0].TrendID})
					_, err := s.Plan(ctx, report.Signatures[0].TrendID, replication.PlanRequest{})
					So(errors.Is(err, ErrSignatureExpired), ShouldBeTrue)
				})
			})
		})

		Convey("When the cycle context is already cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err := s.RunCycle(cancelled)

			Convey("Then nothing is persisted and the next cycle sees the records as new", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				listed, _ := s.Signatures(ctx)
				So(listed, ShouldBeEmpty)

				report, err := s.RunCycle(ctx)
				So(err, ShouldBeNil)
				So(report.Repeats, ShouldEqual, 0)
				So(report.Signatures, ShouldHaveLength, 1)
			})
		})
	})
}

// switchAdapter serves whatever payloads were set last.
type switchAdapter struct {
	id       string
	mu       sync.Mutex
	payloads []signal.RawPayload
}

func (a *switchAdapter) Set(payloads ...signal.RawPayload) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payloads = payloads
}

func (a *switchAdapter) SourceID() string         { return a.id }
func (a *switchAdapter) ReachMultiplier() float64 { return 1 }
func (a *switchAdapter) RateLimit() int           { return 0 }
func (a *switchAdapter) FetchTrending(context.Context, time.Duration) ([]signal.RawPayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]signal.RawPayload(nil), a.payloads...), nil
}

func TestService_CrossCycleHistory(t *testing.T) {
	Convey("Given two sources whose payloads change between cycles", t, func() {
		ctx := context.Background()
		clock := &fakeClock{t: t0}
		tiktok := &switchAdapter{id: "tiktok"}
		instagram := &switchAdapter{id: "instagram"}
		s := New(WithAdapters(tiktok, instagram), WithClock(clock.Now), WithLogger(logger.Discard()))
		defer func() { _ = s.Close() }()

		Convey("When tiktok reports first and instagram joins a cycle later", func() {
			tiktok.Set(lofiPayload("a", 40, "chill"))
			first, err := s.RunCycle(ctx)
			So(err, ShouldBeNil)

			clock.Advance(5 * time.Minute)
			instagram.Set(lofiPayload("b", 60, "chill", "nostalgic"))
			second, err := s.RunCycle(ctx)
			So(err, ShouldBeNil)

			Convey("Then the repeat still corroborates the new record", func() {
				So(first.Signatures, ShouldBeEmpty)
				So(first.SingleSource, ShouldEqual, 1)

				So(second.Repeats, ShouldEqual, 1)
				So(second.Fresh, ShouldEqual, 1)
				So(second.Signatures, ShouldHaveLength, 1)
				So(second.Signatures[0].Sources, ShouldResemble, []string{"instagram", "tiktok"})
				So(second.Signatures[0].ViralVelocity, ShouldAlmostEqual, 88.0, 1e-9)
			})
		})

		Convey("When a detected trend is re-scanned with faster growth", func() {
			tiktok.Set(lofiPayload("a", 40, "chill"))
			instagram.Set(lofiPayload("b", 60, "chill", "nostalgic"))
			first, err := s.RunCycle(ctx)
			So(err, ShouldBeNil)
			So(first.Signatures, ShouldHaveLength, 1)

			clock.Advance(5 * time.Minute)
			tiktok.Set(lofiPayload("a", 90, "chill"))
			instagram.Set(lofiPayload("b", 95, "chill", "nostalgic"))
			second, err := s.RunCycle(ctx)
			So(err, ShouldBeNil)

			Convey("Then the stored signature carries the new velocity under the same id", func() {
				So(second.Repeats, ShouldEqual, 2)
				So(second.Signatures, ShouldHaveLength, 1)

				stored, err := s.Signature(ctx, first.Signatures[0].TrendID)
				So(err, ShouldBeNil)
				So(stored.ViralVelocity, ShouldAlmostEqual, 130.5, 1e-9)
				So(stored.CreatedAt, ShouldEqual, first.Signatures[0].CreatedAt)
				So(stored.UpdatedAt, ShouldHappenAfter, first.Signatures[0].UpdatedAt)
			})
		})
	})
}

// contendedStore fails ExpireSignatures with a conflict the first n times.
type contendedStore struct {
	repository.Store
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (c *contendedStore) ExpireSignatures(ctx context.Context, now time.Time) ([]string, error) {
	c.mu.Lock()
	c.calls++
	fail := c.calls <= c.conflicts
	c.mu.Unlock()
	if fail {
		return nil, &repository.PersistenceConflictError{Entity: repository.EntitySignature, Reason: "concurrent transaction"}
	}
	return c.Store.ExpireSignatures(ctx, now)
}

func TestService_ExpiryConflicts(t *testing.T) {
	Convey("Given a persisted trend whose peak has passed", t, func() {
		ctx := context.Background()
		clock := &fakeClock{t: t0}
		store := &contendedStore{Store: repository.NewMemoryStore(repository.WithClock(clock.Now))}
		s := newScenario(clock, WithStore(store))
		defer func() { _ = s.Close() }()

		first, err := s.RunCycle(ctx)
		So(err, ShouldBeNil)
		So(first.Signatures, ShouldHaveLength, 1)
		clock.Advance(30 * 24 * time.Hour)
		store.calls = 0

		Convey("When expiry conflicts once", func() {
			store.conflicts = 1
			report, err := s.RunCycle(ctx)

			Convey("Then it is retried and the trend expires", func() {
				So(err, ShouldBeNil)
				So(store.calls, ShouldEqual, 2)
				So(report.Expired, ShouldResemble, []string{first.Signatures[0].TrendID})
			})
		})

		Convey("When expiry keeps conflicting", func() {
			store.conflicts = 2
			report, err := s.RunCycle(ctx)

			Convey("Then the cycle still completes without expiring anything", func() {
				So(err, ShouldBeNil)
				So(store.calls, ShouldEqual, 2)
				So(report.Expired, ShouldBeEmpty)
				So(report.Signatures, ShouldHaveLength, 1)
			})
		})
	})
}

type gateAdapter struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateAdapter) SourceID() string         { return "gate" }
func (g *gateAdapter) ReachMultiplier() float64 { return 1 }
func (g *gateAdapter) RateLimit() int           { return 0 }
func (g *gateAdapter) FetchTrending(ctx context.Context, _ time.Duration) ([]signal.RawPayload, error) {
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func TestService_CycleGuards(t *testing.T) {
	Convey("Given a cycle blocked inside a fetch", t, func() {
		gate := &gateAdapter{entered: make(chan struct{}), release: make(chan struct{})}
		s := New(WithAdapters(gate), WithLogger(logger.Discard()))

		done := make(chan error, 1)
		go func() {
			_, err := s.RunCycle(context.Background())
			done <- err
		}()
		<-gate.entered

		Convey("When another cycle is requested", func() {
			_, err := s.RunCycle(context.Background())
			close(gate.release)

			Convey("Then it is refused while the first completes", func() {
				So(errors.Is(err, ErrCycleRunning), ShouldBeTrue)
				So(<-done, ShouldBeNil)
			})
		})
	})

	Convey("Given a source limited to one call per minute", t, func() {
		a := platform.NewStaticAdapter("tiktok", nil, platform.WithRateLimit(1), platform.WithLogger(logger.Discard()))
		s := New(WithAdapters(a), WithLogger(logger.Discard()))

		Convey("When two cycles run back to back", func() {
			first, err := s.RunCycle(context.Background())
			So(err, ShouldBeNil)
			second, err := s.RunCycle(context.Background())
			So(err, ShouldBeNil)

			Convey("Then the second skips the source", func() {
				So(first.Sources["tiktok"].Skipped, ShouldBeFalse)
				So(second.Sources["tiktok"].Skipped, ShouldBeTrue)
			})
		})
	})
}

func TestService_PlanAndDeliver(t *testing.T) {
	Convey("Given a persisted lofi trend", t, func() {
		ctx := context.Background()
		clock := &fakeClock{t: t0}
		ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, sink.NewWatermillLogger(logger.Discard()))
		defer func() { _ = ps.Close() }()
		tiktokMsgs, err := ps.Subscribe(ctx, sink.Topic("tiktok"))
		So(err, ShouldBeNil)

		s := newScenario(clock, WithSinks(sink.NewPubSubSink("tiktok", ps, sink.WithLogger(logger.Discard()))))
		report, err := s.RunCycle(ctx)
		So(err, ShouldBeNil)
		So(report.Signatures, ShouldHaveLength, 1)
		trendID := report.Signatures[0].TrendID

		Convey("When it is planned", func() {
			opp, err := s.Plan(ctx, trendID, replication.PlanRequest{StyleID: "LoFi Luna"})
			So(err, ShouldBeNil)

			Convey("Then a winner is selected and stored", func() {
				So(opp.Status, ShouldEqual, model.OpportunitySelected)
				So(opp.Version, ShouldEqual, 1)
				So(opp.TargetSources, ShouldResemble, []string{"instagram", "tiktok"})
				So(opp.Variants, ShouldHaveLength, 3)
				winner, ok := opp.Winner()
				So(ok, ShouldBeTrue)
				So(winner.PlatformAdjustments, ShouldContainKey, "tiktok")
				So(winner.PlatformAdjustments["tiktok"].Tags, ShouldContain, "#lofiluna")

				stored, err := s.Opportunity(ctx, opp.OpportunityID)
				So(err, ShouldBeNil)
				So(stored.SelectedVariantIndex, ShouldEqual, opp.SelectedVariantIndex)
			})

			Convey("Then the trend is marked exploited", func() {
				sig, err := s.Signature(ctx, trendID)
				So(err, ShouldBeNil)
				So(sig.Status, ShouldEqual, model.SignatureExploited)
			})

			Convey("And planned again", func() {
				again, err := s.Plan(ctx, trendID, replication.PlanRequest{StyleID: "LoFi Luna"})

				Convey("Then the stored opportunity is returned unchanged", func() {
					So(err, ShouldBeNil)
					So(again.OpportunityID, ShouldEqual, opp.OpportunityID)
					So(again.Version, ShouldEqual, 1)
					list, _ := s.Opportunities(ctx, trendID)
					So(list, ShouldHaveLength, 1)
				})
			})

			Convey("And delivered", func() {
				queued, err := s.Deliver(ctx, opp.OpportunityID)
				So(err, ShouldBeNil)
				So(queued, ShouldResemble, []string{"instagram", "tiktok"})
				So(s.queue.Len(), ShouldEqual, 2)

				for _, src := range queued {
					So(s.HandleDelivery(ctx, queue.Job{OpportunityID: opp.OpportunityID, TrendID: trendID, SourceID: src}), ShouldBeNil)
				}

				Convey("Then every target is recorded and the opportunity is delivered", func() {
					got, err := s.Opportunity(ctx, opp.OpportunityID)
					So(err, ShouldBeNil)
					So(got.Status, ShouldEqual, model.OpportunityDelivered)
					So(got.Deliveries, ShouldHaveLength, 2)
					So(got.Deliveries["instagram"].DeliveryRef, ShouldStartWith, "log/")
					So(got.Deliveries["tiktok"].DeliveryRef, ShouldStartWith, sink.Topic("tiktok")+"/")
				})

				Convey("Then the tiktok copy is published", func() {
					select {
					case msg := <-tiktokMsgs:
						msg.Ack()
						So(msg.Metadata.Get("source_id"), ShouldEqual, "tiktok")
					case <-time.After(2 * time.Second):
						So("no message published", ShouldBeEmpty)
					}
				})

				Convey("Then a repeated delivery is a no-op", func() {
					So(s.HandleDelivery(ctx, queue.Job{OpportunityID: opp.OpportunityID, SourceID: "tiktok"}), ShouldBeNil)
					requeued, err := s.Deliver(ctx, opp.OpportunityID)
					So(err, ShouldBeNil)
					So(requeued, ShouldBeEmpty)
				})
			})

			Convey("And delivered to a source outside its targets", func() {
				_, err := s.Deliver(ctx, opp.OpportunityID, "youtube")
				So(errors.Is(err, ErrUnknownTarget), ShouldBeTrue)
			})
		})

		Convey("When planned for a source that did not report the trend", func() {
			_, err := s.Plan(ctx, trendID, replication.PlanRequest{Targets: []string{"youtube"}})
			So(errors.Is(err, replication.ErrInvalidTargets), ShouldBeTrue)
		})

		Convey("When an unknown trend is planned", func() {
			_, err := s.Plan(ctx, "missing", replication.PlanRequest{})
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_PlanRetry(t *testing.T) {
	Convey("Given a backend that fails its first three calls", t, func() {
		ctx := context.Background()
		clock := &fakeClock{t: t0}
		backend := generation.NewFlaky(generation.NewHeuristic(), 3)
		s := newScenario(clock, WithBackend(backend))
		report, err := s.RunCycle(ctx)
		So(err, ShouldBeNil)
		trendID := report.Signatures[0].TrendID

		Convey("When the first plan loses every variant", func() {
			failed, err := s.Plan(ctx, trendID, replication.PlanRequest{})

			Convey("Then the pending opportunity is stored and cannot be delivered", func() {
				So(errors.Is(err, replication.ErrAllVariantsFailed), ShouldBeTrue)
				So(failed.Status, ShouldEqual, model.OpportunityPending)
				So(failed.Version, ShouldEqual, 1)

				_, err = s.Deliver(ctx, failed.OpportunityID)
				So(errors.Is(err, ErrNotSelected), ShouldBeTrue)

				sig, _ := s.Signature(ctx, trendID)
				So(sig.Status, ShouldEqual, model.SignatureActive)
			})

			Convey("And the retry succeeds", func() {
				retried, err := s.Plan(ctx, trendID, replication.PlanRequest{})

				Convey("Then the same opportunity moves forward", func() {
					So(err, ShouldBeNil)
					So(retried.OpportunityID, ShouldEqual, failed.OpportunityID)
					So(retried.Status, ShouldEqual, model.OpportunitySelected)
					So(retried.Version, ShouldEqual, 2)
					for i := range retried.Variants {
						So(retried.Variants[i].VariantID, ShouldEqual, failed.Variants[i].VariantID)
					}
				})
			})
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s := newScenario(&fakeClock{t: t0}, WithPollInterval(time.Hour))
		So(s.Start(ctx), ShouldBeNil)

		Convey("When the first cycle and a delivery complete", func() {
			var sigs []model.TrendSignature
			for deadline := time.Now().Add(5 * time.Second); len(sigs) == 0 && time.Now().Before(deadline); {
				time.Sleep(10 * time.Millisecond)
				sigs, _ = s.Signatures(ctx)
			}
			So(sigs, ShouldHaveLength, 1)

			opp, err := s.Plan(ctx, sigs[0].TrendID, replication.PlanRequest{})
			So(err, ShouldBeNil)
			_, err = s.Deliver(ctx, opp.OpportunityID)
			So(err, ShouldBeNil)

			var got model.Opportunity
			for deadline := time.Now().Add(5 * time.Second); got.Status != model.OpportunityDelivered && time.Now().Before(deadline); {
				time.Sleep(10 * time.Millisecond)
				got, _ = s.Opportunity(ctx, opp.OpportunityID)
			}

			Convey("Then the workers delivered it and the service stops cleanly", func() {
				So(got.Status, ShouldEqual, model.OpportunityDelivered)
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer stopCancel()
				So(s.Stop(stopCtx), ShouldBeNil)
				So(s.Close(), ShouldBeNil)
			})
		})
	})
}
