package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signature(id string, velocity float64, peakIn time.Duration) model.TrendSignature {
	return model.TrendSignature{
		TrendID:         id,
		BucketKey:       model.BucketKey{Category: "lofi", TempoBand: 80},
		Sources:         []string{"instagram", "tiktok"},
		ViralVelocity:   velocity,
		Confidence:      0.2,
		PredictedPeakAt: t0.Add(peakIn),
		Status:          model.SignatureActive,
		MemberCount:     2,
		CreatedAt:       t0,
		UpdatedAt:       t0,
	}
}

func opportunity(id, trendID string) model.Opportunity {
	return model.Opportunity{
		OpportunityID:        id,
		TrendID:              trendID,
		TargetSources:        []string{"tiktok"},
		StyleID:              "default",
		SelectedVariantIndex: model.NoSelection,
		Status:               model.OpportunityPending,
		CreatedAt:            t0,
		UpdatedAt:            t0,
	}
}

type storeFactory func(t *testing.T) Store

func storeFactories() map[string]storeFactory {
	opts := []Option{WithClock(func() time.Time { return t0 }), WithLogger(logger.Discard())}
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore(opts...)
		},
		"badger": func(t *testing.T) Store {
			db, err := OpenBadger("")
			if err != nil {
				t.Fatalf("open badger: %v", err)
			}
			s := NewBadgerStore(db, opts...)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range storeFactories() {
		Convey(fmt.Sprintf("Given a %s store", name), t, func() {
			ctx := context.Background()
			s := factory(t)

			Convey("When a signature is upserted", func() {
				stored, err := s.UpsertSignature(ctx, signature("t1", 40, 24*time.Hour))
				So(err, ShouldBeNil)
				So(stored.TrendID, ShouldEqual, "t1")

				Convey("Then it can be read back", func() {
					got, err := s.GetSignature(ctx, "t1")
					So(err, ShouldBeNil)
					So(got.ViralVelocity, ShouldEqual, 40.0)
					So(got.Sources, ShouldResemble, []string{"instagram", "tiktok"})
				})

				Convey("And a re-scan refreshes metrics but keeps creation time", func() {
					rescan := signature("t1", 55, 20*time.Hour)
					rescan.CreatedAt = t0.Add(time.Hour)
					got, err := s.UpsertSignature(ctx, rescan)
					So(err, ShouldBeNil)
					So(got.ViralVelocity, ShouldEqual, 55.0)
					So(got.CreatedAt.Equal(t0), ShouldBeTrue)
				})

				Convey("And a re-scan after exploitation keeps the status", func() {
					_, err := s.TransitionSignature(ctx, "t1", model.SignatureActive, model.SignatureExploited)
					So(err, ShouldBeNil)
					got, err := s.UpsertSignature(ctx, signature("t1", 60, 20*time.Hour))
					So(err, ShouldBeNil)
					So(got.Status, ShouldEqual, model.SignatureExploited)
				})
			})

			Convey("When an unknown signature is read", func() {
				_, err := s.GetSignature(ctx, "nope")

				Convey("Then ErrNotFound is returned", func() {
					So(errors.Is(err, ErrNotFound), ShouldBeTrue)
				})
			})

			Convey("When several signatures are active", func() {
				for _, sig := range []model.TrendSignature{
					signature("b", 30, 24*time.Hour),
					signature("a", 30, 24*time.Hour),
					signature("c", 80, 24*time.Hour),
					signature("stale", 99, -time.Hour),
				} {
					_, err := s.UpsertSignature(ctx, sig)
					So(err, ShouldBeNil)
				}

				Convey("Then they list by velocity desc then id asc", func() {
					list, err := s.ListActiveSignatures(ctx, t0)
					So(err, ShouldBeNil)
					ids := make([]string, 0, len(list))
					for _, sig := range list {
						ids = append(ids, sig.TrendID)
					}
					So(ids, ShouldResemble, []string{"c", "a", "b"})
				})

				Convey("Then stale signatures are expired", func() {
					expired, err := s.ExpireSignatures(ctx, t0)
					So(err, ShouldBeNil)
					So(expired, ShouldResemble, []string{"stale"})

					got, _ := s.GetSignature(ctx, "stale")
					So(got.Status, ShouldEqual, model.SignatureExpired)

					again, err := s.ExpireSignatures(ctx, t0)
					So(err, ShouldBeNil)
					So(again, ShouldBeEmpty)
				})
			})

			Convey("When a signature transition does not match the stored status", func() {
				_, _ = s.UpsertSignature(ctx, signature("t1", 40, 24*time.Hour))
				_, err := s.TransitionSignature(ctx, "t1", model.SignatureExpired, model.SignatureExploited)

				Convey("Then it is a conflict", func() {
					So(errors.Is(err, ErrConflict), ShouldBeTrue)
					var pce *PersistenceConflictError
					So(errors.As(err, &pce), ShouldBeTrue)
					So(pce.Entity, ShouldEqual, EntitySignature)
				})
			})

			Convey("When an opportunity is created", func() {
				_, _ = s.UpsertSignature(ctx, signature("t1", 40, 24*time.Hour))
				created, err := s.UpsertOpportunity(ctx, opportunity("o1", "t1"))
				So(err, ShouldBeNil)

				Convey("Then its version starts at 1", func() {
					So(created.Version, ShouldEqual, 1)
					got, err := s.GetOpportunity(ctx, "o1")
					So(err, ShouldBeNil)
					So(got.Status, ShouldEqual, model.OpportunityPending)
				})

				Convey("And a write with the current version advances it", func() {
					created.Status = model.OpportunitySelected
					created.SelectedVariantIndex = 0
					next, err := s.UpsertOpportunity(ctx, created)
					So(err, ShouldBeNil)
					So(next.Version, ShouldEqual, 2)
					So(next.Status, ShouldEqual, model.OpportunitySelected)
				})

				Convey("And a stale version is a conflict", func() {
					stale := opportunity("o1", "t1")
					_, err := s.UpsertOpportunity(ctx, stale)
					So(errors.Is(err, ErrConflict), ShouldBeTrue)
				})

				Convey("And moving backward is a conflict", func() {
					created.Status = model.OpportunityDelivered
					delivered, err := s.UpsertOpportunity(ctx, created)
					So(err, ShouldBeNil)
					delivered.Status = model.OpportunityGenerated
					_, err = s.UpsertOpportunity(ctx, delivered)
					So(errors.Is(err, ErrConflict), ShouldBeTrue)
				})

				Convey("And it is listed under its trend", func() {
					second := opportunity("o2", "t1")
					second.CreatedAt = t0.Add(time.Minute)
					_, err := s.UpsertOpportunity(ctx, second)
					So(err, ShouldBeNil)
					_, err = s.UpsertOpportunity(ctx, created)
					So(err, ShouldBeNil)

					list, err := s.ListOpportunities(ctx, "t1")
					So(err, ShouldBeNil)
					So(list, ShouldHaveLength, 2)
					So(list[0].OpportunityID, ShouldEqual, "o1")
					So(list[1].OpportunityID, ShouldEqual, "o2")

					none, err := s.ListOpportunities(ctx, "t2")
					So(err, ShouldBeNil)
					So(none, ShouldBeEmpty)
				})
			})

			Convey("When an unknown opportunity is read", func() {
				_, err := s.GetOpportunity(ctx, "nope")
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			})
		})
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	Convey("Given a memory store", t, func() {
		ctx := context.Background()
		s := NewMemoryStore()

		Convey("When the caller mutates a returned signature", func() {
			sig, _ := s.UpsertSignature(ctx, signature("t1", 40, time.Hour))
			sig.Sources[0] = "mutated"

			Convey("Then the stored copy is unchanged", func() {
				got, _ := s.GetSignature(ctx, "t1")
				So(got.Sources[0], ShouldEqual, "instagram")
			})
		})

		Convey("When the store is closed", func() {
			So(s.Close(), ShouldBeNil)
			_, err := s.UpsertSignature(ctx, signature("t1", 40, time.Hour))

			Convey("Then writes fail", func() {
				So(errors.Is(err, ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestSerialized(t *testing.T) {
	Convey("Given a serialized memory store", t, func() {
		ctx := context.Background()
		s := NewSerialized(NewMemoryStore())
		_, _ = s.UpsertSignature(ctx, signature("t1", 40, time.Hour))

		Convey("When many writers race to create the same opportunity", func() {
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				conflicts int
				created   int
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.UpsertOpportunity(ctx, opportunity("o1", "t1"))
					mu.Lock()
					defer mu.Unlock()
					if errors.Is(err, ErrConflict) {
						conflicts++
					} else if err == nil {
						created++
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one wins", func() {
				So(created, ShouldEqual, 1)
				So(conflicts, ShouldEqual, 15)
			})
		})

		Convey("When a caller holds the trend lock", func() {
			err := s.WithTrendLock("t1", func(inner Store) error {
				_, err := inner.TransitionSignature(ctx, "t1", model.SignatureActive, model.SignatureExploited)
				return err
			})

			Convey("Then its read-modify-write applies", func() {
				So(err, ShouldBeNil)
				got, _ := s.GetSignature(ctx, "t1")
				So(got.Status, ShouldEqual, model.SignatureExploited)
			})
		})

		Convey("Then the lock table is empty once writers finish", func() {
			So(s.locks.locks, ShouldBeEmpty)
		})
	})
}

func TestVelocityIndex(t *testing.T) {
	Convey("Given a velocity index", t, func() {
		x := newVelocityIndex()
		for i := 0; i < 50; i++ {
			x.Put(fmt.Sprintf("id-%02d", i), float64(i%10))
		}

		collect := func() []string {
			var ids []string
			x.Ascend(func(id string) bool {
				ids = append(ids, id)
				return true
			})
			return ids
		}

		Convey("Then traversal is ordered by velocity desc then id asc", func() {
			ids := collect()
			So(ids, ShouldHaveLength, 50)
			So(ids[0], ShouldEqual, "id-09")
			So(ids[1], ShouldEqual, "id-19")
			So(ids[49], ShouldEqual, "id-40")
		})

		Convey("When an entry moves and another is removed", func() {
			x.Put("id-40", 100)
			x.Remove("id-09")

			Convey("Then the order reflects both", func() {
				ids := collect()
				So(ids, ShouldHaveLength, 49)
				So(ids[0], ShouldEqual, "id-40")
				So(ids[1], ShouldEqual, "id-19")
				So(x.Len(), ShouldEqual, 49)
			})
		})

		Convey("When traversal stops early", func() {
			n := 0
			x.Ascend(func(string) bool {
				n++
				return n < 3
			})
			So(n, ShouldEqual, 3)
		})
	})
}
