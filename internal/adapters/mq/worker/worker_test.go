package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	queue "github.com/okian/trendcast/internal/adapters/mq/queue"
	worker "github.com/okian/trendcast/internal/adapters/mq/worker"
	logging "github.com/okian/trendcast/pkg/logger"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []queue.Job
	fail map[string]error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{fail: make(map[string]error)}
}

func (h *recordingHandler) HandleDelivery(_ context.Context, job queue.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err, ok := h.fail[job.OpportunityID]; ok {
		return err
	}
	h.seen = append(h.seen, job)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		h := newRecordingHandler()
		w := worker.NewInMemoryWorker(q, h, worker.WithName("w-test"), worker.WithLogger(logging.Discard()))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When jobs are enqueued", func() {
			convey.So(q.Enqueue(ctx, queue.Job{OpportunityID: "o-1", SourceID: "tiktok"}), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, queue.Job{OpportunityID: "o-2", SourceID: "instagram"}), convey.ShouldBeNil)

			convey.Convey("Then the handler sees them in order", func() {
				convey.So(waitFor(func() bool { return h.count() == 2 }), convey.ShouldBeTrue)
				convey.So(h.seen[0].OpportunityID, convey.ShouldEqual, "o-1")
			})
		})

		convey.Convey("When a delivery fails", func() {
			h.fail["bad"] = errors.New("sink down")
			convey.So(q.Enqueue(ctx, queue.Job{OpportunityID: "bad"}), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, queue.Job{OpportunityID: "good"}), convey.ShouldBeNil)

			convey.Convey("Then the worker keeps going", func() {
				convey.So(waitFor(func() bool { return h.count() == 1 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the worker is shut down", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of three workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		h := newRecordingHandler()
		p := worker.NewPool(3, q, h, worker.WithLogger(logging.Discard()))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		convey.So(p.Size(), convey.ShouldEqual, 3)
		p.Start(ctx)

		convey.Convey("When many jobs are enqueued and the pool shuts down", func() {
			for i := 0; i < 50; i++ {
				convey.So(q.Enqueue(ctx, queue.Job{OpportunityID: fmt.Sprintf("o-%d", i)}), convey.ShouldBeNil)
			}
			err := p.Shutdown(context.Background())

			convey.Convey("Then every job is handled before workers exit", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(h.count(), convey.ShouldEqual, 50)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a pool created with a non-positive count", t, func() {
		p := worker.NewPool(0, queue.NewInMemoryQueue(), worker.HandlerFunc(func(context.Context, queue.Job) error { return nil }))
		convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
	})
}
