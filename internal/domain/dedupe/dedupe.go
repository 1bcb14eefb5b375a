// Package dedupe tracks which signal records were already seen across cycles.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/trendcast/internal/domain/model"
)

// Deduper records seen record keys ("source:content_id").
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen within the retention
	// window and records it if not. Returns true if key was already seen.
	SeenAndRecord(ctx context.Context, key string) (bool, error)

	// Unrecord forgets key so a later cycle treats it as new. Used when a
	// cycle that recorded keys is abandoned before persisting.
	Unrecord(ctx context.Context, key string) error
}

type entry struct {
	key     string
	expires time.Time
}

// MemoryDeduper keeps keys in insertion order; the oldest entry is evicted
// first when the size bound is reached, and expired entries are pruned lazily.
type MemoryDeduper struct {
	mu        sync.Mutex
	seen      map[string]*list.Element
	order     *list.List
	maxSize   int
	retention time.Duration
	now       func() time.Time
	size      atomic.Int64
}

// NewInMemoryDeduper creates a bounded in-memory deduper.
func NewInMemoryDeduper(opts ...Option) *MemoryDeduper {
	d := &MemoryDeduper{
		maxSize:   50_000,
		retention: 6 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

// SeenAndRecord implements Deduper. A zero retention disables tracking.
func (d *MemoryDeduper) SeenAndRecord(_ context.Context, key string) (bool, error) {
	if d.retention <= 0 {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.pruneExpired(now)

	if el, ok := d.seen[key]; ok {
		if now.Before(el.Value.(*entry).expires) {
			return true, nil
		}
		d.remove(el)
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.remove(d.order.Front())
	}
	d.seen[key] = d.order.PushBack(&entry{key: key, expires: now.Add(d.retention)})
	d.size.Add(1)
	return false, nil
}

// Unrecord implements Deduper.
func (d *MemoryDeduper) Unrecord(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.seen[key]; ok {
		d.remove(el)
	}
	return nil
}

// Size returns the current number of tracked keys.
func (d *MemoryDeduper) Size() int64 {
	return d.size.Load()
}

// pruneExpired drops expired entries from the front. Must hold d.mu.
func (d *MemoryDeduper) pruneExpired(now time.Time) {
	for el := d.order.Front(); el != nil; el = d.order.Front() {
		if now.Before(el.Value.(*entry).expires) {
			return
		}
		d.remove(el)
	}
}

// remove deletes el from both indexes. Must hold d.mu.
func (d *MemoryDeduper) remove(el *list.Element) {
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	d.order.Remove(el)
	delete(d.seen, e.key)
	d.size.Add(-1)
}

// Collapse keeps one record per key, the latest observation winning. The
// result keeps the position where each key first appeared.
func Collapse(records []model.SignalRecord) []model.SignalRecord {
	index := make(map[string]int, len(records))
	out := make([]model.SignalRecord, 0, len(records))
	for _, rec := range records {
		i, ok := index[rec.Key()]
		if !ok {
			index[rec.Key()] = len(out)
			out = append(out, rec)
			continue
		}
		if !rec.ObservedAt.Before(out[i].ObservedAt) {
			out[i] = rec
		}
	}
	return out
}

// FilterNew splits records into those not seen within the retention window
// and repeats. Keys of fresh records are recorded; on error the keys recorded
// so far are returned in fresh so the caller can unrecord them.
func FilterNew(ctx context.Context, d Deduper, records []model.SignalRecord) (fresh, repeats []model.SignalRecord, err error) {
	for _, rec := range records {
		seen, err := d.SeenAndRecord(ctx, rec.Key())
		if err != nil {
			return fresh, repeats, err
		}
		if seen {
			repeats = append(repeats, rec)
			continue
		}
		fresh = append(fresh, rec)
	}
	return fresh, repeats, nil
}
