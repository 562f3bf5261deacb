package ledger

import (
	"sync/atomic"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// reservedIDs is the value every counter starts from. Zero is the "absent"
// sentinel and one is burned at construction, so the first id handed out
// is 2.
const reservedIDs = 1

// Counter is a monotonically increasing identifier source. It is safe for
// concurrent use.
type Counter struct {
	v atomic.Uint64
}

func newCounter() *Counter {
	c := &Counter{}
	c.v.Store(reservedIDs)
	return c
}

// Next advances the counter and returns the new value.
func (c *Counter) Next() uint64 {
	return c.v.Add(1)
}

// Current returns the last value handed out (or the reserved floor).
func (c *Counter) Current() uint64 {
	return c.v.Load()
}

// Restore resets the counter. Values below the reserved floor are raised to
// it.
func (c *Counter) Restore(v uint64) {
	if v < reservedIDs {
		v = reservedIDs
	}
	c.v.Store(v)
}

// Allocator owns the three identifier namespaces. Values never interleave
// across namespaces: each counter is independent.
type Allocator struct {
	Items       *Counter
	Collections *Counter
	Assets      *Counter
}

// NewAllocator returns an allocator with all counters at the reserved floor.
func NewAllocator() *Allocator {
	return &Allocator{
		Items:       newCounter(),
		Collections: newCounter(),
		Assets:      newCounter(),
	}
}

// Counters reports the current value of every namespace.
func (a *Allocator) Counters() domain.Counters {
	return domain.Counters{
		Items:       a.Items.Current(),
		Collections: a.Collections.Current(),
		Assets:      a.Assets.Current(),
	}
}

// Restore sets every namespace from a persisted value.
func (a *Allocator) Restore(c domain.Counters) {
	a.Items.Restore(c.Items)
	a.Collections.Restore(c.Collections)
	a.Assets.Restore(c.Assets)
}
