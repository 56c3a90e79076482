package replication

import (
	"sync/atomic"
	"time"
)

// Clock mirrors the authority's notion of now. It never ticks on its own:
// only the receive loop moves it, to timestamps read off the stream.
//
// Safe for concurrent readers; the receive loop is the sole writer.
type Clock struct {
	nanos atomic.Int64
	set   atomic.Bool
}

func NewClock() *Clock {
	return &Clock{}
}

// AdvanceTo moves the clock to t unconditionally. Monotonicity is the
// authority's contract and is not re-checked here.
func (c *Clock) AdvanceTo(t time.Time) {
	c.nanos.Store(t.UnixNano())
	c.set.Store(true)
}

// Now returns the last timestamp observed, or the zero time before the
// first one arrives.
func (c *Clock) Now() time.Time {
	if !c.set.Load() {
		return time.Time{}
	}
	return time.Unix(0, c.nanos.Load()).UTC()
}
