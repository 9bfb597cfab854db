// Package latency tracks a per-endpoint exponentially-weighted moving
// average of observed upstream round-trip duration (spec §4.5).
package latency

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAlpha is the EWMA smoothing factor used when a Tracker is built
// with New().
const DefaultAlpha = 0.3

type sample struct {
	ewmaMillis float64
	count      int64
}

// Tracker holds one EWMA cell per endpoint, updated lock-free via
// compare-and-set so the hot dispatch path never blocks on a mutex (spec
// §9 "Latency EWMA").
type Tracker struct {
	alpha float64
	cells sync.Map // endpointID -> *atomic.Pointer[sample]
}

// New builds a Tracker with the default smoothing factor.
func New() *Tracker { return NewWithAlpha(DefaultAlpha) }

// NewWithAlpha builds a Tracker with a custom smoothing factor in (0, 1].
func NewWithAlpha(alpha float64) *Tracker {
	return &Tracker{alpha: alpha}
}

// Observe records a successful upstream round trip's duration for
// endpointID. Timed-out or failed dispatches must not call Observe (spec
// §5: "expiration ... no latency-tracker update").
func (t *Tracker) Observe(endpointID string, d time.Duration) {
	cell := t.cellFor(endpointID)
	millis := float64(d) / float64(time.Millisecond)

	for {
		old := cell.Load()
		var next sample
		if old == nil {
			next = sample{ewmaMillis: millis, count: 1}
		} else {
			next = sample{
				ewmaMillis: t.alpha*millis + (1-t.alpha)*old.ewmaMillis,
				count:      old.count + 1,
			}
		}
		if cell.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Sample returns the current EWMA in milliseconds for endpointID, and
// false if no observation has ever been recorded — selectors treat an
// unsampled endpoint as preferred to probe (spec §4.3).
func (t *Tracker) Sample(endpointID string) (float64, bool) {
	cell := t.cellFor(endpointID)
	s := cell.Load()
	if s == nil {
		return 0, false
	}
	return s.ewmaMillis, true
}

func (t *Tracker) cellFor(endpointID string) *atomic.Pointer[sample] {
	v, _ := t.cells.LoadOrStore(endpointID, new(atomic.Pointer[sample]))
	return v.(*atomic.Pointer[sample])
}
