package limiter

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/usage"
)

// slidingWindowCounter enforces a hard cap of `capacity` admissions within
// any trailing `window` of time — the literal "N requests per W seconds"
// semantics spec §4.4 asks for. A token bucket alone only gives a
// continuous refill (a request can land the instant a token regenerates,
// never enforcing a ceiling over a full window), so the window itself is
// tracked explicitly: admission timestamps age out once they fall outside
// the trailing window, and a new request is admitted only while fewer than
// `capacity` timestamps remain inside it.
type slidingWindowCounter struct {
	capacity int
	window   time.Duration

	mu    sync.Mutex
	times []time.Time // admission timestamps within the last window, oldest first
}

func newSlidingWindowCounter(capacity int, window time.Duration) *slidingWindowCounter {
	return &slidingWindowCounter{capacity: capacity, window: window}
}

// allow reports whether a new admission fits within the window, and if not,
// how long until the oldest admission ages out and frees a slot.
func (c *slidingWindowCounter) allow(now time.Time) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.window)
	i := 0
	for i < len(c.times) && c.times[i].Before(cutoff) {
		i++
	}
	c.times = c.times[i:]

	if len(c.times) < c.capacity {
		c.times = append(c.times, now)
		return true, 0
	}
	return false, c.times[0].Add(c.window).Sub(now)
}

// RequestRate admits at most R requests per window of W seconds, per
// partition (spec §4.4). A golang.org/x/time/rate limiter provides the
// continuous refill curve (and its Reserve-based delay estimate), while a
// slidingWindowCounter layered alongside it enforces the hard per-window
// ceiling the bucket alone can't: a request must clear both to be admitted.
// Request tokens are consumed at admission only; Post is a no-op.
type RequestRate struct {
	requests int
	window   time.Duration
	mode     PartitionMode

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	counters map[string]*slidingWindowCounter
}

// NewRequestRate builds a RequestRate limiter admitting `requests` per
// `window`, partitioned by mode.
func NewRequestRate(requests int, window time.Duration, mode PartitionMode) *RequestRate {
	return &RequestRate{
		requests: requests,
		window:   window,
		mode:     mode,
		limiters: make(map[string]*rate.Limiter),
		counters: make(map[string]*slidingWindowCounter),
	}
}

func (r *RequestRate) Name() string { return "request_rate" }

func (r *RequestRate) stateFor(key string) (*rate.Limiter, *slidingWindowCounter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		every := rate.Every(r.window / time.Duration(r.requests))
		l = rate.NewLimiter(every, r.requests)
		r.limiters[key] = l
	}

	c, ok := r.counters[key]
	if !ok {
		c = newSlidingWindowCounter(r.requests, r.window)
		r.counters[key] = c
	}

	return l, c
}

func (r *RequestRate) Pre(ctx context.Context, w http.ResponseWriter, req *http.Request, cd *calldetails.CallDetails) Decision {
	key := partitionKey(r.mode, cd)
	l, counter := r.stateFor(key)
	now := time.Now()

	res := l.ReserveN(now, 1)
	if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
		res.CancelAt(now)
		writeRetryAfter(w, delay)
		return Decision{Admitted: false}
	}

	if ok, wait := counter.allow(now); !ok {
		res.CancelAt(now)
		writeRetryAfter(w, wait)
		return Decision{Admitted: false}
	}

	return Decision{Admitted: true}
}

func (r *RequestRate) Post(cd *calldetails.CallDetails, decision Decision, info *usage.Information) {
	// Request tokens are consumed at admission (spec §4.4); nothing to
	// reconcile on the return path.
}
