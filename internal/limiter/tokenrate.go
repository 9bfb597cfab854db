package limiter

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/tokenestimate"
	"github.com/aicentral/gateway/internal/usage"
)

// tokenBucket is a plain refilling bucket that additionally supports
// crediting back an over-reservation. golang.org/x/time/rate has no such
// refund primitive — it can Allow/Reserve/Wait but never give tokens back
// once taken — so the reserve-then-reconcile protocol of spec §4.4 needs a
// small bespoke bucket instead.
type tokenBucket struct {
	capacity   float64
	refillRate float64 // tokens per second

	mu        sync.Mutex
	available float64
	updatedAt time.Time
}

func newTokenBucket(capacity float64, refillPerSecond float64) *tokenBucket {
	return &tokenBucket{capacity: capacity, refillRate: refillPerSecond, available: capacity, updatedAt: time.Time{}}
}

func (b *tokenBucket) refillLocked(now time.Time) {
	if b.updatedAt.IsZero() {
		b.updatedAt = now
		return
	}
	elapsed := now.Sub(b.updatedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	b.available += elapsed * b.refillRate
	if b.available > b.capacity {
		b.available = b.capacity
	}
	b.updatedAt = now
}

// reserve attempts to take n tokens immediately, returning whether it
// succeeded and, if not, how long until n tokens will be available.
func (b *tokenBucket) reserve(n float64, now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)

	if b.available >= n {
		b.available -= n
		return true, 0
	}
	deficit := n - b.available
	wait := time.Duration(deficit / b.refillRate * float64(time.Second))
	return false, wait
}

// reconcile adjusts a previously taken reservation of `reserved` tokens down
// to `actual`, crediting back the difference (or debiting further if actual
// exceeds the reservation, letting the bucket go negative rather than
// silently under-charging).
func (b *tokenBucket) reconcile(reserved, actual float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	b.available += reserved - actual
	if b.available > b.capacity {
		b.available = b.capacity
	}
}

type tokenReservation struct {
	bucket   *tokenBucket
	reserved float64
}

// TokenRate admits requests against a token budget that refills linearly
// over a window, reserving an estimated cost up front and reconciling it
// against the upstream's actual usage once the call completes (spec §4.4):
// Pre estimates prompt tokens (plus a flat completion allowance) and
// reserves that amount; Post replaces the reservation with the exact total
// when the upstream reports one, crediting back any over-reservation.
type TokenRate struct {
	tokens              int
	window              time.Duration
	mode                PartitionMode
	estimator           *tokenestimate.Estimator
	completionAllowance float64

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

// NewTokenRate builds a TokenRate limiter admitting `tokens` per `window`,
// partitioned by mode. completionAllowance is the flat number of tokens
// reserved for the not-yet-seen completion when a request is admitted.
func NewTokenRate(tokens int, window time.Duration, mode PartitionMode, estimator *tokenestimate.Estimator, completionAllowance int) *TokenRate {
	return &TokenRate{
		tokens:              tokens,
		window:              window,
		mode:                mode,
		estimator:           estimator,
		completionAllowance: float64(completionAllowance),
		buckets:             make(map[string]*tokenBucket),
	}
}

func (t *TokenRate) Name() string { return "token_rate" }

func (t *TokenRate) bucketFor(key string) *tokenBucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[key]
	if !ok {
		refillPerSecond := float64(t.tokens) / t.window.Seconds()
		b = newTokenBucket(float64(t.tokens), refillPerSecond)
		t.buckets[key] = b
	}
	return b
}

func (t *TokenRate) Pre(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) Decision {
	key := partitionKey(t.mode, cd)
	bucket := t.bucketFor(key)

	estimated := float64(t.estimator.Estimate(cd.ModelKey(), cd.PromptText)) + t.completionAllowance

	ok, wait := bucket.reserve(estimated, time.Now())
	if ok {
		return Decision{Admitted: true, Reservation: &tokenReservation{bucket: bucket, reserved: estimated}}
	}

	if ctx.Err() != nil {
		return Decision{Admitted: false}
	}
	writeRetryAfter(w, wait)
	return Decision{Admitted: false}
}

func (t *TokenRate) Post(cd *calldetails.CallDetails, decision Decision, info *usage.Information) {
	if !decision.Admitted {
		return
	}
	res, ok := decision.Reservation.(*tokenReservation)
	if !ok {
		return
	}

	actual := res.reserved
	switch {
	case info != nil && info.TokensAreExact && info.TotalTokens > 0:
		actual = float64(info.TotalTokens)
	case info != nil && info.EstimatedCompletionTokens > 0:
		actual = float64(info.PromptTokens) + float64(info.EstimatedCompletionTokens)
	}
	res.bucket.reconcile(res.reserved, actual)
}
