package selector

import (
	"context"
	"math/rand"
	"net/http"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/endpoint"
	"github.com/aicentral/gateway/internal/usage"
)

// Priority implements the tiered cascade of spec §4.3: try a random
// endpoint within the current tier; on a retryable failure, try another in
// the same tier; once a tier is exhausted, advance to the next. A 4xx
// other than 429 halts fail-over immediately (isRetryable).
type Priority struct {
	tiers [][]endpoint.Dispatcher
}

// NewPriority builds a Priority selector from an ordered list of tiers.
func NewPriority(tiers [][]endpoint.Dispatcher) *Priority {
	if len(tiers) == 0 {
		panic("selector: Priority requires at least one tier")
	}
	return &Priority{tiers: tiers}
}

func (s *Priority) Flatten() []endpoint.Dispatcher {
	var out []endpoint.Dispatcher
	for _, tier := range s.tiers {
		out = append(out, tier...)
	}
	return out
}

func (s *Priority) Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) *usage.Information {
	for _, tier := range s.tiers {
		order := shuffledIndices(len(tier))
		for _, idx := range order {
			d := tier[idx]

			// Probe reaches upstream and reads the status line and headers
			// but writes nothing to w yet, so a candidate that turns out to
			// be retryable can be discarded without ever buffering — or
			// emitting — its body (spec §4.2 step 8).
			probe := d.Probe(ctx, r, cd)
			if isRetryable(probe.Info()) {
				probe.Discard()
				continue
			}
			return probe.Commit(w)
		}
	}

	// Every tier was empty, or every candidate was retryable and exhausted.
	w.WriteHeader(http.StatusServiceUnavailable)
	return usage.NewFailed("", cd.CallKind, http.StatusServiceUnavailable, usage.ErrUpstreamTransient)
}

func shuffledIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rand.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return idx
}
