package selector

import (
	"context"
	"math/rand"
	"net/http"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/endpoint"
	"github.com/aicentral/gateway/internal/latency"
	"github.com/aicentral/gateway/internal/usage"
)

// LowestLatency chooses the dispatcher with the lowest EWMA latency,
// preferring any unsampled (never-dispatched) endpoint over a sampled one
// so new endpoints get probed (spec §4.3). No fail-over: a failure is
// returned as-is.
type LowestLatency struct {
	dispatchers []endpoint.Dispatcher
	tracker     *latency.Tracker
}

// NewLowestLatency builds a LowestLatency selector. tracker is shared with
// the pipeline so every successful dispatch, regardless of which selector
// routed it, updates the same EWMA cells.
func NewLowestLatency(dispatchers []endpoint.Dispatcher, tracker *latency.Tracker) *LowestLatency {
	if len(dispatchers) == 0 {
		panic("selector: LowestLatency requires at least one dispatcher")
	}
	return &LowestLatency{dispatchers: dispatchers, tracker: tracker}
}

func (s *LowestLatency) Flatten() []endpoint.Dispatcher { return s.dispatchers }

func (s *LowestLatency) choose() endpoint.Dispatcher {
	var unsampled []endpoint.Dispatcher
	samples := make(map[string]float64, len(s.dispatchers))

	for _, d := range s.dispatchers {
		sample, ok := s.tracker.Sample(d.ID())
		if !ok {
			unsampled = append(unsampled, d)
			continue
		}
		samples[d.ID()] = sample
	}

	if len(unsampled) > 0 {
		return unsampled[rand.Intn(len(unsampled))]
	}

	best := -1.0
	var lowest []endpoint.Dispatcher
	for _, d := range s.dispatchers {
		v := samples[d.ID()]
		switch {
		case best < 0 || v < best:
			best, lowest = v, []endpoint.Dispatcher{d}
		case v == best:
			lowest = append(lowest, d)
		}
	}
	return lowest[rand.Intn(len(lowest))]
}

func (s *LowestLatency) Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) *usage.Information {
	d := s.choose()
	return d.Dispatch(ctx, w, r, cd)
}
