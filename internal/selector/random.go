package selector

import (
	"context"
	"math/rand"
	"net/http"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/endpoint"
	"github.com/aicentral/gateway/internal/usage"
)

// Random picks uniformly among a fixed set of leaf dispatchers, with no
// fail-over (spec §4.3).
type Random struct {
	dispatchers []endpoint.Dispatcher
}

// NewRandom builds a Random selector over the given dispatchers. Panics if
// given an empty set — a pipeline's selector tree is config-time, not a
// runtime condition to recover from.
func NewRandom(dispatchers []endpoint.Dispatcher) *Random {
	if len(dispatchers) == 0 {
		panic("selector: Random requires at least one dispatcher")
	}
	return &Random{dispatchers: dispatchers}
}

func (s *Random) Flatten() []endpoint.Dispatcher { return s.dispatchers }

func (s *Random) Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) *usage.Information {
	d := s.dispatchers[rand.Intn(len(s.dispatchers))]
	return d.Dispatch(ctx, w, r, cd)
}
