// Package selector implements the endpoint-selector strategies of spec
// §4.3: Random, Priority (tiered cascade), Lowest-Latency, Hierarchical,
// and Affinity. Each is modeled as a tagged variant sharing one interface
// (spec §9 "avoid deep class hierarchies"): Flatten for affinity lookups,
// Dispatch to actually resolve a leaf dispatcher and call it.
package selector

import (
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/endpoint"
	"github.com/aicentral/gateway/internal/usage"
)

// Selector decides which endpoint.Dispatcher handles a request and commits
// the network call. Dispatch writes the final response to w exactly once.
type Selector interface {
	// Flatten returns every leaf dispatcher reachable through this
	// selector, recursing through any nested selectors (spec §4.3).
	Flatten() []endpoint.Dispatcher

	// Dispatch resolves a dispatcher per this selector's strategy, calls
	// it, and writes the (possibly failed-over) result to w.
	Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) *usage.Information
}

// isRetryable reports whether a failed attempt is eligible for cascade
// fail-over: network error, 5xx, or 429. A 4xx other than 429 is
// non-retryable and halts fail-over (spec §9 open-question resolution,
// documented in DESIGN.md).
func isRetryable(info *usage.Information) bool {
	if info.Success {
		return false
	}
	return info.StatusCode == 0 || info.StatusCode >= 500 || info.StatusCode == http.StatusTooManyRequests
}

// commit copies a recorded attempt into the real response writer. Used only
// by selectors that genuinely need a response body in hand before deciding
// anything (affinity's assistant-ID extraction on small, non-streaming
// control-plane bodies) — fail-over cascades use endpoint.Probe instead so
// a streamed body is never buffered.
func commit(w http.ResponseWriter, rec *httptest.ResponseRecorder) {
	for k, v := range rec.Header() {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.Code)
	_, _ = w.Write(rec.Body.Bytes())
}

// flattenAll concatenates Flatten() across a list of child selectors.
func flattenAll(children []Selector) []endpoint.Dispatcher {
	var out []endpoint.Dispatcher
	for _, c := range children {
		out = append(out, c.Flatten()...)
	}
	return out
}
