package endpoint

import (
	"context"
	"net/http"
	"strconv"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/tokenestimate"
	"github.com/aicentral/gateway/internal/usage"
)

// Dispatcher sends one classified request to its upstream and writes the
// response directly to w, returning the UsageInformation produced either
// way (spec §4.2, §3 invariant 1). Dispatch never returns an error: any
// failure is represented as a failed usage.Information with the response
// already written to w.
//
// Probe is the two-phase form Dispatch is built from: it runs the same
// upstream call but stops at the status line and headers, returning a
// *Probe a caller can inspect before deciding whether to commit its body to
// a writer or discard it and fail over. Dispatch is exactly
// Probe(...).Commit(w); selectors that need to fail over between several
// candidates without buffering a chosen-but-rejected body use Probe
// directly instead.
type Dispatcher interface {
	ID() string
	Descriptor() *Descriptor
	Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) *usage.Information
	Probe(ctx context.Context, r *http.Request, cd *calldetails.CallDetails) *Probe
}

// Deps bundles what every Dispatcher variant needs beyond its own
// Descriptor: an HTTP client to reach upstream and a token estimator for
// streaming responses that never report an exact usage object.
type Deps struct {
	Client    *http.Client
	Estimator *tokenestimate.Estimator
}

// rateLimitHints parses the OpenAI/Azure rate-limit hint headers,
// returning -1 for either when absent (spec §4.2 step 6).
func rateLimitHints(h http.Header) (remainingRequests, remainingTokens int) {
	remainingRequests = parseIntHeader(h, "x-ratelimit-remaining-requests")
	remainingTokens = parseIntHeader(h, "x-ratelimit-remaining-tokens")
	return
}

func parseIntHeader(h http.Header, name string) int {
	v := h.Get(name)
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// classifyErrorKind maps an upstream HTTP status to a spec §7 error kind.
func classifyErrorKind(statusCode int) string {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return usage.ErrUpstreamRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return usage.ErrUnauthorized
	case statusCode >= 500:
		return usage.ErrUpstreamTransient
	case statusCode >= 400:
		return usage.ErrUpstreamPermanent
	default:
		return ""
	}
}
