// Package limiter implements the three cross-cutting limiter steps of
// spec §4.4 — bulkhead, request-rate, and token-rate — plus the
// PerPipeline/PerConsumer partitioning shared by all three.
package limiter

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/usage"
)

// PartitionMode selects how a limiter's state is keyed (spec §4.4).
type PartitionMode string

const (
	PerPipeline PartitionMode = "per_pipeline"
	PerConsumer PartitionMode = "per_consumer"
)

// partitionKey derives the bucket/counter key for a request. Requests
// without a resolved consumer fall back to the pipeline-global key.
func partitionKey(mode PartitionMode, cd *calldetails.CallDetails) string {
	if mode == PerConsumer && cd.ConsumerID != "" {
		return "consumer:" + cd.ConsumerID
	}
	return "pipeline"
}

// Decision is what a Step's Pre returns: either admission (proceed) or a
// rejection already written to the response.
type Decision struct {
	Admitted bool
	// Reservation is opaque state the same Step's Post needs to release
	// or reconcile; nil when Admitted is false.
	Reservation any
}

// Step is one cross-cutting limiter in the ordered middleware stack (spec
// §9 "ordered middleware with two-sided hooks"). Pre may short-circuit by
// writing a response and returning Admitted=false; Post always runs for
// every Step whose Pre admitted the request, in reverse order of Pre,
// even under cancellation (spec §5).
type Step interface {
	Name() string
	Pre(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) Decision
	Post(cd *calldetails.CallDetails, decision Decision, info *usage.Information)
}

func writeRetryAfter(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		seconds := int(retryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"gateway_error"}}`))
}
