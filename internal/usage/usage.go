// Package usage defines UsageInformation, the post-call telemetry record
// produced exactly once per request by a Dispatcher and consumed by the
// limiter steps, the latency tracker, and the telemetry recorder on the
// pipeline's return path.
package usage

import (
	"time"

	"github.com/aicentral/gateway/internal/calldetails"
)

// Information is produced by a Dispatcher and threaded back up the
// pipeline's step stack. Exactly one Information is produced per request
// (spec §3 invariant 1), whether the call succeeded or failed.
type Information struct {
	EndpointID        string
	UpstreamHost      string
	DeploymentOrModel string
	CallKind          calldetails.CallKind
	Streaming         bool
	Success           bool

	// Token accounting: exact if the upstream returned a usage object,
	// otherwise estimated (see internal/tokenestimate).
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	TokensAreExact   bool

	UpstreamDuration time.Duration
	StartedAt        time.Time

	// Parsed from upstream rate-limit hint headers, -1 when absent.
	RemainingRequestsHint int
	RemainingTokensHint   int

	// EstimatedCompletionTokens is set once a streaming response ends,
	// from the running estimate kept while the stream was read.
	EstimatedCompletionTokens int

	// StatusCode is the HTTP status returned to the caller, including a
	// status the gateway synthesized itself (e.g. 404 for ModelUnmapped,
	// 502 for a network failure).
	StatusCode int

	// ErrorKind classifies a failure per spec §7; empty on success.
	ErrorKind string
}

// Error kinds, spec §7.
const (
	ErrMalformedRequest  = "malformed_request"
	ErrUnauthorized      = "unauthorized"
	ErrAdmissionRejected = "admission_rejected"
	ErrUpstreamTransient = "upstream_transient"
	ErrUpstreamPermanent = "upstream_permanent"
	ErrUpstreamRateLimit = "upstream_rate_limited"
	ErrModelUnmapped     = "model_unmapped"
	ErrCancelled         = "cancelled"
)

// NewFailed builds a failure Information with no network call made.
func NewFailed(endpointID string, kind calldetails.CallKind, statusCode int, errKind string) *Information {
	return &Information{
		EndpointID:            endpointID,
		CallKind:              kind,
		Success:               false,
		StartedAt:             time.Now(),
		RemainingRequestsHint: -1,
		RemainingTokensHint:   -1,
		StatusCode:            statusCode,
		ErrorKind:             errKind,
	}
}
