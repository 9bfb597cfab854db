// Package pipeline drives one request end to end: classify, run the
// ordered step stack (auth first, then bulkhead/rate/token limiters in
// configured order), resolve the endpoint selector, dispatch, and run every
// admitted step's Post in reverse order on the way back (spec §4.6).
package pipeline

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/latency"
	"github.com/aicentral/gateway/internal/limiter"
	"github.com/aicentral/gateway/internal/selector"
	"github.com/aicentral/gateway/internal/telemetry"
	"github.com/aicentral/gateway/internal/usage"
	"github.com/aicentral/gateway/internal/utils"
)

// HeaderRequestID is the inbound request-correlation header, mirrored from
// the teacher's handler.go HeaderRequestID convention: its value, when
// present, becomes the request ID; it is not set on the response.
const HeaderRequestID = "x-request-id"

// PipelineHeader is the diagnostics response header naming which pipeline
// served a request (spec §6).
const PipelineHeader = "x-aicentral-pipeline"

// Pipeline owns one named request path: an ordered step stack terminated
// by an endpoint selector (spec §4.6).
type Pipeline struct {
	Name        string
	Steps       []limiter.Step // auth step is conventionally Steps[0]
	Selector    selector.Selector
	Tracker     *latency.Tracker
	Recorder    telemetry.Recorder
	Diagnostics bool

	activeRequests atomic.Int64
}

// NewPipeline builds a Pipeline. A nil Recorder is replaced with a no-op
// sink so callers never need a nil check.
func NewPipeline(name string, steps []limiter.Step, sel selector.Selector, tracker *latency.Tracker, recorder telemetry.Recorder) *Pipeline {
	if recorder == nil {
		recorder = telemetry.Noop{}
	}
	return &Pipeline{Name: name, Steps: steps, Selector: sel, Tracker: tracker, Recorder: recorder}
}

// ServeHTTP classifies r and drives it through the full pipeline. It never
// panics on a malformed request; every exit path writes a response and
// emits telemetry with success set (spec §7 policy).
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	requestID := requestIDFor(r)

	if p.Diagnostics {
		w.Header().Set(PipelineHeader, p.Name)
	}

	cd, err := calldetails.Classify(r)
	if err != nil {
		log.Debug().Err(err).Str("pipeline", p.Name).Str("request_id", requestID).Msg("pipeline: malformed request body")
		writeError(w, http.StatusBadRequest, "malformed request body")
		p.recordFailure(cd, usage.ErrMalformedRequest, started)
		return
	}
	cd.RequestID = requestID

	activeTags := telemetry.Tags{Pipeline: p.Name}
	p.activeRequests.Add(1)
	p.Recorder.UpDownCounter("active_requests", 1, activeTags)
	defer func() {
		p.activeRequests.Add(-1)
		p.Recorder.UpDownCounter("active_requests", -1, activeTags)
	}()

	log.Debug().Str("pipeline", p.Name).Str("request_id", requestID).Str("call_kind", string(cd.CallKind)).Msg("pipeline: request admitted for classification")

	decisions := make([]limiter.Decision, 0, len(p.Steps))
	for i, step := range p.Steps {
		decision := step.Pre(r.Context(), w, r, cd)
		decisions = append(decisions, decision)
		if !decision.Admitted {
			p.runPostsReverse(p.Steps[:i+1], decisions, cd, nil)
			p.emitTelemetry(cd, nil, started)
			return
		}
	}

	info := p.Selector.Dispatch(r.Context(), w, r, cd)

	p.runPostsReverse(p.Steps, decisions, cd, info)

	if info != nil && info.Success && p.Tracker != nil {
		p.Tracker.Observe(info.EndpointID, info.UpstreamDuration)
	}
	p.emitTelemetry(cd, info, started)
}

// runPostsReverse invokes Post on every step that actually ran Pre, in
// reverse order (spec §4.6 step 6, §5 "the reverse-order stack guarantees
// this" for bulkhead release under cancellation).
func (p *Pipeline) runPostsReverse(steps []limiter.Step, decisions []limiter.Decision, cd *calldetails.CallDetails, info *usage.Information) {
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i].Post(cd, decisions[i], info)
	}
}

func (p *Pipeline) recordFailure(cd *calldetails.CallDetails, errKind string, started time.Time) {
	tags := telemetry.Tags{Pipeline: p.Name, Success: false}
	if cd != nil {
		tags.CallKind = cd.CallKind
	}
	p.Recorder.Histogram("request_duration_seconds", time.Since(started).Seconds(), tags)
}

func (p *Pipeline) emitTelemetry(cd *calldetails.CallDetails, info *usage.Information, started time.Time) {
	tags := telemetry.Tags{
		Pipeline:  p.Name,
		CallKind:  cd.CallKind,
		Streaming: cd.IsStreaming(),
		Success:   info != nil && info.Success,
	}
	if cd.ConsumerID != "" {
		tags.ClientName = cd.ConsumerID
	}
	if info != nil {
		tags.Endpoint = info.EndpointID
		tags.Deployment = info.DeploymentOrModel
		tags.Model = info.DeploymentOrModel
		p.Recorder.Histogram("prompt_tokens", float64(info.PromptTokens), tags)
		p.Recorder.Histogram("completion_tokens", float64(info.CompletionTokens), tags)
		p.Recorder.Histogram("total_tokens", float64(info.TotalTokens), tags)
		p.Recorder.Histogram("upstream_duration_seconds", info.UpstreamDuration.Seconds(), tags)
		emitDownstreamHints(p.Recorder, info)
	}
	p.Recorder.Histogram("request_duration_seconds", time.Since(started).Seconds(), tags)
	p.emitBulkheadOccupancy()
}

// emitBulkheadOccupancy reports each bulkhead step's current per-partition
// occupancy as a Gauge: unlike active_requests, which this pipeline already
// tracks as a running delta, occupancy is read back out of the bulkhead's
// own semaphores rather than accumulated locally, so there's no delta to
// report — only the snapshot Occupancy() already hands back.
func (p *Pipeline) emitBulkheadOccupancy() {
	for _, step := range p.Steps {
		bh, ok := step.(*limiter.Bulkhead)
		if !ok {
			continue
		}
		for key, used := range bh.Occupancy() {
			p.Recorder.Gauge("bulkhead_occupancy", float64(used), telemetry.Tags{Pipeline: p.Name, ClientName: key})
		}
	}
}

// emitDownstreamHints reports the per-endpoint quota hints a dispatcher
// parsed off the upstream's rate-limit headers (spec §3) through NamedGauge,
// using spec §4.7's un-dimensioned naming scheme: a gauge keyed on the
// upstream host and model can't be sliced by pipeline/call-kind the way a
// tagged metric can, but it's the only form that names one specific
// downstream quota rather than an aggregate across every consumer of it.
// RemainingRequestsHint/RemainingTokensHint are -1 when the upstream didn't
// send a rate-limit header, in which case there is nothing to report.
func emitDownstreamHints(rec telemetry.Recorder, info *usage.Information) {
	if info.UpstreamHost == "" {
		return
	}
	base := "downstream." + info.UpstreamHost + "." + info.DeploymentOrModel + "."
	if info.RemainingRequestsHint >= 0 {
		rec.NamedGauge(base+"remaining_requests", float64(info.RemainingRequestsHint))
	}
	if info.RemainingTokensHint >= 0 {
		rec.NamedGauge(base+"remaining_tokens", float64(info.RemainingTokensHint))
	}
}

// ActiveRequests reports the pipeline's current in-flight request count,
// consulted by internal/host's /readyz and internal/dashboard.
func (p *Pipeline) ActiveRequests() int64 { return p.activeRequests.Load() }

func requestIDFor(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.New().String()
}

func writeError(w http.ResponseWriter, status int, msg string) {
	body, err := utils.MarshalNoEscape(map[string]any{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err == nil {
		_, _ = w.Write(body)
	}
}
