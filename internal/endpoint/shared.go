package endpoint

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/usage"
	"github.com/aicentral/gateway/internal/utils"
)

func newBodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}

func writeGatewayError(w http.ResponseWriter, status int, msg string) {
	body, err := utils.MarshalNoEscape(map[string]any{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err == nil {
		_, _ = w.Write(body)
	}
}

// Probe is a dispatch attempt that has run far enough to know its outcome —
// a network/build failure, or an upstream status line and headers — without
// writing a single byte to any http.ResponseWriter. A selector peeks at
// Info() to decide whether to fail over to another candidate; exactly one
// of Commit or Discard must be called on every Probe (spec §4.2 step 8: a
// candidate that isn't the one chosen must never have touched the caller,
// and the one that is must stream rather than buffer).
type Probe struct {
	info       *usage.Information
	header     http.Header
	body       io.ReadCloser // nil for a failure that never produced a response
	failStatus int
	failMsg    string

	ctx           context.Context
	deps          Deps
	upstreamModel string
	started       time.Time
	release       func()
	cancel        context.CancelFunc
}

// withCancel attaches the context.CancelFunc for a per-dispatch timeout
// context to p, so it's invoked once the body this probe may still be
// streaming has actually been consumed (by Commit or Discard) rather than
// the instant Probe itself returns. A request's context governs "obtaining
// a connection, sending the request, and reading the response headers and
// body" per context's documented semantics — cancelling it right after
// Probe reads the headers would abort an in-flight streamed body read the
// moment Commit tried to copy it.
func withCancel(p *Probe, cancel context.CancelFunc) *Probe {
	p.cancel = cancel
	return p
}

// FailedProbe builds a Probe representing an attempt that never reached a
// response — a failed network call, a model the endpoint can't serve, a
// credential that couldn't be acquired. Exported so Dispatcher
// implementations outside this package, including test doubles, can
// produce one.
func FailedProbe(endpointID string, kind calldetails.CallKind, status int, errKind, msg string) *Probe {
	return &Probe{
		info:       usage.NewFailed(endpointID, kind, status, errKind),
		failStatus: status,
		failMsg:    msg,
	}
}

// NewResponseProbe builds a Probe from an already-known outcome — status
// (carried on info.StatusCode), headers, and a body — without requiring a
// live *http.Response. Real dispatchers go through probeDispatch instead;
// this is exported for Dispatcher implementations that emulate an upstream
// without a network round trip, such as test doubles exercising a selector.
func NewResponseProbe(ctx context.Context, deps Deps, info *usage.Information, header http.Header, body io.ReadCloser, upstreamModel string, started time.Time) *Probe {
	return &Probe{
		info:          info,
		header:        header,
		body:          body,
		ctx:           ctx,
		deps:          deps,
		upstreamModel: upstreamModel,
		started:       started,
	}
}

// Info reports this attempt's outcome so a selector can apply its own
// retry policy (spec §4.5) before deciding whether to Commit or Discard.
func (p *Probe) Info() *usage.Information { return p.info }

// Commit streams (or writes, for a buffered response) this probe's
// already-received upstream response to w, finalizing and returning its
// usage.Information. Call once this probe has been chosen as the one
// response the caller sees.
func (p *Probe) Commit(w http.ResponseWriter) *usage.Information {
	defer p.releaseSlot()
	defer p.cancelTimeout()
	if p.body == nil {
		writeGatewayError(w, p.failStatus, p.failMsg)
		return p.info
	}
	defer func() { _ = p.body.Close() }()

	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	copyResponseHeaders(w, p.header)
	status := p.info.StatusCode

	if status >= 400 || !p.info.Streaming {
		buffered, readErr := io.ReadAll(p.body)
		if readErr != nil {
			log.Debug().Err(readErr).Str("endpoint", p.info.EndpointID).Msg("dispatch: failed reading buffered upstream body")
		}
		w.WriteHeader(status)
		_, _ = w.Write(buffered)

		p.info.UpstreamDuration = time.Since(p.started)
		if status < 400 {
			applyBufferedUsage(p.info, buffered)
		}
		return p.info
	}

	// Streaming: tee bytes to the caller while incrementally estimating
	// completion tokens, per spec §4.2 step 7.
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Trailer", StreamingTokensTrailer)
	w.WriteHeader(status)

	tee := newStreamTee(p.deps.Estimator, p.upstreamModel)
	if copyErr := copyStreaming(ctx, w, p.body, tee); copyErr != nil {
		log.Debug().Err(copyErr).Str("endpoint", p.info.EndpointID).Msg("dispatch: streaming copy interrupted")
	}
	estimate := tee.Finish()
	w.Header().Set(StreamingTokensTrailer, strconv.Itoa(estimate))

	p.info.UpstreamDuration = time.Since(p.started)
	p.info.EstimatedCompletionTokens = estimate
	p.info.CompletionTokens = estimate
	p.info.TotalTokens = p.info.PromptTokens + estimate
	p.info.TokensAreExact = false
	return p.info
}

// Discard releases this probe's upstream connection without writing
// anything to any writer, used when the candidate turned out to be
// retryable and dispatch is moving on to another endpoint.
func (p *Probe) Discard() {
	defer p.releaseSlot()
	defer p.cancelTimeout()
	if p.body != nil {
		_ = p.body.Close()
	}
}

func (p *Probe) releaseSlot() {
	if p.release != nil {
		p.release()
		p.release = nil
	}
}

func (p *Probe) cancelTimeout() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// probeDispatch is the shared tail of both Azure and OpenAI dispatch: send
// the built request and read the status line and headers, but stop short
// of writing anything to a caller (spec §3 invariant 1, §4.2 steps 5-6).
func probeDispatch(ctx context.Context, deps Deps, httpReq *http.Request, cd *calldetails.CallDetails, desc *Descriptor, upstreamModel string, started time.Time) *Probe {
	resp, err := deps.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return FailedProbe(desc.ID, cd.CallKind, http.StatusGatewayTimeout, usage.ErrCancelled, "upstream request cancelled")
		}
		log.Warn().Err(err).Str("endpoint", desc.ID).Msg("dispatch: upstream request failed")
		return FailedProbe(desc.ID, cd.CallKind, http.StatusBadGateway, usage.ErrUpstreamTransient, "upstream request failed")
	}

	remainingRequests, remainingTokens := rateLimitHints(resp.Header)

	info := &usage.Information{
		EndpointID:            desc.ID,
		UpstreamHost:          httpReq.URL.Host,
		DeploymentOrModel:     upstreamModel,
		CallKind:              cd.CallKind,
		Streaming:             cd.IsStreaming(),
		Success:               resp.StatusCode < 400,
		StartedAt:             started,
		RemainingRequestsHint: remainingRequests,
		RemainingTokensHint:   remainingTokens,
		StatusCode:            resp.StatusCode,
		ErrorKind:             classifyErrorKind(resp.StatusCode),
	}

	return NewResponseProbe(ctx, deps, info, resp.Header, resp.Body, upstreamModel, started)
}

// applyBufferedUsage extracts usage.* from a buffered JSON response body
// without a full struct decode (gjson field extraction, same approach as
// internal/calldetails.populateFromBody).
func applyBufferedUsage(info *usage.Information, body []byte) {
	if len(body) == 0 {
		return
	}
	result := gjson.GetBytes(body, "usage")
	if !result.Exists() {
		return
	}
	info.PromptTokens = int(result.Get("prompt_tokens").Int())
	info.CompletionTokens = int(result.Get("completion_tokens").Int())
	info.TotalTokens = int(result.Get("total_tokens").Int())
	if info.TotalTokens == 0 {
		info.TotalTokens = info.PromptTokens + info.CompletionTokens
	}
	info.TokensAreExact = true
}

// boundedDispatcher wraps a Dispatcher with a fixed-size semaphore bounding
// concurrent in-flight calls to one endpoint (spec §4.2 step 5, Descriptor's
// optional MaxConcurrency), the same channel-semaphore idiom the pipeline's
// bulkhead limiter uses. The slot is held from Probe through whichever of
// Commit/Discard the caller ends up invoking, not just the network round
// trip, so a streamed body still counts against MaxConcurrency.
type boundedDispatcher struct {
	inner Dispatcher
	sem   chan struct{}
}

// withConcurrencyLimit wraps d in a per-endpoint semaphore when desc.MaxConcurrency
// is configured; otherwise it returns d unchanged.
func withConcurrencyLimit(d Dispatcher, desc *Descriptor) Dispatcher {
	if desc.MaxConcurrency <= 0 {
		return d
	}
	return &boundedDispatcher{inner: d, sem: make(chan struct{}, desc.MaxConcurrency)}
}

func (b *boundedDispatcher) ID() string              { return b.inner.ID() }
func (b *boundedDispatcher) Descriptor() *Descriptor { return b.inner.Descriptor() }

func (b *boundedDispatcher) Probe(ctx context.Context, r *http.Request, cd *calldetails.CallDetails) *Probe {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return FailedProbe(b.inner.ID(), cd.CallKind, http.StatusGatewayTimeout, usage.ErrCancelled,
			"upstream request cancelled while waiting for an endpoint slot")
	}
	p := b.inner.Probe(ctx, r, cd)
	p.release = func() { <-b.sem }
	return p
}

func (b *boundedDispatcher) Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) *usage.Information {
	return b.Probe(ctx, r, cd).Commit(w)
}

func copyResponseHeaders(w http.ResponseWriter, src http.Header) {
	for k, v := range src {
		if strings.EqualFold(k, "Content-Length") {
			continue // streaming or rewritten bodies invalidate this
		}
		w.Header()[k] = v
	}
}
