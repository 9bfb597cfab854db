package endpoint

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/usage"
)

// openaiDispatcher talks to an OpenAI-shaped upstream: URL shape
// "{baseUrl}/{tail}", auth via a Bearer key plus an optional organization
// header. The Azure and OpenAI tails are the same REST verbs
// (chat/completions, completions, embeddings, ...), so no path rewriting is
// needed beyond what internal/calldetails already stripped.
type openaiDispatcher struct {
	desc *Descriptor
	deps Deps
}

// NewOpenAIDispatcher is grounded on the same forwardPassthrough shape as
// NewAzureDispatcher, generalized to OpenAI's flat URL and bearer auth.
func NewOpenAIDispatcher(desc *Descriptor, deps Deps) Dispatcher {
	return withConcurrencyLimit(&openaiDispatcher{desc: desc, deps: deps}, desc)
}

func (d *openaiDispatcher) ID() string              { return d.desc.ID }
func (d *openaiDispatcher) Descriptor() *Descriptor { return d.desc }

func (d *openaiDispatcher) Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) *usage.Information {
	return d.Probe(ctx, r, cd).Commit(w)
}

func (d *openaiDispatcher) Probe(ctx context.Context, r *http.Request, cd *calldetails.CallDetails) *Probe {
	started := time.Now()

	upstreamModel := cd.ModelKey()
	if cd.HasModel() {
		mapped, ok := d.desc.ResolveUpstreamModel(cd.ModelKey())
		if !ok {
			log.Debug().Str("endpoint", d.desc.ID).Str("model", cd.ModelKey()).Msg("openai dispatch: model unmapped")
			return FailedProbe(d.desc.ID, cd.CallKind, http.StatusNotFound, usage.ErrModelUnmapped, "model not mapped to this endpoint")
		}
		upstreamModel = mapped
	}

	targetURL := strings.TrimRight(d.desc.BaseURL, "/") + "/" + cd.RemainingPath

	body := cd.RawBody
	if len(body) > 0 && cd.HasModel() {
		if rewritten, err := sjson.SetBytes(body, "model", upstreamModel); err == nil {
			body = rewritten
		}
	}

	var cancel context.CancelFunc
	if d.desc.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.desc.Timeout)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, newBodyReader(body))
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return FailedProbe(d.desc.ID, cd.CallKind, http.StatusBadGateway, usage.ErrUpstreamTransient, "failed to build upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.desc.BearerKey)
	if d.desc.Organization != "" {
		httpReq.Header.Set("OpenAI-Organization", d.desc.Organization)
	}

	// cancel is not deferred here: it must outlive Probe's return and fire
	// only once Commit/Discard has finished with the body, not the instant
	// the status line and headers are read.
	return withCancel(probeDispatch(ctx, d.deps, httpReq, cd, d.desc, upstreamModel, started), cancel)
}
