package endpoint

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/usage"
)

// azureDispatcher talks to an Azure OpenAI resource: URL shape
// "{baseUrl}/openai/deployments/{deployment}/{tail}?api-version=...",
// auth via either a static "api-key" header or an AAD bearer token.
type azureDispatcher struct {
	desc *Descriptor
	deps Deps
}

// NewAzureDispatcher grounds dispatch on the teacher's forwardPassthrough
// (internal/gateway/handler.go), generalized to Azure's deployment-scoped
// URL shape and the two auth modes spec §3/§4.2 distinguish.
func NewAzureDispatcher(desc *Descriptor, deps Deps) Dispatcher {
	return withConcurrencyLimit(&azureDispatcher{desc: desc, deps: deps}, desc)
}

func (d *azureDispatcher) ID() string             { return d.desc.ID }
func (d *azureDispatcher) Descriptor() *Descriptor { return d.desc }

func (d *azureDispatcher) Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) *usage.Information {
	return d.Probe(ctx, r, cd).Commit(w)
}

func (d *azureDispatcher) Probe(ctx context.Context, r *http.Request, cd *calldetails.CallDetails) *Probe {
	started := time.Now()

	upstreamModel, ok := d.desc.ResolveUpstreamModel(cd.ModelKey())
	if !ok {
		log.Debug().Str("endpoint", d.desc.ID).Str("model", cd.ModelKey()).Msg("azure dispatch: model unmapped")
		return FailedProbe(d.desc.ID, cd.CallKind, http.StatusNotFound, usage.ErrModelUnmapped, "model not mapped to this endpoint")
	}

	targetURL := fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
		strings.TrimRight(d.desc.BaseURL, "/"),
		url.PathEscape(upstreamModel),
		cd.RemainingPath,
		url.QueryEscape(d.desc.APIVersion))

	body := cd.RawBody
	if len(body) > 0 {
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

	if d.desc.APIKey != "" {
		httpReq.Header.Set("api-key", d.desc.APIKey)
	} else if d.desc.TokenCredential != nil {
		token, tokenErr := d.desc.TokenCredential.Token(ctx)
		if tokenErr != nil {
			log.Warn().Err(tokenErr).Str("endpoint", d.desc.ID).Msg("azure dispatch: AAD token acquisition failed")
			if cancel != nil {
				cancel()
			}
			return FailedProbe(d.desc.ID, cd.CallKind, http.StatusBadGateway, usage.ErrUnauthorized, "failed to acquire upstream credential")
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	// cancel is not deferred here: it must outlive Probe's return and fire
	// only once Commit/Discard has finished with the body, not the instant
	// the status line and headers are read.
	return withCancel(probeDispatch(ctx, d.deps, httpReq, cd, d.desc, upstreamModel, started), cancel)
}
