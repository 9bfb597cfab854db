package endpoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/tokenestimate"
	"github.com/aicentral/gateway/internal/usage"
)

func testDeps() Deps {
	return Deps{Client: http.DefaultClient, Estimator: tokenestimate.New()}
}

func TestAzureDispatcher_BuildsDeploymentScopedURLAndSetsAPIKey(t *testing.T) {
	var gotURL, gotAPIKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		gotAPIKey = r.Header.Get("api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"usage":{"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}}`))
	}))
	defer upstream.Close()

	desc := &Descriptor{
		ID:         "azure-east",
		Kind:       KindAzureOpenAI,
		BaseURL:    upstream.URL,
		APIVersion: "2024-06-01",
		APIKey:     "secret-key",
		ModelMap:   map[string]string{"gpt-4o-deploy": "gpt-4o"},
		Timeout:    5 * time.Second,
	}
	d := NewAzureDispatcher(desc, testDeps())

	cd := &calldetails.CallDetails{
		CallKind:       calldetails.CallKindChat,
		DeploymentName: "gpt-4o-deploy",
		RemainingPath:  "chat/completions",
		RawBody:        []byte(`{"messages":[]}`),
		ResponseShape:  calldetails.Buffered,
	}

	rec := httptest.NewRecorder()
	info := d.Dispatch(context.Background(), rec, httptest.NewRequest(http.MethodPost, "/", nil), cd)

	require.NotNil(t, info)
	assert.True(t, info.Success)
	assert.Equal(t, 12, info.TotalTokens)
	assert.True(t, info.TokensAreExact)
	assert.Contains(t, gotURL, "/openai/deployments/gpt-4o/chat/completions")
	assert.Contains(t, gotURL, "api-version=2024-06-01")
	assert.Equal(t, "secret-key", gotAPIKey)
}

func TestAzureDispatcher_UnmappedModelRejectedWithoutNetworkCall(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer upstream.Close()

	desc := &Descriptor{ID: "azure-east", Kind: KindAzureOpenAI, BaseURL: upstream.URL, ModelMap: map[string]string{}}
	d := NewAzureDispatcher(desc, testDeps())

	cd := &calldetails.CallDetails{DeploymentName: "unknown-deploy", RemainingPath: "chat/completions"}
	rec := httptest.NewRecorder()
	info := d.Dispatch(context.Background(), rec, httptest.NewRequest(http.MethodPost, "/", nil), cd)

	assert.False(t, called)
	assert.False(t, info.Success)
	assert.Equal(t, usage.ErrModelUnmapped, info.ErrorKind)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenAIDispatcher_SetsBearerAndOrganizationHeaders(t *testing.T) {
	var gotAuth, gotOrg string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotOrg = r.Header.Get("OpenAI-Organization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	desc := &Descriptor{
		ID:           "openai-primary",
		Kind:         KindOpenAI,
		BaseURL:      upstream.URL,
		BearerKey:    "sk-test",
		Organization: "org-123",
		ModelMap:     map[string]string{"gpt-4o": "gpt-4o"},
	}
	d := NewOpenAIDispatcher(desc, testDeps())

	cd := &calldetails.CallDetails{
		IncomingModelName: "gpt-4o",
		RemainingPath:     "chat/completions",
		RawBody:           []byte(`{"model":"gpt-4o"}`),
		ResponseShape:     calldetails.Buffered,
	}
	rec := httptest.NewRecorder()
	info := d.Dispatch(context.Background(), rec, httptest.NewRequest(http.MethodPost, "/", nil), cd)

	require.NotNil(t, info)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "org-123", gotOrg)
}

// TestAzureDispatcher_TimeoutConfiguredEndpointStreamsFullBody pins down a
// lifetime bug: a per-dispatch timeout context cancelled the instant Probe
// returned (right after the status line and headers were read) instead of
// once Commit actually finished consuming the body, which meant a
// Timeout-configured endpoint's streamed response was aborted mid-copy on
// essentially every dispatch. Every configured endpoint gets a non-zero
// Timeout by default, so this exercises the common case, not an edge case.
func TestAzureDispatcher_TimeoutConfiguredEndpointStreamsFullBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, chunk := range []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n",
			`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n",
			"data: [DONE]\n\n",
		} {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer upstream.Close()

	desc := &Descriptor{
		ID:         "azure-east",
		Kind:       KindAzureOpenAI,
		BaseURL:    upstream.URL,
		APIVersion: "2024-06-01",
		APIKey:     "secret-key",
		ModelMap:   map[string]string{"gpt-4o-deploy": "gpt-4o"},
		Timeout:    60 * time.Second, // matches the real config default every endpoint gets
	}
	d := NewAzureDispatcher(desc, testDeps())

	cd := &calldetails.CallDetails{
		CallKind:       calldetails.CallKindChat,
		DeploymentName: "gpt-4o-deploy",
		RemainingPath:  "chat/completions",
		RawBody:        []byte(`{"messages":[],"stream":true}`),
		ResponseShape:  calldetails.Streaming,
	}

	rec := httptest.NewRecorder()
	info := d.Dispatch(context.Background(), rec, httptest.NewRequest(http.MethodPost, "/", nil), cd)

	require.NotNil(t, info)
	assert.True(t, info.Success)
	body := rec.Body.String()
	assert.Contains(t, body, "Hel", "a cancelled-too-early context must not truncate the stream after the first chunk")
	assert.Contains(t, body, "lo")
	assert.Contains(t, body, "[DONE]")
}

func TestProbeDispatch_UpstreamErrorClassifiedAndBodyPassedThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer upstream.Close()

	desc := &Descriptor{ID: "openai-primary", Kind: KindOpenAI, BaseURL: upstream.URL, BearerKey: "sk-test"}
	d := NewOpenAIDispatcher(desc, testDeps())

	cd := &calldetails.CallDetails{RemainingPath: "embeddings", RawBody: []byte(`{}`)}
	rec := httptest.NewRecorder()
	info := d.Dispatch(context.Background(), rec, httptest.NewRequest(http.MethodPost, "/", nil), cd)

	assert.False(t, info.Success)
	assert.Equal(t, usage.ErrUpstreamRateLimit, info.ErrorKind)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limited")
}
