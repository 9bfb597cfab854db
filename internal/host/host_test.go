package host

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aicentral/gateway/internal/config"
	"github.com/aicentral/gateway/internal/telemetry"
	"github.com/aicentral/gateway/internal/tokenestimate"
)

const sampleConfigTemplate = `
pipelines:
  - name: chat-gateway
    hostname: gateway.internal.example.com
    auth:
      mode: none
    steps:
      - type: bulkhead
        bulkhead:
          capacity: 1
    selector:
      type: random
      endpoints:
        - id: only
          kind: openai
          base_url: %q
          bearer_key: "sk-only"
          model_map:
            gpt-4: gpt-4
`

func buildTestHost(t *testing.T, upstreamBaseURL string) *Host {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(sampleConfigTemplate, upstreamBaseURL)))
	require.NoError(t, err)

	built, err := config.Build(context.Background(), cfg, config.Deps{
		Client:    http.DefaultClient,
		Estimator: tokenestimate.New(),
		Recorder:  telemetry.Noop{},
	})
	require.NoError(t, err)

	return New(built, "/metrics", "", nil)
}

func TestHost_HealthzReturnsOK(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	h := buildTestHost(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHost_ReadyzReturnsOKWhenBulkheadsAreFree(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	h := buildTestHost(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHost_UnknownHostnameReturns404(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	h := buildTestHost(t, upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Host = "nowhere.example.com"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHost_KnownHostnameDispatchesToPipeline(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer upstream.Close()
	h := buildTestHost(t, upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Host = "gateway.internal.example.com"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHost_MetricsEndpointIsServed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	h := buildTestHost(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
