package calldetails

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestClassify_AzureChatCompletions(t *testing.T) {
	r := post("/openai/deployments/gpt4-prod/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)
	cd, err := Classify(r)
	require.NoError(t, err)
	assert.Equal(t, CallKindChat, cd.CallKind)
	assert.Equal(t, "gpt4-prod", cd.DeploymentName)
	assert.Equal(t, "hi", cd.PromptText)
	assert.Equal(t, Buffered, cd.ResponseShape)
}

func TestClassify_StreamingFlag(t *testing.T) {
	r := post("/v1/chat/completions", `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"a"},{"role":"user","content":"b"}]}`)
	cd, err := Classify(r)
	require.NoError(t, err)
	assert.Equal(t, Streaming, cd.ResponseShape)
	assert.Equal(t, "gpt-4o", cd.IncomingModelName)
	assert.Equal(t, "a\nb", cd.PromptText)
}

func TestClassify_Embeddings(t *testing.T) {
	r := post("/v1/embeddings", `{"model":"text-embedding-3","input":["one","two"]}`)
	cd, err := Classify(r)
	require.NoError(t, err)
	assert.Equal(t, CallKindEmbedding, cd.CallKind)
	assert.Equal(t, "one\ntwo", cd.PromptText)
}

func TestClassify_AssistantControl(t *testing.T) {
	r := post("/openai/assistants/asst_123/messages", `{}`)
	cd, err := Classify(r)
	require.NoError(t, err)
	assert.Equal(t, CallKindAssistantControl, cd.CallKind)
	assert.Equal(t, "asst_123", cd.AssistantID)
}

func TestClassify_UnknownShapeIsOtherNotError(t *testing.T) {
	r := post("/some/unrecognized/path", `{"not":"json-shaped-for-us"}`)
	cd, err := Classify(r)
	require.NoError(t, err)
	assert.Equal(t, CallKindOther, cd.CallKind)
	assert.Equal(t, "some/unrecognized/path", cd.RemainingPath)
}

func TestClassify_MalformedBodyErrors(t *testing.T) {
	r := post("/v1/chat/completions", `{not valid json`)
	_, err := Classify(r)
	require.ErrorIs(t, err, ErrMalformedBody)
}

func TestClassify_AffinityHeader(t *testing.T) {
	r := post("/v1/chat/completions", `{}`)
	r.Header.Set("x-aicentral-affinity", "endpoint-a")
	cd, err := Classify(r)
	require.NoError(t, err)
	assert.Equal(t, "endpoint-a", cd.PreferredEndpointID)
}

func TestClassify_RealtimeWebsocket(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/realtime", nil)
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Connection", "Upgrade")
	cd, err := Classify(r)
	require.NoError(t, err)
	assert.Equal(t, CallKindRealtime, cd.CallKind)
	assert.Equal(t, Streaming, cd.ResponseShape)
}

func TestModelKey_PrefersDeployment(t *testing.T) {
	cd := &CallDetails{DeploymentName: "dep", IncomingModelName: "body-model"}
	assert.Equal(t, "dep", cd.ModelKey())
}
