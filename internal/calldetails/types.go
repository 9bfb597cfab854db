// Package calldetails classifies an inbound proxy request into a typed,
// immutable description of what the caller is asking for.
//
// DESIGN: one exported type, CallDetails, produced once per request by
// Classify and never mutated afterward. Everything downstream (auth,
// limiters, selector, dispatcher) reads from it; only Auth is allowed to
// fill in ConsumerID after the fact (see SetConsumer).
package calldetails

// CallKind is the inferred semantic type of an inbound request.
type CallKind string

const (
	CallKindChat             CallKind = "chat"
	CallKindCompletion       CallKind = "completion"
	CallKindEmbedding        CallKind = "embedding"
	CallKindImageGeneration  CallKind = "image_generation"
	CallKindTranscription    CallKind = "transcription"
	CallKindTranslation      CallKind = "translation"
	CallKindAssistantControl CallKind = "assistant_control"
	CallKindRealtime         CallKind = "realtime"
	CallKindOther            CallKind = "other"
)

// ResponseShape says whether the upstream response is a single JSON body or
// an incrementally-delivered stream (SSE or, for Realtime, a websocket).
type ResponseShape string

const (
	Buffered  ResponseShape = "buffered"
	Streaming ResponseShape = "streaming"
)

// CallDetails is the normalized, immutable-after-classification view of one
// inbound request. It is built once by Classify and passed through the
// pipeline as an explicit argument to every step, selector and dispatcher.
type CallDetails struct {
	CallKind          CallKind
	IncomingModelName string // empty means "not carried by this call kind"
	DeploymentName    string
	AssistantID       string
	PromptText        string
	ResponseShape     ResponseShape
	RemainingPath     string // URL suffix to forward upstream, leading slash stripped
	RawBody           []byte // byte-exact original body; stable across retries
	ConsumerID        string // filled in by the auth step, empty until then
	PreferredEndpointID string // from x-aicentral-affinity, empty if absent

	// RequestID is not part of the spec's data model but every pipeline
	// needs a stable handle for logging/telemetry correlation.
	RequestID string
}

// HasModel reports whether the call kind carries a model/deployment name at
// all (assistant-control calls and some "other" calls do not).
func (c *CallDetails) HasModel() bool {
	return c.IncomingModelName != "" || c.DeploymentName != ""
}

// IsStreaming reports whether the upstream response is delivered
// incrementally (SSE or websocket) rather than as one buffered body.
func (c *CallDetails) IsStreaming() bool {
	return c.ResponseShape == Streaming
}

// ModelKey returns the name used to look up the upstream model mapping:
// deployment name takes precedence (Azure-shaped requests name the
// deployment in the URL, not the body), falling back to the body's model
// field (OpenAI-shaped requests).
func (c *CallDetails) ModelKey() string {
	if c.DeploymentName != "" {
		return c.DeploymentName
	}
	return c.IncomingModelName
}
