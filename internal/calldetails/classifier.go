package calldetails

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ErrMalformedBody is returned when a POST body fails to parse as JSON.
// The pipeline maps this to a 400 response (spec §7, MalformedRequest).
var ErrMalformedBody = errors.New("calldetails: malformed request body")

const maxBodyBytes = 50 * 1024 * 1024 // mirrors the teacher's MaxRequestBodySize

// pathPattern describes one recognized Azure- or OpenAI-shaped route.
type pathPattern struct {
	kind      CallKind
	hasDeploy bool // Azure-shaped: /openai/deployments/{deployment}/...
}

// azureTails maps the segment following "/openai/deployments/{deployment}/"
// (or, for OpenAI-shaped requests, the segment following "/v1/") to a call kind.
var azureTails = map[string]pathPattern{
	"chat/completions":     {kind: CallKindChat},
	"completions":          {kind: CallKindCompletion},
	"embeddings":           {kind: CallKindEmbedding},
	"images/generations":   {kind: CallKindImageGeneration},
	"audio/transcriptions": {kind: CallKindTranscription},
	"audio/translations":   {kind: CallKindTranslation},
}

// Classify inspects method, URL, and (for POST) JSON body to produce a
// CallDetails. The request body is read fully into memory here — required
// so the dispatcher can rewrite "model" and so a single retry can replay the
// same bytes (spec §3 invariant: RawBody is stable across retries).
func Classify(r *http.Request) (*CallDetails, error) {
	cd := &CallDetails{
		CallKind:      CallKindOther,
		ResponseShape: Buffered,
		RequestID:     uuid.NewString(),
	}

	if err := readBody(r, cd); err != nil {
		return nil, err
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	classifyPath(path, cd)

	if isWebsocketUpgrade(r) && isRealtimePath(path) {
		cd.CallKind = CallKindRealtime
		cd.ResponseShape = Streaming
	}

	if cd.PreferredEndpointID == "" {
		cd.PreferredEndpointID = r.Header.Get("x-aicentral-affinity")
	}

	if len(cd.RawBody) > 0 && r.Method == http.MethodPost {
		if !gjson.ValidBytes(cd.RawBody) {
			return nil, fmt.Errorf("%w: %s", ErrMalformedBody, path)
		}
		populateFromBody(cd)
	}

	return cd, nil
}

func readBody(r *http.Request, cd *CallDetails) error {
	if r.Body == nil {
		return nil
	}
	limited := io.LimitReader(r.Body, maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("calldetails: reading body: %w", err)
	}
	if int64(len(body)) > maxBodyBytes {
		return fmt.Errorf("calldetails: body exceeds %d bytes", maxBodyBytes)
	}
	cd.RawBody = body
	return nil
}

// classifyPath recognizes the Azure `/openai/deployments/{dep}/{tail}`,
// Azure `/openai/assistants[/{id}][/...]`, and OpenAI `/v1/{tail}` shapes.
// Unknown shapes leave CallKind at CallKindOther and forward RemainingPath
// untouched, per spec §4.1's "never errors on an unknown shape" rule.
func classifyPath(path string, cd *CallDetails) {
	segs := strings.Split(path, "/")

	switch {
	case len(segs) >= 3 && segs[0] == "openai" && segs[1] == "deployments":
		cd.DeploymentName = segs[2]
		tail := strings.Join(segs[3:], "/")
		cd.RemainingPath = tail
		if p, ok := matchTail(tail); ok {
			cd.CallKind = p.kind
		}

	case len(segs) >= 2 && segs[0] == "openai" && segs[1] == "assistants":
		cd.CallKind = CallKindAssistantControl
		if len(segs) >= 3 && segs[2] != "" {
			cd.AssistantID = segs[2]
		}
		cd.RemainingPath = strings.Join(segs[1:], "/")

	case len(segs) >= 2 && segs[0] == "v1":
		tail := strings.Join(segs[1:], "/")
		cd.RemainingPath = tail
		if p, ok := matchTail(tail); ok {
			cd.CallKind = p.kind
		} else if strings.HasPrefix(tail, "assistants") {
			cd.CallKind = CallKindAssistantControl
			rest := strings.TrimPrefix(tail, "assistants")
			rest = strings.TrimPrefix(rest, "/")
			if id, _, _ := strings.Cut(rest, "/"); id != "" {
				cd.AssistantID = id
			}
		}

	default:
		cd.RemainingPath = path
	}
}

func matchTail(tail string) (pathPattern, bool) {
	for suffix, p := range azureTails {
		if tail == suffix {
			return p, true
		}
	}
	return pathPattern{}, false
}

// populateFromBody extracts model, stream flag, and a flattened prompt text
// from the JSON body using gjson, avoiding a full struct decode on the hot
// path (grounded in the teacher's gjson/sjson-based body inspection).
func populateFromBody(cd *CallDetails) {
	body := cd.RawBody

	if m := gjson.GetBytes(body, "model"); m.Exists() {
		cd.IncomingModelName = m.String()
	}

	if s := gjson.GetBytes(body, "stream"); s.Exists() && s.Type == gjson.True {
		cd.ResponseShape = Streaming
	}

	switch cd.CallKind {
	case CallKindChat:
		cd.PromptText = joinChatMessages(body)
	case CallKindCompletion:
		if p := gjson.GetBytes(body, "prompt"); p.Exists() {
			cd.PromptText = flattenValue(p)
		}
	case CallKindEmbedding:
		if in := gjson.GetBytes(body, "input"); in.Exists() {
			cd.PromptText = flattenValue(in)
		}
	}

	if cd.AssistantID == "" {
		if a := gjson.GetBytes(body, "assistant_id"); a.Exists() {
			cd.AssistantID = a.String()
		}
	}
}

// joinChatMessages concatenates messages[*].content with newlines. content
// may be a plain string or (vision-style requests) an array of content
// blocks, in which case only the "text" fields are joined.
func joinChatMessages(body []byte) string {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return ""
	}

	var parts []string
	messages.ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if text := flattenValue(content); text != "" {
			parts = append(parts, text)
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// flattenValue turns a gjson string/array-of-blocks value into plain text.
func flattenValue(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		var parts []string
		v.ForEach(func(_, item gjson.Result) bool {
			if item.Type == gjson.String {
				parts = append(parts, item.String())
				return true
			}
			if t := item.Get("text"); t.Exists() {
				parts = append(parts, t.String())
			}
			return true
		})
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func isRealtimePath(path string) bool {
	return strings.Contains(path, "/realtime")
}

// SetConsumer tags the call details with the consumer id resolved by the
// auth step. CallDetails is otherwise immutable after Classify; this is the
// one sanctioned post-classification mutation (spec §4.6 step 4).
func (c *CallDetails) SetConsumer(consumerID string) {
	c.ConsumerID = consumerID
}
