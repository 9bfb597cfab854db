// Package authstep implements the gateway's inbound API-key gate: the
// always-first pipeline step that resolves the caller's client name and
// tags CallDetails.ConsumerID for every subsequent step (spec §4.6 step 4).
package authstep

import (
	"context"
	"net/http"
	"strings"

	"github.com/aicentral/gateway/internal/calldetails"
	"github.com/aicentral/gateway/internal/limiter"
	"github.com/aicentral/gateway/internal/usage"
	"github.com/aicentral/gateway/internal/utils"
)

// Client is one configured (clientName, allowedKeys) pair from the
// pipeline's auth specification (spec §6).
type Client struct {
	Name        string
	AllowedKeys []string
}

// Step validates the caller's API key against the configured clients and,
// on success, tags the request with that client's name as ConsumerID. An
// empty client list means auth is disabled ("none" in config) and every
// request is admitted as an anonymous consumer.
type Step struct {
	keyToClient map[string]string
	disabled    bool
}

// New builds an auth Step from a pipeline's configured client list. Pass no
// clients to get the "none" auth spec (always admits).
func New(clients []Client) *Step {
	s := &Step{keyToClient: make(map[string]string)}
	if len(clients) == 0 {
		s.disabled = true
		return s
	}
	for _, c := range clients {
		for _, key := range c.AllowedKeys {
			s.keyToClient[key] = c.Name
		}
	}
	return s
}

func (s *Step) Name() string { return "auth" }

func (s *Step) Pre(ctx context.Context, w http.ResponseWriter, r *http.Request, cd *calldetails.CallDetails) limiter.Decision {
	if s.disabled {
		return limiter.Decision{Admitted: true}
	}

	key := apiKeyFrom(r)
	clientName, ok := s.keyToClient[key]
	if key == "" || !ok {
		writeUnauthorized(w)
		return limiter.Decision{Admitted: false}
	}
	cd.SetConsumer(clientName)
	return limiter.Decision{Admitted: true}
}

func (s *Step) Post(cd *calldetails.CallDetails, decision limiter.Decision, info *usage.Information) {
	// Nothing to release; admission here is stateless.
}

// apiKeyFrom extracts the caller's key from either an Authorization: Bearer
// header or an api-key header (Azure OpenAI's convention), preferring
// whichever is present.
func apiKeyFrom(r *http.Request) string {
	if key := r.Header.Get("api-key"); key != "" {
		return key
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func writeUnauthorized(w http.ResponseWriter) {
	body, err := utils.MarshalNoEscape(map[string]any{
		"error": map[string]string{
			"message": "invalid API key",
			"type":    "gateway_error",
		},
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err == nil {
		_, _ = w.Write(body)
	}
}

// bearerToken extracts the token from an "Authorization: Bearer ..." header
// value, passing bare tokens through unchanged for clients that omit the
// scheme.
func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if strings.HasPrefix(authHeader, prefix) {
		return strings.TrimSpace(authHeader[len(prefix):])
	}
	return authHeader
}
