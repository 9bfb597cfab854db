// Package endpoint implements EndpointDescriptor (immutable upstream
// config) and the two Dispatcher variants that know how to talk to an
// Azure OpenAI or OpenAI-shaped upstream.
package endpoint

import (
	"context"
	"time"
)

// Kind identifies the upstream provider shape.
type Kind string

const (
	KindAzureOpenAI Kind = "azure_openai"
	KindOpenAI      Kind = "openai"
)

// TokenCredential resolves a bearer token on demand, modeled on the
// aws-sdk-go-v2 CredentialsProvider shape so an AAD app-registration
// provider and a static-key provider share one interface.
type TokenCredential interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenCredential that always returns the same value —
// used to adapt a plain API key onto the TokenCredential interface where a
// dispatcher wants to treat both uniformly.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Descriptor is the immutable, process-lifetime configuration for one
// upstream endpoint (spec §3). It is built once as a struct literal
// (internal/config builds one per configured endpoint); nothing downstream
// mutates it.
type Descriptor struct {
	ID   string
	Kind Kind

	BaseURL string

	// Azure-only.
	APIVersion      string
	APIKey          string          // static "api-key" header auth, empty if using AAD
	TokenCredential TokenCredential // AAD bearer-token auth, nil if using APIKey

	// OpenAI-only.
	BearerKey    string
	Organization string

	// ModelMap maps the incoming model/deployment name to the name the
	// upstream expects. A request naming a model absent from this map is
	// rejected with ModelUnmapped (spec §4.2 step 1) before any network call.
	ModelMap map[string]string

	// MaxConcurrency, when > 0, bounds concurrent in-flight dispatches to
	// this endpoint via an internal semaphore (spec §4.2 step 5).
	MaxConcurrency int

	// Timeout bounds one upstream round trip; expiry maps to 504 (spec §5).
	Timeout time.Duration
}

// ResolveUpstreamModel looks up the upstream model name for an incoming
// model/deployment key. The second return is false if unmapped.
func (d *Descriptor) ResolveUpstreamModel(incoming string) (string, bool) {
	if d.ModelMap == nil {
		return "", false
	}
	m, ok := d.ModelMap[incoming]
	return m, ok
}
