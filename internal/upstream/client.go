// Package upstream builds the shared *http.Client every endpoint
// dispatcher sends upstream HTTP calls through (spec §1: "out of scope ...
// the concrete upstream HTTP client (TLS, connection pooling) — only its
// request/response contract matters"). It exists as a real collaborator
// nonetheless, since something has to build that client.
package upstream

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ClientConfig tunes the shared transport's connection pooling and the
// retry policy for transient upstream failures.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// MaxRetries bounds the exponential-backoff retry loop for requests
	// whose body is replayable (GET, or any request with a buffered
	// body this client is allowed to resend). Zero disables retry.
	MaxRetries int
	MaxElapsed time.Duration
}

// DefaultClientConfig mirrors the timeouts the teacher's own outbound
// clients use (internal/preemptive/summarizer.go, cmd/updater.go), scaled
// up for a proxy that holds long-lived streaming connections.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		MaxRetries:          2,
		MaxElapsed:          5 * time.Second,
	}
}

// NewClient builds the *http.Client dispatchers share. It has no overall
// Timeout field set — each dispatch applies its own deadline via
// context.WithTimeout (Descriptor.Timeout), and a blanket client timeout
// would cut off legitimate long-lived streaming responses.
func NewClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	return &http.Client{Transport: &retryingTransport{base: transport, cfg: cfg}}
}

// retryingTransport wraps the pooled transport with exponential-backoff
// retry for transient failures, grounded on the pack's
// yduwcui-ai-gateway backoff.Retry usage: DNS errors and 4xx responses are
// permanent (no retry); 5xx responses and other transport errors, such as
// connection resets, are retried.
type retryingTransport struct {
	base http.RoundTripper
	cfg  ClientConfig
}

func (t *retryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.cfg.MaxRetries <= 0 || (req.Body != nil && req.GetBody == nil) {
		// A non-replayable body (no GetBody) can't be safely resent.
		return t.base.RoundTrip(req)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = t.cfg.MaxElapsed
	retryable := backoff.WithMaxRetries(b, uint64(t.cfg.MaxRetries))

	var resp *http.Response
	operation := func() error {
		attemptReq := req
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(fmt.Errorf("upstream: rebuild request body for retry: %w", err))
			}
			clone := req.Clone(req.Context())
			clone.Body = body
			attemptReq = clone
		}

		r, err := t.base.RoundTrip(attemptReq)
		if err != nil {
			var urlErr *url.Error
			var dnsErr *net.DNSError
			if errors.As(err, &urlErr) || errors.As(err, &dnsErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		if r.StatusCode >= 500 {
			_ = r.Body.Close()
			return fmt.Errorf("upstream: %s", r.Status)
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, retryable); err != nil {
		if resp != nil {
			return resp, nil
		}
		return nil, err
	}
	return resp, nil
}
