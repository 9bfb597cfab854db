package host

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/aicentral/gateway/internal/config"
	"github.com/aicentral/gateway/internal/endpoint"
)

// proxyRealtime bridges a client WebSocket connection to the realtime
// voice endpoint of the first dispatcher in the pipeline's selector tree
// (spec §13's supplemented realtime call kind). The limiter step stack and
// selector strategy are built around one-shot request/response calls and
// don't fit a long-lived bidirectional session, so a realtime session
// bypasses both and dispatches directly — grounded on the pack's
// coder/websocket client usage in internal/auth/auth_client.go, adapted to
// the server side of that same library.
func (h *Host) proxyRealtime(handle *config.Handle, w http.ResponseWriter, r *http.Request) {
	dispatchers := handle.Pipeline.Selector.Flatten()
	if len(dispatchers) == 0 {
		writeJSONError(w, http.StatusBadGateway, "no endpoint configured for realtime")
		return
	}
	desc := dispatchers[0].Descriptor()

	client, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("host: realtime client accept failed")
		return
	}
	defer client.CloseNow()

	ctx := r.Context()
	upstream, err := dialRealtimeUpstream(ctx, desc, r)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", desc.ID).Msg("host: realtime upstream dial failed")
		_ = client.Close(websocket.StatusInternalError, "upstream unavailable")
		return
	}
	defer upstream.CloseNow()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pumpWS(ctx, client, upstream) }()
	go func() { defer wg.Done(); pumpWS(ctx, upstream, client) }()
	wg.Wait()
}

func dialRealtimeUpstream(ctx context.Context, desc *endpoint.Descriptor, r *http.Request) (*websocket.Conn, error) {
	target := toWebSocketURL(desc.BaseURL) + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	header := http.Header{}
	switch desc.Kind {
	case endpoint.KindAzureOpenAI:
		if desc.APIKey != "" {
			header.Set("api-key", desc.APIKey)
		} else if desc.TokenCredential != nil {
			token, err := desc.TokenCredential.Token(ctx)
			if err != nil {
				return nil, err
			}
			header.Set("Authorization", "Bearer "+token)
		}
	case endpoint.KindOpenAI:
		header.Set("Authorization", "Bearer "+desc.BearerKey)
		if desc.Organization != "" {
			header.Set("OpenAI-Organization", desc.Organization)
		}
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: header})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// pumpWS relays messages from src to dst until either side closes or
// errors; the caller runs one of these per direction.
func pumpWS(ctx context.Context, dst, src *websocket.Conn) {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			_ = dst.Close(websocket.StatusNormalClosure, "peer closed")
			return
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			_ = src.Close(websocket.StatusNormalClosure, "peer closed")
			return
		}
	}
}

func toWebSocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}
