// Package host wires built pipelines into an HTTP server: hostname-based
// dispatch, Prometheus scraping, liveness/readiness probes, and a realtime
// WebSocket passthrough for the voice/realtime call kind (spec §6, §12,
// §13). Routing is chi-based, grounded on the pack's
// pablohgiraldo-llm-control-plane/backend/routes SetupRoutes shape.
package host

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aicentral/gateway/internal/config"
	"github.com/aicentral/gateway/internal/utils"
)

// Host owns the chi router dispatching to every built pipeline by
// inbound Host header.
type Host struct {
	built         *config.Built
	metricsPath   string
	dashboardPath string
	dashboard     http.HandlerFunc // nil when the dashboard isn't enabled
	router        chi.Router
}

// New builds a Host from a config.Built. dashboard may be nil; pass
// internal/dashboard's Handler when cfg.Server.DashboardEnable is set.
func New(built *config.Built, metricsPath, dashboardPath string, dashboard http.HandlerFunc) *Host {
	h := &Host{built: built, metricsPath: metricsPath, dashboardPath: dashboardPath, dashboard: dashboard}
	h.router = h.buildRouter()
	return h
}

func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Host) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleLiveness)
	r.Get("/readyz", h.handleReadiness)
	r.Handle(h.metricsPath, promhttp.Handler())

	if h.dashboard != nil && h.dashboardPath != "" {
		r.Get(h.dashboardPath, h.dashboard)
	}

	r.NotFound(h.handlePipelineRequest)
	r.MethodNotAllowed(h.handlePipelineRequest)

	return r
}

// handlePipelineRequest is mounted as the catch-all route: every gateway
// path (/openai/..., /v1/..., /v1/realtime) is pipeline-specific and
// resolved by hostname rather than by a fixed chi pattern.
func (h *Host) handlePipelineRequest(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.built.ByHost[hostOnly(r.Host)]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no pipeline configured for this hostname")
		return
	}

	if isRealtimeUpgrade(r) {
		h.proxyRealtime(handle, w, r)
		return
	}

	handle.Pipeline.ServeHTTP(w, r)
}

func (h *Host) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().Format(time.RFC3339)})
}

// handleReadiness reports unready whenever any pipeline's bulkhead steps
// are all at their ceiling, a signal a load balancer can use to stop
// sending new traffic here (spec §12's supplemented readiness probe).
func (h *Host) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	details := make(map[string]any, len(h.built.ByName))

	for _, handle := range h.built.ByName {
		saturated := len(handle.Bulkheads) > 0
		for _, bh := range handle.Bulkheads {
			if !bh.AtCeiling() {
				saturated = false
				break
			}
		}
		details[handle.Name] = map[string]any{
			"active_requests": handle.Pipeline.ActiveRequests(),
			"saturated":       saturated,
		}
		if saturated {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]any{"status": status, "pipelines": details})
}

func hostOnly(hostHeader string) string {
	for i := 0; i < len(hostHeader); i++ {
		if hostHeader[i] == ':' {
			return hostHeader[:i]
		}
	}
	return hostHeader
}

func isRealtimeUpgrade(r *http.Request) bool {
	upgrade := r.Header.Get("Upgrade")
	return upgrade != "" && (upgrade == "websocket" || upgrade == "Websocket" || upgrade == "WebSocket")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"message": msg, "type": "gateway_error"}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := utils.MarshalNoEscape(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err == nil {
		_, _ = w.Write(body)
	}
}
