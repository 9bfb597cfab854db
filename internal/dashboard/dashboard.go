// Package dashboard serves a read-only HTML operator view over the live
// pipelines: active request counts, per-endpoint latency EWMA, bulkhead
// occupancy, and affinity-table size. Adapted from the teacher's
// internal/costcontrol/dashboard.go string-builder HTML generation, traded
// out for per-pipeline/per-endpoint operational state instead of per-session
// cost state.
package dashboard

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/aicentral/gateway/internal/config"
	"github.com/aicentral/gateway/internal/endpoint"
	"github.com/aicentral/gateway/internal/utils"
)

// Handler builds the /debug/pipelines HTTP handler over a live config.Built.
func Handler(built *config.Built) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render(w, built)
	}
}

func render(w http.ResponseWriter, built *config.Built) {
	handles := make([]*config.Handle, len(built.ByName))
	copy(handles, built.ByName)
	sort.Slice(handles, func(i, j int) bool { return handles[i].Name < handles[j].Name })

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<title>Gateway - Pipeline Dashboard</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: 'SF Mono', 'Fira Code', 'Cascadia Code', monospace; background: #0d1117; color: #c9d1d9; padding: 24px; }
  h1 { color: #58a6ff; font-size: 18px; margin-bottom: 16px; }
  h2 { color: #d2a8ff; font-size: 14px; margin: 20px 0 8px; }
  table { width: 100%; border-collapse: collapse; background: #161b22; border: 1px solid #30363d; border-radius: 6px; overflow: hidden; margin-bottom: 16px; }
  th { text-align: left; padding: 10px 14px; font-size: 11px; color: #8b949e; text-transform: uppercase; letter-spacing: 1px; background: #0d1117; border-bottom: 1px solid #30363d; }
  td { padding: 10px 14px; font-size: 13px; border-bottom: 1px solid #21262d; }
  tr:last-child td { border-bottom: none; }
  .ok { color: #3fb950; }
  .warn { color: #d29922; }
  .danger { color: #f85149; }
  .footer { margin-top: 16px; font-size: 11px; color: #484f58; }
</style>
</head>
<body>
<h1>Gateway - Pipeline Dashboard</h1>
`)

	for _, h := range handles {
		renderPipeline(&b, h)
	}

	b.WriteString(`<div class="footer">Auto-refreshes every 5 seconds</div>
</body>
</html>`)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func renderPipeline(b *strings.Builder, h *config.Handle) {
	fmt.Fprintf(b, `<h2>%s <span style="color:#8b949e">(%s)</span></h2>
<table>
<tr><th>Active Requests</th><th>Affinity Entries</th><th>Bulkheads</th></tr>
<tr>`, h.Name, h.Hostname)

	fmt.Fprintf(b, `<td>%d</td>`, h.Pipeline.ActiveRequests())

	if h.Affinity != nil {
		fmt.Fprintf(b, `<td>%d</td>`, h.Affinity.Size())
	} else {
		b.WriteString(`<td>&mdash;</td>`)
	}

	if len(h.Bulkheads) == 0 {
		b.WriteString(`<td>&mdash;</td>`)
	} else {
		var parts []string
		for _, bh := range h.Bulkheads {
			cls := "ok"
			if bh.AtCeiling() {
				cls = "danger"
			}
			total := 0
			for _, used := range bh.Occupancy() {
				total += used
			}
			parts = append(parts, fmt.Sprintf(`<span class="%s">%d/%d</span>`, cls, total, bh.Capacity()))
		}
		fmt.Fprintf(b, `<td>%s</td>`, strings.Join(parts, ", "))
	}
	b.WriteString("</tr>\n</table>\n")

	dispatchers := h.Pipeline.Selector.Flatten()
	if len(dispatchers) == 0 {
		return
	}

	b.WriteString(`<table>
<tr><th>Endpoint</th><th>Kind</th><th>Latency (EWMA ms)</th><th>Credential</th></tr>
`)
	for _, d := range dispatchers {
		desc := d.Descriptor()
		latencyCell := "&mdash;"
		if ms, ok := h.Tracker.Sample(desc.ID); ok {
			latencyCell = fmt.Sprintf("%.1f", ms)
		}
		fmt.Fprintf(b, `<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>
`, desc.ID, desc.Kind, latencyCell, credentialDisplay(desc))
	}
	b.WriteString("</table>\n")
}

// credentialDisplay masks whichever credential an endpoint is configured
// with so the dashboard never renders a usable secret (grounded on the
// teacher's utils.MaskKey logging convention).
func credentialDisplay(desc *endpoint.Descriptor) string {
	switch {
	case desc.TokenCredential != nil && desc.APIKey == "":
		return "AAD token"
	case desc.APIKey != "":
		return utils.MaskKey(desc.APIKey)
	case desc.BearerKey != "":
		return utils.MaskKey(desc.BearerKey)
	default:
		return "&mdash;"
	}
}
