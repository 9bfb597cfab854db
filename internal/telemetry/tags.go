package telemetry

import "github.com/aicentral/gateway/internal/calldetails"

// Tags dimensions every metric a Recorder accepts (spec §4.7).
type Tags struct {
	Pipeline   string
	Endpoint   string
	Deployment string
	Model      string
	CallKind   calldetails.CallKind
	Streaming  bool
	Success    bool
	ClientName string // empty when auth is disabled or the call never reached auth
}

// asLabels flattens Tags into the Prometheus label map shared by every
// metric this package registers. Streaming/Success are stringified since
// Prometheus labels are strings.
func (t Tags) asLabels() map[string]string {
	return map[string]string{
		"pipeline":    t.Pipeline,
		"endpoint":    t.Endpoint,
		"deployment":  t.Deployment,
		"model":       t.Model,
		"call_kind":   string(t.CallKind),
		"streaming":   boolLabel(t.Streaming),
		"success":     boolLabel(t.Success),
		"client_name": t.ClientName,
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
