package telemetry

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// tagLabelNames is the fixed label set every tagged metric this recorder
// creates carries, matching Tags.asLabels' keys.
var tagLabelNames = []string{"pipeline", "endpoint", "deployment", "model", "call_kind", "streaming", "success", "client_name"}

// PrometheusRecorder is the default Recorder (spec §4.7), backing
// histograms/up-down-counters/gauges with lazily-registered Prometheus
// vectors, grounded on the pack's promauto.NewXVec usage
// (manifold-inc-sybil-api/internal/metrics) generalized to runtime-chosen
// metric names instead of package-level globals, since pipeline steps name
// their own metrics.
type PrometheusRecorder struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	counters   map[string]*prometheus.GaugeVec // up-down counters have no native Prometheus type; a gauge is the idiomatic stand-in
	named      map[string]prometheus.Gauge
}

// NewPrometheusRecorder builds a Recorder registering its vectors against
// reg. Pass prometheus.DefaultRegisterer to expose metrics on the default
// /metrics handler internal/host wires up.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	return &PrometheusRecorder{
		registerer: reg,
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		counters:   make(map[string]*prometheus.GaugeVec),
		named:      make(map[string]prometheus.Gauge),
	}
}

func (p *PrometheusRecorder) Histogram(name string, value float64, tags Tags) {
	p.mu.Lock()
	hv, ok := p.histograms[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: sanitizeMetricName(name),
			Help: "gateway histogram " + name,
		}, tagLabelNames)
		p.registerer.MustRegister(hv)
		p.histograms[name] = hv
	}
	p.mu.Unlock()

	hv.With(tags.asLabels()).Observe(value)
}

func (p *PrometheusRecorder) UpDownCounter(name string, delta float64, tags Tags) {
	p.mu.Lock()
	gv, ok := p.counters[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: sanitizeMetricName(name),
			Help: "gateway up-down counter " + name,
		}, tagLabelNames)
		p.registerer.MustRegister(gv)
		p.counters[name] = gv
	}
	p.mu.Unlock()

	gv.With(tags.asLabels()).Add(delta)
}

func (p *PrometheusRecorder) Gauge(name string, value float64, tags Tags) {
	p.mu.Lock()
	gv, ok := p.gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: sanitizeMetricName(name),
			Help: "gateway gauge " + name,
		}, tagLabelNames)
		p.registerer.MustRegister(gv)
		p.gauges[name] = gv
	}
	p.mu.Unlock()

	gv.With(tags.asLabels()).Set(value)
}

func (p *PrometheusRecorder) NamedGauge(metricName string, value float64) {
	p.mu.Lock()
	g, ok := p.named[metricName]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: sanitizeMetricName(metricName),
			Help: "gateway per-downstream gauge " + metricName,
		})
		p.registerer.MustRegister(g)
		p.named[metricName] = g
	}
	p.mu.Unlock()

	g.Set(value)
}

// sanitizeMetricName maps a dotted metric name ("downstream.api.openai.com.gpt-4o.latency")
// to Prometheus' underscore convention.
func sanitizeMetricName(name string) string {
	replaced := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return "gateway_" + replaced
}
