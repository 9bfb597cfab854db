// Package telemetry implements the gateway's abstract metrics sink (spec
// §4.7): three tagged operations — histogram, up-down counter, gauge — each
// carrying the Tags dimensions, a NamedGauge operation whose metric name
// encodes its dimensions, plus an activeRequests up-down counter
// maintained across a request's lifecycle by internal/pipeline.
package telemetry

// Recorder is the sink every pipeline step and dispatcher writes to.
// Implementations must be safe for concurrent use; callers never check
// errors because telemetry failures are swallowed and logged once at the
// source (spec §7 policy).
type Recorder interface {
	// Histogram records one observation of a continuously-valued metric
	// (request duration, token counts) under the given tags.
	Histogram(name string, value float64, tags Tags)

	// UpDownCounter adjusts a running total that can move in either
	// direction (activeRequests) by delta.
	UpDownCounter(name string, delta float64, tags Tags)

	// Gauge records the current value of a tagged metric (bulkhead
	// occupancy).
	Gauge(name string, value float64, tags Tags)

	// NamedGauge records a gauge that cannot carry dimensions, using the
	// fully-qualified metric name itself to encode them (spec §4.7:
	// "downstream.{host_normalized}.{modelOrDeployment}.{metric}").
	NamedGauge(metricName string, value float64)
}

// Noop discards every metric. Used when a pipeline is built without a
// Recorder configured, or in tests that don't care about telemetry.
type Noop struct{}

func (Noop) Histogram(string, float64, Tags)     {}
func (Noop) UpDownCounter(string, float64, Tags) {}
func (Noop) Gauge(string, float64, Tags)         {}
func (Noop) NamedGauge(string, float64)          {}
