package config

import "time"

// Centralized defaults/magic numbers, mirroring how the teacher collects
// these in internal/config/defaults.go rather than scattering literals
// through call sites.

const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = Duration(30 * time.Second)
	DefaultWriteTimeout    = Duration(10 * time.Minute) // safe for streaming responses
	DefaultShutdownTimeout = Duration(30 * time.Second)
	DefaultMetricsPath     = "/metrics"
	DefaultDashboardPath   = "/debug/pipelines"

	DefaultBulkheadWaitFor     = Duration(0)
	DefaultCompletionAllowance = 256
	DefaultLatencyAlpha        = 0.3
	DefaultEndpointTimeout     = Duration(60 * time.Second)

	DefaultPartition = "per_pipeline"
	DefaultAuthMode  = "api_key"
)
