// Package config loads the declarative YAML configuration surface (spec
// §6) and builds the live pipeline.Pipeline objects it describes: auth,
// limiter steps, the endpoint-selector tree, and endpoint descriptors at
// the leaves.
package config

// Config is the top-level document loaded from a gateway config file.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Pipelines []PipelineConfig `yaml:"pipelines"`
}

// ServerConfig configures the HTTP host (internal/host), out of scope for
// the pipeline core itself but declared alongside it since one config file
// drives the whole process.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MetricsPath     string   `yaml:"metrics_path"`
	DashboardPath   string   `yaml:"dashboard_path"`
	DashboardEnable bool     `yaml:"dashboard_enabled"`
}

// PipelineConfig declares one pipeline: the hostname it answers for, its
// auth spec, its ordered limiter steps, and its endpoint-selector tree
// (spec §6).
type PipelineConfig struct {
	Name         string         `yaml:"name"`
	Hostname     string         `yaml:"hostname"`
	Diagnostics  bool           `yaml:"diagnostics"`
	LatencyAlpha float64        `yaml:"latency_alpha"`
	Auth         AuthConfig     `yaml:"auth"`
	Steps        []StepConfig   `yaml:"steps"`
	Selector     SelectorConfig `yaml:"selector"`
}

// AuthConfig is either Mode: "none" (anonymous, every caller admitted) or a
// list of named clients, each with one or more allowed keys (spec §6).
type AuthConfig struct {
	Mode    string         `yaml:"mode"` // "none" or "api_key"; empty defaults to "api_key" when Clients is non-empty
	Clients []ClientConfig `yaml:"clients"`
}

// ClientConfig names one consumer and the API keys that authenticate as it.
type ClientConfig struct {
	Name        string   `yaml:"name"`
	AllowedKeys []string `yaml:"allowed_keys"`
}

// StepConfig is a tagged union over the three limiter step kinds (spec
// §4.4). Exactly one of Bulkhead/RequestRate/TokenRate should be set,
// matching Type.
type StepConfig struct {
	Type        string             `yaml:"type"` // "bulkhead", "request_rate", "token_rate"
	Bulkhead    *BulkheadConfig    `yaml:"bulkhead,omitempty"`
	RequestRate *RequestRateConfig `yaml:"request_rate,omitempty"`
	TokenRate   *TokenRateConfig   `yaml:"token_rate,omitempty"`
}

// BulkheadConfig configures a fixed-capacity concurrency semaphore step.
type BulkheadConfig struct {
	Capacity  int      `yaml:"capacity"`
	Partition string   `yaml:"partition"` // "per_pipeline" or "per_consumer"
	WaitFor   Duration `yaml:"wait_for"`  // 0 = reject fast
}

// RequestRateConfig configures a requests-per-window admission step.
type RequestRateConfig struct {
	Requests  int      `yaml:"requests"`
	Window    Duration `yaml:"window"`
	Partition string   `yaml:"partition"`
}

// TokenRateConfig configures an estimated-tokens-per-window admission step.
type TokenRateConfig struct {
	Tokens              int      `yaml:"tokens"`
	Window              Duration `yaml:"window"`
	Partition           string   `yaml:"partition"`
	CompletionAllowance int      `yaml:"completion_allowance"`
}

// SelectorConfig is a tagged union over the five selector strategies (spec
// §4.3). Endpoint descriptors live at the leaves: Endpoints for
// random/lowest_latency, Tiers for priority, Children for hierarchical,
// Inner (+TTL/DurablePath) for affinity.
type SelectorConfig struct {
	Type string `yaml:"type"` // "random", "priority", "lowest_latency", "hierarchical", "affinity"

	Endpoints []EndpointConfig   `yaml:"endpoints,omitempty"`
	Tiers     [][]EndpointConfig `yaml:"tiers,omitempty"`
	Children  []SelectorConfig   `yaml:"children,omitempty"`

	Inner       *SelectorConfig `yaml:"inner,omitempty"`
	TTL         Duration        `yaml:"ttl,omitempty"`
	DurablePath string          `yaml:"durable_path,omitempty"` // non-empty selects a sqlite-backed affinity store
}

// EndpointConfig is the declarative form of endpoint.Descriptor (spec §3).
type EndpointConfig struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"` // "azure_openai" or "openai"

	BaseURL string `yaml:"base_url"`

	APIVersion string `yaml:"api_version"`  // azure_openai only
	APIKey     string `yaml:"api_key"`      // azure_openai: static "api-key" header auth
	UseADToken bool   `yaml:"use_ad_token"` // azure_openai: AAD bearer token auth instead of APIKey

	BearerKey    string `yaml:"bearer_key"` // openai only
	Organization string `yaml:"organization"`

	ModelMap map[string]string `yaml:"model_map"`

	MaxConcurrency int      `yaml:"max_concurrency"`
	Timeout        Duration `yaml:"timeout"`
}
