package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a gateway config file from path, expands environment
// variable references, parses it, applies defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(raw)
}

// Parse parses already-read config bytes, for callers that source config
// from somewhere other than the filesystem (tests, embedded defaults).
func Parse(raw []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = DefaultMetricsPath
	}
	if cfg.Server.DashboardPath == "" {
		cfg.Server.DashboardPath = DefaultDashboardPath
	}

	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		if p.Auth.Mode == "" {
			if len(p.Auth.Clients) == 0 {
				p.Auth.Mode = "none"
			} else {
				p.Auth.Mode = DefaultAuthMode
			}
		}
		if p.LatencyAlpha == 0 {
			p.LatencyAlpha = DefaultLatencyAlpha
		}
		for j := range p.Steps {
			applyStepDefaults(&p.Steps[j])
		}
		applyEndpointDefaults(&p.Selector)
	}
}

func applyStepDefaults(s *StepConfig) {
	switch s.Type {
	case "bulkhead":
		if s.Bulkhead != nil && s.Bulkhead.Partition == "" {
			s.Bulkhead.Partition = DefaultPartition
		}
	case "request_rate":
		if s.RequestRate != nil && s.RequestRate.Partition == "" {
			s.RequestRate.Partition = DefaultPartition
		}
	case "token_rate":
		if s.TokenRate == nil {
			return
		}
		if s.TokenRate.Partition == "" {
			s.TokenRate.Partition = DefaultPartition
		}
		if s.TokenRate.CompletionAllowance == 0 {
			s.TokenRate.CompletionAllowance = DefaultCompletionAllowance
		}
	}
}

func applyEndpointDefaults(sel *SelectorConfig) {
	for i := range sel.Endpoints {
		applyOneEndpointDefault(&sel.Endpoints[i])
	}
	for i := range sel.Tiers {
		for j := range sel.Tiers[i] {
			applyOneEndpointDefault(&sel.Tiers[i][j])
		}
	}
	for i := range sel.Children {
		applyEndpointDefaults(&sel.Children[i])
	}
	if sel.Inner != nil {
		applyEndpointDefaults(sel.Inner)
	}
}

func applyOneEndpointDefault(e *EndpointConfig) {
	if e.Timeout == 0 {
		e.Timeout = DefaultEndpointTimeout
	}
}
