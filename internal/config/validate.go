package config

import "fmt"

// Validate checks structural correctness of a parsed Config: required
// fields, recognized enum values, and selector-tree well-formedness. It
// does not attempt network or credential validation — that surfaces at
// dispatch time.
func Validate(cfg *Config) error {
	if len(cfg.Pipelines) == 0 {
		return fmt.Errorf("config: at least one pipeline is required")
	}

	seen := make(map[string]bool, len(cfg.Pipelines))
	for _, p := range cfg.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("config: pipeline missing name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate pipeline name %q", p.Name)
		}
		seen[p.Name] = true

		if p.Hostname == "" {
			return fmt.Errorf("config: pipeline %q missing hostname", p.Name)
		}
		if err := validateAuth(p.Auth); err != nil {
			return fmt.Errorf("config: pipeline %q: %w", p.Name, err)
		}
		for i, s := range p.Steps {
			if err := validateStep(s); err != nil {
				return fmt.Errorf("config: pipeline %q step %d: %w", p.Name, i, err)
			}
		}
		if err := validateSelector(p.Selector); err != nil {
			return fmt.Errorf("config: pipeline %q: %w", p.Name, err)
		}
	}
	return nil
}

func validateAuth(a AuthConfig) error {
	switch a.Mode {
	case "none":
		return nil
	case "api_key", "":
		if len(a.Clients) == 0 {
			return fmt.Errorf("auth mode %q requires at least one client", a.Mode)
		}
		for _, c := range a.Clients {
			if c.Name == "" {
				return fmt.Errorf("auth client missing name")
			}
			if len(c.AllowedKeys) == 0 {
				return fmt.Errorf("auth client %q has no allowed_keys", c.Name)
			}
		}
		return nil
	default:
		return fmt.Errorf("unrecognized auth mode %q", a.Mode)
	}
}

func validateStep(s StepConfig) error {
	switch s.Type {
	case "bulkhead":
		if s.Bulkhead == nil || s.Bulkhead.Capacity <= 0 {
			return fmt.Errorf("bulkhead step requires a positive capacity")
		}
		return validatePartition(s.Bulkhead.Partition)
	case "request_rate":
		if s.RequestRate == nil || s.RequestRate.Requests <= 0 || s.RequestRate.Window <= 0 {
			return fmt.Errorf("request_rate step requires positive requests and window")
		}
		return validatePartition(s.RequestRate.Partition)
	case "token_rate":
		if s.TokenRate == nil || s.TokenRate.Tokens <= 0 || s.TokenRate.Window <= 0 {
			return fmt.Errorf("token_rate step requires positive tokens and window")
		}
		return validatePartition(s.TokenRate.Partition)
	default:
		return fmt.Errorf("unrecognized step type %q", s.Type)
	}
}

func validatePartition(mode string) error {
	switch mode {
	case "per_pipeline", "per_consumer":
		return nil
	default:
		return fmt.Errorf("unrecognized partition mode %q", mode)
	}
}

func validateSelector(sel SelectorConfig) error {
	switch sel.Type {
	case "random", "lowest_latency":
		if len(sel.Endpoints) == 0 {
			return fmt.Errorf("%s selector requires at least one endpoint", sel.Type)
		}
		return validateEndpoints(sel.Endpoints)
	case "priority":
		if len(sel.Tiers) == 0 {
			return fmt.Errorf("priority selector requires at least one tier")
		}
		for i, tier := range sel.Tiers {
			if len(tier) == 0 {
				return fmt.Errorf("priority selector tier %d has no endpoints", i)
			}
			if err := validateEndpoints(tier); err != nil {
				return err
			}
		}
		return nil
	case "hierarchical":
		if len(sel.Children) == 0 {
			return fmt.Errorf("hierarchical selector requires at least one child")
		}
		for i, child := range sel.Children {
			if err := validateSelector(child); err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
		}
		return nil
	case "affinity":
		if sel.Inner == nil {
			return fmt.Errorf("affinity selector requires an inner selector")
		}
		return validateSelector(*sel.Inner)
	default:
		return fmt.Errorf("unrecognized selector type %q", sel.Type)
	}
}

func validateEndpoints(endpoints []EndpointConfig) error {
	for _, e := range endpoints {
		if err := validateEndpoint(e); err != nil {
			return err
		}
	}
	return nil
}

func validateEndpoint(e EndpointConfig) error {
	if e.ID == "" {
		return fmt.Errorf("endpoint missing id")
	}
	if e.BaseURL == "" {
		return fmt.Errorf("endpoint %q missing base_url", e.ID)
	}
	switch e.Kind {
	case "azure_openai":
		if e.APIVersion == "" {
			return fmt.Errorf("endpoint %q (azure_openai) missing api_version", e.ID)
		}
		if e.APIKey == "" && !e.UseADToken {
			return fmt.Errorf("endpoint %q (azure_openai) needs api_key or use_ad_token", e.ID)
		}
	case "openai":
		if e.BearerKey == "" {
			return fmt.Errorf("endpoint %q (openai) missing bearer_key", e.ID)
		}
	default:
		return fmt.Errorf("endpoint %q: unrecognized kind %q", e.ID, e.Kind)
	}
	if len(e.ModelMap) == 0 {
		return fmt.Errorf("endpoint %q missing model_map", e.ID)
	}
	return nil
}
