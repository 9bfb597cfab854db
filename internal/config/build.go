package config

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aicentral/gateway/internal/affinitystore"
	"github.com/aicentral/gateway/internal/authstep"
	"github.com/aicentral/gateway/internal/endpoint"
	"github.com/aicentral/gateway/internal/latency"
	"github.com/aicentral/gateway/internal/limiter"
	"github.com/aicentral/gateway/internal/pipeline"
	"github.com/aicentral/gateway/internal/selector"
	"github.com/aicentral/gateway/internal/telemetry"
	"github.com/aicentral/gateway/internal/tokenestimate"
)

// Deps bundles the process-wide collaborators every built pipeline shares:
// one upstream HTTP client, one token estimator (its BPE encoder cache is
// worth sharing), one telemetry recorder.
type Deps struct {
	Client    *http.Client
	Estimator *tokenestimate.Estimator
	Recorder  telemetry.Recorder
}

// affinitySizer is implemented by both affinitystore.Memory and
// affinitystore.Durable; the dashboard/healthz surfaces use it without
// caring which backing store a pipeline picked.
type affinitySizer interface {
	Size() int
}

// Handle is what internal/host and internal/dashboard need per built
// pipeline beyond the pipeline.Pipeline itself: the operational internals
// spec §12's supplemented dashboard/healthz surfaces inspect.
type Handle struct {
	Name     string
	Hostname string
	Pipeline *pipeline.Pipeline
	Tracker  *latency.Tracker
	Affinity affinitySizer // nil unless this pipeline's top-level selector is an affinity node; nested affinity nodes are not reported
	Bulkheads []*limiter.Bulkhead
}

// Built is the live form of a Config: one Handle per pipeline, indexed
// both by name and by hostname for internal/host's routing.
type Built struct {
	ByName []*Handle
	ByHost map[string]*Handle
}

// Build translates a validated Config into live pipelines. Call Validate
// first (Load already does).
func Build(ctx context.Context, cfg *Config, deps Deps) (*Built, error) {
	built := &Built{ByHost: make(map[string]*Handle, len(cfg.Pipelines))}

	for _, pc := range cfg.Pipelines {
		h, err := buildPipeline(ctx, pc, deps)
		if err != nil {
			return nil, fmt.Errorf("config: build pipeline %q: %w", pc.Name, err)
		}
		built.ByName = append(built.ByName, h)
		built.ByHost[pc.Hostname] = h
	}
	return built, nil
}

func buildPipeline(ctx context.Context, pc PipelineConfig, deps Deps) (*Handle, error) {
	tracker := latency.NewWithAlpha(pc.LatencyAlpha)

	steps := []limiter.Step{buildAuthStep(pc.Auth)}
	var bulkheads []*limiter.Bulkhead
	for _, sc := range pc.Steps {
		step, err := buildStep(sc, deps)
		if err != nil {
			return nil, err
		}
		if bh, ok := step.(*limiter.Bulkhead); ok {
			bulkheads = append(bulkheads, bh)
		}
		steps = append(steps, step)
	}

	sel, affinity, err := buildSelector(ctx, pc.Selector, deps, tracker)
	if err != nil {
		return nil, err
	}

	p := pipeline.NewPipeline(pc.Name, steps, sel, tracker, deps.Recorder)
	p.Diagnostics = pc.Diagnostics

	return &Handle{
		Name:      pc.Name,
		Hostname:  pc.Hostname,
		Pipeline:  p,
		Tracker:   tracker,
		Affinity:  affinity,
		Bulkheads: bulkheads,
	}, nil
}

func buildAuthStep(a AuthConfig) *authstep.Step {
	if a.Mode == "none" {
		return authstep.New(nil)
	}
	clients := make([]authstep.Client, 0, len(a.Clients))
	for _, c := range a.Clients {
		clients = append(clients, authstep.Client{Name: c.Name, AllowedKeys: c.AllowedKeys})
	}
	return authstep.New(clients)
}

func buildStep(sc StepConfig, deps Deps) (limiter.Step, error) {
	switch sc.Type {
	case "bulkhead":
		return limiter.NewBulkhead(sc.Bulkhead.Capacity, limiter.PartitionMode(sc.Bulkhead.Partition), time.Duration(sc.Bulkhead.WaitFor)), nil
	case "request_rate":
		return limiter.NewRequestRate(sc.RequestRate.Requests, time.Duration(sc.RequestRate.Window), limiter.PartitionMode(sc.RequestRate.Partition)), nil
	case "token_rate":
		return limiter.NewTokenRate(sc.TokenRate.Tokens, time.Duration(sc.TokenRate.Window), limiter.PartitionMode(sc.TokenRate.Partition), deps.Estimator, sc.TokenRate.CompletionAllowance), nil
	default:
		return nil, fmt.Errorf("unrecognized step type %q", sc.Type)
	}
}

func buildSelector(ctx context.Context, sc SelectorConfig, deps Deps, tracker *latency.Tracker) (selector.Selector, affinitySizer, error) {
	switch sc.Type {
	case "random":
		dispatchers, err := buildDispatchers(ctx, sc.Endpoints, deps)
		if err != nil {
			return nil, nil, err
		}
		return selector.NewRandom(dispatchers), nil, nil

	case "lowest_latency":
		dispatchers, err := buildDispatchers(ctx, sc.Endpoints, deps)
		if err != nil {
			return nil, nil, err
		}
		return selector.NewLowestLatency(dispatchers, tracker), nil, nil

	case "priority":
		tiers := make([][]endpoint.Dispatcher, 0, len(sc.Tiers))
		for _, tier := range sc.Tiers {
			dispatchers, err := buildDispatchers(ctx, tier, deps)
			if err != nil {
				return nil, nil, err
			}
			tiers = append(tiers, dispatchers)
		}
		return selector.NewPriority(tiers), nil, nil

	case "hierarchical":
		children := make([]selector.Selector, 0, len(sc.Children))
		for _, cc := range sc.Children {
			child, _, err := buildSelector(ctx, cc, deps, tracker)
			if err != nil {
				return nil, nil, err
			}
			children = append(children, child)
		}
		return selector.NewHierarchical(children), nil, nil

	case "affinity":
		inner, _, err := buildSelector(ctx, *sc.Inner, deps, tracker)
		if err != nil {
			return nil, nil, err
		}
		store, err := buildAffinityStore(sc.DurablePath)
		if err != nil {
			return nil, nil, err
		}
		var sizer affinitySizer
		if store != nil {
			sizer = store.(affinitySizer)
		}
		return selector.NewAffinity(inner, store, time.Duration(sc.TTL)), sizer, nil

	default:
		return nil, nil, fmt.Errorf("unrecognized selector type %q", sc.Type)
	}
}

// buildAffinityStore returns an affinitystore.Memory, or an
// affinitystore.Durable when durablePath is set, as a selector.AffinityStore.
func buildAffinityStore(durablePath string) (selector.AffinityStore, error) {
	if durablePath == "" {
		return affinitystore.NewMemory(), nil
	}
	store, err := affinitystore.OpenDurable(durablePath)
	if err != nil {
		return nil, fmt.Errorf("open durable affinity store at %q: %w", durablePath, err)
	}
	return store, nil
}

func buildDispatchers(ctx context.Context, endpoints []EndpointConfig, deps Deps) ([]endpoint.Dispatcher, error) {
	out := make([]endpoint.Dispatcher, 0, len(endpoints))
	for _, ec := range endpoints {
		d, err := buildDispatcher(ctx, ec, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func buildDispatcher(ctx context.Context, ec EndpointConfig, deps Deps) (endpoint.Dispatcher, error) {
	desc := &endpoint.Descriptor{
		ID:             ec.ID,
		BaseURL:        ec.BaseURL,
		ModelMap:       ec.ModelMap,
		MaxConcurrency: ec.MaxConcurrency,
		Timeout:        time.Duration(ec.Timeout),
	}
	endpointDeps := endpoint.Deps{Client: deps.Client, Estimator: deps.Estimator}

	switch ec.Kind {
	case "azure_openai":
		desc.Kind = endpoint.KindAzureOpenAI
		desc.APIVersion = ec.APIVersion
		if ec.UseADToken {
			cred, err := endpoint.NewADTokenProvider(ctx)
			if err != nil {
				return nil, fmt.Errorf("endpoint %q: %w", ec.ID, err)
			}
			desc.TokenCredential = cred
		} else {
			desc.APIKey = ec.APIKey
		}
		return endpoint.NewAzureDispatcher(desc, endpointDeps), nil

	case "openai":
		desc.Kind = endpoint.KindOpenAI
		desc.BearerKey = ec.BearerKey
		desc.Organization = ec.Organization
		return endpoint.NewOpenAIDispatcher(desc, endpointDeps), nil

	default:
		return nil, fmt.Errorf("endpoint %q: unrecognized kind %q", ec.ID, ec.Kind)
	}
}
