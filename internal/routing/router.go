package routing

import (
	"fmt"

	"github.com/khanhng/llm-router/internal/provider"
)

// Strategy selects a provider when neither an explicit override nor a
// routing rule applies.
type Strategy string

const (
	StrategyCostOptimized    Strategy = "cost-optimized"
	StrategyLatencyOptimized Strategy = "latency-optimized"
	StrategyQualityOptimized Strategy = "quality-optimized"
	StrategyDefault          Strategy = "default"
)

// Rule names keyed by request metadata signals.
const (
	RuleSimpleQueries    = "simple-queries"
	RuleComplexReasoning = "complex-reasoning"
	RuleEmbeddings       = "embeddings"
)

// Config is the static routing configuration, fixed for the process
// lifetime.
type Config struct {
	Strategy        Strategy
	DefaultProvider string
	// Rules map a task signal to a model reference (model id or
	// "vendor/model").
	Rules           map[string]string
	FallbackOrder   []string
	FallbackEnabled bool
}

// Options are the caller's per-request knobs.
type Options struct {
	// Provider names an adapter explicitly, bypassing rules and strategy.
	Provider string
	// Fallback enables retrying alternate providers on failure.
	Fallback bool
}

func DefaultOptions() Options {
	return Options{Fallback: true}
}

// Selection names the chosen adapter and, when a rule resolved one, the
// model to request from it. An empty model means the adapter's default.
type Selection struct {
	Provider provider.Provider
	Model    string
}

// Static per-provider ranks used by the latency and quality strategies.
// Lower latency rank is faster; higher quality rank is more capable.
var (
	latencyRank = map[string]int{
		"gemini":    0,
		"openai":    1,
		"anthropic": 2,
	}
	qualityRank = map[string]int{
		"anthropic": 3,
		"openai":    2,
		"gemini":    1,
	}
)

// Router picks exactly one adapter for a request. Select is a pure
// function of (request, options, config, registry contents): no I/O, no
// randomness, no mutable selection state.
type Router struct {
	registry *Registry
	config   Config
}

func NewRouter(registry *Registry, config Config) *Router {
	return &Router{registry: registry, config: config}
}

// Select applies, in priority order: explicit override, metadata rules,
// then the configured strategy.
func (r *Router) Select(req *provider.Request, opts Options) (Selection, error) {
	if opts.Provider != "" {
		p, err := r.registry.Get(opts.Provider)
		if err != nil {
			return Selection{}, err
		}
		return Selection{Provider: p, Model: req.Model}, nil
	}

	if sel, ok := r.selectByRule(req); ok {
		return sel, nil
	}

	return r.selectByStrategy(req)
}

func (r *Router) selectByRule(req *provider.Request) (Selection, bool) {
	rule := ruleFor(req.Metadata)
	if rule == "" {
		return Selection{}, false
	}

	ref, ok := r.config.Rules[rule]
	if !ok {
		return Selection{}, false
	}

	p, model, err := r.registry.ResolveModel(ref)
	if err != nil || !p.Available() {
		// Unresolvable rules fall through to the strategy.
		return Selection{}, false
	}
	return Selection{Provider: p, Model: model}, true
}

func ruleFor(metadata map[string]string) string {
	switch {
	case metadata[provider.MetaComplexity] == "simple":
		return RuleSimpleQueries
	case metadata[provider.MetaComplexity] == "complex":
		return RuleComplexReasoning
	case metadata[provider.MetaUseCase] == "embeddings":
		return RuleEmbeddings
	}
	return ""
}

func (r *Router) selectByStrategy(req *provider.Request) (Selection, error) {
	candidates := r.available(req.Model)
	if len(candidates) == 0 {
		return Selection{}, ErrNoProviderAvailable
	}

	var best provider.Provider
	switch r.config.Strategy {
	case StrategyCostOptimized:
		best = candidates[0]
		for _, p := range candidates[1:] {
			if p.CostPerInputToken() < best.CostPerInputToken() {
				best = p
			}
		}
	case StrategyLatencyOptimized:
		best = candidates[0]
		for _, p := range candidates[1:] {
			if rankOf(latencyRank, p.Name(), 100) < rankOf(latencyRank, best.Name(), 100) {
				best = p
			}
		}
	case StrategyQualityOptimized:
		best = candidates[0]
		for _, p := range candidates[1:] {
			if rankOf(qualityRank, p.Name(), 0) > rankOf(qualityRank, best.Name(), 0) {
				best = p
			}
		}
	case StrategyDefault, "":
		if r.config.DefaultProvider != "" {
			if _, err := r.registry.Get(r.config.DefaultProvider); err != nil {
				return Selection{}, err
			}
			for _, p := range candidates {
				if p.Name() == r.config.DefaultProvider {
					return Selection{Provider: p, Model: req.Model}, nil
				}
			}
		}
		best = candidates[0]
	default:
		return Selection{}, fmt.Errorf("unknown routing strategy: %s", r.config.Strategy)
	}

	return Selection{Provider: best, Model: req.Model}, nil
}

// available filters to credentialed adapters that serve the pinned model,
// if any, preserving registration order for deterministic tie-breaks.
func (r *Router) available(model string) []provider.Provider {
	var out []provider.Provider
	for _, p := range r.registry.List() {
		if !p.Available() {
			continue
		}
		if model != "" && !Supports(p, model) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func rankOf(ranks map[string]int, name string, unranked int) int {
	if rank, ok := ranks[name]; ok {
		return rank
	}
	return unranked
}
