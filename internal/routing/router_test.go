package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanhng/llm-router/internal/provider"
)

func threeProviderRegistry(t *testing.T) (*Registry, *mockProvider, *mockProvider, *mockProvider) {
	t.Helper()

	gem := newMockProvider("gemini")
	gem.models = []string{"gemini-1.5-flash", "gemini-1.5-pro"}
	gem.costIn = 0.000000125

	oai := newMockProvider("openai")
	oai.models = []string{"gpt-4o", "gpt-4o-mini"}
	oai.costIn = 0.00000015

	ant := newMockProvider("anthropic")
	ant.models = []string{"claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022"}
	ant.costIn = 0.000003

	registry := NewRegistry()
	require.NoError(t, registry.Register(gem))
	require.NoError(t, registry.Register(oai))
	require.NoError(t, registry.Register(ant))
	return registry, gem, oai, ant
}

func TestSelect_ExplicitOverride(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{Strategy: StrategyCostOptimized})

	sel, err := router.Select(&provider.Request{}, Options{Provider: "anthropic"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", sel.Provider.Name())
}

func TestSelect_ExplicitOverrideBeatsRules(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{
		Strategy: StrategyCostOptimized,
		Rules:    map[string]string{RuleComplexReasoning: "claude-3-5-sonnet-20241022"},
	})

	req := &provider.Request{
		Metadata: map[string]string{provider.MetaComplexity: "complex"},
	}
	sel, err := router.Select(req, Options{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, "openai", sel.Provider.Name())
}

func TestSelect_ExplicitOverrideNotRegistered(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{})

	_, err := router.Select(&provider.Request{}, Options{Provider: "mistral"})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestSelect_RuleSimpleQueries(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{
		Strategy: StrategyQualityOptimized,
		Rules:    map[string]string{RuleSimpleQueries: "gemini-1.5-flash"},
	})

	req := &provider.Request{
		Metadata: map[string]string{provider.MetaComplexity: "simple"},
	}
	sel, err := router.Select(req, Options{})
	require.NoError(t, err)
	assert.Equal(t, "gemini", sel.Provider.Name())
	assert.Equal(t, "gemini-1.5-flash", sel.Model)
}

func TestSelect_RuleVendorSlashModel(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{
		Rules: map[string]string{RuleComplexReasoning: "anthropic/claude-3-5-sonnet-20241022"},
	})

	req := &provider.Request{
		Metadata: map[string]string{provider.MetaComplexity: "complex"},
	}
	sel, err := router.Select(req, Options{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", sel.Provider.Name())
	assert.Equal(t, "claude-3-5-sonnet-20241022", sel.Model)
}

func TestSelect_RuleEmbeddings(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{
		Rules: map[string]string{RuleEmbeddings: "gemini/text-embedding-004"},
	})

	req := &provider.Request{
		Metadata: map[string]string{provider.MetaUseCase: "embeddings"},
	}
	sel, err := router.Select(req, Options{})
	require.NoError(t, err)
	assert.Equal(t, "gemini", sel.Provider.Name())
	assert.Equal(t, "text-embedding-004", sel.Model)
}

func TestSelect_UnresolvableRuleFallsThrough(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{
		Strategy: StrategyCostOptimized,
		Rules:    map[string]string{RuleSimpleQueries: "nonexistent-model"},
	})

	req := &provider.Request{
		Metadata: map[string]string{provider.MetaComplexity: "simple"},
	}
	sel, err := router.Select(req, Options{})
	require.NoError(t, err)
	// Falls through to the cheapest available adapter.
	assert.Equal(t, "gemini", sel.Provider.Name())
}

func TestSelect_RuleProviderUnavailableFallsThrough(t *testing.T) {
	registry, gem, _, _ := threeProviderRegistry(t)
	gem.available = false
	router := NewRouter(registry, Config{
		Strategy: StrategyCostOptimized,
		Rules:    map[string]string{RuleSimpleQueries: "gemini-1.5-flash"},
	})

	req := &provider.Request{
		Metadata: map[string]string{provider.MetaComplexity: "simple"},
	}
	sel, err := router.Select(req, Options{})
	require.NoError(t, err)
	assert.Equal(t, "openai", sel.Provider.Name())
}

func TestSelect_CostOptimized(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{Strategy: StrategyCostOptimized})

	sel, err := router.Select(&provider.Request{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "gemini", sel.Provider.Name())
}

func TestSelect_LatencyOptimized(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{Strategy: StrategyLatencyOptimized})

	sel, err := router.Select(&provider.Request{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "gemini", sel.Provider.Name())
}

func TestSelect_QualityOptimized(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{Strategy: StrategyQualityOptimized})

	sel, err := router.Select(&provider.Request{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", sel.Provider.Name())
}

func TestSelect_DefaultStrategyUsesConfiguredProvider(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{
		Strategy:        StrategyDefault,
		DefaultProvider: "openai",
	})

	sel, err := router.Select(&provider.Request{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "openai", sel.Provider.Name())
}

func TestSelect_DefaultStrategyFirstRegistered(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{Strategy: StrategyDefault})

	sel, err := router.Select(&provider.Request{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "gemini", sel.Provider.Name())
}

func TestSelect_DefaultProviderNotRegistered(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{
		Strategy:        StrategyDefault,
		DefaultProvider: "mistral",
	})

	_, err := router.Select(&provider.Request{}, Options{})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestSelect_SkipsUnavailableProviders(t *testing.T) {
	registry, gem, oai, _ := threeProviderRegistry(t)
	gem.available = false
	oai.available = false
	router := NewRouter(registry, Config{Strategy: StrategyCostOptimized})

	sel, err := router.Select(&provider.Request{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", sel.Provider.Name())
}

func TestSelect_NoProviderAvailable(t *testing.T) {
	registry, gem, oai, ant := threeProviderRegistry(t)
	gem.available = false
	oai.available = false
	ant.available = false
	router := NewRouter(registry, Config{Strategy: StrategyCostOptimized})

	_, err := router.Select(&provider.Request{}, Options{})
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestSelect_PinnedModelFiltersCandidates(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{Strategy: StrategyCostOptimized})

	sel, err := router.Select(&provider.Request{Model: "gpt-4o"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "openai", sel.Provider.Name())
	assert.Equal(t, "gpt-4o", sel.Model)
}

func TestSelect_Idempotent(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{
		Strategy: StrategyCostOptimized,
		Rules:    map[string]string{RuleComplexReasoning: "claude-3-5-sonnet-20241022"},
	})

	req := &provider.Request{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
		Metadata: map[string]string{provider.MetaComplexity: "complex"},
	}
	first, err := router.Select(req, Options{})
	require.NoError(t, err)
	second, err := router.Select(req, Options{})
	require.NoError(t, err)
	assert.Equal(t, first.Provider.Name(), second.Provider.Name())
	assert.Equal(t, first.Model, second.Model)
}

func TestSelect_UnknownStrategy(t *testing.T) {
	registry, _, _, _ := threeProviderRegistry(t)
	router := NewRouter(registry, Config{Strategy: "round-robin"})

	_, err := router.Select(&provider.Request{}, Options{})
	assert.Error(t, err)
}
