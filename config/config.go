package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Provider credentials. A missing key leaves that adapter
	// registered but unavailable; it never crashes startup.
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string

	// Routing
	RoutingStrategy  string // cost-optimized | latency-optimized | quality-optimized | default
	DefaultProvider  string
	RouteSimple      string // model ref for simple-queries rule
	RouteComplex     string // model ref for complex-reasoning rule
	RouteEmbeddings  string // model ref for embeddings rule
	FallbackOrder    []string
	FallbackEnabled  bool

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		RoutingStrategy:      getEnv("ROUTING_STRATEGY", "default"),
		DefaultProvider:      os.Getenv("DEFAULT_PROVIDER"),
		RouteSimple:          os.Getenv("ROUTE_SIMPLE_QUERIES"),
		RouteComplex:         os.Getenv("ROUTE_COMPLEX_REASONING"),
		RouteEmbeddings:      os.Getenv("ROUTE_EMBEDDINGS"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	order := getEnv("FALLBACK_ORDER", "openai,anthropic,gemini")
	for _, name := range strings.Split(order, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.FallbackOrder = append(cfg.FallbackOrder, name)
		}
	}

	enabled, err := strconv.ParseBool(getEnv("FALLBACK_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid FALLBACK_ENABLED: %w", err)
	}
	cfg.FallbackEnabled = enabled

	tpmStr := getEnv("DEFAULT_RATE_LIMIT_TPM", "100000")
	tpm, err := strconv.ParseInt(tpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_TPM: %w", err)
	}
	cfg.DefaultRateLimitTPM = tpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

// RoutingRules assembles the rule map from the per-rule settings,
// omitting unset rules so they fall through at selection time.
func (c *Config) RoutingRules() map[string]string {
	rules := make(map[string]string)
	if c.RouteSimple != "" {
		rules["simple-queries"] = c.RouteSimple
	}
	if c.RouteComplex != "" {
		rules["complex-reasoning"] = c.RouteComplex
	}
	if c.RouteEmbeddings != "" {
		rules["embeddings"] = c.RouteEmbeddings
	}
	return rules
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
