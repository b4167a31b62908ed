package provider

import (
	"context"
	"encoding/json"
)

// FinishReason is the normalized cause for a completion ending. Vendor
// enums are mapped into this closed set by each adapter.
type FinishReason string

const (
	FinishComplete FinishReason = "complete"
	FinishLength   FinishReason = "length"
	FinishToolUse  FinishReason = "tool_use"
	FinishError    FinishReason = "error"
	FinishUnknown  FinishReason = "unknown"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// Metadata keys recognized by the routing layer.
const (
	MetaComplexity = "complexity"
	MetaUseCase    = "use_case"
)

type Request struct {
	Model        string    `json:"model,omitempty"`
	Messages     []Message `json:"messages" validate:"required,min=1,dive"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Tools        []Tool    `json:"tools,omitempty"`
	Stream       bool      `json:"stream,omitempty"`
	// Metadata carries routing hints such as "complexity" and "use_case".
	Metadata map[string]string `json:"metadata,omitempty"`

	TenantID  string `json:"-"`
	RequestID string `json:"-"`
}

type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content"`
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type Response struct {
	ID           string       `json:"id,omitempty"`
	Content      string       `json:"content"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	Usage        Usage        `json:"usage"`
	FinishReason FinishReason `json:"finish_reason"`
	LatencyMs    int64        `json:"latency_ms,omitempty"`
	// FallbackUsed marks responses served by an alternate provider after
	// the primary failed.
	FallbackUsed bool `json:"fallback_used,omitempty"`
}

type Chunk struct {
	Delta string
	Done  bool
	Err   error
}

// EffectiveTemperature returns the requested sampling temperature or the
// default when unset.
func (r *Request) EffectiveTemperature() float64 {
	if r.Temperature == 0 {
		return DefaultTemperature
	}
	return r.Temperature
}

// EffectiveMaxTokens returns the requested output cap or the default.
func (r *Request) EffectiveMaxTokens() int {
	if r.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return r.MaxTokens
}

type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	CompleteStream(ctx context.Context, req *Request) (<-chan *Chunk, error)
	Name() string
	// Available reports whether a credential is configured. Adapters
	// without a key still register but are skipped by routing.
	Available() bool
	DefaultModel() string
	SupportedModels() []string
	CostPerInputToken() float64 // USD per token
	CostPerOutputToken() float64
}
