package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/khanhng/llm-router/internal/provider"
)

const defaultModel = "claude-3-5-sonnet-20241022"

// AnthropicProvider speaks the Messages API. The system prompt travels as
// a dedicated request field, never as a message.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type  string          `json:"type"`
	Delta anthropicDelta  `json:"delta,omitempty"`
	Error *anthropicError `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func New(apiKey string) provider.Provider {
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	p.setHeaders(httpReq)

	start := time.Now()
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var vendorResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&vendorResp); err != nil {
		return nil, err
	}

	return p.mapResponse(&vendorResp, time.Since(start)), nil
}

func (p *AnthropicProvider) mapRequest(req *provider.Request) anthropicRequest {
	system := req.SystemPrompt
	var messages []anthropicMessage

	for _, m := range req.Messages {
		if m.Role == "system" {
			// System turns inside the history fold into the system field.
			if system == "" {
				system = m.Content
			} else {
				system += "\n\n" + m.Content
			}
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		messages = append(messages, anthropicMessage{Role: role, Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	var tools []anthropicTool
	for _, t := range req.Tools {
		tools = append(tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	return anthropicRequest{
		Model:       model,
		MaxTokens:   req.EffectiveMaxTokens(),
		Temperature: req.EffectiveTemperature(),
		System:      system,
		Messages:    messages,
		Tools:       tools,
		Stream:      req.Stream,
	}
}

// mapResponse extracts the first text block. A payload with no content
// blocks yields empty content, not an error.
func (p *AnthropicProvider) mapResponse(vendorResp *anthropicResponse, elapsed time.Duration) *provider.Response {
	var content string
	for _, c := range vendorResp.Content {
		if c.Type == "text" {
			content = c.Text
			break
		}
	}

	usage := provider.Usage{
		InputTokens:  vendorResp.Usage.InputTokens,
		OutputTokens: vendorResp.Usage.OutputTokens,
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return &provider.Response{
		ID:           vendorResp.ID,
		Content:      content,
		Model:        vendorResp.Model,
		Provider:     p.Name(),
		Usage:        usage,
		FinishReason: mapStopReason(vendorResp.StopReason),
		LatencyMs:    elapsed.Milliseconds(),
	}
}

func mapStopReason(reason string) provider.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return provider.FinishComplete
	case "max_tokens":
		return provider.FinishLength
	case "tool_use":
		return provider.FinishToolUse
	case "":
		return provider.FinishUnknown
	default:
		return provider.FinishUnknown
	}
}

func (p *AnthropicProvider) setHeaders(httpReq *http.Request) {
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
}

func (p *AnthropicProvider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	vendorReq := p.mapRequest(req)
	vendorReq.Stream = true
	body, err := json.Marshal(vendorReq)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	p.setHeaders(httpReq)

	ch := make(chan *provider.Chunk)

	go func() {
		defer close(ch)

		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			emit(ctx, ch, &provider.Chunk{Err: err})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			emit(ctx, ch, &provider.Chunk{Err: fmt.Errorf("anthropic api error (status %d): %s", resp.StatusCode, string(respBody))})
			return
		}

		reader := bufio.NewReader(resp.Body)
		var currentEvent string

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					emit(ctx, ch, &provider.Chunk{Done: true})
					return
				}
				emit(ctx, ch, &provider.Chunk{Err: err})
				return
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if strings.HasPrefix(line, "event: ") {
				currentEvent = strings.TrimPrefix(line, "event: ")
				continue
			}

			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			switch currentEvent {
			case "content_block_delta":
				var event anthropicStreamEvent
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					continue
				}
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					if !emit(ctx, ch, &provider.Chunk{Delta: event.Delta.Text}) {
						return
					}
				}
			case "message_stop":
				emit(ctx, ch, &provider.Chunk{Done: true})
				return
			case "error":
				var event anthropicStreamEvent
				if err := json.Unmarshal([]byte(data), &event); err == nil && event.Error != nil {
					emit(ctx, ch, &provider.Chunk{Err: fmt.Errorf("anthropic stream error: %s", event.Error.Message)})
					return
				}
			}
		}
	}()

	return ch, nil
}

func emit(ctx context.Context, ch chan<- *provider.Chunk, chunk *provider.Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Available() bool { return p.apiKey != "" }

func (p *AnthropicProvider) DefaultModel() string { return defaultModel }

func (p *AnthropicProvider) CostPerInputToken() float64 { return 0.000003 }

func (p *AnthropicProvider) CostPerOutputToken() float64 { return 0.000015 }

func (p *AnthropicProvider) SupportedModels() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
		"claude-3-haiku-20240307",
	}
}
