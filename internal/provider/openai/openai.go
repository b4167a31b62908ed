package openai

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

const defaultModel = "gpt-4o-mini"

// OpenAIProvider speaks the Chat Completions API. The system prompt is
// prepended to the message list as a system-role message.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	Delta        openAIDelta   `json:"delta"`
	FinishReason string        `json:"finish_reason"`
}

type openAIDelta struct {
	Content string `json:"content"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func New(apiKey string) provider.Provider {
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var vendorResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&vendorResp); err != nil {
		return nil, err
	}

	return p.mapResponse(&vendorResp, time.Since(start)), nil
}

func (p *OpenAIProvider) mapRequest(req *provider.Request) openAIRequest {
	var messages []openAIMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	var tools []openAITool
	for _, t := range req.Tools {
		tools = append(tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return openAIRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.EffectiveMaxTokens(),
		Temperature: req.EffectiveTemperature(),
		Tools:       tools,
		Stream:      req.Stream,
	}
}

// mapResponse extracts the first choice. No choices yields empty content,
// not an error.
func (p *OpenAIProvider) mapResponse(vendorResp *openAIResponse, elapsed time.Duration) *provider.Response {
	var content string
	finish := provider.FinishUnknown
	if len(vendorResp.Choices) > 0 {
		content = vendorResp.Choices[0].Message.Content
		finish = mapFinishReason(vendorResp.Choices[0].FinishReason)
	}

	usage := provider.Usage{
		InputTokens:  vendorResp.Usage.PromptTokens,
		OutputTokens: vendorResp.Usage.CompletionTokens,
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return &provider.Response{
		ID:           vendorResp.ID,
		Content:      content,
		Model:        vendorResp.Model,
		Provider:     p.Name(),
		Usage:        usage,
		FinishReason: finish,
		LatencyMs:    elapsed.Milliseconds(),
	}
}

func mapFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "stop":
		return provider.FinishComplete
	case "length":
		return provider.FinishLength
	case "tool_calls", "function_call":
		return provider.FinishToolUse
	case "content_filter":
		return provider.FinishError
	default:
		return provider.FinishUnknown
	}
}

func (p *OpenAIProvider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	vendorReq := p.mapRequest(req)
	vendorReq.Stream = true
	body, err := json.Marshal(vendorReq)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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
			emit(ctx, ch, &provider.Chunk{Err: fmt.Errorf("openai api error (status %d): %s", resp.StatusCode, string(respBody))})
			return
		}

		reader := bufio.NewReader(resp.Body)
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
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				emit(ctx, ch, &provider.Chunk{Done: true})
				return
			}

			var vendorResp openAIResponse
			if err := json.Unmarshal([]byte(data), &vendorResp); err != nil {
				emit(ctx, ch, &provider.Chunk{Err: err})
				return
			}

			if len(vendorResp.Choices) > 0 {
				content := vendorResp.Choices[0].Delta.Content
				if content != "" {
					if !emit(ctx, ch, &provider.Chunk{Delta: content}) {
						return
					}
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

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Available() bool { return p.apiKey != "" }

func (p *OpenAIProvider) DefaultModel() string { return defaultModel }

func (p *OpenAIProvider) CostPerInputToken() float64 { return 0.00000015 }

func (p *OpenAIProvider) CostPerOutputToken() float64 { return 0.0000006 }

func (p *OpenAIProvider) SupportedModels() []string {
	return []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"}
}
