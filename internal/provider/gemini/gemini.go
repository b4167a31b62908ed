package gemini

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

const defaultModel = "gemini-1.5-flash"

// GeminiProvider speaks the generateContent API. Gemini has no system
// role: the system prompt is folded into the first turn and assistant
// turns map to the "model" role.
type GeminiProvider struct {
	apiKey  string
	baseURL string
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

func New(apiKey string) provider.Provider {
	return &GeminiProvider{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com",
	}
}

func (p *GeminiProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gemini api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var vendorResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&vendorResp); err != nil {
		return nil, err
	}

	return p.mapResponse(&vendorResp, model, time.Since(start)), nil
}

func (p *GeminiProvider) mapRequest(req *provider.Request) geminiRequest {
	var contents []geminiContent
	if req.SystemPrompt != "" {
		contents = append(contents, geminiContent{
			Role:  "user",
			Parts: []geminiPart{{Text: req.SystemPrompt}},
		})
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	return geminiRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			MaxOutputTokens: req.EffectiveMaxTokens(),
			Temperature:     req.EffectiveTemperature(),
		},
	}
}

// mapResponse extracts the first candidate part. No candidates yields
// empty content, not an error.
func (p *GeminiProvider) mapResponse(vendorResp *geminiResponse, model string, elapsed time.Duration) *provider.Response {
	var content string
	finish := provider.FinishUnknown
	if len(vendorResp.Candidates) > 0 {
		cand := vendorResp.Candidates[0]
		if len(cand.Content.Parts) > 0 {
			content = cand.Content.Parts[0].Text
		}
		finish = mapFinishReason(cand.FinishReason)
	}

	usage := provider.Usage{
		InputTokens:  vendorResp.UsageMetadata.PromptTokenCount,
		OutputTokens: vendorResp.UsageMetadata.CandidatesTokenCount,
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	return &provider.Response{
		Content:      content,
		Model:        model,
		Provider:     p.Name(),
		Usage:        usage,
		FinishReason: finish,
		LatencyMs:    elapsed.Milliseconds(),
	}
}

func mapFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "STOP":
		return provider.FinishComplete
	case "MAX_TOKENS":
		return provider.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST":
		return provider.FinishError
	default:
		return provider.FinishUnknown
	}
}

func (p *GeminiProvider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	body, err := json.Marshal(p.mapRequest(req))
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
			emit(ctx, ch, &provider.Chunk{Err: fmt.Errorf("gemini api error (status %d): %s", resp.StatusCode, string(respBody))})
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
			var vendorResp geminiResponse
			if err := json.Unmarshal([]byte(data), &vendorResp); err != nil {
				emit(ctx, ch, &provider.Chunk{Err: err})
				return
			}

			if len(vendorResp.Candidates) > 0 && len(vendorResp.Candidates[0].Content.Parts) > 0 {
				text := vendorResp.Candidates[0].Content.Parts[0].Text
				if text != "" {
					if !emit(ctx, ch, &provider.Chunk{Delta: text}) {
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

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Available() bool { return p.apiKey != "" }

func (p *GeminiProvider) DefaultModel() string { return defaultModel }

func (p *GeminiProvider) CostPerInputToken() float64 { return 0.000000125 }

func (p *GeminiProvider) CostPerOutputToken() float64 { return 0.000000375 }

func (p *GeminiProvider) SupportedModels() []string {
	return []string{"gemini-1.5-pro", "gemini-1.5-flash", "gemini-2.0-flash"}
}
