package routing

import (
	"context"
	"sync"

	"github.com/khanhng/llm-router/internal/provider"
)

type mockProvider struct {
	mu           sync.Mutex
	name         string
	available    bool
	models       []string
	defaultModel string
	costIn       float64
	costOut      float64
	completeErr  error
	calls        int
	lastModel    string
	response     *provider.Response
}

func newMockProvider(name string) *mockProvider {
	return &mockProvider{name: name, available: true}
}

func (m *mockProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	m.mu.Lock()
	m.calls++
	m.lastModel = req.Model
	m.mu.Unlock()

	if m.completeErr != nil {
		return nil, m.completeErr
	}
	if m.response != nil {
		return m.response, nil
	}
	return &provider.Response{
		Content:      "mock",
		Provider:     m.name,
		Model:        req.Model,
		Usage:        provider.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		FinishReason: provider.FinishComplete,
	}, nil
}

func (m *mockProvider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	ch := make(chan *provider.Chunk, 2)
	if m.completeErr != nil {
		ch <- &provider.Chunk{Err: m.completeErr}
	} else {
		ch <- &provider.Chunk{Delta: "mock"}
		ch <- &provider.Chunk{Done: true}
	}
	close(ch)
	return ch, nil
}

func (m *mockProvider) Name() string                 { return m.name }
func (m *mockProvider) Available() bool              { return m.available }
func (m *mockProvider) DefaultModel() string         { return m.defaultModel }
func (m *mockProvider) SupportedModels() []string    { return m.models }
func (m *mockProvider) CostPerInputToken() float64   { return m.costIn }
func (m *mockProvider) CostPerOutputToken() float64  { return m.costOut }

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
