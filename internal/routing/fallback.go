package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/khanhng/llm-router/internal/billing"
	"github.com/khanhng/llm-router/internal/provider"
)

// AllFailedError is the terminal error after fallback exhausts every
// candidate. It identifies the last provider attempted and wraps its
// error.
type AllFailedError struct {
	LastProvider string
	Err          error
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all providers failed, last attempted %s: %v", e.LastProvider, e.Err)
}

func (e *AllFailedError) Unwrap() error { return e.Err }

// Manager wraps a completion attempt with a single bounded retry pass
// over the configured fallback order. Nested attempts never fall back
// themselves, so each provider is tried at most once per call.
type Manager struct {
	registry *Registry
	router   *Router
	config   Config
	ledger   *billing.Ledger
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewManager(registry *Registry, config Config, ledger *billing.Ledger, logger *zap.Logger) *Manager {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, name := range registry.Names() {
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[name] = gobreaker.NewCircuitBreaker(settings)
	}
	return &Manager{
		registry: registry,
		router:   NewRouter(registry, config),
		config:   config,
		ledger:   ledger,
		breakers: breakers,
		logger:   logger,
	}
}

// Router exposes the pure selector, mainly for tests and introspection.
func (m *Manager) Router() *Router { return m.router }

// Complete selects an adapter, attempts the completion, and on failure
// retries once per alternate provider in the fallback order. Selection
// errors are configuration bugs and are never retried.
func (m *Manager) Complete(ctx context.Context, req *provider.Request, opts Options) (*provider.Response, error) {
	sel, err := m.router.Select(req, opts)
	if err != nil {
		return nil, err
	}

	primary := sel.Provider.Name()
	m.logger.Debug("provider selected",
		zap.String("provider", primary),
		zap.String("model", sel.Model),
		zap.String("request_id", req.RequestID))

	resp, err := m.attempt(ctx, sel.Provider, req, sel.Model)
	if err == nil {
		m.record(resp)
		return resp, nil
	}

	m.logger.Warn("provider attempt failed",
		zap.String("provider", primary),
		zap.String("request_id", req.RequestID),
		zap.Error(err))

	if !opts.Fallback || !m.config.FallbackEnabled {
		return nil, fmt.Errorf("provider %s failed: %w", primary, err)
	}

	attempted := map[string]bool{primary: true}
	lastProvider, lastErr := primary, err
	for _, name := range m.config.FallbackOrder {
		if attempted[name] {
			continue
		}
		p, getErr := m.registry.Get(name)
		if getErr != nil || !p.Available() {
			continue
		}
		attempted[name] = true

		m.logger.Info("falling back",
			zap.String("from", lastProvider),
			zap.String("to", name),
			zap.String("request_id", req.RequestID))

		resp, attemptErr := m.attempt(ctx, p, req, fallbackModel(p, req.Model))
		if attemptErr == nil {
			resp.FallbackUsed = true
			m.record(resp)
			return resp, nil
		}
		lastProvider, lastErr = name, attemptErr
	}

	return nil, &AllFailedError{LastProvider: lastProvider, Err: lastErr}
}

// attempt runs one completion through the provider's circuit breaker.
func (m *Manager) attempt(ctx context.Context, p provider.Provider, req *provider.Request, model string) (*provider.Response, error) {
	attemptReq := *req
	attemptReq.Model = model

	cb := m.breakers[p.Name()]
	if cb == nil {
		return p.Complete(ctx, &attemptReq)
	}
	result, err := cb.Execute(func() (interface{}, error) {
		return p.Complete(ctx, &attemptReq)
	})
	if err != nil {
		return nil, err
	}
	return result.(*provider.Response), nil
}

// CompleteStream routes a streaming completion; streams are not retried
// across providers since partial output may already have been emitted.
func (m *Manager) CompleteStream(ctx context.Context, req *provider.Request, opts Options) (<-chan *provider.Chunk, provider.Provider, error) {
	sel, err := m.router.Select(req, opts)
	if err != nil {
		return nil, nil, err
	}

	cb := m.breakers[sel.Provider.Name()]
	if cb != nil && cb.State() == gobreaker.StateOpen {
		return nil, nil, fmt.Errorf("circuit breaker open for provider %s", sel.Provider.Name())
	}

	streamReq := *req
	streamReq.Model = sel.Model
	ch, err := sel.Provider.CompleteStream(ctx, &streamReq)
	if err != nil {
		return nil, nil, err
	}
	return ch, sel.Provider, nil
}

// fallbackModel keeps the caller's model only if the candidate serves
// it; otherwise the candidate falls back to its own default.
func fallbackModel(p provider.Provider, model string) string {
	if model != "" && Supports(p, model) {
		return model
	}
	return ""
}

func (m *Manager) record(resp *provider.Response) {
	if m.ledger != nil {
		m.ledger.Record(resp.Provider, resp.Model, resp.Usage)
	}
}
