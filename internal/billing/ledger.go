package billing

import (
	"fmt"
	"sync"

	"github.com/khanhng/llm-router/internal/provider"
)

// Ledger accumulates token counts and estimated USD spend per provider
// for the process lifetime. It is dependency-injected rather than a
// package singleton so tests and tenants get isolated instances. State
// is lost on restart; durable accounting lives in the Store.
type Ledger struct {
	mu     sync.Mutex
	totals map[string]*providerTotals
}

type providerTotals struct {
	tokens int64
	cost   float64
}

// CostSummary is the read-only snapshot entry for one provider.
type CostSummary struct {
	Tokens   int64  `json:"tokens"`
	Cost     string `json:"cost"`
	Currency string `json:"currency"`
}

func NewLedger() *Ledger {
	return &Ledger{totals: make(map[string]*providerTotals)}
}

// Record accumulates one completed call's usage under its provider.
func (l *Ledger) Record(providerName, model string, usage provider.Usage) {
	cost := CostOf(providerName, model, usage)

	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.totals[providerName]
	if !ok {
		t = &providerTotals{}
		l.totals[providerName] = t
	}
	t.tokens += int64(usage.TotalTokens)
	t.cost += cost
}

// Snapshot returns per-provider running totals. Cost precision is
// applied only at render time; the accumulator keeps full precision.
func (l *Ledger) Snapshot() map[string]CostSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]CostSummary, len(l.totals))
	for name, t := range l.totals {
		out[name] = CostSummary{
			Tokens:   t.tokens,
			Cost:     fmt.Sprintf("%.4f", t.cost),
			Currency: "USD",
		}
	}
	return out
}

// TotalCost returns the full-precision accumulated cost for a provider.
func (l *Ledger) TotalCost(providerName string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.totals[providerName]; ok {
		return t.cost
	}
	return 0
}
