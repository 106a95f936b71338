// Package strategy is the Strategy Registry of §4.5: a narrow,
// polymorphic contract (name, type, execute, reset) plus an
// insertion-ordered registry that the Strategy Manager walks
// deterministically every tick.
package strategy

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/twtrader/orchestrator/pkg/types"
)

// Strategy is the contract every concrete strategy implements.
// Strategies are pure functions of (portfolio, marketContext) plus
// their own encapsulated rolling state (§4.5); no strategy may read or
// write another strategy's state.
type Strategy interface {
	Name() string
	Type() types.StrategyType
	Execute(portfolio *types.Portfolio, mc *types.MarketContext) (types.TradeSignal, error)
	Reset()
}

// Registry holds strategy factories in registration order so every
// tick walks them in the same deterministic sequence (§5).
type Registry struct {
	mu        sync.RWMutex
	order     []string
	factories map[string]func() Strategy
	instances map[string]Strategy
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func() Strategy),
		instances: make(map[string]Strategy),
	}
}

// Register adds a strategy factory, appending to the insertion order
// unless the name is already registered.
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; !exists {
		r.order = append(r.order, name)
	}
	r.factories[name] = factory
	delete(r.instances, name)
}

// Get returns the singleton instance for name, constructing it on
// first access so rolling state persists across ticks.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[name]; ok {
		return inst, true
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	inst := factory()
	r.instances[name] = inst
	return inst, true
}

// All returns every registered strategy instance in registration
// order — the order the Strategy Manager must iterate in (§5).
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.RUnlock()

	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		if inst, ok := r.Get(name); ok {
			out = append(out, inst)
		}
	}
	return out
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// DefaultRegistry builds the built-in strategy set named as the open
// variant list (§4.5): moving-average crossover, Bollinger
// mean-reversion, RSI, momentum, VWAP/TWAP execution, arbitrage/pairs,
// DCA, and rebalancing. Registration order here is the deterministic
// per-tick execution order until a deployment reorders it.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("MA Crossover", func() Strategy { return NewMACrossoverStrategy() })
	r.Register("Bollinger Mean-Reversion", func() Strategy { return NewBollingerMeanReversionStrategy() })
	r.Register("RSI", func() Strategy { return NewRSIStrategy() })
	r.Register("Momentum", func() Strategy { return NewMomentumStrategy() })
	r.Register("VWAP", func() Strategy { return NewVWAPStrategy() })
	r.Register("Pairs Arbitrage", func() Strategy { return NewPairsArbitrageStrategy() })
	r.Register("DCA", func() Strategy { return NewDCAStrategy() })
	r.Register("Rebalancing", func() Strategy { return NewRebalancingStrategy() })
	return r
}

// sqrtDecimal approximates a square root via Newton's method, since
// decimal.Decimal has no native Sqrt.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}
	guess := d
	two := decimal.NewFromInt(2)
	for i := 0; i < 30; i++ {
		next := guess.Add(d.Div(guess)).Div(two)
		if next.Sub(guess).Abs().LessThan(decimal.NewFromFloat(0.0000001)) {
			return next
		}
		guess = next
	}
	return guess
}
