// Package strategy defines the Strategy interface for trading strategies,
// a Registry for managing implementations, and the Backtester that replays
// historical bars through a strategy against a simulated broker.
package strategy

import (
	"context"
	"sort"

	"quantsim/internal/broker"
	"quantsim/internal/domain"
)

// Strategy is the interface that all trading strategies must implement.
// Callbacks run on the backtest goroutine, in replay order.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs any one-time setup before the first batch. Orders may
	// be placed through the broker here.
	Init(ctx context.Context, b broker.Broker) error

	// OnBars is called after the broker has processed a bar batch.
	OnBars(ctx context.Context, b broker.Broker, batch domain.BarBatch) error

	// OnOrderUpdated is called for every order event the broker emits.
	OnOrderUpdated(ev broker.OrderEvent)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
