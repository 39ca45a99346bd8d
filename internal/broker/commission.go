package broker

// Commission calculates the fee for an order execution. Implementations must
// be pure functions of their inputs so runs stay reproducible.
type Commission interface {
	// Calculate returns the commission for filling quantity units at the
	// given per-unit price.
	Calculate(order *Order, price, quantity float64) float64
}

// Compile-time interface checks.
var _ Commission = (*NoCommission)(nil)
var _ Commission = (*FixedPerTrade)(nil)
var _ Commission = (*TradePercentage)(nil)

// NoCommission charges nothing.
type NoCommission struct{}

// Calculate returns 0.
func (NoCommission) Calculate(_ *Order, _, _ float64) float64 { return 0 }

// FixedPerTrade charges a fixed amount for the whole trade. Only the first
// fill of an order is charged.
type FixedPerTrade struct {
	amount float64
}

// NewFixedPerTrade creates a FixedPerTrade commission of the given amount.
func NewFixedPerTrade(amount float64) *FixedPerTrade {
	return &FixedPerTrade{amount: amount}
}

// Calculate returns the fixed amount on the order's first fill, 0 afterwards.
func (c *FixedPerTrade) Calculate(order *Order, _, _ float64) float64 {
	if len(order.executions) == 0 {
		return c.amount
	}
	return 0
}

// TradePercentage charges a percentage of each execution's notional value.
type TradePercentage struct {
	percentage float64
}

// NewTradePercentage creates a TradePercentage commission. 0.01 means 1%.
// The percentage must be smaller than 1.
func NewTradePercentage(percentage float64) *TradePercentage {
	if percentage >= 1 {
		panic("trade percentage must be smaller than 1")
	}
	return &TradePercentage{percentage: percentage}
}

// Calculate returns price * quantity * percentage.
func (c *TradePercentage) Calculate(_ *Order, price, quantity float64) float64 {
	return price * quantity * c.percentage
}
