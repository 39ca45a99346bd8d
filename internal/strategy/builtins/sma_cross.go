// Package builtins provides built-in strategy implementations.
package builtins

import (
	"context"
	"fmt"

	"quantsim/internal/broker"
	"quantsim/internal/domain"
	"quantsim/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross trades a simple moving average crossover on one instrument. It
// buys when the short-period SMA crosses above the long-period SMA and
// liquidates when it crosses below.
type SMACross struct {
	instrument  string
	shortPeriod int
	longPeriod  int
	quantity    float64

	closes   []float64
	wasAbove bool
	haveSide bool
}

// NewSMACross creates an SMACross strategy trading quantity units of
// instrument.
func NewSMACross(instrument string, short, long int, quantity float64) (*SMACross, error) {
	if short <= 0 || long <= short {
		return nil, fmt.Errorf("periods must satisfy 0 < short < long, got %d/%d", short, long)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %v", quantity)
	}
	return &SMACross{
		instrument:  instrument,
		shortPeriod: short,
		longPeriod:  long,
		quantity:    quantity,
	}, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string { return "sma-cross" }

// Init resets the price history.
func (s *SMACross) Init(_ context.Context, _ broker.Broker) error {
	s.closes = s.closes[:0]
	s.haveSide = false
	return nil
}

// OnBars updates the moving averages and trades on crossovers.
func (s *SMACross) OnBars(_ context.Context, b broker.Broker, batch domain.BarBatch) error {
	bar, ok := batch.Bar(s.instrument)
	if !ok {
		return nil
	}
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) < s.longPeriod {
		return nil
	}

	above := s.sma(s.shortPeriod) > s.sma(s.longPeriod)
	defer func() {
		s.wasAbove = above
		s.haveSide = true
	}()
	if !s.haveSide || above == s.wasAbove {
		return nil
	}

	position := b.Shares(s.instrument)
	if above && position == 0 {
		order, err := b.CreateMarketOrder(broker.SideBuy, s.instrument, s.quantity, false)
		if err != nil {
			return err
		}
		if err := order.SetGoodTillCanceled(true); err != nil {
			return err
		}
		return b.SubmitOrder(order)
	}
	if !above && position > 0 {
		order, err := b.CreateMarketOrder(broker.SideSell, s.instrument, position, false)
		if err != nil {
			return err
		}
		if err := order.SetGoodTillCanceled(true); err != nil {
			return err
		}
		return b.SubmitOrder(order)
	}
	return nil
}

// OnOrderUpdated is a no-op; the strategy reads positions from the broker.
func (s *SMACross) OnOrderUpdated(_ broker.OrderEvent) {}

// sma returns the mean of the last period closes.
func (s *SMACross) sma(period int) float64 {
	var sum float64
	for _, c := range s.closes[len(s.closes)-period:] {
		sum += c
	}
	return sum / float64(period)
}
