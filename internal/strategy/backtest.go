package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quantsim/internal/barfeed"
	"quantsim/internal/broker"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// BacktestResult holds the summary produced by a backtest run.
type BacktestResult struct {
	RunID          uuid.UUID
	Strategy       string
	InitialCapital float64
	FinalEquity    float64
	TotalReturn    float64 // fraction, 0.1 means +10%
	MaxDrawdown    float64 // fraction, 0.2 means a 20% peak-to-trough drop
	FilledOrders   int
	CanceledOrders int
	TotalBatches   int
	EquityCurve    []EquityPoint
}

// Backtester replays a bar feed through a strategy against a simulated
// broker and collects performance metrics.
type Backtester struct {
	broker *broker.BacktestBroker
	feed   barfeed.Source
	logger *slog.Logger
}

// NewBacktester creates a Backtester over the given broker and feed.
func NewBacktester(b *broker.BacktestBroker, feed barfeed.Source) *Backtester {
	return &Backtester{
		broker: b,
		feed:   feed,
		logger: slog.Default(),
	}
}

// SetLogger replaces the logger.
func (bt *Backtester) SetLogger(logger *slog.Logger) { bt.logger = logger }

// Run replays the whole feed through s. It stops early when ctx is
// canceled or the broker reports an error.
func (bt *Backtester) Run(ctx context.Context, s Strategy) (*BacktestResult, error) {
	result := &BacktestResult{
		RunID:          uuid.New(),
		Strategy:       s.Name(),
		InitialCapital: bt.broker.Equity(),
	}

	bt.broker.OnOrderUpdated(func(ev broker.OrderEvent) {
		switch ev.Type {
		case broker.OrderFilled:
			result.FilledOrders++
		case broker.OrderCanceled:
			result.CanceledOrders++
		}
		s.OnOrderUpdated(ev)
	})

	if err := s.Init(ctx, bt.broker); err != nil {
		return nil, fmt.Errorf("initializing strategy %s: %w", s.Name(), err)
	}

	bt.logger.Info("backtest started",
		"run_id", result.RunID,
		"strategy", s.Name(),
		"initial_capital", result.InitialCapital)

	peak := result.InitialCapital
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, ok := bt.feed.Next()
		if !ok {
			break
		}
		if err := bt.broker.OnBars(batch); err != nil {
			return nil, fmt.Errorf("processing batch at %s: %w", batch.Timestamp, err)
		}
		if err := s.OnBars(ctx, bt.broker, batch); err != nil {
			return nil, fmt.Errorf("strategy %s at %s: %w", s.Name(), batch.Timestamp, err)
		}
		result.TotalBatches++

		equity := bt.broker.Equity()
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Timestamp: batch.Timestamp,
			Equity:    equity,
		})
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > result.MaxDrawdown {
				result.MaxDrawdown = dd
			}
		}
	}

	result.FinalEquity = bt.broker.Equity()
	if result.InitialCapital > 0 {
		result.TotalReturn = result.FinalEquity/result.InitialCapital - 1
	}

	bt.logger.Info("backtest finished",
		"run_id", result.RunID,
		"batches", result.TotalBatches,
		"final_equity", result.FinalEquity,
		"total_return", result.TotalReturn,
		"max_drawdown", result.MaxDrawdown,
		"filled_orders", result.FilledOrders)
	return result, nil
}
