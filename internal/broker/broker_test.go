package broker

import (
	"errors"
	"fmt"
	"testing"

	"quantsim/internal/domain"
)

func TestInsufficientCashDefersFill(t *testing.T) {
	b := NewBacktestBroker(50) // 10 shares at open 10 needs 100
	order, _ := b.CreateMarketOrder(SideBuy, "AAPL", 10, false)
	if err := b.SubmitOrder(order); err != nil {
		t.Fatal(err)
	}
	if err := b.OnBars(testBatch(t, testBar(1, 10, 15, 8, 12, 1000))); err != nil {
		t.Fatal(err)
	}

	if order.State() != StateAccepted {
		t.Errorf("state = %s, want accepted", order.State())
	}
	if len(order.Executions()) != 0 {
		t.Error("execution record appended despite cash shortfall")
	}
	if b.Cash() != 50 {
		t.Errorf("cash = %v, want 50 (unchanged)", b.Cash())
	}
	if b.Shares("AAPL") != 0 {
		t.Errorf("position = %v, want 0 (unchanged)", b.Shares("AAPL"))
	}
}

func TestInsufficientCashRetriesNextBatch(t *testing.T) {
	b := NewBacktestBroker(50)
	order, _ := b.CreateMarketOrder(SideBuy, "AAPL", 10, false)
	if err := order.SetGoodTillCanceled(true); err != nil {
		t.Fatal(err)
	}
	if err := b.SubmitOrder(order); err != nil {
		t.Fatal(err)
	}
	if err := b.OnBars(testBatch(t, testBar(1, 10, 15, 8, 12, 1000))); err != nil {
		t.Fatal(err)
	}
	// The next bar opens cheap enough.
	if err := b.OnBars(testBatch(t, testBar(2, 4, 12, 3, 10, 1000))); err != nil {
		t.Fatal(err)
	}

	if order.State() != StateFilled {
		t.Errorf("state = %s, want filled on retry", order.State())
	}
	if got := order.AvgFillPrice(); got != 4 {
		t.Errorf("fill price = %v, want 4", got)
	}
}

func TestAllowNegativeCash(t *testing.T) {
	b := NewBacktestBroker(50)
	b.SetAllowNegativeCash(true)
	order, _ := b.CreateMarketOrder(SideBuy, "AAPL", 10, false)
	if err := b.SubmitOrder(order); err != nil {
		t.Fatal(err)
	}
	if err := b.OnBars(testBatch(t, testBar(1, 10, 15, 8, 12, 1000))); err != nil {
		t.Fatal(err)
	}

	if order.State() != StateFilled {
		t.Errorf("state = %s, want filled", order.State())
	}
	if b.Cash() != -50 {
		t.Errorf("cash = %v, want -50", b.Cash())
	}
}

func TestSessionCloseAutoCancel(t *testing.T) {
	b := NewBacktestBroker(100000)
	order, _ := b.CreateLimitOrder(SideBuy, "AAPL", 5, 10) // won't fill

	bar := testBar(1, 10, 15, 8, 12, 1000)
	bar.SessionClose = true

	if err := b.SubmitOrder(order); err != nil {
		t.Fatal(err)
	}
	if err := b.OnBars(testBatch(t, bar)); err != nil {
		t.Fatal(err)
	}

	if order.State() != StateCanceled {
		t.Errorf("state = %s, want canceled at session close", order.State())
	}
	if len(b.ActiveOrders("")) != 0 {
		t.Error("canceled order still in active registry")
	}
}

func TestGoodTillCanceledSurvivesSessionClose(t *testing.T) {
	b := NewBacktestBroker(100000)
	order, _ := b.CreateLimitOrder(SideBuy, "AAPL", 5, 10)
	if err := order.SetGoodTillCanceled(true); err != nil {
		t.Fatal(err)
	}

	bar := testBar(1, 10, 15, 8, 12, 1000)
	bar.SessionClose = true

	if err := b.SubmitOrder(order); err != nil {
		t.Fatal(err)
	}
	if err := b.OnBars(testBatch(t, bar)); err != nil {
		t.Fatal(err)
	}

	if order.State() != StateAccepted {
		t.Errorf("state = %s, want accepted (GTC survives session close)", order.State())
	}
}

func TestSequencingViolationIsFatal(t *testing.T) {
	b := NewBacktestBroker(100000)
	if err := b.OnBars(testBatch(t, testBar(2, 10, 15, 8, 12, 1000))); err != nil {
		t.Fatal(err)
	}

	// Same timestamp.
	err := b.OnBars(testBatch(t, testBar(2, 10, 15, 8, 12, 1000)))
	if !errors.Is(err, ErrSequencing) {
		t.Errorf("same-timestamp batch error = %v, want ErrSequencing", err)
	}

	// Earlier timestamp.
	err = b.OnBars(testBatch(t, testBar(1, 10, 15, 8, 12, 1000)))
	if !errors.Is(err, ErrSequencing) {
		t.Errorf("earlier batch error = %v, want ErrSequencing", err)
	}
}

func TestOrdersSubmittedFromHandlerWaitForNextBatch(t *testing.T) {
	b := NewBacktestBroker(100000)
	var followUp *Order

	b.OnOrderUpdated(func(ev OrderEvent) {
		if ev.Type == OrderFilled && followUp == nil {
			var err error
			followUp, err = b.CreateMarketOrder(SideSell, "AAPL", 10, false)
			if err != nil {
				t.Errorf("creating follow-up order: %v", err)
				return
			}
			if err := b.SubmitOrder(followUp); err != nil {
				t.Errorf("submitting follow-up order: %v", err)
			}
		}
	})

	order, _ := b.CreateMarketOrder(SideBuy, "AAPL", 10, false)
	if err := b.SubmitOrder(order); err != nil {
		t.Fatal(err)
	}
	if err := b.OnBars(testBatch(t, testBar(1, 10, 15, 8, 12, 1000))); err != nil {
		t.Fatal(err)
	}

	if followUp == nil {
		t.Fatal("handler did not run")
	}
	if followUp.State() != StateSubmitted {
		t.Errorf("follow-up state after same batch = %s, want submitted", followUp.State())
	}

	if err := b.OnBars(testBatch(t, testBar(2, 11, 16, 9, 13, 1000))); err != nil {
		t.Fatal(err)
	}
	if followUp.State() != StateFilled {
		t.Errorf("follow-up state after next batch = %s, want filled", followUp.State())
	}
}

func TestLastBarFallbackAcceptsOrder(t *testing.T) {
	b := NewBacktestBroker(100000)

	// Establish a last-seen bar for AAPL.
	if err := b.OnBars(testBatch(t, testBar(1, 10, 15, 8, 12, 1000))); err != nil {
		t.Fatal(err)
	}

	order, _ := b.CreateLimitOrder(SideBuy, "AAPL", 5, 10)
	if err := b.SubmitOrder(order); err != nil {
		t.Fatal(err)
	}

	// The next batch only has MSFT; AAPL falls back to its last bar.
	msft := testBar(2, 20, 25, 18, 22, 1000)
	msft.Symbol = "MSFT"
	if err := b.OnBars(testBatch(t, msft)); err != nil {
		t.Fatal(err)
	}

	if order.State() != StateAccepted {
		t.Errorf("state = %s, want accepted via last-bar fallback", order.State())
	}
}

func TestOrderForUnknownInstrumentIsSkipped(t *testing.T) {
	b := NewBacktestBroker(100000)
	order, _ := b.CreateMarketOrder(SideBuy, "GOOG", 10, false)
	if err := b.SubmitOrder(order); err != nil {
		t.Fatal(err)
	}

	if err := b.OnBars(testBatch(t, testBar(1, 10, 15, 8, 12, 1000))); err != nil {
		t.Fatal(err)
	}
	if order.State() != StateSubmitted {
		t.Errorf("state = %s, want submitted (never seen a bar)", order.State())
	}
}

func TestEquity(t *testing.T) {
	b := NewBacktestBroker(1000)
	order, _ := b.CreateMarketOrder(SideBuy, "AAPL", 10, false)
	if err := b.SubmitOrder(order); err != nil {
		t.Fatal(err)
	}
	if err := b.OnBars(testBatch(t, testBar(1, 10, 15, 8, 12, 1000))); err != nil {
		t.Fatal(err)
	}

	// Cash 1000 - 100, position 10 shares at close 12.
	if got, want := b.Equity(), 900.0+120.0; got != want {
		t.Errorf("Equity = %v, want %v", got, want)
	}
}

func TestUseAdjustedValuesUnsupported(t *testing.T) {
	b := NewBacktestBroker(1000)
	err := b.SetUseAdjustedValues(true, adjSupport(false))
	if !errors.Is(err, ErrUnsupportedFeature) {
		t.Errorf("SetUseAdjustedValues error = %v, want ErrUnsupportedFeature", err)
	}

	if err := b.SetUseAdjustedValues(true, adjSupport(true)); err != nil {
		t.Errorf("SetUseAdjustedValues with support failed: %v", err)
	}
}

type adjSupport bool

func (a adjSupport) BarsHaveAdjClose() bool { return bool(a) }

func TestAdjustedModeRejectsBarsWithoutAdjClose(t *testing.T) {
	b := NewBacktestBroker(1000)
	if err := b.SetUseAdjustedValues(true, nil); err != nil {
		t.Fatal(err)
	}
	order, _ := b.CreateMarketOrder(SideBuy, "AAPL", 1, false)
	if err := b.SubmitOrder(order); err != nil {
		t.Fatal(err)
	}

	err := b.OnBars(testBatch(t, testBar(1, 10, 15, 8, 12, 1000)))
	if !errors.Is(err, ErrUnsupportedFeature) {
		t.Errorf("OnBars error = %v, want ErrUnsupportedFeature", err)
	}
}

// eventTrace captures the observable outcome of a run for comparison.
func eventTrace(b *BacktestBroker) *[]string {
	trace := &[]string{}
	b.OnOrderUpdated(func(ev OrderEvent) {
		entry := fmt.Sprintf("%d:%s", ev.Order.ID(), ev.Type)
		if ev.Execution != nil {
			entry += fmt.Sprintf(":%v@%v", ev.Execution.Quantity, ev.Execution.Price)
		}
		*trace = append(*trace, entry)
	})
	return trace
}

func TestDeterministicReplay(t *testing.T) {
	scenario := func() []string {
		b := NewBacktestBroker(1000000)
		trace := eventTrace(b)

		market, _ := b.CreateMarketOrder(SideBuy, "AAPL", 300, false)
		_ = market.SetGoodTillCanceled(true)
		limit, _ := b.CreateLimitOrder(SideSell, "AAPL", 14, 50)
		_ = limit.SetGoodTillCanceled(true)
		stop, _ := b.CreateStopLimitOrder(SideBuy, "AAPL", 13, 14, 20)
		_ = stop.SetGoodTillCanceled(true)

		for _, order := range []*Order{market, limit, stop} {
			if err := b.SubmitOrder(order); err != nil {
				t.Fatal(err)
			}
		}
		bars := []domain.Bar{
			testBar(1, 10, 15, 8, 12, 555),
			testBar(2, 12, 16, 11, 15, 700),
			testBar(3, 15, 17, 14, 16, 900),
		}
		for _, bar := range bars {
			if err := b.OnBars(testBatch(t, bar)); err != nil {
				t.Fatal(err)
			}
		}
		return *trace
	}

	first := scenario()
	second := scenario()
	if len(first) == 0 {
		t.Fatal("scenario produced no events")
	}
	if len(first) != len(second) {
		t.Fatalf("replay produced %d events, first run produced %d", len(second), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("event %d differs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestEventSequenceForPartialFills(t *testing.T) {
	b := NewBacktestBroker(1000000)
	trace := eventTrace(b)

	order, _ := b.CreateMarketOrder(SideBuy, "AAPL", 300, false)
	if err := order.SetGoodTillCanceled(true); err != nil {
		t.Fatal(err)
	}
	if err := b.SubmitOrder(order); err != nil {
		t.Fatal(err)
	}

	// 25% of 555 = 138 per batch: 138, 138, 24.
	for day := 1; day <= 3; day++ {
		if err := b.OnBars(testBatch(t, testBar(day, 10, 15, 8, 12, 555))); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{
		"1:submitted",
		"1:accepted",
		"1:partially_filled:138@10",
		"1:partially_filled:138@10",
		"1:filled:24@10",
	}
	if len(*trace) != len(want) {
		t.Fatalf("trace = %v, want %v", *trace, want)
	}
	for i := range want {
		if (*trace)[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, (*trace)[i], want[i])
		}
	}

	if got := order.Filled(); got != 300 {
		t.Errorf("filled = %v, want 300", got)
	}
	var total float64
	for _, exec := range order.Executions() {
		total += exec.Quantity
	}
	if total != 300 {
		t.Errorf("sum of executions = %v, want 300", total)
	}
}
