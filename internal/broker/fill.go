package broker

import "quantsim/internal/domain"

// FillInfo is a candidate fill: the price and quantity an order would
// execute at against the current bar.
type FillInfo struct {
	Price    float64
	Quantity float64
}

// FillStrategy determines fill prices and quantities per order kind. It owns
// the per-batch volume budget that bounds how much quantity all orders
// combined may take from one instrument's bar.
type FillStrategy interface {
	// OnBars resets per-batch state before the broker processes a batch.
	OnBars(b *BacktestBroker, batch domain.BarBatch)

	// OnOrderFilled is invoked after a fill commits, so the strategy can
	// account for the consumed volume.
	OnOrderFilled(b *BacktestBroker, order *Order)

	// FillOrder returns the candidate fill for an order against a bar, or
	// nil if the order cannot fill now.
	FillOrder(b *BacktestBroker, order *Order, bar domain.Bar) *FillInfo
}

// Compile-time interface check.
var _ FillStrategy = (*DefaultFill)(nil)

// limitPriceTrigger returns the price a limit order would fill at against
// the bar, or false if the limit price was not penetrated.
//
// Buying: if the bar opened below the limit price the (favorable) open is
// used; if the bar's range includes the limit price, the limit price is
// used. Mirrored for selling.
func limitPriceTrigger(side Side, limitPrice float64, adjusted bool, bar domain.Bar) (float64, bool) {
	open := bar.OpenPrice(adjusted)
	high := bar.HighPrice(adjusted)
	low := bar.LowPrice(adjusted)

	if side.IsBuy() {
		if high < limitPrice {
			return open, true
		}
		if limitPrice >= low {
			if open < limitPrice { // Penetrated on open.
				return open, true
			}
			return limitPrice, true
		}
		return 0, false
	}

	if low > limitPrice {
		return open, true
	}
	if limitPrice <= high {
		if open > limitPrice { // Penetrated on open.
			return open, true
		}
		return limitPrice, true
	}
	return 0, false
}

// stopPriceTrigger returns the price a stop order would trigger at against
// the bar, or false if the stop price was not penetrated.
//
// Buying: if the bar gapped above the stop price the open is used; if the
// bar's range includes the stop price, the worse of open and stop is used.
// Mirrored for selling.
func stopPriceTrigger(side Side, stopPrice float64, adjusted bool, bar domain.Bar) (float64, bool) {
	open := bar.OpenPrice(adjusted)
	high := bar.HighPrice(adjusted)
	low := bar.LowPrice(adjusted)

	if side.IsBuy() {
		if low > stopPrice {
			return open, true
		}
		if stopPrice <= high {
			if open > stopPrice { // Penetrated on open.
				return open, true
			}
			return stopPrice, true
		}
		return 0, false
	}

	if high < stopPrice {
		return open, true
	}
	if stopPrice >= low {
		if open < stopPrice { // Penetrated on open.
			return open, true
		}
		return stopPrice, true
	}
	return 0, false
}

// DefaultFill is the default fill strategy.
//
//   - Market orders fill at the open (or the close for market-on-close).
//   - Limit orders fill at the limit price, or at the open when it gapped
//     past the limit.
//   - Stop orders trigger at the stop price, or at the open when it gapped
//     through, and fill at the trigger price on the triggering bar and at
//     the open afterwards.
//   - Stop-limit orders persist the stop hit and then follow the limit
//     rule; if stop and limit are both satisfiable in the triggering bar,
//     the more conservative of the two bounds wins.
//
// A volume limit caps the quantity all orders combined can take from one
// instrument within a batch: volumeLimit 0.25 against a bar with volume 100
// leaves at most 25 units for that batch. Trade-level bars expose their
// whole volume.
type DefaultFill struct {
	volumeLimit float64
	slippage    SlippageModel
	volumeLeft  map[string]float64
	volumeUsed  map[string]float64
}

// DefaultVolumeLimit is the fraction of a bar's volume fills may consume.
const DefaultVolumeLimit = 0.25

// NewDefaultFill creates a DefaultFill with the given volume limit. The
// limit must be in (0, 1]; pass 0 to disable volume capping. NoSlippage is
// used until SetSlippageModel is called.
func NewDefaultFill(volumeLimit float64) *DefaultFill {
	if volumeLimit < 0 || volumeLimit > 1 {
		panic("volume limit must be in (0, 1] or 0 to disable")
	}
	return &DefaultFill{
		volumeLimit: volumeLimit,
		slippage:    NoSlippage{},
		volumeLeft:  make(map[string]float64),
		volumeUsed:  make(map[string]float64),
	}
}

// SetSlippageModel sets the slippage model applied to market and stop fills.
func (f *DefaultFill) SetSlippageModel(model SlippageModel) {
	f.slippage = model
}

// VolumeLeft returns the remaining per-instrument volume budget for the
// batch being processed.
func (f *DefaultFill) VolumeLeft() map[string]float64 { return f.volumeLeft }

// VolumeUsed returns the per-instrument volume consumed so far in the batch
// being processed.
func (f *DefaultFill) VolumeUsed() map[string]float64 { return f.volumeUsed }

// OnBars resets the volume budgets for every instrument in the batch.
func (f *DefaultFill) OnBars(_ *BacktestBroker, batch domain.BarBatch) {
	volumeLeft := make(map[string]float64, len(batch.Bars))
	for instrument, bar := range batch.Bars {
		if bar.Frequency == domain.FrequencyTrade {
			// A trade bar is a single trade: all of it is usable.
			volumeLeft[instrument] = bar.Volume
		} else if f.volumeLimit > 0 {
			volumeLeft[instrument] = bar.Volume * f.volumeLimit
		}
		f.volumeUsed[instrument] = 0
	}
	f.volumeLeft = volumeLeft
}

// OnOrderFilled decrements the volume budget by the quantity just filled.
func (f *DefaultFill) OnOrderFilled(_ *BacktestBroker, order *Order) {
	instrument := order.Instrument()
	quantity := order.LastExecution().Quantity

	if f.volumeLimit > 0 {
		left := order.Traits().RoundQuantity(f.volumeLeft[instrument])
		f.volumeLeft[instrument] = order.Traits().RoundQuantity(left - quantity)
	}
	f.volumeUsed[instrument] = order.Traits().RoundQuantity(f.volumeUsed[instrument] + quantity)
}

// fillSize returns how much of the order can fill against the remaining
// volume budget, rounded down to the instrument's precision. All-or-none
// orders fill everything or nothing.
func (f *DefaultFill) fillSize(order *Order) float64 {
	var maxVolume float64
	if f.volumeLimit > 0 {
		maxVolume = order.Traits().RoundQuantity(f.volumeLeft[order.Instrument()])
	} else {
		maxVolume = order.Remaining()
	}

	if !order.AllOrNone() {
		return min(maxVolume, order.Remaining())
	}
	if order.Remaining() <= maxVolume {
		return order.Remaining()
	}
	return 0
}

// FillOrder dispatches on the order kind.
func (f *DefaultFill) FillOrder(b *BacktestBroker, order *Order, bar domain.Bar) *FillInfo {
	switch order.Kind() {
	case KindMarket:
		return f.fillMarket(b, order, bar)
	case KindLimit:
		return f.fillLimit(b, order, bar)
	case KindStop:
		return f.fillStop(b, order, bar)
	case KindStopLimit:
		return f.fillStopLimit(b, order, bar)
	}
	return nil
}

func (f *DefaultFill) fillMarket(b *BacktestBroker, order *Order, bar domain.Bar) *FillInfo {
	fillSize := f.fillSize(order)
	if fillSize == 0 {
		b.Logger().Debug("not enough volume to fill market order",
			"order", order.ID(), "instrument", order.Instrument(), "remaining", order.Remaining())
		return nil
	}

	var price float64
	if order.FillOnClose() {
		price = bar.ClosePrice(b.UseAdjustedValues())
	} else {
		price = bar.OpenPrice(b.UseAdjustedValues())
	}
	price = f.slipPrice(order, price, fillSize, bar)
	return &FillInfo{Price: price, Quantity: fillSize}
}

func (f *DefaultFill) fillLimit(b *BacktestBroker, order *Order, bar domain.Bar) *FillInfo {
	fillSize := f.fillSize(order)
	if fillSize == 0 {
		b.Logger().Debug("not enough volume to fill limit order",
			"order", order.ID(), "instrument", order.Instrument(), "remaining", order.Remaining())
		return nil
	}

	price, ok := limitPriceTrigger(order.Side(), order.LimitPrice(), b.UseAdjustedValues(), bar)
	if !ok {
		return nil
	}
	return &FillInfo{Price: price, Quantity: fillSize}
}

func (f *DefaultFill) fillStop(b *BacktestBroker, order *Order, bar domain.Bar) *FillInfo {
	// The stop condition is evaluated at most once; the hit persists on the
	// order across bars.
	var stopTrigger float64
	justHit := false
	if !order.StopHit() {
		price, hit := stopPriceTrigger(order.Side(), order.StopPrice(), b.UseAdjustedValues(), bar)
		order.setStopHit(hit)
		if hit {
			stopTrigger = price
			justHit = true
		}
	}
	if !order.StopHit() {
		return nil
	}

	fillSize := f.fillSize(order)
	if fillSize == 0 {
		b.Logger().Debug("not enough volume to fill stop order",
			"order", order.ID(), "instrument", order.Instrument(), "remaining", order.Remaining())
		return nil
	}

	// On the triggering bar fill at the trigger price; afterwards at the open.
	var price float64
	if justHit {
		price = stopTrigger
	} else {
		price = bar.OpenPrice(b.UseAdjustedValues())
	}
	price = f.slipPrice(order, price, fillSize, bar)
	return &FillInfo{Price: price, Quantity: fillSize}
}

func (f *DefaultFill) fillStopLimit(b *BacktestBroker, order *Order, bar domain.Bar) *FillInfo {
	// Phase one: wait for the stop to be hit. The hit persists on the order.
	var stopTrigger float64
	justHit := false
	if !order.StopHit() {
		price, hit := stopPriceTrigger(order.Side(), order.StopPrice(), b.UseAdjustedValues(), bar)
		order.setStopHit(hit)
		if hit {
			stopTrigger = price
			justHit = true
		}
	}
	if !order.StopHit() {
		return nil
	}

	fillSize := f.fillSize(order)
	if fillSize == 0 {
		b.Logger().Debug("not enough volume to fill stop limit order",
			"order", order.ID(), "instrument", order.Instrument(), "remaining", order.Remaining())
		return nil
	}

	// Phase two: the limit rule.
	price, ok := limitPriceTrigger(order.Side(), order.LimitPrice(), b.UseAdjustedValues(), bar)
	if !ok {
		return nil
	}

	// Stop and limit both satisfied within the triggering bar: the intrabar
	// order of events is unknowable, so resolve to the conservative bound.
	if justHit {
		if order.IsBuy() {
			price = min(stopTrigger, order.LimitPrice())
		} else {
			price = max(stopTrigger, order.LimitPrice())
		}
	}
	return &FillInfo{Price: price, Quantity: fillSize}
}

// slipPrice applies the slippage model. Trade-level bars are exempt: a
// single trade has no intrabar ambiguity to model.
func (f *DefaultFill) slipPrice(order *Order, price, quantity float64, bar domain.Bar) float64 {
	if bar.Frequency == domain.FrequencyTrade {
		return price
	}
	return f.slippage.CalculatePrice(order, price, quantity, bar, f.volumeUsed[order.Instrument()])
}
