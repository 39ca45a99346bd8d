package broker

import "quantsim/internal/domain"

// SlippageModel adjusts a raw fill price to account for market impact.
// Implementations must be pure functions of their inputs.
type SlippageModel interface {
	// CalculatePrice returns the slipped per-unit price for filling
	// quantity units at price, given the bar being processed and the
	// volume already taken from it by earlier fills in the same batch.
	CalculatePrice(order *Order, price, quantity float64, bar domain.Bar, volumeUsed float64) float64
}

// Compile-time interface checks.
var _ SlippageModel = (*NoSlippage)(nil)
var _ SlippageModel = (*VolumeShareSlippage)(nil)

// NoSlippage returns prices unchanged.
type NoSlippage struct{}

// CalculatePrice returns price as is.
func (NoSlippage) CalculatePrice(_ *Order, price, _ float64, _ domain.Bar, _ float64) float64 {
	return price
}

// VolumeShareSlippage models impact as a function of the share of the bar's
// volume consumed: impact = priceImpact * ((volumeUsed + quantity) / barVolume)^2,
// applied multiplicatively against buys and in favor of the market on sells.
// Bars must have volume > 0.
type VolumeShareSlippage struct {
	priceImpact float64
}

// NewVolumeShareSlippage creates a VolumeShareSlippage model with the given
// price impact constant.
func NewVolumeShareSlippage(priceImpact float64) *VolumeShareSlippage {
	return &VolumeShareSlippage{priceImpact: priceImpact}
}

// CalculatePrice returns the impacted price.
func (s *VolumeShareSlippage) CalculatePrice(order *Order, price, quantity float64, bar domain.Bar, volumeUsed float64) float64 {
	if bar.Volume <= 0 {
		panic("volume share slippage requires bars with volume")
	}

	volumeShare := (volumeUsed + quantity) / bar.Volume
	impact := volumeShare * volumeShare * s.priceImpact
	if order.IsBuy() {
		return price * (1 + impact)
	}
	return price * (1 - impact)
}
