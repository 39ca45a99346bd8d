// Package broker implements the order-execution engine for bar-driven
// trading simulations: the order lifecycle state machine, per-kind fill
// rules, pluggable slippage and commission models, and the cash/position
// ledger that fills mutate.
package broker

import (
	"fmt"
	"log/slog"
	"time"

	"quantsim/internal/domain"
)

// Broker is the order-management surface exposed to the strategy layer.
type Broker interface {
	// CreateMarketOrder creates a market order. If onClose is true the
	// order fills as close to the closing price as possible.
	CreateMarketOrder(side Side, instrument string, quantity float64, onClose bool) (*Order, error)

	// CreateLimitOrder creates a limit order.
	CreateLimitOrder(side Side, instrument string, limitPrice, quantity float64) (*Order, error)

	// CreateStopOrder creates a stop order.
	CreateStopOrder(side Side, instrument string, stopPrice, quantity float64) (*Order, error)

	// CreateStopLimitOrder creates a stop-limit order.
	CreateStopLimitOrder(side Side, instrument string, stopPrice, limitPrice, quantity float64) (*Order, error)

	// SubmitOrder submits an order for execution. Orders submitted while a
	// batch is being processed are held for the next batch.
	SubmitOrder(order *Order) error

	// CancelOrder cancels an active order.
	CancelOrder(order *Order) error

	// ActiveOrders returns the orders still active, in submission order.
	// Pass an empty instrument to get all of them.
	ActiveOrders(instrument string) []*Order

	// Cash returns the current cash balance.
	Cash() float64

	// Shares returns the signed position for an instrument.
	Shares(instrument string) float64

	// Positions returns the non-zero positions.
	Positions() map[string]float64

	// Equity returns cash plus the value of all positions at the last seen
	// close prices.
	Equity() float64

	// OnOrderUpdated registers a handler for order update events.
	OnOrderUpdated(handler func(OrderEvent))
}

// Compile-time interface check.
var _ Broker = (*BacktestBroker)(nil)

// BacktestBroker simulates order execution against a stream of bar batches.
// It owns the ledger and the active-order registry; it is single-threaded
// and advances only when handed a new batch via OnBars.
type BacktestBroker struct {
	ledger            *Ledger
	commission        Commission
	fillStrategy      FillStrategy
	activeOrders      []*Order
	ordersByID        map[uint64]*Order
	lastBars          map[string]domain.Bar
	lastBatchTime     time.Time
	useAdjusted       bool
	allowNegativeCash bool
	instrumentTraits  map[string]domain.Traits
	handlers          []func(OrderEvent)
	nextOrderID       uint64
	logger            *slog.Logger
}

// NewBacktestBroker creates a broker with the given starting cash, no
// commissions, and the default fill strategy.
func NewBacktestBroker(cash float64) *BacktestBroker {
	if cash < 0 {
		panic("initial cash must not be negative")
	}
	return &BacktestBroker{
		ledger:           NewLedger(cash),
		commission:       NoCommission{},
		fillStrategy:     NewDefaultFill(DefaultVolumeLimit),
		ordersByID:       make(map[uint64]*Order),
		lastBars:         make(map[string]domain.Bar),
		instrumentTraits: make(map[string]domain.Traits),
		nextOrderID:      1,
		logger:           slog.Default(),
	}
}

// SetCommission sets the commission model.
func (b *BacktestBroker) SetCommission(c Commission) { b.commission = c }

// SetFillStrategy sets the fill strategy.
func (b *BacktestBroker) SetFillStrategy(s FillStrategy) { b.fillStrategy = s }

// SetAllowNegativeCash allows fills that drive cash below zero.
func (b *BacktestBroker) SetAllowNegativeCash(allow bool) { b.allowNegativeCash = allow }

// SetLogger sets the logger used for fill diagnostics.
func (b *BacktestBroker) SetLogger(logger *slog.Logger) { b.logger = logger }

// Logger returns the broker's logger.
func (b *BacktestBroker) Logger() *slog.Logger { return b.logger }

// SetInstrumentTraits sets the quantity traits for an instrument. Orders
// capture the traits at creation time. Instruments default to whole units.
func (b *BacktestBroker) SetInstrumentTraits(instrument string, traits domain.Traits) {
	b.instrumentTraits[instrument] = traits
}

// AdjCloseSupport reports whether a bar source provides adjusted closes.
type AdjCloseSupport interface {
	BarsHaveAdjClose() bool
}

// SetUseAdjustedValues switches price lookups to adjusted values. It fails
// with ErrUnsupportedFeature when the bar source does not provide adjusted
// closes. Pass a nil source to skip the capability check.
func (b *BacktestBroker) SetUseAdjustedValues(useAdjusted bool, source AdjCloseSupport) error {
	if useAdjusted && source != nil && !source.BarsHaveAdjClose() {
		return fmt.Errorf("%w: bar source has no adjusted close", ErrUnsupportedFeature)
	}
	b.useAdjusted = useAdjusted
	return nil
}

// UseAdjustedValues returns whether adjusted prices are in effect.
func (b *BacktestBroker) UseAdjustedValues() bool { return b.useAdjusted }

// Cash returns the current cash balance.
func (b *BacktestBroker) Cash() float64 { return b.ledger.Cash() }

// Shares returns the signed position for an instrument.
func (b *BacktestBroker) Shares(instrument string) float64 { return b.ledger.Shares(instrument) }

// Positions returns the non-zero positions.
func (b *BacktestBroker) Positions() map[string]float64 { return b.ledger.Positions() }

// Equity returns cash plus positions valued at the last seen close prices.
func (b *BacktestBroker) Equity() float64 {
	equity := b.ledger.Cash()
	for instrument, shares := range b.ledger.Positions() {
		if bar, ok := b.lastBars[instrument]; ok {
			equity += bar.ClosePrice(b.useAdjusted) * shares
		}
	}
	return equity
}

// ActiveOrders returns the active orders in submission order. Pass an empty
// instrument to get all of them.
func (b *BacktestBroker) ActiveOrders(instrument string) []*Order {
	var out []*Order
	for _, order := range b.activeOrders {
		if instrument == "" || order.Instrument() == instrument {
			out = append(out, order)
		}
	}
	return out
}

// OnOrderUpdated registers a handler for order update events. Handlers run
// synchronously, in registration order.
func (b *BacktestBroker) OnOrderUpdated(handler func(OrderEvent)) {
	b.handlers = append(b.handlers, handler)
}

func (b *BacktestBroker) notify(ev OrderEvent) {
	for _, handler := range b.handlers {
		handler(ev)
	}
}

func (b *BacktestBroker) traitsFor(instrument string) domain.Traits {
	if traits, ok := b.instrumentTraits[instrument]; ok {
		return traits
	}
	return domain.IntegerTraits
}

func (b *BacktestBroker) newOrder(kind Kind, side Side, instrument string, quantity float64) (*Order, error) {
	if !side.valid() {
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, side)
	}
	if instrument == "" {
		return nil, fmt.Errorf("%w: empty instrument", ErrInvalidOrder)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %v", ErrInvalidOrder, quantity)
	}
	order := &Order{
		id:         b.nextOrderID,
		kind:       kind,
		side:       side,
		instrument: instrument,
		quantity:   quantity,
		state:      StateInitial,
		traits:     b.traitsFor(instrument),
	}
	b.nextOrderID++
	return order, nil
}

// CreateMarketOrder creates a market order.
func (b *BacktestBroker) CreateMarketOrder(side Side, instrument string, quantity float64, onClose bool) (*Order, error) {
	order, err := b.newOrder(KindMarket, side, instrument, quantity)
	if err != nil {
		return nil, err
	}
	order.fillOnClose = onClose
	return order, nil
}

// CreateLimitOrder creates a limit order.
func (b *BacktestBroker) CreateLimitOrder(side Side, instrument string, limitPrice, quantity float64) (*Order, error) {
	if limitPrice <= 0 {
		return nil, fmt.Errorf("%w: limit price must be positive, got %v", ErrInvalidOrder, limitPrice)
	}
	order, err := b.newOrder(KindLimit, side, instrument, quantity)
	if err != nil {
		return nil, err
	}
	order.limitPrice = limitPrice
	return order, nil
}

// CreateStopOrder creates a stop order.
func (b *BacktestBroker) CreateStopOrder(side Side, instrument string, stopPrice, quantity float64) (*Order, error) {
	if stopPrice <= 0 {
		return nil, fmt.Errorf("%w: stop price must be positive, got %v", ErrInvalidOrder, stopPrice)
	}
	order, err := b.newOrder(KindStop, side, instrument, quantity)
	if err != nil {
		return nil, err
	}
	order.stopPrice = stopPrice
	return order, nil
}

// CreateStopLimitOrder creates a stop-limit order.
func (b *BacktestBroker) CreateStopLimitOrder(side Side, instrument string, stopPrice, limitPrice, quantity float64) (*Order, error) {
	if stopPrice <= 0 {
		return nil, fmt.Errorf("%w: stop price must be positive, got %v", ErrInvalidOrder, stopPrice)
	}
	if limitPrice <= 0 {
		return nil, fmt.Errorf("%w: limit price must be positive, got %v", ErrInvalidOrder, limitPrice)
	}
	order, err := b.newOrder(KindStopLimit, side, instrument, quantity)
	if err != nil {
		return nil, err
	}
	order.stopPrice = stopPrice
	order.limitPrice = limitPrice
	return order, nil
}

// SubmitOrder adds the order to the active registry. Orders submitted while
// a batch is being processed are not evaluated until the next batch: OnBars
// iterates over a snapshot taken before any handler runs.
func (b *BacktestBroker) SubmitOrder(order *Order) error {
	if order.state != StateInitial {
		return ErrOrderAlreadyProcessed
	}
	if err := order.switchState(StateSubmitted); err != nil {
		return err
	}
	b.activeOrders = append(b.activeOrders, order)
	b.ordersByID[order.id] = order
	b.notify(OrderEvent{Order: order, Type: OrderSubmitted})
	return nil
}

// CancelOrder cancels an active order. Canceling a filled or canceled order
// fails with ErrOrderAlreadyFinalized.
func (b *BacktestBroker) CancelOrder(order *Order) error {
	if !order.IsActive() {
		return ErrOrderAlreadyFinalized
	}
	if _, ok := b.ordersByID[order.id]; !ok {
		return ErrOrderNotActive
	}
	b.removeActive(order)
	if err := order.switchState(StateCanceled); err != nil {
		return err
	}
	b.notify(OrderEvent{Order: order, Type: OrderCanceled, Reason: "user requested cancellation"})
	return nil
}

func (b *BacktestBroker) removeActive(order *Order) {
	delete(b.ordersByID, order.id)
	for i, active := range b.activeOrders {
		if active.id == order.id {
			b.activeOrders = append(b.activeOrders[:i], b.activeOrders[i+1:]...)
			return
		}
	}
}

// OnBars processes one bar batch: it resets the fill strategy's volume
// budgets, then advances every active order in submission order. Batches
// must arrive in strictly increasing timestamp order.
func (b *BacktestBroker) OnBars(batch domain.BarBatch) error {
	if len(batch.Bars) == 0 {
		return nil
	}
	if !b.lastBatchTime.IsZero() && !batch.Timestamp.After(b.lastBatchTime) {
		return fmt.Errorf("%w: batch at %s follows batch at %s",
			ErrSequencing, batch.Timestamp, b.lastBatchTime)
	}
	b.lastBatchTime = batch.Timestamp

	b.fillStrategy.OnBars(b, batch)

	// Freeze the orders processed in this batch. Orders submitted from
	// event handlers land in activeOrders but not in this snapshot, so they
	// are first evaluated against the next batch.
	snapshot := make([]*Order, len(b.activeOrders))
	copy(snapshot, b.activeOrders)

	for _, order := range snapshot {
		if err := b.processOrder(order, batch); err != nil {
			return err
		}
	}

	for instrument, bar := range batch.Bars {
		b.lastBars[instrument] = bar
	}
	return nil
}

func (b *BacktestBroker) processOrder(order *Order, batch domain.BarBatch) error {
	if _, ok := b.ordersByID[order.id]; !ok {
		// Canceled by an event handler earlier in this batch.
		return nil
	}

	// Fall back to the last seen bar when the instrument is absent from
	// this batch; skip the order if the instrument was never seen.
	bar, ok := batch.Bar(order.Instrument())
	if !ok {
		if bar, ok = b.lastBars[order.Instrument()]; !ok {
			return nil
		}
	}
	if b.useAdjusted && !bar.HasAdjClose {
		return fmt.Errorf("%w: bar for %s has no adjusted close", ErrUnsupportedFeature, order.Instrument())
	}

	if order.state == StateSubmitted {
		order.acceptedAt = batch.Timestamp
		if err := order.switchState(StateAccepted); err != nil {
			return err
		}
		b.notify(OrderEvent{Order: order, Type: OrderAccepted})
	}

	if order.IsActive() {
		if fill := b.fillStrategy.FillOrder(b, order, bar); fill != nil {
			b.commitExecution(order, batch.Timestamp, fill)
		}
	}

	// Session-close auto-cancel for orders that are not good till canceled.
	if order.IsActive() && !order.GoodTillCanceled() && bar.SessionClose {
		b.removeActive(order)
		if err := order.switchState(StateCanceled); err != nil {
			return err
		}
		b.notify(OrderEvent{Order: order, Type: OrderCanceled, Reason: "session close"})
	}
	return nil
}

// commitExecution applies a candidate fill: it charges commission, verifies
// the resulting cash, mutates the ledger and the order, and emits an event.
// A cash shortfall defers the fill silently; the order stays active.
func (b *BacktestBroker) commitExecution(order *Order, timestamp time.Time, fill *FillInfo) {
	price := fill.Price
	quantity := fill.Quantity

	var cost, sharesDelta float64
	if order.IsBuy() {
		cost = -price * quantity
		sharesDelta = quantity
	} else {
		cost = price * quantity
		sharesDelta = -quantity
	}

	commission := b.commission.Calculate(order, price, quantity)
	cost -= commission
	if b.ledger.Cash()+cost < 0 && !b.allowNegativeCash {
		b.logger.Debug("not enough cash to fill order",
			"order", order.ID(), "instrument", order.Instrument(),
			"price", price, "quantity", quantity, "cash", b.ledger.Cash())
		return
	}

	exec := ExecutionInfo{Price: price, Quantity: quantity, Commission: commission, Timestamp: timestamp}
	if err := order.addExecution(exec); err != nil {
		// The fill strategy never produces a fill beyond the remaining
		// quantity; a violation means the volume accounting is corrupt.
		panic(err)
	}

	b.ledger.apply(order.Instrument(), sharesDelta, cost)
	b.fillStrategy.OnOrderFilled(b, order)

	if order.state == StateFilled {
		b.removeActive(order)
		b.notify(OrderEvent{Order: order, Type: OrderFilled, Execution: &exec})
	} else {
		b.notify(OrderEvent{Order: order, Type: OrderPartiallyFilled, Execution: &exec})
	}
}
