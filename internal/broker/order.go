package broker

import (
	"fmt"
	"time"

	"quantsim/internal/domain"
)

// Kind identifies the order type. The set is closed: the fill strategy
// dispatches on it and no open extension is supported.
type Kind string

const (
	KindMarket    Kind = "market"
	KindLimit     Kind = "limit"
	KindStop      Kind = "stop"
	KindStopLimit Kind = "stop_limit"
)

// Side identifies the order action.
type Side string

const (
	SideBuy        Side = "buy"
	SideBuyToCover Side = "buy_to_cover"
	SideSell       Side = "sell"
	SideSellShort  Side = "sell_short"
)

// IsBuy returns true for buy and buy-to-cover orders.
func (s Side) IsBuy() bool {
	return s == SideBuy || s == SideBuyToCover
}

// IsSell returns true for sell and sell-short orders.
func (s Side) IsSell() bool {
	return s == SideSell || s == SideSellShort
}

func (s Side) valid() bool {
	return s.IsBuy() || s.IsSell()
}

// State is an order lifecycle state.
//
// State chart:
//
//	Initial   -> Submitted | Canceled
//	Submitted -> Accepted  | Canceled
//	Accepted  -> Filled    | Canceled
//
// Accepted covers partial fills: the order stays Accepted while
// 0 < filled < quantity. Filled and Canceled are terminal.
type State string

const (
	StateInitial   State = "initial"
	StateSubmitted State = "submitted"
	StateAccepted  State = "accepted"
	StateFilled    State = "filled"
	StateCanceled  State = "canceled"
)

var validTransitions = map[State][]State{
	StateInitial:   {StateSubmitted, StateCanceled},
	StateSubmitted: {StateAccepted, StateCanceled},
	StateAccepted:  {StateFilled, StateCanceled},
}

// ExecutionInfo records one fill of an order. Immutable once appended.
type ExecutionInfo struct {
	Price      float64
	Quantity   float64
	Commission float64
	Timestamp  time.Time
}

// Order is a trading order owned by the broker. The strategy layer holds a
// reference but never mutates it directly: all state changes go through the
// broker, which keeps results reproducible.
type Order struct {
	id               uint64
	kind             Kind
	side             Side
	instrument       string
	quantity         float64
	filled           float64
	limitPrice       float64
	stopPrice        float64
	fillOnClose      bool
	allOrNone        bool
	goodTillCanceled bool
	stopHit          bool
	state            State
	avgFillPrice     float64
	commissions      float64
	executions       []ExecutionInfo
	acceptedAt       time.Time
	traits           domain.Traits
}

// ID returns the order id. Ids are assigned sequentially at creation.
func (o *Order) ID() uint64 { return o.id }

// Kind returns the order kind.
func (o *Order) Kind() Kind { return o.kind }

// Side returns the order action.
func (o *Order) Side() Side { return o.side }

// Instrument returns the instrument identifier.
func (o *Order) Instrument() string { return o.instrument }

// Quantity returns the requested quantity.
func (o *Order) Quantity() float64 { return o.quantity }

// Filled returns the quantity executed so far.
func (o *Order) Filled() float64 { return o.filled }

// Remaining returns the quantity still outstanding.
func (o *Order) Remaining() float64 { return o.quantity - o.filled }

// LimitPrice returns the limit price. Valid for limit and stop-limit orders.
func (o *Order) LimitPrice() float64 { return o.limitPrice }

// StopPrice returns the stop price. Valid for stop and stop-limit orders.
func (o *Order) StopPrice() float64 { return o.stopPrice }

// FillOnClose returns true for market-on-close orders.
func (o *Order) FillOnClose() bool { return o.fillOnClose }

// AllOrNone returns true if the order must fill its full remaining quantity
// in one execution or not at all.
func (o *Order) AllOrNone() bool { return o.allOrNone }

// GoodTillCanceled returns true if the order survives session close.
func (o *Order) GoodTillCanceled() bool { return o.goodTillCanceled }

// State returns the current lifecycle state.
func (o *Order) State() State { return o.state }

// IsActive returns true while the order is not Filled or Canceled.
func (o *Order) IsActive() bool {
	return o.state != StateFilled && o.state != StateCanceled
}

// IsBuy returns true for buy and buy-to-cover orders.
func (o *Order) IsBuy() bool { return o.side.IsBuy() }

// IsSell returns true for sell and sell-short orders.
func (o *Order) IsSell() bool { return o.side.IsSell() }

// AvgFillPrice returns the volume-weighted average fill price, or 0 if
// nothing has been filled yet.
func (o *Order) AvgFillPrice() float64 { return o.avgFillPrice }

// Commissions returns the total commissions charged so far.
func (o *Order) Commissions() float64 { return o.commissions }

// Executions returns a copy of the execution records, in fill order.
func (o *Order) Executions() []ExecutionInfo {
	out := make([]ExecutionInfo, len(o.executions))
	copy(out, o.executions)
	return out
}

// LastExecution returns the most recent execution record, or nil if the
// order has no fills yet.
func (o *Order) LastExecution() *ExecutionInfo {
	if len(o.executions) == 0 {
		return nil
	}
	last := o.executions[len(o.executions)-1]
	return &last
}

// AcceptedAt returns the timestamp of the batch that accepted the order.
func (o *Order) AcceptedAt() time.Time { return o.acceptedAt }

// Traits returns the quantity traits of the order's instrument.
func (o *Order) Traits() domain.Traits { return o.traits }

// StopHit returns true once the stop price has been penetrated. Relevant for
// stop and stop-limit orders; evaluated at most once and then persisted.
func (o *Order) StopHit() bool { return o.stopHit }

// SetAllOrNone sets the all-or-none flag. It fails once the order has been
// submitted.
func (o *Order) SetAllOrNone(allOrNone bool) error {
	if o.state != StateInitial {
		return ErrOrderAlreadyProcessed
	}
	o.allOrNone = allOrNone
	return nil
}

// SetGoodTillCanceled sets the good-till-canceled flag. Orders without it
// are canceled automatically at session close. It fails once the order has
// been submitted.
func (o *Order) SetGoodTillCanceled(goodTillCanceled bool) error {
	if o.state != StateInitial {
		return ErrOrderAlreadyProcessed
	}
	o.goodTillCanceled = goodTillCanceled
	return nil
}

func (o *Order) setStopHit(hit bool) { o.stopHit = hit }

func (o *Order) switchState(newState State) error {
	for _, valid := range validTransitions[o.state] {
		if newState == valid {
			o.state = newState
			return nil
		}
	}
	return fmt.Errorf("invalid order state transition from %s to %s", o.state, newState)
}

// addExecution appends a fill and advances the state. The caller guarantees
// the quantity does not exceed the remaining amount.
func (o *Order) addExecution(info ExecutionInfo) error {
	if info.Quantity > o.Remaining() {
		return fmt.Errorf("invalid fill size: %v remaining, %v filled", o.Remaining(), info.Quantity)
	}

	if o.avgFillPrice == 0 {
		o.avgFillPrice = info.Price
	} else {
		total := o.avgFillPrice*o.filled + info.Price*info.Quantity
		o.avgFillPrice = total / (o.filled + info.Quantity)
	}

	o.executions = append(o.executions, info)
	o.filled += info.Quantity
	o.commissions += info.Commission

	if o.Remaining() == 0 {
		return o.switchState(StateFilled)
	}
	// Partial fill: the order stays Accepted. All-or-none orders never fill
	// partially.
	return nil
}

// OrderEventType identifies what happened to an order.
type OrderEventType string

const (
	OrderSubmitted       OrderEventType = "submitted"
	OrderAccepted        OrderEventType = "accepted"
	OrderPartiallyFilled OrderEventType = "partially_filled"
	OrderFilled          OrderEventType = "filled"
	OrderCanceled        OrderEventType = "canceled"
)

// OrderEvent notifies subscribers of an order update. Execution is set for
// fill events; Reason is set for cancellations.
type OrderEvent struct {
	Order     *Order
	Type      OrderEventType
	Execution *ExecutionInfo
	Reason    string
}
