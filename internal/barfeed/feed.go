// Package barfeed provides historical bar sources that drive a backtest.
// A feed yields bar batches in strictly increasing timestamp order, one
// batch per distinct timestamp across all instruments.
package barfeed

import (
	"quantsim/internal/domain"
)

// Source yields bar batches in strictly increasing timestamp order.
type Source interface {
	// Next returns the next batch. ok is false once the source is
	// exhausted.
	Next() (batch domain.BarBatch, ok bool)

	// Frequency returns the bar frequency the source produces.
	Frequency() domain.Frequency

	// BarsHaveAdjClose reports whether every bar carries an adjusted
	// close price.
	BarsHaveAdjClose() bool

	// Instruments returns the instruments the source covers.
	Instruments() []string
}
