// Package domain defines the core market-data types shared across the
// simulator: bars, bar batches, bar frequencies, and instrument traits.
package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Frequency identifies the period summarized by a bar, in seconds.
// FrequencyTrade is a sentinel for bars that represent a single trade.
type Frequency int64

const (
	FrequencyTrade  Frequency = -1
	FrequencySecond Frequency = 1
	FrequencyMinute Frequency = 60
	FrequencyHour   Frequency = 60 * 60
	FrequencyDay    Frequency = 24 * 60 * 60
	FrequencyWeek   Frequency = 24 * 60 * 60 * 7
)

// String returns a human-readable name for the frequency.
func (f Frequency) String() string {
	switch f {
	case FrequencyTrade:
		return "trade"
	case FrequencySecond:
		return "second"
	case FrequencyMinute:
		return "minute"
	case FrequencyHour:
		return "hour"
	case FrequencyDay:
		return "day"
	case FrequencyWeek:
		return "week"
	}
	return fmt.Sprintf("frequency(%d)", int64(f))
}

// Bar is an OHLCV price observation for one instrument over one period.
type Bar struct {
	Symbol       string
	Timestamp    time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	AdjClose     float64
	HasAdjClose  bool
	Frequency    Frequency
	SessionClose bool
}

// Validate checks the OHLC invariants.
func (b Bar) Validate() error {
	if b.High < b.Open {
		return fmt.Errorf("high < open on %s", b.Timestamp)
	}
	if b.High < b.Low {
		return fmt.Errorf("high < low on %s", b.Timestamp)
	}
	if b.High < b.Close {
		return fmt.Errorf("high < close on %s", b.Timestamp)
	}
	if b.Low > b.Open {
		return fmt.Errorf("low > open on %s", b.Timestamp)
	}
	if b.Low > b.Close {
		return fmt.Errorf("low > close on %s", b.Timestamp)
	}
	return nil
}

// OpenPrice returns the open price, scaled by the adjusted close when
// adjusted is true. Callers must not request adjusted values for bars
// without an adjusted close.
func (b Bar) OpenPrice(adjusted bool) float64 {
	if adjusted {
		return b.AdjClose * b.Open / b.Close
	}
	return b.Open
}

// HighPrice returns the high price, optionally adjusted.
func (b Bar) HighPrice(adjusted bool) float64 {
	if adjusted {
		return b.AdjClose * b.High / b.Close
	}
	return b.High
}

// LowPrice returns the low price, optionally adjusted.
func (b Bar) LowPrice(adjusted bool) float64 {
	if adjusted {
		return b.AdjClose * b.Low / b.Close
	}
	return b.Low
}

// ClosePrice returns the close price, optionally adjusted.
func (b Bar) ClosePrice(adjusted bool) float64 {
	if adjusted {
		return b.AdjClose
	}
	return b.Close
}

// BarBatch groups the bars observed for a set of instruments at one shared
// timestamp. All bars in a batch carry the same timestamp.
type BarBatch struct {
	Timestamp time.Time
	Bars      map[string]Bar
}

// NewBarBatch builds a batch from the given bars. It fails if the bars do
// not share a single timestamp or if an instrument appears twice.
func NewBarBatch(bars ...Bar) (BarBatch, error) {
	batch := BarBatch{Bars: make(map[string]Bar, len(bars))}
	for _, b := range bars {
		if batch.Timestamp.IsZero() {
			batch.Timestamp = b.Timestamp
		} else if !b.Timestamp.Equal(batch.Timestamp) {
			return BarBatch{}, fmt.Errorf("bar for %s has timestamp %s, batch has %s",
				b.Symbol, b.Timestamp, batch.Timestamp)
		}
		if _, ok := batch.Bars[b.Symbol]; ok {
			return BarBatch{}, fmt.Errorf("duplicate instrument %s in batch", b.Symbol)
		}
		batch.Bars[b.Symbol] = b
	}
	return batch, nil
}

// Bar returns the bar for an instrument, if present in this batch.
func (bb BarBatch) Bar(instrument string) (Bar, bool) {
	b, ok := bb.Bars[instrument]
	return b, ok
}

// Instruments returns the instruments in this batch, sorted.
func (bb BarBatch) Instruments() []string {
	names := make([]string, 0, len(bb.Bars))
	for name := range bb.Bars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Traits describes per-instrument quantity handling.
type Traits struct {
	// QuantityPrecision is the number of decimal places quantities are
	// rounded down to. Zero means whole units only.
	QuantityPrecision int
}

// IntegerTraits is the default for instruments traded in whole units.
var IntegerTraits = Traits{QuantityPrecision: 0}

// RoundQuantity rounds a quantity down to the instrument's precision.
func (t Traits) RoundQuantity(quantity float64) float64 {
	scale := math.Pow10(t.QuantityPrecision)
	return math.Floor(quantity*scale) / scale
}
