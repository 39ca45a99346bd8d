package broker

// Ledger tracks cash and signed per-instrument positions. It is owned by a
// single broker and mutated only when fills commit.
type Ledger struct {
	cash   float64
	shares map[string]float64
}

// NewLedger creates a ledger with the given starting cash.
func NewLedger(cash float64) *Ledger {
	return &Ledger{
		cash:   cash,
		shares: make(map[string]float64),
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 { return l.cash }

// Shares returns the signed position for an instrument. Negative means
// short.
func (l *Ledger) Shares(instrument string) float64 {
	return l.shares[instrument]
}

// Positions returns a copy of the non-zero positions.
func (l *Ledger) Positions() map[string]float64 {
	out := make(map[string]float64, len(l.shares))
	for instrument, shares := range l.shares {
		if shares != 0 {
			out[instrument] = shares
		}
	}
	return out
}

// apply commits one execution's effect: a signed position delta and a
// signed cash delta (cost plus commission already folded in).
func (l *Ledger) apply(instrument string, sharesDelta, cashDelta float64) {
	l.cash += cashDelta
	l.shares[instrument] += sharesDelta
	if l.shares[instrument] == 0 {
		delete(l.shares, instrument)
	}
}
