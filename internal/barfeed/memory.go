package barfeed

import (
	"fmt"
	"sort"

	"quantsim/internal/domain"
)

// Compile-time interface check.
var _ Source = (*MemoryFeed)(nil)

// MemoryFeed serves pre-loaded bars from memory. Bars for multiple
// instruments are grouped into one batch per timestamp.
type MemoryFeed struct {
	frequency domain.Frequency
	batches   []domain.BarBatch
	pos       int
	hasAdj    bool
	symbols   []string
}

// NewMemoryFeed builds a feed from bars of the given frequency. Bars may
// arrive in any order; they are validated, grouped by timestamp, and
// sorted. Duplicate (instrument, timestamp) pairs and frequency mismatches
// are rejected.
func NewMemoryFeed(frequency domain.Frequency, bars []domain.Bar) (*MemoryFeed, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars provided")
	}

	byTime := make(map[int64][]domain.Bar)
	symbolSet := make(map[string]bool)
	hasAdj := true
	for _, bar := range bars {
		if err := bar.Validate(); err != nil {
			return nil, fmt.Errorf("bar %s@%s: %w", bar.Symbol, bar.Timestamp, err)
		}
		if bar.Frequency != frequency {
			return nil, fmt.Errorf("bar %s@%s: frequency %s, feed expects %s",
				bar.Symbol, bar.Timestamp, bar.Frequency, frequency)
		}
		byTime[bar.Timestamp.UnixNano()] = append(byTime[bar.Timestamp.UnixNano()], bar)
		symbolSet[bar.Symbol] = true
		if !bar.HasAdjClose {
			hasAdj = false
		}
	}

	times := make([]int64, 0, len(byTime))
	for ts := range byTime {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	batches := make([]domain.BarBatch, 0, len(times))
	for _, ts := range times {
		batch, err := domain.NewBarBatch(byTime[ts]...)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}

	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	return &MemoryFeed{
		frequency: frequency,
		batches:   batches,
		hasAdj:    hasAdj,
		symbols:   symbols,
	}, nil
}

// Next returns the next batch in timestamp order.
func (f *MemoryFeed) Next() (domain.BarBatch, bool) {
	if f.pos >= len(f.batches) {
		return domain.BarBatch{}, false
	}
	batch := f.batches[f.pos]
	f.pos++
	return batch, true
}

// Reset rewinds the feed to the first batch.
func (f *MemoryFeed) Reset() { f.pos = 0 }

// Len returns the number of batches in the feed.
func (f *MemoryFeed) Len() int { return len(f.batches) }

// Frequency returns the bar frequency of the feed.
func (f *MemoryFeed) Frequency() domain.Frequency { return f.frequency }

// BarsHaveAdjClose reports whether every loaded bar has an adjusted close.
func (f *MemoryFeed) BarsHaveAdjClose() bool { return f.hasAdj }

// Instruments returns the instruments covered by the feed, sorted.
func (f *MemoryFeed) Instruments() []string { return f.symbols }
