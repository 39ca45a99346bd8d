package util

import (
	"sort"
	"time"

	"quantsim/internal/domain"
)

// StampSessionClose marks the last bar of each instrument's trading day
// with the session-close flag, so brokers can expire day orders when the
// session ends. Daily and lower-frequency bars are each their own session.
// The input is modified in place and does not need to be sorted.
func StampSessionClose(bars []domain.Bar) {
	if len(bars) == 0 {
		return
	}
	if bars[0].Frequency >= domain.FrequencyDay {
		for i := range bars {
			bars[i].SessionClose = true
		}
		return
	}

	// Intraday: find the last bar per (instrument, day).
	type key struct {
		symbol string
		day    string
	}
	last := make(map[key]int, len(bars))
	for i, bar := range bars {
		k := key{bar.Symbol, dayOf(bar.Timestamp)}
		if prev, ok := last[k]; !ok || bars[i].Timestamp.After(bars[prev].Timestamp) {
			last[k] = i
		}
	}
	for i := range bars {
		bars[i].SessionClose = false
	}
	for _, i := range last {
		bars[i].SessionClose = true
	}
}

// SessionBoundaries returns the sorted distinct trading days covered by the
// bars, as midnight UTC timestamps.
func SessionBoundaries(bars []domain.Bar) []time.Time {
	seen := make(map[string]time.Time)
	for _, bar := range bars {
		day := dayOf(bar.Timestamp)
		if _, ok := seen[day]; !ok {
			t := bar.Timestamp.UTC()
			seen[day] = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
