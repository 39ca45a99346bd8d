// Package barcache caches historical bar series so repeated backtests over
// the same period do not refetch data. Entries are keyed by instrument,
// date range, and bar frequency; a lookup hits only on an exact key match.
package barcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quantsim/internal/domain"
)

// Key identifies one cached bar series.
type Key struct {
	Instrument string
	Start      time.Time
	End        time.Time
	Frequency  domain.Frequency
}

// Validate checks that the key is usable.
func (k Key) Validate() error {
	if k.Instrument == "" {
		return fmt.Errorf("empty instrument")
	}
	if k.End.Before(k.Start) {
		return fmt.Errorf("end %s before start %s", k.End, k.Start)
	}
	return nil
}

// String renders the key for logging and file naming.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s-%s",
		k.Instrument, k.Frequency,
		k.Start.UTC().Format("20060102T150405"),
		k.End.UTC().Format("20060102T150405"))
}

// Cache stores bar series under exact keys.
type Cache interface {
	// Get returns the cached bars for key. ok is false on a miss.
	Get(ctx context.Context, key Key) (bars []domain.Bar, ok bool, err error)

	// Put stores bars under key, replacing any previous entry.
	Put(ctx context.Context, key Key, bars []domain.Bar) error

	// Close releases any resources held by the cache.
	Close() error
}

// Compile-time interface check.
var _ Cache = (*MemoryCache)(nil)

// MemoryCache keeps cached series in process memory. Safe for concurrent
// use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[Key][]domain.Bar
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[Key][]domain.Bar)}
}

// Get returns the cached bars for key.
func (c *MemoryCache) Get(_ context.Context, key Key) ([]domain.Bar, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	bars, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	return out, true, nil
}

// Put stores bars under key.
func (c *MemoryCache) Put(_ context.Context, key Key, bars []domain.Bar) error {
	if err := key.Validate(); err != nil {
		return err
	}
	stored := make([]domain.Bar, len(bars))
	copy(stored, bars)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = stored
	return nil
}

// Close is a no-op for the in-memory cache.
func (c *MemoryCache) Close() error { return nil }
