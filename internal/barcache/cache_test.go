package barcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"quantsim/internal/domain"
)

func cacheBars(n int) []domain.Bar {
	bars := make([]domain.Bar, 0, n)
	for i := 0; i < n; i++ {
		close := 10.0 + float64(i)
		bars = append(bars, domain.Bar{
			Symbol:       "AAPL",
			Timestamp:    time.Date(2024, time.March, 1+i, 0, 0, 0, 0, time.UTC),
			Open:         close - 1,
			High:         close + 1,
			Low:          close - 2,
			Close:        close,
			Volume:       1000,
			AdjClose:     close / 2,
			HasAdjClose:  true,
			Frequency:    domain.FrequencyDay,
			SessionClose: i == n-1,
		})
	}
	return bars
}

func cacheKey() Key {
	return Key{
		Instrument: "AAPL",
		Start:      time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC),
		Frequency:  domain.FrequencyDay,
	}
}

func testCacheRoundTrip(t *testing.T, cache Cache) {
	t.Helper()
	ctx := context.Background()
	key := cacheKey()

	if _, ok, err := cache.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get on empty cache = ok=%v err=%v, want miss", ok, err)
	}

	want := cacheBars(3)
	if err := cache.Put(ctx, key, want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("Get missed after Put")
	}
	if len(got) != len(want) {
		t.Fatalf("got %d bars, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bar %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// A different key misses.
	other := key
	other.Instrument = "MSFT"
	if _, ok, err := cache.Get(ctx, other); err != nil || ok {
		t.Errorf("Get with different instrument = ok=%v err=%v, want miss", ok, err)
	}
	other = key
	other.End = key.End.AddDate(0, 0, 1)
	if _, ok, err := cache.Get(ctx, other); err != nil || ok {
		t.Errorf("Get with different range = ok=%v err=%v, want miss", ok, err)
	}

	// Put replaces the previous entry.
	replacement := cacheBars(2)
	if err := cache.Put(ctx, key, replacement); err != nil {
		t.Fatalf("replacing Put failed: %v", err)
	}
	got, ok, err = cache.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get after replace = ok=%v err=%v", ok, err)
	}
	if len(got) != 2 {
		t.Errorf("got %d bars after replace, want 2", len(got))
	}
}

func TestMemoryCache(t *testing.T) {
	cache := NewMemoryCache()
	defer cache.Close()
	testCacheRoundTrip(t, cache)
}

func TestSQLiteCache(t *testing.T) {
	cache, err := NewSQLiteCache(filepath.Join(t.TempDir(), "bars.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCache failed: %v", err)
	}
	defer cache.Close()
	testCacheRoundTrip(t, cache)
}

func TestSQLiteCachePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bars.db")
	ctx := context.Background()
	key := cacheKey()

	cache, err := NewSQLiteCache(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Put(ctx, key, cacheBars(3)); err != nil {
		t.Fatal(err)
	}
	if err := cache.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteCache(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	got, ok, err := reopened.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get after reopen = ok=%v err=%v", ok, err)
	}
	if len(got) != 3 {
		t.Errorf("got %d bars after reopen, want 3", len(got))
	}
}

func TestParquetCache(t *testing.T) {
	cache := NewParquetCache(t.TempDir())
	defer cache.Close()
	testCacheRoundTrip(t, cache)
}

func TestKeyValidate(t *testing.T) {
	key := cacheKey()
	if err := key.Validate(); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}

	bad := key
	bad.Instrument = ""
	if err := bad.Validate(); err == nil {
		t.Error("empty instrument accepted")
	}

	bad = key
	bad.Start, bad.End = bad.End, bad.Start
	if err := bad.Validate(); err == nil {
		t.Error("inverted range accepted")
	}
}

func TestMemoryCacheCopiesOnGet(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	key := cacheKey()
	if err := cache.Put(ctx, key, cacheBars(1)); err != nil {
		t.Fatal(err)
	}

	got, _, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	got[0].Close = 999

	again, _, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if again[0].Close == 999 {
		t.Error("mutating a Get result changed the cached entry")
	}
}
