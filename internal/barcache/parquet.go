package barcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"quantsim/internal/domain"
)

// Compile-time interface check.
var _ Cache = (*ParquetCache)(nil)

// ParquetCache persists cached bar series as Parquet files on disk, one
// file per key:
//
//	<DataDir>/<INSTRUMENT>/<frequency>/<start>-<end>.parquet
type ParquetCache struct {
	DataDir string
}

// NewParquetCache creates a cache rooted at the given data directory.
func NewParquetCache(dataDir string) *ParquetCache {
	return &ParquetCache{DataDir: dataDir}
}

// barRecord is the on-disk Parquet schema for cached bars.
type barRecord struct {
	Timestamp    int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open         float64 `parquet:"open"`
	High         float64 `parquet:"high"`
	Low          float64 `parquet:"low"`
	Close        float64 `parquet:"close"`
	Volume       float64 `parquet:"volume"`
	AdjClose     float64 `parquet:"adj_close"`
	HasAdjClose  bool    `parquet:"has_adj_close"`
	SessionClose bool    `parquet:"session_close"`
}

// Get returns the cached bars for key.
func (c *ParquetCache) Get(_ context.Context, key Key) ([]domain.Bar, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	path := c.path(key)
	records, err := parquet.ReadFile[barRecord](path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}

	bars := make([]domain.Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, domain.Bar{
			Symbol:       key.Instrument,
			Timestamp:    time.UnixMilli(r.Timestamp).UTC(),
			Open:         r.Open,
			High:         r.High,
			Low:          r.Low,
			Close:        r.Close,
			Volume:       r.Volume,
			AdjClose:     r.AdjClose,
			HasAdjClose:  r.HasAdjClose,
			Frequency:    key.Frequency,
			SessionClose: r.SessionClose,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, true, nil
}

// Put stores bars under key, replacing any previous file.
func (c *ParquetCache) Put(_ context.Context, key Key, bars []domain.Bar) error {
	if err := key.Validate(); err != nil {
		return err
	}

	records := make([]barRecord, 0, len(bars))
	for _, b := range bars {
		records = append(records, barRecord{
			Timestamp:    b.Timestamp.UnixMilli(),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			AdjClose:     b.AdjClose,
			HasAdjClose:  b.HasAdjClose,
			SessionClose: b.SessionClose,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })

	path := c.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Close is a no-op; files are closed after each operation.
func (c *ParquetCache) Close() error { return nil }

// path returns the file for a key.
// Layout: <dataDir>/<INSTRUMENT>/<frequency>/<start>-<end>.parquet
func (c *ParquetCache) path(key Key) string {
	name := fmt.Sprintf("%s-%s.parquet",
		key.Start.UTC().Format("20060102T150405"),
		key.End.UTC().Format("20060102T150405"))
	return filepath.Join(c.DataDir,
		strings.ToUpper(key.Instrument), key.Frequency.String(), name)
}
