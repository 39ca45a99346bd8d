package barfeed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"quantsim/internal/domain"
)

// LoadCSV reads daily bars for one instrument from a CSV file with a
// header row. Recognized columns: Date, Open, High, Low, Close, Volume,
// and optionally Adj Close. Dates are parsed as YYYY-MM-DD in UTC.
func LoadCSV(path, symbol string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bar file: %w", err)
	}
	defer f.Close()

	bars, err := ParseCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return bars, nil
}

// ParseCSV reads daily bars for one instrument from CSV data.
func ParseCSV(r io.Reader, symbol string) ([]domain.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	adjCol, hasAdj := cols["adj close"]

	var bars []domain.Bar
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := time.ParseInLocation("2006-01-02", record[cols["date"]], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar := domain.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Frequency: domain.FrequencyDay,
		}
		if bar.Open, err = parseField(record, cols["open"], line); err != nil {
			return nil, err
		}
		if bar.High, err = parseField(record, cols["high"], line); err != nil {
			return nil, err
		}
		if bar.Low, err = parseField(record, cols["low"], line); err != nil {
			return nil, err
		}
		if bar.Close, err = parseField(record, cols["close"], line); err != nil {
			return nil, err
		}
		if bar.Volume, err = parseField(record, cols["volume"], line); err != nil {
			return nil, err
		}
		if hasAdj {
			if bar.AdjClose, err = parseField(record, adjCol, line); err != nil {
				return nil, err
			}
			bar.HasAdjClose = true
		}
		if err := bar.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseField(record []string, col, line int) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: %w", line, err)
	}
	return v, nil
}
