package barfeed

import (
	"strings"
	"testing"
	"time"

	"quantsim/internal/domain"
)

func dayBar(symbol string, day int, close float64) domain.Bar {
	return domain.Bar{
		Symbol:    symbol,
		Timestamp: time.Date(2024, time.March, day, 0, 0, 0, 0, time.UTC),
		Open:      close - 1,
		High:      close + 1,
		Low:       close - 2,
		Close:     close,
		Volume:    1000,
		Frequency: domain.FrequencyDay,
	}
}

func TestMemoryFeedOrdersAndGroupsBatches(t *testing.T) {
	bars := []domain.Bar{
		dayBar("MSFT", 2, 20),
		dayBar("AAPL", 1, 10),
		dayBar("AAPL", 2, 11),
		dayBar("MSFT", 1, 19),
	}
	feed, err := NewMemoryFeed(domain.FrequencyDay, bars)
	if err != nil {
		t.Fatalf("NewMemoryFeed failed: %v", err)
	}
	if feed.Len() != 2 {
		t.Fatalf("Len = %d, want 2", feed.Len())
	}

	var prev time.Time
	for i := 0; ; i++ {
		batch, ok := feed.Next()
		if !ok {
			break
		}
		if i > 0 && !batch.Timestamp.After(prev) {
			t.Errorf("batch %d timestamp %s not after %s", i, batch.Timestamp, prev)
		}
		prev = batch.Timestamp
		if got := len(batch.Bars); got != 2 {
			t.Errorf("batch %d has %d bars, want 2", i, got)
		}
	}

	if got := feed.Instruments(); len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
		t.Errorf("Instruments = %v, want [AAPL MSFT]", got)
	}
}

func TestMemoryFeedReset(t *testing.T) {
	feed, err := NewMemoryFeed(domain.FrequencyDay, []domain.Bar{dayBar("AAPL", 1, 10)})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := feed.Next(); !ok {
		t.Fatal("first Next returned no batch")
	}
	if _, ok := feed.Next(); ok {
		t.Fatal("exhausted feed still yields batches")
	}
	feed.Reset()
	if _, ok := feed.Next(); !ok {
		t.Error("Next after Reset returned no batch")
	}
}

func TestMemoryFeedRejectsFrequencyMismatch(t *testing.T) {
	bar := dayBar("AAPL", 1, 10)
	bar.Frequency = domain.FrequencyMinute
	if _, err := NewMemoryFeed(domain.FrequencyDay, []domain.Bar{bar}); err == nil {
		t.Error("expected error for frequency mismatch")
	}
}

func TestMemoryFeedAdjCloseDetection(t *testing.T) {
	withAdj := dayBar("AAPL", 1, 10)
	withAdj.AdjClose = 5
	withAdj.HasAdjClose = true

	feed, err := NewMemoryFeed(domain.FrequencyDay, []domain.Bar{withAdj})
	if err != nil {
		t.Fatal(err)
	}
	if !feed.BarsHaveAdjClose() {
		t.Error("BarsHaveAdjClose = false, want true")
	}

	feed, err = NewMemoryFeed(domain.FrequencyDay, []domain.Bar{withAdj, dayBar("AAPL", 2, 11)})
	if err != nil {
		t.Fatal(err)
	}
	if feed.BarsHaveAdjClose() {
		t.Error("BarsHaveAdjClose = true with a bar missing adjusted close")
	}
}

func TestParseCSV(t *testing.T) {
	data := `Date,Open,High,Low,Close,Volume,Adj Close
2024-03-01,10,15,8,12,1000,6
2024-03-04,12,16,11,15,2000,7.5
`
	bars, err := ParseCSV(strings.NewReader(data), "AAPL")
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	first := bars[0]
	if first.Symbol != "AAPL" || first.Open != 10 || first.Close != 12 || first.Volume != 1000 {
		t.Errorf("unexpected first bar: %+v", first)
	}
	if !first.HasAdjClose || first.AdjClose != 6 {
		t.Errorf("adj close = %v (has=%v), want 6", first.AdjClose, first.HasAdjClose)
	}
	if first.Timestamp != time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("timestamp = %s", first.Timestamp)
	}
}

func TestParseCSVWithoutAdjClose(t *testing.T) {
	data := `Date,Open,High,Low,Close,Volume
2024-03-01,10,15,8,12,1000
`
	bars, err := ParseCSV(strings.NewReader(data), "AAPL")
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	if bars[0].HasAdjClose {
		t.Error("HasAdjClose = true for file without Adj Close column")
	}
}

func TestParseCSVErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"missing column", "Date,Open,High,Low,Close\n2024-03-01,10,15,8,12\n"},
		{"bad date", "Date,Open,High,Low,Close,Volume\nnot-a-date,10,15,8,12,1000\n"},
		{"bad number", "Date,Open,High,Low,Close,Volume\n2024-03-01,ten,15,8,12,1000\n"},
		{"invalid ohlc", "Date,Open,High,Low,Close,Volume\n2024-03-01,10,9,8,12,1000\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(tc.data), "AAPL"); err == nil {
				t.Error("expected error")
			}
		})
	}
}
