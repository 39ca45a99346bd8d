// Backtest runner: replays historical bars through a configured strategy
// against the simulated broker and prints the run summary.
//
// Usage:
//
//	go run cmd/quantsim/main.go -config config/quantsim.yaml -start 2020-01-01 -end 2023-12-31
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"quantsim/internal/barcache"
	"quantsim/internal/barfeed"
	"quantsim/internal/broker"
	"quantsim/internal/config"
	"quantsim/internal/domain"
	"quantsim/internal/strategy"
	"quantsim/internal/strategy/builtins"
	"quantsim/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/quantsim.yaml", "path to the YAML config file")
	startStr := flag.String("start", "1970-01-01", "first day of the backtest (YYYY-MM-DD)")
	endStr := flag.String("end", "2100-01-01", "last day of the backtest (YYYY-MM-DD)")
	flag.Parse()

	if p := os.Getenv("QUANTSIM_CONFIG"); p != "" && !flagSet("config") {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	start, err := time.ParseInLocation("2006-01-02", *startStr, time.UTC)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	end, err := time.ParseInLocation("2006-01-02", *endStr, time.UTC)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}

	ctx := context.Background()

	cache, err := openCache(cfg.Cache)
	if err != nil {
		log.Fatalf("failed to open bar cache: %v", err)
	}
	defer cache.Close()

	var bars []domain.Bar
	for _, instrument := range cfg.Data.Instruments {
		series, err := loadInstrument(ctx, cache, cfg.Data.Dir, instrument, start, end)
		if err != nil {
			log.Fatalf("failed to load bars for %s: %v", instrument, err)
		}
		logger.Info("loaded bars", "instrument", instrument, "count", len(series))
		bars = append(bars, series...)
	}
	if len(bars) == 0 {
		log.Fatalf("no bars loaded for %v between %s and %s", cfg.Data.Instruments, *startStr, *endStr)
	}

	feed, err := barfeed.NewMemoryFeed(domain.FrequencyDay, bars)
	if err != nil {
		log.Fatalf("failed to build bar feed: %v", err)
	}

	b, err := buildBroker(cfg.Broker, cfg.Data.Instruments, feed)
	if err != nil {
		log.Fatalf("failed to build broker: %v", err)
	}
	b.SetLogger(logger)

	registry := strategy.NewRegistry()
	smaCross, err := builtins.NewSMACross(
		cfg.Strategy.Instrument, cfg.Strategy.Short, cfg.Strategy.Long, cfg.Strategy.Quantity)
	if err != nil {
		log.Fatalf("invalid strategy parameters: %v", err)
	}
	registry.Register(smaCross)

	strat, ok := registry.Get(cfg.Strategy.Name)
	if !ok {
		log.Fatalf("unknown strategy %q, available: %v", cfg.Strategy.Name, registry.List())
	}

	result, err := strategy.NewBacktester(b, feed).Run(ctx, strat)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	fmt.Printf("run           %s\n", result.RunID)
	fmt.Printf("strategy      %s\n", result.Strategy)
	fmt.Printf("batches       %d\n", result.TotalBatches)
	fmt.Printf("orders filled %d, canceled %d\n", result.FilledOrders, result.CanceledOrders)
	fmt.Printf("capital       %.2f -> %.2f\n", result.InitialCapital, result.FinalEquity)
	fmt.Printf("return        %.2f%%\n", result.TotalReturn*100)
	fmt.Printf("max drawdown  %.2f%%\n", result.MaxDrawdown*100)
}

// flagSet reports whether the named flag was given on the command line.
func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func openCache(cfg config.Cache) (barcache.Cache, error) {
	switch cfg.Backend {
	case "memory":
		return barcache.NewMemoryCache(), nil
	case "sqlite":
		return barcache.NewSQLiteCache(cfg.Path)
	case "parquet":
		return barcache.NewParquetCache(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// loadInstrument returns the instrument's daily bars for [start, end],
// serving from the cache when possible and stamping session closes on a
// cold load.
func loadInstrument(ctx context.Context, cache barcache.Cache, dir, instrument string, start, end time.Time) ([]domain.Bar, error) {
	key := barcache.Key{
		Instrument: instrument,
		Start:      start,
		End:        end,
		Frequency:  domain.FrequencyDay,
	}
	if bars, ok, err := cache.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return bars, nil
	}

	all, err := barfeed.LoadCSV(filepath.Join(dir, instrument+".csv"), instrument)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, bar := range all {
		if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
			continue
		}
		bars = append(bars, bar)
	}
	util.StampSessionClose(bars)

	if err := cache.Put(ctx, key, bars); err != nil {
		return nil, err
	}
	return bars, nil
}

func buildBroker(cfg config.Broker, instruments []string, feed barfeed.Source) (*broker.BacktestBroker, error) {
	b := broker.NewBacktestBroker(cfg.Cash)
	b.SetAllowNegativeCash(cfg.AllowNegativeCash)
	for _, instrument := range instruments {
		b.SetInstrumentTraits(instrument, domain.Traits{QuantityPrecision: cfg.QuantityPrecision})
	}

	switch cfg.Commission.Type {
	case "none":
	case "fixed":
		b.SetCommission(broker.NewFixedPerTrade(cfg.Commission.Amount))
	case "percentage":
		b.SetCommission(broker.NewTradePercentage(cfg.Commission.Rate))
	default:
		return nil, fmt.Errorf("unknown commission type %q", cfg.Commission.Type)
	}

	fill := broker.NewDefaultFill(cfg.VolumeLimit)
	switch cfg.Slippage.Type {
	case "none":
	case "volume_share":
		fill.SetSlippageModel(broker.NewVolumeShareSlippage(cfg.Slippage.PriceImpact))
	default:
		return nil, fmt.Errorf("unknown slippage type %q", cfg.Slippage.Type)
	}
	b.SetFillStrategy(fill)

	if cfg.UseAdjustedValues {
		if err := b.SetUseAdjustedValues(true, feed); err != nil {
			return nil, err
		}
	}
	return b, nil
}
