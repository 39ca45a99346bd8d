// Package config loads the YAML configuration that drives a backtest run.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for a backtest run.
type Config struct {
	Data     Data     `yaml:"data"`
	Cache    Cache    `yaml:"cache"`
	Broker   Broker   `yaml:"broker"`
	Strategy Strategy `yaml:"strategy"`
	Logging  Logging  `yaml:"logging"`
}

// Data locates the historical bars to replay.
type Data struct {
	// Dir holds one CSV file per instrument, named <INSTRUMENT>.csv.
	Dir         string   `yaml:"dir"`
	Instruments []string `yaml:"instruments"`
}

// Cache configures the bar cache. Supported backends: "memory", "sqlite",
// "parquet".
type Cache struct {
	Backend string `yaml:"backend"`
	// Path is the database file for sqlite or the data directory for
	// parquet.
	Path string `yaml:"path"`
}

// Broker configures the simulated broker.
type Broker struct {
	Cash              float64 `yaml:"cash"`
	VolumeLimit       float64 `yaml:"volume_limit"`
	AllowNegativeCash bool    `yaml:"allow_negative_cash"`
	UseAdjustedValues bool    `yaml:"use_adjusted_values"`
	QuantityPrecision int     `yaml:"quantity_precision"`

	// Commission scheme: "none", "fixed" (Amount per order), or
	// "percentage" (Rate of each execution's value).
	Commission CommissionScheme `yaml:"commission"`

	// Slippage scheme: "none" or "volume_share" (PriceImpact constant).
	Slippage SlippageScheme `yaml:"slippage"`
}

// CommissionScheme selects and parameterizes a commission model.
type CommissionScheme struct {
	Type   string  `yaml:"type"`
	Amount float64 `yaml:"amount"`
	Rate   float64 `yaml:"rate"`
}

// SlippageScheme selects and parameterizes a slippage model.
type SlippageScheme struct {
	Type        string  `yaml:"type"`
	PriceImpact float64 `yaml:"price_impact"`
}

// Strategy selects the strategy to run and its parameters.
type Strategy struct {
	Name       string  `yaml:"name"`
	Instrument string  `yaml:"instrument"`
	Short      int     `yaml:"short"`
	Long       int     `yaml:"long"`
	Quantity   float64 `yaml:"quantity"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, fills in defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUANTSIM_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("QUANTSIM_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("QUANTSIM_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("QUANTSIM_CASH"); v != "" {
		if cash, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Broker.Cash = cash
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Broker.VolumeLimit == 0 {
		cfg.Broker.VolumeLimit = 0.25
	}
	if cfg.Broker.Commission.Type == "" {
		cfg.Broker.Commission.Type = "none"
	}
	if cfg.Broker.Slippage.Type == "" {
		cfg.Broker.Slippage.Type = "none"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate reports the first configuration problem found.
func (cfg *Config) Validate() error {
	if cfg.Broker.Cash < 0 {
		return fmt.Errorf("broker.cash must not be negative, got %v", cfg.Broker.Cash)
	}
	if cfg.Broker.VolumeLimit < 0 || cfg.Broker.VolumeLimit > 1 {
		return fmt.Errorf("broker.volume_limit must be in [0, 1], got %v", cfg.Broker.VolumeLimit)
	}
	if cfg.Broker.QuantityPrecision < 0 {
		return fmt.Errorf("broker.quantity_precision must not be negative, got %d", cfg.Broker.QuantityPrecision)
	}

	switch cfg.Broker.Commission.Type {
	case "none":
	case "fixed":
		if cfg.Broker.Commission.Amount < 0 {
			return fmt.Errorf("broker.commission.amount must not be negative")
		}
	case "percentage":
		if cfg.Broker.Commission.Rate < 0 || cfg.Broker.Commission.Rate >= 1 {
			return fmt.Errorf("broker.commission.rate must be in [0, 1), got %v", cfg.Broker.Commission.Rate)
		}
	default:
		return fmt.Errorf("unknown commission type %q", cfg.Broker.Commission.Type)
	}

	switch cfg.Broker.Slippage.Type {
	case "none":
	case "volume_share":
		if cfg.Broker.Slippage.PriceImpact < 0 {
			return fmt.Errorf("broker.slippage.price_impact must not be negative")
		}
	default:
		return fmt.Errorf("unknown slippage type %q", cfg.Broker.Slippage.Type)
	}

	switch cfg.Cache.Backend {
	case "memory":
	case "sqlite", "parquet":
		if cfg.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for the %s backend", cfg.Cache.Backend)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	return nil
}
