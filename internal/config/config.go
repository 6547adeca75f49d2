// Package config loads runtime configuration from environment variables and
// an optional YAML limits file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the paper trader.
type Config struct {
	Port     int
	LogLevel string

	// BrokerMode selects the execution venue: "paper" or "live". Read once
	// at process start.
	BrokerMode string

	PollInterval   time.Duration // execution engine status reconciliation
	ExpiryInterval time.Duration // DAY-order expiry sweep
	StaleOrderAge  time.Duration // active orders older than this are flagged

	// Simulator behaviour.
	SlippagePct    float64
	CommissionRate float64
	FillDelay      time.Duration

	// Optional SQLite trade journal; empty disables journaling.
	TradeJournalPath string

	// Optional YAML file overriding validation/risk limits.
	LimitsFile string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	brokerMode := getStr("BROKER_MODE", "paper")
	if brokerMode != "paper" && brokerMode != "live" {
		return nil, fmt.Errorf("invalid BROKER_MODE: %q, must be one of: paper, live", brokerMode)
	}

	pollInterval, err := getDuration("POLL_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
	}

	expiryInterval, err := getDuration("EXPIRY_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid EXPIRY_INTERVAL: %w", err)
	}

	staleOrderAge, err := getDuration("STALE_ORDER_AGE", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid STALE_ORDER_AGE: %w", err)
	}

	slippagePct, err := getFloat("SLIPPAGE_PCT", 0.001)
	if err != nil {
		return nil, fmt.Errorf("invalid SLIPPAGE_PCT: %w", err)
	}
	if slippagePct < 0 || slippagePct >= 1 {
		return nil, fmt.Errorf("invalid SLIPPAGE_PCT: %v, must be in [0, 1)", slippagePct)
	}

	commissionRate, err := getFloat("COMMISSION_RATE", 0.0003)
	if err != nil {
		return nil, fmt.Errorf("invalid COMMISSION_RATE: %w", err)
	}
	if commissionRate < 0 || commissionRate >= 1 {
		return nil, fmt.Errorf("invalid COMMISSION_RATE: %v, must be in [0, 1)", commissionRate)
	}

	fillDelay, err := getDuration("FILL_DELAY", 10*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("invalid FILL_DELAY: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:             port,
		LogLevel:         logLevel,
		BrokerMode:       brokerMode,
		PollInterval:     pollInterval,
		ExpiryInterval:   expiryInterval,
		StaleOrderAge:    staleOrderAge,
		SlippagePct:      slippagePct,
		CommissionRate:   commissionRate,
		FillDelay:        fillDelay,
		TradeJournalPath: getStr("TRADE_JOURNAL_PATH", ""),
		LimitsFile:       getStr("LIMITS_FILE", ""),
		ReadTimeout:      readTimeout,
		WriteTimeout:     writeTimeout,
		IdleTimeout:      idleTimeout,
		ShutdownTimeout:  shutdownTimeout,
	}, nil
}

// ValidationLimits bound what a single order request may look like.
type ValidationLimits struct {
	MinPrice         float64  `yaml:"min_price"`
	MaxPrice         float64  `yaml:"max_price"`
	MinQuantity      int64    `yaml:"min_quantity"`
	MaxQuantity      int64    `yaml:"max_quantity"`
	LotSize          int64    `yaml:"lot_size"`
	MaxOrderNotional float64  `yaml:"max_order_notional"`
	AllowedSymbols   []string `yaml:"allowed_symbols"` // empty allows any
	MarketOpen       string   `yaml:"market_open"`     // "HH:MM", local time
	MarketClose      string   `yaml:"market_close"`
}

// RiskLimits bound aggregate trading activity.
type RiskLimits struct {
	MaxOrderQuantity         int64   `yaml:"max_order_quantity"`
	MaxSingleOrderValue      float64 `yaml:"max_single_order_value"`
	MaxPositionSize          float64 `yaml:"max_position_size"`
	MaxPositionConcentration float64 `yaml:"max_position_concentration"` // fraction of portfolio
	MaxDailyTrades           int     `yaml:"max_daily_trades"`
	MaxDailyVolume           float64 `yaml:"max_daily_volume"`
	MaxOpenSymbols           int     `yaml:"max_open_symbols"`
	DailyLossLimit           float64 `yaml:"daily_loss_limit"`
}

// Limits groups the validator and risk-manager limit sets.
type Limits struct {
	Validation ValidationLimits `yaml:"validation"`
	Risk       RiskLimits       `yaml:"risk"`
}

// DefaultLimits returns the built-in limit set used when no limits file is
// configured.
func DefaultLimits() Limits {
	return Limits{
		Validation: ValidationLimits{
			MinPrice:         0.01,
			MaxPrice:         1_000_000,
			MinQuantity:      1,
			MaxQuantity:      100_000,
			LotSize:          1,
			MaxOrderNotional: 10_000_000,
			MarketOpen:       "09:15",
			MarketClose:      "15:30",
		},
		Risk: RiskLimits{
			MaxOrderQuantity:         100_000,
			MaxSingleOrderValue:      5_000_000,
			MaxPositionSize:          10_000_000,
			MaxPositionConcentration: 0.25,
			MaxDailyTrades:           500,
			MaxDailyVolume:           50_000_000,
			MaxOpenSymbols:           50,
			DailyLossLimit:           100_000,
		},
	}
}

// LoadLimits reads a YAML limits file over the defaults. An empty path
// returns the defaults unchanged.
func LoadLimits(path string) (Limits, error) {
	limits := DefaultLimits()
	if path == "" {
		return limits, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return limits, fmt.Errorf("read limits file: %w", err)
	}
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return limits, fmt.Errorf("parse limits file: %w", err)
	}

	if limits.Validation.LotSize < 1 {
		return limits, fmt.Errorf("lot_size must be >= 1, got %d", limits.Validation.LotSize)
	}
	if limits.Risk.MaxPositionConcentration <= 0 || limits.Risk.MaxPositionConcentration > 1 {
		return limits, fmt.Errorf("max_position_concentration must be in (0, 1], got %v", limits.Risk.MaxPositionConcentration)
	}
	return limits, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
