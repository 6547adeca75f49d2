package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.BrokerMode != "paper" {
		t.Fatalf("expected paper mode, got %s", cfg.BrokerMode)
	}
	if cfg.PollInterval != 1*time.Second {
		t.Fatalf("expected 1s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.StaleOrderAge != 24*time.Hour {
		t.Fatalf("expected 24h stale age, got %v", cfg.StaleOrderAge)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BROKER_MODE", "live")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("SLIPPAGE_PCT", "0.01")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.BrokerMode != "live" {
		t.Fatalf("expected live mode, got %s", cfg.BrokerMode)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms poll interval, got %v", cfg.PollInterval)
	}
	if cfg.SlippagePct != 0.01 {
		t.Fatalf("expected slippage 0.01, got %v", cfg.SlippagePct)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "not-a-number"},
		{"LOG_LEVEL", "verbose"},
		{"BROKER_MODE", "robinhood"},
		{"POLL_INTERVAL", "soon"},
		{"SLIPPAGE_PCT", "1.5"},
		{"COMMISSION_RATE", "-0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadLimits_EmptyPathReturnsDefaults(t *testing.T) {
	limits, err := LoadLimits("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defaults := DefaultLimits()
	if limits.Risk.MaxDailyTrades != defaults.Risk.MaxDailyTrades {
		t.Fatalf("expected default max_daily_trades %d, got %d",
			defaults.Risk.MaxDailyTrades, limits.Risk.MaxDailyTrades)
	}
}

func TestLoadLimits_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	content := []byte(`
validation:
  min_price: 1.00
  max_price: 50000
  min_quantity: 1
  max_quantity: 5000
  lot_size: 5
  max_order_notional: 100000
  allowed_symbols: [RELIANCE, TCS]
  market_open: "09:15"
  market_close: "15:30"
risk:
  max_order_quantity: 5000
  max_single_order_value: 50000
  max_position_size: 200000
  max_position_concentration: 0.2
  max_daily_trades: 25
  max_daily_volume: 1000000
  max_open_symbols: 10
  daily_loss_limit: 5000
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write limits file: %v", err)
	}

	limits, err := LoadLimits(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if limits.Validation.LotSize != 5 {
		t.Fatalf("expected lot_size 5, got %d", limits.Validation.LotSize)
	}
	if limits.Risk.MaxDailyTrades != 25 {
		t.Fatalf("expected max_daily_trades 25, got %d", limits.Risk.MaxDailyTrades)
	}
	if len(limits.Validation.AllowedSymbols) != 2 {
		t.Fatalf("expected 2 allowed symbols, got %d", len(limits.Validation.AllowedSymbols))
	}
}

func TestLoadLimits_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	content := []byte(`
risk:
  max_position_concentration: 1.5
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write limits file: %v", err)
	}
	if _, err := LoadLimits(path); err == nil {
		t.Fatalf("expected error for concentration > 1")
	}
}

func TestLoadLimits_MissingFile(t *testing.T) {
	if _, err := LoadLimits("/no/such/file.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
