package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoadConfig_Defaults(t *testing.T) {
	required := map[string]string{
		"BROKER_API_KEY":     "test_key",
		"BROKER_API_SECRET":  "test_secret",
		"BROKER_BASE_URL":    "https://paper.example.test",
		"TELEGRAM_BOT_TOKEN": "test_token",
		"TELEGRAM_CHAT_ID":   "123456",
	}
	for k, v := range required {
		os.Setenv(k, v)
		defer os.Unsetenv(k)
	}

	optionals := []string{
		"INSTANCE_NAME", "PAPER_TRADING", "DRY_RUN", "MAX_POSITIONS", "MAX_PER_TYPE",
		"R_VALUE", "STRIKE_SCAN_RANGE", "MODIFICATION_THRESHOLD",
	}
	for _, k := range optionals {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.InstanceName != "swingshort" {
		t.Errorf("expected default InstanceName 'swingshort', got %q", cfg.InstanceName)
	}
	if !cfg.DryRun {
		t.Errorf("expected DryRun default true")
	}
	if cfg.MaxPositions != 5 {
		t.Errorf("expected default MaxPositions 5, got %d", cfg.MaxPositions)
	}
	if cfg.MaxPerType != 3 {
		t.Errorf("expected default MaxPerType 3, got %d", cfg.MaxPerType)
	}
	if !cfg.RValue.Equal(decimal.RequireFromString("1000")) {
		t.Errorf("expected default RValue 1000, got %s", cfg.RValue)
	}
	if cfg.StrikeScanRange != 20 {
		t.Errorf("expected default StrikeScanRange 20, got %d", cfg.StrikeScanRange)
	}
	if !cfg.ModificationThreshold.Equal(decimal.RequireFromString("1.00")) {
		t.Errorf("expected default ModificationThreshold 1.00, got %s", cfg.ModificationThreshold)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	required := map[string]string{
		"BROKER_API_KEY":     "test_key",
		"BROKER_API_SECRET":  "test_secret",
		"BROKER_BASE_URL":    "https://paper.example.test",
		"TELEGRAM_BOT_TOKEN": "test_token",
		"TELEGRAM_CHAT_ID":   "123456",
		"MAX_POSITIONS":      "7",
		"R_VALUE":            "1500.50",
		"PAPER_TRADING":      "false",
	}
	for k, v := range required {
		os.Setenv(k, v)
		defer os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.MaxPositions != 7 {
		t.Errorf("expected MaxPositions override 7, got %d", cfg.MaxPositions)
	}
	if !cfg.RValue.Equal(decimal.RequireFromString("1500.50")) {
		t.Errorf("expected RValue override 1500.50, got %s", cfg.RValue)
	}
	if cfg.DryRun {
		t.Errorf("expected DryRun false when PAPER_TRADING=false")
	}
}

func TestLoadConfig_InvalidIntFallsBackToDefault(t *testing.T) {
	required := map[string]string{
		"BROKER_API_KEY":     "test_key",
		"BROKER_API_SECRET":  "test_secret",
		"BROKER_BASE_URL":    "https://paper.example.test",
		"TELEGRAM_BOT_TOKEN": "test_token",
		"TELEGRAM_CHAT_ID":   "123456",
		"MAX_POSITIONS":      "not-a-number",
	}
	for k, v := range required {
		os.Setenv(k, v)
		defer os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.MaxPositions != 5 {
		t.Errorf("expected fallback to default 5 on invalid int, got %d", cfg.MaxPositions)
	}
}
