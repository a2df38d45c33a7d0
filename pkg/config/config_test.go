package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `
scanner:
  symbols:
    - BTC-USD
    - ETH-USD
datasource:
  base_url: https://api.example.com
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scanner.Timeframe != "1d" {
		t.Fatalf("timeframe default = %s", cfg.Scanner.Timeframe)
	}
	if cfg.Scanner.MaxWorkers != 4 {
		t.Fatalf("max_workers default = %d", cfg.Scanner.MaxWorkers)
	}
	if cfg.Channel.Degree != 3 || cfg.Channel.KStd != 2.0 || cfg.Channel.Lookback != 200 {
		t.Fatalf("channel defaults = %d/%.1f/%d", cfg.Channel.Degree, cfg.Channel.KStd, cfg.Channel.Lookback)
	}
	if cfg.Retention.Days != 30 {
		t.Fatalf("retention default = %d", cfg.Retention.Days)
	}
	if cfg.Optimizer.Enabled || cfg.ClickHouse.Enabled || cfg.Kafka.Enabled {
		t.Fatal("optional subsystems should default to disabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
scanner:
  symbols: [SOL-USD]
  timeframe: 4h
  max_workers: 8
channel:
  degree: 5
  kstd: 1.8
datasource:
  base_url: https://api.example.com
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channel.Degree != 5 || cfg.Channel.KStd != 1.8 {
		t.Fatalf("channel overrides not applied: %d/%.1f", cfg.Channel.Degree, cfg.Channel.KStd)
	}
	if cfg.Scanner.Timeframe != "4h" || cfg.Scanner.MaxWorkers != 8 {
		t.Fatalf("scanner overrides not applied")
	}
	if len(cfg.Scanner.Symbols) != 1 || cfg.Scanner.Symbols[0] != "SOL-USD" {
		t.Fatalf("symbols = %v", cfg.Scanner.Symbols)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no symbols": `
datasource:
  base_url: https://api.example.com
`,
		"bad timeframe": `
scanner:
  symbols: [BTC-USD]
  timeframe: 5m
datasource:
  base_url: https://api.example.com
`,
		"degree out of range": minimalYAML + `
channel:
  degree: 11
`,
		"inverted optimizer bounds": minimalYAML + `
optimizer:
  degree_min: 6
  degree_max: 2
`,
		"kafka enabled without brokers": minimalYAML + `
kafka:
  enabled: true
`,
		"feed enabled without url": minimalYAML + `
feed:
  enabled: true
`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: want validation error", name)
		}
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("SYMBOLS", "ADA-USD,DOT-USD")
	t.Setenv("MAX_WORKERS", "12")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")

	cfg, err := LoadWithEnv(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if len(cfg.Scanner.Symbols) != 2 || cfg.Scanner.Symbols[0] != "ADA-USD" {
		t.Fatalf("symbols = %v", cfg.Scanner.Symbols)
	}
	if cfg.Scanner.MaxWorkers != 12 {
		t.Fatalf("max_workers = %d", cfg.Scanner.MaxWorkers)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Fatalf("redis addr = %s", cfg.Redis.Addr)
	}
}

func TestOptimizeSymbol(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OptimizeSymbol("BTC-USD") {
		t.Fatal("disabled optimizer should match nothing")
	}

	cfg.Optimizer.Enabled = true
	if cfg.OptimizeSymbol("BTC-USD") {
		t.Fatal("empty major list should match nothing")
	}

	cfg.Optimizer.MajorSymbols = []string{"btc-usd"}
	if !cfg.OptimizeSymbol("BTC-USD") {
		t.Fatal("match should ignore case")
	}
	if cfg.OptimizeSymbol("ETH-USD") {
		t.Fatal("unlisted symbol matched")
	}

	cfg.Optimizer.MajorSymbols = []string{"*"}
	if !cfg.OptimizeSymbol("ETH-USD") {
		t.Fatal("wildcard should match everything")
	}
}

func TestCustomValidations(t *testing.T) {
	v := new(Config).RecordValidator()

	type rec struct {
		Symbol string  `validate:"symbol"`
		Value  float64 `validate:"finite"`
		Return float64 `validate:"sane_return"`
	}

	good := rec{Symbol: "BTC-USD", Value: 1.5, Return: 99}
	if err := v.Struct(good); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	for name, bad := range map[string]rec{
		"lowercase symbol": {Symbol: "btc-usd", Value: 1, Return: 0},
		"nan value":        {Symbol: "BTC-USD", Value: math.NaN(), Return: 0},
		"inf value":        {Symbol: "BTC-USD", Value: math.Inf(1), Return: 0},
		"absurd return":    {Symbol: "BTC-USD", Value: 1, Return: 10001},
	} {
		if err := v.Struct(bad); err == nil {
			t.Errorf("%s: want validation error", name)
		}
	}
}

func TestRecordValidatorUsesConfiguredSaneReturn(t *testing.T) {
	cfg := &Config{}
	cfg.Optimizer.MaxSaneReturn = 500
	v := cfg.RecordValidator()

	type rec struct {
		Return float64 `validate:"sane_return"`
	}

	if err := v.Struct(rec{Return: 400}); err != nil {
		t.Fatalf("return inside the configured bound rejected: %v", err)
	}
	if err := v.Struct(rec{Return: 600}); err == nil {
		t.Fatal("return beyond the configured bound should fail validation")
	}
	if err := v.Struct(rec{Return: -600}); err == nil {
		t.Fatal("negative return beyond the configured bound should fail validation")
	}
}
