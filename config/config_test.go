package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

const sampleYAML = `
upstox:
  api_key: test-key
  api_secret: test-secret
  redirect_uri: http://localhost:8000/cb
  access_token: tok-123
zerodha:
  api_key: kite-key
  api_secret: kite-secret
  access_token: ""
scheduler:
  update_interval_minutes: 5
  market_open: "09:15"
  market_close: "15:30"
app:
  host: 127.0.0.1
  port: 9000
  cors_origins: ["http://localhost:3000"]
  data_dir: testdata
screener:
  l5_open_min_pct: 2.0
  l5_open_max_pct: 4.0
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Upstox.AccessToken != "tok-123" {
		t.Errorf("upstox token = %q", cfg.Upstox.AccessToken)
	}
	if !cfg.Upstox.Configured() {
		t.Error("upstox should be configured")
	}
	if cfg.Zerodha.Configured() {
		t.Error("zerodha should not be configured without a token")
	}
	if cfg.App.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.App.Port)
	}
	if cfg.Scheduler.UpdateIntervalMinutes != 5 {
		t.Errorf("interval = %d, want 5", cfg.Scheduler.UpdateIntervalMinutes)
	}
	if cfg.Screener.L5OpenMinPct != 2.0 || cfg.Screener.L5OpenMaxPct != 4.0 {
		t.Errorf("screener band = %v-%v", cfg.Screener.L5OpenMinPct, cfg.Screener.L5OpenMaxPct)
	}
	// Defaults fill what the file omits.
	if cfg.Defaults.OrderType != "MARKET" {
		t.Errorf("default order type = %q", cfg.Defaults.OrderType)
	}
	if cfg.App.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.App.LogLevel)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Port != 8000 {
		t.Errorf("port = %d, want default 8000", cfg.App.Port)
	}
	if cfg.Screener.L5OpenMinPct != 1.0 || cfg.Screener.L5OpenMaxPct != 5.0 {
		t.Errorf("band = %v-%v, want defaults 1-5", cfg.Screener.L5OpenMinPct, cfg.Screener.L5OpenMaxPct)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("SCREENER_UPSTOX_ACCESS_TOKEN", "env-token")
	t.Setenv("SCREENER_PORT", "8123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstox.AccessToken != "env-token" {
		t.Errorf("token = %q, want env override", cfg.Upstox.AccessToken)
	}
	if cfg.App.Port != 8123 {
		t.Errorf("port = %d, want 8123", cfg.App.Port)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Scheduler.UpdateIntervalMinutes = 0 }},
		{"bad port", func(c *Config) { c.App.Port = -1 }},
		{"inverted band", func(c *Config) { c.Screener.L5OpenMinPct = 6; c.Screener.L5OpenMaxPct = 2 }},
		{"zero quantity", func(c *Config) { c.Defaults.DefaultQuantity = 0 }},
	}
	for _, tc := range cases {
		cfg := defaults()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestSaveUpstoxToken(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := cfg.SaveUpstoxToken("fresh-token"); err != nil {
		t.Fatalf("SaveUpstoxToken: %v", err)
	}
	if cfg.Upstox.AccessToken != "fresh-token" {
		t.Errorf("in-memory token = %q", cfg.Upstox.AccessToken)
	}

	// The file carries the new token and keeps unrelated sections.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse back: %v", err)
	}
	up, _ := doc["upstox"].(map[string]any)
	if up["access_token"] != "fresh-token" {
		t.Errorf("file token = %v", up["access_token"])
	}
	if up["api_key"] != "test-key" {
		t.Errorf("api_key lost on save: %v", up["api_key"])
	}
	if _, ok := doc["scheduler"]; !ok {
		t.Error("scheduler section lost on save")
	}

	// Reload parses the rewritten file.
	cfg2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg2.Upstox.AccessToken != "fresh-token" {
		t.Errorf("reloaded token = %q", cfg2.Upstox.AccessToken)
	}
}
