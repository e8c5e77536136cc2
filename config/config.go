// Package config loads application configuration from a YAML file with
// environment-variable overrides. The access-token save path rewrites the
// same file so a fresh OAuth token survives restarts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document (config.yaml).
type Config struct {
	Upstox    UpstoxConfig    `yaml:"upstox"`
	Zerodha   ZerodhaConfig   `yaml:"zerodha"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	App       AppConfig       `yaml:"app"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Screener  ScreenerConfig  `yaml:"screener"`
	Redis     RedisConfig     `yaml:"redis"`
	Journal   JournalConfig   `yaml:"journal"`
	Notify    NotifyConfig    `yaml:"notify"`

	// path the config was loaded from; used by SaveUpstoxToken.
	path string
}

// UpstoxConfig holds market-data provider credentials.
type UpstoxConfig struct {
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	RedirectURI string `yaml:"redirect_uri"`
	AccessToken string `yaml:"access_token"`
}

// Configured reports whether real provider credentials are present.
// Without them the provider client serves deterministic mock data.
func (u UpstoxConfig) Configured() bool {
	return u.AccessToken != "" && u.APIKey != "" && u.APIKey != "YOUR_UPSTOX_API_KEY"
}

// ZerodhaConfig holds broker credentials. UserID/Password/TOTPSecret are
// only needed for the automated login flow.
type ZerodhaConfig struct {
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	AccessToken string `yaml:"access_token"`
	UserID      string `yaml:"user_id"`
	Password    string `yaml:"password"`
	TOTPSecret  string `yaml:"totp_secret"`
}

// Configured reports whether real broker credentials are present.
// Without them orders are simulated.
func (z ZerodhaConfig) Configured() bool {
	return z.AccessToken != "" && z.APIKey != "" && z.APIKey != "YOUR_ZERODHA_API_KEY"
}

// SchedulerConfig controls the periodic watchlist refresh.
type SchedulerConfig struct {
	UpdateIntervalMinutes int    `yaml:"update_interval_minutes"`
	MarketOpen            string `yaml:"market_open"`  // HH:MM IST
	MarketClose           string `yaml:"market_close"` // HH:MM IST
}

// AppConfig holds HTTP server and runtime settings.
type AppConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	DataDir     string   `yaml:"data_dir"`
	LogLevel    string   `yaml:"log_level"`
}

// DefaultsConfig holds order placement defaults.
type DefaultsConfig struct {
	OrderType       string `yaml:"order_type"`
	DefaultQuantity int    `yaml:"default_quantity"`
	Exchange        string `yaml:"exchange"`
}

// ScreenerConfig holds the breakout-open percent band.
type ScreenerConfig struct {
	L5OpenMinPct float64 `yaml:"l5_open_min_pct"`
	L5OpenMaxPct float64 `yaml:"l5_open_max_pct"`
}

// RedisConfig enables the live-quote cache when Addr is set.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// JournalConfig locates the refresh-cycle journal database.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig enables alert delivery. Both channels are optional;
// unset channels are skipped.
type NotifyConfig struct {
	WebhookURL       string `yaml:"webhook_url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// defaults returns the built-in configuration used when the file or
// individual keys are absent.
func defaults() Config {
	return Config{
		Upstox: UpstoxConfig{
			RedirectURI: "http://localhost:8000/api/upstox/callback",
		},
		Scheduler: SchedulerConfig{
			UpdateIntervalMinutes: 15,
			MarketOpen:            "09:15",
			MarketClose:           "15:30",
		},
		App: AppConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: []string{"*"},
			DataDir:     "data",
			LogLevel:    "info",
		},
		Defaults: DefaultsConfig{
			OrderType:       "MARKET",
			DefaultQuantity: 1,
			Exchange:        "NSE",
		},
		Screener: ScreenerConfig{
			L5OpenMinPct: 1.0,
			L5OpenMaxPct: 5.0,
		},
		Journal: JournalConfig{
			Path: "data/refresh_journal.db",
		},
	}
}

// Load reads the YAML config at path, falling back to built-in defaults
// when the file does not exist, then applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()
	cfg.path = path

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Run on defaults + environment; first boot has no file yet.
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with SCREENER_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("SCREENER_UPSTOX_ACCESS_TOKEN"); v != "" {
		c.Upstox.AccessToken = v
	}
	if v := os.Getenv("SCREENER_ZERODHA_ACCESS_TOKEN"); v != "" {
		c.Zerodha.AccessToken = v
	}
	if v := os.Getenv("SCREENER_DATA_DIR"); v != "" {
		c.App.DataDir = v
	}
	if v := os.Getenv("SCREENER_LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
	if v := os.Getenv("SCREENER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.App.Port = p
		}
	}
	if v := os.Getenv("SCREENER_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("config: invalid app.port %d", c.App.Port)
	}
	if c.Scheduler.UpdateIntervalMinutes <= 0 {
		return fmt.Errorf("config: scheduler.update_interval_minutes must be positive, got %d", c.Scheduler.UpdateIntervalMinutes)
	}
	if c.Screener.L5OpenMinPct > c.Screener.L5OpenMaxPct {
		return fmt.Errorf("config: screener band inverted: min %.2f > max %.2f",
			c.Screener.L5OpenMinPct, c.Screener.L5OpenMaxPct)
	}
	if c.Defaults.DefaultQuantity <= 0 {
		return fmt.Errorf("config: defaults.default_quantity must be positive, got %d", c.Defaults.DefaultQuantity)
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

// Data file locations, all under App.DataDir.

func (c *Config) MasterCSV() string      { return filepath.Join(c.App.DataDir, "master.csv") }
func (c *Config) PositionsCSV() string   { return filepath.Join(c.App.DataDir, "positions.csv") }
func (c *Config) TradeLogCSV() string    { return filepath.Join(c.App.DataDir, "tradelog.csv") }
func (c *Config) InstrumentsJSON() string { return filepath.Join(c.App.DataDir, "NSE_EQ.json") }

// SaveUpstoxToken persists a fresh provider access token back into the
// config file (atomic write), so it survives restarts. The in-memory
// config is updated as well; callers push the token into the running
// provider client themselves.
func (c *Config) SaveUpstoxToken(token string) error {
	if c.path == "" {
		return fmt.Errorf("config: no file path to save token into")
	}

	// Re-read the file rather than dumping the in-memory struct, so
	// untouched keys and operator comments in other sections survive as
	// much as yaml round-tripping allows.
	doc := map[string]any{}
	if raw, err := os.ReadFile(c.path); err == nil {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("config: parse %s: %w", c.path, err)
		}
	}

	section, _ := doc["upstox"].(map[string]any)
	if section == nil {
		section = map[string]any{}
	}
	section["access_token"] = token
	doc["upstox"] = section

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("config: rename %s: %w", tmp, err)
	}

	c.Upstox.AccessToken = token
	return nil
}
