package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full daemon configuration, loaded from environment
// variables (optionally seeded from a .env file).
type Config struct {
	Exchange  ExchangeConfig  `json:"exchange"`
	AI        AIConfig        `json:"ai"`
	News      NewsConfig      `json:"news"`
	SMS       SMSConfig       `json:"sms"`
	Dashboard DashboardConfig `json:"dashboard"`
	Trading   TradingConfig   `json:"trading"`
	Logging   LoggingConfig   `json:"logging"`
	DataDir   string          `json:"data_dir"`
}

// ExchangeConfig holds Binance spot API configuration.
type ExchangeConfig struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
	DryRun    bool   `json:"dry_run"` // Simulate fills without placing orders
}

// AIConfig holds LLM analyzer configuration.
type AIConfig struct {
	OpenAIAPIKey string        `json:"openai_api_key"`
	Model        string        `json:"model"`
	Timeout      time.Duration `json:"timeout"`
}

// NewsConfig holds news cache configuration.
type NewsConfig struct {
	CryptoNewsAPIKey string        `json:"cryptonews_api_key"`
	NewsAPIKey       string        `json:"newsapi_key"` // Optional fallback
	TTL              time.Duration `json:"ttl"`
	DailyBudget      int           `json:"daily_budget"`
	Timeout          time.Duration `json:"timeout"`
}

// SMSConfig holds SMS notification configuration.
type SMSConfig struct {
	ProviderSID   string        `json:"provider_sid"`
	ProviderToken string        `json:"provider_token"`
	From          string        `json:"from"`
	Recipients    []string      `json:"recipients"`
	Timeout       time.Duration `json:"timeout"`
}

// DashboardConfig holds the HTTP API server configuration.
type DashboardConfig struct {
	Port int `json:"port"`
}

// TradingConfig holds the per-bot trading defaults.
type TradingConfig struct {
	TickInterval    time.Duration `json:"tick_interval"`
	StopLossPct     float64       `json:"stop_loss_pct"`   // e.g. 0.03 = 3%
	TakeProfitPct   float64       `json:"take_profit_pct"` // e.g. 0.05 = 5%
	MaxHold         time.Duration `json:"max_hold"`
	ReconcileOnBoot bool          `json:"reconcile_on_boot"`
}

type LoggingConfig struct {
	Level string `json:"level"` // debug, info, warn, error
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Exchange: ExchangeConfig{
			APIKey:    os.Getenv("EXCHANGE_API_KEY"),
			APISecret: os.Getenv("EXCHANGE_API_SECRET"),
			Testnet:   getEnvBool("USE_TESTNET", false),
			DryRun:    getEnvBool("DRY_RUN", false),
		},
		AI: AIConfig{
			OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
			Model:        getEnv("LLM_MODEL", "gpt-4o-mini"),
			Timeout:      30 * time.Second,
		},
		News: NewsConfig{
			CryptoNewsAPIKey: os.Getenv("CRYPTONEWS_API_KEY"),
			NewsAPIKey:       os.Getenv("NEWSAPI_KEY"),
			TTL:              getEnvDuration("NEWS_TTL_SEC", 8*time.Hour),
			DailyBudget:      getEnvInt("NEWS_DAILY_BUDGET", 3),
			Timeout:          15 * time.Second,
		},
		SMS: SMSConfig{
			ProviderSID:   os.Getenv("SMS_PROVIDER_SID"),
			ProviderToken: os.Getenv("SMS_PROVIDER_TOKEN"),
			From:          os.Getenv("SMS_FROM"),
			Recipients:    splitList(os.Getenv("SMS_TO_LIST")),
			Timeout:       10 * time.Second,
		},
		Dashboard: DashboardConfig{
			Port: getEnvInt("DASHBOARD_PORT", 5000),
		},
		Trading: TradingConfig{
			TickInterval:    getEnvDuration("TICK_INTERVAL_SEC", 15*time.Minute),
			StopLossPct:     getEnvFloat("STOP_LOSS_PCT", 0.03),
			TakeProfitPct:   getEnvFloat("TAKE_PROFIT_PCT", 0.05),
			MaxHold:         time.Duration(getEnvFloat("MAX_HOLD_HOURS", 48) * float64(time.Hour)),
			ReconcileOnBoot: getEnvBool("RECONCILE_ON_BOOT", true),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		DataDir: getEnv("DATA_DIR", "data"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid DASHBOARD_PORT: %d", c.Dashboard.Port)
	}
	if c.Trading.TickInterval < time.Second {
		return fmt.Errorf("TICK_INTERVAL_SEC too small: %v", c.Trading.TickInterval)
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 1 {
		return fmt.Errorf("STOP_LOSS_PCT must be in (0,1), got %v", c.Trading.StopLossPct)
	}
	if c.Trading.TakeProfitPct <= 0 || c.Trading.TakeProfitPct >= 1 {
		return fmt.Errorf("TAKE_PROFIT_PCT must be in (0,1), got %v", c.Trading.TakeProfitPct)
	}
	if c.News.DailyBudget < 0 {
		return fmt.Errorf("NEWS_DAILY_BUDGET must be >= 0, got %d", c.News.DailyBudget)
	}
	if !c.Exchange.DryRun && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("EXCHANGE_API_KEY and EXCHANGE_API_SECRET are required unless DRY_RUN=true")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads a duration expressed as whole seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
