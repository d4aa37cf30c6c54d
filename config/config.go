// Package config loads the signal bot configuration.
//
// Layers, lowest precedence first: struct defaults, an optional YAML file,
// then environment variables (a .env file in the working directory is
// loaded into the environment first when present). The result is
// validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"signalbot/internal/marketdata/wsfeed"
	"signalbot/internal/notification"
	"signalbot/internal/pipeline"
	"signalbot/internal/portfolio"
	"signalbot/internal/scheduler"
	"signalbot/internal/store"
	"signalbot/internal/trader"
)

// Config holds all application configuration.
type Config struct {
	Service   string `yaml:"service" default:"signalbot"`
	LogLevel  string `yaml:"log_level" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat string `yaml:"log_format" default:"json" validate:"oneof=json console"`

	Trader    trader.Config        `yaml:"trader"`
	Pipeline  pipeline.Config      `yaml:"pipeline"`
	Risk      portfolio.RiskConfig `yaml:"risk"`
	Execution ExecutionConfig      `yaml:"execution"`
	Store     store.Config         `yaml:"store"`
	Market    MarketConfig         `yaml:"market"`
	Notify    NotifyConfig         `yaml:"notify"`
	Retrain   scheduler.Config     `yaml:"retrain"`
	Metrics   MetricsConfig        `yaml:"metrics"`
}

// ExecutionConfig configures paper execution.
type ExecutionConfig struct {
	SlippageBps float64 `yaml:"slippage_bps" default:"5" validate:"gte=0"`
	// JournalPath enables the SQLite fill journal when set.
	JournalPath string `yaml:"journal_path"`
}

// MarketConfig selects the candle source.
type MarketConfig struct {
	// Source is "synthetic" (seeded random walk) or "ws" (candle server).
	Source string `yaml:"source" default:"synthetic" validate:"oneof=synthetic ws"`
	Seed   int64  `yaml:"seed" default:"42"`
	// CandlesPath is the SQLite candle history used with the ws source.
	CandlesPath string        `yaml:"candles_path" default:"data/candles.db"`
	WS          wsfeed.Config `yaml:"ws"`
}

// NotifyConfig configures alert backends. Backends without credentials
// are skipped; the log backend is always on.
type NotifyConfig struct {
	TelegramToken  string                   `yaml:"telegram_token"`
	TelegramChatID string                   `yaml:"telegram_chat_id" validate:"required_with=TelegramToken"`
	WebhookURL     string                   `yaml:"webhook_url" validate:"omitempty,url"`
	Kafka          notification.KafkaConfig `yaml:"kafka"`
	Attempts       int                      `yaml:"attempts" default:"3" validate:"gte=1"`
	RetryDelay     time.Duration            `yaml:"retry_delay" default:"5s" validate:"gte=0"`
}

// MetricsConfig configures the HTTP observability server.
type MetricsConfig struct {
	Addr string `yaml:"addr" default:":9090"`
	// AdminTOTPSecret enables POST /retrain when set (base32).
	AdminTOTPSecret string `yaml:"admin_totp_secret"`
}

var validate = validator.New()

// Load builds the configuration. path may be empty to skip the YAML layer.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort

	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	c.Trader.Asset = getEnv("ASSET", c.Trader.Asset)
	if v := os.Getenv("TIMEFRAME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: TIMEFRAME %q: %w", v, err)
		}
		c.Trader.Timeframe = d
	}
	c.Notify.TelegramToken = getEnv("TELEGRAM_TOKEN", c.Notify.TelegramToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
	c.Notify.WebhookURL = getEnv("WEBHOOK_URL", c.Notify.WebhookURL)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Notify.Kafka.Brokers = splitList(v)
	}
	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPassword = getEnv("REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Market.Source = getEnv("MARKET_SOURCE", c.Market.Source)
	c.Market.WS.URL = getEnv("MARKET_WS_URL", c.Market.WS.URL)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
	c.Metrics.AdminTOTPSecret = getEnv("ADMIN_TOTP_SECRET", c.Metrics.AdminTOTPSecret)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.Retrain.At = getEnv("RETRAIN_AT", c.Retrain.At)
	return nil
}

// Validate checks struct tags and the rules spanning sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Market.Source == "ws" && c.Market.WS.URL == "" {
		return errors.New("market.ws.url is required when market.source is ws")
	}
	if _, _, err := scheduler.ParseClock(c.Retrain.At); err != nil {
		return err
	}
	return nil
}

// ArtifactKeys returns the store keys for the pipeline.
func (c *Config) ArtifactKeys() pipeline.Keys {
	return pipeline.Keys{Model: c.Store.ModelKey, Scaler: c.Store.ScalerKey}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
