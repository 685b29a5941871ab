// Package config loads the market engine configuration from a YAML file,
// an optional .env file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/fsm/market-engine/internal/engine"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Log     LogConfig     `yaml:"log"`
	Market  MarketConfig  `yaml:"market"`
}

// ServerConfig controls the HTTP listener and trade throttling.
type ServerConfig struct {
	Port            string  `yaml:"port"`
	RatePerSecond   float64 `yaml:"trade_rate_per_second"` // 0 disables the limiter
	RateBurst       int     `yaml:"trade_rate_burst"`
	ShutdownTimeout string  `yaml:"shutdown_timeout"`
}

// StorageConfig selects the store. An empty DatabaseURL runs in memory.
type StorageConfig struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	CacheTTL    string `yaml:"cache_ttl"`
}

// KafkaConfig configures the stats consumer. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// LogConfig controls the log level.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// MarketConfig holds the market parameters as decimal strings. Empty values
// take the engine defaults.
type MarketConfig struct {
	ImpactMultiplier    string `yaml:"impact_multiplier"`
	LongMarginRate      string `yaml:"long_margin_rate"`
	ShortMarginRate     string `yaml:"short_margin_rate"`
	PositionNotionalCap string `yaml:"position_notional_cap"`
	PriceFloor          string `yaml:"price_floor"`
	SeasonWeeks         int    `yaml:"season_weeks"`
	PerformanceWeight   string `yaml:"performance_weight"`
	PayoutPerPoint      string `yaml:"payout_per_point"`
	StartingCash        string `yaml:"starting_cash"`
	LiquidationMaxSteps int    `yaml:"liquidation_max_steps"`
}

// Load reads the YAML file at path (skipped when path is empty), loads .env
// if present, then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	return &cfg, nil
}

// CacheTTL returns the Redis cache TTL.
func (c *Config) CacheTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.Storage.CacheTTL)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("storage.cache_ttl %q: must be a positive duration", c.Storage.CacheTTL)
	}
	return d, nil
}

// ShutdownTimeout returns how long the server waits for in-flight requests.
func (c *Config) ShutdownTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("server.shutdown_timeout %q: must be a positive duration", c.Server.ShutdownTimeout)
	}
	return d, nil
}

// LogLevel maps Log.Level to a slog level.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MarketParams parses the market section into validated engine parameters.
func (c *Config) MarketParams() (engine.Params, error) {
	p := engine.DefaultParams()
	m := c.Market

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"impact_multiplier", m.ImpactMultiplier, &p.ImpactMultiplier},
		{"long_margin_rate", m.LongMarginRate, &p.LongMarginRate},
		{"short_margin_rate", m.ShortMarginRate, &p.ShortMarginRate},
		{"position_notional_cap", m.PositionNotionalCap, &p.PositionNotionalCap},
		{"price_floor", m.PriceFloor, &p.PriceFloor},
		{"performance_weight", m.PerformanceWeight, &p.PerformanceWeight},
		{"payout_per_point", m.PayoutPerPoint, &p.PayoutPerPoint},
		{"starting_cash", m.StartingCash, &p.StartingCash},
	}
	var errs []error
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("market.%s %q: not a decimal", f.name, f.raw))
			continue
		}
		*f.dst = v
	}
	if m.SeasonWeeks != 0 {
		p.SeasonWeeks = m.SeasonWeeks
	}
	if m.LiquidationMaxSteps != 0 {
		p.LiquidationMaxSteps = m.LiquidationMaxSteps
	}
	if err := errors.Join(errs...); err != nil {
		return engine.Params{}, err
	}
	if err := p.Validate(); err != nil {
		return engine.Params{}, fmt.Errorf("market: %w", err)
	}
	return p, nil
}

// applyEnvOverrides replaces values with environment variables when set.
func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &cfg.Server.Port)
	setString("DATABASE_URL", &cfg.Storage.DatabaseURL)
	setString("REDIS_URL", &cfg.Storage.RedisURL)
	setString("KAFKA_TOPIC", &cfg.Kafka.Topic)
	setString("KAFKA_GROUP_ID", &cfg.Kafka.GroupID)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("MARKET_IMPACT_MULTIPLIER", &cfg.Market.ImpactMultiplier)
	setString("MARKET_LONG_MARGIN_RATE", &cfg.Market.LongMarginRate)
	setString("MARKET_SHORT_MARGIN_RATE", &cfg.Market.ShortMarginRate)
	setString("MARKET_POSITION_NOTIONAL_CAP", &cfg.Market.PositionNotionalCap)
	setString("MARKET_PRICE_FLOOR", &cfg.Market.PriceFloor)
	setString("MARKET_STARTING_CASH", &cfg.Market.StartingCash)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	if v := os.Getenv("TRADE_RATE_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: TRADE_RATE_PER_SECOND %q: %w", v, err)
		}
		cfg.Server.RatePerSecond = f
	}
	if v := os.Getenv("TRADE_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: TRADE_RATE_BURST %q: %w", v, err)
		}
		cfg.Server.RateBurst = n
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = 10
	}
	if cfg.Server.ShutdownTimeout == "" {
		cfg.Server.ShutdownTimeout = "5s"
	}
	if cfg.Storage.CacheTTL == "" {
		cfg.Storage.CacheTTL = "30s"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "player-stats"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "market-engine"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
