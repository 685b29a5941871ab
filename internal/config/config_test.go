package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "DATABASE_URL", "REDIS_URL", "KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_GROUP_ID",
	"LOG_LEVEL", "TRADE_RATE_PER_SECOND", "TRADE_RATE_BURST",
	"MARKET_IMPACT_MULTIPLIER", "MARKET_LONG_MARGIN_RATE", "MARKET_SHORT_MARGIN_RATE",
	"MARKET_POSITION_NOTIONAL_CAP", "MARKET_PRICE_FLOOR", "MARKET_STARTING_CASH",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.RateBurst)
	assert.Zero(t, cfg.Server.RatePerSecond)
	assert.Empty(t, cfg.Storage.DatabaseURL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "player-stats", cfg.Kafka.Topic)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())

	ttl, err := cfg.CacheTTL()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ttl)

	p, err := cfg.MarketParams()
	require.NoError(t, err)
	assert.True(t, p.ImpactMultiplier.Equal(decimal.NewFromInt(1)))
	assert.True(t, p.PriceFloor.Equal(decimal.NewFromInt(1)))
	assert.True(t, p.StartingCash.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, 18, p.SeasonWeeks)
	assert.Equal(t, 64, p.LiquidationMaxSteps)
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, `
server:
  port: "9000"
  trade_rate_per_second: 2.5
storage:
  cache_ttl: 1m
kafka:
  brokers: [a:9092]
log:
  level: debug
market:
  impact_multiplier: "0.2"
  short_margin_rate: "1.5"
  season_weeks: 17
`)
	t.Setenv("PORT", "9100")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("MARKET_PRICE_FLOOR", "0.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 2.5, cfg.Server.RatePerSecond)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())

	ttl, err := cfg.CacheTTL()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	p, err := cfg.MarketParams()
	require.NoError(t, err)
	assert.True(t, p.ImpactMultiplier.Equal(decimal.RequireFromString("0.2")))
	assert.True(t, p.ShortMarginRate.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, p.PriceFloor.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 17, p.SeasonWeeks)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeYAML(t, "server: [not a map"))
	assert.Error(t, err)

	t.Setenv("TRADE_RATE_BURST", "lots")
	_, err = Load("")
	assert.Error(t, err)
}

func TestMarketParamsRejectsBadValues(t *testing.T) {
	cfg := &Config{Market: MarketConfig{ImpactMultiplier: "steep", PriceFloor: "x"}}
	_, err := cfg.MarketParams()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market.impact_multiplier")
	assert.Contains(t, err.Error(), "market.price_floor")

	cfg = &Config{Market: MarketConfig{LongMarginRate: "-0.1"}}
	_, err = cfg.MarketParams()
	assert.Error(t, err)

	cfg = &Config{Market: MarketConfig{SeasonWeeks: -1}}
	_, err = cfg.MarketParams()
	assert.Error(t, err)
}

func TestDurationsRejectGarbage(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{CacheTTL: "soon"}, Server: ServerConfig{ShutdownTimeout: "0s"}}
	_, err := cfg.CacheTTL()
	assert.Error(t, err)
	_, err = cfg.ShutdownTimeout()
	assert.Error(t, err)
}
