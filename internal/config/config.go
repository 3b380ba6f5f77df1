// Package config loads the daemon configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"orderflow-lab/internal/domain"
)

// Config represents the complete application configuration.
type Config struct {
	Feed      FeedConfig      `mapstructure:"feed"`
	Chart     ChartConfig     `mapstructure:"chart"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Exchanges []ExchangeEntry `mapstructure:"exchanges"`
}

// FeedConfig holds websocket feed behavior.
type FeedConfig struct {
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
}

// ChartConfig holds the default per-subscription pipeline parameters.
type ChartConfig struct {
	IntervalMs        int64         `mapstructure:"interval_ms"`
	HeatmapCadence    time.Duration `mapstructure:"heatmap_cadence"`
	HeatmapGroupTicks int           `mapstructure:"heatmap_group_ticks"`
	HeatmapRetention  time.Duration `mapstructure:"heatmap_retention"`
	TradeRetention    time.Duration `mapstructure:"trade_retention"`
	ProfileCandles    int           `mapstructure:"profile_candles"`
	ValueAreaPct      float64       `mapstructure:"value_area_pct"`
	ImbalanceRatio    float64       `mapstructure:"imbalance_ratio"`
	ImbalanceLookback int           `mapstructure:"imbalance_lookback"`
	LargeTradeQty     float64       `mapstructure:"large_trade_qty"`
}

// StorageConfig holds database connection settings. Empty DSNs disable the
// corresponding store; the daemon then runs with in-memory storage.
type StorageConfig struct {
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Dir    string `mapstructure:"dir"`
}

// ExchangeEntry names one venue connection and its instruments. The ws_url
// value "stub" runs a synthetic feed instead of a real connection. TickSize
// and LotSize apply to every listed symbol; TickSize defaults to "0.01".
type ExchangeEntry struct {
	Name     string   `mapstructure:"name"`
	WSURL    string   `mapstructure:"ws_url"`
	RESTURL  string   `mapstructure:"rest_url"`
	Symbols  []string `mapstructure:"symbols"`
	TickSize string   `mapstructure:"tick_size"`
	LotSize  string   `mapstructure:"lot_size"`
}

// Subscription converts the chart section into pipeline parameters.
func (c ChartConfig) Subscription() domain.SubscriptionConfig {
	cfg := domain.DefaultSubscriptionConfig()
	cfg.Interval = domain.Interval{Kind: domain.IntervalTime, DurationMs: c.IntervalMs}
	cfg.HeatmapCadence = c.HeatmapCadence
	cfg.HeatmapGroupTicks = c.HeatmapGroupTicks
	cfg.HeatmapRetention = c.HeatmapRetention
	cfg.TradeRetention = c.TradeRetention
	cfg.ProfileCandles = c.ProfileCandles
	cfg.ValueAreaPct = c.ValueAreaPct
	cfg.Imbalance.Threshold = c.ImbalanceRatio
	cfg.Imbalance.Lookback = c.ImbalanceLookback
	cfg.LargeTradeQty = c.LargeTradeQty
	return cfg
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("ORDERFLOW_LAB")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Feed defaults
	v.SetDefault("feed.dial_timeout", "10s")
	v.SetDefault("feed.read_timeout", "30s")
	v.SetDefault("feed.ping_interval", "15s")
	v.SetDefault("feed.reconnect_delay", "2s")
	v.SetDefault("feed.max_reconnects", 0) // 0 = unlimited

	// Chart defaults
	v.SetDefault("chart.interval_ms", 60_000)
	v.SetDefault("chart.heatmap_cadence", "500ms")
	v.SetDefault("chart.heatmap_group_ticks", 1)
	v.SetDefault("chart.heatmap_retention", "30m")
	v.SetDefault("chart.trade_retention", "10m")
	v.SetDefault("chart.profile_candles", 60)
	v.SetDefault("chart.value_area_pct", 0.7)
	v.SetDefault("chart.imbalance_ratio", 3.0)
	v.SetDefault("chart.imbalance_lookback", 20)
	v.SetDefault("chart.large_trade_qty", 0.0)

	// Metrics defaults
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.enabled", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.dir", "logs")
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.Feed.DialTimeout <= 0 {
		return fmt.Errorf("feed.dial_timeout must be positive")
	}
	if c.Feed.ReconnectDelay <= 0 {
		return fmt.Errorf("feed.reconnect_delay must be positive")
	}

	if c.Chart.IntervalMs <= 0 {
		return fmt.Errorf("chart.interval_ms must be positive")
	}
	if c.Chart.HeatmapCadence <= 0 {
		return fmt.Errorf("chart.heatmap_cadence must be positive")
	}
	if c.Chart.HeatmapGroupTicks < 1 {
		return fmt.Errorf("chart.heatmap_group_ticks must be at least 1")
	}
	if c.Chart.TradeRetention < time.Minute || c.Chart.TradeRetention > time.Hour {
		return fmt.Errorf("chart.trade_retention must be between 1m and 1h")
	}
	if c.Chart.ProfileCandles < 1 {
		return fmt.Errorf("chart.profile_candles must be at least 1")
	}
	if c.Chart.ValueAreaPct <= 0 || c.Chart.ValueAreaPct > 1 {
		return fmt.Errorf("chart.value_area_pct must be in (0, 1]")
	}
	if c.Chart.ImbalanceRatio < 1 {
		return fmt.Errorf("chart.imbalance_ratio must be at least 1")
	}

	if len(c.Exchanges) == 0 {
		return fmt.Errorf("exchanges must contain at least one venue")
	}
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("exchanges[%d].name is required", i)
		}
		if ex.WSURL == "" {
			return fmt.Errorf("exchanges[%d].ws_url is required", i)
		}
		if len(ex.Symbols) == 0 {
			return fmt.Errorf("exchanges[%d].symbols must contain at least one symbol", i)
		}
		if ex.TickSize != "" {
			tick, err := decimal.NewFromString(ex.TickSize)
			if err != nil || tick.Sign() <= 0 {
				return fmt.Errorf("exchanges[%d].tick_size must be a positive decimal", i)
			}
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
