package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Log       LogConfig                 `mapstructure:"log"`
	Auth      AuthConfig                `mapstructure:"auth"`
	Feeds     FeedsConfig               `mapstructure:"feeds"`
	Exchanges map[string]ExchangeConfig `mapstructure:"exchanges"`
	Redis     RedisConfig               `mapstructure:"redis"`
	NATS      NATSConfig                `mapstructure:"nats"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Journal   JournalConfig             `mapstructure:"journal"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	WSPath         string        `mapstructure:"ws_path"`
	MaxClients     int           `mapstructure:"max_clients"` // 0 = unlimited
	SendBuffer     int           `mapstructure:"send_buffer"` // outbound frames queued per client
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	ReadLimit      int64         `mapstructure:"read_limit"` // max inbound frame bytes
	HandshakeQPS   float64       `mapstructure:"handshake_qps"`
	HandshakeBurst int           `mapstructure:"handshake_burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	RequireAPIKey bool     `mapstructure:"require_api_key"`
	APIKeys       []string `mapstructure:"api_keys"`
}

// ChannelConfig is the polling cadence of one channel type.
type ChannelConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

type FeedsConfig struct {
	Ticker            ChannelConfig `mapstructure:"ticker"`
	Orderbook         ChannelConfig `mapstructure:"orderbook"`
	Trades            ChannelConfig `mapstructure:"trades"`
	ErrorBackoff      time.Duration `mapstructure:"error_backoff"`
	OrderbookDepth    int           `mapstructure:"orderbook_depth"`
	TradesSeed        int           `mapstructure:"trades_seed"`
	TradeDedupWindow  int           `mapstructure:"trade_dedup_window"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

type ExchangeConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RatePerSec float64       `mapstructure:"rate_per_sec"` // 0 = unlimited
	Burst      int           `mapstructure:"burst"`
}

type RedisConfig struct {
	Addr             string `mapstructure:"addr"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	ChannelPrefix    string `mapstructure:"channel_prefix"`
	LatestTTLSeconds int    `mapstructure:"latest_ttl_seconds"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type DatabaseConfig struct {
	DSN                  string `mapstructure:"dsn"`
	JournalRetentionDays int    `mapstructure:"journal_retention_days"`
}

type JournalConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
	RingSize   int `mapstructure:"ring_size"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// For returns the cadence configured for a channel type name.
func (f FeedsConfig) For(channel string) (ChannelConfig, bool) {
	switch channel {
	case "ticker":
		return f.Ticker, true
	case "orderbook":
		return f.Orderbook, true
	case "trades":
		return f.Trades, true
	default:
		return ChannelConfig{}, false
	}
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. FEEDGATE_SERVER_PORT, FEEDGATE_REDIS_ADDR
	v.SetEnvPrefix("feedgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	return decode(v)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.ws_path", "/ws/market")
	v.SetDefault("server.max_clients", 0)
	v.SetDefault("server.send_buffer", 64)
	v.SetDefault("server.write_timeout", "5s")
	v.SetDefault("server.ping_period", "30s")
	v.SetDefault("server.read_limit", 4096)
	v.SetDefault("server.handshake_qps", 20.0)
	v.SetDefault("server.handshake_burst", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("auth.require_api_key", false)

	v.SetDefault("feeds.ticker.interval", "1s")
	v.SetDefault("feeds.ticker.fetch_timeout", "750ms")
	v.SetDefault("feeds.orderbook.interval", "2s")
	v.SetDefault("feeds.orderbook.fetch_timeout", "1500ms")
	v.SetDefault("feeds.trades.interval", "3s")
	v.SetDefault("feeds.trades.fetch_timeout", "2500ms")
	v.SetDefault("feeds.error_backoff", "5s")
	v.SetDefault("feeds.orderbook_depth", 10)
	v.SetDefault("feeds.trades_seed", 5)
	v.SetDefault("feeds.trade_dedup_window", 512)
	v.SetDefault("feeds.reconcile_interval", "30s")

	v.SetDefault("exchanges.binance.enabled", true)
	v.SetDefault("exchanges.binance.base_url", "https://api.binance.com")
	v.SetDefault("exchanges.binance.timeout", "10s")
	v.SetDefault("exchanges.binance.rate_per_sec", 10.0)
	v.SetDefault("exchanges.binance.burst", 20)
	v.SetDefault("exchanges.kraken.enabled", true)
	v.SetDefault("exchanges.kraken.base_url", "https://api.kraken.com")
	v.SetDefault("exchanges.kraken.timeout", "10s")
	v.SetDefault("exchanges.kraken.rate_per_sec", 1.0)
	v.SetDefault("exchanges.kraken.burst", 5)
	v.SetDefault("exchanges.mock.enabled", false)

	v.SetDefault("redis.channel_prefix", "feedgate")
	v.SetDefault("redis.latest_ttl_seconds", 60)
	v.SetDefault("nats.subject_prefix", "feedgate")
	v.SetDefault("database.journal_retention_days", 7)
	v.SetDefault("journal.buffer_size", 1000)
	v.SetDefault("journal.ring_size", 1000)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Default returns the configuration with no file and no environment applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unusable feed cadences and clamps each fetch timeout to
// stay below its polling interval.
func (c *Config) Validate() error {
	for name, ch := range map[string]*ChannelConfig{
		"ticker":    &c.Feeds.Ticker,
		"orderbook": &c.Feeds.Orderbook,
		"trades":    &c.Feeds.Trades,
	} {
		if ch.Interval <= 0 {
			return fmt.Errorf("feeds.%s.interval must be positive", name)
		}
		if ch.FetchTimeout <= 0 || ch.FetchTimeout >= ch.Interval {
			ch.FetchTimeout = ch.Interval * 3 / 4
		}
	}
	if c.Feeds.ErrorBackoff <= 0 {
		return fmt.Errorf("feeds.error_backoff must be positive")
	}
	if c.Feeds.OrderbookDepth <= 0 {
		c.Feeds.OrderbookDepth = 10
	}
	if c.Feeds.TradesSeed <= 0 {
		c.Feeds.TradesSeed = 5
	}
	if c.Feeds.TradeDedupWindow <= 0 {
		c.Feeds.TradeDedupWindow = 512
	}
	if c.Server.SendBuffer <= 0 {
		c.Server.SendBuffer = 64
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/ws/market"
	}
	return nil
}
