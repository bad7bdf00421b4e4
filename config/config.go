// Package config loads the tradebot configuration from a YAML file, an
// optional .env file and environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"tradecore/internal/exchange/binance"
	"tradecore/internal/exchange/coinbase"
	"tradecore/internal/exchange/sim"
	"tradecore/internal/execution"
	"tradecore/internal/marketdata/ingest"
	"tradecore/internal/store/redis"
	"tradecore/internal/strategy"
)

// ErrInvalid wraps every validation problem.
var ErrInvalid = errors.New("invalid config")

// Exchange names accepted in the exchange field.
const (
	ExchangeCoinbase = "coinbase"
	ExchangeBinance  = "binance"
	ExchangeSim      = "sim"
)

// Config holds all application configuration.
type Config struct {
	Exchange       string        `yaml:"exchange"`
	Symbols        []string      `yaml:"symbols"`
	CandleDuration time.Duration `yaml:"candle_duration"`
	HistoryBars    int           `yaml:"history_bars"`
	ChannelBuffer  int           `yaml:"channel_buffer"`

	// LiveTrading routes orders to the exchange; otherwise the paper sink
	// fills them at the reference price and charges the taker fee.
	LiveTrading      bool  `yaml:"live_trading"`
	PaperSlippageBps int64 `yaml:"paper_slippage_bps"`
	PaperFeeBps      int64 `yaml:"paper_fee_bps"`

	Coinbase CoinbaseConfig `yaml:"coinbase"`
	Binance  binance.Config `yaml:"binance"`
	Sim      sim.Config     `yaml:"sim"`

	Strategy  strategy.Config  `yaml:"strategy"`
	Execution execution.Config `yaml:"execution"`
	Reconnect ingest.Config    `yaml:"reconnect"`

	Storage       StorageConfig      `yaml:"storage"`
	Redis         redis.Config       `yaml:"redis"` // disabled when Addr is empty
	Notifications NotificationConfig `yaml:"notifications"`
	Feed          FeedConfig         `yaml:"feed"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

type CoinbaseConfig struct {
	RESTURL   string `yaml:"rest_url"`
	WSURL     string `yaml:"ws_url"`
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// Credentials returns the signing credentials.
func (c CoinbaseConfig) Credentials() coinbase.Credentials {
	return coinbase.Credentials{Key: c.APIKey, Secret: c.APISecret}
}

type StorageConfig struct {
	SQLitePath  string `yaml:"sqlite_path"`  // candle archive; empty disables it
	JournalPath string `yaml:"journal_path"` // fill journal; empty disables it
}

// FeedConfig enables the websocket feed at /ws on the metrics address.
type FeedConfig struct {
	Enabled bool `yaml:"enabled"`
	Depth   int  `yaml:"depth"` // envelopes replayed per channel to new clients
}

type NotificationConfig struct {
	TelegramToken  string        `yaml:"-"`
	TelegramChatID string        `yaml:"telegram_chat_id"`
	SlackToken     string        `yaml:"-"`
	SlackChannel   string        `yaml:"slack_channel"`
	WebhookURL     string        `yaml:"webhook_url"`
	ThrottleEvery  time.Duration `yaml:"throttle_every"` // 0 disables throttling
	ThrottleBurst  int           `yaml:"throttle_burst"`
}

// Default returns the configuration used when a field is not set.
func Default() Config {
	return Config{
		Exchange:         ExchangeCoinbase,
		Symbols:          []string{"BTC-USD"},
		CandleDuration:   time.Minute,
		HistoryBars:      300,
		ChannelBuffer:    256,
		PaperSlippageBps: 5,
		PaperFeeBps:      60,
		Coinbase: CoinbaseConfig{
			RESTURL: coinbase.DefaultRESTURL,
			WSURL:   coinbase.DefaultWSURL,
		},
		Sim:       sim.DefaultConfig(),
		Strategy:  strategy.DefaultConfig(),
		Execution: execution.DefaultConfig(),
		Reconnect: ingest.DefaultConfig(),
		Storage: StorageConfig{
			SQLitePath: "data/candles.db",
		},
		Notifications: NotificationConfig{
			ThrottleEvery: 2 * time.Second,
			ThrottleBurst: 5,
		},
		Feed:        FeedConfig{Depth: 50},
		MetricsAddr: ":9090",
		LogLevel:    "info",
	}
}

// Load reads .env (if present), then the YAML file at path (skipped when
// path is empty), then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error

	setString(&c.Exchange, "TRADEBOT_EXCHANGE")
	setString(&c.LogLevel, "TRADEBOT_LOG_LEVEL")
	setString(&c.MetricsAddr, "TRADEBOT_METRICS_ADDR")
	setString(&c.Storage.SQLitePath, "TRADEBOT_SQLITE_PATH")
	setString(&c.Storage.JournalPath, "TRADEBOT_JOURNAL_PATH")
	setString(&c.Redis.Addr, "TRADEBOT_REDIS_ADDR")
	setString(&c.Redis.Password, "TRADEBOT_REDIS_PASSWORD")
	setString(&c.Notifications.WebhookURL, "TRADEBOT_WEBHOOK_URL")

	if v := getEnv("TRADEBOT_SYMBOLS", ""); v != "" {
		c.Symbols = splitList(v)
	}
	if v := getEnv("TRADEBOT_CANDLE_DURATION", ""); v != "" {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: TRADEBOT_CANDLE_DURATION: %v", ErrInvalid, perr))
		} else {
			c.CandleDuration = d
		}
	}
	if v := getEnv("TRADEBOT_LIVE_TRADING", ""); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: TRADEBOT_LIVE_TRADING: %v", ErrInvalid, perr))
		} else {
			c.LiveTrading = b
		}
	}

	setString(&c.Coinbase.APIKey, "COINBASE_API_KEY")
	setString(&c.Coinbase.APISecret, "COINBASE_API_SECRET")
	setString(&c.Binance.APIKey, "BINANCE_API_KEY")
	setString(&c.Binance.APISecret, "BINANCE_API_SECRET")
	setString(&c.Notifications.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Notifications.TelegramChatID, "TELEGRAM_CHAT_ID")
	setString(&c.Notifications.SlackToken, "SLACK_BOT_TOKEN")
	setString(&c.Notifications.SlackChannel, "SLACK_CHANNEL")
	return err
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var err error
	add := func(format string, args ...interface{}) {
		err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...))
	}

	switch c.Exchange {
	case ExchangeCoinbase, ExchangeBinance, ExchangeSim:
	default:
		add("exchange %q must be coinbase, binance or sim", c.Exchange)
	}

	if len(c.Symbols) == 0 {
		add("at least one symbol is required")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if strings.TrimSpace(s) == "" {
			add("empty symbol")
			continue
		}
		if seen[s] {
			add("duplicate symbol %q", s)
		}
		seen[s] = true
	}

	if c.CandleDuration <= 0 {
		add("candle_duration %s must be positive", c.CandleDuration)
	}
	if c.HistoryBars < 0 {
		add("history_bars %d must not be negative", c.HistoryBars)
	}
	if c.ChannelBuffer <= 0 {
		add("channel_buffer %d must be positive", c.ChannelBuffer)
	}
	if c.PaperSlippageBps < 0 {
		add("paper_slippage_bps %d must not be negative", c.PaperSlippageBps)
	}
	if c.PaperFeeBps < 0 || c.PaperFeeBps >= 10000 {
		add("paper_fee_bps %d must be in [0, 10000)", c.PaperFeeBps)
	}
	if c.LiveTrading {
		if c.Exchange != ExchangeCoinbase {
			add("live_trading is only supported on coinbase")
		}
		if c.Coinbase.Credentials().Empty() {
			add("live_trading needs COINBASE_API_KEY and COINBASE_API_SECRET")
		}
	}
	if c.Notifications.ThrottleEvery < 0 {
		add("notifications.throttle_every must not be negative")
	}
	if c.Notifications.ThrottleEvery > 0 && c.Notifications.ThrottleBurst < 1 {
		add("notifications.throttle_burst must be at least 1")
	}
	if c.Feed.Enabled && c.MetricsAddr == "" {
		add("feed needs metrics_addr")
	}
	if c.Feed.Depth < 0 {
		add("feed.depth %d must not be negative", c.Feed.Depth)
	}
	if _, perr := zapcore.ParseLevel(strings.ToLower(c.LogLevel)); perr != nil {
		add("log_level: %v", perr)
	}

	err = multierr.Append(err, c.Strategy.Validate())
	err = multierr.Append(err, c.Execution.Validate())
	err = multierr.Append(err, c.Reconnect.Validate())
	return err
}

// RedisEnabled reports whether candles and signals are published to Redis.
func (c Config) RedisEnabled() bool { return c.Redis.Addr != "" }

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
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
