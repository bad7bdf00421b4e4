// Package redis publishes live candles and signals for dashboards and other
// consumers. Every write goes through a circuit breaker so an unavailable
// Redis costs the pipeline one fast rejection instead of a timeout per bar.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"tradecore/internal/model"
)

const (
	defaultStreamMaxLen = 10000
	defaultLatestTTL    = 30 * time.Minute
	writeTimeout        = 2 * time.Second
)

// Config configures the publisher.
type Config struct {
	Addr         string        `yaml:"addr"` // e.g. "localhost:6379"
	Password     string        `yaml:"-"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"` // key namespace, default "tradebot"
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	StreamMaxLen int64         `yaml:"stream_max_len"`
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = "tradebot"
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 10 * time.Second
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultStreamMaxLen
	}
}

// Publisher writes each message to a capped stream, a latest key and a
// pub/sub channel in one pipeline.
type Publisher struct {
	client goredis.UniversalClient
	cb     *CircuitBreaker
	cfg    Config
	log    *zap.Logger

	OnError func(kind string, err error)
}

// New connects to Redis and pings it.
func New(cfg Config, log *zap.Logger) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	p := NewWithClient(client, cfg, log)
	p.log.Info("connected", zap.String("addr", cfg.Addr))
	return p, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client goredis.UniversalClient, cfg Config, log *zap.Logger) *Publisher {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("redis")
	cb := NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout)
	cb.OnStateChange = func(from, to State) {
		log.Warn("circuit breaker state change", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return &Publisher{client: client, cb: cb, cfg: cfg, log: log}
}

// Breaker exposes the circuit breaker for health reporting.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// Client returns the underlying client for liveness checks.
func (p *Publisher) Client() goredis.UniversalClient { return p.client }

// Key layout, e.g. for prefix "tradebot" and symbol "BTC-USD":
//
//	tradebot:candle:BTC-USD          stream
//	tradebot:candle:latest:BTC-USD   string
//	tradebot:pub:candle:BTC-USD      pub/sub channel
func (p *Publisher) streamKey(kind, symbol string) string {
	return p.cfg.Prefix + ":" + kind + ":" + symbol
}

func (p *Publisher) latestKey(kind, symbol string) string {
	return p.cfg.Prefix + ":" + kind + ":latest:" + symbol
}

func (p *Publisher) channel(kind, symbol string) string {
	return p.cfg.Prefix + ":pub:" + kind + ":" + symbol
}

// Run implements model.CandleSink. Historical candles are not published.
func (p *Publisher) Run(ctx context.Context, in <-chan model.CandleMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if msg.Historical {
				continue
			}
			p.report("candle", p.PublishCandle(ctx, msg.Candle))
		}
	}
}

// RunSignals implements model.SignalSink. Historical signals are not published.
func (p *Publisher) RunSignals(ctx context.Context, in <-chan model.SignalMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if msg.Historical {
				continue
			}
			p.report("signal", p.PublishSignal(ctx, msg))
		}
	}
}

// PublishCandle writes one completed candle.
func (p *Publisher) PublishCandle(ctx context.Context, c model.Candle) error {
	return p.publish(ctx, "candle", c.Symbol, string(c.JSON()))
}

// PublishSignal writes one signal message.
func (p *Publisher) PublishSignal(ctx context.Context, msg model.SignalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	return p.publish(ctx, "signal", msg.Symbol, string(data))
}

func (p *Publisher) publish(ctx context.Context, kind, symbol, data string) error {
	return p.cb.Execute(func() error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()

		pipe := p.client.Pipeline()
		pipe.XAdd(wctx, &goredis.XAddArgs{
			Stream: p.streamKey(kind, symbol),
			MaxLen: p.cfg.StreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(wctx, p.latestKey(kind, symbol), data, defaultLatestTTL)
		pipe.Publish(wctx, p.channel(kind, symbol), data)
		_, err := pipe.Exec(wctx)
		return err
	})
}

func (p *Publisher) report(kind string, err error) {
	if err == nil {
		return
	}
	// Rejections by an open breaker are counted, not logged per message.
	if !errors.Is(err, ErrCircuitOpen) {
		p.log.Warn("publish failed", zap.String("kind", kind), zap.Error(err))
	}
	if p.OnError != nil {
		p.OnError(kind, err)
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
