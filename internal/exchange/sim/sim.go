// Package sim generates random-walk trades for offline runs and soak tests.
// It needs no credentials and implements both market data ports.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/model"
)

// Config controls the walk.
type Config struct {
	StartPrice float64       `yaml:"start_price"`
	Volatility float64       `yaml:"volatility"` // max fractional move per trade
	Interval   time.Duration `yaml:"interval"`   // time between batches
	BatchSize  int           `yaml:"batch_size"` // max trades per batch
	Seed       int64         `yaml:"seed"`       // 0 picks a time-based seed
	// DropAfter ends a connection after this many batches to exercise the
	// reconnect path. 0 never drops.
	DropAfter int `yaml:"drop_after"`
}

func DefaultConfig() Config {
	return Config{StartPrice: 100, Volatility: 0.001, Interval: 100 * time.Millisecond, BatchSize: 3}
}

func (c *Config) defaults() {
	d := DefaultConfig()
	if c.StartPrice <= 0 {
		c.StartPrice = d.StartPrice
	}
	if c.Volatility <= 0 {
		c.Volatility = d.Volatility
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Source keeps one walk per symbol so prices continue across reconnects.
type Source struct {
	cfg Config

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	seq    int64
	now    func() time.Time
}

// New creates a Source; zero fields in cfg take defaults.
func New(cfg Config) *Source {
	cfg.defaults()
	return &Source{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		prices: make(map[string]float64),
		now:    time.Now,
	}
}

// walk applies a move of up to ±Volatility to price.
func (s *Source) walk(price float64) float64 {
	pct := (s.rng.Float64()*2 - 1) * s.cfg.Volatility
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

func (s *Source) nextBatch(symbol string, session uint64, at time.Time) model.TickBatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		price = s.cfg.StartPrice
	}
	n := 1 + s.rng.Intn(s.cfg.BatchSize)
	batch := model.TickBatch{Symbol: symbol, Session: session, Ticks: make([]model.Tick, 0, n)}
	for i := 0; i < n; i++ {
		next := s.walk(price)
		side := model.SideBuy
		if next < price {
			side = model.SideSell
		}
		price = next
		s.seq++
		batch.Ticks = append(batch.Ticks, model.Tick{
			Symbol:  symbol,
			TradeID: fmt.Sprintf("SIM-%d", s.seq),
			Price:   decimal.NewFromFloat(price).Round(2),
			Size:    decimal.NewFromFloat(0.01 + s.rng.Float64()).Round(4),
			Side:    side,
			Time:    at.UTC(),
		})
	}
	s.prices[symbol] = price
	return batch
}

// Stream emits a batch every Interval until ctx ends or DropAfter is reached.
func (s *Source) Stream(ctx context.Context, symbol string, session uint64, out chan<- model.TickBatch) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for sent := 0; ; sent++ {
		if s.cfg.DropAfter > 0 && sent >= s.cfg.DropAfter {
			return fmt.Errorf("sim: connection dropped after %d batches", sent)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		select {
		case out <- s.nextBatch(symbol, session, s.now()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// FetchHistory synthesizes completed candles in [start, end) from the walk.
func (s *Source) FetchHistory(ctx context.Context, symbol string, start, end time.Time, granularity time.Duration) ([]model.Candle, error) {
	if granularity <= 0 {
		return nil, fmt.Errorf("sim: granularity must be positive")
	}
	var out []model.Candle
	for t := start.UTC().Truncate(granularity); t.Add(granularity).Before(end) || t.Add(granularity).Equal(end); t = t.Add(granularity) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := s.nextBatch(symbol, 0, t)
		c := model.Candle{
			Symbol: symbol,
			Start:  t,
			End:    t.Add(granularity),
			Open:   b.Ticks[0].Price,
			High:   b.Ticks[0].Price,
			Low:    b.Ticks[0].Price,
			Trades: len(b.Ticks),
		}
		for _, tk := range b.Ticks {
			c.High = decimal.Max(c.High, tk.Price)
			c.Low = decimal.Min(c.Low, tk.Price)
			c.Close = tk.Price
			c.Volume = c.Volume.Add(tk.Size)
		}
		out = append(out, c)
	}
	return out, nil
}
