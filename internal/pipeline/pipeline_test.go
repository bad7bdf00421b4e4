package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/execution"
	"tradecore/internal/marketdata/ingest"
	"tradecore/internal/metrics"
	"tradecore/internal/model"
	"tradecore/internal/strategy"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func tick(symbol, price string, at time.Time) model.Tick {
	return model.Tick{
		Symbol: symbol,
		Price:  decimal.RequireFromString(price),
		Size:   decimal.NewFromInt(1),
		Side:   model.SideBuy,
		Time:   at,
	}
}

// scriptSource sends its batches on the first connection of each symbol and
// then stays silent. Symbols in refuse never connect.
type scriptSource struct {
	batches map[string][]model.TickBatch
	refuse  map[string]bool

	mu       sync.Mutex
	attempts map[string]int
}

func (s *scriptSource) Stream(ctx context.Context, symbol string, session uint64, out chan<- model.TickBatch) error {
	s.mu.Lock()
	if s.attempts == nil {
		s.attempts = make(map[string]int)
	}
	s.attempts[symbol]++
	first := s.attempts[symbol] == 1
	s.mu.Unlock()

	if s.refuse[symbol] {
		return errors.New("connection refused")
	}
	if first {
		for _, b := range s.batches[symbol] {
			b.Symbol, b.Session = symbol, session
			select {
			case out <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *scriptSource) Attempts(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[symbol]
}

type collector struct {
	mu      sync.Mutex
	candles []model.CandleMessage
	signals []model.SignalMessage
}

func (c *collector) Run(ctx context.Context, in <-chan model.CandleMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			c.mu.Lock()
			c.candles = append(c.candles, m)
			c.mu.Unlock()
		}
	}
}

func (c *collector) RunSignals(ctx context.Context, in <-chan model.SignalMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			c.mu.Lock()
			c.signals = append(c.signals, m)
			c.mu.Unlock()
		}
	}
}

func (c *collector) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candles), len(c.signals)
}

type fakeHistory struct {
	candles []model.Candle
	err     error

	mu    sync.Mutex
	calls int
	start time.Time
	end   time.Time
}

func (h *fakeHistory) FetchHistory(_ context.Context, _ string, start, end time.Time, _ time.Duration) ([]model.Candle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.start, h.end = start, end
	return h.candles, h.err
}

func testConfig(symbols ...string) Config {
	return Config{
		Symbols:        symbols,
		CandleDuration: time.Minute,
		Buffer:         8,
		Strategy:       strategy.DefaultConfig(),
		Execution:      execution.DefaultConfig(),
		Reconnect:      ingest.Config{Mode: ingest.ModeFixed, Initial: 10 * time.Millisecond, Max: 10 * time.Millisecond},
	}
}

// threeWindows yields two completed one-minute candles.
func threeWindows(symbol string) []model.TickBatch {
	return []model.TickBatch{
		{Ticks: []model.Tick{tick(symbol, "100", t0), tick(symbol, "101", t0.Add(10*time.Second))}},
		{Ticks: []model.Tick{tick(symbol, "102", t0.Add(time.Minute))}},
		{Ticks: []model.Tick{tick(symbol, "103", t0.Add(2*time.Minute))}},
	}
}

func runAsync(t *testing.T, p *Pipeline) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return cancel, done
}

func waitStopped(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}

func TestPipeline_CandlesAndSignalsReachEveryConsumer(t *testing.T) {
	src := &scriptSource{batches: map[string][]model.TickBatch{"BTC-USD": threeWindows("BTC-USD")}}
	archive, pub := &collector{}, &collector{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()

	p, err := New(testConfig("BTC-USD"), Deps{
		Source:     src,
		Sink:       execution.NewPaperSink(0, 0, nil),
		Archive:    archive,
		Publishers: []Publisher{pub},
		Metrics:    m,
		Health:     health,
	})
	require.NoError(t, err)

	cancel, done := runAsync(t, p)
	require.Eventually(t, func() bool {
		a, _ := archive.counts()
		c, s := pub.counts()
		return a == 2 && c == 2 && s == 2
	}, 3*time.Second, 10*time.Millisecond)
	waitStopped(t, cancel, done)

	assert.Equal(t, t0, archive.candles[0].Candle.Start)
	assert.True(t, archive.candles[0].Candle.Close.Equal(decimal.NewFromInt(101)))
	assert.Equal(t, t0.Add(time.Minute), pub.candles[1].Candle.Start)
	for _, s := range pub.signals {
		assert.Equal(t, model.Hold, s.Signal, "still warming up")
	}

	assert.Equal(t, 4.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("BTC-USD")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CandlesTotal.WithLabelValues("BTC-USD")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("BTC-USD", "HOLD")))
	assert.False(t, p.Dispatcher("BTC-USD").Position().Active)
}

func TestPipeline_SeedsFromHistoryWindow(t *testing.T) {
	now := t0.Add(30 * time.Second)
	var bars []model.Candle
	for i := 0; i < 5; i++ {
		start := t0.Add(time.Duration(i-5) * time.Minute)
		px := decimal.NewFromInt(int64(100 + i))
		bars = append(bars, model.Candle{
			Symbol: "ETH-USD", Start: start, End: start.Add(time.Minute),
			Open: px, High: px, Low: px, Close: px, Volume: decimal.NewFromInt(1), Trades: 1,
		})
	}
	hist := &fakeHistory{candles: bars}
	cfg := testConfig("ETH-USD")
	cfg.HistoryBars = 5

	p, err := New(cfg, Deps{
		Source:  &scriptSource{},
		History: hist,
		Sink:    execution.NewPaperSink(0, 0, nil),
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)

	cancel, done := runAsync(t, p)
	require.Eventually(t, func() bool {
		hist.mu.Lock()
		defer hist.mu.Unlock()
		return hist.calls == 1
	}, 3*time.Second, 10*time.Millisecond)
	waitStopped(t, cancel, done)

	assert.Equal(t, t0, hist.end, "window ends on the open bar's start")
	assert.Equal(t, t0.Add(-5*time.Minute), hist.start)
	assert.Equal(t, 5, p.symbols[0].engine.Bars())
}

func TestPipeline_HistoryFailureStartsCold(t *testing.T) {
	hist := &fakeHistory{err: errors.New("rate limited")}
	cfg := testConfig("SOL-USD")
	cfg.HistoryBars = 100
	pub := &collector{}

	p, err := New(cfg, Deps{
		Source:     &scriptSource{batches: map[string][]model.TickBatch{"SOL-USD": threeWindows("SOL-USD")}},
		History:    hist,
		Sink:       execution.NewPaperSink(0, 0, nil),
		Publishers: []Publisher{pub},
	})
	require.NoError(t, err)

	cancel, done := runAsync(t, p)
	require.Eventually(t, func() bool {
		c, _ := pub.counts()
		return c == 2
	}, 3*time.Second, 10*time.Millisecond)
	waitStopped(t, cancel, done)

	assert.Equal(t, 2, p.symbols[0].engine.Bars())
}

func TestPipeline_FailingSymbolDoesNotStallOthers(t *testing.T) {
	src := &scriptSource{
		batches: map[string][]model.TickBatch{"ETH-USD": threeWindows("ETH-USD")},
		refuse:  map[string]bool{"BTC-USD": true},
	}
	archive := &collector{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus("BTC-USD", "ETH-USD")

	p, err := New(testConfig("BTC-USD", "ETH-USD"), Deps{
		Source:  src,
		Sink:    execution.NewPaperSink(0, 0, nil),
		Archive: archive,
		Metrics: m,
		Health:  health,
	})
	require.NoError(t, err)

	cancel, done := runAsync(t, p)
	require.Eventually(t, func() bool {
		a, _ := archive.counts()
		return a == 2 && src.Attempts("BTC-USD") >= 3
	}, 3*time.Second, 10*time.Millisecond)
	waitStopped(t, cancel, done)

	for _, c := range archive.candles {
		assert.Equal(t, "ETH-USD", c.Symbol)
	}
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.Reconnects.WithLabelValues("BTC-USD")), 2.0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Reconnects.WithLabelValues("ETH-USD")))
}

func TestNew_Validation(t *testing.T) {
	deps := Deps{Source: &scriptSource{}, Sink: execution.NewPaperSink(0, 0, nil)}

	_, err := New(Config{}, deps)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(testConfig("BTC-USD"), Deps{Source: &scriptSource{}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad := testConfig("BTC-USD")
	bad.Execution.QuoteSize = 0
	_, err = New(bad, deps)
	assert.ErrorIs(t, err, execution.ErrInvalidConfig)

	p, err := New(testConfig("BTC-USD", "ETH-USD"), deps)
	require.NoError(t, err)
	assert.NotNil(t, p.Dispatcher("ETH-USD"))
	assert.Nil(t, p.Dispatcher("XRP-USD"))
	assert.NotNil(t, p.PnL())
}
