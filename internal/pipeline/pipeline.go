// Package pipeline wires the per-symbol stages together:
//
//	ingest -> ticks -> aggregator -> candle fan-out -> {strategy, archive, publishers}
//	strategy -> signal fan-out -> {dispatcher, publishers}
//
// Every channel is bounded and every send blocks, so a slow consumer slows
// its producer instead of losing data. One errgroup owns all stages;
// cancelling the context stops them without draining.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/execution"
	"tradecore/internal/marketdata/agg"
	"tradecore/internal/marketdata/bus"
	"tradecore/internal/marketdata/ingest"
	"tradecore/internal/metrics"
	"tradecore/internal/model"
	"tradecore/internal/notification"
	"tradecore/internal/portfolio"
	"tradecore/internal/strategy"
)

var ErrInvalidConfig = errors.New("invalid pipeline config")

const (
	historyTimeout = 30 * time.Second
	sampleInterval = 5 * time.Second
)

type Config struct {
	Symbols        []string
	CandleDuration time.Duration
	HistoryBars    int
	Buffer         int
	Strategy       strategy.Config
	Execution      execution.Config
	Reconnect      ingest.Config
}

func (c Config) Validate() error {
	var err error
	if len(c.Symbols) == 0 {
		err = multierr.Append(err, fmt.Errorf("%w: no symbols", ErrInvalidConfig))
	}
	if c.CandleDuration <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: candle duration %s", ErrInvalidConfig, c.CandleDuration))
	}
	if c.Buffer <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: buffer %d", ErrInvalidConfig, c.Buffer))
	}
	if c.HistoryBars < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: history bars %d", ErrInvalidConfig, c.HistoryBars))
	}
	err = multierr.Append(err, c.Strategy.Validate())
	err = multierr.Append(err, c.Execution.Validate())
	err = multierr.Append(err, c.Reconnect.Validate())
	return err
}

// Publisher receives candles and signals (Redis, websocket feed).
type Publisher interface {
	model.CandleSink
	model.SignalSink
}

// Deps are the collaborators. Source and Sink are required.
type Deps struct {
	Source     model.MarketDataSource
	History    model.HistorySource // nil starts every symbol cold
	Sink       model.OrderSink
	Archive    model.CandleSink // nil disables archiving
	Publishers []Publisher      // live candle and signal consumers
	Notifier   notification.Notifier
	PnL        *portfolio.PnLTracker
	Journal    *execution.Journal
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
	Log        *zap.Logger

	// Now is used for the history window. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline owns the stages for every configured symbol.
type Pipeline struct {
	cfg     Config
	deps    Deps
	log     *zap.Logger
	symbols []*symbolStages
}

// symbolStages holds one symbol's stateful stages.
type symbolStages struct {
	symbol     string
	supervisor *ingest.Supervisor
	aggregator *agg.Aggregator
	engine     *strategy.Engine
	dispatcher *execution.Dispatcher

	candles *bus.FanOut[model.CandleMessage]
	signals *bus.FanOut[model.SignalMessage]
	ticks   chan model.TickBatch
}

// New validates cfg and builds every stage.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil || deps.Sink == nil {
		return nil, fmt.Errorf("%w: source and order sink are required", ErrInvalidConfig)
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.PnL == nil {
		deps.PnL = portfolio.NewPnLTracker()
	}

	p := &Pipeline{cfg: cfg, deps: deps, log: deps.Log.Named("pipeline")}
	for _, sym := range cfg.Symbols {
		st, err := p.build(sym)
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", sym, err)
		}
		p.symbols = append(p.symbols, st)
	}
	return p, nil
}

func (p *Pipeline) build(symbol string) (*symbolStages, error) {
	log := p.deps.Log
	sup, err := ingest.New(symbol, p.deps.Source, p.cfg.Reconnect, log)
	if err != nil {
		return nil, err
	}
	ag, err := agg.New(p.cfg.CandleDuration, log)
	if err != nil {
		return nil, err
	}
	eng, err := strategy.NewEngine(symbol, p.cfg.Strategy, log)
	if err != nil {
		return nil, err
	}
	disp, err := execution.NewDispatcher(symbol, p.cfg.Execution, p.deps.Sink, execution.Options{
		Notifier: p.deps.Notifier,
		PnL:      p.deps.PnL,
		Journal:  p.deps.Journal,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}

	st := &symbolStages{
		symbol:     symbol,
		supervisor: sup,
		aggregator: ag,
		engine:     eng,
		dispatcher: disp,
		candles:    bus.New[model.CandleMessage](p.cfg.Buffer),
		signals:    bus.New[model.SignalMessage](p.cfg.Buffer),
		ticks:      make(chan model.TickBatch, p.cfg.Buffer),
	}
	p.instrument(st)
	return st, nil
}

// instrument connects stage hooks to metrics and health.
func (p *Pipeline) instrument(st *symbolStages) {
	m, h := p.deps.Metrics, p.deps.Health
	symbol := st.symbol

	st.supervisor.OnConnected = func(_ string, v bool) {
		if m != nil {
			m.SetConnected(symbol, v)
		}
		if h != nil {
			h.SetConnected(symbol, v)
		}
	}
	st.aggregator.OnTicks = func(_ string, n int) {
		if m != nil {
			m.TicksTotal.WithLabelValues(symbol).Add(float64(n))
		}
		if h != nil {
			h.SetLastTick(symbol, p.deps.Now())
		}
	}
	if h != nil {
		h.SetConnected(symbol, false)
	}
	if m == nil {
		return
	}

	st.supervisor.OnReconnect = func(_ string, _ error) {
		m.Reconnects.WithLabelValues(symbol).Inc()
	}
	st.aggregator.OnMalformedTick = func(_ string, _ error) {
		m.MalformedTicks.WithLabelValues(symbol).Inc()
	}
	st.aggregator.OnLateTick = func(model.Tick) {
		m.LateTicks.WithLabelValues(symbol).Inc()
	}
	st.aggregator.OnCandle = func(model.CandleMessage) {
		m.CandlesTotal.WithLabelValues(symbol).Inc()
	}
	st.engine.OnSignal = func(msg model.SignalMessage) {
		m.SignalsTotal.WithLabelValues(symbol, msg.Signal.String()).Inc()
		// time from bar close to its signal
		m.ObserveStage("signal", msg.BarStart.Add(p.cfg.CandleDuration))
	}
	st.dispatcher.OnOrder = func(_ string, side model.Side, result string) {
		m.OrdersTotal.WithLabelValues(symbol, string(side), result).Inc()
	}
	st.dispatcher.OnStopExit = func(string) {
		m.StopExits.WithLabelValues(symbol).Inc()
	}
	st.candles.OnBlocked = func(sub string) {
		m.FanoutBlocked.WithLabelValues(symbol + "/candles/" + sub).Inc()
	}
	st.signals.OnBlocked = func(sub string) {
		m.FanoutBlocked.WithLabelValues(symbol + "/signals/" + sub).Inc()
	}
}

// Dispatcher returns the trade stage for symbol, or nil.
func (p *Pipeline) Dispatcher(symbol string) *execution.Dispatcher {
	for _, st := range p.symbols {
		if st.symbol == symbol {
			return st.dispatcher
		}
	}
	return nil
}

// PnL returns the shared realized PnL tracker.
func (p *Pipeline) PnL() *portfolio.PnLTracker { return p.deps.PnL }

// Run seeds every symbol from history, starts all stages and blocks until ctx
// is cancelled or a stage fails.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var archive chan model.CandleMessage
	var forwarders sync.WaitGroup
	if p.deps.Archive != nil {
		archive = make(chan model.CandleMessage, p.cfg.Buffer)
		g.Go(func() error {
			p.deps.Archive.Run(gctx, archive)
			return nil
		})
	}

	for _, st := range p.symbols {
		st := st
		p.seed(gctx, st)

		engineIn := st.candles.Subscribe("strategy")
		dispatchIn := st.signals.Subscribe("dispatcher")
		var archiveIn <-chan model.CandleMessage
		if archive != nil {
			archiveIn = st.candles.Subscribe("archive")
		}
		for i, pub := range p.deps.Publishers {
			pub := pub
			name := fmt.Sprintf("publisher-%d", i)
			candleIn := st.candles.Subscribe(name)
			signalIn := st.signals.Subscribe(name)
			g.Go(func() error {
				pub.Run(gctx, candleIn)
				return nil
			})
			g.Go(func() error {
				pub.RunSignals(gctx, signalIn)
				return nil
			})
		}

		candles := make(chan model.CandleMessage, p.cfg.Buffer)
		signals := make(chan model.SignalMessage, p.cfg.Buffer)
		prices := make(chan model.PriceUpdate, 1)

		g.Go(func() error {
			defer close(st.ticks)
			if err := st.supervisor.Run(gctx, st.ticks); err != nil {
				p.log.Error("ingest stopped", zap.String("symbol", st.symbol), zap.Error(err))
			}
			return nil
		})
		g.Go(func() error {
			defer close(candles)
			defer close(prices)
			st.aggregator.Run(gctx, st.ticks, candles, prices)
			return nil
		})
		g.Go(func() error {
			st.candles.Run(gctx, candles)
			return nil
		})
		g.Go(func() error {
			defer close(signals)
			st.engine.Run(gctx, engineIn, signals)
			return nil
		})
		g.Go(func() error {
			st.signals.Run(gctx, signals)
			return nil
		})
		g.Go(func() error {
			st.dispatcher.Run(gctx, dispatchIn, prices)
			return nil
		})
		if archiveIn != nil {
			forwarders.Add(1)
			g.Go(func() error {
				defer forwarders.Done()
				forward(gctx, archiveIn, archive)
				return nil
			})
		}
	}

	if archive != nil {
		go func() {
			forwarders.Wait()
			close(archive)
		}()
	}
	if p.deps.Metrics != nil {
		g.Go(func() error {
			p.sampleSaturation(gctx)
			return nil
		})
	}

	p.log.Info("pipeline started",
		zap.Strings("symbols", p.cfg.Symbols),
		zap.Duration("candle", p.cfg.CandleDuration),
		zap.Bool("archive", archive != nil),
		zap.Int("publishers", len(p.deps.Publishers)))

	err := g.Wait()
	p.log.Info("pipeline stopped", zap.Error(err))
	return err
}

// seed warms the symbol's engine with HistoryBars completed bars. A failure
// leaves the symbol cold.
func (p *Pipeline) seed(ctx context.Context, st *symbolStages) {
	if p.deps.History == nil || p.cfg.HistoryBars == 0 {
		return
	}
	end := p.deps.Now().UTC().Truncate(p.cfg.CandleDuration)
	start := end.Add(-time.Duration(p.cfg.HistoryBars) * p.cfg.CandleDuration)

	hctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	candles, err := p.deps.History.FetchHistory(hctx, st.symbol, start, end, p.cfg.CandleDuration)
	if err != nil {
		p.log.Warn("history fetch failed, starting cold", zap.String("symbol", st.symbol), zap.Error(err))
		return
	}
	st.engine.Seed(candles)
}

func (p *Pipeline) sampleSaturation(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range p.symbols {
				p.deps.Metrics.SetSaturation(st.symbol+"/ticks", len(st.ticks), cap(st.ticks))
				for _, s := range st.candles.ChannelStats() {
					p.deps.Metrics.SetSaturation(st.symbol+"/candles/"+s.Name, s.Len, s.Cap)
				}
				for _, s := range st.signals.ChannelStats() {
					p.deps.Metrics.SetSaturation(st.symbol+"/signals/"+s.Name, s.Len, s.Cap)
				}
			}
		}
	}
}

// forward copies in to out until in closes or ctx is done.
func forward[T any](ctx context.Context, in <-chan T, out chan<- T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}
