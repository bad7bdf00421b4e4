// Package strategy derives per-bar trading signals for one symbol.
//
// An Engine owns its indicator state. Each completed bar updates every rule,
// then the primary trend direction is pushed into a confirmation window.
// The effective bias is Buy when any Buy is in the window, otherwise the
// newest entry. A Buy or Sell is emitted only when the secondary filter
// confirms that bias; everything else is Hold.
package strategy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tradecore/internal/indicator"
	"tradecore/internal/model"
	"tradecore/internal/ringbuf"
)

// Engine is the signal engine for one symbol. Not safe for concurrent use;
// it is meant to be owned by the symbol's signal stage.
type Engine struct {
	symbol    string
	primary   Trend
	secondary Filter
	atr       *indicator.ATR
	extras    *indicator.Set

	warmUp     int
	staleAfter int
	bars       int
	window     *ringbuf.Window[model.Signal]

	runDir model.Signal
	runLen int

	log *zap.Logger

	// OnSignal is called for every non-historical signal message (optional).
	OnSignal func(msg model.SignalMessage)
}

// NewEngine validates cfg and builds fresh rule instances.
func NewEngine(symbol string, cfg Config, log *zap.Logger) (*Engine, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	primary, secondary, _ := cfg.rules()
	atr, _ := indicator.NewATR(cfg.ATRPeriod)
	extras, _ := indicator.NewSet(cfg.Extra)

	warmUp := cfg.WarmUp
	if warmUp == 0 {
		warmUp = lookback(primary, secondary)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		symbol:     symbol,
		primary:    primary,
		secondary:  secondary,
		atr:        atr,
		extras:     extras,
		warmUp:     warmUp,
		staleAfter: cfg.StaleAfter,
		window:     ringbuf.New[model.Signal](cfg.Confirmation),
		log:        log.Named("strategy").With(zap.String("symbol", symbol)),
	}, nil
}

// Symbol returns the symbol this engine serves.
func (e *Engine) Symbol() string { return e.symbol }

// WarmUp returns the number of bars that always yield Hold.
func (e *Engine) WarmUp() int { return e.warmUp }

// Bars returns the number of bars consumed so far.
func (e *Engine) Bars() int { return e.bars }

// OnCandle consumes one completed bar and returns the resulting message.
func (e *Engine) OnCandle(msg model.CandleMessage) model.SignalMessage {
	c := msg.Candle
	s := indicator.SampleFrom(c)

	e.primary.Update(s)
	e.secondary.Update(s)
	e.atr.Update(s)
	readings := e.extras.Update(s)
	readings = append(readings, e.ruleReadings()...)
	e.bars++

	atr, atrOK := e.atr.Value()
	out := model.SignalMessage{
		Symbol:     e.symbol,
		Signal:     e.decide(),
		BarStart:   c.Start,
		Close:      c.Close,
		High:       c.High,
		ATR:        atr,
		ATRReady:   atrOK,
		Historical: msg.Historical,
		Indicators: readings,
	}
	if !msg.Historical && e.OnSignal != nil {
		e.OnSignal(out)
	}
	return out
}

func (e *Engine) decide() model.Signal {
	if e.bars < e.warmUp || !e.primary.Ready() || !e.secondary.Ready() {
		return model.Hold
	}

	dir := e.primary.Direction()
	e.window.Push(dir)
	if dir != model.Hold && dir == e.runDir {
		e.runLen++
	} else {
		e.runDir, e.runLen = dir, 1
	}

	bias := model.Hold
	if e.window.Any(func(s model.Signal) bool { return s == model.Buy }) {
		bias = model.Buy
	} else if last, ok := e.window.Last(); ok {
		bias = last
	}
	if bias == model.Hold || !e.secondary.Confirms(bias) {
		return model.Hold
	}
	if e.staleAfter > 0 && e.runLen >= e.staleAfter {
		return model.Hold
	}
	return bias
}

type readingsProvider interface {
	Readings() []model.Reading
}

func (e *Engine) ruleReadings() []model.Reading {
	var out []model.Reading
	for _, r := range []Rule{e.primary, e.secondary} {
		if p, ok := r.(readingsProvider); ok {
			out = append(out, p.Readings()...)
		}
	}
	return out
}

// Seed replays history through the engine without emitting signals.
// Malformed candles are skipped. Returns the number of candles applied.
func (e *Engine) Seed(candles []model.Candle) int {
	n := 0
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			e.log.Warn("skipping history candle", zap.Error(err))
			continue
		}
		e.OnCandle(model.CandleMessage{Symbol: e.symbol, Candle: c, Historical: true})
		n++
	}
	e.log.Info("seeded from history", zap.Int("candles", n), zap.Int("warm_up", e.warmUp))
	return n
}

// Run consumes candles from in and sends a signal message for each to out,
// blocking when out is full. Returns when ctx is cancelled or in is closed.
func (e *Engine) Run(ctx context.Context, in <-chan model.CandleMessage, out chan<- model.SignalMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				e.log.Info("candle channel closed, signal engine stopping")
				return
			}
			if err := msg.Candle.Validate(); err != nil {
				e.log.Warn("skipping candle", zap.Error(err))
				continue
			}
			sig := e.OnCandle(msg)
			if sig.Signal != model.Hold {
				e.log.Info("signal",
					zap.Stringer("signal", sig.Signal),
					zap.Time("bar", sig.BarStart),
					zap.String("close", sig.Close.String()),
					zap.Bool("historical", sig.Historical))
			}
			select {
			case out <- sig:
			case <-ctx.Done():
				return
			}
		}
	}
}
