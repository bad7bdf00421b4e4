// Package agg bins trade ticks into fixed-duration OHLCV candles.
//
// Live updates and historical snapshots go through the same Apply path; the
// batch's Historical flag only marks the candles it completes.
package agg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"tradecore/internal/model"
)

// ErrInvalidDuration is returned by New for a non-positive candle duration.
var ErrInvalidDuration = errors.New("invalid candle duration")

// candleState holds the in-progress candle for one symbol.
type candleState struct {
	session uint64
	candle  model.Candle
}

// Aggregator builds candles from tick batches. It is owned by a single
// goroutine; per-symbol state is keyed by symbol so one instance can serve
// several symbols as long as their batches arrive in order.
type Aggregator struct {
	duration time.Duration
	states   map[string]*candleState
	log      *zap.Logger

	// Metrics hooks (optional, set externally)
	OnTicks         func(symbol string, n int)
	OnMalformedTick func(symbol string, err error)
	OnLateTick      func(tick model.Tick)
	OnCandle        func(msg model.CandleMessage)
}

// New creates an Aggregator for candles of duration d.
func New(d time.Duration, log *zap.Logger) (*Aggregator, error) {
	if d <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, d)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		duration: d,
		states:   make(map[string]*candleState),
		log:      log.Named("agg"),
	}, nil
}

// Duration returns the candle width.
func (a *Aggregator) Duration() time.Duration { return a.duration }

// Current returns the in-progress candle for symbol.
func (a *Aggregator) Current(symbol string) (model.Candle, bool) {
	st, ok := a.states[symbol]
	if !ok {
		return model.Candle{}, false
	}
	return st.candle, true
}

// Apply folds one batch into the symbol's state and returns the candles it
// completed, oldest first.
func (a *Aggregator) Apply(batch model.TickBatch) []model.CandleMessage {
	st := a.states[batch.Symbol]
	if st != nil && st.session != batch.Session {
		a.log.Info("new session, discarding in-progress candle",
			zap.String("symbol", batch.Symbol),
			zap.Uint64("old_session", st.session),
			zap.Uint64("session", batch.Session),
			zap.Time("start", st.candle.Start),
			zap.Int("trades", st.candle.Trades))
		delete(a.states, batch.Symbol)
		st = nil
	}

	ticks := make([]model.Tick, len(batch.Ticks))
	copy(ticks, batch.Ticks)
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Time.Before(ticks[j].Time) })

	var out []model.CandleMessage
	accepted := 0
	for _, tick := range ticks {
		if err := a.check(batch.Symbol, tick); err != nil {
			if a.OnMalformedTick != nil {
				a.OnMalformedTick(batch.Symbol, err)
			}
			a.log.Debug("skipping tick", zap.String("symbol", batch.Symbol), zap.Error(err))
			continue
		}
		t := tick.Time.UTC()

		if st == nil {
			st = a.open(batch.Session, tick)
			a.states[batch.Symbol] = st
			accepted++
			continue
		}

		c := &st.candle
		if t.Before(c.Start) {
			if a.OnLateTick != nil {
				a.OnLateTick(tick)
			}
			continue
		}
		accepted++

		if !t.Before(c.End) {
			msg := model.CandleMessage{Symbol: batch.Symbol, Candle: *c, Historical: batch.Historical}
			out = append(out, msg)
			if a.OnCandle != nil {
				a.OnCandle(msg)
			}
			st = a.open(batch.Session, tick)
			a.states[batch.Symbol] = st
			continue
		}

		// same window: update OHLC
		if tick.Price.GreaterThan(c.High) {
			c.High = tick.Price
		}
		if tick.Price.LessThan(c.Low) {
			c.Low = tick.Price
		}
		c.Close = tick.Price
		c.Volume = c.Volume.Add(tick.Size)
		c.Trades++
	}
	if a.OnTicks != nil && accepted > 0 {
		a.OnTicks(batch.Symbol, accepted)
	}
	return out
}

func (a *Aggregator) check(symbol string, tick model.Tick) error {
	if err := tick.Validate(); err != nil {
		return err
	}
	if tick.Symbol != symbol {
		return fmt.Errorf("%w: symbol %q in %q batch", model.ErrMalformedTick, tick.Symbol, symbol)
	}
	return nil
}

// open starts a candle on the window boundary containing the tick.
func (a *Aggregator) open(session uint64, tick model.Tick) *candleState {
	start := tick.Time.UTC().Truncate(a.duration)
	return &candleState{
		session: session,
		candle: model.Candle{
			Symbol: tick.Symbol,
			Start:  start,
			End:    start.Add(a.duration),
			Open:   tick.Price,
			High:   tick.Price,
			Low:    tick.Price,
			Close:  tick.Price,
			Volume: tick.Size,
			Trades: 1,
		},
	}
}

// Run consumes batches from in and sends completed candles to out, blocking
// when out is full. After each live batch the latest trade price is offered on
// prices (may be nil), replacing any value the consumer has not read yet.
// Returns when ctx is cancelled or in is closed; the in-progress candle is not
// flushed.
func (a *Aggregator) Run(ctx context.Context, in <-chan model.TickBatch, out chan<- model.CandleMessage, prices chan model.PriceUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-in:
			if !ok {
				a.log.Info("tick channel closed, aggregator stopping")
				return
			}
			for _, msg := range a.Apply(batch) {
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
			if prices != nil && !batch.Historical {
				if last, ok := a.latest(batch); ok {
					offerLatest(prices, last)
				}
			}
		}
	}
}

// latest picks the newest tick of a batch that Apply has already folded in.
// Ticks Apply rejected, as malformed or as late for the current candle, are
// not offered.
func (a *Aggregator) latest(batch model.TickBatch) (model.PriceUpdate, bool) {
	var floor time.Time
	if st, ok := a.states[batch.Symbol]; ok {
		floor = st.candle.Start
	}
	var best model.Tick
	found := false
	for _, t := range batch.Ticks {
		if a.check(batch.Symbol, t) != nil || t.Time.Before(floor) {
			continue
		}
		if !found || !t.Time.Before(best.Time) {
			best, found = t, true
		}
	}
	if !found {
		return model.PriceUpdate{}, false
	}
	return model.PriceUpdate{Symbol: batch.Symbol, Price: best.Price, Time: best.Time}, true
}

// offerLatest makes v the pending value of a coalescing channel.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
