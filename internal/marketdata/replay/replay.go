// Package replay feeds archived candles back into the signal stage for
// backtesting, optionally paced to mimic the original bar spacing.
package replay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tradecore/internal/model"
)

// maxGap caps a single paced sleep.
const maxGap = 5 * time.Second

// Replayer reads candles from a HistorySource and replays them at a
// configurable speed multiplier.
type Replayer struct {
	src model.HistorySource
	log *zap.Logger

	// OnCandle is called before each candle is sent (progress reporting).
	OnCandle func(model.Candle)
}

// New creates a Replayer backed by src.
func New(src model.HistorySource, log *zap.Logger) *Replayer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replayer{src: src, log: log.Named("replay")}
}

// Run replays candles for symbol in [from, to) into out as live (non-historical)
// messages and returns how many were sent. speed controls the playback rate:
// 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
func (r *Replayer) Run(ctx context.Context, symbol string, from, to time.Time, granularity time.Duration, speed float64, out chan<- model.CandleMessage) (int, error) {
	candles, err := r.src.FetchHistory(ctx, symbol, from, to, granularity)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		r.log.Warn("no candles found", zap.String("symbol", symbol))
		return 0, nil
	}
	r.log.Info("loaded candles",
		zap.String("symbol", symbol),
		zap.Int("candles", len(candles)),
		zap.Float64("speed", speed))

	var prev time.Time
	emitted := 0
	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			r.log.Info("cancelled", zap.Int("emitted", emitted))
			return emitted, err
		}

		if speed > 0 && !prev.IsZero() {
			if gap := c.Start.Sub(prev); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prev = c.Start

		if r.OnCandle != nil {
			r.OnCandle(c)
		}
		select {
		case out <- model.CandleMessage{Symbol: symbol, Candle: c}:
		case <-ctx.Done():
			return emitted, ctx.Err()
		}
		emitted++
	}

	r.log.Info("completed", zap.Int("emitted", emitted))
	return emitted, nil
}
