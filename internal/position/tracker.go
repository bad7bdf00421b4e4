// Package position holds the per-symbol trailing-stop state.
//
// A Tracker is Inactive until a Buy fill arrives. While Active it remembers the
// entry, the highest price since entry and a stop at high - k*ATR that only
// ever moves up. A Sell fill returns it to Inactive with every field zeroed.
package position

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/internal/model"
)

var (
	ErrInvalidConfig = errors.New("invalid position config")
	ErrAlreadyActive = errors.New("position already active")
	ErrNotActive     = errors.New("position not active")
)

// Config holds the tracker tunables.
type Config struct {
	// StopMultiplier is k in stop = high - k*ATR.
	StopMultiplier float64 `yaml:"stop_multiplier"`

	// MinProfit is the fractional gain over entry required before a strategy
	// Sell is honoured. Stop exits ignore it. Zero disables the gate.
	MinProfit float64 `yaml:"min_profit"`
}

// DefaultConfig returns k=2 with the profit gate off.
func DefaultConfig() Config {
	return Config{StopMultiplier: 2}
}

func (c Config) Validate() error {
	if c.StopMultiplier <= 0 {
		return fmt.Errorf("%w: stop_multiplier %v must be positive", ErrInvalidConfig, c.StopMultiplier)
	}
	if c.MinProfit < 0 {
		return fmt.Errorf("%w: min_profit %v must not be negative", ErrInvalidConfig, c.MinProfit)
	}
	return nil
}

// Tracker is owned by one goroutine (the symbol's trade stage).
type Tracker struct {
	k         decimal.Decimal
	minProfit decimal.Decimal
	pos       model.Position
}

// NewTracker creates an Inactive tracker for symbol.
func NewTracker(symbol string, cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		k:         decimal.NewFromFloat(cfg.StopMultiplier),
		minProfit: decimal.NewFromFloat(cfg.MinProfit),
		pos:       model.Position{Symbol: symbol},
	}, nil
}

// Active reports whether a position is open.
func (t *Tracker) Active() bool { return t.pos.Active }

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() model.Position { return t.pos }

// OnBuyFill opens the position at the fill price with the stop k*ATR below it.
func (t *Tracker) OnBuyFill(fill model.Fill, atr float64) error {
	if t.pos.Active {
		return ErrAlreadyActive
	}
	t.pos = model.Position{
		Symbol:    t.pos.Symbol,
		Active:    true,
		Entry:     fill.Price,
		Size:      fill.Size,
		HighSince: fill.Price,
		Stop:      fill.Price.Sub(t.offset(atr)),
		EntryFee:  fill.Fee,
	}
	return nil
}

// OnSellFill closes the position and returns the realized PnL of the round
// trip, net of the entry and exit fees.
func (t *Tracker) OnSellFill(fill model.Fill) (decimal.Decimal, error) {
	if !t.pos.Active {
		return decimal.Zero, ErrNotActive
	}
	realized := fill.Price.Sub(t.pos.Entry).Mul(fill.Size).Sub(t.pos.EntryFee).Sub(fill.Fee)
	t.pos = model.Position{Symbol: t.pos.Symbol}
	return realized, nil
}

// Observe feeds a price and the high seen with it. A new high ratchets the
// stop to high - k*ATR when that is above the current stop. Returns true when
// price is at or below the stop.
func (t *Tracker) Observe(price, high decimal.Decimal, atr float64) bool {
	if !t.pos.Active {
		return false
	}
	if high.LessThan(price) {
		high = price
	}
	if high.GreaterThan(t.pos.HighSince) {
		t.pos.HighSince = high
		if stop := high.Sub(t.offset(atr)); stop.GreaterThan(t.pos.Stop) {
			t.pos.Stop = stop
		}
	}
	return price.LessThanOrEqual(t.pos.Stop)
}

// AllowSell applies the minimum-profit gate to a strategy Sell at price.
func (t *Tracker) AllowSell(price decimal.Decimal) bool {
	if !t.pos.Active {
		return false
	}
	if t.minProfit.IsZero() {
		return true
	}
	target := t.pos.Entry.Mul(decimal.NewFromInt(1).Add(t.minProfit))
	return price.GreaterThanOrEqual(target)
}

func (t *Tracker) offset(atr float64) decimal.Decimal {
	if atr < 0 {
		atr = 0
	}
	return t.k.Mul(decimal.NewFromFloat(atr))
}
