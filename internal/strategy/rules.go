package strategy

import (
	"fmt"

	"tradecore/internal/indicator"
	"tradecore/internal/model"
)

// Rule is an indicator-backed building block of a strategy.
type Rule interface {
	Name() string
	Update(s indicator.Sample)
	Ready() bool
	// Lookback is the number of bars before Ready can be true.
	Lookback() int
}

// Trend produces the primary directional signal.
type Trend interface {
	Rule
	Direction() model.Signal
}

// Filter confirms or vetoes a directional bias.
type Filter interface {
	Rule
	Confirms(bias model.Signal) bool
}

// MACDTrend is Buy while the MACD line is above its signal line and Sell
// while below.
type MACDTrend struct {
	macd *indicator.MACD
}

func NewMACDTrend(fast, slow, signal int) (*MACDTrend, error) {
	m, err := indicator.NewMACD(fast, slow, signal)
	if err != nil {
		return nil, err
	}
	return &MACDTrend{macd: m}, nil
}

func (r *MACDTrend) Name() string              { return r.macd.Name() }
func (r *MACDTrend) Update(s indicator.Sample) { r.macd.Update(s) }
func (r *MACDTrend) Lookback() int             { return r.macd.SignalLookback() }
func (r *MACDTrend) Readings() []model.Reading { return indicator.Readings(r.macd) }

func (r *MACDTrend) Ready() bool {
	_, ok := r.macd.Signal()
	return ok
}

func (r *MACDTrend) Direction() model.Signal {
	line, _ := r.macd.Value()
	sig, ok := r.macd.Signal()
	if !ok {
		return model.Hold
	}
	return compare(line, sig)
}

// EMACross compares a fast and a slow EMA. It works as a trend or a filter.
type EMACross struct {
	fast, slow *indicator.EMA
}

func NewEMACross(fast, slow int) (*EMACross, error) {
	f, err := indicator.NewEMA(fast)
	if err != nil {
		return nil, err
	}
	s, err := indicator.NewEMA(slow)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: ema fast %d must be below slow %d", ErrInvalidConfig, fast, slow)
	}
	return &EMACross{fast: f, slow: s}, nil
}

func (r *EMACross) Name() string  { return "EMA_CROSS_" + r.fast.Name() + "_" + r.slow.Name() }
func (r *EMACross) Lookback() int { return r.slow.Lookback() }
func (r *EMACross) Ready() bool   { return r.fast.Ready() && r.slow.Ready() }

func (r *EMACross) Update(s indicator.Sample) {
	r.fast.Update(s)
	r.slow.Update(s)
}

func (r *EMACross) Direction() model.Signal {
	if !r.Ready() {
		return model.Hold
	}
	f, _ := r.fast.Value()
	s, _ := r.slow.Value()
	return compare(f, s)
}

func (r *EMACross) Confirms(bias model.Signal) bool {
	return bias != model.Hold && r.Direction() == bias
}

func (r *EMACross) Readings() []model.Reading {
	return append(indicator.Readings(r.fast), indicator.Readings(r.slow)...)
}

// RSIFilter vetoes buys into an overbought market and sells into an
// oversold one.
type RSIFilter struct {
	rsi                  *indicator.RSI
	oversold, overbought float64
}

func NewRSIFilter(period int, oversold, overbought float64) (*RSIFilter, error) {
	r, err := indicator.NewRSI(period)
	if err != nil {
		return nil, err
	}
	if oversold < 0 || overbought > 100 || oversold >= overbought {
		return nil, fmt.Errorf("%w: rsi thresholds need 0 <= oversold < overbought <= 100, got %v/%v", ErrInvalidConfig, oversold, overbought)
	}
	return &RSIFilter{rsi: r, oversold: oversold, overbought: overbought}, nil
}

func (r *RSIFilter) Name() string              { return r.rsi.Name() }
func (r *RSIFilter) Update(s indicator.Sample) { r.rsi.Update(s) }
func (r *RSIFilter) Ready() bool               { return r.rsi.Ready() }
func (r *RSIFilter) Lookback() int             { return r.rsi.Lookback() }
func (r *RSIFilter) Readings() []model.Reading { return indicator.Readings(r.rsi) }

func (r *RSIFilter) Confirms(bias model.Signal) bool {
	v, ok := r.rsi.Value()
	if !ok {
		return false
	}
	switch bias {
	case model.Buy:
		return v < r.overbought
	case model.Sell:
		return v > r.oversold
	}
	return false
}

// StochRSICross confirms Buy while %K is above %D and Sell while below.
type StochRSICross struct {
	st *indicator.StochRSI
	d  int
}

func NewStochRSICross(rsiPeriod, stochPeriod, kSmooth, dSmooth int) (*StochRSICross, error) {
	st, err := indicator.NewStochRSI(rsiPeriod, stochPeriod, kSmooth, dSmooth)
	if err != nil {
		return nil, err
	}
	return &StochRSICross{st: st, d: dSmooth}, nil
}

func (r *StochRSICross) Name() string              { return r.st.Name() }
func (r *StochRSICross) Update(s indicator.Sample) { r.st.Update(s) }
func (r *StochRSICross) Lookback() int             { return r.st.Lookback() + r.d - 1 }
func (r *StochRSICross) Readings() []model.Reading { return indicator.Readings(r.st) }

func (r *StochRSICross) Ready() bool {
	_, ok := r.st.D()
	return ok
}

func (r *StochRSICross) Confirms(bias model.Signal) bool {
	k, _ := r.st.K()
	d, ok := r.st.D()
	if !ok || bias == model.Hold {
		return false
	}
	return compare(k, d) == bias
}

// always is the "none" filter.
type always struct{}

func (always) Name() string                    { return "NONE" }
func (always) Update(indicator.Sample)         {}
func (always) Ready() bool                     { return true }
func (always) Lookback() int                   { return 0 }
func (always) Confirms(bias model.Signal) bool { return bias != model.Hold }

func compare(a, b float64) model.Signal {
	switch {
	case a > b:
		return model.Buy
	case a < b:
		return model.Sell
	}
	return model.Hold
}
