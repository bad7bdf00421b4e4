package strategy

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"tradecore/internal/indicator"
)

// ErrInvalidConfig wraps every strategy configuration problem.
var ErrInvalidConfig = errors.New("invalid strategy config")

const (
	PrimaryMACD     = "macd"
	PrimaryEMACross = "ema_cross"

	SecondaryEMACross = "ema_cross"
	SecondaryRSI      = "rsi"
	SecondaryStochRSI = "stoch_rsi"
	SecondaryNone     = "none"
)

type MACDConfig struct {
	Fast   int `yaml:"fast"`
	Slow   int `yaml:"slow"`
	Signal int `yaml:"signal"`
}

type EMACrossConfig struct {
	Fast int `yaml:"fast"`
	Slow int `yaml:"slow"`
}

type RSIConfig struct {
	Period     int     `yaml:"period"`
	Oversold   float64 `yaml:"oversold"`
	Overbought float64 `yaml:"overbought"`
}

type StochRSIConfig struct {
	RSIPeriod   int `yaml:"rsi_period"`
	StochPeriod int `yaml:"stoch_period"`
	KSmooth     int `yaml:"k_smooth"`
	DSmooth     int `yaml:"d_smooth"`
}

// Config selects the rules of a per-symbol signal engine.
type Config struct {
	Primary   string         `yaml:"primary"`
	Secondary string         `yaml:"secondary"`
	MACD      MACDConfig     `yaml:"macd"`
	EMACross  EMACrossConfig `yaml:"ema_cross"`
	RSI       RSIConfig      `yaml:"rsi"`
	StochRSI  StochRSIConfig `yaml:"stoch_rsi"`
	ATRPeriod int            `yaml:"atr_period"`

	// WarmUp is the number of bars that always yield Hold. Zero means the
	// longest rule lookback.
	WarmUp int `yaml:"warm_up"`

	// Confirmation is the length of the primary-signal hysteresis window.
	Confirmation int `yaml:"confirmation"`

	// StaleAfter turns the signal to Hold once the primary direction has held
	// for this many consecutive bars. Zero disables it.
	StaleAfter int `yaml:"stale_after"`

	// Extra indicators computed per bar and attached to signal messages.
	Extra []indicator.Config `yaml:"extra"`
}

// DefaultConfig mirrors the original bot: MACD(12,26,9) confirmed by an
// EMA(9)/EMA(12) cross, 35 warm-up bars.
func DefaultConfig() Config {
	return Config{
		Primary:      PrimaryMACD,
		Secondary:    SecondaryEMACross,
		MACD:         MACDConfig{Fast: 12, Slow: 26, Signal: 9},
		EMACross:     EMACrossConfig{Fast: 9, Slow: 12},
		RSI:          RSIConfig{Period: 14, Oversold: 30, Overbought: 70},
		StochRSI:     StochRSIConfig{RSIPeriod: 14, StochPeriod: 14, KSmooth: 3, DSmooth: 3},
		ATRPeriod:    14,
		WarmUp:       35,
		Confirmation: 3,
	}
}

// rules builds fresh rule instances for one engine.
func (c Config) rules() (Trend, Filter, error) {
	var (
		primary   Trend
		secondary Filter
		err       error
	)
	switch strings.ToLower(c.Primary) {
	case PrimaryMACD:
		primary, err = NewMACDTrend(c.MACD.Fast, c.MACD.Slow, c.MACD.Signal)
	case PrimaryEMACross:
		primary, err = NewEMACross(c.EMACross.Fast, c.EMACross.Slow)
	default:
		err = fmt.Errorf("%w: unknown primary %q", ErrInvalidConfig, c.Primary)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("primary: %w", err)
	}

	switch strings.ToLower(c.Secondary) {
	case SecondaryEMACross:
		secondary, err = NewEMACross(c.EMACross.Fast, c.EMACross.Slow)
	case SecondaryRSI:
		secondary, err = NewRSIFilter(c.RSI.Period, c.RSI.Oversold, c.RSI.Overbought)
	case SecondaryStochRSI:
		secondary, err = NewStochRSICross(c.StochRSI.RSIPeriod, c.StochRSI.StochPeriod, c.StochRSI.KSmooth, c.StochRSI.DSmooth)
	case SecondaryNone, "":
		secondary = always{}
	default:
		err = fmt.Errorf("%w: unknown secondary %q", ErrInvalidConfig, c.Secondary)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("secondary: %w", err)
	}
	return primary, secondary, nil
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var err error
	primary, secondary, rerr := c.rules()
	err = multierr.Append(err, rerr)

	if c.ATRPeriod <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: atr_period %d", ErrInvalidConfig, c.ATRPeriod))
	}
	if c.Confirmation < 1 {
		err = multierr.Append(err, fmt.Errorf("%w: confirmation %d must be at least 1", ErrInvalidConfig, c.Confirmation))
	}
	if c.StaleAfter < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: stale_after %d", ErrInvalidConfig, c.StaleAfter))
	}
	if c.WarmUp < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: warm_up %d", ErrInvalidConfig, c.WarmUp))
	}
	if rerr == nil && c.WarmUp > 0 {
		if need := lookback(primary, secondary); c.WarmUp < need {
			err = multierr.Append(err, fmt.Errorf("%w: warm_up %d shorter than rule lookback %d", ErrInvalidConfig, c.WarmUp, need))
		}
	}
	if ierr := indicator.ValidateConfigs(c.Extra); ierr != nil {
		err = multierr.Append(err, fmt.Errorf("extra: %w", ierr))
	}
	return err
}

func lookback(rules ...Rule) int {
	n := 0
	for _, r := range rules {
		if l := r.Lookback(); l > n {
			n = l
		}
	}
	return n
}
