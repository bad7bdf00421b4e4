package indicator

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"tradecore/internal/model"
)

// Config specifies a single indicator to compute.
// Unused fields are ignored by types that don't need them.
type Config struct {
	Type        string  `yaml:"type"` // SMA, EMA, SMMA, RSI, ATR, ADX, MACD, BBANDS, OBV, STOCHRSI
	Period      int     `yaml:"period"`
	Fast        int     `yaml:"fast"`
	Slow        int     `yaml:"slow"`
	Signal      int     `yaml:"signal"`
	K           float64 `yaml:"k"`
	StochPeriod int     `yaml:"stoch_period"`
	KSmooth     int     `yaml:"k_smooth"`
	DSmooth     int     `yaml:"d_smooth"`
}

// New builds the indicator described by cfg.
func New(cfg Config) (Indicator, error) {
	switch strings.ToUpper(cfg.Type) {
	case "SMA":
		return NewSMA(cfg.Period)
	case "EMA":
		return NewEMA(cfg.Period)
	case "SMMA":
		return NewSMMA(cfg.Period)
	case "RSI":
		return NewRSI(cfg.Period)
	case "ATR":
		return NewATR(cfg.Period)
	case "ADX":
		return NewADX(cfg.Period)
	case "MACD":
		return NewMACD(cfg.Fast, cfg.Slow, cfg.Signal)
	case "BBANDS":
		k := cfg.K
		if k == 0 {
			k = 2
		}
		return NewBollinger(cfg.Period, k)
	case "OBV":
		return NewOBV(), nil
	case "STOCHRSI":
		return NewStochRSI(cfg.Period, cfg.StochPeriod, cfg.KSmooth, cfg.DSmooth)
	}
	return nil, fmt.Errorf("unknown indicator type %q", cfg.Type)
}

// ValidateConfigs checks all indicator configs and returns every problem found.
func ValidateConfigs(configs []Config) error {
	var err error
	for i, cfg := range configs {
		if _, e := New(cfg); e != nil {
			err = multierr.Append(err, fmt.Errorf("indicator[%d]: %w", i, e))
		}
	}
	return err
}

// Set updates a configured list of indicators for one symbol and reports
// their readings. Designed for single-goroutine usage, no locks needed.
type Set struct {
	indicators []Indicator
}

// NewSet builds one instance per config. Any invalid config fails the whole set.
func NewSet(configs []Config) (*Set, error) {
	if err := ValidateConfigs(configs); err != nil {
		return nil, err
	}
	s := &Set{indicators: make([]Indicator, 0, len(configs))}
	for _, cfg := range configs {
		ind, _ := New(cfg)
		s.indicators = append(s.indicators, ind)
	}
	return s, nil
}

// Len returns the number of indicators in the set.
func (s *Set) Len() int { return len(s.indicators) }

// Update feeds x to every indicator and returns their readings
// (not-ready indicators are included with Ready=false).
func (s *Set) Update(x Sample) []model.Reading {
	out := make([]model.Reading, 0, len(s.indicators))
	for _, ind := range s.indicators {
		ind.Update(x)
		out = append(out, Readings(ind)...)
	}
	return out
}

// Readings returns all output lines of ind.
func Readings(ind Indicator) []model.Reading {
	if m, ok := ind.(multiOutput); ok {
		return m.Outputs()
	}
	v, ok := ind.Value()
	return []model.Reading{{Name: ind.Name(), Value: v, Ready: ok}}
}
