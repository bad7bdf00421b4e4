package indicator

import (
	"fmt"

	"tradecore/internal/model"
	"tradecore/internal/ringbuf"
)

// StochRSI normalizes RSI into [0,100] over a trailing window, then smooths
// it into %K (SMA over kSmooth) and %D (SMA of %K over dSmooth).
// A flat RSI window normalizes to 0.
type StochRSI struct {
	rsiPeriod, stochPeriod, kSmooth, dSmooth int

	rsi  *RSI
	win  *ringbuf.Window[float64]
	k, d *SMA
}

func NewStochRSI(rsiPeriod, stochPeriod, kSmooth, dSmooth int) (*StochRSI, error) {
	if err := checkPeriod("STOCHRSI", rsiPeriod, stochPeriod, kSmooth, dSmooth); err != nil {
		return nil, err
	}
	k, _ := NewSMA(kSmooth)
	d, _ := NewSMA(dSmooth)
	return &StochRSI{
		rsiPeriod: rsiPeriod, stochPeriod: stochPeriod, kSmooth: kSmooth, dSmooth: dSmooth,
		rsi: newRSI(rsiPeriod),
		win: ringbuf.New[float64](stochPeriod),
		k:   k,
		d:   d,
	}, nil
}

func (s *StochRSI) Name() string {
	return fmt.Sprintf("STOCHRSI_%d_%d_%d_%d", s.rsiPeriod, s.stochPeriod, s.kSmooth, s.dSmooth)
}

// Lookback counts samples until %K exists. %D needs dSmooth-1 more.
func (s *StochRSI) Lookback() int {
	return s.rsiPeriod + 1 + s.stochPeriod - 1 + s.kSmooth - 1
}

func (s *StochRSI) Update(x Sample) { s.Add(x.Close) }

// Add feeds a raw price.
func (s *StochRSI) Add(x float64) {
	s.rsi.Add(x)
	if !s.rsi.Ready() {
		return
	}
	s.win.Push(s.rsi.current)
	if !s.win.Full() {
		return
	}
	lo, hi := s.win.At(0), s.win.At(0)
	for i := 1; i < s.win.Len(); i++ {
		v := s.win.At(i)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	stoch := 0.0
	if hi > lo {
		stoch = 100 * (s.rsi.current - lo) / (hi - lo)
	}
	s.k.Add(stoch)
	if s.k.Ready() {
		s.d.Add(s.k.current)
	}
}

// Value returns %K.
func (s *StochRSI) Value() (float64, bool) { return s.k.Value() }
func (s *StochRSI) Ready() bool            { return s.k.Ready() }

func (s *StochRSI) K() (float64, bool) { return s.k.Value() }
func (s *StochRSI) D() (float64, bool) { return s.d.Value() }

func (s *StochRSI) Outputs() []model.Reading {
	k, kok := s.K()
	d, dok := s.D()
	return []model.Reading{
		{Name: s.Name() + "_k", Value: k, Ready: kok},
		{Name: s.Name() + "_d", Value: d, Ready: dok},
	}
}
