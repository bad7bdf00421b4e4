package indicator

import (
	"fmt"

	"tradecore/internal/model"
)

// MACD is EMA(fast) - EMA(slow) with an EMA(signal) of that line.
type MACD struct {
	fast, slow, signalPeriod int

	fastEMA, slowEMA, signalEMA *EMA
	line                        float64
	lineReady                   bool
}

// NewMACD validates fast < slow and positive periods.
func NewMACD(fast, slow, signal int) (*MACD, error) {
	if err := checkPeriod("MACD", fast, slow, signal); err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: MACD fast %d must be below slow %d", ErrInvalidPeriod, fast, slow)
	}
	return &MACD{
		fast: fast, slow: slow, signalPeriod: signal,
		fastEMA:   newEMA(fast),
		slowEMA:   newEMA(slow),
		signalEMA: newEMA(signal),
	}, nil
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d", m.fast, m.slow, m.signalPeriod)
}

// Lookback counts samples until the MACD line exists. The signal line needs
// signal-1 more.
func (m *MACD) Lookback() int { return m.slow }

// SignalLookback counts samples until the signal line exists.
func (m *MACD) SignalLookback() int { return m.slow + m.signalPeriod - 1 }

func (m *MACD) Update(x Sample) { m.Add(x.Close) }

// Add feeds a raw value.
func (m *MACD) Add(x float64) {
	m.fastEMA.Add(x)
	m.slowEMA.Add(x)
	if !m.fastEMA.Ready() || !m.slowEMA.Ready() {
		return
	}
	m.line = m.fastEMA.current - m.slowEMA.current
	m.lineReady = true
	m.signalEMA.Add(m.line)
}

// Value returns the MACD line.
func (m *MACD) Value() (float64, bool) { return m.line, m.lineReady }
func (m *MACD) Ready() bool            { return m.lineReady }

// Signal returns the signal line.
func (m *MACD) Signal() (float64, bool) { return m.signalEMA.Value() }

// Histogram returns line - signal.
func (m *MACD) Histogram() (float64, bool) {
	sig, ok := m.Signal()
	if !ok {
		return 0, false
	}
	return m.line - sig, true
}

func (m *MACD) Outputs() []model.Reading {
	sig, sok := m.Signal()
	hist, hok := m.Histogram()
	return []model.Reading{
		{Name: m.Name(), Value: m.line, Ready: m.lineReady},
		{Name: m.Name() + "_signal", Value: sig, Ready: sok},
		{Name: m.Name() + "_hist", Value: hist, Ready: hok},
	}
}
