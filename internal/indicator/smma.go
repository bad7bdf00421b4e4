package indicator

import "fmt"

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + x) / period.
// RSI, ATR and ADX all smooth through it.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA indicator with the given period.
func NewSMMA(period int) (*SMMA, error) {
	if err := checkPeriod("SMMA", period); err != nil {
		return nil, err
	}
	return &SMMA{period: period}, nil
}

func newSMMA(period int) *SMMA { return &SMMA{period: period} }

func (s *SMMA) Name() string    { return fmt.Sprintf("SMMA_%d", s.period) }
func (s *SMMA) Lookback() int   { return s.period }
func (s *SMMA) Update(x Sample) { s.Add(x.Close) }

// Add feeds a raw value.
func (s *SMMA) Add(x float64) {
	s.count++
	if s.count <= s.period {
		s.sum += x
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}
	s.current = (s.current*float64(s.period-1) + x) / float64(s.period)
}

func (s *SMMA) Value() (float64, bool) { return s.current, s.Ready() }
func (s *SMMA) Ready() bool            { return s.count >= s.period }
