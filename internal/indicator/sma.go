package indicator

import (
	"fmt"

	"tradecore/internal/ringbuf"
)

// SMA calculates Simple Moving Average over a rolling window.
type SMA struct {
	period  int
	win     *ringbuf.Window[float64]
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) (*SMA, error) {
	if err := checkPeriod("SMA", period); err != nil {
		return nil, err
	}
	return &SMA{period: period, win: ringbuf.New[float64](period)}, nil
}

func (s *SMA) Name() string    { return fmt.Sprintf("SMA_%d", s.period) }
func (s *SMA) Lookback() int   { return s.period }
func (s *SMA) Update(x Sample) { s.Add(x.Close) }

// Add feeds a raw value.
func (s *SMA) Add(x float64) {
	if old, evicted := s.win.Push(x); evicted {
		s.sum -= old
	}
	s.sum += x
	if s.win.Full() {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() (float64, bool) { return s.current, s.Ready() }
func (s *SMA) Ready() bool            { return s.win.Full() }
