package indicator

import (
	"fmt"
	"math"
)

// ATR is the Wilder-smoothed true range. The first bar has no previous close,
// so its true range is high - low.
type ATR struct {
	period    int
	prevClose float64
	seen      bool
	smooth    *SMMA
}

// NewATR creates an ATR with the given period.
func NewATR(period int) (*ATR, error) {
	if err := checkPeriod("ATR", period); err != nil {
		return nil, err
	}
	return &ATR{period: period, smooth: newSMMA(period)}, nil
}

func (a *ATR) Name() string  { return fmt.Sprintf("ATR_%d", a.period) }
func (a *ATR) Lookback() int { return a.period }

func (a *ATR) Update(x Sample) {
	tr := x.High - x.Low
	if a.seen {
		tr = trueRange(x, a.prevClose)
	}
	a.prevClose = x.Close
	a.seen = true
	a.smooth.Add(tr)
}

func (a *ATR) Value() (float64, bool) { return a.smooth.Value() }
func (a *ATR) Ready() bool            { return a.smooth.Ready() }

func trueRange(x Sample, prevClose float64) float64 {
	return math.Max(x.High-x.Low, math.Max(math.Abs(x.High-prevClose), math.Abs(x.Low-prevClose)))
}
