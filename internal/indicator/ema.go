package indicator

import "fmt"

// EMA calculates Exponential Moving Average.
// Seeded with the SMA of the first period samples, then
// EMA = (x - prev) * k + prev with k = 2/(period+1).
type EMA struct {
	period     int
	multiplier float64
	count      int
	sum        float64
	current    float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) (*EMA, error) {
	if err := checkPeriod("EMA", period); err != nil {
		return nil, err
	}
	return newEMA(period), nil
}

func newEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string    { return fmt.Sprintf("EMA_%d", e.period) }
func (e *EMA) Lookback() int   { return e.period }
func (e *EMA) Update(x Sample) { e.Add(x.Close) }

// Add feeds a raw value.
func (e *EMA) Add(x float64) {
	e.count++
	if e.count <= e.period {
		e.sum += x
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = (x-e.current)*e.multiplier + e.current
}

func (e *EMA) Value() (float64, bool) { return e.current, e.Ready() }
func (e *EMA) Ready() bool            { return e.count >= e.period }
