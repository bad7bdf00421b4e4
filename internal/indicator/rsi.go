package indicator

import "fmt"

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// The first value needs period price changes, i.e. period+1 samples.
// A zero average loss yields 100.
type RSI struct {
	period  int
	count   int
	prev    float64
	gains   *SMMA
	losses  *SMMA
	current float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) (*RSI, error) {
	if err := checkPeriod("RSI", period); err != nil {
		return nil, err
	}
	return newRSI(period), nil
}

func newRSI(period int) *RSI {
	return &RSI{period: period, gains: newSMMA(period), losses: newSMMA(period)}
}

func (r *RSI) Name() string    { return fmt.Sprintf("RSI_%d", r.period) }
func (r *RSI) Lookback() int   { return r.period + 1 }
func (r *RSI) Update(x Sample) { r.Add(x.Close) }

// Add feeds a raw value.
func (r *RSI) Add(x float64) {
	r.count++
	if r.count == 1 {
		r.prev = x
		return
	}
	delta := x - r.prev
	r.prev = x

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gains.Add(gain)
	r.losses.Add(loss)
	if !r.gains.Ready() {
		return
	}

	avgGain, avgLoss := r.gains.current, r.losses.current
	if avgLoss == 0 {
		r.current = 100
		return
	}
	rs := avgGain / avgLoss
	r.current = 100 - 100/(1+rs)
}

func (r *RSI) Value() (float64, bool) { return r.current, r.Ready() }
func (r *RSI) Ready() bool            { return r.gains.Ready() }
