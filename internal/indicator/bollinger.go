package indicator

import (
	"fmt"
	"math"

	"tradecore/internal/model"
	"tradecore/internal/ringbuf"
)

// Bollinger computes SMA(period) ± k·σ where σ is the population standard
// deviation of the same window.
type Bollinger struct {
	period int
	k      float64
	win    *ringbuf.Window[float64]

	middle, upper, lower float64
}

// NewBollinger creates Bollinger Bands. k is usually 2.
func NewBollinger(period int, k float64) (*Bollinger, error) {
	if err := checkPeriod("BBANDS", period); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: BBANDS multiplier %v", ErrInvalidPeriod, k)
	}
	return &Bollinger{period: period, k: k, win: ringbuf.New[float64](period)}, nil
}

func (b *Bollinger) Name() string  { return fmt.Sprintf("BBANDS_%d", b.period) }
func (b *Bollinger) Lookback() int { return b.period }

func (b *Bollinger) Update(x Sample) {
	b.win.Push(x.Close)
	if !b.win.Full() {
		return
	}
	sum := 0.0
	for i := 0; i < b.period; i++ {
		sum += b.win.At(i)
	}
	mean := sum / float64(b.period)
	variance := 0.0
	for i := 0; i < b.period; i++ {
		d := b.win.At(i) - mean
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(b.period))

	b.middle = mean
	b.upper = mean + b.k*sd
	b.lower = mean - b.k*sd
}

// Value returns the middle band.
func (b *Bollinger) Value() (float64, bool) { return b.middle, b.Ready() }
func (b *Bollinger) Ready() bool            { return b.win.Full() }

// Bands returns upper, middle, lower.
func (b *Bollinger) Bands() (upper, middle, lower float64, ok bool) {
	return b.upper, b.middle, b.lower, b.Ready()
}

func (b *Bollinger) Outputs() []model.Reading {
	ok := b.Ready()
	return []model.Reading{
		{Name: b.Name(), Value: b.middle, Ready: ok},
		{Name: b.Name() + "_upper", Value: b.upper, Ready: ok},
		{Name: b.Name() + "_lower", Value: b.lower, Ready: ok},
	}
}
