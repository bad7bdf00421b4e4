package indicator

import (
	"fmt"
	"math"

	"tradecore/internal/model"
)

// ADX is the Average Directional Index.
//
// Directional movement tie-break: +DM counts only when the up move is strictly
// larger than the down move and positive, -DM symmetrically. Equal moves
// contribute zero to both.
//
// +DM, -DM and true range are Wilder-smoothed; the first DX therefore needs
// period+1 bars and the first ADX 2*period bars. Zero smoothed range gives zero
// DI, and zero DI sum gives zero DX.
type ADX struct {
	period int

	prev   Sample
	seen   bool
	plusDM *SMMA
	minDM  *SMMA
	tr     *SMMA
	dx     *SMMA

	plusDI, minusDI float64
}

// NewADX creates an ADX with the given period.
func NewADX(period int) (*ADX, error) {
	if err := checkPeriod("ADX", period); err != nil {
		return nil, err
	}
	return &ADX{
		period: period,
		plusDM: newSMMA(period),
		minDM:  newSMMA(period),
		tr:     newSMMA(period),
		dx:     newSMMA(period),
	}, nil
}

func (a *ADX) Name() string  { return fmt.Sprintf("ADX_%d", a.period) }
func (a *ADX) Lookback() int { return 2 * a.period }

func (a *ADX) Update(x Sample) {
	if !a.seen {
		a.prev = x
		a.seen = true
		return
	}
	up := x.High - a.prev.High
	down := a.prev.Low - x.Low
	plus, minus := directionalMove(up, down)

	a.plusDM.Add(plus)
	a.minDM.Add(minus)
	a.tr.Add(trueRange(x, a.prev.Close))
	a.prev = x

	if !a.tr.Ready() {
		return
	}
	a.plusDI, a.minusDI = 0, 0
	if a.tr.current > 0 {
		a.plusDI = 100 * a.plusDM.current / a.tr.current
		a.minusDI = 100 * a.minDM.current / a.tr.current
	}
	dx := 0.0
	if sum := a.plusDI + a.minusDI; sum > 0 {
		dx = 100 * math.Abs(a.plusDI-a.minusDI) / sum
	}
	a.dx.Add(dx)
}

func directionalMove(up, down float64) (plus, minus float64) {
	if up > down && up > 0 {
		plus = up
	}
	if down > up && down > 0 {
		minus = down
	}
	return plus, minus
}

func (a *ADX) Value() (float64, bool) { return a.dx.Value() }
func (a *ADX) Ready() bool            { return a.dx.Ready() }

// PlusDI returns +DI once the first smoothed range exists.
func (a *ADX) PlusDI() (float64, bool) { return a.plusDI, a.tr.Ready() }

// MinusDI returns -DI once the first smoothed range exists.
func (a *ADX) MinusDI() (float64, bool) { return a.minusDI, a.tr.Ready() }

func (a *ADX) Outputs() []model.Reading {
	v, ok := a.Value()
	diReady := a.tr.Ready()
	return []model.Reading{
		{Name: a.Name(), Value: v, Ready: ok},
		{Name: a.Name() + "_plus_di", Value: a.plusDI, Ready: diReady},
		{Name: a.Name() + "_minus_di", Value: a.minusDI, Ready: diReady},
	}
}
