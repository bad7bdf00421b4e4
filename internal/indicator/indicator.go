// Package indicator provides incremental technical indicators.
//
// Every indicator consumes one Sample per completed bar and keeps only the
// rolling state needed for its next value. No indicator rescans history.
// Value reports ok=false until the indicator has seen enough samples.
package indicator

import (
	"errors"
	"fmt"

	"tradecore/internal/model"
)

// Indicator is the capability shared by all indicators.
type Indicator interface {
	// Name returns the configured name (e.g. "EMA_9", "MACD_12_26_9").
	Name() string

	// Update advances the indicator by one bar.
	Update(s Sample)

	// Value returns the primary output. ok is false during warm-up.
	Value() (v float64, ok bool)

	// Ready is shorthand for the ok flag of Value.
	Ready() bool

	// Lookback is the number of samples needed before Ready turns true.
	Lookback() int
}

// multiOutput is implemented by indicators with more than one line.
type multiOutput interface {
	Outputs() []model.Reading
}

// Sample is one bar as seen by indicators. Close-only indicators ignore the rest.
type Sample struct {
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Price builds a close-only sample.
func Price(close float64) Sample {
	return Sample{High: close, Low: close, Close: close}
}

// SampleFrom converts a candle into a Sample.
func SampleFrom(c model.Candle) Sample {
	return Sample{
		High:   c.High.InexactFloat64(),
		Low:    c.Low.InexactFloat64(),
		Close:  c.Close.InexactFloat64(),
		Volume: c.Volume.InexactFloat64(),
	}
}

// ErrInvalidPeriod is returned by constructors for non-positive or inconsistent periods.
var ErrInvalidPeriod = errors.New("invalid indicator period")

func checkPeriod(name string, periods ...int) error {
	for _, p := range periods {
		if p <= 0 {
			return fmt.Errorf("%w: %s period %d", ErrInvalidPeriod, name, p)
		}
	}
	return nil
}
