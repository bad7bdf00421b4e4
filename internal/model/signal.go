package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Signal is the per-bar trading decision.
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signal) UnmarshalText(b []byte) error {
	switch string(b) {
	case "BUY":
		*s = Buy
	case "SELL":
		*s = Sell
	case "HOLD":
		*s = Hold
	default:
		return fmt.Errorf("unknown signal %q", b)
	}
	return nil
}

// Reading is a named indicator value at the time of a signal.
type Reading struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
}

// SignalMessage is produced by the signal stage for every completed bar.
type SignalMessage struct {
	Symbol     string          `json:"symbol"`
	Signal     Signal          `json:"signal"`
	BarStart   time.Time       `json:"bar_start"`
	Close      decimal.Decimal `json:"close"`
	High       decimal.Decimal `json:"high"` // reference high for trailing stops
	ATR        float64         `json:"atr"`
	ATRReady   bool            `json:"atr_ready"`
	Historical bool            `json:"historical"`
	Indicators []Reading       `json:"indicators,omitempty"`
}
