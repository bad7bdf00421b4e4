package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is an OHLCV bar covering [Start, End).
type Candle struct {
	Symbol string          `json:"symbol"`
	Start  time.Time       `json:"start"`
	End    time.Time       `json:"end"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	Trades int             `json:"trades"`
}

// ErrMalformedCandle is wrapped by Candle.Validate failures.
var ErrMalformedCandle = errors.New("malformed candle")

// Validate checks the OHLC envelope, volume sign and window.
func (c Candle) Validate() error {
	if !c.End.After(c.Start) {
		return fmt.Errorf("%w: end %s not after start %s", ErrMalformedCandle, c.End, c.Start)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("%w: negative volume %s", ErrMalformedCandle, c.Volume)
	}
	if c.Low.GreaterThan(decimal.Min(c.Open, c.Close)) {
		return fmt.Errorf("%w: low %s above body", ErrMalformedCandle, c.Low)
	}
	if c.High.LessThan(decimal.Max(c.Open, c.Close)) {
		return fmt.Errorf("%w: high %s below body", ErrMalformedCandle, c.High)
	}
	return nil
}

// Key returns "symbol@start-unix".
func (c Candle) Key() string {
	return fmt.Sprintf("%s@%d", c.Symbol, c.Start.Unix())
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// CandleMessage is what the aggregator hands to downstream stages.
type CandleMessage struct {
	Symbol     string `json:"symbol"`
	Candle     Candle `json:"candle"`
	Historical bool   `json:"historical"`
}
