package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the aggressor side of a trade or the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Tick is a single decoded exchange trade.
type Tick struct {
	Symbol  string          `json:"symbol"`
	TradeID string          `json:"trade_id,omitempty"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Side    Side            `json:"side"`
	Time    time.Time       `json:"time"` // UTC
}

// ErrMalformedTick is wrapped by Tick.Validate failures.
var ErrMalformedTick = errors.New("malformed tick")

// Validate reports whether the tick can be aggregated.
func (t Tick) Validate() error {
	switch {
	case t.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrMalformedTick)
	case !t.Price.IsPositive():
		return fmt.Errorf("%w: price %s", ErrMalformedTick, t.Price)
	case t.Size.IsNegative():
		return fmt.Errorf("%w: size %s", ErrMalformedTick, t.Size)
	case t.Side != SideBuy && t.Side != SideSell:
		return fmt.Errorf("%w: side %q", ErrMalformedTick, t.Side)
	case t.Time.IsZero():
		return fmt.Errorf("%w: zero time", ErrMalformedTick)
	}
	return nil
}

// TickBatch is the unit produced by a market data source.
// Session changes on every (re)connect; Historical marks snapshot/backfill batches.
type TickBatch struct {
	Symbol     string `json:"symbol"`
	Session    uint64 `json:"session"`
	Historical bool   `json:"historical"`
	Ticks      []Tick `json:"ticks"`
}

// PriceUpdate carries the latest trade price for a symbol.
type PriceUpdate struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}
