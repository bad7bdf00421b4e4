package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is the sizing hint handed to an OrderSink.
// Buys are sized in quote currency, sells in base currency.
type OrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	QuoteSize     decimal.Decimal `json:"quote_size"`
	BaseSize      decimal.Decimal `json:"base_size"`
	RefPrice      decimal.Decimal `json:"ref_price"`
	Reason        string          `json:"reason"`
}

// Fill is a confirmed execution. Fee is the commission charged for it, in
// the quote currency.
type Fill struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	Fee           decimal.Decimal `json:"fee"`
	Time          time.Time       `json:"time"`
}

// Notional returns price * size.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Size)
}
