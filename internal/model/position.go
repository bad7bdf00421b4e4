package model

import "github.com/shopspring/decimal"

// Position is a point-in-time view of a symbol's trailing-stop state.
type Position struct {
	Symbol    string          `json:"symbol"`
	Active    bool            `json:"active"`
	Entry     decimal.Decimal `json:"entry"`
	Size      decimal.Decimal `json:"size"`
	HighSince decimal.Decimal `json:"high_since"`
	Stop      decimal.Decimal `json:"stop"`
	EntryFee  decimal.Decimal `json:"entry_fee"`
}

// UnrealizedPnL at the given price.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if !p.Active {
		return decimal.Zero
	}
	return price.Sub(p.Entry).Mul(p.Size)
}
