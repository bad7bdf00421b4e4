// Package portfolio keeps the realized P&L ledger of executed fills.
package portfolio

import (
	"sync"

	"github.com/shopspring/decimal"

	"tradecore/internal/model"
)

// PnLTracker tracks realized and unrealized P&L across symbols.
// Shared between per-symbol trade stages, so every method takes the lock;
// critical sections are pure in-memory updates.
type PnLTracker struct {
	mu     sync.RWMutex
	trades []model.Fill

	realizedPnL decimal.Decimal
	fees        decimal.Decimal
	costBasis   map[string]costEntry
}

type costEntry struct {
	Qty      decimal.Decimal
	AvgPrice decimal.Decimal
}

// NewPnLTracker creates a new P&L tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		trades:    make([]model.Fill, 0, 128),
		costBasis: make(map[string]costEntry),
	}
}

// RecordFill records a fill and returns the P&L it realized (zero for buys).
// Buy fees are folded into the cost basis and sell fees are deducted from
// the realized amount, so realized P&L is net of commission.
func (p *PnLTracker) RecordFill(fill model.Fill) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trades = append(p.trades, fill)
	entry := p.costBasis[fill.Symbol]

	p.fees = p.fees.Add(fill.Fee)
	realized := decimal.Zero
	if fill.Side == model.SideBuy {
		// Weighted average price, fees included
		totalCost := entry.AvgPrice.Mul(entry.Qty).Add(fill.Notional()).Add(fill.Fee)
		entry.Qty = entry.Qty.Add(fill.Size)
		if entry.Qty.IsPositive() {
			entry.AvgPrice = totalCost.Div(entry.Qty)
		}
	} else {
		sellQty := decimal.Min(fill.Size, entry.Qty)
		realized = fill.Price.Sub(entry.AvgPrice).Mul(sellQty).Sub(fill.Fee)
		entry.Qty = entry.Qty.Sub(sellQty)
		if !entry.Qty.IsPositive() {
			entry = costEntry{}
		}
		p.realizedPnL = p.realizedPnL.Add(realized)
	}
	p.costBasis[fill.Symbol] = entry
	return realized
}

// RealizedPnL returns total realized P&L.
func (p *PnLTracker) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// Fees returns the total commission paid.
func (p *PnLTracker) Fees() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fees
}

// Trades returns a snapshot of all fills.
func (p *PnLTracker) Trades() []model.Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.Fill, len(p.trades))
	copy(cp, p.trades)
	return cp
}

// PnLSummary is a point-in-time P&L report.
type PnLSummary struct {
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	Fees          decimal.Decimal `json:"fees"`
	TotalTrades   int             `json:"total_trades"`
	OpenPositions int             `json:"open_positions"`
}

// Summary values open positions at currentPrices (symbol -> price).
func (p *PnLTracker) Summary(currentPrices map[string]decimal.Decimal) PnLSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	unrealized := decimal.Zero
	open := 0
	for sym, entry := range p.costBasis {
		if !entry.Qty.IsPositive() {
			continue
		}
		open++
		if price, ok := currentPrices[sym]; ok {
			unrealized = unrealized.Add(price.Sub(entry.AvgPrice).Mul(entry.Qty))
		}
	}
	return PnLSummary{
		RealizedPnL:   p.realizedPnL,
		UnrealizedPnL: unrealized,
		TotalPnL:      p.realizedPnL.Add(unrealized),
		Fees:          p.fees,
		TotalTrades:   len(p.trades),
		OpenPositions: open,
	}
}
