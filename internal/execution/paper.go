package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/model"
)

// ErrNoFill is returned by a sink that accepted an order but could not fill it.
var ErrNoFill = errors.New("order not filled")

var bpsDenominator = decimal.NewFromInt(10000)

// PaperSink simulates order execution without real exchange calls.
// Useful for backtesting and paper trading.
type PaperSink struct {
	mu       sync.Mutex
	fills    []model.Fill
	orderSeq int64

	// slippage in basis points (e.g., 5 = 0.05%), against the taker
	slippageBps decimal.Decimal

	// taker fee in basis points of the fill notional
	feeBps decimal.Decimal

	// Now stamps fills. Backtests point it at the replay clock.
	Now func() time.Time

	log *zap.Logger
}

// NewPaperSink creates a paper trading sink.
func NewPaperSink(slippageBps, feeBps int64, log *zap.Logger) *PaperSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaperSink{
		fills:       make([]model.Fill, 0, 64),
		slippageBps: decimal.NewFromInt(slippageBps),
		feeBps:      decimal.NewFromInt(feeBps),
		Now:         time.Now,
		log:         log.Named("paper"),
	}
}

// Fills returns a snapshot of all fills.
func (p *PaperSink) Fills() []model.Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]model.Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Submit fills req at its reference price moved by the configured slippage
// and charges the taker fee on the notional. Buys are sized from QuoteSize,
// sells from BaseSize.
func (p *PaperSink) Submit(ctx context.Context, req model.OrderRequest) (model.Fill, error) {
	if err := ctx.Err(); err != nil {
		return model.Fill{}, err
	}
	if !req.RefPrice.IsPositive() {
		return model.Fill{}, fmt.Errorf("%w: no reference price for %s", ErrNoFill, req.Symbol)
	}

	slip := req.RefPrice.Mul(p.slippageBps).Div(bpsDenominator)
	price := req.RefPrice
	var size decimal.Decimal
	switch req.Side {
	case model.SideBuy:
		price = price.Add(slip)
		size = req.QuoteSize.DivRound(price, 8)
	case model.SideSell:
		price = price.Sub(slip)
		size = req.BaseSize
	default:
		return model.Fill{}, fmt.Errorf("paper: unknown side %q", req.Side)
	}
	if !size.IsPositive() {
		return model.Fill{}, fmt.Errorf("%w: non-positive size for %s", ErrNoFill, req.Symbol)
	}

	p.mu.Lock()
	p.orderSeq++
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	fill := model.Fill{
		OrderID:       fmt.Sprintf("PAPER-%d", p.orderSeq),
		ClientOrderID: clientID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         price,
		Size:          size,
		Time:          p.Now().UTC(),
	}
	fill.Fee = fill.Notional().Mul(p.feeBps).Div(bpsDenominator)
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	p.log.Info("filled",
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.String("price", fill.Price.String()),
		zap.String("size", fill.Size.String()),
		zap.String("slippage", slip.String()),
		zap.String("fee", fill.Fee.String()),
		zap.String("order_id", fill.OrderID),
		zap.String("reason", req.Reason))
	return fill, nil
}
