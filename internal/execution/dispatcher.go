// Package execution turns signals into orders.
//
// A Dispatcher is the trade stage of one symbol. It owns that symbol's
// position tracker, consumes signal messages and live price updates in
// arrival order and calls the OrderSink on entry, strategy exit and stop
// exit. Submission is never retried here; a failed order leaves the position
// untouched.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/logger"
	"tradecore/internal/model"
	"tradecore/internal/notification"
	"tradecore/internal/portfolio"
	"tradecore/internal/position"
)

var ErrInvalidConfig = errors.New("invalid execution config")

// submitTimeout bounds one order submission. Shutdown does not cut it short:
// an order already on its way to the exchange is waited for so its fill is
// recorded.
const submitTimeout = 30 * time.Second

// Order reasons attached to requests and journal rows.
const (
	ReasonEntry    = "signal_buy"
	ReasonExit     = "signal_sell"
	ReasonStopExit = "trailing_stop"
)

// Config sizes entries and configures the trailing stop.
type Config struct {
	// QuoteSize is the quote-currency amount spent on each entry.
	QuoteSize float64         `yaml:"quote_size"`
	Position  position.Config `yaml:"position"`
}

// DefaultConfig spends 100 quote units per entry with the default stop.
func DefaultConfig() Config {
	return Config{QuoteSize: 100, Position: position.DefaultConfig()}
}

func (c Config) Validate() error {
	if c.QuoteSize <= 0 {
		return fmt.Errorf("%w: quote_size %v must be positive", ErrInvalidConfig, c.QuoteSize)
	}
	return c.Position.Validate()
}

// Options are the optional collaborators of a Dispatcher.
type Options struct {
	Notifier notification.Notifier
	PnL      *portfolio.PnLTracker
	Journal  *Journal
	Log      *zap.Logger
}

// Dispatcher is owned by a single goroutine.
type Dispatcher struct {
	symbol    string
	quoteSize decimal.Decimal
	tracker   *position.Tracker
	sink      model.OrderSink
	notifier  notification.Notifier
	pnl       *portfolio.PnLTracker
	journal   *Journal
	log       *zap.Logger

	atr float64

	// exitPending is set once a stop exit has been submitted for the current
	// breach. It is cleared by the next live bar, a new high or a fill.
	exitPending bool

	// Metric hooks. Result is "filled" or "failed".
	OnOrder    func(symbol string, side model.Side, result string)
	OnStopExit func(symbol string)
}

// NewDispatcher validates cfg and builds an Inactive dispatcher for symbol.
func NewDispatcher(symbol string, cfg Config, sink model.OrderSink, opts Options) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil order sink", ErrInvalidConfig)
	}
	tr, err := position.NewTracker(symbol, cfg.Position)
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		symbol:    symbol,
		quoteSize: decimal.NewFromFloat(cfg.QuoteSize),
		tracker:   tr,
		sink:      sink,
		notifier:  opts.Notifier,
		pnl:       opts.PnL,
		journal:   opts.Journal,
		log:       log.Named("dispatch").With(zap.String("symbol", symbol)),
	}, nil
}

// Position returns the current tracker state.
func (d *Dispatcher) Position() model.Position { return d.tracker.Snapshot() }

// Run consumes signals and prices until ctx is cancelled or signals closes.
// A nil or closed prices channel only disables live stop evaluation.
func (d *Dispatcher) Run(ctx context.Context, signals <-chan model.SignalMessage, prices <-chan model.PriceUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-signals:
			if !ok {
				d.log.Info("signal input closed")
				return
			}
			d.HandleSignal(ctx, msg)
		case p, ok := <-prices:
			if !ok {
				prices = nil
				continue
			}
			d.HandlePrice(ctx, p)
		}
	}
}

// HandleSignal records the bar's ATR, checks the stop against the bar and
// acts on Buy and Sell transitions. Historical messages only update ATR.
func (d *Dispatcher) HandleSignal(ctx context.Context, msg model.SignalMessage) {
	if msg.ATRReady {
		d.atr = msg.ATR
	}
	if msg.Historical {
		return
	}
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(d.symbol, msg.BarStart))
	d.exitPending = false

	if d.tracker.Active() && d.tracker.Observe(msg.Close, msg.High, d.atr) {
		d.stopExit(ctx, msg.Close)
		return
	}

	switch msg.Signal {
	case model.Buy:
		if d.tracker.Active() {
			return
		}
		d.submit(ctx, model.OrderRequest{
			Side:      model.SideBuy,
			QuoteSize: d.quoteSize,
			RefPrice:  msg.Close,
			Reason:    ReasonEntry,
		})
	case model.Sell:
		if !d.tracker.Active() {
			return
		}
		if !d.tracker.AllowSell(msg.Close) {
			d.log.Debug("sell below profit target", zap.String("close", msg.Close.String()))
			return
		}
		d.submit(ctx, model.OrderRequest{
			Side:     model.SideSell,
			BaseSize: d.tracker.Snapshot().Size,
			RefPrice: msg.Close,
			Reason:   ReasonExit,
		})
	}
}

// HandlePrice evaluates the trailing stop against a live trade price.
func (d *Dispatcher) HandlePrice(ctx context.Context, p model.PriceUpdate) {
	if !d.tracker.Active() {
		return
	}
	high := d.tracker.Snapshot().HighSince
	hit := d.tracker.Observe(p.Price, p.Price, d.atr)
	if d.tracker.Snapshot().HighSince.GreaterThan(high) {
		d.exitPending = false
	}
	if hit {
		ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(d.symbol, p.Time))
		d.stopExit(ctx, p.Price)
	}
}

func (d *Dispatcher) stopExit(ctx context.Context, price decimal.Decimal) {
	if d.exitPending {
		return
	}
	d.exitPending = true
	pos := d.tracker.Snapshot()
	d.log.Warn("trailing stop hit", logger.Field(ctx),
		zap.String("price", price.String()),
		zap.String("stop", pos.Stop.String()))
	if d.OnStopExit != nil {
		d.OnStopExit(d.symbol)
	}
	d.submit(ctx, model.OrderRequest{
		Side:     model.SideSell,
		BaseSize: pos.Size,
		RefPrice: price,
		Reason:   ReasonStopExit,
	})
}

func (d *Dispatcher) submit(ctx context.Context, req model.OrderRequest) {
	req.Symbol = d.symbol
	req.ClientOrderID = uuid.NewString()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
	defer cancel()
	fill, err := d.sink.Submit(sctx, req)
	if err != nil {
		d.log.Error("order failed", logger.Field(ctx),
			zap.String("side", string(req.Side)),
			zap.String("reason", req.Reason),
			zap.String("client_order_id", req.ClientOrderID),
			zap.Error(err))
		d.countOrder(req.Side, "failed")
		return
	}
	d.countOrder(req.Side, "filled")

	realized := decimal.Zero
	switch req.Side {
	case model.SideBuy:
		if err := d.tracker.OnBuyFill(fill, d.atr); err != nil {
			d.log.Error("buy fill rejected by tracker", zap.Error(err))
			return
		}
	case model.SideSell:
		realized, err = d.tracker.OnSellFill(fill)
		if err != nil {
			d.log.Error("sell fill rejected by tracker", zap.Error(err))
			return
		}
		d.exitPending = false
	}

	d.log.Info("order filled", logger.Field(ctx),
		zap.String("side", string(fill.Side)),
		zap.String("price", fill.Price.String()),
		zap.String("size", fill.Size.String()),
		zap.String("reason", req.Reason),
		zap.String("order_id", fill.OrderID))

	if d.pnl != nil {
		d.pnl.RecordFill(fill)
	}
	if d.journal != nil {
		if err := d.journal.RecordFill(fill, req.Reason, realized); err != nil {
			d.log.Error("journal write failed", zap.Error(err))
		}
	}
	d.announce(ctx, fill, req.Reason, realized)
}

func (d *Dispatcher) countOrder(side model.Side, result string) {
	if d.OnOrder != nil {
		d.OnOrder(d.symbol, side, result)
	}
}

// announce delivers the fill alert off the trade path.
func (d *Dispatcher) announce(ctx context.Context, fill model.Fill, reason string, realized decimal.Decimal) {
	if d.notifier == nil {
		return
	}
	alert := FillAlert(fill, reason, realized)
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := d.notifier.Send(nctx, alert); err != nil && !errors.Is(err, notification.ErrThrottled) {
			d.log.Warn("alert delivery failed", zap.Error(err))
		}
	}()
}

// FillAlert formats a fill for the notifiers. Stop exits are warnings.
func FillAlert(fill model.Fill, reason string, realized decimal.Decimal) notification.Alert {
	level := notification.AlertInfo
	if reason == ReasonStopExit {
		level = notification.AlertWarning
	}
	msg := fmt.Sprintf("%s %s %s @ %s (%s)", fill.Side, fill.Size, fill.Symbol, fill.Price, reason)
	if fill.Fee.IsPositive() {
		msg += fmt.Sprintf(" fee %s", fill.Fee.StringFixed(2))
	}
	if fill.Side == model.SideSell {
		msg += fmt.Sprintf(" realized %s", realized.StringFixed(2))
	}
	return notification.Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s %s filled", fill.Symbol, fill.Side),
		Message: msg,
		Symbol:  fill.Symbol,
	}
}
