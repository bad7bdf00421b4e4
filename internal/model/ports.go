package model

import (
	"context"
	"time"
)

// ── Collaborator ports ──
// The pipeline only talks to exchanges and storage through these.

// MarketDataSource streams decoded trade batches for one symbol.
// Stream blocks for the life of one connection, sending every batch tagged with
// session, and returns when the connection ends or ctx is cancelled. Sends on
// out must also select on ctx.
type MarketDataSource interface {
	Stream(ctx context.Context, symbol string, session uint64, out chan<- TickBatch) error
}

// HistorySource returns completed candles in [start, end), oldest first.
type HistorySource interface {
	FetchHistory(ctx context.Context, symbol string, start, end time.Time, granularity time.Duration) ([]Candle, error)
}

// OrderSink executes orders. A nil error always comes with a fill.
type OrderSink interface {
	Submit(ctx context.Context, req OrderRequest) (Fill, error)
}

// CandleSink consumes completed candles (archives, publishers).
type CandleSink interface {
	Run(ctx context.Context, in <-chan CandleMessage)
}

// SignalSink consumes signal messages.
type SignalSink interface {
	RunSignals(ctx context.Context, in <-chan SignalMessage)
}
