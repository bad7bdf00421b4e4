package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/model"
)

const channelMarketTrades = "market_trades"

// TradeSource streams market_trades events for one product per connection.
type TradeSource struct {
	url   string
	creds Credentials
	log   *zap.Logger
	now   func() time.Time

	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// NewTradeSource creates a source for wsURL (DefaultWSURL when empty).
func NewTradeSource(wsURL string, creds Credentials, log *zap.Logger) *TradeSource {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TradeSource{
		url:          wsURL,
		creds:        creds,
		log:          log.Named("coinbase.ws"),
		now:          time.Now,
		PingInterval: 15 * time.Second,
		ReadTimeout:  90 * time.Second,
	}
}

type subscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
	APIKey     string   `json:"api_key,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
	Signature  string   `json:"signature,omitempty"`
}

type envelope struct {
	Channel string `json:"channel"`
	Events  []struct {
		Type   string      `json:"type"`
		Trades []wireTrade `json:"trades"`
	} `json:"events"`
}

type wireTrade struct {
	TradeID   string    `json:"trade_id"`
	ProductID string    `json:"product_id"`
	Price     string    `json:"price"`
	Size      string    `json:"size"`
	Side      string    `json:"side"`
	Time      time.Time `json:"time"`
}

func (s *TradeSource) subscription(channel, product string) subscribeMessage {
	msg := subscribeMessage{Type: "subscribe", ProductIDs: []string{product}, Channel: channel}
	if !s.creds.Empty() {
		ts := timestamp(s.now())
		msg.APIKey = s.creds.Key
		msg.Timestamp = ts
		msg.Signature = s.creds.SubscriptionSignature(ts, channel, product)
	}
	return msg
}

// Stream implements model.MarketDataSource. Snapshot events become historical
// batches, update events live ones.
func (s *TradeSource) Stream(ctx context.Context, symbol string, session uint64, out chan<- model.TickBatch) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("coinbase: dial: %w", err)
	}
	defer conn.Close()

	for _, ch := range []string{"heartbeats", channelMarketTrades} {
		if err := conn.WriteJSON(s.subscription(ch, symbol)); err != nil {
			return fmt.Errorf("coinbase: subscribe %s: %w", ch, err)
		}
	}
	s.log.Info("subscribed", zap.String("symbol", symbol), zap.Uint64("session", session))

	conn.SetReadLimit(8 << 20)
	conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		return nil
	})

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(s.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-cctx.Done():
				// Unblocks ReadMessage on shutdown.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
				conn.Close()
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("coinbase: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))

		batches, err := s.decode(raw, symbol, session)
		if err != nil {
			s.log.Warn("undecodable message", zap.Error(err))
			continue
		}
		for _, b := range batches {
			select {
			case out <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// decode turns one websocket frame into zero or more batches. Trades whose
// numbers do not parse are kept with zero values so the aggregator counts
// them as malformed.
func (s *TradeSource) decode(raw []byte, symbol string, session uint64) ([]model.TickBatch, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Channel != channelMarketTrades {
		return nil, nil
	}
	var batches []model.TickBatch
	for _, ev := range env.Events {
		if len(ev.Trades) == 0 {
			continue
		}
		batch := model.TickBatch{
			Symbol:     symbol,
			Session:    session,
			Historical: ev.Type == "snapshot",
			Ticks:      make([]model.Tick, 0, len(ev.Trades)),
		}
		for _, tr := range ev.Trades {
			batch.Ticks = append(batch.Ticks, tr.tick())
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func (w wireTrade) tick() model.Tick {
	price, _ := decimal.NewFromString(w.Price)
	size, err := decimal.NewFromString(w.Size)
	if err != nil {
		size = decimal.NewFromInt(-1)
	}
	side, _ := model.ParseSide(w.Side)
	return model.Tick{
		Symbol:  w.ProductID,
		TradeID: w.TradeID,
		Price:   price,
		Size:    size,
		Side:    side,
		Time:    w.Time.UTC(),
	}
}
