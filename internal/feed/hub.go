// Package feed streams live candles and signals to websocket clients.
//
// Every message is wrapped in an Envelope with a hub-wide sequence number.
// The hub keeps the last few envelopes per channel and replays them to new
// clients, so a dashboard has context right after connecting.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradecore/internal/model"
	"tradecore/internal/ringbuf"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Envelope is the frame sent to clients.
type Envelope struct {
	Channel string          `json:"channel"` // "<kind>:<symbol>"
	Seq     int64           `json:"seq"`
	TS      time.Time       `json:"ts"`
	Data    json.RawMessage `json:"data"`
}

// Hub fans messages out to connected clients. A client that cannot keep up
// misses messages; the hub never blocks the pipeline on a socket.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	history map[string]*ringbuf.Window[[]byte]
	order   []string // channels in first-seen order, for replay
	depth   int
	seq     int64

	upgrader websocket.Upgrader
	log      *zap.Logger
	now      func() time.Time

	// OnDrop is called when a slow client misses a message (optional).
	OnDrop func()
}

// NewHub creates a hub replaying up to depth envelopes per channel.
func NewHub(depth int, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		history: make(map[string]*ringbuf.Window[[]byte]),
		depth:   depth,
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(*http.Request) bool { return true },
			EnableCompression: true,
		},
		log: log.Named("feed"),
		now: time.Now,
	}
}

// Run implements model.CandleSink. Historical candles are not streamed.
func (h *Hub) Run(ctx context.Context, in <-chan model.CandleMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if msg.Historical {
				continue
			}
			if err := h.Broadcast("candle", msg.Symbol, msg.Candle); err != nil {
				h.log.Warn("broadcast candle", zap.Error(err))
			}
		}
	}
}

// RunSignals implements model.SignalSink. Historical signals are not streamed.
func (h *Hub) RunSignals(ctx context.Context, in <-chan model.SignalMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if msg.Historical {
				continue
			}
			if err := h.Broadcast("signal", msg.Symbol, msg); err != nil {
				h.log.Warn("broadcast signal", zap.Error(err))
			}
		}
	}
}

// Broadcast encodes v and sends it to every client watching symbol.
func (h *Hub) Broadcast(kind, symbol string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	channel := kind + ":" + symbol

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	frame, err := json.Marshal(Envelope{Channel: channel, Seq: h.seq, TS: h.now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if h.depth > 0 {
		w, ok := h.history[channel]
		if !ok {
			w = ringbuf.New[[]byte](h.depth)
			h.history[channel] = w
			h.order = append(h.order, channel)
		}
		w.Push(frame)
	}

	for c := range h.clients {
		if c.wants(symbol) {
			h.offer(c, frame)
		}
	}
	return nil
}

// offer queues frame without blocking. Caller holds h.mu.
func (h *Hub) offer(c *client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		if h.OnDrop != nil {
			h.OnDrop()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request. ?symbols=BTC-USD,ETH-USD limits the feed;
// no parameter means every symbol.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), symbols: parseSymbols(r.URL.Query().Get("symbols"))}

	// Replay and registration share the lock so no live frame slips between.
	h.mu.Lock()
	for _, channel := range h.order {
		_, symbol, _ := strings.Cut(channel, ":")
		if !c.wants(symbol) {
			continue
		}
		win := h.history[channel]
		for i := 0; i < win.Len(); i++ {
			h.offer(c, win.At(i))
		}
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Info("client connected", zap.String("remote", r.RemoteAddr), zap.Int("clients", total))
	go c.writePump()
	go h.readPump(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.log.Info("client disconnected", zap.Int("clients", len(h.clients)))
}

// readPump only services pongs and close frames; clients send nothing else.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func parseSymbols(s string) map[string]bool {
	if s == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out[p] = true
		}
	}
	return out
}
