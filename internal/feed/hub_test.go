package feed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func candle(symbol string, start time.Time, close string) model.Candle {
	px := decimal.RequireFromString(close)
	return model.Candle{Symbol: symbol, Start: start, End: start.Add(time.Minute), Open: px, High: px, Low: px, Close: px}
}

func TestHub_BroadcastFiltersBySymbol(t *testing.T) {
	hub := NewHub(0, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	btc := dial(t, srv, "?symbols=BTC-USD")
	all := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Broadcast("candle", "ETH-USD", candle("ETH-USD", time.Unix(0, 0).UTC(), "10")))
	require.NoError(t, hub.Broadcast("candle", "BTC-USD", candle("BTC-USD", time.Unix(0, 0).UTC(), "20")))

	env := readEnvelope(t, btc)
	assert.Equal(t, "candle:BTC-USD", env.Channel)
	assert.Equal(t, int64(2), env.Seq)
	var c model.Candle
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.True(t, c.Close.Equal(decimal.NewFromInt(20)))

	assert.Equal(t, "candle:ETH-USD", readEnvelope(t, all).Channel)
	assert.Equal(t, "candle:BTC-USD", readEnvelope(t, all).Channel)
}

func TestHub_ReplaysHistoryToNewClients(t *testing.T) {
	hub := NewHub(2, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Broadcast("candle", "SOL-USD", candle("SOL-USD", t0.Add(time.Duration(i)*time.Minute), "1")))
	}

	conn := dial(t, srv, "")
	assert.Equal(t, int64(2), readEnvelope(t, conn).Seq, "oldest kept envelope first")
	assert.Equal(t, int64(3), readEnvelope(t, conn).Seq)
}

func TestHub_RunSkipsHistoricalMessages(t *testing.T) {
	hub := NewHub(10, nil)
	candles := make(chan model.CandleMessage, 2)
	signals := make(chan model.SignalMessage, 2)
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	candles <- model.CandleMessage{Symbol: "BTC-USD", Candle: candle("BTC-USD", t0, "1"), Historical: true}
	candles <- model.CandleMessage{Symbol: "BTC-USD", Candle: candle("BTC-USD", t0.Add(time.Minute), "2")}
	close(candles)
	signals <- model.SignalMessage{Symbol: "BTC-USD", Signal: model.Buy, Historical: true}
	signals <- model.SignalMessage{Symbol: "BTC-USD", Signal: model.Sell}
	close(signals)

	hub.Run(context.Background(), candles)
	hub.RunSignals(context.Background(), signals)

	assert.Equal(t, 1, hub.history["candle:BTC-USD"].Len())
	require.Equal(t, 1, hub.history["signal:BTC-USD"].Len())
	var sig model.SignalMessage
	var env Envelope
	require.NoError(t, json.Unmarshal(hub.history["signal:BTC-USD"].At(0), &env))
	require.NoError(t, json.Unmarshal(env.Data, &sig))
	assert.Equal(t, model.Sell, sig.Signal)
}

func TestHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(0, nil)
	drops := 0
	hub.OnDrop = func() { drops++ }

	c := &client{send: make(chan []byte, 1)}
	hub.clients[c] = struct{}{}

	require.NoError(t, hub.Broadcast("candle", "BTC-USD", 1))
	require.NoError(t, hub.Broadcast("candle", "BTC-USD", 2))
	assert.Equal(t, 1, drops)
	assert.Len(t, c.send, 1)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub(0, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, hub.Clients())
}
