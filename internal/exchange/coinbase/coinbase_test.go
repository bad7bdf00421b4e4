package coinbase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/execution"
	"tradecore/internal/model"
)

func TestCredentials_Signature(t *testing.T) {
	c := Credentials{Key: "k", Secret: "key"}
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	got := c.RequestSignature("The quick brown fox", " jumps", " over the lazy dog", "")
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", got)
	assert.Equal(t, got, c.SubscriptionSignature("The quick brown fox", " jumps", " over the lazy dog"))
	assert.NotContains(t, Credentials{Key: "abcdefgh", Secret: "secretsecret"}.String(), "secretsecret")
}

func TestTradeSource_StreamsSnapshotAndUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subs := make(chan subscribeMessage, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 2; i++ {
			var m subscribeMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			subs <- m
		}
		msgs := []string{
			`{"channel":"subscriptions","events":[{"subscriptions":{"market_trades":["BTC-USD"]}}]}`,
			`{"channel":"market_trades","events":[{"type":"snapshot","trades":[
				{"trade_id":"2","product_id":"BTC-USD","price":"101.5","size":"0.2","side":"SELL","time":"2024-01-01T00:00:02Z"},
				{"trade_id":"1","product_id":"BTC-USD","price":"100","size":"0.1","side":"BUY","time":"2024-01-01T00:00:01Z"}]}]}`,
			`{"channel":"heartbeats","events":[{"current_time":"x","heartbeat_counter":1}]}`,
			`{"channel":"market_trades","events":[{"type":"update","trades":[
				{"trade_id":"3","product_id":"BTC-USD","price":"bad","size":"1","side":"BUY","time":"2024-01-01T00:00:03Z"}]}]}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	src := NewTradeSource("ws"+strings.TrimPrefix(srv.URL, "http"), Credentials{Key: "key1", Secret: "s"}, nil)
	src.now = func() time.Time { return time.Unix(1700000000, 0) }

	out := make(chan model.TickBatch, 8)
	err := src.Stream(context.Background(), "BTC-USD", 7, out)
	require.Error(t, err)

	first, second := <-subs, <-subs
	assert.Equal(t, "heartbeats", first.Channel)
	assert.Equal(t, "market_trades", second.Channel)
	assert.Equal(t, []string{"BTC-USD"}, second.ProductIDs)
	assert.Equal(t, "1700000000", second.Timestamp)
	assert.Equal(t, Credentials{Secret: "s"}.SubscriptionSignature("1700000000", "market_trades", "BTC-USD"), second.Signature)

	require.Len(t, out, 2)
	snap := <-out
	assert.True(t, snap.Historical)
	assert.Equal(t, uint64(7), snap.Session)
	require.Len(t, snap.Ticks, 2)
	assert.Equal(t, model.SideSell, snap.Ticks[0].Side)
	assert.True(t, snap.Ticks[0].Price.Equal(decimal.RequireFromString("101.5")))
	assert.NoError(t, snap.Ticks[1].Validate())

	upd := <-out
	assert.False(t, upd.Historical)
	require.Len(t, upd.Ticks, 1)
	assert.ErrorIs(t, upd.Ticks[0].Validate(), model.ErrMalformedTick)
}

func TestTradeSource_StopsOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	src := NewTradeSource("ws"+strings.TrimPrefix(srv.URL, "http"), Credentials{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Stream(ctx, "ETH-USD", 1, make(chan model.TickBatch)) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after cancel")
	}
}

func TestClient_FetchHistory(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/brokerage/products/BTC-USD/candles", r.URL.Path)
		assert.Empty(t, r.Header.Get("CB-ACCESS-KEY"))
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"candles":[
			{"start":"1704067320","low":"99","high":"103","open":"100","close":"102","volume":"5"},
			{"start":"1704067260","low":"98","high":"101","open":"99","close":"100","volume":"3"},
			{"start":"1704067200","low":"97","high":"99","open":"98","close":"bad","volume":"1"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{}, nil)
	start := time.Unix(1704067200, 0)
	candles, err := c.FetchHistory(context.Background(), "BTC-USD", start, start.Add(3*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Contains(t, query, "granularity=ONE_MINUTE")
	assert.Contains(t, query, "start=1704067200")

	require.Len(t, candles, 2)
	assert.Equal(t, int64(1704067260), candles[0].Start.Unix())
	assert.Equal(t, int64(1704067320), candles[1].Start.Unix())
	assert.Equal(t, time.Minute, candles[1].End.Sub(candles[1].Start))
	assert.True(t, candles[1].High.Equal(decimal.NewFromInt(103)))

	_, err = c.FetchHistory(context.Background(), "BTC-USD", start, start.Add(time.Hour), 7*time.Minute)
	assert.Error(t, err)
}

func TestOrderSink_SubmitAndPoll(t *testing.T) {
	var polls int32
	var created createOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key1", r.Header.Get("CB-ACCESS-KEY"))
		assert.NotEmpty(t, r.Header.Get("CB-ACCESS-SIGN"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v3/brokerage/orders":
			_ = json.NewDecoder(r.Body).Decode(&created)
			_, _ = w.Write([]byte(`{"success":true,"success_response":{"order_id":"ord-1"}}`))
		case r.URL.Path == "/api/v3/brokerage/orders/historical/ord-1":
			if atomic.AddInt32(&polls, 1) == 1 {
				_, _ = w.Write([]byte(`{"order":{"order_id":"ord-1","status":"OPEN"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"order":{"order_id":"ord-1","status":"FILLED","average_filled_price":"100.5","filled_size":"0.99","total_fees":"0.597","last_fill_time":"2024-01-01T00:00:00Z"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sink := NewOrderSink(NewClient(srv.URL, Credentials{Key: "key1", Secret: "s"}, nil))
	sink.PollInterval = time.Millisecond
	fill, err := sink.Submit(context.Background(), model.OrderRequest{
		ClientOrderID: "c-1", Symbol: "BTC-USD", Side: model.SideBuy,
		QuoteSize: decimal.NewFromInt(100), RefPrice: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, "100", created.OrderConfiguration.MarketIOC.QuoteSize)
	assert.Empty(t, created.OrderConfiguration.MarketIOC.BaseSize)
	assert.Equal(t, "c-1", created.ClientOrderID)
	assert.Equal(t, "ord-1", fill.OrderID)
	assert.True(t, fill.Price.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, fill.Size.Equal(decimal.RequireFromString("0.99")))
	assert.True(t, fill.Fee.Equal(decimal.RequireFromString("0.597")), fill.Fee.String())
	assert.EqualValues(t, 2, atomic.LoadInt32(&polls))
}

func TestOrderSink_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"success":true,"success_response":{"order_id":"ord-2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"order":{"order_id":"ord-2","status":"CANCELLED","filled_size":"0"}}`))
	}))
	defer srv.Close()

	sink := NewOrderSink(NewClient(srv.URL, Credentials{Key: "k", Secret: "s"}, nil))
	_, err := sink.Submit(context.Background(), model.OrderRequest{Symbol: "BTC-USD", Side: model.SideSell, BaseSize: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, execution.ErrNoFill)

	_, err = NewOrderSink(NewClient(srv.URL, Credentials{}, nil)).Submit(context.Background(), model.OrderRequest{Side: model.SideBuy})
	assert.Error(t, err)

	rejected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer rejected.Close()
	_, err = NewOrderSink(NewClient(rejected.URL, Credentials{Key: "k", Secret: "s"}, nil)).Submit(context.Background(), model.OrderRequest{Side: model.SideBuy, QuoteSize: decimal.NewFromInt(1)})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
