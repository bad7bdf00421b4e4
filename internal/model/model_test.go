package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTickValidate(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	good := Tick{Symbol: "XRP-USD", Price: d("0.51"), Size: d("10"), Side: SideBuy, Time: ts}
	require.NoError(t, good.Validate())

	cases := map[string]func(*Tick){
		"empty symbol":  func(tk *Tick) { tk.Symbol = "" },
		"zero price":    func(tk *Tick) { tk.Price = decimal.Zero },
		"negative size": func(tk *Tick) { tk.Size = d("-1") },
		"bad side":      func(tk *Tick) { tk.Side = "HOLD" },
		"zero time":     func(tk *Tick) { tk.Time = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tk := good
			mutate(&tk)
			assert.ErrorIs(t, tk.Validate(), ErrMalformedTick)
		})
	}
}

func TestCandleValidate(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	c := Candle{Symbol: "BTC-USD", Start: start, End: start.Add(time.Minute),
		Open: d("10"), High: d("12"), Low: d("9"), Close: d("11"), Volume: d("3")}
	require.NoError(t, c.Validate())

	bad := c
	bad.Low = d("10.5")
	assert.ErrorIs(t, bad.Validate(), ErrMalformedCandle)

	bad = c
	bad.High = d("10.9")
	assert.ErrorIs(t, bad.Validate(), ErrMalformedCandle)

	bad = c
	bad.End = start
	assert.ErrorIs(t, bad.Validate(), ErrMalformedCandle)
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide("sell")
	require.NoError(t, err)
	assert.Equal(t, SideSell, s)

	_, err = ParseSide("short")
	assert.Error(t, err)
}

func TestSignalJSON(t *testing.T) {
	msg := SignalMessage{Symbol: "ETH-USD", Signal: Sell}
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"signal":"SELL"`)

	var back SignalMessage
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Sell, back.Signal)
}

func TestPositionUnrealizedPnL(t *testing.T) {
	p := Position{Active: true, Entry: d("100"), Size: d("2")}
	assert.True(t, d("10").Equal(p.UnrealizedPnL(d("105"))))
	assert.True(t, decimal.Zero.Equal(Position{}.UnrealizedPnL(d("105"))))
}
