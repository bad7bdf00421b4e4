package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
)

func candle(symbol string, start time.Time, close string) model.Candle {
	c := decimal.RequireFromString(close)
	return model.Candle{
		Symbol: symbol,
		Start:  start,
		End:    start.Add(time.Minute),
		Open:   c,
		High:   c.Add(decimal.NewFromInt(1)),
		Low:    c.Sub(decimal.NewFromInt(1)),
		Close:  c,
		Volume: decimal.RequireFromString("1.25"),
		Trades: 3,
	}
}

func TestWriterRunAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := New(WriterConfig{DBPath: path}, nil)
	require.NoError(t, err)
	defer w.Close()

	committed := make(chan int, 4)
	w.OnCommit = func(n int, err error) {
		assert.NoError(t, err)
		committed <- n
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := make(chan model.CandleMessage, 8)
	// Out of order on purpose; the reader sorts.
	in <- model.CandleMessage{Symbol: "BTC-USD", Candle: candle("BTC-USD", base.Add(2*time.Minute), "102.5")}
	in <- model.CandleMessage{Symbol: "BTC-USD", Candle: candle("BTC-USD", base, "100.123456789")}
	in <- model.CandleMessage{Symbol: "BTC-USD", Candle: candle("BTC-USD", base.Add(time.Minute), "101")}
	in <- model.CandleMessage{Symbol: "ETH-USD", Candle: candle("ETH-USD", base, "2000")}
	close(in)
	w.Run(context.Background(), in)
	assert.Equal(t, 4, <-committed)

	last, err := w.LastStart("BTC-USD", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Minute), last)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.FetchHistory(context.Background(), "BTC-USD", base, base.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base, got[0].Start)
	assert.True(t, got[0].Close.Equal(decimal.RequireFromString("100.123456789")), got[0].Close.String())
	assert.Equal(t, time.Minute, got[0].End.Sub(got[0].Start))
	assert.Equal(t, 3, got[1].Trades)
	assert.NoError(t, got[1].Validate())

	syms, err := r.Symbols(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, syms)

	none, err := r.FetchHistory(context.Background(), "BTC-USD", base, base.Add(time.Hour), 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWriter_UpsertReplacesSameBar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := New(WriterConfig{DBPath: path}, nil)
	require.NoError(t, err)
	defer w.Close()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, w.InsertBatch([]model.Candle{candle("X", base, "1")}))
	require.NoError(t, w.InsertBatch([]model.Candle{candle("X", base, "2")}))

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.FetchHistory(context.Background(), "X", base, base.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(2)))
}

func TestWriter_CommitsFullBatches(t *testing.T) {
	w, err := New(WriterConfig{DBPath: filepath.Join(t.TempDir(), "candles.db"), BatchSize: 2, FlushEvery: time.Hour}, nil)
	require.NoError(t, err)
	defer w.Close()

	var sizes []int
	w.OnCommit = func(n int, err error) {
		assert.NoError(t, err)
		sizes = append(sizes, n)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := make(chan model.CandleMessage, 5)
	for i := 0; i < 5; i++ {
		c := candle("BTC-USD", base.Add(time.Duration(i)*time.Minute), "100")
		in <- model.CandleMessage{Symbol: c.Symbol, Candle: c}
	}
	close(in)
	w.Run(context.Background(), in)

	assert.Equal(t, []int{2, 2, 1}, sizes, "remainder flushed when input ends")
}
