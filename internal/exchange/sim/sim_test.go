package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
)

func TestStream_ValidTicksAndDrop(t *testing.T) {
	src := New(Config{Seed: 7, Interval: time.Millisecond, DropAfter: 5})
	out := make(chan model.TickBatch, 10)

	err := src.Stream(context.Background(), "SIM-USD", 2, out)
	require.Error(t, err)
	require.Len(t, out, 5)

	for i := 0; i < 5; i++ {
		b := <-out
		assert.Equal(t, uint64(2), b.Session)
		assert.NotEmpty(t, b.Ticks)
		for _, tk := range b.Ticks {
			assert.NoError(t, tk.Validate())
		}
	}
}

func TestStream_SameSeedSamePrices(t *testing.T) {
	a, b := New(Config{Seed: 42}), New(Config{Seed: 42})
	at := time.Unix(1700000000, 0)
	for i := 0; i < 20; i++ {
		ba, bb := a.nextBatch("X", 1, at), b.nextBatch("X", 1, at)
		require.Equal(t, len(ba.Ticks), len(bb.Ticks))
		for j := range ba.Ticks {
			assert.True(t, ba.Ticks[j].Price.Equal(bb.Ticks[j].Price))
		}
	}
}

func TestFetchHistory_AlignedValidCandles(t *testing.T) {
	src := New(Config{Seed: 1})
	start := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	candles, err := src.FetchHistory(context.Background(), "SIM-USD", start, start.Add(10*time.Minute), time.Minute)
	require.NoError(t, err)
	require.Len(t, candles, 10)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), candles[0].Start)
	for i, c := range candles {
		assert.NoError(t, c.Validate())
		if i > 0 {
			assert.Equal(t, candles[i-1].End, c.Start)
		}
	}
}

func TestStream_Cancel(t *testing.T) {
	src := New(Config{Seed: 3, Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, src.Stream(ctx, "SIM-USD", 1, make(chan model.TickBatch)), context.Canceled)
}
