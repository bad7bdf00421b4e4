package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTracker(t *testing.T, cfg Config) *Tracker {
	t.Helper()
	tr, err := NewTracker("SOL-USD", cfg)
	require.NoError(t, err)
	return tr
}

func buy(price, size string) model.Fill {
	return model.Fill{Symbol: "SOL-USD", Side: model.SideBuy, Price: d(price), Size: d(size)}
}

func TestTracker_BuyFillSetsInitialStop(t *testing.T) {
	tr := newTracker(t, Config{StopMultiplier: 2})
	require.NoError(t, tr.OnBuyFill(buy("100", "3"), 1.5))

	p := tr.Snapshot()
	assert.True(t, p.Active)
	assert.True(t, p.Entry.Equal(d("100")))
	assert.True(t, p.HighSince.Equal(d("100")))
	assert.True(t, p.Stop.Equal(d("97")))
	assert.True(t, p.Size.Equal(d("3")))

	assert.ErrorIs(t, tr.OnBuyFill(buy("101", "1"), 1), ErrAlreadyActive)
}

func TestTracker_StopRatchetsAndNeverRelaxes(t *testing.T) {
	tr := newTracker(t, Config{StopMultiplier: 2})
	require.NoError(t, tr.OnBuyFill(buy("100", "1"), 1))

	prev := tr.Snapshot().Stop
	highs := []string{"101", "102", "103", "104", "105", "106"}
	atrs := []float64{1, 3, 0.5, 4, 2, 10}
	for i, h := range highs {
		exit := tr.Observe(d(h), d(h), atrs[i])
		assert.False(t, exit, "high %s", h)
		stop := tr.Snapshot().Stop
		assert.True(t, stop.GreaterThanOrEqual(prev), "stop fell from %s to %s", prev, stop)
		prev = stop
	}
	// 103 - 2*0.5 = 102 was the best candidate
	assert.True(t, prev.Equal(d("102")), prev.String())
}

func TestTracker_ExitWhenPriceTouchesStop(t *testing.T) {
	tr := newTracker(t, Config{StopMultiplier: 1})
	require.NoError(t, tr.OnBuyFill(buy("50", "2"), 2))

	assert.False(t, tr.Observe(d("55"), d("56"), 2)) // stop -> 54
	assert.False(t, tr.Observe(d("54.01"), d("55"), 2))
	assert.True(t, tr.Observe(d("54"), d("54.5"), 2))
	assert.True(t, tr.Active(), "caller issues the sell")
}

func TestTracker_SellFillZeroesState(t *testing.T) {
	tr := newTracker(t, DefaultConfig())
	require.NoError(t, tr.OnBuyFill(buy("10", "4"), 0.5))

	pnl, err := tr.OnSellFill(model.Fill{Side: model.SideSell, Price: d("12"), Size: d("4")})
	require.NoError(t, err)
	assert.True(t, pnl.Equal(d("8")))
	assert.Equal(t, model.Position{Symbol: "SOL-USD"}, tr.Snapshot())
	assert.False(t, tr.Observe(d("1"), d("1"), 1))

	_, err = tr.OnSellFill(model.Fill{Price: d("12"), Size: d("4")})
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestTracker_RealizedIsNetOfFees(t *testing.T) {
	tr := newTracker(t, DefaultConfig())
	entry := buy("10", "4")
	entry.Fee = d("0.24")
	require.NoError(t, tr.OnBuyFill(entry, 0.5))
	assert.True(t, tr.Snapshot().EntryFee.Equal(d("0.24")))

	pnl, err := tr.OnSellFill(model.Fill{Side: model.SideSell, Price: d("12"), Size: d("4"), Fee: d("0.288")})
	require.NoError(t, err)
	assert.True(t, pnl.Equal(d("7.472")), pnl.String())
}

func TestTracker_MinProfitGate(t *testing.T) {
	tr := newTracker(t, Config{StopMultiplier: 2, MinProfit: 0.01})
	assert.False(t, tr.AllowSell(d("1000")), "inactive")

	require.NoError(t, tr.OnBuyFill(buy("200", "1"), 1))
	assert.False(t, tr.AllowSell(d("201.99")))
	assert.True(t, tr.AllowSell(d("202")))

	open := newTracker(t, Config{StopMultiplier: 2})
	require.NoError(t, open.OnBuyFill(buy("200", "1"), 1))
	assert.True(t, open.AllowSell(d("150")))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	_, err := NewTracker("X", Config{StopMultiplier: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewTracker("X", Config{StopMultiplier: 1, MinProfit: -0.1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
