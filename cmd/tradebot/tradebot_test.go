package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/config"
	"tradecore/internal/exchange/sim"
	"tradecore/internal/model"
	sqlitestore "tradecore/internal/store/sqlite"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func backtestConfig() config.Config {
	cfg := config.Default()
	cfg.Exchange = config.ExchangeSim
	cfg.Symbols = []string{"SIM-USD"}
	cfg.Sim = sim.Config{StartPrice: 100, Volatility: 0.01, BatchSize: 5, Seed: 7}
	return cfg
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "tradebot dev\n", out.String())
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, t0, got)

	got, err = parseTime("2024-01-02T03:04:05+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC), got)

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}

func TestBacktest_FillsAlternateAndFollowReplayClock(t *testing.T) {
	cfg := backtestConfig()
	src := sim.New(cfg.Sim)
	to := t0.Add(600 * time.Minute)

	res, err := backtest(context.Background(), cfg, src, "SIM-USD", t0, to, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 600, res.Candles)

	for i, f := range res.Fills {
		want := model.SideBuy
		if i%2 == 1 {
			want = model.SideSell
		}
		assert.Equal(t, want, f.Side, "fill %d", i)
		assert.True(t, f.Time.After(t0) && !f.Time.After(to), "fill %d at %s", i, f.Time)
		assert.Zero(t, f.Time.Sub(t0)%time.Minute, "fills are stamped at a bar close")
	}
	assert.Equal(t, len(res.Fills)%2 == 1, res.Open.Active)
}

func TestRunBacktest_FromArchive(t *testing.T) {
	cfg := backtestConfig()
	dbPath := filepath.Join(t.TempDir(), "candles.db")

	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: dbPath}, nil)
	require.NoError(t, err)
	candles, err := sim.New(cfg.Sim).FetchHistory(context.Background(), "SIM-USD", t0, t0.Add(120*time.Minute), time.Minute)
	require.NoError(t, err)
	require.NoError(t, w.InsertBatch(candles))
	require.NoError(t, w.Close())

	var out bytes.Buffer
	opts := &backtestOptions{from: "2024-01-02", to: "2024-01-02T02:00:00Z", db: dbPath}
	require.NoError(t, runBacktest(context.Background(), cfg, opts, &out, nil))

	report := out.String()
	assert.True(t, strings.HasPrefix(report, "backtest SIM-USD 2024-01-02T00:00:00Z -> 2024-01-02T02:00:00Z: 120 candles"), report)
	assert.Contains(t, report, "realized pnl:")
	assert.Contains(t, report, "(fees ")
}

func TestRunBacktest_RejectsInvertedRange(t *testing.T) {
	opts := &backtestOptions{from: "2024-02-01", to: "2024-01-01"}
	err := runBacktest(context.Background(), backtestConfig(), opts, &bytes.Buffer{}, nil)
	assert.Error(t, err)
}
