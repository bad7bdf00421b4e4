package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
)

// scriptedSource plays one behaviour per connection. A nil step blocks until
// the connection is cancelled.
type scriptedSource struct {
	mu       sync.Mutex
	steps    []func(ctx context.Context, session uint64, out chan<- model.TickBatch) error
	sessions []uint64
}

func (s *scriptedSource) Stream(ctx context.Context, symbol string, session uint64, out chan<- model.TickBatch) error {
	s.mu.Lock()
	n := len(s.sessions)
	s.sessions = append(s.sessions, session)
	var step func(context.Context, uint64, chan<- model.TickBatch) error
	if n < len(s.steps) {
		step = s.steps[n]
	}
	s.mu.Unlock()

	if step == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return step(ctx, session, out)
}

func (s *scriptedSource) seen() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.sessions...)
}

func sendThenFail(n int) func(context.Context, uint64, chan<- model.TickBatch) error {
	return func(ctx context.Context, session uint64, out chan<- model.TickBatch) error {
		for i := 0; i < n; i++ {
			select {
			case out <- model.TickBatch{Symbol: "BTC-USD", Session: session}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return errors.New("socket closed")
	}
}

func fastConfig() Config {
	return Config{Mode: ModeFixed, Initial: time.Millisecond, Max: time.Millisecond}
}

func TestSupervisor_ReconnectsWithNewSession(t *testing.T) {
	src := &scriptedSource{steps: []func(context.Context, uint64, chan<- model.TickBatch) error{
		sendThenFail(2),
		sendThenFail(1),
	}}
	sup, err := New("BTC-USD", src, fastConfig(), nil)
	require.NoError(t, err)

	var reconnects int
	var mu sync.Mutex
	sup.OnReconnect = func(string, error) {
		mu.Lock()
		reconnects++
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.TickBatch)
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx, out) }()

	var got []uint64
	for i := 0; i < 3; i++ {
		select {
		case b := <-out:
			got = append(got, b.Session)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for batch")
		}
	}
	assert.Equal(t, []uint64{1, 1, 2}, got)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	mu.Lock()
	assert.GreaterOrEqual(t, reconnects, 1)
	mu.Unlock()
	assert.Equal(t, uint64(1), src.seen()[0])
}

func TestSupervisor_IdleWatchdogReplacesSilentConnection(t *testing.T) {
	src := &scriptedSource{} // every connection is silent
	cfg := fastConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	sup, err := New("ETH-USD", src, cfg, nil)
	require.NoError(t, err)

	idleErrs := make(chan error, 8)
	sup.OnReconnect = func(_ string, err error) {
		select {
		case idleErrs <- err:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx, make(chan model.TickBatch)) }()

	select {
	case err := <-idleErrs:
		assert.ErrorIs(t, err, ErrIdle)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never fired")
	}
	assert.Eventually(t, func() bool { return len(src.seen()) >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSupervisor_SlowConsumerIsNotIdle(t *testing.T) {
	steady := func(ctx context.Context, session uint64, out chan<- model.TickBatch) error {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			select {
			case out <- model.TickBatch{Symbol: "BTC-USD", Session: session}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	src := &scriptedSource{steps: []func(context.Context, uint64, chan<- model.TickBatch) error{steady, steady}}
	cfg := fastConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	sup, err := New("BTC-USD", src, cfg, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var reconnects []error
	sup.OnReconnect = func(_ string, err error) {
		mu.Lock()
		reconnects = append(reconnects, err)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.TickBatch)
	go func() { _ = sup.Run(ctx, out) }()

	recv := func() model.TickBatch {
		select {
		case b := <-out:
			return b
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for batch")
		}
		return model.TickBatch{}
	}

	recv()
	time.Sleep(150 * time.Millisecond) // consumer stalls for three idle periods
	for i := 0; i < 10; i++ {
		assert.Equal(t, uint64(1), recv().Session)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, reconnects)
	assert.Equal(t, []uint64{1}, src.seen())
}

func TestSupervisor_ShutdownWhileConsumerBlocked(t *testing.T) {
	src := &scriptedSource{steps: []func(context.Context, uint64, chan<- model.TickBatch) error{
		sendThenFail(5),
	}}
	sup, err := New("BTC-USD", src, fastConfig(), nil)
	require.NoError(t, err)

	var states []bool
	var mu sync.Mutex
	sup.OnConnected = func(_ string, v bool) {
		mu.Lock()
		states = append(states, v)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx, make(chan model.TickBatch)) }() // nobody reads

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run blocked on a full output after shutdown")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, states)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := []Config{
		{Mode: "linear", Initial: time.Second, Max: time.Second},
		{Mode: ModeFixed},
		{Mode: ModeExponential, Initial: 10 * time.Second, Max: time.Second},
		{Mode: ModeFixed, Initial: time.Second, IdleTimeout: -1},
	}
	for _, c := range bad {
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig, "%+v", c)
	}

	_, err := New("X", nil, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_BackOffPolicies(t *testing.T) {
	fixed := Config{Mode: ModeFixed, Initial: 3 * time.Second}.newBackOff()
	assert.Equal(t, 3*time.Second, fixed.NextBackOff())
	assert.Equal(t, 3*time.Second, fixed.NextBackOff())

	exp := Config{Mode: ModeExponential, Initial: time.Second, Max: 4 * time.Second}.newBackOff()
	eb, ok := exp.(*backoff.ExponentialBackOff)
	require.True(t, ok)
	eb.RandomizationFactor = 0
	eb.Reset()
	assert.Equal(t, time.Second, eb.NextBackOff())
	assert.Equal(t, 1500*time.Millisecond, eb.NextBackOff())
	for i := 0; i < 10; i++ {
		assert.LessOrEqual(t, eb.NextBackOff(), 4*time.Second)
	}
}
