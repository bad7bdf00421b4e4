// Package ingest supervises the market data connection of one symbol.
//
// A Supervisor runs MarketDataSource.Stream in a loop. Every connection gets
// a fresh session number so the aggregator can tell a reconnect apart from a
// continuing stream. Between connections it waits out a fixed or capped
// exponential backoff; a connection that delivered data resets the backoff.
// A connection that stays silent for IdleTimeout is cancelled and replaced.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"tradecore/internal/model"
)

var (
	ErrInvalidConfig = errors.New("invalid ingest config")
	// ErrIdle is reported when the watchdog cancels a silent connection.
	ErrIdle = errors.New("connection idle")
	// ErrStreamEnded is reported when a source returns without an error.
	ErrStreamEnded = errors.New("stream ended")
)

// Mode selects the reconnect delay policy.
type Mode string

const (
	ModeFixed       Mode = "fixed"
	ModeExponential Mode = "exponential"
)

// Config holds the reconnect tunables.
type Config struct {
	Mode        Mode          `yaml:"mode"`
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	IdleTimeout time.Duration `yaml:"idle_timeout"` // 0 disables the watchdog
}

func DefaultConfig() Config {
	return Config{
		Mode:        ModeExponential,
		Initial:     time.Second,
		Max:         30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeFixed, ModeExponential:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.Initial <= 0 {
		return fmt.Errorf("%w: initial delay must be positive", ErrInvalidConfig)
	}
	if c.Mode == ModeExponential && c.Max < c.Initial {
		return fmt.Errorf("%w: max delay %s below initial %s", ErrInvalidConfig, c.Max, c.Initial)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle_timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) newBackOff() backoff.BackOff {
	if c.Mode == ModeFixed {
		return backoff.NewConstantBackOff(c.Initial)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Initial
	b.MaxInterval = c.Max
	b.MaxElapsedTime = 0 // retry while not shut down
	b.Reset()
	return b
}

// Supervisor owns the connection lifecycle of one symbol.
type Supervisor struct {
	symbol string
	src    model.MarketDataSource
	cfg    Config
	log    *zap.Logger

	session uint64

	// Optional metrics hooks.
	OnConnected func(symbol string, connected bool)
	OnReconnect func(symbol string, err error)
}

// New validates cfg and creates a Supervisor.
func New(symbol string, src model.MarketDataSource, cfg Config, log *zap.Logger) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidConfig)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		symbol: symbol,
		src:    src,
		cfg:    cfg,
		log:    log.Named("ingest").With(zap.String("symbol", symbol)),
	}, nil
}

// Session returns the number of the current (or last) connection.
func (s *Supervisor) Session() uint64 { return s.session }

// Run streams batches into out until ctx is cancelled. Sends block, so a slow
// consumer applies backpressure all the way to the socket. Run only returns
// on shutdown, and then returns nil.
func (s *Supervisor) Run(ctx context.Context, out chan<- model.TickBatch) error {
	b := s.cfg.newBackOff()
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.session++
		delivered, err := s.runOnce(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if delivered {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = s.cfg.Max
		}
		s.log.Warn("disconnected, reconnecting",
			zap.Uint64("session", s.session),
			zap.Duration("delay", wait),
			zap.Error(err))
		if s.OnReconnect != nil {
			s.OnReconnect(s.symbol, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runOnce drives a single connection. It reports whether any batch arrived.
func (s *Supervisor) runOnce(ctx context.Context, out chan<- model.TickBatch) (delivered bool, err error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := s.session
	mid := make(chan model.TickBatch)
	errc := make(chan error, 1)
	go func() { errc <- s.src.Stream(cctx, s.symbol, session, mid) }()

	s.setConnected(true)
	defer s.setConnected(false)
	s.log.Info("stream started", zap.Uint64("session", session))

	var idle <-chan time.Time
	var timer *time.Timer
	if s.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(s.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case batch := <-mid:
			delivered = true
			// Only source silence counts as idle; the clock is paused
			// while the send blocks.
			stopTimer(timer)
			select {
			case out <- batch:
			case <-ctx.Done():
				cancel()
				<-errc
				return delivered, ctx.Err()
			}
			if timer != nil {
				timer.Reset(s.cfg.IdleTimeout)
			}
		case err := <-errc:
			if err == nil {
				err = ErrStreamEnded
			}
			return delivered, err
		case <-idle:
			cancel()
			<-errc
			return delivered, fmt.Errorf("%w: nothing for %s", ErrIdle, s.cfg.IdleTimeout)
		case <-ctx.Done():
			cancel()
			<-errc
			return delivered, ctx.Err()
		}
	}
}

// stopTimer stops t and drains a pending fire so Reset starts clean.
func stopTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func (s *Supervisor) setConnected(v bool) {
	if s.OnConnected != nil {
		s.OnConnected(s.symbol, v)
	}
}
