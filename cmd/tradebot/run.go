package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradecore/config"
	"tradecore/internal/api"
	"tradecore/internal/execution"
	"tradecore/internal/feed"
	"tradecore/internal/metrics"
	"tradecore/internal/pipeline"
	"tradecore/internal/portfolio"
	redisstore "tradecore/internal/store/redis"
	sqlitestore "tradecore/internal/store/sqlite"
)

const livenessInterval = 10 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the live pipeline until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.setup("tradebot")
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLive(ctx, cfg, log)
		},
	}
}

func runLive(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(cfg.Symbols...)

	ex, err := buildExchange(cfg, log)
	if err != nil {
		return err
	}

	pnl := portfolio.NewPnLTracker()
	deps := pipeline.Deps{
		Source:   ex.source,
		History:  ex.history,
		Sink:     ex.sink,
		Notifier: buildNotifier(cfg.Notifications, log),
		PnL:      pnl,
		Metrics:  prom,
		Health:   health,
		Log:      log,
	}

	// ---- SQLite candle archive (off the signal path) ----
	var (
		sqlDB   *sql.DB
		archive api.CandleArchive
	)
	if cfg.Storage.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return err
		}
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.Storage.SQLitePath}, log)
		if err != nil {
			return err
		}
		defer w.Close()
		w.OnCommit = func(_ int, err error) { prom.CommitResult(err) }
		deps.Archive = w
		sqlDB = w.DB()
		health.EnableSQLite()

		r, err := sqlitestore.NewReader(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer r.Close()
		archive = r
	}

	// ---- Fill journal ----
	if cfg.Storage.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.JournalPath), 0o755); err != nil {
			return err
		}
		j, err := execution.OpenJournal(cfg.Storage.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		deps.Journal = j
	}

	// ---- Redis publisher; the bot keeps trading without it ----
	var rdb goredis.UniversalClient
	if cfg.RedisEnabled() {
		pub, err := redisstore.New(cfg.Redis, log)
		if err != nil {
			log.Warn("redis unavailable, continuing without publication", zap.Error(err))
		} else {
			defer pub.Close()
			pub.OnError = func(kind string, _ error) {
				prom.RedisErrors.WithLabelValues(kind).Inc()
			}
			cb := pub.Breaker()
			logChange := cb.OnStateChange
			cb.OnStateChange = func(from, to redisstore.State) {
				logChange(from, to)
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			deps.Publishers = append(deps.Publishers, pub)
			rdb = pub.Client()
			health.EnableRedis()
		}
	}

	// ---- REST API and websocket feed, served next to /metrics ----
	var srv *metrics.Server
	if cfg.MetricsAddr != "" {
		srv = metrics.NewServer(cfg.MetricsAddr, reg, health, log)
		srv.Handle("/api/v1/", api.NewRouter(api.Options{
			Ledger:         pnl,
			Candles:        archive,
			CandleDuration: cfg.CandleDuration,
			Log:            log,
		}))
		if cfg.Feed.Enabled {
			hub := feed.NewHub(cfg.Feed.Depth, log)
			defer hub.Close()
			hub.OnDrop = prom.FeedDropped.Inc
			srv.Handle("/ws", hub)
			deps.Publishers = append(deps.Publishers, hub)
		}
	}

	p, err := pipeline.New(pipeline.Config{
		Symbols:        cfg.Symbols,
		CandleDuration: cfg.CandleDuration,
		HistoryBars:    cfg.HistoryBars,
		Buffer:         cfg.ChannelBuffer,
		Strategy:       cfg.Strategy,
		Execution:      cfg.Execution,
		Reconnect:      cfg.Reconnect,
	}, deps)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}
	if rdb != nil || sqlDB != nil {
		g.Go(func() error {
			health.RunLivenessChecker(gctx, rdb, sqlDB, livenessInterval)
			return nil
		})
	}
	g.Go(func() error { return p.Run(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	summary := pnl.Summary(nil)
	log.Info("shutdown complete",
		zap.String("realized_pnl", summary.RealizedPnL.StringFixed(2)),
		zap.Int("trades", summary.TotalTrades),
		zap.Int("open_positions", summary.OpenPositions))
	return err
}
