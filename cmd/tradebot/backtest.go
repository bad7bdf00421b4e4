package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradecore/config"
	"tradecore/internal/execution"
	"tradecore/internal/marketdata/replay"
	"tradecore/internal/model"
	"tradecore/internal/portfolio"
	sqlitestore "tradecore/internal/store/sqlite"
	"tradecore/internal/strategy"
)

type backtestOptions struct {
	symbol string
	from   string
	to     string
	speed  float64
	db     string
}

func newBacktestCmd(root *rootOptions) *cobra.Command {
	opts := &backtestOptions{}
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay archived candles through the strategy with paper fills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.setup("tradebot-backtest")
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBacktest(ctx, cfg, opts, cmd.OutOrStdout(), log)
		},
	}
	cmd.Flags().StringVar(&opts.symbol, "symbol", "", "symbol to replay (default: first configured symbol)")
	cmd.Flags().StringVar(&opts.from, "from", "", "start time, RFC3339 or YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&opts.to, "to", "", "end time, RFC3339 or YYYY-MM-DD (default: now)")
	cmd.Flags().Float64Var(&opts.speed, "speed", 0, "playback speed (0 = as fast as possible, 1 = real time)")
	cmd.Flags().StringVar(&opts.db, "db", "", "candle archive (default: storage.sqlite_path)")
	cmd.MarkFlagRequired("from")
	return cmd
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: want RFC3339 or YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}

// backtestResult is what a replay produced.
type backtestResult struct {
	Candles  int
	Fills    []model.Fill
	Realized string
	Fees     string
	Open     model.Position
}

func runBacktest(ctx context.Context, cfg config.Config, opts *backtestOptions, out io.Writer, log *zap.Logger) error {
	symbol := opts.symbol
	if symbol == "" {
		symbol = cfg.Symbols[0]
	}
	from, err := parseTime(opts.from)
	if err != nil {
		return err
	}
	to := time.Now().UTC()
	if opts.to != "" {
		if to, err = parseTime(opts.to); err != nil {
			return err
		}
	}
	if !from.Before(to) {
		return errors.New("--from must be before --to")
	}
	dbPath := opts.db
	if dbPath == "" {
		dbPath = cfg.Storage.SQLitePath
	}

	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	res, err := backtest(ctx, cfg, reader, symbol, from, to, opts.speed, log)
	if err != nil {
		return err
	}
	printReport(out, symbol, from, to, res)
	return nil
}

// backtest drives one engine and one dispatcher from replayed candles. The
// paper sink's clock follows the bar close so fills carry replay time.
func backtest(ctx context.Context, cfg config.Config, src model.HistorySource, symbol string, from, to time.Time, speed float64, log *zap.Logger) (backtestResult, error) {
	if log == nil {
		log = zap.NewNop()
	}
	engine, err := strategy.NewEngine(symbol, cfg.Strategy, log)
	if err != nil {
		return backtestResult{}, err
	}
	paper := execution.NewPaperSink(cfg.PaperSlippageBps, cfg.PaperFeeBps, log)
	pnl := portfolio.NewPnLTracker()
	disp, err := execution.NewDispatcher(symbol, cfg.Execution, paper, execution.Options{PnL: pnl, Log: log})
	if err != nil {
		return backtestResult{}, err
	}

	rp := replay.New(src, log)
	replayed := 0
	rp.OnCandle = func(c model.Candle) {
		replayed++
		if replayed%1000 == 0 {
			log.Info("replay progress", zap.Int("candles", replayed), zap.Time("at", c.Start))
		}
	}

	candles := make(chan model.CandleMessage, cfg.ChannelBuffer)
	g, gctx := errgroup.WithContext(ctx)
	var sent int
	g.Go(func() error {
		defer close(candles)
		var err error
		sent, err = rp.Run(gctx, symbol, from, to, cfg.CandleDuration, speed, candles)
		return err
	})
	g.Go(func() error {
		for msg := range candles {
			if err := msg.Candle.Validate(); err != nil {
				log.Warn("skipping candle", zap.Error(err))
				continue
			}
			end := msg.Candle.End
			paper.Now = func() time.Time { return end }
			disp.HandleSignal(gctx, engine.OnCandle(msg))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return backtestResult{}, err
	}

	return backtestResult{
		Candles:  sent,
		Fills:    paper.Fills(),
		Realized: pnl.RealizedPnL().StringFixed(2),
		Fees:     pnl.Fees().StringFixed(2),
		Open:     disp.Position(),
	}, nil
}

func printReport(out io.Writer, symbol string, from, to time.Time, res backtestResult) {
	fmt.Fprintf(out, "backtest %s %s -> %s: %d candles, %d fills\n\n",
		symbol, from.Format(time.RFC3339), to.Format(time.RFC3339), res.Candles, len(res.Fills))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSIDE\tPRICE\tSIZE\tFEE\tORDER")
	for _, f := range res.Fills {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f.Time.Format(time.RFC3339), f.Side, f.Price.StringFixed(2), f.Size.String(), f.Fee.StringFixed(2), f.OrderID)
	}
	tw.Flush()

	fmt.Fprintf(out, "\nrealized pnl: %s (fees %s)\n", res.Realized, res.Fees)
	if res.Open.Active {
		fmt.Fprintf(out, "open position: %s @ %s, stop %s\n",
			res.Open.Size, res.Open.Entry.StringFixed(2), res.Open.Stop.StringFixed(2))
	}
}
