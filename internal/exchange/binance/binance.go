// Package binance adapts Binance spot market data to the pipeline ports
// using go-binance: the <symbol>@trade stream and the klines endpoint.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/model"
)

// maxKlinesPerRequest is the API maximum.
const maxKlinesPerRequest = 1000

var errStreamClosed = errors.New("binance: trade stream closed")

var intervals = map[time.Duration]string{
	time.Minute:      "1m",
	3 * time.Minute:  "3m",
	5 * time.Minute:  "5m",
	15 * time.Minute: "15m",
	30 * time.Minute: "30m",
	time.Hour:        "1h",
	2 * time.Hour:    "2h",
	4 * time.Hour:    "4h",
	6 * time.Hour:    "6h",
	12 * time.Hour:   "12h",
	24 * time.Hour:   "1d",
}

type serveFunc func(symbol string, handler binance.WsTradeHandler, errHandler binance.ErrHandler) (chan struct{}, chan struct{}, error)

// Source implements model.MarketDataSource and model.HistorySource.
type Source struct {
	client *binance.Client
	serve  serveFunc
	log    *zap.Logger
}

// Config selects credentials and endpoints.
type Config struct {
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
	Testnet   bool   `yaml:"testnet"`
	BaseURL   string `yaml:"base_url"` // REST override, mostly for tests
}

// New creates a Source. Public market data needs no credentials.
func New(cfg Config, log *zap.Logger) *Source {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &Source{client: client, serve: binance.WsTradeServe, log: log.Named("binance")}
}

// Stream runs one trade stream connection. Every trade event is its own
// live batch.
func (s *Source) Stream(ctx context.Context, symbol string, session uint64, out chan<- model.TickBatch) error {
	errc := make(chan error, 1)
	handler := func(ev *binance.WsTradeEvent) {
		batch := model.TickBatch{
			Symbol:  symbol,
			Session: session,
			Ticks:   []model.Tick{tradeTick(symbol, ev)},
		}
		select {
		case out <- batch:
		case <-ctx.Done():
		}
	}
	errHandler := func(err error) {
		select {
		case errc <- err:
		default:
		}
	}

	doneC, stopC, err := s.serve(symbol, handler, errHandler)
	if err != nil {
		return fmt.Errorf("binance: connect %s: %w", symbol, err)
	}
	s.log.Info("trade stream connected", zap.String("symbol", symbol), zap.Uint64("session", session))

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case <-doneC:
		select {
		case err := <-errc:
			return fmt.Errorf("binance: stream %s: %w", symbol, err)
		default:
			return errStreamClosed
		}
	}
}

// tradeTick converts an event. Unparseable numbers leave zero or negative
// values behind so validation rejects the tick downstream.
func tradeTick(symbol string, ev *binance.WsTradeEvent) model.Tick {
	price, _ := decimal.NewFromString(ev.Price)
	size, err := decimal.NewFromString(ev.Quantity)
	if err != nil {
		size = decimal.NewFromInt(-1)
	}
	// The buyer being the maker means the seller crossed the spread.
	side := model.SideBuy
	if ev.IsBuyerMaker {
		side = model.SideSell
	}
	return model.Tick{
		Symbol:  symbol,
		TradeID: strconv.FormatInt(ev.TradeID, 10),
		Price:   price,
		Size:    size,
		Side:    side,
		Time:    time.UnixMilli(ev.TradeTime).UTC(),
	}
}

// FetchHistory pages through klines in [start, end), oldest first.
func (s *Source) FetchHistory(ctx context.Context, symbol string, start, end time.Time, granularity time.Duration) ([]model.Candle, error) {
	interval, ok := intervals[granularity]
	if !ok {
		return nil, fmt.Errorf("binance: unsupported granularity %s", granularity)
	}
	start = start.UTC().Truncate(granularity)

	var out []model.Candle
	from := start
	for from.Before(end) {
		klines, err := s.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli() - 1).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance: klines %s: %w", symbol, err)
		}
		if len(klines) == 0 {
			break
		}
		last := from
		for _, k := range klines {
			c, err := klineCandle(symbol, granularity, k)
			if err != nil {
				s.log.Warn("skipping kline", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			if c.Start.Before(from) || !c.Start.Before(end) {
				continue
			}
			out = append(out, c)
			last = c.Start
		}
		next := last.Add(granularity)
		if !next.After(from) || len(klines) < maxKlinesPerRequest {
			break
		}
		from = next
	}
	return out, nil
}

func klineCandle(symbol string, d time.Duration, k *binance.Kline) (model.Candle, error) {
	var vals [5]decimal.Decimal
	var err error
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		if vals[i], err = decimal.NewFromString(s); err != nil {
			return model.Candle{}, fmt.Errorf("value %q: %w", s, err)
		}
	}
	start := time.UnixMilli(k.OpenTime).UTC()
	c := model.Candle{
		Symbol: symbol,
		Start:  start,
		End:    start.Add(d),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
		Trades: int(k.TradeNum),
	}
	return c, c.Validate()
}
