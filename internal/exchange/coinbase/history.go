package coinbase

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/model"
)

// maxCandlesPerRequest stays under the API limit of 350.
const maxCandlesPerRequest = 300

var granularities = map[time.Duration]string{
	time.Minute:      "ONE_MINUTE",
	5 * time.Minute:  "FIVE_MINUTE",
	15 * time.Minute: "FIFTEEN_MINUTE",
	30 * time.Minute: "THIRTY_MINUTE",
	time.Hour:        "ONE_HOUR",
	2 * time.Hour:    "TWO_HOUR",
	6 * time.Hour:    "SIX_HOUR",
	24 * time.Hour:   "ONE_DAY",
}

type wireCandle struct {
	Start  string `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

type candlesResponse struct {
	Candles []wireCandle `json:"candles"`
}

// FetchHistory implements model.HistorySource. Requests are split into
// chunks the API accepts; the result is ascending and deduplicated.
func (c *Client) FetchHistory(ctx context.Context, symbol string, start, end time.Time, granularity time.Duration) ([]model.Candle, error) {
	name, ok := granularities[granularity]
	if !ok {
		return nil, fmt.Errorf("coinbase: unsupported granularity %s", granularity)
	}
	start = start.UTC().Truncate(granularity)
	end = end.UTC()

	path := fmt.Sprintf("/api/v3/brokerage/products/%s/candles", url.PathEscape(symbol))
	seen := make(map[int64]bool)
	var out []model.Candle
	for from := start; from.Before(end); from = from.Add(maxCandlesPerRequest * granularity) {
		to := from.Add(maxCandlesPerRequest * granularity)
		if to.After(end) {
			to = end
		}
		q := url.Values{}
		q.Set("start", timestamp(from))
		q.Set("end", timestamp(to))
		q.Set("granularity", name)

		var resp candlesResponse
		if err := c.do(ctx, "GET", path, q, nil, &resp); err != nil {
			return nil, err
		}
		for _, wc := range resp.Candles {
			cd, err := wc.candle(symbol, granularity)
			if err != nil {
				c.log.Warn("skipping candle", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			if cd.Start.Before(start) || !cd.Start.Before(end) || seen[cd.Start.Unix()] {
				continue
			}
			seen[cd.Start.Unix()] = true
			out = append(out, cd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (w wireCandle) candle(symbol string, d time.Duration) (model.Candle, error) {
	secs, err := strconv.ParseInt(w.Start, 10, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("start %q: %w", w.Start, err)
	}
	var vals [5]decimal.Decimal
	for i, s := range []string{w.Open, w.High, w.Low, w.Close, w.Volume} {
		if vals[i], err = decimal.NewFromString(s); err != nil {
			return model.Candle{}, fmt.Errorf("value %q: %w", s, err)
		}
	}
	start := time.Unix(secs, 0).UTC()
	cd := model.Candle{
		Symbol: symbol,
		Start:  start,
		End:    start.Add(d),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}
	return cd, cd.Validate()
}
