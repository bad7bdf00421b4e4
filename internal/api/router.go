// Package api serves a read-only JSON view of a running bot: the P&L ledger,
// executed fills and the candle archive.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/model"
	"tradecore/internal/portfolio"
)

const defaultCandleWindow = 24 * time.Hour

// Ledger is the P&L source. *portfolio.PnLTracker implements it.
type Ledger interface {
	Summary(currentPrices map[string]decimal.Decimal) portfolio.PnLSummary
	Trades() []model.Fill
}

// CandleArchive is the archive reader. *sqlite.Reader implements it.
type CandleArchive interface {
	model.HistorySource
	Symbols(ctx context.Context, d time.Duration) ([]string, error)
}

// Options configure the router. Candles may be nil when archiving is off;
// the candle routes then answer 404.
type Options struct {
	Ledger         Ledger
	Candles        CandleArchive
	CandleDuration time.Duration
	Log            *zap.Logger
}

type router struct {
	opts Options
	log  *zap.Logger
}

// NewRouter sets up the /api/v1 routes.
func NewRouter(opts Options) *http.ServeMux {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	rt := &router{opts: opts, log: log.Named("api")}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/pnl", rt.pnl)
	mux.HandleFunc("/api/v1/trades", rt.trades)
	mux.HandleFunc("/api/v1/symbols", rt.symbols)
	mux.HandleFunc("/api/v1/candles", rt.candles)
	return mux
}

// setCORS lets a browser dashboard on another origin read the API.
func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func (rt *router) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.log.Debug("write response", zap.Error(err))
	}
}

func (rt *router) fail(w http.ResponseWriter, status int, msg string) {
	rt.writeJSON(w, status, map[string]string{"error": msg})
}

// get rejects anything but GET; OPTIONS preflights get the CORS headers.
func (rt *router) get(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodGet:
		return true
	case http.MethodOptions:
		setCORS(w)
		w.WriteHeader(http.StatusNoContent)
	default:
		rt.fail(w, http.StatusMethodNotAllowed, "method not allowed")
	}
	return false
}

func (rt *router) pnl(w http.ResponseWriter, r *http.Request) {
	if !rt.get(w, r) {
		return
	}
	if rt.opts.Ledger == nil {
		rt.fail(w, http.StatusNotFound, "no ledger")
		return
	}
	rt.writeJSON(w, http.StatusOK, rt.opts.Ledger.Summary(nil))
}

// GET /api/v1/trades?symbol=BTC-USD&limit=50 returns the newest fills last.
func (rt *router) trades(w http.ResponseWriter, r *http.Request) {
	if !rt.get(w, r) {
		return
	}
	if rt.opts.Ledger == nil {
		rt.fail(w, http.StatusNotFound, "no ledger")
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			rt.fail(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	symbol := q.Get("symbol")
	out := make([]model.Fill, 0)
	for _, f := range rt.opts.Ledger.Trades() {
		if symbol == "" || f.Symbol == symbol {
			out = append(out, f)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	rt.writeJSON(w, http.StatusOK, out)
}

func (rt *router) symbols(w http.ResponseWriter, r *http.Request) {
	if !rt.get(w, r) {
		return
	}
	if rt.opts.Candles == nil {
		rt.fail(w, http.StatusNotFound, "candle archive disabled")
		return
	}
	syms, err := rt.opts.Candles.Symbols(r.Context(), rt.opts.CandleDuration)
	if err != nil {
		rt.log.Error("list symbols", zap.Error(err))
		rt.fail(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	if syms == nil {
		syms = []string{}
	}
	rt.writeJSON(w, http.StatusOK, syms)
}

// GET /api/v1/candles?symbol=BTC-USD&from=<RFC3339>&to=<RFC3339>
// The window defaults to the last 24 hours.
func (rt *router) candles(w http.ResponseWriter, r *http.Request) {
	if !rt.get(w, r) {
		return
	}
	if rt.opts.Candles == nil {
		rt.fail(w, http.StatusNotFound, "candle archive disabled")
		return
	}
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		rt.fail(w, http.StatusBadRequest, "symbol is required")
		return
	}

	to := time.Now().UTC()
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			rt.fail(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		to = t
	}
	from := to.Add(-defaultCandleWindow)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			rt.fail(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		from = t
	}
	if !from.Before(to) {
		rt.fail(w, http.StatusBadRequest, "from must be before to")
		return
	}

	candles, err := rt.opts.Candles.FetchHistory(r.Context(), symbol, from, to, rt.opts.CandleDuration)
	if err != nil {
		rt.log.Error("fetch candles", zap.String("symbol", symbol), zap.Error(err))
		rt.fail(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	if candles == nil {
		candles = []model.Candle{}
	}
	rt.writeJSON(w, http.StatusOK, candles)
}
