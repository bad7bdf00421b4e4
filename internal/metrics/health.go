package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus represents the system health. Redis and SQLite only count
// once they are enabled.
type HealthStatus struct {
	mu sync.RWMutex

	connected map[string]bool
	lastTick  map[string]time.Time

	redisEnabled    bool
	redisConnected  bool
	redisLatencyMs  float64
	sqliteEnabled   bool
	sqliteOK        bool
	sqliteLatencyMs float64
	lastCheckAt     time.Time

	startedAt time.Time
	now       func() time.Time
}

// NewHealthStatus returns a health status for the given symbols, all
// disconnected.
func NewHealthStatus(symbols ...string) *HealthStatus {
	h := &HealthStatus{
		connected: make(map[string]bool, len(symbols)),
		lastTick:  make(map[string]time.Time, len(symbols)),
		startedAt: time.Now(),
		now:       time.Now,
	}
	for _, s := range symbols {
		h.connected[s] = false
	}
	return h
}

func (h *HealthStatus) SetConnected(symbol string, v bool) {
	h.mu.Lock()
	h.connected[symbol] = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTick(symbol string, t time.Time) {
	h.mu.Lock()
	h.lastTick[symbol] = t
	h.mu.Unlock()
}

// EnableRedis makes Redis part of the health verdict.
func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.redisEnabled = true
	h.redisConnected = true
	h.mu.Unlock()
}

// EnableSQLite makes the archive part of the health verdict.
func (h *HealthStatus) EnableSQLite() {
	h.mu.Lock()
	h.sqliteEnabled = true
	h.sqliteOK = true
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb goredis.UniversalClient) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.redisConnected = err == nil
	h.redisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.lastCheckAt = h.now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.sqliteOK = err == nil
	h.sqliteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.lastCheckAt = h.now()
	h.mu.Unlock()
}

// RunLivenessChecker runs periodic dependency checks until ctx is done.
// Either dependency may be nil.
func (h *HealthStatus) RunLivenessChecker(ctx context.Context, rdb goredis.UniversalClient, sqlDB *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if rdb != nil {
				h.CheckRedis(checkCtx, rdb)
			}
			if sqlDB != nil {
				h.CheckSQLite(checkCtx, sqlDB)
			}
			cancel()
		}
	}
}

type symbolHealth struct {
	Symbol       string `json:"symbol"`
	Connected    bool   `json:"connected"`
	LastTickTime string `json:"last_tick_time,omitempty"`
	TickAge      string `json:"tick_age,omitempty"`
}

type healthReport struct {
	Status          string         `json:"status"`
	Uptime          string         `json:"uptime"`
	Symbols         []symbolHealth `json:"symbols"`
	RedisConnected  *bool          `json:"redis_connected,omitempty"`
	RedisLatencyMs  float64        `json:"redis_latency_ms,omitempty"`
	SQLiteOK        *bool          `json:"sqlite_ok,omitempty"`
	SQLiteLatencyMs float64        `json:"sqlite_latency_ms,omitempty"`
	LastCheckAt     string         `json:"last_check_at,omitempty"`
}

// report builds the verdict: healthy when every symbol is connected and
// every enabled dependency is up, unhealthy when no symbol is connected,
// degraded otherwise.
func (h *HealthStatus) report() (healthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	r := healthReport{Uptime: now.Sub(h.startedAt).Round(time.Second).String()}

	up := 0
	for sym, ok := range h.connected {
		sh := symbolHealth{Symbol: sym, Connected: ok}
		if t := h.lastTick[sym]; !t.IsZero() {
			sh.LastTickTime = t.Format(time.RFC3339)
			sh.TickAge = now.Sub(t).Round(time.Millisecond).String()
		}
		if ok {
			up++
		}
		r.Symbols = append(r.Symbols, sh)
	}
	sort.Slice(r.Symbols, func(i, j int) bool { return r.Symbols[i].Symbol < r.Symbols[j].Symbol })

	depsOK := true
	if h.redisEnabled {
		v := h.redisConnected
		r.RedisConnected = &v
		r.RedisLatencyMs = h.redisLatencyMs
		depsOK = depsOK && v
	}
	if h.sqliteEnabled {
		v := h.sqliteOK
		r.SQLiteOK = &v
		r.SQLiteLatencyMs = h.sqliteLatencyMs
		depsOK = depsOK && v
	}
	if !h.lastCheckAt.IsZero() {
		r.LastCheckAt = h.lastCheckAt.Format(time.RFC3339)
	}

	switch {
	case len(h.connected) > 0 && up == 0:
		r.Status = "unhealthy"
		return r, http.StatusServiceUnavailable
	case up < len(h.connected) || !depsOK:
		r.Status = "degraded"
		return r, http.StatusServiceUnavailable
	default:
		r.Status = "healthy"
		return r, http.StatusOK
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.report()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}
