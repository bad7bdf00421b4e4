// Package metrics holds the Prometheus collectors, the health status and the
// HTTP server exposing /metrics and /healthz.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tradebot"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Ingest
	TicksTotal     *prometheus.CounterVec // labels: symbol
	MalformedTicks *prometheus.CounterVec // labels: symbol
	LateTicks      *prometheus.CounterVec // labels: symbol
	Reconnects     *prometheus.CounterVec // labels: symbol
	Connected      *prometheus.GaugeVec   // labels: symbol

	// Aggregation and signals
	CandlesTotal *prometheus.CounterVec // labels: symbol
	SignalsTotal *prometheus.CounterVec // labels: symbol, signal

	// Trading
	OrdersTotal *prometheus.CounterVec // labels: symbol, side, result
	StopExits   *prometheus.CounterVec // labels: symbol

	// Stage latency per processed message
	StageLatency *prometheus.HistogramVec // labels: stage

	// Backpressure
	FanoutBlocked        *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Sinks
	SQLiteCommits            *prometheus.CounterVec // labels: result
	RedisErrors              *prometheus.CounterVec // labels: kind
	RedisCircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	FeedDropped              prometheus.Counter
}

// NewMetrics creates all collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Trade ticks received from the exchange",
		}, []string{"symbol"}),
		MalformedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_ticks_total",
			Help:      "Ticks skipped because they failed validation",
		}, []string{"symbol"}),
		LateTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_ticks_total",
			Help:      "Ticks dropped because they predate the open bar",
		}, []string{"symbol"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Market data reconnection attempts",
		}, []string{"symbol"}),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "Market data connection state (1=connected)",
		}, []string{"symbol"}),

		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candles_total",
			Help:      "Completed candles emitted by the aggregator",
		}, []string{"symbol"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Live signals produced, by kind",
		}, []string{"symbol", "signal"}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders submitted, by side and result",
		}, []string{"symbol", "side", "result"}),
		StopExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_exits_total",
			Help:      "Trailing stop exits triggered",
		}, []string{"symbol"}),

		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Processing time per message and stage",
			Buckets:   []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01, 0.1, 1},
		}, []string{"stage"}),

		FanoutBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_blocked_total",
			Help:      "Fan-out sends that had to wait for a full subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_saturation_pct",
			Help:      "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		SQLiteCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sqlite_commits_total",
			Help:      "Candle archive batch commits, by result",
		}, []string{"result"}),
		RedisErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_publish_errors_total",
			Help:      "Failed or rejected Redis publications",
		}, []string{"kind"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_circuit_breaker_state",
			Help:      "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_circuit_breaker_trips_total",
			Help:      "Times the Redis circuit breaker tripped open",
		}),
		FeedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_dropped_total",
			Help:      "Websocket feed frames dropped for slow clients",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.MalformedTicks,
		m.LateTicks,
		m.Reconnects,
		m.Connected,
		m.CandlesTotal,
		m.SignalsTotal,
		m.OrdersTotal,
		m.StopExits,
		m.StageLatency,
		m.FanoutBlocked,
		m.ChannelSaturationPct,
		m.SQLiteCommits,
		m.RedisErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.FeedDropped,
	)

	return m
}

// ObserveStage records the time spent in stage since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// SetSaturation records how full a channel is.
func (m *Metrics) SetSaturation(name string, length, capacity int) {
	if capacity <= 0 {
		return
	}
	m.ChannelSaturationPct.WithLabelValues(name).Set(float64(length) / float64(capacity) * 100)
}

// SetConnected flips the per-symbol connection gauge.
func (m *Metrics) SetConnected(symbol string, v bool) {
	g := m.Connected.WithLabelValues(symbol)
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// CommitResult counts an archive commit.
func (m *Metrics) CommitResult(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SQLiteCommits.WithLabelValues(result).Inc()
}
