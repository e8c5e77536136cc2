package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the screener service.
type Metrics struct {
	registry *prometheus.Registry

	// Refresh engine
	RefreshCycles   *prometheus.CounterVec // labels: trigger
	RefreshErrors   prometheus.Counter
	RefreshDuration prometheus.Histogram
	StocksRefreshed prometheus.Counter
	LastRefreshUnix prometheus.Gauge
	WatchlistSize   prometheus.Gauge

	// Upstream data provider
	UpstreamRequests *prometheus.CounterVec   // labels: endpoint, status
	UpstreamDuration *prometheus.HistogramVec // labels: endpoint
	RateLimitHits    prometheus.Counter

	// Quote cache
	QuoteCacheHits   prometheus.Counter
	QuoteCacheMisses prometheus.Counter

	// HTTP API
	HTTPRequests *prometheus.CounterVec   // labels: method, path, status
	HTTPDuration *prometheus.HistogramVec // labels: method, path

	// Orders and stream
	OrdersPlaced  *prometheus.CounterVec // labels: mode (live|mock)
	StreamClients prometheus.Gauge

	// Backtest
	BacktestRuns prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics on a private
// registry, so repeated construction in tests does not collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RefreshCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_refresh_cycles_total",
			Help: "Refresh cycles run, by trigger (scheduled, manual, single)",
		}, []string{"trigger"}),
		RefreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_refresh_errors_total",
			Help: "Per-stock refresh failures across all cycles",
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_refresh_duration_seconds",
			Help:    "Wall time of a full refresh cycle",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		StocksRefreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_stocks_refreshed_total",
			Help: "Stocks successfully refreshed across all cycles",
		}),
		LastRefreshUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_last_refresh_timestamp_seconds",
			Help: "Unix time the last refresh cycle finished",
		}),
		WatchlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_watchlist_size",
			Help: "Stocks currently in the watchlist",
		}),

		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_upstream_requests_total",
			Help: "Requests to the market data provider, by endpoint and HTTP status",
		}, []string{"endpoint", "status"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screener_upstream_request_duration_seconds",
			Help:    "Market data provider request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_upstream_rate_limit_hits_total",
			Help: "HTTP 429 responses from the market data provider",
		}),

		QuoteCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_quote_cache_hits_total",
			Help: "Quote reads served from the cache",
		}),
		QuoteCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_quote_cache_misses_total",
			Help: "Quote reads that fell through to the provider",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_http_requests_total",
			Help: "API requests, by method, route and status",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screener_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_orders_placed_total",
			Help: "Orders placed through the broker, by mode (live, mock)",
		}, []string{"mode"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_stream_clients",
			Help: "Connected refresh-stream WebSocket clients",
		}),

		BacktestRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_backtest_runs_total",
			Help: "Trend-persistence backtests served",
		}),
	}

	m.registry.MustRegister(
		m.RefreshCycles,
		m.RefreshErrors,
		m.RefreshDuration,
		m.StocksRefreshed,
		m.LastRefreshUnix,
		m.WatchlistSize,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.RateLimitHits,
		m.QuoteCacheHits,
		m.QuoteCacheMisses,
		m.HTTPRequests,
		m.HTTPDuration,
		m.OrdersPlaced,
		m.StreamClients,
		m.BacktestRuns,
	)

	return m
}

// Handler exposes the private registry for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpstream records one market data provider request. Nil-safe so the
// provider client can run without metrics wired.
func (m *Metrics) ObserveUpstream(endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.UpstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	if status == http.StatusTooManyRequests {
		m.RateLimitHits.Inc()
	}
}

// ObserveHTTP records one API request against the matched route template.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// OrdersPlacedInc counts one placed order by mode (live, mock).
func (m *Metrics) OrdersPlacedInc(mode string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(mode).Inc()
}

// BacktestRunInc counts one served backtest.
func (m *Metrics) BacktestRunInc() {
	if m == nil {
		return
	}
	m.BacktestRuns.Inc()
}

// CycleFinished records the outcome of one refresh cycle.
func (m *Metrics) CycleFinished(trigger string, refreshed, failed int, d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshCycles.WithLabelValues(trigger).Inc()
	m.StocksRefreshed.Add(float64(refreshed))
	m.RefreshErrors.Add(float64(failed))
	m.RefreshDuration.Observe(d.Seconds())
	m.LastRefreshUnix.SetToCurrentTime()
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	UpstoxConfigured bool      `json:"upstox_configured"`
	RedisConnected   bool      `json:"redis_connected"`
	JournalOK        bool      `json:"journal_ok"`
	LastRefreshAt    time.Time `json:"last_refresh_at"`
	WatchlistSize    int       `json:"watchlist_size"`

	// Liveness probe results
	RedisLatencyMs   float64   `json:"redis_latency_ms"`
	JournalLatencyMs float64   `json:"journal_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetUpstoxConfigured(v bool) {
	h.mu.Lock()
	h.UpstoxConfigured = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetJournalOK(v bool) {
	h.mu.Lock()
	h.JournalOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastRefreshAt(t time.Time) {
	h.mu.Lock()
	h.LastRefreshAt = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetWatchlistSize(n int) {
	h.mu.Lock()
	h.WatchlistSize = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckJournal runs a trivial query against the cycle journal and records
// latency + health.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckJournal(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Redis and the journal are optional dependencies, and an unconfigured
	// provider falls back to mock data. Degraded still answers 200.
	overallStatus := "healthy"
	if !h.UpstoxConfigured || !h.RedisConnected {
		overallStatus = "degraded"
	}

	lastRefresh := ""
	refreshAge := ""
	if !h.LastRefreshAt.IsZero() {
		lastRefresh = h.LastRefreshAt.Format(time.RFC3339)
		refreshAge = time.Since(h.LastRefreshAt).Round(time.Second).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		UpstoxConfigured bool    `json:"upstox_configured"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		JournalOK        bool    `json:"journal_ok"`
		JournalLatencyMs float64 `json:"journal_latency_ms"`
		WatchlistSize    int     `json:"watchlist_size"`
		LastRefreshAt    string  `json:"last_refresh_at"`
		RefreshAge       string  `json:"refresh_age"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		UpstoxConfigured: h.UpstoxConfigured,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		WatchlistSize:    h.WatchlistSize,
		LastRefreshAt:    lastRefresh,
		RefreshAge:       refreshAge,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
