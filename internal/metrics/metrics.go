// Package metrics exposes Prometheus metrics and a health endpoint for
// the alert daemon.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the alert daemon.
type Metrics struct {
	TicksTotal      prometheus.Counter
	StreamReconnect prometheus.Counter
	StreamState     prometheus.Gauge // 0=disconnected..4=reconnecting, see stream.State

	AlertsActive    prometheus.Gauge
	AlertsEvaluated prometheus.Counter
	AlertsFired     *prometheus.CounterVec // labels: type
	AlertsSwept     prometheus.Counter

	IndicatorCacheHits   prometheus.Counter
	IndicatorCacheMisses prometheus.Counter

	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips prometheus.Counter

	NotifyFailures prometheus.Counter
}

// New registers and returns all metrics.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertstream_ticks_total",
			Help: "Total price updates received from the stream",
		}),
		StreamReconnect: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertstream_stream_reconnects_total",
			Help: "Total stream reconnection attempts",
		}),
		StreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertstream_stream_state",
			Help: "Connection state (0=disconnected, 1=connecting, 2=authenticating, 3=authenticated, 4=reconnecting)",
		}),
		AlertsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertstream_alerts_active",
			Help: "Active alerts currently stored",
		}),
		AlertsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertstream_alerts_evaluated_total",
			Help: "Alert condition evaluations performed",
		}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertstream_alerts_fired_total",
			Help: "Alerts fired (by alert type)",
		}, []string{"type"}),
		AlertsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertstream_alerts_swept_total",
			Help: "Stale alerts removed by the retention sweeper",
		}),
		IndicatorCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertstream_indicator_cache_hits_total",
			Help: "Indicator snapshot cache hits",
		}),
		IndicatorCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertstream_indicator_cache_misses_total",
			Help: "Indicator snapshot cache misses (recomputes)",
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertstream_redis_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertstream_redis_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertstream_notify_failures_total",
			Help: "Notification deliveries that failed",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.StreamReconnect,
		m.StreamState,
		m.AlertsActive,
		m.AlertsEvaluated,
		m.AlertsFired,
		m.AlertsSwept,
		m.IndicatorCacheHits,
		m.IndicatorCacheMisses,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.NotifyFailures,
	)
	return m
}

// HealthStatus tracks liveness of the daemon's dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	LastTickTime    time.Time `json:"last_tick_time"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	MonitorRunning  bool      `json:"monitor_running"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		// Backends not in use stay healthy.
		RedisConnected: true,
		SQLiteOK:       true,
	}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetMonitorRunning(v bool) {
	h.mu.Lock()
	h.MonitorRunning = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
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

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency probes until ctx ends.
// Either backend may be nil when not configured.
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
					h.CheckSQLite(probeCtx, sqlDB)
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

	overall := "healthy"
	code := http.StatusOK
	if !h.StreamConnected || !h.RedisConnected || !h.SQLiteOK {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StreamConnected bool    `json:"stream_connected"`
		MonitorRunning  bool    `json:"monitor_running"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	}{
		Status:          overall,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		MonitorRunning:  h.MonitorRunning,
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates the metrics and health server.
func NewServer(addr string, health *HealthStatus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		log:  log,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", "err", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
