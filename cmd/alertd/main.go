// alertd is the alert daemon: it holds one authenticated stream
// connection over the alert symbol set, evaluates price and indicator
// alerts on every tick, and serves the REST API charts manage alerts
// through.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"alertstream/config"
	"alertstream/internal/alertstore"
	"alertstream/internal/api"
	"alertstream/internal/auth"
	"alertstream/internal/indicator"
	"alertstream/internal/logger"
	"alertstream/internal/markethours"
	"alertstream/internal/metrics"
	"alertstream/internal/model"
	"alertstream/internal/monitor"
	"alertstream/internal/notification"
	"alertstream/internal/ringbuf"
	redisstore "alertstream/internal/store/redis"
	sqlitestore "alertstream/internal/store/sqlite"
	"alertstream/internal/stream"
	"alertstream/internal/tickstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "err", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.Init("alertd", logger.Options{
		Level: logger.ParseLevel(cfg.LogLevel),
		File:  cfg.LogFile,
	})
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	health := metrics.NewHealthStatus()

	// --- storage backend ---
	var (
		storage  alertstore.Storage
		sqlStore *sqlitestore.Store
		rdsStore *redisstore.Store
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		sqlStore, err = sqlitestore.Open(cfg.Storage.SQLitePath, log)
		if err != nil {
			log.Error("sqlite open failed", "err", err)
			os.Exit(1)
		}
		defer sqlStore.Close()
		storage = sqlStore
	case "redis":
		rdsStore, err = redisstore.Open(redisstore.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		}, log)
		if err != nil {
			log.Error("redis open failed", "err", err)
			os.Exit(1)
		}
		defer rdsStore.Close()
		rdsStore.OnBreakerChange = func(_, to redisstore.BreakerState) {
			m.RedisBreakerState.Set(float64(to))
			if to == redisstore.BreakerOpen {
				m.RedisBreakerTrips.Inc()
			}
		}
		storage = rdsStore
	default:
		storage = alertstore.NewMemoryStorage()
	}

	alerts := alertstore.New(storage, log)
	alerts.OnSweep = func(removed int) { m.AlertsSwept.Add(float64(removed)) }

	// --- stream ---
	var creds stream.Credentials
	var session *auth.SessionCredentials
	if cfg.Stream.APIKey != "" {
		creds = stream.StaticCredentials{Key: cfg.Stream.APIKey, URL: cfg.Stream.URL}
	} else {
		session = auth.NewSessionCredentials(
			cfg.Stream.LoginURL, cfg.Stream.URL,
			cfg.Stream.ClientCode, cfg.Stream.Password, cfg.Stream.TOTPSecret, log)
		creds = session
	}

	mgr := stream.New(stream.WebSocketDialer(), creds, log)
	if session != nil {
		// A rejected handshake means the cached session token went bad;
		// force a fresh TOTP login on the next connect.
		mgr.OnAuthReject = session.Invalidate
	}
	mgr.ReconnectDelay = cfg.Stream.ReconnectDelay
	mgr.OnStateChange = func(s stream.State) {
		m.StreamState.Set(float64(s))
		health.SetStreamConnected(s == stream.StateAuthenticated)
	}
	mgr.OnReconnect = func() { m.StreamReconnect.Inc() }

	// --- evaluation pipeline ---
	ticks := tickstore.New(log)
	cache := indicator.NewCache(cfg.Cache.TTL)
	cache.OnHit = m.IndicatorCacheHits.Inc
	cache.OnMiss = m.IndicatorCacheMisses.Inc

	mon := monitor.New(monitor.ManagerStreams{M: mgr}, alerts, cache, ticks, log)
	mon.OnEvaluate = m.AlertsEvaluated.Inc

	notifier := buildNotifier(cfg, log)
	mon.Start(func(ev model.TriggerEvent) {
		m.AlertsFired.WithLabelValues(string(ev.AlertType)).Inc()
		go func() {
			nctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			if err := notifier.Notify(nctx, ev); err != nil {
				m.NotifyFailures.Inc()
			}
		}()
	})
	defer mon.Stop()

	// --- tick archive (sqlite backend only) ---
	if sqlStore != nil {
		startTickArchiver(ctx, sqlStore, ticks, log)
	}

	// --- background sweepers ---
	go alerts.RunSweeper(ctx, cfg.Alerts.SweepInterval, cfg.Alerts.Retention)
	go runCacheSweeper(ctx, cache)
	go trackHealth(ctx, ticks, mon, alerts, m, health)

	// --- metrics + liveness ---
	msrv := metrics.NewServer(cfg.MetricsAddr, health, log)
	msrv.Start()
	if rdsStore != nil || sqlStore != nil {
		var rdb *goredis.Client
		var sdb *sql.DB
		if rdsStore != nil {
			rdb = rdsStore.Client()
		}
		if sqlStore != nil {
			sdb = sqlStore.DB()
		}
		health.StartLivenessChecker(ctx, rdb, sdb, 30*time.Second)
	}

	// --- REST API ---
	handler := api.New(alerts, mon, ticks, mgr.State, log)
	srv := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: handler.Router(cfg.API.CORSOrigins),
	}
	go func() {
		log.Info("api server listening", "addr", cfg.API.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("api server error", "err", err)
			stop()
		}
	}()

	log.Info("alertd started",
		"storage", cfg.Storage.Backend,
		"market", markethours.StatusString(time.Now()))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	msrv.Stop(shutdownCtx)
}

func buildNotifier(cfg *config.Config, log *slog.Logger) notification.Notifier {
	backends := []notification.Notifier{notification.NewLogNotifier(log)}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		backends = append(backends,
			notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
		log.Info("telegram notifications enabled")
	}
	if cfg.Notify.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
		log.Info("webhook notifications enabled", "url", cfg.Notify.WebhookURL)
	}
	return notification.NewMulti(log, backends...)
}

// startTickArchiver wires the tick store into the SQLite archive through
// an SPSC ring, so a slow disk never blocks the stream's delivery path.
func startTickArchiver(ctx context.Context, store *sqlitestore.Store, ticks *tickstore.Store, log *slog.Logger) {
	ring := ringbuf.New(8192)
	unsub := ticks.SubscribeAll(func(key string, t model.Tick) {
		ring.Push(ringbuf.Entry{Key: key, Tick: t})
	})

	ch := make(chan sqlitestore.ArchivedTick, 256)
	go store.RunTickArchiver(ctx, ch)

	go func() {
		defer unsub()
		idle := time.NewTicker(10 * time.Millisecond)
		defer idle.Stop()
		var dropped uint64
		for {
			e, ok := ring.Pop()
			if !ok {
				select {
				case <-ctx.Done():
					close(ch)
					return
				case <-idle.C:
				}
				if d := ring.Dropped(); d != dropped {
					log.Warn("tick archive overflow", "dropped", d-dropped)
					dropped = d
				}
				continue
			}
			select {
			case <-ctx.Done():
				close(ch)
				return
			case ch <- sqlitestore.ArchivedTick{Key: e.Key, Tick: e.Tick}:
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := store.PruneTicks(24 * time.Hour); err == nil && n > 0 {
					log.Info("pruned archived ticks", "rows", n)
				}
			}
		}
	}()
}

func runCacheSweeper(ctx context.Context, cache *indicator.Cache) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.Sweep()
		}
	}
}

// trackHealth keeps the gauges and liveness fields that have no natural
// event hook refreshed on a short interval.
func trackHealth(ctx context.Context, ticks *tickstore.Store, mon *monitor.Monitor, alerts *alertstore.Store, m *metrics.Metrics, health *metrics.HealthStatus) {
	unsub := ticks.SubscribeAll(func(string, model.Tick) {
		m.TicksTotal.Inc()
		health.SetLastTickTime(time.Now())
	})
	defer unsub()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := 0
			for _, a := range alerts.List() {
				if a.Status == model.StatusActive {
					active++
				}
			}
			m.AlertsActive.Set(float64(active))
			health.SetMonitorRunning(mon.Running())
		}
	}
}
