package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	agentsapp "routewatch/internal/agents/application"
	agents "routewatch/internal/agents/domain"
	agentmemory "routewatch/internal/agents/infrastructure/memory"
	agentrepo "routewatch/internal/agents/infrastructure/postgres"
	agenthttp "routewatch/internal/agents/interfaces/http"
	alertapp "routewatch/internal/alerts/application"
	alerts "routewatch/internal/alerts/domain"
	alertmemory "routewatch/internal/alerts/infrastructure/memory"
	alertrepo "routewatch/internal/alerts/infrastructure/postgres"
	alerthttp "routewatch/internal/alerts/interfaces/http"
	alertnotify "routewatch/internal/alerts/notify"
	"routewatch/internal/audit"
	"routewatch/internal/auth"
	"routewatch/internal/broadcast"
	ledgerapp "routewatch/internal/ledger/application"
	ledger "routewatch/internal/ledger/domain"
	ledgermemory "routewatch/internal/ledger/infrastructure/memory"
	ledgerrepo "routewatch/internal/ledger/infrastructure/postgres"
	"routewatch/internal/observability/metrics"
	schedulerapp "routewatch/internal/scheduler/application"
)

type config struct {
	DatabaseURL          string        `env:"DATABASE_URL"`
	HTTPAddr             string        `env:"HTTP_ADDR" envDefault:":8080"`
	JWTSecret            string        `env:"AUTH_JWT_SECRET"`
	LogMode              string        `env:"LOG_MODE" envDefault:"production"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
	AgentsConfig         string        `env:"AGENTS_CONFIG"`
	TickTimeout          time.Duration `env:"SCHEDULER_TICK_TIMEOUT" envDefault:"30s"`
	RunOnStart           bool          `env:"SCHEDULER_RUN_ON_START" envDefault:"true"`
	HubBuffer            int           `env:"HUB_SUBSCRIBER_BUFFER" envDefault:"64"`
	PriorityBands        string        `env:"PRIORITY_BANDS"`
	WSPongWait           time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`
	WSWriteWait          time.Duration `env:"WS_WRITE_WAIT" envDefault:"10s"`
	AlertWebhookURL      string        `env:"ALERT_WEBHOOK_URL"`
	AlertNotifyTemplate  string        `env:"ALERT_NOTIFY_TEMPLATE"`
	AlertReminderAfter   time.Duration `env:"ALERT_NOTIFY_REMINDER_AFTER"`
	AlertNotifyMin       string        `env:"ALERT_NOTIFY_MIN_PRIORITY" envDefault:"low"`
	AlertNotifyCooldown  time.Duration `env:"ALERT_NOTIFY_COOLDOWN"`
	AlertNotifyDedupe    time.Duration `env:"ALERT_NOTIFY_DEDUP_WINDOW"`
	AlertNotifyTimeout   time.Duration `env:"ALERT_NOTIFY_TIMEOUT" envDefault:"5s"`
	AlertDashboardURL    string        `env:"ALERT_DASHBOARD_BASE_URL"`
	NATSURL              string        `env:"NATS_URL"`
	NATSSubject          string        `env:"NATS_SUBJECT" envDefault:"routewatch.alerts"`
	RedisAddr            string        `env:"REDIS_ADDR"`
	RedisPassword        string        `env:"REDIS_PASSWORD"`
	RedisDB              int           `env:"REDIS_DB" envDefault:"0"`
	RedisChannel         string        `env:"REDIS_CHANNEL" envDefault:"routewatch:alerts"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	MetricIngestDisabled bool          `env:"METRIC_INGEST_DISABLED" envDefault:"false"`
}

// metricStore is a metric source that also accepts pushed observations.
type metricStore interface {
	agents.MetricSource
	Record(ctx context.Context, metrics ...agents.Metric) error
}

type stores struct {
	db      *sql.DB
	alerts  alerts.Repository
	ledger  ledger.Store
	metrics metricStore
	audit   audit.Logger
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}

	logger, err := newLogger(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("storage error", zap.Error(err))
	}
	if st.db != nil {
		defer st.db.Close()
	}
	metrics.Init(st.db, logger)

	bands := alerts.DefaultPriorityBands()
	if cfg.PriorityBands != "" {
		bands, err = alerts.ParsePriorityBands(cfg.PriorityBands)
		if err != nil {
			logger.Fatal("priority bands error", zap.Error(err))
		}
	}

	hub := broadcast.NewHub(broadcast.WithBufferSize(cfg.HubBuffer), broadcast.WithLogger(logger.Named("hub")))
	manager, err := alertapp.NewManager(st.alerts, hub,
		alertapp.WithLogger(logger.Named("alerts")),
		alertapp.WithAuditLogger(st.audit),
		alertapp.WithPriorityBands(bands),
	)
	if err != nil {
		logger.Fatal("alert manager error", zap.Error(err))
	}
	if err := manager.Bootstrap(ctx); err != nil {
		logger.Fatal("alert bootstrap error", zap.Error(err))
	}

	relays, closers := buildRelays(cfg, hub, manager, logger)
	defer func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}()
	if relays.Len() > 0 {
		go relays.Run(ctx)
	}

	book, err := ledgerapp.New(st.ledger, ledgerapp.WithLogger(logger.Named("ledger")))
	if err != nil {
		logger.Fatal("ledger error", zap.Error(err))
	}

	defs, err := agentsapp.LoadConfig(cfg.AgentsConfig)
	if err != nil {
		logger.Fatal("agents config error", zap.Error(err))
	}
	registry, err := agentsapp.NewRegistry(defs)
	if err != nil {
		logger.Fatal("agent registry error", zap.Error(err))
	}

	schedulerLogger := logger.Named("scheduler")
	scheduler, err := schedulerapp.New(st.metrics, manager, book,
		schedulerapp.WithLogger(schedulerLogger),
		schedulerapp.WithTickTimeout(cfg.TickTimeout),
		schedulerapp.WithRunOnStart(cfg.RunOnStart),
		schedulerapp.WithOverrunHook(func(agentName string, consecutive int) {
			if consecutive > 0 && consecutive%5 == 0 {
				schedulerLogger.Warn("agent keeps overrunning its interval",
					zap.String("agent", agentName), zap.Int("consecutive_skips", consecutive))
			}
		}),
	)
	if err != nil {
		logger.Fatal("scheduler error", zap.Error(err))
	}
	if err := scheduler.Start(ctx, registry.Enabled()); err != nil {
		logger.Fatal("scheduler start error", zap.Error(err))
	}
	defer scheduler.Stop()

	alertHandler, err := alerthttp.NewHandler(manager, hub,
		alerthttp.WithLogger(logger.Named("http.alerts")),
		alerthttp.WithWSConfig(alerthttp.WSConfig{PongWait: cfg.WSPongWait, WriteWait: cfg.WSWriteWait}),
	)
	if err != nil {
		logger.Fatal("alert handler error", zap.Error(err))
	}
	agentOpts := []agenthttp.Option{agenthttp.WithLogger(logger.Named("http.agents"))}
	if !cfg.MetricIngestDisabled {
		agentOpts = append(agentOpts, agenthttp.WithMetricRecorder(st.metrics))
	}
	agentHandler, err := agenthttp.NewHandler(registry, scheduler, book, agentOpts...)
	if err != nil {
		logger.Fatal("agent handler error", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler { return loggingMiddleware(next, logger.Named("http")) })
	router.Use(authMiddleware.Wrap)
	alertHandler.Register(router)
	agentHandler.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if st.db != nil {
			if err := st.db.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		// streams only end when their request context does
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("http listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Bool("postgres", st.db != nil),
		zap.Int("agents", len(registry.Enabled())),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
	logger.Info("shutting down")
}

func openStores(ctx context.Context, databaseURL string, logger *zap.Logger) (stores, error) {
	if databaseURL == "" {
		logger.Warn("DATABASE_URL not set, running on in-memory storage")
		return stores{
			alerts:  alertmemory.NewAlertRepository(),
			ledger:  ledgermemory.NewStore(),
			metrics: agentmemory.NewMetricSource(),
			audit:   audit.NewMemoryLogger(),
		}, nil
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return stores{}, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	return stores{
		db:      db,
		alerts:  alertrepo.NewAlertRepository(db),
		ledger:  ledgerrepo.NewStore(db),
		metrics: agentrepo.NewMetricSource(db),
		audit:   audit.NewRepository(db),
	}, nil
}

func buildRelays(cfg config, hub *broadcast.Hub, reader alertnotify.AlertReader, logger *zap.Logger) (*alertnotify.RelayGroup, []func()) {
	sinks := alertnotify.NewRelayGroup(hub, logger.Named("relay"))
	var closers []func()

	if cfg.AlertWebhookURL != "" {
		channel, err := alertnotify.NewWebhookChannel(cfg.AlertWebhookURL)
		if err != nil {
			logger.Fatal("alert webhook error", zap.Error(err))
		}
		tpl, err := alertnotify.NewTemplate(cfg.AlertNotifyTemplate)
		if err != nil {
			logger.Fatal("alert template error", zap.Error(err))
		}
		opts := []alertnotify.Option{
			alertnotify.WithLogger(logger.Named("notify")),
			alertnotify.WithReminder(cfg.AlertReminderAfter),
			alertnotify.WithMinPriority(alerts.Priority(strings.ToLower(cfg.AlertNotifyMin))),
			alertnotify.WithCooldown(cfg.AlertNotifyCooldown),
			alertnotify.WithDedupeWindow(cfg.AlertNotifyDedupe),
			alertnotify.WithRequestTimeout(cfg.AlertNotifyTimeout),
		}
		if base := strings.TrimRight(cfg.AlertDashboardURL, "/"); base != "" {
			opts = append(opts, alertnotify.WithDashboardURLResolver(func(alert alerts.Alert) string {
				return base + "/alerts/" + alert.ID
			}))
		}
		notifier, err := alertnotify.NewNotifier(reader, channel, tpl, opts...)
		if err != nil {
			logger.Fatal("alert notifier error", zap.Error(err))
		}
		sinks.Add("webhook", notifier)
		closers = append(closers, notifier.Close)
	}

	if cfg.NATSURL != "" {
		sink, err := alertnotify.NewNATSSink(cfg.NATSURL, cfg.NATSSubject, logger.Named("nats"))
		if err != nil {
			logger.Fatal("nats sink error", zap.Error(err))
		}
		sinks.Add("nats", sink)
		closers = append(closers, sink.Close)
	}

	if cfg.RedisAddr != "" {
		sink, err := alertnotify.NewRedisSink(alertnotify.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		}, logger.Named("redis"))
		if err != nil {
			logger.Fatal("redis sink error", zap.Error(err))
		}
		sinks.Add("redis", sink)
		closers = append(closers, func() {
			if err := sink.Close(); err != nil {
				logger.Warn("redis close", zap.Error(err))
			}
		})
	}
	return sinks, closers
}

func newLogger(mode, level string) (*zap.Logger, error) {
	var zcfg zap.Config
	if mode == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(parsed)
	return zcfg.Build()
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE working through the wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack hands the connection to the WebSocket upgrader.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: hijack not supported")
	}
	return hijacker.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
