package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	// Relational drivers; selected via PULSE_DB_DRIVER.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/calyptra/pulse/pkg/auditlog"
	"github.com/calyptra/pulse/pkg/cache"
	"github.com/calyptra/pulse/pkg/config"
	"github.com/calyptra/pulse/pkg/counters"
	"github.com/calyptra/pulse/pkg/events"
	"github.com/calyptra/pulse/pkg/heatmap"
	"github.com/calyptra/pulse/pkg/identity"
	"github.com/calyptra/pulse/pkg/observability"
	"github.com/calyptra/pulse/pkg/ratelimit"
	"github.com/calyptra/pulse/pkg/storage"

	goredis "github.com/go-redis/redis/v8"
)

const (
	writeRateLimit  = 120
	writeRateWindow = time.Minute
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
	}).Info("starting pulse telemetry core")

	ctx := context.Background()

	tracerProvider, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Observability.TracingEnabled,
		Endpoint:    cfg.Observability.TracingEndpoint,
		ServiceName: cfg.Observability.TracingServiceName,
		Insecure:    cfg.Observability.TracingInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}
	defer observability.ShutdownTracing(ctx, tracerProvider, logger)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Storage tiers. Presence is decided by configuration once; a tier that
	// is configured but unreachable at startup is dropped with a warning and
	// the cascade degrades to the remaining tiers.
	var redisClient *goredis.Client
	if cfg.Storage.HasRedis() {
		redisClient, err = storage.NewRedisClient(cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("redis tier unavailable, continuing without it")
			redisClient = nil
		}
	}

	var db *sql.DB
	if cfg.Storage.HasDatabase() {
		db, err = storage.OpenDatabase(cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("relational tier unavailable, continuing without it")
			db = nil
		} else {
			defer db.Close()
		}
	}

	var objects *storage.ObjectClient
	if cfg.Storage.HasObjectStore() {
		objects, err = storage.NewObjectClient(cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("object tier unavailable, continuing without it")
			objects = nil
		}
	}

	loc := cfg.Storage.Location()

	// Counter Store cascade: redis, object document, memory.
	var counterTiers []counters.Backend
	if redisClient != nil {
		counterTiers = append(counterTiers, counters.NewRedisBackend(redisClient))
	}
	if objects != nil {
		counterTiers = append(counterTiers, counters.NewObjectBackend(objects))
	}
	counterTiers = append(counterTiers, counters.NewMemoryBackend())
	counterStore := counters.NewStore(counterTiers, logger, metrics, loc)

	// Heatmap cascade: redis, memory; durable rollup sink when a database
	// is available.
	var heatmapTiers []heatmap.Backend
	if redisClient != nil {
		heatmapTiers = append(heatmapTiers, heatmap.NewRedisBackend(redisClient))
	}
	heatmapTiers = append(heatmapTiers, heatmap.NewMemoryBackend())
	var heatmapSink heatmap.RollupSink
	if db != nil {
		heatmapSink = heatmap.NewSQLRollupSink(db)
	}
	heatmapAggregator := heatmap.NewAggregator(heatmapTiers, heatmapSink, logger, metrics, loc)

	// Event pipeline: queue on redis, rollups in the database, ring last.
	pipelineOpts := events.PipelineOptions{
		BatchLimit: cfg.Telemetry.IngestBatchLimit,
		FlushLimit: cfg.Telemetry.FlushBatchLimit,
		Location:   loc,
	}
	if redisClient != nil {
		pipelineOpts.Queue = events.NewQueue(redisClient)
	}
	if db != nil {
		pipelineOpts.Store = events.NewSQLStore(db)
	}
	pipeline := events.NewPipeline(pipelineOpts, logger, metrics)

	// Audit log cascade: redis list, object document, memory.
	var auditTiers []auditlog.Backend
	if redisClient != nil {
		auditTiers = append(auditTiers, auditlog.NewRedisBackend(redisClient))
	}
	if objects != nil {
		auditTiers = append(auditTiers, auditlog.NewObjectBackend(objects))
	}
	auditTiers = append(auditTiers, auditlog.NewMemoryBackend())
	auditRecorder := auditlog.NewRecorder(auditTiers, logger, metrics)

	resolver, err := cache.NewResolver(cfg.Telemetry.ResolveCacheEntries, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to build resolve cache")
		os.Exit(1)
	}

	ident := identity.NewResolver(cfg.Server.Production)
	limiter := ratelimit.NewLimiter()

	router := mux.NewRouter()
	router.Use(requestIDMiddleware(logger))
	router.Use(metrics.HTTPMiddleware)
	router.Use(ratelimit.WriteMethodMiddleware(limiter, metrics, writeRateLimit, writeRateWindow))

	counters.NewHandler(counterStore, resolver, ident, auditRecorder,
		cfg.Telemetry.ViewerTTL, cfg.Telemetry.AnonymousTTL).Register(router)
	heatmap.NewHandler(heatmapAggregator, resolver).Register(router)
	events.NewHandler(pipeline).Register(router)
	auditlog.NewHandler(auditRecorder).Register(router)

	var apiHandler http.Handler = router
	if cfg.Observability.TracingEnabled {
		apiHandler = otelhttp.NewHandler(router, "pulse")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthChecker := observability.NewHealthChecker(db, redisClient, pinger(objects))
	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc("/healthz", healthChecker.Liveness).Methods(http.MethodGet)
	healthRouter.HandleFunc("/readyz", healthChecker.Readiness).Methods(http.MethodGet)
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.Handler(registry)).Methods(http.MethodGet)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("api server listening on %s", apiServer.Addr)
		errCh <- apiServer.ListenAndServe()
	}()
	go func() {
		logger.Infof("health server listening on %s", healthServer.Addr)
		errCh <- healthServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
		}
	case sig := <-stop:
		logger.Infof("received signal %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("api server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}
	logger.Info("shutdown complete")
}

// pinger adapts the nilable object client for the health checker without
// passing a typed nil through the interface.
func pinger(objects *storage.ObjectClient) observability.Pinger {
	if objects == nil {
		return nil
	}
	return objects
}

// requestIDMiddleware tags every request context with a request id so
// handler logs correlate.
func requestIDMiddleware(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx := observability.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, logger)
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
