package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	// Relational drivers; selected via PULSE_DB_DRIVER.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/calyptra/pulse/pkg/config"
	"github.com/calyptra/pulse/pkg/events"
	"github.com/calyptra/pulse/pkg/observability"
	"github.com/calyptra/pulse/pkg/storage"
)

func main() {
	runOnce := flag.Bool("run-once", false, "flush once and exit")
	schedule := flag.String("schedule", envOr("PULSE_FLUSH_SCHEDULE", "@every 1m"), "cron schedule for queue flushes")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if !cfg.Storage.HasRedis() {
		log.Fatal("the aggregator requires the redis queue tier (PULSE_REDIS_URL)")
	}

	redisClient, err := storage.NewRedisClient(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()

	opts := events.PipelineOptions{
		Queue:      events.NewQueue(redisClient),
		FlushLimit: cfg.Telemetry.FlushBatchLimit,
		Location:   cfg.Storage.Location(),
	}
	var store events.RollupStore
	if cfg.Storage.HasDatabase() {
		db, err := storage.OpenDatabase(cfg.Storage)
		if err != nil {
			log.WithError(err).Fatal("failed to open database")
		}
		defer db.Close()
		store = events.NewSQLStore(db)
		opts.Store = store
	} else {
		log.Warn("no database configured; flushed events stay in process memory")
	}

	appLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	pipeline := events.NewPipeline(opts, appLogger, nil)

	flush := func() {
		start := time.Now()
		total := 0
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			result, err := pipeline.Flush(ctx, cfg.Telemetry.FlushBatchLimit)
			cancel()
			if err != nil {
				log.WithError(err).Error("flush failed")
				return
			}
			total += result.Flushed
			// Keep draining while full batches come back.
			if result.Flushed < cfg.Telemetry.FlushBatchLimit {
				break
			}
		}
		log.WithFields(logrus.Fields{
			"flushed":  total,
			"duration": time.Since(start).String(),
		}).Info("flush complete")
	}

	// Session membership rows only serve unique counting inside their
	// window; drop them once the window is comfortably closed, matching
	// the 48h expiry on the redis session sets.
	prune := func() {
		if store == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		pruned, err := store.PruneSessions(ctx, time.Now().Add(-48*time.Hour))
		if err != nil {
			log.WithError(err).Error("session prune failed")
			return
		}
		log.WithField("pruned", pruned).Info("session prune complete")
	}

	if *runOnce {
		flush()
		prune()
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(*schedule, flush); err != nil {
		log.WithError(err).Fatalf("invalid schedule %q", *schedule)
	}
	if _, err := scheduler.AddFunc("@daily", prune); err != nil {
		log.WithError(err).Fatal("invalid prune schedule")
	}

	log.WithField("schedule", *schedule).Info("aggregator started")
	scheduler.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	<-scheduler.Stop().Done()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
