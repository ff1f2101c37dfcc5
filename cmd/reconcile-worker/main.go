package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pawtrait/pawtrait-api/internal/config"
	"github.com/pawtrait/pawtrait-api/internal/domain/generation"
	"github.com/pawtrait/pawtrait-api/internal/pkg/database"
	"github.com/pawtrait/pawtrait-api/internal/pkg/imaging"
	"github.com/pawtrait/pawtrait-api/internal/pkg/kie"
	"github.com/pawtrait/pawtrait-api/internal/pkg/logger"
	"github.com/pawtrait/pawtrait-api/internal/pkg/storage"
	"github.com/pawtrait/pawtrait-api/internal/pkg/tasklock"
	"github.com/pawtrait/pawtrait-api/internal/pkg/wakeup"
)

const batchSize = 50

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "reconcile-worker",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
	}

	log.Info().
		Dur("interval", cfg.ReconcileInterval).
		Dur("max_age", cfg.TaskMaxAge).
		Msg("Starting reconcile-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if err := database.Migrate(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, running on the ticker only")
		rdb = nil
	}
	defer database.CloseRedis(rdb)

	blobs, err := storage.New(context.Background(), cfg.StorageConfig())
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("Failed to create storage")
	}

	kieClient := kie.NewClient(kie.Config{
		APIKey:  cfg.KieAPIKey,
		BaseURL: cfg.KieBaseURL,
		Model:   cfg.KieModel,
		Timeout: cfg.KieRequestTimeout,
	})
	if !kieClient.Configured() {
		log.Warn().Msg("KIE_AI_API_KEY is not set, only stale-task expiry will run")
	}

	reconciler := generation.NewReconciler(
		generation.NewRepository(db),
		kieClient,
		generation.NewMaterializer(blobs, imaging.NewProcessor(imaging.DefaultConfig()), nil),
		tasklock.New(rdb, 2*time.Minute),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis pub/sub wake-up; the ticker still runs
	wake := make(chan struct{}, 1)
	go wakeup.Subscribe(ctx, rdb, wake)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	interval := cfg.ReconcileInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconcile-worker stopped")
			return
		case <-wake:
		case <-ticker.C:
		}

		runOnce(ctx, reconciler, kieClient.Configured(), cfg.TaskMaxAge)
	}
}

func runOnce(ctx context.Context, reconciler *generation.Reconciler, polling bool, maxAge time.Duration) {
	start := time.Now()

	expired, err := reconciler.ExpireStale(ctx, maxAge, start)
	if err != nil {
		log.Error().Err(err).Msg("Failed to expire stale tasks")
	}

	finished := 0
	if polling {
		finished, err = reconciler.ReconcileOpen(ctx, batchSize)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to reconcile open tasks")
		}
	}

	if finished > 0 || len(expired) > 0 {
		log.Info().
			Int("finished", finished).
			Int("expired", len(expired)).
			Dur("took", time.Since(start)).
			Msg("Reconcile pass done")
	}
}
