package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pawtrait/pawtrait-api/internal/config"
	"github.com/pawtrait/pawtrait-api/internal/domain/billing"
	"github.com/pawtrait/pawtrait-api/internal/domain/credit"
	"github.com/pawtrait/pawtrait-api/internal/domain/generation"
	"github.com/pawtrait/pawtrait-api/internal/domain/payment"
	"github.com/pawtrait/pawtrait-api/internal/middleware"
	"github.com/pawtrait/pawtrait-api/internal/pkg/database"
	"github.com/pawtrait/pawtrait-api/internal/pkg/imaging"
	"github.com/pawtrait/pawtrait-api/internal/pkg/jwt"
	"github.com/pawtrait/pawtrait-api/internal/pkg/kie"
	"github.com/pawtrait/pawtrait-api/internal/pkg/logger"
	"github.com/pawtrait/pawtrait-api/internal/pkg/storage"
	"github.com/pawtrait/pawtrait-api/internal/pkg/stripecheckout"
	"github.com/pawtrait/pawtrait-api/internal/pkg/tasklock"
	"github.com/pawtrait/pawtrait-api/internal/pkg/wakeup"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "pawtrait-api",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Pawtrait API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if err := database.Migrate(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, continuing without task locks")
		redis = nil
	}
	defer database.CloseRedis(redis)

	blobs, err := storage.New(context.Background(), cfg.StorageConfig())
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("Failed to create storage")
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTTokenTTL)

	if !cfg.KieConfigured() {
		log.Warn().Msg("KIE_AI_API_KEY is not set, generation requests will fail")
	}
	kieClient := kie.NewClient(kie.Config{
		APIKey:  cfg.KieAPIKey,
		BaseURL: cfg.KieBaseURL,
		Model:   cfg.KieModel,
		Timeout: cfg.KieRequestTimeout,
	})
	stripeClient := stripecheckout.New(stripecheckout.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
	})

	// ---------- Repositories ----------
	creditRepo := credit.NewRepository(db)
	paymentRepo := payment.NewRepository(db)
	generationRepo := generation.NewRepository(db)

	// ---------- Services ----------
	creditService := credit.NewService(creditRepo)
	paymentService := payment.NewService(paymentRepo, creditService, stripeClient, payment.Pack{
		PriceID:     cfg.PriceID,
		Name:        cfg.CreditPackName,
		Credits:     cfg.CreditPackCredits,
		AmountCents: int(cfg.CreditPackAmount),
		Currency:    cfg.CreditPackCurrency,
	})

	materializer := generation.NewMaterializer(blobs, imaging.NewProcessor(imaging.DefaultConfig()), nil)
	reconciler := generation.NewReconciler(generationRepo, kieClient, materializer, tasklock.New(redis, 2*time.Minute))
	generationService := generation.NewService(generationRepo, creditService, kieClient, reconciler, wakeup.NewPublisher(redis), generation.Config{
		CreditsPerGeneration: cfg.CreditsPerGeneration,
		CallbackURL:          cfg.CallbackURL(),
	})

	// ---------- Handlers ----------
	generationHandler := generation.NewHandler(generationService, cfg.KieCallbackToken)
	paymentHandler := payment.NewHandler(paymentService, cfg.BaseURL, cfg.StripePublishableKey)
	billingHandler := billing.NewHandler(creditService, paymentService)

	uploadsDir := ""
	if local, ok := blobs.(*storage.LocalStorage); ok {
		uploadsDir = local.BasePath()
	}

	r := newRouter(routes{
		generation:     generationHandler,
		payment:        paymentHandler,
		billing:        billingHandler,
		auth:           middleware.Auth(jwtService),
		allowedOrigins: cfg.AllowedOrigins,
		uploadsDir:     uploadsDir,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
