package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/app"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/auth"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/config"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/email"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/export"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/generation"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/logging"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/metrics"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/ratelimit"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/search"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		zap.NewExample().Fatal("logger setup failed", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	dataStore := store.NewPostgresStore(db)

	var verifier auth.Verifier
	switch cfg.AuthMode {
	case "firebase":
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.FirebaseCredentialsPath)
		if err != nil {
			logger.Fatal("firebase auth setup failed", zap.Error(err))
		}
		verifier = firebaseVerifier
	default:
		verifier = auth.NewHMACVerifier([]byte(cfg.JWTSecret))
	}

	var limiter ratelimit.Limiter
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLimiter, err := ratelimit.NewRedisLimiter(cfg.RedisURL, cfg.RateLimitPerMinute)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisLimiter.Close()
		logger.Info("rate limiting with redis")
		limiter = redisLimiter
	} else {
		logger.Info("rate limiting in process")
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPostgres(db), logger)

	var uploader export.Uploader
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioUploader, err := export.NewMinioUploader(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Fatal("object storage setup failed", zap.Error(err))
		}
		uploader = minioUploader
	} else {
		logger.Info("object storage not configured, exports are returned inline")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	generator := generation.NewClient(generation.Options{
		BaseURL:        cfg.GenerationBaseURL,
		APIKey:         cfg.GenerationAPIKey,
		Model:          cfg.GenerationModel,
		Timeout:        cfg.GenerationTimeout(),
		RequestsPerSec: cfg.GenerationRPS,
		CostPer1K:      cfg.GenerationCostPer1K,
	})

	service := app.New(cfg, dataStore, app.Dependencies{
		Verifier:  verifier,
		Generator: generator,
		Search:    searchService,
		Exports:   export.NewService(uploader),
		Mailer:    mailer,
		Metrics:   metrics.New(),
		Logger:    logger,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, limiter, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.GenerationTimeout() + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("site builder api listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
