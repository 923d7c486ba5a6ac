package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/vaulin/backend/internal/api"
	"github.com/vaulin/backend/internal/auth"
	"github.com/vaulin/backend/internal/config"
	"github.com/vaulin/backend/internal/health"
	"github.com/vaulin/backend/internal/logger"
	"github.com/vaulin/backend/internal/mailer"
	"github.com/vaulin/backend/internal/metrics"
	appmw "github.com/vaulin/backend/internal/middleware"
	"github.com/vaulin/backend/internal/otp"
	"github.com/vaulin/backend/internal/repository"
	"github.com/vaulin/backend/internal/vault"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()

	if cfg.JWT.Secret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	appLogger := logger.New(logger.DefaultConfig())

	dbPool, err := setupDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	// Read-heavy queries go through sqlx on the stdlib driver; everything
	// else uses the pgx pool.
	sqlxDB, err := sqlx.Connect("pgx", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to open sqlx connection: %v", err)
	}
	defer sqlxDB.Close()

	store := repository.NewStore(dbPool)
	activityReader := repository.NewActivityReader(sqlxDB)

	otpMailer, err := mailer.New(&cfg.SMTP)
	if err != nil {
		log.Fatalf("Failed to configure mailer: %v", err)
	}

	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:     cfg.JWT.Secret,
		SessionTTL: cfg.JWT.SessionTTL,
		Issuer:     cfg.JWT.Issuer,
	})
	passwordValidator := auth.NewPasswordValidator()
	otpService := otp.NewService(store, otpMailer, cfg.OTP.Expiry, appLogger)
	authService := auth.NewService(store, tokenService, passwordValidator, otpService, appLogger)
	vaultService := vault.NewService(store, appLogger)

	authHandler := api.NewAuthHandler(authService, appLogger)
	vaultHandler := api.NewVaultHandler(vaultService, appLogger)
	activityHandler := api.NewActivityHandler(activityReader, appLogger)
	healthHandler := health.NewHandler(health.Config{
		DBPool:  dbPool,
		Version: version,
	})

	sessionGuard := appmw.NewSessionGuard(tokenService, store.Sessions())
	resendLimiter := appmw.NewOTPResendLimiter(cfg.OTP.ResendWindow)

	dbStats := metrics.NewDBStatsCollector(dbPool, sqlxDB.DB, appLogger)
	dbStats.Start(15 * time.Second)
	defer dbStats.Stop()

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(appmw.StructuredLogger(appLogger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		api.RegisterAuthRoutes(r, authHandler, resendLimiter.Limit, sessionGuard.Authenticate)
		api.RegisterVaultRoutes(r, vaultHandler, sessionGuard.Authenticate)
		api.RegisterActivityRoutes(r, activityHandler, sessionGuard.Authenticate)
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
