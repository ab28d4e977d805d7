package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/background"
	"github.com/brightcart/identity/internal/config"
	"github.com/brightcart/identity/internal/database"
	"github.com/brightcart/identity/internal/handlers"
	"github.com/brightcart/identity/internal/metrics"
	middlewareCustom "github.com/brightcart/identity/internal/middleware"
	"github.com/brightcart/identity/internal/repositories"
	"github.com/brightcart/identity/internal/routes"
	"github.com/brightcart/identity/internal/services"
	pkghttp "github.com/brightcart/identity/pkg/http"
	pkglogger "github.com/brightcart/identity/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Run migrations before taking traffic
	if err := database.Migrate(cfg.Database.DSN()); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	settingsRepo := repositories.NewSecuritySettingsRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	mfaRepo := repositories.NewMfaSettingsRepository(db)
	backupCodeRepo := repositories.NewBackupCodeRepository(db)
	emailOtpRepo := repositories.NewEmailOtpRepository(db)
	mfaAuditRepo := repositories.NewMfaAuditRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)

	// Token and TOTP managers
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.ChallengeExpiry,
	)
	totpManager, err := auth.NewTOTPManager(cfg.Mfa.EncryptionKey, cfg.Mfa.Issuer)
	if err != nil {
		logger.Error("failed to initialize totp manager", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)
	userLocks := auth.NewKeyedMutex()

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(cfg.Email.Region, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	settingsService := services.NewSettingsService(settingsRepo, logger, auditLogger)
	attemptService := services.NewAttemptService(attemptRepo, settingsService, logger, auditLogger)
	lockoutService := services.NewLockoutService(lockoutRepo, attemptService, settingsService, userLocks, logger, auditLogger)
	sessionService := services.NewSessionService(sessionRepo, settingsService, userRepo, emailService, userLocks, logger, auditLogger)
	mfaService := services.NewMfaService(mfaRepo, backupCodeRepo, emailOtpRepo, mfaAuditRepo, userRepo, totpManager, emailService, lockoutService, userLocks, logger, auditLogger)
	authService := services.NewAuthService(userRepo, attemptService, lockoutService, mfaService, sessionService, tokenManager, logger, auditLogger)

	// The global policy row must exist before any login is processed
	seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := settingsService.EnsureGlobalDefault(seedCtx); err != nil {
		seedCancel()
		logger.Error("failed to seed global security settings", slog.Any("error", err))
		os.Exit(1)
	}
	seedCancel()

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	mfaHandler := handlers.NewMfaHandler(mfaService, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	settingsHandler := handlers.NewSettingsHandler(settingsService)
	lockoutHandler := handlers.NewLockoutHandler(lockoutService)

	// Cleanup worker
	cleanupManager := background.NewCleanupManager(
		attemptService, lockoutService, sessionService, emailOtpRepo,
		logger, cfg.Cleanup.Interval, cfg.Cleanup.SessionGrace,
	)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(metrics.Middleware)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, mfaHandler, sessionHandler, settingsHandler, lockoutHandler, tokenManager, userRepo, sessionService)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	logger.Info("server stopped")
}
