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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mwalcott3/vigil/internal/auth"
	"github.com/mwalcott3/vigil/internal/background"
	"github.com/mwalcott3/vigil/internal/config"
	"github.com/mwalcott3/vigil/internal/counter"
	"github.com/mwalcott3/vigil/internal/database"
	"github.com/mwalcott3/vigil/internal/handlers"
	"github.com/mwalcott3/vigil/internal/middleware"
	"github.com/mwalcott3/vigil/internal/notify"
	"github.com/mwalcott3/vigil/internal/policy"
	"github.com/mwalcott3/vigil/internal/repositories"
	"github.com/mwalcott3/vigil/internal/risk"
	"github.com/mwalcott3/vigil/internal/routes"
	"github.com/mwalcott3/vigil/internal/services"
	pkghttp "github.com/mwalcott3/vigil/pkg/http"
	pkglogger "github.com/mwalcott3/vigil/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(&cfg.Database, logger); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	deviceRepo := repositories.NewDeviceRepository(db)
	policyRepo := repositories.NewPolicyRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	eventRepo := repositories.NewEventRepository(db)
	assessmentRepo := repositories.NewAssessmentRepository(db)

	// Shared attempt counters, backed by Postgres so every instance sees
	// the same counts.
	counters := counter.NewPostgresStore(db)

	thresholds := policy.Derive(
		cfg.Security.BaseAttemptLimit,
		cfg.Security.WarningPercent,
		cfg.Security.CriticalPercent,
		cfg.Security.LockoutPercent,
		cfg.Security.RateLimitPercent,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Alert notifier is optional; alerts still persist without it.
	var notifier services.AlertNotifier
	if cfg.Alerts.EmailEnabled {
		sesNotifier, err := notify.NewSESNotifier(cfg.Alerts.AWSRegion, cfg.Alerts.FromAddress, cfg.Alerts.ToAddresses, logger)
		if err != nil {
			logger.Error("failed to initialize alert notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	auditService := services.NewAuditService(eventRepo, alertRepo, notifier, logger, auditLogger, cfg.Security.EventTTL)

	intel := risk.NewStaticIntel(nil)

	lockoutService := services.NewLockoutService(
		counters, lockoutRepo, thresholds,
		cfg.Security.AttemptWindow, cfg.Security.LockoutDuration, logger,
	)
	rateLimitService := services.NewRateLimitService(
		counters, cfg.Security.RateLimitMax, cfg.Security.RateLimitWindow, logger,
	)
	engine := services.NewSecurityEngine(
		lockoutService, rateLimitService, attemptRepo, intel, auditService,
		thresholds, cfg.Security.LockoutDuration, cfg.Security.DecisionTimeout, logger,
	)

	history := services.NewRepoHistory(sessionRepo, deviceRepo, attemptRepo, eventRepo, userRepo)
	riskEngine := risk.NewEngine(history, intel, logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTokenExpiry)
	stepUpManager := auth.NewStepUpManager("vigil")
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   100,
		RandomDelayMs: 100,
	})

	sessionService := services.NewSessionService(
		sessionRepo, deviceRepo, policyRepo, userRepo,
		riskEngine, assessmentRepo, tokenManager, auditService,
		logger, auditLogger,
	)
	adminService := services.NewAdminService(
		lockoutRepo, counters, rateLimitService, auditService,
		auditLogger, logger, cfg.Security.EmergencyUnlockCode,
	)
	authService := services.NewAuthService(
		userRepo, engine, sessionService, stepUpManager, adminService,
		timingDelay, logger, auditLogger,
	)
	monitoringService := services.NewMonitoringService(
		attemptRepo, sessionRepo, alertRepo, lockoutRepo, eventRepo, deviceRepo,
		auditService, logger,
	)

	mitigationManager := background.NewMitigationManager(
		alertRepo, sessionRepo, attemptRepo, lockoutRepo, eventRepo,
		counters, intel, auditService, monitoringService, logger,
		cfg.Security.MitigationInterval, cfg.Security.AlertRetention, cfg.Security.CriticalRiskCutoff,
	)

	// Handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService, sessionRepo)
	adminHandler := handlers.NewAdminHandler(adminService, ipConfig)
	securityHandler := handlers.NewSecurityHandler(monitoringService)

	// Router
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middleware.SecureLogger(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, sessionHandler, adminHandler, securityHandler, sessionService, engine, ipConfig)

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

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mitigationCtx, mitigationCancel := context.WithCancel(context.Background())
	defer mitigationCancel()

	go mitigationManager.Start(mitigationCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	mitigationCancel()
	mitigationManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
