package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-sms/meridian-sms/internal/app"
	"github.com/meridian-sms/meridian-sms/internal/authz"
	"github.com/meridian-sms/meridian-sms/internal/guard"
	"github.com/meridian-sms/meridian-sms/internal/identity"
	"github.com/meridian-sms/meridian-sms/internal/observability"
	"github.com/meridian-sms/meridian-sms/internal/platform/cache"
	"github.com/meridian-sms/meridian-sms/internal/platform/db"
	"github.com/meridian-sms/meridian-sms/internal/shared"
)

// logDeliverer stands in for the SMS/email gateway in environments
// that have none configured; the passcode lands in the log only.
type logDeliverer struct {
	logger *slog.Logger
}

func (d logDeliverer) Deliver(ref, code string) error {
	d.logger.Info("otp passcode issued", slog.String("ref", ref), slog.String("code", code))
	return nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	metrics := observability.NewMetrics()

	otpCfg := identity.OTPConfig{
		CodeTTL:     cfg.OTPCodeTTL,
		Cooldown:    cfg.OTPCooldown,
		MaxAttempts: cfg.OTPMaxAttempts,
		SessionTTL:  cfg.OTPSessionTTL,
	}
	parentOTP := identity.NewOTPStore(redisClient, "parent", otpCfg)
	studentOTP := identity.NewOTPStore(redisClient, "student", otpCfg)

	accountRepo := identity.NewAccountRepository(dbpool)
	accountService := identity.NewAccountService(accountRepo)
	resolver := identity.NewResolver(accountRepo, parentOTP, studentOTP, logger)

	snapshotCache := authz.NewSnapshotCache(redisClient, cfg.AuthzCacheTTL)
	matrixSource := authz.NewMatrixSource(dbpool)
	loader := authz.NewLoader(accountRepo, matrixSource, snapshotCache, logger)
	checker := authz.NewChecker(loader, logger)

	identityHandler := identity.NewHandler(
		logger, accountService, parentOTP, studentOTP, sessionManager,
		logDeliverer{logger: logger},
		func(r *http.Request, subjectID string) {
			loader.InvalidateSubject(r.Context(), subjectID)
		},
	)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		IdentityHandler: identityHandler,
		Identity:        identity.Middleware{Resolver: resolver, Logger: logger},
		AuthzHandler:    authz.NewHandler(logger, checker, loader),
		AuthzMiddleware: authz.Middleware{Checker: checker, Logger: logger},
		Guards:          guard.Middleware{Checker: checker, Logger: logger, Metrics: metrics},
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
