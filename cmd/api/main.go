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

	"consult-platform/internal/admission"
	"consult-platform/internal/audit"
	"consult-platform/internal/auth"
	"consult-platform/internal/calls"
	"consult-platform/internal/config"
	"consult-platform/internal/httpapi"
	"consult-platform/internal/payment"
	"consult-platform/internal/pricing"
	"consult-platform/internal/reconcile"
	"consult-platform/internal/reporting"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/alert"
	"consult-platform/pkg/logger"
	"consult-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := alert.Init(cfg.Sentry.DSN, cfg.App.Env); err != nil {
		log.Error("sentry init failed", "err", err)
		os.Exit(1)
	}
	defer alert.Flush(2 * time.Second)

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	callRepo := calls.NewPostgresRepo(db)
	callSvc := calls.NewService(callRepo)
	walletSvc := wallet.NewService(db, wallet.NewRedisCache(rdb, 30*time.Second), log)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	orderStore := payment.NewPostgresOrderStore(db)
	gateway := payment.NewRazorpayGateway(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret)

	h := httpapi.Handlers{
		Auth:     authManager,
		Pricing:  pricing.NewResolver(pricing.NewPostgresRepo(db), log),
		Wallet:   walletSvc,
		Orders:   payment.NewOrders(gateway, orderStore, log),
		Verifier: payment.NewVerifier(cfg.Razorpay.KeySecret, orderStore, walletSvc, callSvc, log),
		Calls:    callSvc,
		Slots:    admission.NewSlots(rdb, cfg.Admission.MaxLiveCallsPerClient, cfg.Admission.SlotTTL),
		Reports:  reporting.NewService(auditSvc, callRepo),
	}
	reconciler := reconcile.NewReconciler(cfg.Razorpay.WebhookSecret, auditSvc, callSvc, walletSvc, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		handlers:   h,
		reconciler: reconciler,
		authMW:     auth.RequireAccessToken(authManager),
		devLogin:   !cfg.IsProduction(),
		ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "gateway_test_mode", payment.IsTestKey(cfg.Razorpay.KeyID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
