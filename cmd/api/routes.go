package main

import (
	"context"
	"net/http"

	"consult-platform/internal/httpapi"
	"consult-platform/internal/rbac"
	"consult-platform/internal/reconcile"
	"consult-platform/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	handlers   httpapi.Handlers
	reconciler *reconcile.Reconciler
	authMW     gin.HandlerFunc
	devLogin   bool
	ready      func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := d.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Gateway webhooks authenticate by body signature, not by token.
	r.POST("/webhooks/razorpay", reconcile.Webhook(d.reconciler))

	if d.devLogin {
		r.POST("/auth/login", h.Login)
	}

	v1 := r.Group("/v1")
	v1.Use(d.authMW, rbac.RequireIdentity())
	{
		v1.GET("/experts/:expert_id/quote", h.GetQuote)
		v1.GET("/wallet/balance", h.GetWalletBalance)

		payments := v1.Group("/payments")
		payments.Use(rbac.RequireAnyRole(rbac.RoleClient))
		{
			payments.POST("/orders", h.CreateOrder)
			payments.POST("/verify", h.VerifyPayment)
		}

		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleClient))
		{
			calls.POST("", h.ExistingCall, wallet.RequireSufficientBalance(h.Wallet, h.CallQuote), h.CreateCall)
			calls.POST("/:call_id/join", h.JoinCall)
			calls.POST("/:call_id/extensions", h.ConfirmExtension)
			calls.POST("/:call_id/complete", h.CompleteCall)
		}

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/reconciliation", h.Reconciliation)
			admin.POST("/wallets/:owner_id/adjust", h.AdminAdjustWallet)
		}
	}
}
