package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"consult-platform/internal/auth"
	"consult-platform/internal/calls"
	"consult-platform/internal/payment"
	"consult-platform/internal/pricing"
	"consult-platform/internal/reporting"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Pricing  Pricer
	Wallet   Wallet
	Orders   OrderCreator
	Verifier Verifier
	Calls    Calls
	Slots    Slots
	Reports  Reports
}

type Pricer interface {
	ResolvePrice(ctx context.Context, expertID string, durationMinutes int, currency pricing.Currency) (pricing.Quote, error)
}

type Wallet interface {
	GetBalance(ctx context.Context, ownerID string) (wallet.Balance, error)
	Debit(ctx context.Context, ownerID string, req wallet.DebitRequest) (wallet.WalletLedger, wallet.Balance, error)
	AdminAdjust(ctx context.Context, ownerID, adminUserID, adminRole string, req wallet.AdminAdjustRequest) (wallet.AdminWalletAction, wallet.WalletLedger, wallet.Balance, error)
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (payment.Order, error)
}

type Verifier interface {
	VerifySignature(ctx context.Context, req payment.VerifyRequest) (payment.VerificationResult, error)
}

type Calls interface {
	CreatePaidCall(ctx context.Context, req calls.NewCallRequest) (calls.Record, error)
	Get(ctx context.Context, kind calls.Kind, id string) (calls.Record, error)
	MarkJoined(ctx context.Context, ownerID, callID string) (calls.Record, bool, error)
	AddExtension(ctx context.Context, ownerID string, ext calls.Extension) (calls.Extension, bool, error)
	Complete(ctx context.Context, ownerID, callID string, actualMinutes int) (calls.Record, bool, error)
}

// Slots caps concurrent live calls per client. Satisfied by *admission.Slots.
type Slots interface {
	Acquire(ctx context.Context, clientID string) error
	Release(ctx context.Context, clientID string) error
}

type Reports interface {
	Reconciliation(ctx context.Context, req reporting.ReconciliationRequest) (reporting.ReconciliationReport, error)
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	Currency string `json:"currency"`
}

// Login issues a JWT token pair.
//
// NOTE: Credentials are not checked here; the route is only mounted outside
// production.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if req.Currency == "" {
		req.Currency = auth.DefaultCurrency
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role, req.Currency)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Pricing ---

// GetQuote prices a session with an expert. The amount is resolved fresh on
// every call and never cached client-side.
func (h Handlers) GetQuote(c *gin.Context) {
	q, err := h.quote(c, c.Param("expert_id"), c.Query("duration"), c.Query("currency"))
	if err != nil {
		abortPricing(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h Handlers) quote(c *gin.Context, expertID, duration, currency string) (pricing.Quote, error) {
	minutes, err := strconv.Atoi(duration)
	if err != nil {
		return pricing.Quote{}, pricing.ErrInvalidPricingReq
	}
	if currency == "" {
		currency = auth.Currency(c.Request.Context())
	}
	return h.Pricing.ResolvePrice(c.Request.Context(), expertID, minutes, pricing.Currency(currency))
}

func abortPricing(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pricing.ErrInvalidPricingReq):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid pricing request"})
	case errors.Is(err, pricing.ErrExpertNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "expert not found"})
	default:
		logger.FromGin(c).Error("quote failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "pricing unavailable"})
	}
}

// --- Wallet ---

func (h Handlers) GetWalletBalance(c *gin.Context) {
	ownerID, ok := requireUser(c)
	if !ok {
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), ownerID)
	if errors.Is(err, wallet.ErrNotFound) {
		bal, err = wallet.ZeroBalance(ownerID, auth.Currency(c.Request.Context())), nil
	}
	if err != nil {
		logger.FromGin(c).Error("balance lookup failed", "owner_id", ownerID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

func requireUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}
