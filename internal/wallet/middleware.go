package wallet

import (
	"context"
	"errors"
	"net/http"

	"consult-platform/internal/auth"
	"consult-platform/internal/pricing"
	"consult-platform/internal/rbac"
	"consult-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Gin context keys set by RequireSufficientBalance.
const (
	ContextKeyQuote    = "wallet.quote"
	ContextKeyDecision = "wallet.decision"
)

// BalanceService is the minimal wallet service interface needed by middleware.
type BalanceService interface {
	GetBalance(ctx context.Context, ownerID string) (Balance, error)
}

// PriceFunc resolves the server-side quote for the request being gated.
type PriceFunc func(c *gin.Context) (pricing.Quote, error)

// RequireSufficientBalance blocks the request with 402 when the caller's
// wallet cannot cover the quote returned by price. The quote and decision are
// stored on the gin context for the handler.
//
// Admins bypass the balance check but still get a quote.
func RequireSufficientBalance(svc BalanceService, price PriceFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, err := auth.UserID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}

		quote, err := price(c)
		if err != nil {
			switch {
			case errors.Is(err, pricing.ErrInvalidPricingReq):
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid pricing request"})
			case errors.Is(err, pricing.ErrExpertNotFound):
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "expert not found"})
			default:
				logger.FromGin(c).Error("quote failed", "err", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "pricing unavailable"})
			}
			return
		}
		c.Set(ContextKeyQuote, quote)

		role, _ := auth.Role(c.Request.Context())
		if rbac.IsAdmin(role) {
			c.Set(ContextKeyDecision, Decision{Sufficient: true})
			c.Next()
			return
		}

		bal, err := svc.GetBalance(c.Request.Context(), ownerID)
		if errors.Is(err, ErrNotFound) {
			bal = ZeroBalance(ownerID, string(quote.Currency))
		} else if err != nil {
			logger.FromGin(c).Error("balance lookup failed", "owner_id", ownerID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}
		if bal.Currency != string(quote.Currency) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "currency mismatch"})
			return
		}

		d := CanProceed(Known(bal), quote)
		c.Set(ContextKeyDecision, d)
		if !d.Sufficient {
			code := "insufficient_balance"
			if d.NegativeBalance {
				code = "negative_balance"
			}
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":     code,
				"message":   d.Message(),
				"shortfall": d.Shortfall,
				"currency":  quote.Currency,
			})
			return
		}

		c.Next()
	}
}
