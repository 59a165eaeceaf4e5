package httpapi

import (
	"errors"
	"net/http"
	"time"

	"consult-platform/internal/auth"
	"consult-platform/internal/reporting"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Reconciliation reports webhook outcomes in [from, to) and payments still
// unsettled. from/to are RFC 3339; the default window is the last 24 hours.
func (h Handlers) Reconciliation(c *gin.Context) {
	now := time.Now().UTC()
	req := reporting.ReconciliationRequest{
		Range: reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now},
	}
	var err error
	if v := c.Query("from"); v != "" {
		if req.Range.From, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if req.Range.To, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
	}
	if v := c.Query("stale_after"); v != "" {
		if req.StaleAfter, err = time.ParseDuration(v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "stale_after must be a duration"})
			return
		}
	}

	report, err := h.Reports.Reconciliation(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		logger.FromGin(c).Error("reconciliation report failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// AdminAdjustWallet applies a signed manual adjustment to an owner's wallet.
// RBAC: admin.
func (h Handlers) AdminAdjustWallet(c *gin.Context) {
	adminUserID, ok := requireUser(c)
	if !ok {
		return
	}
	adminRole, _ := auth.Role(c.Request.Context())

	var req wallet.AdminAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ownerID := c.Param("owner_id")

	action, _, bal, err := h.Wallet.AdminAdjust(c.Request.Context(), ownerID, adminUserID, adminRole, req)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidArgument), errors.Is(err, wallet.ErrCurrencyMismatch):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			logger.FromGin(c).Error("admin wallet adjust failed", "owner_id", ownerID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "adjust failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": action, "balance": bal})
}
