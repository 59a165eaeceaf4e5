package httpapi

import (
	"errors"
	"net/http"

	"consult-platform/internal/payment"
	"consult-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// CreateOrder creates a fresh gateway order for a top-up or consultation.
func (h Handlers) CreateOrder(c *gin.Context) {
	ownerID, ok := requireUser(c)
	if !ok {
		return
	}
	var req payment.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.OwnerID = ownerID

	o, err := h.Orders.CreateOrder(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_argument"})
			return
		}
		logger.FromGin(c).Error("create order failed", "owner_id", ownerID, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":   string(payment.Classify(err)),
			"message": payment.UserMessage(err),
		})
		return
	}
	c.JSON(http.StatusCreated, o)
}

type verifyResponse struct {
	Success    bool             `json:"success"`
	OrderID    string           `json:"order_id,omitempty"`
	PaymentID  string           `json:"payment_id,omitempty"`
	NewBalance *decimal.Decimal `json:"new_balance,omitempty"`
	Error      string           `json:"error,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// VerifyPayment checks a checkout response. A nil new_balance on success
// means the credit is still converging and the client should re-read the
// wallet.
func (h Handlers) VerifyPayment(c *gin.Context) {
	ownerID, ok := requireUser(c)
	if !ok {
		return
	}
	var req payment.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, verifyResponse{Error: "invalid_argument"})
		return
	}
	req.OwnerID = ownerID

	res, err := h.Verifier.VerifySignature(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusBadRequest, verifyResponse{Error: "invalid_argument"})
		case payment.Classify(err) == payment.KindFatal:
			c.AbortWithStatusJSON(http.StatusUnauthorized, verifyResponse{
				Error:   "verification_failed",
				Message: payment.UserMessage(err),
			})
		default:
			logger.FromGin(c).Error("payment verification failed", "order_id", req.OrderID, "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, verifyResponse{
				Error:   "verification_unavailable",
				Message: payment.UserMessage(err),
			})
		}
		return
	}
	c.JSON(http.StatusOK, verifyResponse{
		Success:    res.SignatureValid,
		OrderID:    res.OrderID,
		PaymentID:  res.PaymentID,
		NewBalance: res.NewBalance,
	})
}
