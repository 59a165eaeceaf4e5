package reconcile

import (
	"io"
	"net/http"

	"consult-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	HeaderSignature = "X-Razorpay-Signature"
	HeaderEventID   = "X-Razorpay-Event-Id"

	maxWebhookBody = 1 << 20
)

// Webhook serves POST /webhooks/razorpay. The raw body is read before any
// parsing so the signature covers exactly what was sent.
func Webhook(r *Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
			return
		}

		out := r.Handle(c.Request.Context(), Delivery{
			Body:      body,
			Signature: c.GetHeader(HeaderSignature),
			EventID:   c.GetHeader(HeaderEventID),
		})
		if out.Err != nil {
			logger.FromGin(c).Warn("webhook rejected", "status", out.HTTPStatus, "err", out.Err)
		}

		switch out.HTTPStatus {
		case http.StatusOK:
			c.JSON(http.StatusOK, gin.H{"status": out.Status, "duplicate": out.Duplicate})
		case http.StatusBadRequest:
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		case http.StatusUnauthorized:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		default:
			c.JSON(out.HTTPStatus, gin.H{"error": "internal_error"})
		}
	}
}
