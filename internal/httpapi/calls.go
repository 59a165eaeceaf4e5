package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"consult-platform/internal/admission"
	"consult-platform/internal/auth"
	"consult-platform/internal/calls"
	"consult-platform/internal/pricing"
	"consult-platform/internal/rbac"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
)

// CallQuote is the wallet.PriceFunc for POST /v1/calls. The body is cached on
// the gin context so CreateCall can bind it again.
func (h Handlers) CallQuote(c *gin.Context) (pricing.Quote, error) {
	var req admission.CallRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		return pricing.Quote{}, pricing.ErrInvalidPricingReq
	}
	currency := req.Currency
	if currency == "" {
		currency = auth.Currency(c.Request.Context())
	}
	return h.Pricing.ResolvePrice(c.Request.Context(), req.ExpertID, req.DurationMinutes, pricing.Currency(currency))
}

// ExistingCall answers a replayed POST /v1/calls from the stored record. It
// runs ahead of wallet.RequireSufficientBalance so a retry after the debit is
// not turned away for the balance that debit consumed.
func (h Handlers) ExistingCall(c *gin.Context) {
	ownerID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.Next()
		return
	}
	var req admission.CallRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil || req.CallID == "" {
		c.Next()
		return
	}
	if !replayExisting(c, h.Calls, ownerID, req.CallID) {
		c.Next()
	}
}

// replayExisting writes the stored call for callID and reports whether it did.
func replayExisting(c *gin.Context, store Calls, ownerID, callID string) bool {
	existing, err := store.Get(c.Request.Context(), calls.KindCallSession, callID)
	if err != nil {
		return false
	}
	if existing.OwnerID != ownerID {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call_id already in use"})
		return true
	}
	c.AbortWithStatusJSON(http.StatusOK, existing)
	return true
}

// CreateCall opens a paid call session. It runs behind
// wallet.RequireSufficientBalance, so the quote has already been checked
// against the caller's balance. The debit is keyed by call id and a retried
// request converges on the same record.
func (h Handlers) CreateCall(c *gin.Context) {
	ownerID, ok := requireUser(c)
	if !ok {
		return
	}
	var req admission.CallRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !req.CallType.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_type must be audio or video"})
		return
	}
	quote, ok := c.MustGet(wallet.ContextKeyQuote).(pricing.Quote)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quote missing"})
		return
	}
	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}
	ctx := c.Request.Context()
	log := logger.FromGin(c).With("call_id", req.CallID, "owner_id", ownerID)

	// A replay racing the first request past ExistingCall lands here.
	if replayExisting(c, h.Calls, ownerID, req.CallID) {
		return
	}

	if err := h.Slots.Acquire(ctx, ownerID); err != nil {
		if errors.Is(err, admission.ErrTooManyLiveCalls) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "live_call_limit"})
			return
		}
		log.Error("admission slot unavailable", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admission unavailable"})
		return
	}
	release := func() {
		if err := h.Slots.Release(ctx, ownerID); err != nil {
			log.Warn("admission slot release failed", "err", err)
		}
	}

	role, _ := auth.Role(ctx)
	if !rbac.IsAdmin(role) {
		_, _, err := h.Wallet.Debit(ctx, ownerID, wallet.DebitRequest{
			Amount:         quote.Amount,
			Currency:       string(quote.Currency),
			ExternalRef:    req.CallID,
			IdempotencyKey: "call:" + req.CallID,
			// The gate already passed; a concurrent debit that lands first
			// leaves the owner in debt rather than failing a paid-for call.
			AllowOverdraft: true,
		})
		if err != nil {
			release()
			abortDebit(c, err, log)
			return
		}
	}

	rec, err := h.Calls.CreatePaidCall(ctx, calls.NewCallRequest{
		ID:              req.CallID,
		OwnerID:         ownerID,
		ExpertID:        req.ExpertID,
		CallType:        req.CallType,
		DurationMinutes: req.DurationMinutes,
		Currency:        string(quote.Currency),
		CostAtStart:     quote.Amount,
	})
	if err != nil {
		release()
		// The debit stays; a retry with the same call_id reuses it.
		log.Error("call create failed after debit", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call create failed"})
		return
	}
	log.Info("call admitted", "expert_id", req.ExpertID, "amount", quote.Amount.StringFixed(2), "currency", quote.Currency)
	c.JSON(http.StatusCreated, rec)
}

// JoinCall marks the session active once media is connected.
func (h Handlers) JoinCall(c *gin.Context) {
	ownerID, ok := requireUser(c)
	if !ok {
		return
	}
	rec, _, err := h.Calls.MarkJoined(c.Request.Context(), ownerID, c.Param("call_id"))
	if err != nil {
		abortCalls(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type extensionRequest struct {
	ExtensionID string `json:"extension_id" binding:"required"`
	Minutes     int    `json:"minutes" binding:"required"`
}

// ConfirmExtension charges the wallet for extra minutes, prorated from the
// price the call started at.
func (h Handlers) ConfirmExtension(c *gin.Context) {
	ownerID, ok := requireUser(c)
	if !ok {
		return
	}
	var req extensionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Minutes <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "extension_id and positive minutes required"})
		return
	}
	ctx := c.Request.Context()
	callID := c.Param("call_id")
	log := logger.FromGin(c).With("call_id", callID, "extension_id", req.ExtensionID)

	rec, err := h.Calls.Get(ctx, calls.KindCallSession, callID)
	if err != nil || rec.OwnerID != ownerID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if rec.Status != calls.StatusActive && rec.Status != calls.StatusConfirmed {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call not live"})
		return
	}

	amount := pricing.ExtensionAmount(rec.CostAtStart, rec.PlannedDurationMinutes, req.Minutes)
	if amount.IsPositive() {
		_, _, err := h.Wallet.Debit(ctx, ownerID, wallet.DebitRequest{
			Amount:         amount,
			Currency:       rec.Currency,
			ExternalRef:    callID,
			IdempotencyKey: "ext:" + req.ExtensionID,
		})
		if err != nil {
			abortDebit(c, err, log)
			return
		}
	}

	ext, created, err := h.Calls.AddExtension(ctx, ownerID, calls.Extension{
		ID:       req.ExtensionID,
		CallID:   callID,
		Minutes:  req.Minutes,
		Amount:   amount,
		Currency: rec.Currency,
	})
	if err != nil {
		log.Error("extension record failed after debit", "err", err)
		abortCalls(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, ext)
}

type completeRequest struct {
	ActualDurationMinutes int `json:"actual_duration_minutes"`
}

// CompleteCall records billed minutes. Repeats are no-ops; the live-call
// slot is released only by the write that changed the record.
func (h Handlers) CompleteCall(c *gin.Context) {
	ownerID, ok := requireUser(c)
	if !ok {
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctx := c.Request.Context()
	rec, changed, err := h.Calls.Complete(ctx, ownerID, c.Param("call_id"), req.ActualDurationMinutes)
	if err != nil {
		abortCalls(c, err)
		return
	}
	if changed {
		if err := h.Slots.Release(ctx, ownerID); err != nil {
			logger.FromGin(c).Warn("admission slot release failed", "call_id", rec.ID, "err", err)
		}
	}
	c.JSON(http.StatusOK, rec)
}

func abortCalls(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_argument"})
	case errors.Is(err, calls.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid_transition"})
	default:
		logger.FromGin(c).Error("call update failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call update failed"})
	}
}

func abortDebit(c *gin.Context, err error, log *slog.Logger) {
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_balance"})
	case errors.Is(err, wallet.ErrCurrencyMismatch):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "currency mismatch"})
	case errors.Is(err, wallet.ErrWalletDisabled):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "wallet disabled"})
	default:
		log.Error("wallet debit failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet debit failed"})
	}
}
