package payment

import (
	"context"
	"log/slog"

	"consult-platform/internal/calls"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/alert"
	"consult-platform/pkg/logger"
	"consult-platform/pkg/utils"

	"github.com/cockroachdb/errors"
)

// WalletCreditor posts top-up credits.
type WalletCreditor interface {
	Credit(ctx context.Context, ownerID string, req wallet.CreditRequest) (wallet.WalletLedger, wallet.Balance, error)
}

// RecordUpdater applies payment events to call sessions or appointments.
type RecordUpdater interface {
	ApplyAny(ctx context.Context, id string, ev calls.Event, p calls.Params) (calls.Record, bool, error)
}

// Verifier checks checkout responses server-side.
type Verifier struct {
	keySecret string
	orders    OrderStore
	wallet    WalletCreditor
	records   RecordUpdater
	log       *slog.Logger
}

func NewVerifier(keySecret string, orders OrderStore, w WalletCreditor, records RecordUpdater, log *slog.Logger) *Verifier {
	if log == nil {
		log = logger.Discard()
	}
	return &Verifier{keySecret: keySecret, orders: orders, wallet: w, records: records, log: log}
}

// VerifySignature validates the checkout signature and settles the order.
//
// A signature mismatch or missing secret is fatal: it is returned with
// KindFatal, reported to operators and never retried. Settlement side effects
// after a valid signature are best-effort; a failed wallet credit leaves
// NewBalance nil and the webhook converges the ledger later.
func (v *Verifier) VerifySignature(ctx context.Context, req VerifyRequest) (VerificationResult, error) {
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" || req.OwnerID == "" {
		return VerificationResult{}, ErrInvalidArgument
	}

	if v.keySecret == "" {
		err := NewError(KindFatal, "razorpay key secret not configured", "")
		alert.Operators(ctx, "payment verification misconfigured", err)
		utils.PaymentVerificationsTotal.WithLabelValues("misconfigured").Inc()
		return VerificationResult{}, err
	}

	if !ValidSignature(v.keySecret, CheckoutMessage(req.OrderID, req.PaymentID), req.Signature) {
		err := NewError(KindFatal, "checkout signature mismatch", "")
		alert.Operators(ctx, "checkout signature mismatch", err,
			"order_id", req.OrderID, "payment_id", req.PaymentID, "owner_id", req.OwnerID)
		utils.PaymentVerificationsTotal.WithLabelValues("invalid_signature").Inc()
		return VerificationResult{OrderID: req.OrderID, PaymentID: req.PaymentID}, err
	}

	res := VerificationResult{OrderID: req.OrderID, PaymentID: req.PaymentID, SignatureValid: true}

	order, err := v.orders.Get(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			err = NewError(KindFatal, "verified payment for unknown order", "")
			alert.Operators(ctx, "verified payment for unknown order", err, "order_id", req.OrderID)
			utils.PaymentVerificationsTotal.WithLabelValues("unknown_order").Inc()
			return VerificationResult{}, err
		}
		utils.PaymentVerificationsTotal.WithLabelValues("error").Inc()
		return VerificationResult{}, wrapError(err, KindTransient, "load order", "")
	}
	if order.OwnerID != req.OwnerID {
		err := NewError(KindFatal, "order owner mismatch", "")
		alert.Operators(ctx, "order owner mismatch on verification", err,
			"order_id", req.OrderID, "order_owner_id", order.OwnerID, "owner_id", req.OwnerID)
		utils.PaymentVerificationsTotal.WithLabelValues("owner_mismatch").Inc()
		return VerificationResult{}, err
	}

	switch order.Purpose {
	case PurposeWalletTopup:
		_, bal, err := v.wallet.Credit(ctx, order.OwnerID, wallet.CreditRequest{
			Amount:         order.Amount(),
			Currency:       order.Currency,
			ExternalRef:    req.PaymentID,
			IdempotencyKey: req.PaymentID,
		})
		if err != nil {
			v.log.Error("top-up credit failed after verification",
				"order_id", req.OrderID, "payment_id", req.PaymentID, "err", err)
		} else {
			amount := bal.Amount
			res.NewBalance = &amount
		}
	case PurposeConsultation:
		entityID := order.RelatedEntityID
		if entityID == "" {
			entityID = req.RelatedEntityID
		}
		_, _, err := v.records.ApplyAny(ctx, entityID, calls.EventPaymentCaptured, calls.Params{PaymentID: req.PaymentID})
		if err != nil {
			v.log.Warn("consultation record not updated after verification",
				"order_id", req.OrderID, "related_entity_id", entityID, "err", err)
		}
	}

	utils.PaymentVerificationsTotal.WithLabelValues("verified").Inc()
	v.log.Info("payment verified",
		"order_id", req.OrderID,
		"payment_id", req.PaymentID,
		"purpose", order.Purpose,
		"balance_known", res.NewBalance != nil,
	)
	return res, nil
}
