package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type Purpose string

const (
	PurposeWalletTopup  Purpose = "wallet_topup"
	PurposeConsultation Purpose = "consultation"
)

func (p Purpose) Valid() bool { return p == PurposeWalletTopup || p == PurposeConsultation }

// Order is a gateway order. It is immutable once created and never reused:
// every top-up attempt gets a fresh one.
type Order struct {
	OrderID          string  `json:"order_id" db:"order_id"`
	GatewayKeyID     string  `json:"key_id" db:"key_id"`
	AmountMinorUnits int64   `json:"amount_minor" db:"amount_minor"`
	Currency         string  `json:"currency" db:"currency"`
	Purpose          Purpose `json:"purpose" db:"purpose"`
	RelatedEntityID  string  `json:"related_entity_id,omitempty" db:"related_entity_id"`
	OwnerID          string  `json:"owner_id" db:"owner_id"`
	IsTestMode       bool    `json:"is_test_mode" db:"is_test_mode"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Amount converts the order amount back to major units.
func (o Order) Amount() decimal.Decimal {
	return decimal.New(o.AmountMinorUnits, -2)
}

type CreateOrderRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" binding:"required"`
	// OriginalAmount/OriginalCurrency are what the user was shown when the
	// charge currency differs from the display currency.
	OriginalAmount   decimal.Decimal `json:"original_amount"`
	OriginalCurrency string          `json:"original_currency"`
	Description      string          `json:"description"`
	Purpose          Purpose         `json:"purpose" binding:"required"`
	RelatedEntityID  string          `json:"related_entity_id"`
	OwnerID          string          `json:"-"`
}

// CheckoutResponse is the widget's raw success callback payload.
type CheckoutResponse struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

type VerifyRequest struct {
	OrderID         string `json:"order_id" binding:"required"`
	PaymentID       string `json:"payment_id" binding:"required"`
	Signature       string `json:"signature" binding:"required"`
	RelatedEntityID string `json:"related_entity_id"`
	OwnerID         string `json:"-"`
}

// VerificationResult is produced once per successful checkout. A nil
// NewBalance means the wallet was not (or could not be) read back and the
// caller must re-fetch it.
type VerificationResult struct {
	OrderID        string           `json:"order_id"`
	PaymentID      string           `json:"payment_id"`
	SignatureValid bool             `json:"signature_valid"`
	NewBalance     *decimal.Decimal `json:"new_balance,omitempty"`
}

// Prefill identifies the payer inside the checkout widget.
type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// Methods toggles instrument families in the widget.
type Methods struct {
	UPI        bool `json:"upi"`
	Card       bool `json:"card"`
	Netbanking bool `json:"netbanking"`
	Wallet     bool `json:"wallet"`
	EMI        bool `json:"emi"`
	PayLater   bool `json:"paylater"`
}

// DefaultMethods enables UPI, cards, netbanking and wallets only.
var DefaultMethods = Methods{UPI: true, Card: true, Netbanking: true, Wallet: true}

// WidgetOptions configures one checkout widget session.
type WidgetOptions struct {
	KeyID       string            `json:"key"`
	OrderID     string            `json:"order_id"`
	AmountMinor int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Prefill     Prefill           `json:"prefill"`
	Method      Methods           `json:"method"`
	Notes       map[string]string `json:"notes,omitempty"`
}
