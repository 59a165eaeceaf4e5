package payment

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Kind is the user-facing class of a payment error.
type Kind string

const (
	KindCancelled         Kind = "cancelled"
	KindInvalidInstrument Kind = "invalid_instrument"
	KindTransient         Kind = "transient"
	// KindFatal covers signature and configuration errors. They are never
	// retried automatically and always reach operators.
	KindFatal Kind = "fatal"
)

// Retryable reports whether the user may try again.
func (k Kind) Retryable() bool { return k != KindFatal }

// Reference errors used as marks. Match with errors.Is.
var (
	ErrCancelled         = errors.New("payment cancelled")
	ErrInvalidInstrument = errors.New("payment instrument rejected")
	ErrTransient         = errors.New("payment gateway unavailable")
	ErrFatal             = errors.New("payment integrity failure")
)

var kindMarks = map[Kind]error{
	KindCancelled:         ErrCancelled,
	KindInvalidInstrument: ErrInvalidInstrument,
	KindTransient:         ErrTransient,
	KindFatal:             ErrFatal,
}

var defaultMessages = map[Kind]string{
	KindCancelled:         "Payment was cancelled. You can pick a call option again whenever you are ready.",
	KindInvalidInstrument: "Your payment method was not accepted. Please try a different card or UPI app.",
	KindTransient:         "The payment service is temporarily unavailable. Please try again in a minute.",
	KindFatal:             "We could not verify this payment. Our team has been notified; please contact support if money was deducted.",
}

// NewError builds a classified error. msg is technical detail for logs; hint
// is what users see and defaults to the kind's standard message.
func NewError(kind Kind, msg, hint string) error {
	mark, ok := kindMarks[kind]
	if !ok {
		kind, mark = KindTransient, ErrTransient
	}
	if hint == "" {
		hint = defaultMessages[kind]
	}
	return errors.Mark(errors.WithHint(errors.New(msg), hint), mark)
}

// wrapError classifies an underlying cause while keeping it in the chain.
func wrapError(cause error, kind Kind, msg, hint string) error {
	if hint == "" {
		hint = defaultMessages[kind]
	}
	return errors.Mark(errors.WithHint(errors.Wrap(cause, msg), hint), kindMarks[kind])
}

// Classify returns the kind of err. Unmarked errors are treated as transient
// so the user is told to retry later rather than shown a dead end.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFatal):
		return KindFatal
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrInvalidInstrument):
		return KindInvalidInstrument
	default:
		return KindTransient
	}
}

// UserMessage returns the human-readable text for err. Raw gateway and
// database strings never reach it.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		return hints[0]
	}
	return defaultMessages[Classify(err)]
}

// GatewayError is the structured failure the checkout widget reports.
type GatewayError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
	Source      string `json:"source,omitempty"`
	Step        string `json:"step,omitempty"`
}

var instrumentMessages = map[string]string{
	"card_declined":         "Your card was declined by the bank. Please try a different card or pay with UPI.",
	"insufficient_balance":  "Your bank account or card does not have enough balance for this payment.",
	"incorrect_otp":         "The OTP entered was incorrect. Please try the payment again.",
	"authentication_failed": "Your bank could not authenticate this payment. Please try again or use another method.",
	"invalid_vpa":           "The UPI ID entered is not valid. Please check it and try again.",
}

var transientReasons = map[string]bool{
	"gateway_technical_error": true,
	"bank_technical_error":    true,
	"server_error":            true,
	"payment_timed_out":       true,
}

// FromGatewayError classifies a checkout failure callback.
func FromGatewayError(g GatewayError) error {
	msg := "checkout failed: " + g.Code + "/" + g.Reason + ": " + g.Description
	switch {
	case g.Reason == "payment_cancelled" || g.Code == "MODAL_DISMISSED":
		return NewError(KindCancelled, msg, "")
	case g.Code == "GATEWAY_ERROR" || g.Code == "SERVER_ERROR" || transientReasons[g.Reason]:
		return NewError(KindTransient, msg, "")
	case g.Code == "BAD_REQUEST_ERROR":
		return NewError(KindInvalidInstrument, msg, instrumentMessages[g.Reason])
	default:
		return NewError(KindTransient, msg, "")
	}
}
