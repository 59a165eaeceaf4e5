package admission

import (
	"context"
	"fmt"

	"consult-platform/internal/calls"
	"consult-platform/internal/payment"
	"consult-platform/internal/pricing"
	"consult-platform/internal/session"
	"consult-platform/internal/wallet"
)

type Quoter interface {
	Quote(ctx context.Context, expertID string, durationMinutes int, currency string) (pricing.Quote, error)
}

type BalanceReader interface {
	Balance(ctx context.Context) (wallet.Balance, error)
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (payment.Order, error)
}

// Checkout is satisfied by *payment.Checkout.
type Checkout interface {
	Open(ctx context.Context, order payment.Order, prefill payment.Prefill, relatedEntityID string, h payment.Hooks)
}

// CallRequest asks the server to open a paid call session. The server
// debits the wallet for the quoted price.
type CallRequest struct {
	CallID          string         `json:"call_id"`
	ExpertID        string         `json:"expert_id"`
	CallType        calls.CallType `json:"call_type"`
	DurationMinutes int            `json:"duration_minutes"`
	Currency        string         `json:"currency"`
}

// Backend is the server API a call attempt talks to.
type Backend interface {
	CreateCall(ctx context.Context, req CallRequest) (calls.Record, error)
	MarkJoined(ctx context.Context, callID string) error
	session.Backend
}

type DeniedReason string

const (
	ReasonNoDevice   DeniedReason = "no_device"
	ReasonNotAllowed DeniedReason = "not_allowed"
)

// PermissionError is returned by a device probe the user or platform denied.
type PermissionError struct {
	Reason DeniedReason
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media permission denied: %s", e.Reason)
	}
	return fmt.Sprintf("media permission denied: %s: %v", e.Reason, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Remediation is the message shown for a denied probe.
func (r DeniedReason) Remediation(ct calls.CallType) string {
	devices := "microphone"
	if ct == calls.CallTypeVideo {
		devices = "camera and microphone"
	}
	if r == ReasonNotAllowed {
		return "Access to your " + devices + " is blocked. Allow it in your browser settings and start the call again."
	}
	return "No " + devices + " was found. Connect one and start the call again."
}

// ProbeTracks are the temporary tracks a permission probe opened.
type ProbeTracks interface {
	Release()
}

type MediaDevices interface {
	Probe(ctx context.Context, ct calls.CallType) (ProbeTracks, error)
}

// MediaTransport joins the call's media room. Leave must be safe to call
// when nothing was joined.
type MediaTransport interface {
	Join(ctx context.Context, callID string, ct calls.CallType) error
	Leave()
}

// Host is the UI surface around the flow.
type Host interface {
	DismissDialog()
	SetProcessing(on bool)
	Warn(msg string)
	ExtensionOffer(visible bool)
	StateChanged(from, to State)
}
