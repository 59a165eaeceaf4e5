package payment

import (
	"context"
	"sync"
)

// CheckoutWidget is the gateway's embedded checkout. Open blocks until the
// user pays, fails or dismisses the widget; a dismissal is reported as a
// GatewayError with reason payment_cancelled.
type CheckoutWidget interface {
	Open(ctx context.Context, opts WidgetOptions) (CheckoutResponse, *GatewayError, error)
}

// ModalCloser closes every dialog the host UI has open.
type ModalCloser interface {
	CloseAll()
}

// VerifyFunc sends a checkout response to the server for signature checks.
type VerifyFunc func(ctx context.Context, req VerifyRequest) (VerificationResult, error)

// Hooks receive checkout progress. OnPaymentReceived fires before
// OnVerified or OnFailure for the same payment, never after.
type Hooks struct {
	OnPaymentReceived func(resp CheckoutResponse)
	OnVerified        func(res VerificationResult)
	OnFailure         func(err error)
}

// Checkout drives one widget session per call to Open.
type Checkout struct {
	widget  CheckoutWidget
	modals  ModalCloser
	verify  VerifyFunc
	name    string
	methods Methods

	mu sync.Mutex
	// opened is true while a widget session is showing.
	opened bool
}

func NewCheckout(widget CheckoutWidget, modals ModalCloser, verify VerifyFunc, merchantName string) *Checkout {
	return &Checkout{
		widget:  widget,
		modals:  modals,
		verify:  verify,
		name:    merchantName,
		methods: DefaultMethods,
	}
}

var errCheckoutBusy = NewError(KindTransient, "checkout already open", "A payment window is already open. Finish or close it before starting another.")

// Open shows the widget for order and reports progress through hooks. It
// returns after the terminal hook has fired.
//
// Every other modal is closed before the widget opens. Verification runs on
// a context detached from ctx, so cancelling ctx (the user closing the call
// dialog) stops the widget but never an in-flight verification.
func (c *Checkout) Open(ctx context.Context, order Order, prefill Prefill, relatedEntityID string, h Hooks) {
	h = h.withDefaults()

	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		h.OnFailure(errCheckoutBusy)
		return
	}
	c.opened = true
	c.mu.Unlock()

	c.modals.CloseAll()

	resp, gwErr, err := c.widget.Open(ctx, WidgetOptions{
		KeyID:       order.GatewayKeyID,
		OrderID:     order.OrderID,
		AmountMinor: order.AmountMinorUnits,
		Currency:    order.Currency,
		Name:        c.name,
		Description: string(order.Purpose),
		Prefill:     prefill,
		Method:      c.methods,
		Notes:       map[string]string{"purpose": string(order.Purpose)},
	})

	c.mu.Lock()
	c.opened = false
	c.mu.Unlock()

	switch {
	case gwErr != nil:
		h.OnFailure(FromGatewayError(*gwErr))
		return
	case err != nil:
		h.OnFailure(wrapError(err, Classify(err), "checkout widget", ""))
		return
	}

	h.OnPaymentReceived(resp)

	res, err := c.verify(context.WithoutCancel(ctx), VerifyRequest{
		OrderID:         resp.OrderID,
		PaymentID:       resp.PaymentID,
		Signature:       resp.Signature,
		RelatedEntityID: relatedEntityID,
	})
	if err != nil {
		h.OnFailure(err)
		return
	}
	if !res.SignatureValid {
		h.OnFailure(NewError(KindFatal, "server reported invalid signature", ""))
		return
	}
	h.OnVerified(res)
}

func (h Hooks) withDefaults() Hooks {
	if h.OnPaymentReceived == nil {
		h.OnPaymentReceived = func(CheckoutResponse) {}
	}
	if h.OnVerified == nil {
		h.OnVerified = func(VerificationResult) {}
	}
	if h.OnFailure == nil {
		h.OnFailure = func(error) {}
	}
	return h
}
