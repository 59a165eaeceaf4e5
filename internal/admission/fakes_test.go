package admission

import (
	"context"
	"errors"
	"sync"

	"consult-platform/internal/calls"
	"consult-platform/internal/payment"
	"consult-platform/internal/pricing"
	"consult-platform/internal/wallet"

	"github.com/shopspring/decimal"
)

// trace is a shared, ordered log of collaborator calls.
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, s)
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

func (t *trace) count(s string) int {
	n := 0
	for _, x := range t.list() {
		if x == s {
			n++
		}
	}
	return n
}

type fakeQuoter struct {
	amount decimal.Decimal
	err    error
}

func (q fakeQuoter) Quote(ctx context.Context, expertID string, minutes int, currency string) (pricing.Quote, error) {
	if q.err != nil {
		return pricing.Quote{}, q.err
	}
	return pricing.Quote{ExpertID: expertID, DurationMinutes: minutes, Currency: pricing.Currency(currency), Amount: q.amount, Source: pricing.SourceDatabase}, nil
}

type fakeBalances struct {
	amount decimal.Decimal
	err    error
}

func (b fakeBalances) Balance(ctx context.Context) (wallet.Balance, error) {
	if b.err != nil {
		return wallet.Balance{}, b.err
	}
	return wallet.Balance{OwnerID: "client-1", Currency: "INR", Amount: b.amount}, nil
}

type fakeOrders struct {
	tr   *trace
	err  error
	reqs []payment.CreateOrderRequest
}

func (o *fakeOrders) CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (payment.Order, error) {
	o.tr.add("create_order")
	o.reqs = append(o.reqs, req)
	if o.err != nil {
		return payment.Order{}, o.err
	}
	return payment.Order{
		OrderID:          "order_1",
		GatewayKeyID:     "rzp_test_abc",
		AmountMinorUnits: payment.ToMinorUnits(req.Amount),
		Currency:         req.Currency,
		Purpose:          req.Purpose,
	}, nil
}

type fakeWidget struct {
	tr    *trace
	gwErr *payment.GatewayError
}

func (w *fakeWidget) Open(ctx context.Context, opts payment.WidgetOptions) (payment.CheckoutResponse, *payment.GatewayError, error) {
	w.tr.add("widget_open")
	if w.gwErr != nil {
		return payment.CheckoutResponse{}, w.gwErr, nil
	}
	return payment.CheckoutResponse{OrderID: opts.OrderID, PaymentID: "pay_1", Signature: "sig"}, nil, nil
}

type fakeModals struct{ tr *trace }

func (m fakeModals) CloseAll() { m.tr.add("modals_closed") }

type fakeBackend struct {
	tr        *trace
	mu        sync.Mutex
	createErr error
	created   []CallRequest
	completed []int
}

func (b *fakeBackend) CreateCall(ctx context.Context, req CallRequest) (calls.Record, error) {
	if err := ctx.Err(); err != nil {
		return calls.Record{}, err
	}
	b.tr.add("create_call")
	if b.createErr != nil {
		return calls.Record{}, b.createErr
	}
	b.mu.Lock()
	b.created = append(b.created, req)
	b.mu.Unlock()
	return calls.Record{
		ID: req.CallID, Kind: calls.KindCallSession, ExpertID: req.ExpertID, CallType: req.CallType,
		Status: calls.StatusConfirmed, PaymentStatus: calls.PaymentStatusPaid,
		PlannedDurationMinutes: req.DurationMinutes, Currency: req.Currency,
		CostAtStart: decimal.RequireFromString("15.00"),
	}, nil
}

func (b *fakeBackend) MarkJoined(ctx context.Context, callID string) error {
	b.tr.add("mark_joined")
	return nil
}

func (b *fakeBackend) ConfirmExtension(ctx context.Context, callID, extensionID string, minutes int) (calls.Extension, error) {
	b.tr.add("confirm_extension")
	return calls.Extension{ID: extensionID, CallID: callID, Minutes: minutes, Amount: decimal.RequireFromString("2.50"), Currency: "INR"}, nil
}

func (b *fakeBackend) CompleteCall(ctx context.Context, callID string, actualMinutes int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = append(b.completed, actualMinutes)
	return nil
}

type fakeTracks struct{ tr *trace }

func (t fakeTracks) Release() { t.tr.add("probe_released") }

type fakeDevices struct {
	tr  *trace
	err error
}

func (d *fakeDevices) Probe(ctx context.Context, ct calls.CallType) (ProbeTracks, error) {
	d.tr.add("probe")
	if d.err != nil {
		return nil, d.err
	}
	return fakeTracks{d.tr}, nil
}

type fakeTransport struct {
	tr      *trace
	joinErr error
}

func (m *fakeTransport) Join(ctx context.Context, callID string, ct calls.CallType) error {
	m.tr.add("join")
	if m.joinErr != nil {
		return m.joinErr
	}
	return ctx.Err()
}

func (m *fakeTransport) Leave() { m.tr.add("leave") }

type fakeHost struct {
	mu          sync.Mutex
	tr          *trace
	warnings    []string
	transitions []string
	processing  []bool
}

func (h *fakeHost) DismissDialog() { h.tr.add("dialog_dismissed") }
func (h *fakeHost) ExtensionOffer(bool) {}
func (h *fakeHost) SetProcessing(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processing = append(h.processing, on)
}

func (h *fakeHost) Warn(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.warnings = append(h.warnings, msg)
}

func (h *fakeHost) StateChanged(from, to State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transitions = append(h.transitions, string(from)+">"+string(to))
}

func (h *fakeHost) states() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.transitions...)
}

func (h *fakeHost) warned() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.warnings...)
}

// harness wires a Flow to fakes and a real payment.Checkout.
type harness struct {
	tr        *trace
	flow      *Flow
	orders    *fakeOrders
	widget    *fakeWidget
	backend   *fakeBackend
	devices   *fakeDevices
	transport *fakeTransport
	host      *fakeHost
	verify    payment.VerifyFunc
}

func okVerify(ctx context.Context, req payment.VerifyRequest) (payment.VerificationResult, error) {
	bal := decimal.RequireFromString("15.00")
	return payment.VerificationResult{OrderID: req.OrderID, PaymentID: req.PaymentID, SignatureValid: true, NewBalance: &bal}, nil
}

func newHarness(balance, price string) *harness {
	tr := &trace{}
	h := &harness{
		tr:        tr,
		orders:    &fakeOrders{tr: tr},
		widget:    &fakeWidget{tr: tr},
		backend:   &fakeBackend{tr: tr},
		devices:   &fakeDevices{tr: tr},
		transport: &fakeTransport{tr: tr},
		host:      &fakeHost{tr: tr},
		verify:    okVerify,
	}
	verify := func(ctx context.Context, req payment.VerifyRequest) (payment.VerificationResult, error) {
		tr.add("verify")
		return h.verify(ctx, req)
	}
	h.flow = NewFlow(Identity{UserID: "client-1", Currency: "INR"}, Deps{
		Quotes:    fakeQuoter{amount: decimal.RequireFromString(price)},
		Balances:  fakeBalances{amount: decimal.RequireFromString(balance)},
		Orders:    h.orders,
		Checkout:  payment.NewCheckout(h.widget, fakeModals{tr}, verify, "Consult"),
		Backend:   h.backend,
		Devices:   h.devices,
		Transport: h.transport,
		Host:      h.host,
	})
	return h
}

var errJoin = errors.New("ice failed")
