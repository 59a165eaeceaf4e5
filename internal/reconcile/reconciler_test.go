package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"consult-platform/internal/audit"
	"consult-platform/internal/calls"
	"consult-platform/internal/payment"
	"consult-platform/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const whSecret = "whsec_test"

type fakeWallet struct {
	mu      sync.Mutex
	balance map[string]decimal.Decimal
	keys    map[string]bool
	err     error
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{balance: map[string]decimal.Decimal{}, keys: map[string]bool{}}
}

func (w *fakeWallet) post(owner, key string, delta decimal.Decimal) (wallet.WalletLedger, wallet.Balance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return wallet.WalletLedger{}, wallet.Balance{}, w.err
	}
	if !w.keys[key] {
		w.keys[key] = true
		w.balance[owner] = w.balance[owner].Add(delta)
	}
	return wallet.WalletLedger{IdempotencyKey: key}, wallet.Balance{OwnerID: owner, Amount: w.balance[owner]}, nil
}

func (w *fakeWallet) Credit(ctx context.Context, ownerID string, req wallet.CreditRequest) (wallet.WalletLedger, wallet.Balance, error) {
	return w.post(ownerID, req.IdempotencyKey, req.Amount)
}

func (w *fakeWallet) Debit(ctx context.Context, ownerID string, req wallet.DebitRequest) (wallet.WalletLedger, wallet.Balance, error) {
	if !req.AllowOverdraft {
		return wallet.WalletLedger{}, wallet.Balance{}, errors.New("chargebacks must allow overdraft")
	}
	return w.post(ownerID, req.IdempotencyKey, req.Amount.Neg())
}

func (w *fakeWallet) of(owner string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance[owner]
}

type fixture struct {
	rec     *Reconciler
	audits  *audit.MemoryRepo
	records *calls.MemoryRepo
	wallet  *fakeWallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{audits: audit.NewMemoryRepo(), records: calls.NewMemoryRepo(), wallet: newFakeWallet()}
	f.rec = NewReconciler(whSecret, audit.NewService(f.audits), calls.NewService(f.records), f.wallet, nil)
	return f
}

func (f *fixture) seed(t *testing.T, kind calls.Kind, id string, st calls.Status, ps calls.PaymentStatus) {
	t.Helper()
	require.NoError(t, f.records.Create(context.Background(), calls.Record{
		ID: id, Kind: kind, OwnerID: "client-1", Status: st, PaymentStatus: ps, UpdatedAt: time.Now(),
	}))
}

func (f *fixture) get(t *testing.T, kind calls.Kind, id string) calls.Record {
	t.Helper()
	r, err := f.records.Get(context.Background(), kind, id)
	require.NoError(t, err)
	return r
}

func paymentBody(event, paymentID string, amountMinor int64, n map[string]string) []byte {
	b, _ := json.Marshal(map[string]any{
		"entity":   "event",
		"event":    event,
		"contains": []string{"payment"},
		"payload": map[string]any{
			"payment": map[string]any{"entity": map[string]any{
				"id": paymentID, "order_id": "order_1", "amount": amountMinor, "currency": "INR", "notes": n,
			}},
		},
		"created_at": 1700000000,
	})
	return b
}

func disputeBody(event, disputeID, paymentID string, amountMinor int64, n map[string]string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event":    event,
		"contains": []string{"payment", "dispute"},
		"payload": map[string]any{
			"payment": map[string]any{"entity": map[string]any{
				"id": paymentID, "amount": amountMinor, "currency": "INR", "notes": n,
			}},
			"dispute": map[string]any{"entity": map[string]any{
				"id": disputeID, "payment_id": paymentID, "amount": amountMinor, "currency": "INR",
			}},
		},
	})
	return b
}

func signed(body []byte, eventID string) Delivery {
	return Delivery{Body: body, Signature: payment.Sign(whSecret, body), EventID: eventID}
}

func TestHandle_SignatureChecks(t *testing.T) {
	f := newFixture(t)
	body := paymentBody("payment.captured", "pay_1", 1500, nil)

	out := f.rec.Handle(context.Background(), Delivery{Body: body, EventID: "evt_1"})
	require.Equal(t, http.StatusBadRequest, out.HTTPStatus)
	require.ErrorIs(t, out.Err, ErrMissingSignature)

	out = f.rec.Handle(context.Background(), Delivery{Body: body, Signature: payment.Sign("other", body), EventID: "evt_1"})
	require.Equal(t, http.StatusUnauthorized, out.HTTPStatus)

	noSecret := NewReconciler("", audit.NewService(f.audits), calls.NewService(f.records), f.wallet, nil)
	out = noSecret.Handle(context.Background(), signed(body, "evt_1"))
	require.Equal(t, http.StatusInternalServerError, out.HTTPStatus)
	require.ErrorIs(t, out.Err, ErrMissingSecret)

	require.Empty(t, f.audits.Events(), "rejected deliveries are not audited")
}

func TestHandle_CaptureConfirmsCallSessionOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, calls.KindCallSession, "call-1", calls.StatusPending, calls.PaymentStatusPending)
	body := paymentBody("payment.captured", "pay_1", 1500, map[string]string{"purpose": "consultation", "related_entity_id": "call-1"})

	out := f.rec.Handle(context.Background(), signed(body, "evt_1"))
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.Equal(t, audit.StatusSuccess, out.Status)

	r := f.get(t, calls.KindCallSession, "call-1")
	require.Equal(t, calls.StatusConfirmed, r.Status)
	require.Equal(t, calls.PaymentStatusPaid, r.PaymentStatus)
	require.Equal(t, "pay_1", r.PaymentID)

	out = f.rec.Handle(context.Background(), signed(body, "evt_1"))
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.True(t, out.Duplicate)

	// Same capture under a new delivery id is a no-op transition.
	out = f.rec.Handle(context.Background(), signed(body, "evt_2"))
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.False(t, out.Duplicate)
	require.Equal(t, r, f.get(t, calls.KindCallSession, "call-1"))

	events := f.audits.Events()
	require.Len(t, events, 3)
	require.True(t, events[1].Duplicate)
	require.JSONEq(t, string(body), string(events[0].RawPayload))
	require.Equal(t, "pay_1", events[0].EntityID)
	require.False(t, events[0].ProcessedAt.IsZero())
}

func TestHandle_FallsBackToAppointment(t *testing.T) {
	f := newFixture(t)
	f.seed(t, calls.KindAppointment, "appt-1", calls.StatusPending, calls.PaymentStatusPending)

	out := f.rec.Handle(context.Background(), signed(
		paymentBody("payment.failed", "pay_2", 150000, map[string]string{"related_entity_id": "appt-1"}), "evt_f"))
	require.Equal(t, http.StatusOK, out.HTTPStatus)

	r := f.get(t, calls.KindAppointment, "appt-1")
	require.Equal(t, calls.StatusPaymentFailed, r.Status)
	require.Equal(t, calls.PaymentStatusFailed, r.PaymentStatus)
}

func TestHandle_LateFailureNeverDowngradesPaidRecord(t *testing.T) {
	f := newFixture(t)
	f.seed(t, calls.KindCallSession, "call-1", calls.StatusCompleted, calls.PaymentStatusPaid)

	out := f.rec.Handle(context.Background(), signed(
		paymentBody("payment.failed", "pay_0", 1500, map[string]string{"related_entity_id": "call-1"}), "evt_late"))
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	r := f.get(t, calls.KindCallSession, "call-1")
	require.Equal(t, calls.StatusCompleted, r.Status)
	require.Equal(t, calls.PaymentStatusPaid, r.PaymentStatus)
}

func TestHandle_UnknownRecordIsNotAnError(t *testing.T) {
	f := newFixture(t)
	out := f.rec.Handle(context.Background(), signed(
		paymentBody("payment.captured", "pay_3", 1500, map[string]string{"related_entity_id": "missing"}), "evt_3"))
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.Equal(t, audit.StatusSuccess, out.Status)
}

func TestHandle_TopUpCaptureCreditsWalletIdempotently(t *testing.T) {
	f := newFixture(t)
	n := map[string]string{"purpose": "wallet_topup", "owner_id": "client-1"}

	for _, evID := range []string{"evt_a", "evt_b"} {
		out := f.rec.Handle(context.Background(), signed(paymentBody("payment.captured", "pay_7", 7000, n), evID))
		require.Equal(t, http.StatusOK, out.HTTPStatus)
	}
	out := f.rec.Handle(context.Background(), signed(paymentBody("order.paid", "pay_7", 7000, n), "evt_c"))
	require.Equal(t, http.StatusOK, out.HTTPStatus)

	require.True(t, f.wallet.of("client-1").Equal(decimal.NewFromInt(70)), "balance %s", f.wallet.of("client-1"))
}

func TestHandle_LostDisputeOnTopUpChargesBack(t *testing.T) {
	f := newFixture(t)
	n := map[string]string{"purpose": "wallet_topup", "owner_id": "client-1"}
	f.rec.Handle(context.Background(), signed(paymentBody("payment.captured", "pay_7", 7000, n), "evt_a"))
	f.wallet.post("client-1", "call-debit", decimal.NewFromInt(-60))

	out := f.rec.Handle(context.Background(), signed(disputeBody("payment.dispute.lost", "disp_1", "pay_7", 7000, n), "evt_d"))
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.True(t, f.wallet.of("client-1").Equal(decimal.NewFromInt(-60)), "balance %s", f.wallet.of("client-1"))
}

func TestHandle_DisputeLifecycleOnAppointment(t *testing.T) {
	f := newFixture(t)
	f.seed(t, calls.KindAppointment, "appt-1", calls.StatusConfirmed, calls.PaymentStatusPaid)
	n := map[string]string{"related_entity_id": "appt-1"}

	f.rec.Handle(context.Background(), signed(disputeBody("payment.dispute.created", "disp_1", "pay_1", 1500, n), "evt_1"))
	require.Equal(t, calls.PaymentStatusDisputed, f.get(t, calls.KindAppointment, "appt-1").PaymentStatus)

	out := f.rec.Handle(context.Background(), signed(disputeBody("payment.dispute.under_review", "disp_1", "pay_1", 1500, n), "evt_2"))
	require.Equal(t, audit.StatusSuccess, out.Status)

	f.rec.Handle(context.Background(), signed(disputeBody("payment.dispute.won", "disp_1", "pay_1", 1500, n), "evt_3"))
	require.Equal(t, calls.PaymentStatusPaid, f.get(t, calls.KindAppointment, "appt-1").PaymentStatus)
}

func TestHandle_UnknownEventTypeAuditedAsUnhandled(t *testing.T) {
	f := newFixture(t)
	out := f.rec.Handle(context.Background(), signed(paymentBody("refund.processed", "rfnd_1", 100, nil), "evt_r"))
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.Equal(t, audit.StatusUnhandled, out.Status)
	require.Equal(t, audit.StatusUnhandled, f.audits.Events()[0].Status)
}

func TestHandle_ProcessingFailureIsRetriable(t *testing.T) {
	f := newFixture(t)
	f.wallet.err = errors.New("db down")
	body := paymentBody("payment.captured", "pay_9", 1000, map[string]string{"purpose": "wallet_topup", "owner_id": "client-1"})

	out := f.rec.Handle(context.Background(), signed(body, "evt_9"))
	require.Equal(t, http.StatusInternalServerError, out.HTTPStatus)
	require.Equal(t, audit.StatusFailed, f.audits.Events()[0].Status)
	require.NotEmpty(t, f.audits.Events()[0].Error)

	f.wallet.err = nil
	out = f.rec.Handle(context.Background(), signed(body, "evt_9"))
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.False(t, out.Duplicate)
	require.True(t, f.wallet.of("client-1").Equal(decimal.NewFromInt(10)))
}

func TestHandle_MalformedPayload(t *testing.T) {
	f := newFixture(t)
	out := f.rec.Handle(context.Background(), signed([]byte(`{"event":`), "evt_x"))
	require.Equal(t, http.StatusBadRequest, out.HTTPStatus)

	events := f.audits.Events()
	require.Len(t, events, 1)
	require.Equal(t, "evt_x", events[0].EventID)
	require.Equal(t, "unparsed", events[0].EventType)
	require.Equal(t, audit.StatusFailed, events[0].Status)
	require.Equal(t, `{"event":`, string(events[0].RawPayload))
}

func TestHandle_MissingEventTypeIsAudited(t *testing.T) {
	f := newFixture(t)
	out := f.rec.Handle(context.Background(), signed([]byte(`{"payload":{}}`), ""))
	require.Equal(t, http.StatusBadRequest, out.HTTPStatus)

	events := f.audits.Events()
	require.Len(t, events, 1)
	require.Equal(t, "unparsed", events[0].EventType)
	require.Equal(t, audit.StatusFailed, events[0].Status)
}

func TestHandle_NotesAsEmptyArray(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"event":"payment.authorized","payload":{"payment":{"entity":{"id":"pay_1","amount":100,"currency":"INR","notes":[]}}}}`)
	out := f.rec.Handle(context.Background(), signed(body, ""))
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.Equal(t, "payment.authorized:pay_1", f.audits.Events()[0].EventID)
}

type panickyRecords struct{}

func (panickyRecords) ApplyAny(ctx context.Context, id string, ev calls.Event, p calls.Params) (calls.Record, bool, error) {
	panic("boom")
}

func TestHandle_NeverPanics(t *testing.T) {
	f := newFixture(t)
	r := NewReconciler(whSecret, audit.NewService(f.audits), panickyRecords{}, f.wallet, nil)
	out := r.Handle(context.Background(), signed(paymentBody("payment.captured", "pay_1", 100, map[string]string{"related_entity_id": "x"}), "evt_p"))
	require.Equal(t, http.StatusInternalServerError, out.HTTPStatus)

	events := f.audits.Events()
	require.Len(t, events, 1)
	require.Equal(t, "evt_p", events[0].EventID)
	require.Equal(t, "payment.captured", events[0].EventType)
	require.Equal(t, audit.StatusFailed, events[0].Status)
	require.NotEmpty(t, events[0].RawPayload)

	// A failed row does not count as processed, so the provider's retry is
	// applied again.
	done, err := audit.NewService(f.audits).Processed(context.Background(), "razorpay", "evt_p")
	require.NoError(t, err)
	require.False(t, done)
}

func TestWebhookHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	r := gin.New()
	r.POST("/webhooks/razorpay", Webhook(f.rec))

	body := paymentBody("payment.authorized", "pay_1", 100, nil)
	cases := []struct {
		name string
		sig  string
		want int
	}{
		{"missing signature", "", http.StatusBadRequest},
		{"bad signature", "deadbeef", http.StatusUnauthorized},
		{"valid", payment.Sign(whSecret, body), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(string(body)))
			if tc.sig != "" {
				req.Header.Set(HeaderSignature, tc.sig)
			}
			req.Header.Set(HeaderEventID, "evt_h")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}
