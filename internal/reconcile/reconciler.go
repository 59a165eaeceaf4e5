package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"consult-platform/internal/audit"
	"consult-platform/internal/calls"
	"consult-platform/internal/payment"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/alert"
	"consult-platform/pkg/logger"
	"consult-platform/pkg/utils"

	"github.com/samber/lo"
)

const provider = "razorpay"

// Delivery is one webhook request as received.
type Delivery struct {
	Body       []byte
	Signature  string
	EventID    string
	ReceivedAt time.Time
}

// Outcome is the reconciler's answer to a delivery. HTTPStatus is what the
// gateway is told; a 5xx makes it redeliver.
type Outcome struct {
	HTTPStatus int
	EventType  EventType
	Status     audit.Status
	Duplicate  bool
	Err        error
}

type Records interface {
	ApplyAny(ctx context.Context, id string, ev calls.Event, p calls.Params) (calls.Record, bool, error)
}

type Wallet interface {
	Credit(ctx context.Context, ownerID string, req wallet.CreditRequest) (wallet.WalletLedger, wallet.Balance, error)
	Debit(ctx context.Context, ownerID string, req wallet.DebitRequest) (wallet.WalletLedger, wallet.Balance, error)
}

type Auditor interface {
	Append(ctx context.Context, e audit.Event) error
	Processed(ctx context.Context, provider, eventID string) (bool, error)
}

var (
	ErrMissingSignature = errors.New("reconcile: missing signature")
	ErrInvalidSignature = errors.New("reconcile: invalid signature")
	ErrMissingSecret    = errors.New("reconcile: webhook secret not configured")
	ErrMalformedPayload = errors.New("reconcile: malformed payload")
)

// Reconciler converges durable payment state from gateway webhooks.
type Reconciler struct {
	secret  string
	audit   Auditor
	records Records
	wallet  Wallet
	log     *slog.Logger
	clock   func() time.Time
}

func NewReconciler(webhookSecret string, a Auditor, records Records, w Wallet, log *slog.Logger) *Reconciler {
	if log == nil {
		log = logger.Discard()
	}
	return &Reconciler{secret: webhookSecret, audit: a, records: records, wallet: w, log: log, clock: time.Now}
}

var recordUpdates = map[EventType]calls.Event{
	EventPaymentAuthorized: calls.EventPaymentAuthorized,
	EventPaymentCaptured:   calls.EventPaymentCaptured,
	EventOrderPaid:         calls.EventPaymentCaptured,
	EventLinkPaid:          calls.EventPaymentCaptured,
	EventPaymentFailed:     calls.EventPaymentFailed,
	EventLinkExpired:       calls.EventPaymentFailed,
	EventLinkCancelled:     calls.EventPaymentFailed,
	EventDisputeCreated:    calls.EventDisputeOpened,
	EventDisputeWon:        calls.EventDisputeWon,
	EventDisputeLost:       calls.EventDisputeLost,
}

// observed events are acknowledged and audited without state changes.
var observed = []EventType{
	EventLinkPartiallyPaid,
	EventDisputeUnderReview,
	EventDisputeActionRequired,
	EventDisputeClosed,
	EventDowntimeStarted,
	EventDowntimeUpdated,
	EventDowntimeResolved,
}

// unparsedEvent is the audit event type of a signed delivery whose body could
// not be decoded.
const unparsedEvent = "unparsed"

// captures credit the wallet when they settle a top-up.
var captures = []EventType{EventPaymentCaptured, EventOrderPaid, EventLinkPaid}

// Handle verifies, dedupes, applies and audits one delivery. It never panics.
func (r *Reconciler) Handle(ctx context.Context, d Delivery) (out Outcome) {
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = r.clock().UTC()
	}
	// ev is what gets audited if processing stops early; it is filled in as
	// the delivery is parsed.
	ev := audit.Event{
		Provider:   provider,
		EventID:    d.EventID,
		EventType:  unparsedEvent,
		RawPayload: json.RawMessage(d.Body),
		ReceivedAt: d.ReceivedAt,
	}

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("reconcile: panic: %v", p)
			alert.Operators(ctx, "webhook reconciler panic", err, "event_id", ev.EventID)
			ev.Status, ev.Error = audit.StatusFailed, err.Error()
			r.recordSafely(ctx, ev)
			out = Outcome{HTTPStatus: http.StatusInternalServerError, EventType: EventType(ev.EventType), Status: audit.StatusFailed, Err: err}
		}
	}()

	if r.secret == "" {
		alert.Operators(ctx, "webhook secret not configured", ErrMissingSecret)
		return Outcome{HTTPStatus: http.StatusInternalServerError, Err: ErrMissingSecret}
	}
	if d.Signature == "" {
		utils.WebhookSignatureFailures.Inc()
		return Outcome{HTTPStatus: http.StatusBadRequest, Err: ErrMissingSignature}
	}
	if !payment.ValidSignature(r.secret, d.Body, d.Signature) {
		utils.WebhookSignatureFailures.Inc()
		alert.Operators(ctx, "webhook signature mismatch", ErrInvalidSignature, "event_id", d.EventID)
		return Outcome{HTTPStatus: http.StatusUnauthorized, Err: ErrInvalidSignature}
	}

	var env envelope
	if err := json.Unmarshal(d.Body, &env); err != nil || env.Event == "" {
		if err == nil {
			err = errors.New("missing event type")
		}
		log := r.log.With("event_id", d.EventID)
		log.Warn("malformed webhook payload", "err", err)
		ev.Status, ev.Error = audit.StatusFailed, ErrMalformedPayload.Error()+": "+err.Error()
		_ = r.record(ctx, log, ev)
		return Outcome{HTTPStatus: http.StatusBadRequest, Status: audit.StatusFailed, Err: ErrMalformedPayload}
	}
	subj := env.subject()
	if d.EventID == "" {
		d.EventID = string(env.Event) + ":" + subj.EntityID
	}
	log := r.log.With("event_id", d.EventID, "event_type", env.Event, "entity_id", subj.EntityID)

	ev.EventID = d.EventID
	ev.EventType = string(env.Event)
	ev.EntityID = subj.EntityID

	done, err := r.audit.Processed(ctx, provider, d.EventID)
	if err != nil {
		log.Error("dedupe lookup failed", "err", err)
		return Outcome{HTTPStatus: http.StatusInternalServerError, EventType: env.Event, Status: audit.StatusFailed, Err: err}
	}
	if done {
		ev.Status, ev.Duplicate = audit.StatusSuccess, true
		r.record(ctx, log, ev)
		log.Info("duplicate webhook ignored")
		return Outcome{HTTPStatus: http.StatusOK, EventType: env.Event, Status: audit.StatusSuccess, Duplicate: true}
	}

	status, err := r.apply(ctx, log, env.Event, subj)
	ev.Status = status
	if err != nil {
		ev.Error = err.Error()
	}
	if aerr := r.record(ctx, log, ev); aerr != nil && err == nil {
		// Without an audit row the dedupe key is lost; let the gateway retry.
		return Outcome{HTTPStatus: http.StatusInternalServerError, EventType: env.Event, Status: status, Err: aerr}
	}
	if err != nil {
		log.Error("webhook processing failed", "err", err)
		return Outcome{HTTPStatus: http.StatusInternalServerError, EventType: env.Event, Status: status, Err: err}
	}
	return Outcome{HTTPStatus: http.StatusOK, EventType: env.Event, Status: status}
}

// recordSafely audits from the panic path, where a second panic must not
// escape.
func (r *Reconciler) recordSafely(ctx context.Context, ev audit.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("webhook audit append panicked", "event_id", ev.EventID, "panic", fmt.Sprint(p))
		}
	}()
	_ = r.record(ctx, r.log.With("event_id", ev.EventID), ev)
}

func (r *Reconciler) record(ctx context.Context, log *slog.Logger, ev audit.Event) error {
	utils.WebhookEventsTotal.WithLabelValues(ev.EventType, string(ev.Status)).Inc()
	if err := r.audit.Append(ctx, ev); err != nil {
		log.Error("webhook audit append failed", "err", err)
		return err
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, log *slog.Logger, et EventType, s subject) (audit.Status, error) {
	if lo.Contains(observed, et) {
		log.Info("webhook observed", "payment_id", s.PaymentID, "dispute_id", s.DisputeID)
		return audit.StatusSuccess, nil
	}
	calEv, known := recordUpdates[et]
	if !known {
		log.Warn("unhandled webhook event type")
		return audit.StatusUnhandled, nil
	}

	if s.Purpose == string(payment.PurposeWalletTopup) {
		return r.applyTopup(ctx, log, et, s)
	}

	if s.RelatedEntityID == "" {
		log.Info("webhook has no related entity", "payment_id", s.PaymentID)
		return audit.StatusSuccess, nil
	}
	rec, changed, err := r.records.ApplyAny(ctx, s.RelatedEntityID, calEv, calls.Params{PaymentID: s.PaymentID})
	switch {
	case errors.Is(err, calls.ErrNotFound):
		log.Warn("no call session or appointment for webhook", "related_entity_id", s.RelatedEntityID)
		return audit.StatusSuccess, nil
	case err != nil:
		return audit.StatusFailed, fmt.Errorf("apply %s to %s: %w", calEv, s.RelatedEntityID, err)
	}
	log.Info("record reconciled",
		"related_entity_id", rec.ID,
		"kind", rec.Kind,
		"changed", changed,
		"status", rec.Status,
		"payment_status", rec.PaymentStatus,
	)
	return audit.StatusSuccess, nil
}

func (r *Reconciler) applyTopup(ctx context.Context, log *slog.Logger, et EventType, s subject) (audit.Status, error) {
	if s.OwnerID == "" {
		return audit.StatusFailed, fmt.Errorf("top-up %s without owner_id note", s.PaymentID)
	}
	switch {
	case lo.Contains(captures, et):
		_, bal, err := r.wallet.Credit(ctx, s.OwnerID, wallet.CreditRequest{
			Amount:         s.Amount,
			Currency:       s.Currency,
			ExternalRef:    s.PaymentID,
			IdempotencyKey: s.PaymentID,
			Metadata:       string(et),
		})
		if err != nil {
			return audit.StatusFailed, fmt.Errorf("credit top-up %s: %w", s.PaymentID, err)
		}
		log.Info("top-up credited", "owner_id", s.OwnerID, "payment_id", s.PaymentID, "balance", bal.Amount.String())
	case et == EventDisputeLost:
		_, bal, err := r.wallet.Debit(ctx, s.OwnerID, wallet.DebitRequest{
			Amount:         s.Amount,
			Currency:       s.Currency,
			ExternalRef:    s.DisputeID,
			IdempotencyKey: "chargeback:" + s.DisputeID,
			Metadata:       string(et),
			AllowOverdraft: true,
		})
		if err != nil {
			return audit.StatusFailed, fmt.Errorf("charge back top-up %s: %w", s.PaymentID, err)
		}
		log.Warn("top-up charged back", "owner_id", s.OwnerID, "dispute_id", s.DisputeID, "balance", bal.Amount.String())
	default:
		log.Info("top-up event needs no wallet change", "payment_id", s.PaymentID, "reason", s.FailureReason)
	}
	return audit.StatusSuccess, nil
}
