package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"consult-platform/internal/calls"
	"consult-platform/internal/payment"
	"consult-platform/internal/session"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"
	"consult-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrBusy           = errors.New("admission: attempt already in progress")
	ErrInvalidRequest = errors.New("admission: invalid request")
	// ErrStaleAttempt means the attempt was abandoned (dialog closed) while
	// one of its callbacks was still running.
	ErrStaleAttempt = errors.New("admission: attempt no longer current")
	ErrNotLive      = errors.New("admission: no live call")
)

// minTopUp is the gateway's smallest order.
var minTopUp = decimal.NewFromInt(1)

// Identity is the signed-in client. Currency is their display and charge
// currency.
type Identity struct {
	UserID   string
	Currency string
	Prefill  payment.Prefill
}

type Deps struct {
	Quotes    Quoter
	Balances  BalanceReader
	Orders    OrderCreator
	Checkout  Checkout
	Backend   Backend
	Devices   MediaDevices
	Transport MediaTransport
	Host      Host
	Log       *slog.Logger
}

type StartRequest struct {
	ExpertID        string
	CallType        calls.CallType
	DurationMinutes int
}

// Flow admits one call at a time for a client. All state changes go through
// dispatch. Once an attempt settles in a terminal state, Reset returns the
// flow to selecting for the next call.
type Flow struct {
	id Identity
	d  Deps

	mu       sync.Mutex
	state    State
	attempt  uint64
	inFlight bool
	cancel   context.CancelFunc

	timer     *session.Timer
	acct      *session.Accountant
	stopTimer context.CancelFunc
}

func NewFlow(id Identity, d Deps) *Flow {
	if d.Log == nil {
		d.Log = logger.Discard()
	}
	d.Log = d.Log.With("user_id", id.UserID)
	return &Flow{id: id, d: d, state: StateSelecting}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Session returns the live timer snapshot, if a call is running.
func (f *Flow) Session() (session.Snapshot, bool) {
	f.mu.Lock()
	t := f.timer
	f.mu.Unlock()
	if t == nil {
		return session.Snapshot{}, false
	}
	return t.Snapshot(), true
}

// attempt is one pass from selecting towards active.
type attempt struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	callID string
	req    StartRequest
	quote  quoteView
}

type quoteView struct {
	amount   decimal.Decimal
	currency string
}

func (f *Flow) dispatch(att uint64, ev Event) error {
	f.mu.Lock()
	if att != f.attempt {
		f.mu.Unlock()
		return ErrStaleAttempt
	}
	from := f.state
	to, err := Next(from, ev)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.state = to
	if ev == EventDialogClosed {
		f.attempt++
	}
	f.mu.Unlock()

	utils.AdmissionTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	f.d.Log.Info("admission transition", "from", from, "to", to, "event", ev)
	f.d.Host.StateChanged(from, to)
	return nil
}

// Start runs an attempt from selecting. It returns once the call is active
// or the attempt has settled in another state.
func (f *Flow) Start(ctx context.Context, req StartRequest) error {
	if req.ExpertID == "" || !req.CallType.Valid() || req.DurationMinutes <= 0 {
		return ErrInvalidRequest
	}

	f.mu.Lock()
	if f.state != StateSelecting || f.inFlight {
		f.mu.Unlock()
		return ErrBusy
	}
	f.inFlight = true
	actx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	a := &attempt{id: f.attempt, ctx: actx, cancel: cancel, callID: uuid.NewString(), req: req}
	f.mu.Unlock()

	defer func() {
		cancel()
		f.mu.Lock()
		f.inFlight = false
		f.cancel = nil
		f.mu.Unlock()
	}()

	log := f.d.Log.With("call_id", a.callID, "expert_id", req.ExpertID)

	q, err := f.d.Quotes.Quote(actx, req.ExpertID, req.DurationMinutes, f.id.Currency)
	if err != nil {
		log.Warn("quote unavailable", "err", err)
		f.d.Host.Warn("Pricing for this expert is unavailable right now. Please try again shortly.")
		return err
	}
	a.quote = quoteView{amount: q.Amount, currency: string(q.Currency)}

	d := wallet.CanProceed(f.balanceView(actx, log), q)
	log.Info("admission gate",
		"amount", q.Amount.String(),
		"source", q.Source,
		"sufficient", d.Sufficient,
		"shortfall", d.Shortfall.String(),
		"negative_balance", d.NegativeBalance,
		"provisional", d.Provisional,
	)
	if d.Sufficient {
		return f.admitFromWallet(a)
	}
	return f.topUpThenAdmit(a, d, log)
}

// balanceView fetches the balance. A failed fetch stays loading so the gate
// passes provisionally and the server-side check decides.
func (f *Flow) balanceView(ctx context.Context, log *slog.Logger) wallet.BalanceView {
	b, err := f.d.Balances.Balance(ctx)
	if err != nil {
		log.Warn("balance unavailable", "err", err)
		return wallet.Loading()
	}
	return wallet.Known(b)
}

// probe asks for device access once. On denial the flow moves to
// permission_denied and the returned error is the PermissionError.
func (f *Flow) probe(a *attempt) (ProbeTracks, error) {
	tracks, err := f.d.Devices.Probe(a.ctx, a.req.CallType)
	if err == nil {
		return tracks, nil
	}
	var pe *PermissionError
	if !errors.As(err, &pe) {
		pe = &PermissionError{Reason: ReasonNoDevice, Err: err}
	}
	if derr := f.dispatch(a.id, EventProbeDenied); derr != nil {
		return nil, derr
	}
	f.d.Host.Warn(pe.Reason.Remediation(a.req.CallType))
	return nil, pe
}

func (f *Flow) admitFromWallet(a *attempt) error {
	tracks, err := f.probe(a)
	if err != nil {
		return err
	}
	tracks.Release()
	if err := f.dispatch(a.id, EventSufficient); err != nil {
		return err
	}
	if err := f.d.Transport.Join(a.ctx, a.callID, a.req.CallType); err != nil {
		f.d.Transport.Leave()
		f.connectFailed(a, "We could not connect the call. Please try again.")
		return err
	}
	return f.admit(a)
}

func (f *Flow) topUpThenAdmit(a *attempt, d wallet.Decision, log *slog.Logger) error {
	if d.NegativeBalance {
		f.d.Host.Warn(d.Message())
	}
	if err := f.dispatch(a.id, EventInsufficient); err != nil {
		return err
	}
	f.d.Host.DismissDialog()
	f.d.Host.SetProcessing(true)
	defer f.d.Host.SetProcessing(false)

	order, err := f.d.Orders.CreateOrder(a.ctx, payment.CreateOrderRequest{
		Amount:      decimal.Max(d.Shortfall, minTopUp),
		Currency:    a.quote.currency,
		Description: "Wallet top-up for consultation",
		Purpose:     payment.PurposeWalletTopup,
	})
	if err != nil {
		log.Warn("top-up order failed", "err", err)
		f.d.Host.Warn(payment.UserMessage(err))
		_ = f.dispatch(a.id, EventPaymentCancelled)
		return err
	}
	log = log.With("order_id", order.OrderID)

	var (
		received bool
		verified bool
		joined   chan error
		outcome  error
	)
	f.d.Checkout.Open(a.ctx, order, f.id.Prefill, "", payment.Hooks{
		OnPaymentReceived: func(resp payment.CheckoutResponse) {
			received = true
			tracks, err := f.probe(a)
			if err != nil {
				outcome = err
				return
			}
			tracks.Release()
			if err := f.dispatch(a.id, EventPaymentReceived); err != nil {
				outcome = err
				return
			}
			joined = make(chan error, 1)
			go func() { joined <- f.d.Transport.Join(a.ctx, a.callID, a.req.CallType) }()
		},
		OnVerified: func(res payment.VerificationResult) {
			verified = true
			log.Info("top-up verified", "payment_id", res.PaymentID, "balance_known", res.NewBalance != nil)
		},
		OnFailure: func(err error) {
			outcome = err
		},
	})

	if !received {
		if errors.Is(f.dispatch(a.id, EventPaymentCancelled), ErrStaleAttempt) {
			return ErrStaleAttempt
		}
		if payment.Classify(outcome) != payment.KindCancelled {
			f.d.Host.Warn(payment.UserMessage(outcome))
		}
		log.Info("top-up not completed", "kind", payment.Classify(outcome), "err", outcome)
		return outcome
	}
	if joined == nil {
		// Denied after paying, or abandoned. The top-up still lands in the
		// wallet through verification or the webhook.
		return outcome
	}

	if !verified {
		a.cancel()
		<-joined
		f.d.Transport.Leave()
		if err := f.dispatch(a.id, EventVerificationFailed); err != nil {
			log.Warn("verification failed after attempt was abandoned", "err", outcome)
			return err
		}
		f.d.Host.Warn(payment.UserMessage(outcome))
		return outcome
	}

	if err := <-joined; err != nil {
		f.d.Transport.Leave()
		f.connectFailed(a, "Your payment was received but the call could not connect. Please start the call again.")
		return err
	}
	return f.admit(a)
}

// admit opens the paid call on the server once media is joined, then starts
// the session clock.
func (f *Flow) admit(a *attempt) error {
	rec, err := f.d.Backend.CreateCall(a.ctx, CallRequest{
		CallID:          a.callID,
		ExpertID:        a.req.ExpertID,
		CallType:        a.req.CallType,
		DurationMinutes: a.req.DurationMinutes,
		Currency:        a.quote.currency,
	})
	if err != nil {
		f.d.Transport.Leave()
		f.connectFailed(a, createCallMessage(err))
		return err
	}
	if err := f.d.Backend.MarkJoined(a.ctx, rec.ID); err != nil {
		f.d.Log.Warn("mark joined failed", "call_id", rec.ID, "err", err)
	}

	timer := session.NewTimer(rec.PlannedDurationMinutes*60, session.TimerHooks{
		OnOfferShown:  func() { f.d.Host.ExtensionOffer(true) },
		OnOfferHidden: func() { f.d.Host.ExtensionOffer(false) },
		OnExpired: func() {
			if _, err := f.End(context.Background()); err != nil && !errors.Is(err, ErrInvalidTransition) {
				f.d.Log.Warn("end on expiry failed", "call_id", rec.ID, "err", err)
			}
		},
	})
	acct := session.NewAccountant(rec.ID, rec.CostAtStart, timer, f.d.Backend, f.d.Log)
	tctx, stop := context.WithCancel(context.Background())

	f.mu.Lock()
	f.timer, f.acct, f.stopTimer = timer, acct, stop
	f.mu.Unlock()

	if err := f.dispatch(a.id, EventJoined); err != nil {
		stop()
		f.d.Transport.Leave()
		f.d.Log.Warn("paid call abandoned before it went live", "call_id", rec.ID, "err", err)
		return err
	}
	go timer.Run(tctx)
	return nil
}

func (f *Flow) connectFailed(a *attempt, msg string) {
	if err := f.dispatch(a.id, EventConnectFailed); err != nil {
		return
	}
	f.d.Host.Warn(msg)
}

func createCallMessage(err error) string {
	var pe *PaymentRequiredError
	if errors.As(err, &pe) {
		if pe.NegativeBalance {
			return "Your wallet has a negative balance. Top up to clear it before starting a new call."
		}
		return "Your wallet balance is still updating. Please start the call again in a moment."
	}
	return "We could not start the call. Please try again."
}

// PaymentRequiredError is the server's 402 answer to CreateCall.
type PaymentRequiredError struct {
	Shortfall       decimal.Decimal
	Currency        string
	NegativeBalance bool
}

func (e *PaymentRequiredError) Error() string {
	return "payment required: shortfall " + e.Shortfall.String() + " " + e.Currency
}

// CloseDialog abandons an attempt that is waiting for payment or connecting.
// Media is torn down; a verification already in flight still completes.
func (f *Flow) CloseDialog() error {
	f.mu.Lock()
	att, cancel := f.attempt, f.cancel
	f.mu.Unlock()

	if err := f.dispatch(att, EventDialogClosed); err != nil {
		return err
	}
	if cancel != nil {
		cancel()
	}
	f.d.Transport.Leave()
	return nil
}

// Extend buys extra minutes for the live call.
func (f *Flow) Extend(ctx context.Context, minutes int) (calls.Extension, error) {
	f.mu.Lock()
	att, acct := f.attempt, f.acct
	f.mu.Unlock()
	if acct == nil {
		return calls.Extension{}, ErrNotLive
	}
	if err := f.dispatch(att, EventExtend); err != nil {
		return calls.Extension{}, err
	}

	ext, err := acct.PurchaseExtension(ctx, minutes)
	if derr := f.dispatch(att, EventExtended); derr != nil {
		// Ended while extending.
		return ext, session.ErrEnded
	}
	if err != nil {
		f.d.Host.Warn(payment.UserMessage(err))
	}
	return ext, err
}

// End finishes the live call, manually or on expiry. Completion is written
// in the background; teardown does not wait for it.
func (f *Flow) End(ctx context.Context) (session.Completion, error) {
	f.mu.Lock()
	att, acct, stop := f.attempt, f.acct, f.stopTimer
	f.mu.Unlock()
	if acct == nil {
		return session.Completion{}, ErrNotLive
	}
	if err := f.dispatch(att, EventEnd); err != nil {
		return session.Completion{}, err
	}
	stop()
	c := acct.End(ctx)
	f.d.Transport.Leave()
	f.d.Host.ExtensionOffer(false)
	return c, nil
}

// Reset moves a settled flow back to selecting. A pending completion write
// is waited for first. Non-terminal states return ErrInvalidTransition.
func (f *Flow) Reset() error {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return ErrBusy
	}
	att, acct := f.attempt, f.acct
	f.mu.Unlock()

	if err := f.dispatch(att, EventReset); err != nil {
		return err
	}
	if acct != nil {
		acct.Wait()
	}
	f.mu.Lock()
	f.attempt++
	f.timer, f.acct, f.stopTimer = nil, nil, nil
	f.mu.Unlock()
	return nil
}

// Wait blocks until a pending completion write has finished.
func (f *Flow) Wait() {
	f.mu.Lock()
	acct := f.acct
	f.mu.Unlock()
	if acct != nil {
		acct.Wait()
	}
}
