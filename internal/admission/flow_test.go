package admission

import (
	"context"
	"errors"
	"testing"

	"consult-platform/internal/calls"
	"consult-platform/internal/payment"
	"consult-platform/internal/pricing"
	"consult-platform/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var audioCall = StartRequest{ExpertID: "expert-1", CallType: calls.CallTypeAudio, DurationMinutes: 30}

func indexOf(steps []string, s string) int {
	for i, x := range steps {
		if x == s {
			return i
		}
	}
	return -1
}

func requireBefore(t *testing.T, steps []string, a, b string) {
	t.Helper()
	ia, ib := indexOf(steps, a), indexOf(steps, b)
	require.NotEqual(t, -1, ia, "%s missing from %v", a, steps)
	require.NotEqual(t, -1, ib, "%s missing from %v", b, steps)
	require.Less(t, ia, ib, "%s must precede %s in %v", a, b, steps)
}

func TestFlow_SufficientBalanceGoesStraightToCall(t *testing.T) {
	h := newHarness("100", "15")

	require.NoError(t, h.flow.Start(context.Background(), audioCall))
	require.Equal(t, StateActive, h.flow.State())
	require.Equal(t, []string{"selecting>connecting", "connecting>active"}, h.host.states())
	require.Equal(t, []string{"probe", "probe_released", "join", "create_call", "mark_joined"}, h.tr.list())
	require.Empty(t, h.orders.reqs)

	c, err := h.flow.End(context.Background())
	require.NoError(t, err)
	h.flow.Wait()
	require.Equal(t, StateCompleted, h.flow.State())
	require.Equal(t, []int{c.ActualDurationMinutes}, h.backend.completed)
	require.Equal(t, 1, h.tr.count("leave"))
}

func TestFlow_TopUpThenCall(t *testing.T) {
	h := newHarness("5", "15")
	var atVerify State
	h.verify = func(ctx context.Context, req payment.VerifyRequest) (payment.VerificationResult, error) {
		atVerify = h.flow.State()
		return okVerify(ctx, req)
	}

	require.NoError(t, h.flow.Start(context.Background(), audioCall))
	require.Equal(t, StateActive, h.flow.State())
	require.Equal(t, []string{
		"selecting>awaiting_payment",
		"awaiting_payment>connecting",
		"connecting>active",
	}, h.host.states())

	require.Len(t, h.orders.reqs, 1)
	require.True(t, h.orders.reqs[0].Amount.Equal(decimal.NewFromInt(10)))
	require.Equal(t, payment.PurposeWalletTopup, h.orders.reqs[0].Purpose)
	require.Equal(t, []bool{true, false}, h.host.processing)

	steps := h.tr.list()
	requireBefore(t, steps, "dialog_dismissed", "create_order")
	requireBefore(t, steps, "modals_closed", "widget_open")
	requireBefore(t, steps, "probe_released", "join")
	requireBefore(t, steps, "verify", "create_call")
	// Device access is settled before verification starts.
	requireBefore(t, steps, "probe_released", "verify")
	require.Equal(t, StateConnecting, atVerify)
	require.Equal(t, 1, h.tr.count("probe"))

	_, err := h.flow.End(context.Background())
	require.NoError(t, err)
	h.flow.Wait()
}

func TestFlow_VerificationFailureTearsDownMedia(t *testing.T) {
	h := newHarness("5", "15")
	h.verify = func(ctx context.Context, req payment.VerifyRequest) (payment.VerificationResult, error) {
		return payment.VerificationResult{}, payment.NewError(payment.KindFatal, "checkout signature mismatch", "")
	}

	err := h.flow.Start(context.Background(), audioCall)
	require.Equal(t, payment.KindFatal, payment.Classify(err))
	require.Equal(t, StatePaymentFailed, h.flow.State())
	require.True(t, h.flow.State().Terminal())

	steps := h.tr.list()
	requireBefore(t, steps, "join", "leave")
	require.Equal(t, -1, indexOf(steps, "create_call"))
	require.Len(t, h.host.warned(), 1)
}

func TestFlow_NegativeBalanceWarnsAndTopsUpTheDebt(t *testing.T) {
	h := newHarness("-15", "50")

	require.NoError(t, h.flow.Start(context.Background(), audioCall))
	require.True(t, h.orders.reqs[0].Amount.Equal(decimal.NewFromInt(65)), "amount %s", h.orders.reqs[0].Amount)
	require.Equal(t, wallet.Decision{NegativeBalance: true}.Message(), h.host.warned()[0])

	_, err := h.flow.End(context.Background())
	require.NoError(t, err)
	h.flow.Wait()
}

func TestFlow_TopUpHasGatewayMinimum(t *testing.T) {
	h := newHarness("14.60", "15")
	h.widget.gwErr = &payment.GatewayError{Code: "BAD_REQUEST_ERROR", Reason: "payment_cancelled"}

	_ = h.flow.Start(context.Background(), audioCall)
	require.True(t, h.orders.reqs[0].Amount.Equal(decimal.NewFromInt(1)))
}

func TestFlow_UserCancelledPaymentIsRecoverable(t *testing.T) {
	h := newHarness("5", "15")
	h.widget.gwErr = &payment.GatewayError{Code: "BAD_REQUEST_ERROR", Reason: "payment_cancelled"}

	err := h.flow.Start(context.Background(), audioCall)
	require.Equal(t, payment.KindCancelled, payment.Classify(err))
	require.Equal(t, StateSelecting, h.flow.State())
	require.Empty(t, h.host.warned())
	require.Equal(t, 0, h.tr.count("probe"))

	h.widget.gwErr = nil
	require.NoError(t, h.flow.Start(context.Background(), audioCall))
	require.Equal(t, StateActive, h.flow.State())
	require.Len(t, h.orders.reqs, 2, "every attempt gets a fresh order")

	_, err = h.flow.End(context.Background())
	require.NoError(t, err)
	h.flow.Wait()
}

func TestFlow_InstrumentErrorShowsSpecificMessage(t *testing.T) {
	h := newHarness("5", "15")
	gw := payment.GatewayError{Code: "BAD_REQUEST_ERROR", Reason: "card_declined", Description: "raw bank text"}
	h.widget.gwErr = &gw

	err := h.flow.Start(context.Background(), audioCall)
	require.Equal(t, payment.KindInvalidInstrument, payment.Classify(err))
	require.Equal(t, StateSelecting, h.flow.State())
	require.Equal(t, []string{payment.UserMessage(payment.FromGatewayError(gw))}, h.host.warned())
	require.NotContains(t, h.host.warned()[0], "raw bank text")
}

func TestFlow_OrderCreationFailureReturnsToSelecting(t *testing.T) {
	h := newHarness("5", "15")
	h.orders.err = payment.NewError(payment.KindTransient, "gateway 503", "")

	err := h.flow.Start(context.Background(), audioCall)
	require.Error(t, err)
	require.Equal(t, StateSelecting, h.flow.State())
	require.Equal(t, 0, h.tr.count("widget_open"))
	require.Len(t, h.host.warned(), 1)
}

func TestFlow_DeviceMissingBeforeCall(t *testing.T) {
	h := newHarness("100", "15")
	h.devices.err = &PermissionError{Reason: ReasonNoDevice}

	err := h.flow.Start(context.Background(), audioCall)
	var pe *PermissionError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, StatePermissionDenied, h.flow.State())
	require.Equal(t, []string{ReasonNoDevice.Remediation(calls.CallTypeAudio)}, h.host.warned())
	require.Equal(t, 0, h.tr.count("join"))
}

func TestFlow_PermissionDeniedAfterPaymentStillVerifies(t *testing.T) {
	h := newHarness("5", "15")
	h.devices.err = &PermissionError{Reason: ReasonNotAllowed}

	err := h.flow.Start(context.Background(), StartRequest{ExpertID: "expert-1", CallType: calls.CallTypeVideo, DurationMinutes: 30})
	require.Error(t, err)
	require.Equal(t, StatePermissionDenied, h.flow.State())
	require.Equal(t, 1, h.tr.count("probe"))
	require.Equal(t, 1, h.tr.count("verify"))
	require.Equal(t, 0, h.tr.count("join"))
	require.Contains(t, h.host.warned()[0], "camera and microphone")
}

func TestFlow_UnknownProbeErrorTreatedAsNoDevice(t *testing.T) {
	h := newHarness("100", "15")
	h.devices.err = errors.New("NotReadableError")

	err := h.flow.Start(context.Background(), audioCall)
	var pe *PermissionError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, ReasonNoDevice, pe.Reason)
}

func TestFlow_DialogClosedWhileVerifying(t *testing.T) {
	h := newHarness("5", "15")
	verified := false
	h.verify = func(ctx context.Context, req payment.VerifyRequest) (payment.VerificationResult, error) {
		require.NoError(t, h.flow.CloseDialog())
		require.NoError(t, ctx.Err(), "verification outlives the dialog")
		verified = true
		return okVerify(ctx, req)
	}

	err := h.flow.Start(context.Background(), audioCall)
	require.Error(t, err)
	require.True(t, verified)
	require.Equal(t, StateSelecting, h.flow.State())
	require.Empty(t, h.backend.created)
	require.GreaterOrEqual(t, h.tr.count("leave"), 1)
	require.Contains(t, h.host.states(), "connecting>selecting")

	// The abandoned attempt does not block the next one.
	h.verify = okVerify
	require.NoError(t, h.flow.Start(context.Background(), audioCall))
	require.Equal(t, StateActive, h.flow.State())
	_, err = h.flow.End(context.Background())
	require.NoError(t, err)
	h.flow.Wait()
}

func TestFlow_CloseDialogOnlyWhilePending(t *testing.T) {
	h := newHarness("100", "15")
	require.ErrorIs(t, h.flow.CloseDialog(), ErrInvalidTransition)
}

func TestFlow_ProvisionalPassDefersToServerGate(t *testing.T) {
	h := newHarness("0", "15")
	h.flow.d.Balances = fakeBalances{err: errors.New("timeout")}
	h.backend.createErr = &PaymentRequiredError{Shortfall: decimal.NewFromInt(15), Currency: "INR"}

	err := h.flow.Start(context.Background(), audioCall)
	var pr *PaymentRequiredError
	require.True(t, errors.As(err, &pr))
	require.Equal(t, StateSelecting, h.flow.State())
	require.Empty(t, h.orders.reqs)
	require.Equal(t, 1, h.tr.count("leave"))
	require.Len(t, h.host.warned(), 1)
}

func TestFlow_JoinFailureReturnsToSelecting(t *testing.T) {
	h := newHarness("100", "15")
	h.transport.joinErr = errJoin

	require.ErrorIs(t, h.flow.Start(context.Background(), audioCall), errJoin)
	require.Equal(t, StateSelecting, h.flow.State())
	require.Equal(t, 0, h.tr.count("create_call"))
}

func TestFlow_QuoteUnavailableStaysSelecting(t *testing.T) {
	h := newHarness("100", "15")
	h.flow.d.Quotes = fakeQuoter{err: pricing.ErrExpertUnavailable}

	require.ErrorIs(t, h.flow.Start(context.Background(), audioCall), pricing.ErrExpertUnavailable)
	require.Equal(t, StateSelecting, h.flow.State())
	require.Empty(t, h.host.states())
}

func TestFlow_ExtendAndEnd(t *testing.T) {
	h := newHarness("100", "15")
	require.NoError(t, h.flow.Start(context.Background(), audioCall))
	require.ErrorIs(t, h.flow.Start(context.Background(), audioCall), ErrBusy)

	ext, err := h.flow.Extend(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, ext.Amount.Equal(decimal.RequireFromString("2.50")))
	require.Equal(t, StateActive, h.flow.State())

	snap, ok := h.flow.Session()
	require.True(t, ok)
	require.Equal(t, 300, snap.ExtensionSeconds)

	c, err := h.flow.End(context.Background())
	require.NoError(t, err)
	require.Len(t, c.CostOfExtensions, 1)
	h.flow.Wait()
	require.Len(t, h.backend.completed, 1)

	_, err = h.flow.End(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = h.flow.Extend(context.Background(), 5)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFlow_RejectsInvalidRequest(t *testing.T) {
	h := newHarness("100", "15")
	require.ErrorIs(t, h.flow.Start(context.Background(), StartRequest{ExpertID: "e", CallType: "fax", DurationMinutes: 30}), ErrInvalidRequest)
	_, err := h.flow.End(context.Background())
	require.ErrorIs(t, err, ErrNotLive)
}

func TestFlow_ResetAfterCompletionAdmitsNextCall(t *testing.T) {
	h := newHarness("100", "15")

	require.NoError(t, h.flow.Start(context.Background(), audioCall))
	require.ErrorIs(t, h.flow.Reset(), ErrInvalidTransition)
	_, err := h.flow.End(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, h.flow.Start(context.Background(), audioCall), ErrBusy)

	require.NoError(t, h.flow.Reset())
	require.Equal(t, StateSelecting, h.flow.State())
	_, live := h.flow.Session()
	require.False(t, live)

	require.NoError(t, h.flow.Start(context.Background(), audioCall))
	require.Equal(t, StateActive, h.flow.State())
	require.Equal(t, 2, h.tr.count("create_call"))
	_, err = h.flow.End(context.Background())
	require.NoError(t, err)
	h.flow.Wait()
	require.Len(t, h.backend.completed, 2)
}

func TestFlow_ResetAfterPermissionDenied(t *testing.T) {
	h := newHarness("100", "15")
	h.devices.err = &PermissionError{Reason: ReasonNotAllowed}
	require.Error(t, h.flow.Start(context.Background(), audioCall))
	require.Equal(t, StatePermissionDenied, h.flow.State())

	h.devices.err = nil
	require.NoError(t, h.flow.Reset())
	require.NoError(t, h.flow.Start(context.Background(), audioCall))
	require.Equal(t, StateActive, h.flow.State())
}

func TestNext(t *testing.T) {
	to, err := Next(StateSelecting, EventInsufficient)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingPayment, to)

	for _, s := range []State{StateCompleted, StatePaymentFailed, StatePermissionDenied} {
		for _, ev := range []Event{EventEnd, EventJoined, EventPaymentReceived, EventDialogClosed} {
			_, err := Next(s, ev)
			require.ErrorIs(t, err, ErrInvalidTransition, "%s on %s", ev, s)
		}
		to, err := Next(s, EventReset)
		require.NoError(t, err)
		require.Equal(t, StateSelecting, to)
	}
	_, err = Next(StateActive, EventReset)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
