package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"consult-platform/internal/calls"
	"consult-platform/internal/pricing"
	"consult-platform/pkg/logger"
	"consult-platform/pkg/utils"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Backend is the server side of a live call.
type Backend interface {
	// ConfirmExtension debits the wallet for extra minutes and records the
	// extension. Replays with the same extension id return the stored row.
	ConfirmExtension(ctx context.Context, callID, extensionID string, minutes int) (calls.Extension, error)
	CompleteCall(ctx context.Context, callID string, actualMinutes int) error
}

var (
	ErrEnded            = errors.New("session: call already ended")
	ErrInvalidExtension = errors.New("session: invalid extension")
)

// Completion is the final accounting of a call.
type Completion struct {
	CallID                string
	ActualDurationMinutes int
	ElapsedSeconds        int
	CostAtStart           decimal.Decimal
	CostOfExtensions      []decimal.Decimal
}

// Accountant tracks what a live call has cost and writes completion back
// once the call ends.
type Accountant struct {
	callID      string
	costAtStart decimal.Decimal
	timer       *Timer
	backend     Backend
	log         *slog.Logger
	backoff     func() backoff.BackOff

	mu         sync.Mutex
	extensions []decimal.Decimal
	completion *Completion
	wg         sync.WaitGroup
}

func NewAccountant(callID string, costAtStart decimal.Decimal, timer *Timer, backend Backend, log *slog.Logger) *Accountant {
	if log == nil {
		log = logger.Discard()
	}
	return &Accountant{
		callID:      callID,
		costAtStart: costAtStart,
		timer:       timer,
		backend:     backend,
		log:         log.With("call_id", callID),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = time.Minute
			return backoff.WithMaxRetries(b, 5)
		},
	}
}

// PurchaseExtension buys extra minutes. Time is only added after the
// backend confirms the debit.
func (a *Accountant) PurchaseExtension(ctx context.Context, minutes int) (calls.Extension, error) {
	if minutes <= 0 {
		return calls.Extension{}, ErrInvalidExtension
	}
	if a.timer.Snapshot().Ended {
		return calls.Extension{}, ErrEnded
	}
	ext, err := a.backend.ConfirmExtension(ctx, a.callID, uuid.NewString(), minutes)
	if err != nil {
		return calls.Extension{}, err
	}
	// Time and cost are added together under mu so End sees both or neither.
	a.mu.Lock()
	if a.completion != nil || !a.timer.Extend(ext.Minutes) {
		a.mu.Unlock()
		// The call ended while the debit was in flight; the extension row
		// stays for reconciliation.
		a.log.Warn("extension confirmed after call ended", "extension_id", ext.ID)
		return ext, ErrEnded
	}
	a.extensions = append(a.extensions, ext.Amount)
	a.mu.Unlock()

	a.log.Info("call extended", "extension_id", ext.ID, "minutes", ext.Minutes, "amount", ext.Amount.String())
	return ext, nil
}

func (a *Accountant) CostOfExtensions() []decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]decimal.Decimal(nil), a.extensions...)
}

// TotalCost is the starting cost plus every confirmed extension.
func (a *Accountant) TotalCost() decimal.Decimal {
	total := a.costAtStart
	for _, c := range a.CostOfExtensions() {
		total = total.Add(c)
	}
	return total
}

// End stops the timer and commits completion in the background. It returns
// immediately so media teardown never waits on the network; later calls
// return the first result.
func (a *Accountant) End(ctx context.Context) Completion {
	a.mu.Lock()
	if a.completion != nil {
		c := *a.completion
		a.mu.Unlock()
		return c
	}
	snap := a.timer.Stop()
	c := Completion{
		CallID:                a.callID,
		ActualDurationMinutes: pricing.BillableMinutes(snap.ElapsedSeconds),
		ElapsedSeconds:        snap.ElapsedSeconds,
		CostAtStart:           a.costAtStart,
		CostOfExtensions:      append([]decimal.Decimal(nil), a.extensions...),
	}
	a.completion = &c
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.commit(context.WithoutCancel(ctx), c)
	}()
	return c
}

// Wait blocks until the completion write has finished or given up.
func (a *Accountant) Wait() {
	a.wg.Wait()
}

func (a *Accountant) commit(ctx context.Context, c Completion) {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := a.backend.CompleteCall(ctx, c.CallID, c.ActualDurationMinutes)
		if errors.Is(err, calls.ErrNotFound) || errors.Is(err, calls.ErrInvalidArgument) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(a.backoff(), ctx))
	if err != nil {
		utils.CompletionWriteFailures.Inc()
		a.log.Error("completion write failed; left for reconciliation",
			"actual_duration_minutes", c.ActualDurationMinutes,
			"attempts", attempt,
			"err", err,
		)
		return
	}
	a.log.Info("call completed", "actual_duration_minutes", c.ActualDurationMinutes, "attempts", attempt)
}
