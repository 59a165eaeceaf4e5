package wallet

import (
	"consult-platform/internal/pricing"

	"github.com/shopspring/decimal"
)

// BalanceView is a balance as seen by a caller that may still be fetching
// it. A loading view carries no amount and must never be read as zero.
type BalanceView struct {
	loading bool
	balance Balance
}

func Loading() BalanceView { return BalanceView{loading: true} }

func Known(b Balance) BalanceView { return BalanceView{balance: b} }

func (v BalanceView) IsLoading() bool { return v.loading }

// Balance returns the known balance; ok is false while loading.
func (v BalanceView) Balance() (Balance, bool) {
	if v.loading {
		return Balance{}, false
	}
	return v.balance, true
}

// Decision is the gate outcome.
type Decision struct {
	Sufficient bool            `json:"sufficient"`
	Shortfall  decimal.Decimal `json:"shortfall"`
	// NegativeBalance is set when the stored balance is below zero. It blocks
	// the call on its own and has a separate user message.
	NegativeBalance bool `json:"negative_balance"`
	// Provisional marks a pass granted while the balance was still loading.
	// Re-run the gate once it resolves.
	Provisional bool `json:"provisional"`
}

// CanProceed decides whether a call priced by quote can start on balance.
// The caller ensures both are in the same currency.
func CanProceed(view BalanceView, quote pricing.Quote) Decision {
	b, ok := view.Balance()
	if !ok {
		return Decision{Sufficient: true, Shortfall: decimal.Zero, Provisional: true}
	}

	short := Shortfall(b.Amount, quote.Amount)
	if b.Amount.IsNegative() {
		return Decision{Sufficient: false, Shortfall: short, NegativeBalance: true}
	}
	return Decision{Sufficient: short.IsZero(), Shortfall: short}
}

// Shortfall is max(0, amount - balance).
func Shortfall(balance, amount decimal.Decimal) decimal.Decimal {
	d := amount.Sub(balance)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Message is the user-facing explanation for a blocked decision.
func (d Decision) Message() string {
	switch {
	case d.Sufficient:
		return ""
	case d.NegativeBalance:
		return "Your wallet has a negative balance from an earlier charge. Top up to clear it before starting a new call."
	default:
		return "Your wallet balance is too low for this call. Add funds to continue."
	}
}
