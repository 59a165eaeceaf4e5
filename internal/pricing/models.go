package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are decimals in major units (e.g. 15.00 INR).

type Currency string

const (
	CurrencyINR Currency = "INR"
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
)

func (c Currency) Valid() bool {
	switch c {
	case CurrencyINR, CurrencyEUR, CurrencyUSD:
		return true
	}
	return false
}

// Source records where a quote amount came from.
type Source string

const (
	SourceDatabase Source = "database"
	SourceFallback Source = "fallback"
)

// SupportedDurations are the session lengths experts can be booked for.
var SupportedDurations = []int{30, 60}

// Quote is computed fresh every time a call-setup dialog opens. It is never
// persisted.
type Quote struct {
	ExpertID        string          `json:"expert_id"`
	DurationMinutes int             `json:"duration_minutes"`
	Currency        Currency        `json:"currency"`
	Amount          decimal.Decimal `json:"amount"`
	Source          Source          `json:"source"`
}

// ExpertProfile carries the pricing-relevant subset of an expert row.
// FlatRate is the expert's hourly rate used when the category has no
// structured price.
type ExpertProfile struct {
	ID         string          `json:"id" db:"id"`
	CategoryID string          `json:"category_id" db:"category_id"`
	FlatRate   decimal.Decimal `json:"flat_rate" db:"flat_rate"`
}

// CategoryPrice is one row of a category's structured price table.
type CategoryPrice struct {
	CategoryID      string          `json:"category_id" db:"category_id"`
	DurationMinutes int             `json:"duration_minutes" db:"duration_minutes"`
	Currency        Currency        `json:"currency" db:"currency"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
