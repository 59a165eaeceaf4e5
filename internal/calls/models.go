package calls

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is the durable row behind a consultation: either an on-demand call
// session or a booked appointment. Both kinds share one id space, so gateway
// events that only carry an id are matched against each kind in turn.
//
// Money invariant reminder: wallet charges reference the record id in the
// wallet ledger (external_ref) rather than mutating money fields here.
type Record struct {
	ID       string `json:"id" db:"id"`
	Kind     Kind   `json:"kind" db:"-"`
	OwnerID  string `json:"owner_id" db:"owner_id"`
	ExpertID string `json:"expert_id" db:"expert_id"`

	CallType CallType `json:"call_type,omitempty" db:"call_type"`

	Status        Status        `json:"status" db:"status"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`

	PlannedDurationMinutes int `json:"planned_duration_minutes" db:"planned_duration_minutes"`
	// ActualDurationMinutes is set once on completion.
	ActualDurationMinutes int `json:"actual_duration_minutes,omitempty" db:"actual_duration_minutes"`

	Currency    string          `json:"currency" db:"currency"`
	CostAtStart decimal.Decimal `json:"cost_at_start" db:"cost_at_start"`

	// PaymentID is the gateway payment that settled the record, if any.
	PaymentID string `json:"payment_id,omitempty" db:"payment_id"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

type Kind string

const (
	KindCallSession Kind = "call_session"
	KindAppointment Kind = "appointment"
)

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool { return t == CallTypeAudio || t == CallTypeVideo }

type Status string

const (
	StatusPending       Status = "pending"
	StatusConfirmed     Status = "confirmed"
	StatusActive        Status = "active"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
	StatusPaymentFailed Status = "payment_failed"
)

type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusAuthorized  PaymentStatus = "authorized"
	PaymentStatusPaid        PaymentStatus = "paid"
	PaymentStatusFailed      PaymentStatus = "failed"
	PaymentStatusDisputed    PaymentStatus = "disputed"
	PaymentStatusChargedBack PaymentStatus = "charged_back"
)

// Extension is one purchased extension of a live call. ID is supplied by the
// client and makes the purchase idempotent.
type Extension struct {
	ID       string          `json:"id" db:"id"`
	CallID   string          `json:"call_id" db:"call_id"`
	Minutes  int             `json:"minutes" db:"minutes"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
	Currency string          `json:"currency" db:"currency"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
