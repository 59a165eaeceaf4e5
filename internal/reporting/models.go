package reporting

import (
	"time"

	"consult-platform/internal/audit"
	"consult-platform/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ReconciliationRequest asks for webhook outcomes in Range and for records
// whose payment has been unsettled for longer than StaleAfter.
type ReconciliationRequest struct {
	Range      TimeRange     `json:"range"`
	StaleAfter time.Duration `json:"stale_after"`
}

type EventTypeCounts struct {
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Unhandled  int `json:"unhandled"`
	Duplicates int `json:"duplicates"`
}

// FailedDelivery is a webhook event id whose last attempt in range failed.
type FailedDelivery struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	EntityID    string    `json:"entity_id,omitempty"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
	ProcessedAt time.Time `json:"processed_at"`
}

// PendingRecord is a call session or appointment still waiting on the
// gateway.
type PendingRecord struct {
	ID            string              `json:"id"`
	Kind          calls.Kind          `json:"kind"`
	OwnerID       string              `json:"owner_id"`
	Status        calls.Status        `json:"status"`
	PaymentStatus calls.PaymentStatus `json:"payment_status"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type ReconciliationReport struct {
	Range TimeRange `json:"range"`

	TotalEvents int                        `json:"total_events"`
	ByStatus    map[audit.Status]int       `json:"by_status"`
	ByEventType map[string]EventTypeCounts `json:"by_event_type"`

	UnresolvedFailures []FailedDelivery `json:"unresolved_failures"`
	PendingPayments    []PendingRecord  `json:"pending_payments"`
}
