package audit

import (
	"encoding/json"
	"time"
)

// Event is an immutable, append-only record of one gateway webhook delivery.
//
// Invariants:
// - Events are never updated or deleted.
// - Every verified delivery produces one event, including unknown types.
//
// Storage (Postgres): table webhook_audit_events with an INSERT-only policy.
type Event struct {
	ID       string `json:"id" db:"id"`
	Provider string `json:"provider" db:"provider"`

	// EventID is the gateway's delivery id, used for dedupe.
	EventID   string `json:"event_id" db:"event_id"`
	EventType string `json:"event_type" db:"event_type"`
	// EntityID is the payment/order/link/dispute id the event is about.
	EntityID string `json:"entity_id,omitempty" db:"entity_id"`

	Status Status `json:"status" db:"status"`
	// Duplicate marks a redelivery of an already processed event id.
	Duplicate bool `json:"duplicate" db:"duplicate"`
	// Error holds technical detail for failed events. Never shown to users.
	Error string `json:"error,omitempty" db:"error"`

	RawPayload json.RawMessage `json:"raw_payload" db:"raw_payload"`

	ReceivedAt  time.Time `json:"received_at" db:"received_at"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}

type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusUnhandled Status = "unhandled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusUnhandled:
		return true
	}
	return false
}
