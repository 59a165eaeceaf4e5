package reconcile

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// EventType is a gateway webhook event name.
type EventType string

const (
	EventPaymentAuthorized EventType = "payment.authorized"
	EventPaymentCaptured   EventType = "payment.captured"
	EventPaymentFailed     EventType = "payment.failed"
	EventOrderPaid         EventType = "order.paid"

	EventLinkPaid          EventType = "payment_link.paid"
	EventLinkPartiallyPaid EventType = "payment_link.partially_paid"
	EventLinkExpired       EventType = "payment_link.expired"
	EventLinkCancelled     EventType = "payment_link.cancelled"

	EventDisputeCreated        EventType = "payment.dispute.created"
	EventDisputeWon            EventType = "payment.dispute.won"
	EventDisputeLost           EventType = "payment.dispute.lost"
	EventDisputeUnderReview    EventType = "payment.dispute.under_review"
	EventDisputeActionRequired EventType = "payment.dispute.action_required"
	EventDisputeClosed         EventType = "payment.dispute.closed"

	EventDowntimeStarted  EventType = "payment.downtime.started"
	EventDowntimeUpdated  EventType = "payment.downtime.updated"
	EventDowntimeResolved EventType = "payment.downtime.resolved"
)

// envelope is the outer webhook body.
type envelope struct {
	Event     EventType `json:"event"`
	AccountID string    `json:"account_id"`
	Contains  []string  `json:"contains"`
	Payload   struct {
		Payment     *wrapped[paymentEntity]   `json:"payment"`
		Order       *wrapped[orderEntity]     `json:"order"`
		PaymentLink *wrapped[linkEntity]      `json:"payment_link"`
		Dispute     *wrapped[disputeEntity]   `json:"dispute"`
		Downtime    *wrapped[json.RawMessage] `json:"downtime"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

type wrapped[T any] struct {
	Entity T `json:"entity"`
}

// notes are the key/value notes set at order creation.
type notes map[string]string

// UnmarshalJSON tolerates the gateway's empty-array encoding of empty notes.
func (n *notes) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		*n = notes{}
		return nil
	}
	m := map[string]string{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	ErrorReason      string `json:"error_reason"`
	Notes            notes  `json:"notes"`
}

type orderEntity struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Notes    notes  `json:"notes"`
}

type linkEntity struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
	Notes       notes  `json:"notes"`
}

type disputeEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Phase     string `json:"phase"`
}

// majorUnits converts a gateway amount in minor units.
func majorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// subject is what an event is about, collected from whichever entities the
// payload carries.
type subject struct {
	EntityID        string
	PaymentID       string
	Amount          decimal.Decimal
	Currency        string
	Purpose         string
	OwnerID         string
	RelatedEntityID string
	DisputeID       string
	FailureReason   string
}

func (e envelope) subject() subject {
	var s subject
	n := notes{}
	merge := func(src notes) {
		for k, v := range src {
			if _, ok := n[k]; !ok {
				n[k] = v
			}
		}
	}

	if p := e.Payload.Payment; p != nil {
		s.PaymentID = p.Entity.ID
		s.EntityID = p.Entity.ID
		s.Amount = majorUnits(p.Entity.Amount)
		s.Currency = p.Entity.Currency
		s.FailureReason = p.Entity.ErrorReason
		merge(p.Entity.Notes)
	}
	if o := e.Payload.Order; o != nil {
		if s.EntityID == "" {
			s.EntityID = o.Entity.ID
			s.Amount = majorUnits(o.Entity.Amount)
			s.Currency = o.Entity.Currency
		}
		merge(o.Entity.Notes)
	}
	if l := e.Payload.PaymentLink; l != nil {
		if s.EntityID == "" {
			s.EntityID = l.Entity.ID
			s.Amount = majorUnits(l.Entity.Amount)
			s.Currency = l.Entity.Currency
		}
		merge(l.Entity.Notes)
		if n["related_entity_id"] == "" && l.Entity.ReferenceID != "" {
			n["related_entity_id"] = l.Entity.ReferenceID
		}
	}
	if d := e.Payload.Dispute; d != nil {
		s.DisputeID = d.Entity.ID
		s.EntityID = d.Entity.ID
		if s.PaymentID == "" {
			s.PaymentID = d.Entity.PaymentID
		}
		s.Amount = majorUnits(d.Entity.Amount)
		s.Currency = d.Entity.Currency
	}

	s.Purpose = n["purpose"]
	s.OwnerID = n["owner_id"]
	s.RelatedEntityID = n["related_entity_id"]
	return s
}
