package calls

import (
	"errors"
	"time"
)

// Event is a change requested by the client flow or by a gateway webhook.
type Event string

const (
	EventPaymentAuthorized Event = "payment_authorized"
	EventPaymentCaptured   Event = "payment_captured"
	EventPaymentFailed     Event = "payment_failed"
	EventDisputeOpened     Event = "dispute_opened"
	EventDisputeWon        Event = "dispute_won"
	EventDisputeLost       Event = "dispute_lost"
	EventJoined            Event = "joined"
	EventCompleted         Event = "completed"
	EventCancelled         Event = "cancelled"
)

// Params carries event data. Only the fields relevant to the event are read.
type Params struct {
	PaymentID             string
	ActualDurationMinutes int
	At                    time.Time
}

var ErrInvalidTransition = errors.New("invalid transition")

// Apply returns r after ev. changed is false when ev is a no-op for r, which
// is how replays and late duplicates are absorbed.
//
// Rules that hold for every sequence of events:
//   - a record is never confirmed, active or completed with payment failed
//   - a failure never downgrades a paid record
//   - completion is written once and never regressed by payment events
func Apply(r Record, ev Event, p Params) (out Record, changed bool, err error) {
	out = r
	switch ev {
	case EventPaymentAuthorized:
		if r.PaymentStatus != PaymentStatusPending {
			return r, false, nil
		}
		out.PaymentStatus = PaymentStatusAuthorized

	case EventPaymentCaptured:
		switch r.PaymentStatus {
		case PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusFailed:
		default:
			return r, false, nil
		}
		out.PaymentStatus = PaymentStatusPaid
		if p.PaymentID != "" {
			out.PaymentID = p.PaymentID
		}
		if r.Status == StatusPending || r.Status == StatusPaymentFailed {
			out.Status = StatusConfirmed
		}

	case EventPaymentFailed:
		switch r.PaymentStatus {
		case PaymentStatusPending, PaymentStatusAuthorized:
		default:
			return r, false, nil
		}
		switch r.Status {
		case StatusPending, StatusConfirmed:
			out.Status = StatusPaymentFailed
		case StatusCancelled:
		default:
			// Active or completed records were admitted on a settled
			// payment; a stray failure for them is left to reconciliation.
			return r, false, nil
		}
		out.PaymentStatus = PaymentStatusFailed

	case EventDisputeOpened:
		if r.PaymentStatus != PaymentStatusPaid {
			return r, false, nil
		}
		out.PaymentStatus = PaymentStatusDisputed

	case EventDisputeWon:
		if r.PaymentStatus != PaymentStatusDisputed {
			return r, false, nil
		}
		out.PaymentStatus = PaymentStatusPaid

	case EventDisputeLost:
		if r.PaymentStatus != PaymentStatusDisputed && r.PaymentStatus != PaymentStatusPaid {
			return r, false, nil
		}
		out.PaymentStatus = PaymentStatusChargedBack

	case EventJoined:
		switch r.Status {
		case StatusActive, StatusCompleted:
			return r, false, nil
		case StatusConfirmed:
			out.Status = StatusActive
		default:
			return r, false, ErrInvalidTransition
		}

	case EventCompleted:
		switch r.Status {
		case StatusCompleted:
			return r, false, nil
		case StatusConfirmed, StatusActive:
		default:
			return r, false, ErrInvalidTransition
		}
		if p.ActualDurationMinutes < 0 {
			return r, false, ErrInvalidTransition
		}
		out.Status = StatusCompleted
		out.ActualDurationMinutes = p.ActualDurationMinutes
		at := p.At.UTC()
		out.CompletedAt = &at

	case EventCancelled:
		switch r.Status {
		case StatusCancelled:
			return r, false, nil
		case StatusPending, StatusConfirmed:
			out.Status = StatusCancelled
		default:
			return r, false, ErrInvalidTransition
		}

	default:
		return r, false, ErrInvalidTransition
	}

	if !p.At.IsZero() {
		out.UpdatedAt = p.At.UTC()
	}
	return out, true, nil
}

// Consistent reports whether the status pair is one Apply can produce.
func Consistent(r Record) bool {
	if r.PaymentStatus != PaymentStatusFailed {
		return true
	}
	switch r.Status {
	case StatusConfirmed, StatusActive, StatusCompleted:
		return false
	}
	return true
}
