package admission

import (
	"errors"
	"fmt"
)

// State is a call attempt's position in the admission lifecycle.
type State string

const (
	StateSelecting        State = "selecting"
	StateAwaitingPayment  State = "awaiting_payment"
	StateConnecting       State = "connecting"
	StateActive           State = "active"
	StateExtending        State = "extending"
	StateCompleted        State = "completed"
	StatePaymentFailed    State = "payment_failed"
	StatePermissionDenied State = "permission_denied"
)

// Terminal reports whether s ends an attempt. Only EventReset leaves it.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StatePaymentFailed || s == StatePermissionDenied
}

// Event drives a transition.
type Event string

const (
	EventInsufficient       Event = "insufficient"
	EventSufficient         Event = "sufficient"
	EventProbeDenied        Event = "probe_denied"
	EventPaymentReceived    Event = "payment_received"
	EventPaymentCancelled   Event = "payment_cancelled"
	EventDialogClosed       Event = "dialog_closed"
	EventVerificationFailed Event = "verification_failed"
	EventConnectFailed      Event = "connect_failed"
	EventJoined             Event = "joined"
	EventExtend             Event = "extend"
	EventExtended           Event = "extended"
	EventEnd                Event = "end"
	EventReset              Event = "reset"
)

var ErrInvalidTransition = errors.New("admission: invalid transition")

var transitions = map[State]map[Event]State{
	StateSelecting: {
		EventInsufficient: StateAwaitingPayment,
		EventSufficient:   StateConnecting,
		EventProbeDenied:  StatePermissionDenied,
	},
	StateAwaitingPayment: {
		EventPaymentReceived:  StateConnecting,
		EventPaymentCancelled: StateSelecting,
		EventProbeDenied:      StatePermissionDenied,
		EventDialogClosed:     StateSelecting,
	},
	StateConnecting: {
		EventJoined:             StateActive,
		EventVerificationFailed: StatePaymentFailed,
		EventConnectFailed:      StateSelecting,
		EventDialogClosed:       StateSelecting,
	},
	StateActive: {
		EventExtend: StateExtending,
		EventEnd:    StateCompleted,
	},
	StateExtending: {
		EventExtended: StateActive,
		EventEnd:      StateCompleted,
	},
	StateCompleted:        {EventReset: StateSelecting},
	StatePaymentFailed:    {EventReset: StateSelecting},
	StatePermissionDenied: {EventReset: StateSelecting},
}

// Next returns the state ev leads to from s.
func Next(s State, ev Event) (State, error) {
	to, ok := transitions[s][ev]
	if !ok {
		return s, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, s)
	}
	return to, nil
}
