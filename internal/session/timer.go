package session

import (
	"context"
	"sync"
	"time"
)

const (
	// OfferAtRemaining is the remaining time at which the extension offer
	// appears.
	OfferAtRemaining = 60
	// OfferVisibleFor is how long the offer stays up, in seconds.
	OfferVisibleFor = 30
)

// TimerHooks are invoked outside the timer lock, in tick order.
type TimerHooks struct {
	OnTick        func(remaining int)
	OnOfferShown  func()
	OnOfferHidden func()
	OnExpired     func()
}

// Snapshot is a point-in-time view of a timer.
type Snapshot struct {
	PlannedSeconds   int
	ExtensionSeconds int
	RemainingSeconds int
	ElapsedSeconds   int
	OfferVisible     bool
	Ended            bool
}

// Timer counts an active call down at one-second resolution.
//
// The extension offer fires once when remaining time hits exactly
// OfferAtRemaining and hides after OfferVisibleFor ticks. A confirmed
// extension re-arms it for the new end time.
type Timer struct {
	mu        sync.Mutex
	planned   int
	extension int
	remaining int

	offerArmed bool
	offerLeft  int
	ended      bool

	hooks TimerHooks
}

func NewTimer(plannedSeconds int, h TimerHooks) *Timer {
	if plannedSeconds < 0 {
		plannedSeconds = 0
	}
	return &Timer{
		planned:    plannedSeconds,
		remaining:  plannedSeconds,
		offerArmed: true,
		hooks:      h,
	}
}

// Tick advances the countdown by one second.
func (t *Timer) Tick() {
	var fire []func()

	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	if t.remaining > 0 {
		t.remaining--
	}
	remaining := t.remaining
	if t.hooks.OnTick != nil {
		fire = append(fire, func() { t.hooks.OnTick(remaining) })
	}

	if t.offerLeft > 0 {
		t.offerLeft--
		if t.offerLeft == 0 {
			fire = append(fire, t.hooks.OnOfferHidden)
		}
	}
	if t.offerArmed && remaining == OfferAtRemaining {
		t.offerArmed = false
		t.offerLeft = OfferVisibleFor
		fire = append(fire, t.hooks.OnOfferShown)
	}

	if remaining == 0 {
		t.ended = true
		if t.offerLeft > 0 {
			t.offerLeft = 0
			fire = append(fire, t.hooks.OnOfferHidden)
		}
		fire = append(fire, t.hooks.OnExpired)
	}
	t.mu.Unlock()

	for _, f := range fire {
		if f != nil {
			f()
		}
	}
}

// Extend adds minutes to the remaining time. It is a no-op once the timer
// has ended.
func (t *Timer) Extend(minutes int) bool {
	if minutes <= 0 {
		return false
	}
	var hide func()

	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return false
	}
	t.extension += minutes * 60
	t.remaining += minutes * 60
	if t.offerLeft > 0 {
		t.offerLeft = 0
		hide = t.hooks.OnOfferHidden
	}
	t.offerArmed = true
	t.mu.Unlock()

	if hide != nil {
		hide()
	}
	return true
}

// Stop ends the countdown early and returns the final snapshot.
func (t *Timer) Stop() Snapshot {
	t.mu.Lock()
	t.ended = true
	t.offerLeft = 0
	s := t.snapshotLocked()
	t.mu.Unlock()
	return s
}

func (t *Timer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Timer) snapshotLocked() Snapshot {
	return Snapshot{
		PlannedSeconds:   t.planned,
		ExtensionSeconds: t.extension,
		RemainingSeconds: t.remaining,
		ElapsedSeconds:   t.planned + t.extension - t.remaining,
		OfferVisible:     t.offerLeft > 0,
		Ended:            t.ended,
	}
}

// Run ticks once per second until the timer ends or ctx is done.
func (t *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick()
			if t.Snapshot().Ended {
				return
			}
		}
	}
}
