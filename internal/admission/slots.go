package admission

import (
	"context"
	"errors"
	"time"

	"consult-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

var ErrTooManyLiveCalls = errors.New("admission: live call limit reached")

// Slots caps how many calls a client can hold open at once, across API
// replicas.
type Slots struct {
	rdb   redis.Scripter
	limit int
	ttl   time.Duration
}

func NewSlots(rdb redis.Scripter, limit int, ttl time.Duration) *Slots {
	return &Slots{rdb: rdb, limit: limit, ttl: ttl}
}

func slotKey(clientID string) string { return "admission:live:" + clientID }

// Acquire takes a slot for clientID or returns ErrTooManyLiveCalls.
func (s *Slots) Acquire(ctx context.Context, clientID string) error {
	ok, err := utils.AcquireSlot(ctx, s.rdb, slotKey(clientID), s.limit, s.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTooManyLiveCalls
	}
	utils.LiveCalls.Inc()
	return nil
}

func (s *Slots) Release(ctx context.Context, clientID string) error {
	if err := utils.ReleaseSlot(ctx, s.rdb, slotKey(clientID)); err != nil {
		return err
	}
	utils.LiveCalls.Dec()
	return nil
}
