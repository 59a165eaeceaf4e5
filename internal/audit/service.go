package audit

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// Processed reports whether eventID already has a non-failed record.
	Processed(ctx context.Context, provider, eventID string) (bool, error)
	List(ctx context.Context, from, to time.Time) ([]Event, error)
}

// Service records webhook deliveries.
//
// IMPORTANT:
// - Audit is internal-only. Raw payloads may contain customer contact details.
type Service struct {
	repo    Repository
	clock   func() time.Time
	backoff func() backoff.BackOff
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		clock: time.Now,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Append validates e, fills ID/ProcessedAt and writes it, retrying transient
// store errors briefly.
func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Provider == "" || e.EventType == "" || !e.Status.Valid() {
		return ErrInvalidEvent
	}
	if len(e.RawPayload) == 0 {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = now
	}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = now
	}
	return backoff.Retry(func() error {
		return s.repo.Append(ctx, e)
	}, backoff.WithContext(s.backoff(), ctx))
}

// Processed reports whether a delivery id was already handled. An empty id
// is never considered processed.
func (s *Service) Processed(ctx context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	return s.repo.Processed(ctx, provider, eventID)
}

func (s *Service) List(ctx context.Context, from, to time.Time) ([]Event, error) {
	if !from.Before(to) {
		return nil, ErrInvalidEvent
	}
	return s.repo.List(ctx, from, to)
}
