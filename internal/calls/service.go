package calls

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service owns the durable lifecycle of consultations. Every write goes
// through Apply under the repository row lock, which makes the client's
// completion write and the gateway's capture write commutative.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// NewCallRequest opens a call session that has already been paid for from
// the wallet.
type NewCallRequest struct {
	ID              string
	OwnerID         string
	ExpertID        string
	CallType        CallType
	DurationMinutes int
	Currency        string
	CostAtStart     decimal.Decimal
}

func (s *Service) CreatePaidCall(ctx context.Context, req NewCallRequest) (Record, error) {
	if req.OwnerID == "" || req.ExpertID == "" || !req.CallType.Valid() || req.DurationMinutes <= 0 || req.Currency == "" {
		return Record{}, ErrInvalidArgument
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := s.clock().UTC()
	r := Record{
		ID:                     req.ID,
		Kind:                   KindCallSession,
		OwnerID:                req.OwnerID,
		ExpertID:               req.ExpertID,
		CallType:               req.CallType,
		Status:                 StatusConfirmed,
		PaymentStatus:          PaymentStatusPaid,
		PlannedDurationMinutes: req.DurationMinutes,
		Currency:               req.Currency,
		CostAtStart:            req.CostAtStart,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return Record{}, err
	}
	return r, nil
}

func (s *Service) Get(ctx context.Context, kind Kind, id string) (Record, error) {
	return s.repo.Get(ctx, kind, id)
}

// Apply runs ev against the record of kind with id.
func (s *Service) Apply(ctx context.Context, kind Kind, id string, ev Event, p Params) (Record, bool, error) {
	if id == "" {
		return Record{}, false, ErrInvalidArgument
	}
	if p.At.IsZero() {
		p.At = s.clock()
	}
	return s.repo.Update(ctx, kind, id, func(r Record) (Record, bool, error) {
		return Apply(r, ev, p)
	})
}

// ApplyAny applies ev to whichever record kind owns id, trying call sessions
// before appointments. ErrNotFound means neither kind has the id.
func (s *Service) ApplyAny(ctx context.Context, id string, ev Event, p Params) (Record, bool, error) {
	for _, kind := range []Kind{KindCallSession, KindAppointment} {
		r, changed, err := s.Apply(ctx, kind, id, ev, p)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return r, changed, err
	}
	return Record{}, false, ErrNotFound
}

// Complete records the billed duration of a call session.
func (s *Service) Complete(ctx context.Context, ownerID, callID string, actualMinutes int) (Record, bool, error) {
	if actualMinutes < 0 {
		return Record{}, false, ErrInvalidArgument
	}
	if err := s.checkOwner(ctx, ownerID, callID); err != nil {
		return Record{}, false, err
	}
	return s.Apply(ctx, KindCallSession, callID, EventCompleted, Params{ActualDurationMinutes: actualMinutes})
}

// MarkJoined moves a confirmed call session to active.
func (s *Service) MarkJoined(ctx context.Context, ownerID, callID string) (Record, bool, error) {
	if err := s.checkOwner(ctx, ownerID, callID); err != nil {
		return Record{}, false, err
	}
	return s.Apply(ctx, KindCallSession, callID, EventJoined, Params{})
}

// AddExtension records a purchased extension for a live call session.
func (s *Service) AddExtension(ctx context.Context, ownerID string, ext Extension) (Extension, bool, error) {
	if ext.ID == "" || ext.CallID == "" || ext.Minutes <= 0 {
		return Extension{}, false, ErrInvalidArgument
	}
	r, err := s.repo.Get(ctx, KindCallSession, ext.CallID)
	if err != nil {
		return Extension{}, false, err
	}
	if r.OwnerID != ownerID {
		return Extension{}, false, ErrNotFound
	}
	if r.Status != StatusActive && r.Status != StatusConfirmed {
		return Extension{}, false, ErrInvalidTransition
	}
	if ext.CreatedAt.IsZero() {
		ext.CreatedAt = s.clock().UTC()
	}
	return s.repo.AddExtension(ctx, ext)
}

func (s *Service) checkOwner(ctx context.Context, ownerID, callID string) error {
	r, err := s.repo.Get(ctx, KindCallSession, callID)
	if err != nil {
		return err
	}
	if r.OwnerID != ownerID {
		return ErrNotFound
	}
	return nil
}
