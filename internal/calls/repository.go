package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")
)

// UpdateFunc maps the locked current record to its next value. Returning
// changed=false skips the write.
type UpdateFunc func(r Record) (next Record, changed bool, err error)

// Repository persists call sessions and appointments.
type Repository interface {
	Create(ctx context.Context, r Record) error
	Get(ctx context.Context, kind Kind, id string) (Record, error)
	// Update runs fn against the record while holding a row lock, so two
	// writers for one id are serialized and each sees the other's result.
	Update(ctx context.Context, kind Kind, id string, fn UpdateFunc) (Record, bool, error)
	// AddExtension inserts ext unless one with the same id exists for the
	// call, in which case the stored one is returned with created=false.
	AddExtension(ctx context.Context, ext Extension) (stored Extension, created bool, err error)
	ListExtensions(ctx context.Context, callID string) ([]Extension, error)
	// ListByPaymentStatus returns records of kind in status updated before cutoff.
	ListByPaymentStatus(ctx context.Context, kind Kind, status PaymentStatus, updatedBefore time.Time) ([]Record, error)
}
