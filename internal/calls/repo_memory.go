package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu         sync.Mutex
	records    map[Kind]map[string]Record
	extensions map[string][]Extension

	// UpdateErr forces Update to fail, for completion retry tests.
	UpdateErr error
	Updates   int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		records: map[Kind]map[string]Record{
			KindCallSession: {},
			KindAppointment: {},
		},
		extensions: map[string][]Extension{},
	}
}

func (r *MemoryRepo) Create(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.records[rec.Kind]
	if !ok {
		return ErrInvalidArgument
	}
	if _, exists := byID[rec.ID]; exists {
		return ErrAlreadyExists
	}
	byID[rec.ID] = rec
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, kind Kind, id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[kind][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) Update(ctx context.Context, kind Kind, id string, fn UpdateFunc) (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates++
	if r.UpdateErr != nil {
		return Record{}, false, r.UpdateErr
	}
	rec, ok := r.records[kind][id]
	if !ok {
		return Record{}, false, ErrNotFound
	}
	next, changed, err := fn(rec)
	if err != nil {
		return rec, false, err
	}
	if !changed {
		return rec, false, nil
	}
	r.records[kind][id] = next
	return next, true, nil
}

func (r *MemoryRepo) AddExtension(ctx context.Context, ext Extension) (Extension, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.extensions[ext.CallID] {
		if e.ID == ext.ID {
			return e, false, nil
		}
	}
	r.extensions[ext.CallID] = append(r.extensions[ext.CallID], ext)
	return ext, true, nil
}

func (r *MemoryRepo) ListExtensions(ctx context.Context, callID string) ([]Extension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Extension, len(r.extensions[callID]))
	copy(out, r.extensions[callID])
	return out, nil
}

func (r *MemoryRepo) ListByPaymentStatus(ctx context.Context, kind Kind, status PaymentStatus, updatedBefore time.Time) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records[kind] {
		if rec.PaymentStatus == status && rec.UpdatedAt.Before(updatedBefore) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
