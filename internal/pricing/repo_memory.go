package pricing

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryRepo is a simple in-memory repository useful for tests and early development.
type MemoryRepo struct {
	mu      sync.Mutex
	Experts map[string]ExpertProfile
	Prices  []CategoryPrice

	// ExpertErr and PriceErr force lookup failures.
	ExpertErr error
	PriceErr  error

	ExpertLookups int
}

func (r *MemoryRepo) FindExpert(ctx context.Context, expertID string) (ExpertProfile, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ExpertLookups++
	if r.ExpertErr != nil {
		return ExpertProfile{}, r.ExpertErr
	}
	p, ok := r.Experts[expertID]
	if !ok {
		return ExpertProfile{}, ErrExpertNotFound
	}
	return p, nil
}

func (r *MemoryRepo) FindCategoryPrice(ctx context.Context, categoryID string, durationMinutes int, currency Currency) (decimal.Decimal, bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.PriceErr != nil {
		return decimal.Zero, false, r.PriceErr
	}
	for _, p := range r.Prices {
		if p.CategoryID == categoryID && p.DurationMinutes == durationMinutes && p.Currency == currency {
			return p.Amount, true, nil
		}
	}
	return decimal.Zero, false, nil
}
