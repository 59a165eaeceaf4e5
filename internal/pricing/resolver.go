package pricing

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"consult-platform/pkg/logger"
	"consult-platform/pkg/utils"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPricingReq = errors.New("invalid pricing request")
	ErrExpertNotFound    = errors.New("expert not found")
	// ErrExpertUnavailable means the expert profile could not be loaded and
	// this process has never seen it, so not even a fallback price can be
	// computed.
	ErrExpertUnavailable = errors.New("expert unavailable")
)

const profileTTL = 5 * time.Minute

// Repository abstracts pricing persistence.
type Repository interface {
	FindExpert(ctx context.Context, expertID string) (ExpertProfile, error)
	// FindCategoryPrice reports ok=false when no structured price exists.
	FindCategoryPrice(ctx context.Context, categoryID string, durationMinutes int, currency Currency) (decimal.Decimal, bool, error)
}

// Resolver computes session prices.
//
// Contract:
// - A structured price of exactly 0 wins over the fallback.
// - Structured price lookup failures degrade to the fallback with a warning.
// - No retries.
// - A profile read that fails is served from the last profile seen, however
//   old, so the flat-rate fallback stays available.
type Resolver struct {
	repo      Repository
	profiles  *gocache.Cache
	lastKnown *gocache.Cache
	log       *slog.Logger
}

func NewResolver(repo Repository, log *slog.Logger) *Resolver {
	if log == nil {
		log = logger.Discard()
	}
	return &Resolver{
		repo:      repo,
		profiles:  gocache.New(profileTTL, 2*profileTTL),
		lastKnown: gocache.New(gocache.NoExpiration, 0),
		log:       log,
	}
}

func (r *Resolver) ResolvePrice(ctx context.Context, expertID string, durationMinutes int, currency Currency) (Quote, error) {
	if expertID == "" || !currency.Valid() || !slices.Contains(SupportedDurations, durationMinutes) {
		return Quote{}, ErrInvalidPricingReq
	}

	profile, err := r.profile(ctx, expertID)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{
		ExpertID:        expertID,
		DurationMinutes: durationMinutes,
		Currency:        currency,
	}

	amount, ok, err := r.repo.FindCategoryPrice(ctx, profile.CategoryID, durationMinutes, currency)
	switch {
	case err != nil:
		r.log.Warn("structured price lookup failed, using fallback",
			"expert_id", expertID, "category_id", profile.CategoryID, "duration_minutes", durationMinutes, "err", err)
	case ok && amount.IsNegative():
		r.log.Warn("negative structured price ignored, using fallback",
			"expert_id", expertID, "category_id", profile.CategoryID, "amount", amount.String())
	case ok:
		q.Amount = amount
		q.Source = SourceDatabase
		return q, nil
	}

	q.Amount = FallbackAmount(profile.FlatRate, durationMinutes)
	q.Source = SourceFallback
	utils.PricingFallbacksTotal.Inc()
	return q, nil
}

func (r *Resolver) profile(ctx context.Context, expertID string) (ExpertProfile, error) {
	if v, ok := r.profiles.Get(expertID); ok {
		return v.(ExpertProfile), nil
	}
	p, err := r.repo.FindExpert(ctx, expertID)
	if err != nil {
		if errors.Is(err, ErrExpertNotFound) {
			r.lastKnown.Delete(expertID)
			return ExpertProfile{}, err
		}
		if v, ok := r.lastKnown.Get(expertID); ok {
			logger.From(ctx).Warn("expert profile lookup failed, using last known profile", "expert_id", expertID, "err", err)
			return v.(ExpertProfile), nil
		}
		logger.From(ctx).Warn("expert profile lookup failed", "expert_id", expertID, "err", err)
		return ExpertProfile{}, ErrExpertUnavailable
	}
	r.profiles.SetDefault(expertID, p)
	r.lastKnown.Set(expertID, p, gocache.NoExpiration)
	return p, nil
}

// FallbackAmount prices a session from an hourly flat rate, rounded to
// cents. Negative rates yield zero.
func FallbackAmount(hourlyRate decimal.Decimal, durationMinutes int) decimal.Decimal {
	if hourlyRate.IsNegative() || durationMinutes <= 0 {
		return decimal.Zero
	}
	return hourlyRate.Mul(decimal.NewFromInt(int64(durationMinutes))).
		Div(decimal.NewFromInt(60)).
		Round(2)
}

// BillableMinutes rounds elapsed seconds up to whole started minutes.
func BillableMinutes(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}

// ExtensionAmount prices extra minutes at the per-minute rate of the call's
// starting cost.
func ExtensionAmount(costAtStart decimal.Decimal, plannedMinutes, extraMinutes int) decimal.Decimal {
	if costAtStart.IsNegative() || plannedMinutes <= 0 || extraMinutes <= 0 {
		return decimal.Zero
	}
	return costAtStart.Mul(decimal.NewFromInt(int64(extraMinutes))).
		Div(decimal.NewFromInt(int64(plannedMinutes))).
		Round(2)
}
