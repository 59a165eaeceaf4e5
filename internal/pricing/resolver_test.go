package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func newRepo() *MemoryRepo {
	return &MemoryRepo{
		Experts: map[string]ExpertProfile{
			"exp-flat": {ID: "exp-flat", CategoryID: "cat-none", FlatRate: decimal.NewFromInt(30)},
			"exp-free": {ID: "exp-free", CategoryID: "cat-free", FlatRate: decimal.NewFromInt(30)},
			"exp-db":   {ID: "exp-db", CategoryID: "cat-therapy", FlatRate: decimal.NewFromInt(30)},
		},
		Prices: []CategoryPrice{
			{CategoryID: "cat-free", DurationMinutes: 30, Currency: CurrencyINR, Amount: decimal.Zero},
			{CategoryID: "cat-therapy", DurationMinutes: 60, Currency: CurrencyINR, Amount: decimal.NewFromInt(1200)},
		},
	}
}

func TestResolvePrice_FallbackFromFlatRate(t *testing.T) {
	r := NewResolver(newRepo(), nil)

	q, err := r.ResolvePrice(context.Background(), "exp-flat", 30, CurrencyINR)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if q.Source != SourceFallback {
		t.Fatalf("expected fallback, got %s", q.Source)
	}
	if !q.Amount.Equal(decimal.RequireFromString("15.00")) {
		t.Fatalf("expected 15.00, got %s", q.Amount)
	}
}

func TestResolvePrice_ZeroStructuredPriceWins(t *testing.T) {
	r := NewResolver(newRepo(), nil)

	q, err := r.ResolvePrice(context.Background(), "exp-free", 30, CurrencyINR)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if q.Source != SourceDatabase || !q.Amount.IsZero() {
		t.Fatalf("expected 0 from database, got %s from %s", q.Amount, q.Source)
	}
}

func TestResolvePrice_StructuredPrice(t *testing.T) {
	r := NewResolver(newRepo(), nil)

	q, err := r.ResolvePrice(context.Background(), "exp-db", 60, CurrencyINR)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if q.Source != SourceDatabase || !q.Amount.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("unexpected quote: %+v", q)
	}

	// Same category, other currency: no row, so fallback.
	q, err = r.ResolvePrice(context.Background(), "exp-db", 60, CurrencyEUR)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if q.Source != SourceFallback || !q.Amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestResolvePrice_PriceLookupFailureDegrades(t *testing.T) {
	repo := newRepo()
	repo.PriceErr = errors.New("connection reset")
	r := NewResolver(repo, nil)

	q, err := r.ResolvePrice(context.Background(), "exp-db", 60, CurrencyINR)
	if err != nil {
		t.Fatalf("pricing must not fail on lookup errors: %v", err)
	}
	if q.Source != SourceFallback {
		t.Fatalf("expected fallback, got %s", q.Source)
	}
}

func TestResolvePrice_ProfileCached(t *testing.T) {
	repo := newRepo()
	r := NewResolver(repo, nil)
	ctx := context.Background()

	if _, err := r.ResolvePrice(ctx, "exp-flat", 30, CurrencyINR); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	repo.ExpertErr = errors.New("db down")
	if _, err := r.ResolvePrice(ctx, "exp-flat", 60, CurrencyINR); err != nil {
		t.Fatalf("expected cached profile to be used: %v", err)
	}
	if repo.ExpertLookups != 1 {
		t.Fatalf("expected 1 expert lookup, got %d", repo.ExpertLookups)
	}

	if _, err := r.ResolvePrice(ctx, "exp-db", 60, CurrencyINR); !errors.Is(err, ErrExpertUnavailable) {
		t.Fatalf("expected ErrExpertUnavailable, got %v", err)
	}
}

func TestResolvePrice_ExpiredProfileServedFromLastKnown(t *testing.T) {
	repo := newRepo()
	r := NewResolver(repo, nil)
	ctx := context.Background()

	if _, err := r.ResolvePrice(ctx, "exp-flat", 30, CurrencyINR); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r.profiles.Flush()
	repo.ExpertErr = errors.New("db down")

	q, err := r.ResolvePrice(ctx, "exp-flat", 60, CurrencyINR)
	if err != nil {
		t.Fatalf("expected last known profile after ttl expiry: %v", err)
	}
	if q.Source != SourceFallback || !q.Amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected flat-rate fallback of 30, got %s from %s", q.Amount, q.Source)
	}
	if repo.ExpertLookups != 2 {
		t.Fatalf("expected the expired entry to be re-read, got %d lookups", repo.ExpertLookups)
	}
}

func TestResolvePrice_DeletedExpertForgetsLastKnown(t *testing.T) {
	repo := newRepo()
	r := NewResolver(repo, nil)
	ctx := context.Background()

	if _, err := r.ResolvePrice(ctx, "exp-flat", 30, CurrencyINR); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r.profiles.Flush()
	delete(repo.Experts, "exp-flat")
	if _, err := r.ResolvePrice(ctx, "exp-flat", 30, CurrencyINR); !errors.Is(err, ErrExpertNotFound) {
		t.Fatalf("expected ErrExpertNotFound, got %v", err)
	}
	repo.ExpertErr = errors.New("db down")
	if _, err := r.ResolvePrice(ctx, "exp-flat", 30, CurrencyINR); !errors.Is(err, ErrExpertUnavailable) {
		t.Fatalf("expected ErrExpertUnavailable, got %v", err)
	}
}

func TestResolvePrice_RejectsInvalidInput(t *testing.T) {
	r := NewResolver(newRepo(), nil)
	ctx := context.Background()

	if _, err := r.ResolvePrice(ctx, "exp-flat", 45, CurrencyINR); !errors.Is(err, ErrInvalidPricingReq) {
		t.Fatalf("expected invalid duration error, got %v", err)
	}
	if _, err := r.ResolvePrice(ctx, "exp-flat", 30, Currency("GBP")); !errors.Is(err, ErrInvalidPricingReq) {
		t.Fatalf("expected invalid currency error, got %v", err)
	}
	if _, err := r.ResolvePrice(ctx, "missing", 30, CurrencyINR); !errors.Is(err, ErrExpertNotFound) {
		t.Fatalf("expected ErrExpertNotFound, got %v", err)
	}
}

func TestFallbackAmount(t *testing.T) {
	if got := FallbackAmount(decimal.NewFromInt(-10), 30); !got.IsZero() {
		t.Fatalf("expected 0 for negative rate, got %s", got)
	}
	if got := FallbackAmount(decimal.RequireFromString("99.99"), 30); !got.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("expected 50.00, got %s", got)
	}
}

func TestBillableMinutes(t *testing.T) {
	if got := BillableMinutes(1); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := BillableMinutes(60); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := BillableMinutes(61); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := BillableMinutes(0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestExtensionAmount(t *testing.T) {
	if got := ExtensionAmount(decimal.RequireFromString("15.00"), 30, 5); !got.Equal(decimal.RequireFromString("2.50")) {
		t.Fatalf("expected 2.50, got %s", got)
	}
	if got := ExtensionAmount(decimal.RequireFromString("100"), 60, 5); !got.Equal(decimal.RequireFromString("8.33")) {
		t.Fatalf("expected 8.33, got %s", got)
	}
	if got := ExtensionAmount(decimal.RequireFromString("15.00"), 0, 5); !got.IsZero() {
		t.Fatalf("expected 0 for unplanned call, got %s", got)
	}
}
