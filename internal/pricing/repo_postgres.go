package pricing

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"
)

// PostgresRepo reads experts and category_prices.
//
// category_prices.amount is nullable: a NULL amount means "no structured
// price" and is reported as not found, while 0 is a real price.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindExpert(ctx context.Context, expertID string) (ExpertProfile, error) {
	const q = `
SELECT id, category_id, flat_rate
FROM experts
WHERE id = $1
`
	var p ExpertProfile
	if err := r.db.QueryRowContext(ctx, q, expertID).Scan(&p.ID, &p.CategoryID, &p.FlatRate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExpertProfile{}, ErrExpertNotFound
		}
		return ExpertProfile{}, err
	}
	return p, nil
}

func (r *PostgresRepo) FindCategoryPrice(ctx context.Context, categoryID string, durationMinutes int, currency Currency) (decimal.Decimal, bool, error) {
	const q = `
SELECT amount
FROM category_prices
WHERE category_id = $1 AND duration_minutes = $2 AND currency = $3
`
	var amount decimal.NullDecimal
	err := r.db.QueryRowContext(ctx, q, categoryID, durationMinutes, string(currency)).Scan(&amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	if !amount.Valid {
		return decimal.Zero, false, nil
	}
	return amount.Decimal, true, nil
}
