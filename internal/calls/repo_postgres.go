package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"consult-platform/pkg/utils"
)

// PostgresRepo stores records in call_sessions and appointments. Both tables
// carry the same lifecycle/payment columns.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindCallSession:
		return "call_sessions", nil
	case KindAppointment:
		return "appointments", nil
	}
	return "", ErrInvalidArgument
}

const recordColumns = `id, owner_id, expert_id, COALESCE(call_type, ''), status, payment_status,
       planned_duration_minutes, COALESCE(actual_duration_minutes, 0), currency, cost_at_start,
       COALESCE(payment_id, ''), created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, kind Kind) (Record, error) {
	r := Record{Kind: kind}
	var completedAt sql.NullTime
	if err := row.Scan(
		&r.ID,
		&r.OwnerID,
		&r.ExpertID,
		&r.CallType,
		&r.Status,
		&r.PaymentStatus,
		&r.PlannedDurationMinutes,
		&r.ActualDurationMinutes,
		&r.Currency,
		&r.CostAtStart,
		&r.PaymentID,
		&r.CreatedAt,
		&r.UpdatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (p *PostgresRepo) Create(ctx context.Context, r Record) error {
	table, err := tableFor(r.Kind)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`
INSERT INTO %s (
  id, owner_id, expert_id, call_type, status, payment_status,
  planned_duration_minutes, currency, cost_at_start, payment_id, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`, table)
	_, err = p.db.ExecContext(ctx, q,
		r.ID,
		r.OwnerID,
		r.ExpertID,
		nullIfEmpty(string(r.CallType)),
		r.Status,
		r.PaymentStatus,
		r.PlannedDurationMinutes,
		r.Currency,
		r.CostAtStart,
		nullIfEmpty(r.PaymentID),
		r.CreatedAt,
		r.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresRepo) Get(ctx context.Context, kind Kind, id string) (Record, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Record{}, err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, table)
	return scanRecord(p.db.QueryRowContext(ctx, q, id), kind)
}

func (p *PostgresRepo) Update(ctx context.Context, kind Kind, id string, fn UpdateFunc) (Record, bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Record{}, false, err
	}

	var out Record
	var changed bool
	err = utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		sel := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, recordColumns, table)
		cur, err := scanRecord(tx.QueryRowContext(ctx, sel, id), kind)
		if err != nil {
			return err
		}

		next, ok, err := fn(cur)
		if err != nil {
			return err
		}
		if !ok {
			out = cur
			return nil
		}

		upd := fmt.Sprintf(`
UPDATE %s
SET status = $2,
    payment_status = $3,
    actual_duration_minutes = $4,
    payment_id = $5,
    updated_at = $6,
    completed_at = $7
WHERE id = $1
`, table)
		var actual any
		if next.Status == StatusCompleted {
			actual = next.ActualDurationMinutes
		}
		if _, err := tx.ExecContext(ctx, upd,
			id,
			next.Status,
			next.PaymentStatus,
			actual,
			nullIfEmpty(next.PaymentID),
			next.UpdatedAt,
			next.CompletedAt,
		); err != nil {
			return err
		}
		out = next
		changed = true
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	return out, changed, nil
}

func (p *PostgresRepo) AddExtension(ctx context.Context, ext Extension) (Extension, bool, error) {
	const ins = `
INSERT INTO call_extensions (id, call_id, minutes, amount, currency, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (call_id, id) DO NOTHING
`
	res, err := p.db.ExecContext(ctx, ins, ext.ID, ext.CallID, ext.Minutes, ext.Amount, ext.Currency, ext.CreatedAt)
	if err != nil {
		return Extension{}, false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return ext, true, nil
	}

	const sel = `
SELECT id, call_id, minutes, amount, currency, created_at
FROM call_extensions
WHERE call_id = $1 AND id = $2
`
	var e Extension
	if err := p.db.QueryRowContext(ctx, sel, ext.CallID, ext.ID).Scan(
		&e.ID, &e.CallID, &e.Minutes, &e.Amount, &e.Currency, &e.CreatedAt,
	); err != nil {
		return Extension{}, false, err
	}
	return e, false, nil
}

func (p *PostgresRepo) ListExtensions(ctx context.Context, callID string) ([]Extension, error) {
	const q = `
SELECT id, call_id, minutes, amount, currency, created_at
FROM call_extensions
WHERE call_id = $1
ORDER BY created_at
`
	rows, err := p.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Extension
	for rows.Next() {
		var e Extension
		if err := rows.Scan(&e.ID, &e.CallID, &e.Minutes, &e.Amount, &e.Currency, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresRepo) ListByPaymentStatus(ctx context.Context, kind Kind, status PaymentStatus, updatedBefore time.Time) ([]Record, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
SELECT %s FROM %s
WHERE payment_status = $1 AND updated_at < $2
ORDER BY updated_at
LIMIT 500
`, recordColumns, table)
	rows, err := p.db.QueryContext(ctx, q, status, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
