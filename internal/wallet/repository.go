package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NOTE: This repository assumes the following tables exist:
// - wallets (UNIQUE owner_id)
// - wallet_ledger (immutable append-only, UNIQUE (wallet_id, idempotency_key))
// - wallet_balances (projection keyed by owner_id)
// - admin_wallet_actions

// ensureWallet creates the owner's wallet on first use and locks it to
// serialize concurrent money operations per owner.
func ensureWallet(ctx context.Context, tx *sql.Tx, ownerID, currency string, now time.Time) (Wallet, error) {
	const ins = `
INSERT INTO wallets (id, owner_id, currency, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (owner_id) DO NOTHING
`
	if _, err := tx.ExecContext(ctx, ins, uuid.NewString(), ownerID, currency, WalletStatusActive, now); err != nil {
		return Wallet{}, err
	}
	return lockWallet(ctx, tx, ownerID)
}

func lockWallet(ctx context.Context, tx *sql.Tx, ownerID string) (Wallet, error) {
	const q = `
SELECT id, owner_id, currency, status, created_at, updated_at
FROM wallets
WHERE owner_id = $1
FOR UPDATE
`
	var w Wallet
	if err := tx.QueryRowContext(ctx, q, ownerID).Scan(
		&w.ID,
		&w.OwnerID,
		&w.Currency,
		&w.Status,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBalance(ctx context.Context, q queryRower, ownerID string) (Balance, error) {
	const stmt = `
SELECT owner_id, currency, balance, updated_at
FROM wallet_balances
WHERE owner_id = $1
`
	var b Balance
	if err := q.QueryRowContext(ctx, stmt, ownerID).Scan(
		&b.OwnerID,
		&b.Currency,
		&b.Amount,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, walletID, key string) (WalletLedger, bool, error) {
	const q = `
SELECT id, owner_id, wallet_id, type, amount, currency, external_ref, idempotency_key, metadata, created_at
FROM wallet_ledger
WHERE wallet_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e WalletLedger
	err := tx.QueryRowContext(ctx, q, walletID, key).Scan(
		&e.ID,
		&e.OwnerID,
		&e.WalletID,
		&e.Type,
		&e.Amount,
		&e.Currency,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WalletLedger{}, false, nil
		}
		return WalletLedger{}, false, err
	}
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e WalletLedger) error {
	const q = `
INSERT INTO wallet_ledger (
  id, owner_id, wallet_id, type, amount, currency, external_ref, idempotency_key, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.OwnerID,
		e.WalletID,
		e.Type,
		e.Amount,
		e.Currency,
		e.ExternalRef,
		e.IdempotencyKey,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

// applyBalanceDelta is the only writer of wallet_balances. The increment
// happens in SQL so concurrent credits and debits never lose updates.
func applyBalanceDelta(ctx context.Context, tx *sql.Tx, ownerID, currency string, delta decimal.Decimal, now time.Time) (Balance, error) {
	const q = `
INSERT INTO wallet_balances (owner_id, currency, balance, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (owner_id)
DO UPDATE SET balance = wallet_balances.balance + EXCLUDED.balance,
              updated_at = EXCLUDED.updated_at
RETURNING owner_id, currency, balance, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, ownerID, currency, delta, now).Scan(
		&b.OwnerID,
		&b.Currency,
		&b.Amount,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func insertAdminAction(ctx context.Context, tx *sql.Tx, a AdminWalletAction) error {
	const q = `
INSERT INTO admin_wallet_actions (
  id, owner_id, wallet_id, admin_user_id, admin_role, action, reason,
  amount, currency, related_ledger_id, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := tx.ExecContext(ctx, q,
		a.ID,
		a.OwnerID,
		a.WalletID,
		a.AdminUserID,
		a.AdminRole,
		a.Action,
		a.Reason,
		a.Amount,
		a.Currency,
		a.RelatedLedgerID,
		a.CreatedAt,
	)
	return err
}
