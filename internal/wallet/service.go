package wallet

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"consult-platform/pkg/logger"
	"consult-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service provides wallet operations.
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - All money operations must be executed in a DB transaction
//
// Balance strategy:
//   - Balance is stored in a projection table (wallet_balances) updated atomically
//     alongside ledger inserts. Reads go through an optional cache that is
//     invalidated after every committed posting.
type Service struct {
	db    *sql.DB
	cache BalanceCache
	log   *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB, cache BalanceCache, log *slog.Logger) *Service {
	if cache == nil {
		cache = noCache{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{db: db, cache: cache, log: log, clock: time.Now}
}

type CreditRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       string          `json:"metadata,omitempty"`
}

type DebitRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       string          `json:"metadata,omitempty"`

	// AllowOverdraft lets the balance go negative. Used for chargebacks
	// where the money has already left.
	AllowOverdraft bool `json:"-"`
}

type AdminAdjustRequest struct {
	// Amount is signed; negative amounts debit with overdraft.
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrWalletDisabled    = errors.New("wallet disabled")
)

func (s *Service) GetBalance(ctx context.Context, ownerID string) (Balance, error) {
	if ownerID == "" {
		return Balance{}, ErrInvalidArgument
	}
	if b, ok, err := s.cache.Get(ctx, ownerID); err != nil {
		s.log.Warn("balance cache read failed", "owner_id", ownerID, "err", err)
	} else if ok {
		return b, nil
	}

	b, err := getBalance(ctx, s.db, ownerID)
	if err != nil {
		return Balance{}, err
	}
	if err := s.cache.Set(ctx, b); err != nil {
		s.log.Warn("balance cache write failed", "owner_id", ownerID, "err", err)
	}
	return b, nil
}

func (s *Service) Credit(ctx context.Context, ownerID string, req CreditRequest) (WalletLedger, Balance, error) {
	if err := validateMoneyReq(ownerID, req.Amount, req.Currency, req.IdempotencyKey); err != nil {
		return WalletLedger{}, Balance{}, err
	}
	if !req.Amount.IsPositive() {
		return WalletLedger{}, Balance{}, ErrInvalidArgument
	}
	return s.post(ctx, ownerID, posting{
		typ:            LedgerEntryTypeCredit,
		delta:          req.Amount,
		currency:       req.Currency,
		externalRef:    req.ExternalRef,
		idempotencyKey: req.IdempotencyKey,
		metadata:       req.Metadata,
		allowOverdraft: true,
	}, nil)
}

func (s *Service) Debit(ctx context.Context, ownerID string, req DebitRequest) (WalletLedger, Balance, error) {
	if err := validateMoneyReq(ownerID, req.Amount, req.Currency, req.IdempotencyKey); err != nil {
		return WalletLedger{}, Balance{}, err
	}
	if !req.Amount.IsPositive() {
		return WalletLedger{}, Balance{}, ErrInvalidArgument
	}
	return s.post(ctx, ownerID, posting{
		typ:            LedgerEntryTypeDebit,
		delta:          req.Amount.Neg(),
		currency:       req.Currency,
		externalRef:    req.ExternalRef,
		idempotencyKey: req.IdempotencyKey,
		metadata:       req.Metadata,
		allowOverdraft: req.AllowOverdraft,
	}, nil)
}

func (s *Service) AdminAdjust(ctx context.Context, ownerID, adminUserID, adminRole string, req AdminAdjustRequest) (AdminWalletAction, WalletLedger, Balance, error) {
	if adminUserID == "" || adminRole == "" || req.Reason == "" {
		return AdminWalletAction{}, WalletLedger{}, Balance{}, ErrInvalidArgument
	}
	if err := validateMoneyReq(ownerID, req.Amount, req.Currency, req.IdempotencyKey); err != nil {
		return AdminWalletAction{}, WalletLedger{}, Balance{}, err
	}

	typ := LedgerEntryTypeCredit
	if req.Amount.IsNegative() {
		typ = LedgerEntryTypeDebit
	}

	var action AdminWalletAction
	entry, bal, err := s.post(ctx, ownerID, posting{
		typ:            typ,
		delta:          req.Amount,
		currency:       req.Currency,
		externalRef:    "admin_adjustment",
		idempotencyKey: req.IdempotencyKey,
		allowOverdraft: true,
	}, func(ctx context.Context, tx *sql.Tx, e WalletLedger) error {
		action = AdminWalletAction{
			ID:              uuid.NewString(),
			OwnerID:         ownerID,
			WalletID:        e.WalletID,
			AdminUserID:     adminUserID,
			AdminRole:       adminRole,
			Action:          AdminWalletActionTypeAdjustBalance,
			Reason:          req.Reason,
			Amount:          req.Amount,
			Currency:        req.Currency,
			RelatedLedgerID: e.ID,
			CreatedAt:       e.CreatedAt,
		}
		return insertAdminAction(ctx, tx, action)
	})
	return action, entry, bal, err
}

type posting struct {
	typ            LedgerEntryType
	delta          decimal.Decimal
	currency       string
	externalRef    string
	idempotencyKey string
	metadata       string
	allowOverdraft bool
}

// post writes one ledger entry and the matching projection delta in a single
// transaction. A replayed idempotency key returns the original entry and the
// current balance without posting again.
func (s *Service) post(ctx context.Context, ownerID string, p posting, after func(ctx context.Context, tx *sql.Tx, e WalletLedger) error) (WalletLedger, Balance, error) {
	now := s.clock().UTC()

	var outLedger WalletLedger
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := ensureWallet(ctx, tx, ownerID, p.currency, now)
		if err != nil {
			return err
		}
		if w.Status != WalletStatusActive {
			return ErrWalletDisabled
		}
		if w.Currency != p.currency {
			return ErrCurrencyMismatch
		}

		if existing, ok, err := findLedgerByIdempotency(ctx, tx, w.ID, p.idempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalance(ctx, tx, ownerID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		if p.delta.IsNegative() && !p.allowOverdraft {
			// The wallet row lock serializes postings, so this read is stable
			// until commit.
			b, err := getBalance(ctx, tx, ownerID)
			if errors.Is(err, ErrNotFound) {
				b = ZeroBalance(ownerID, p.currency)
			} else if err != nil {
				return err
			}
			if b.Amount.Add(p.delta).IsNegative() {
				return ErrInsufficientFunds
			}
		}

		entry := WalletLedger{
			ID:             uuid.NewString(),
			OwnerID:        ownerID,
			WalletID:       w.ID,
			Type:           p.typ,
			Amount:         p.delta,
			Currency:       p.currency,
			ExternalRef:    p.externalRef,
			IdempotencyKey: p.idempotencyKey,
			Metadata:       p.metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		b, err := applyBalanceDelta(ctx, tx, ownerID, p.currency, p.delta, now)
		if err != nil {
			return err
		}
		if after != nil {
			if err := after(ctx, tx, entry); err != nil {
				return err
			}
		}
		outLedger = entry
		outBal = b
		return nil
	})
	if err != nil {
		return WalletLedger{}, Balance{}, err
	}

	if err := s.cache.Invalidate(ctx, ownerID); err != nil {
		s.log.Warn("balance cache invalidate failed", "owner_id", ownerID, "err", err)
	}
	return outLedger, outBal, nil
}

func validateMoneyReq(ownerID string, amount decimal.Decimal, currency, idempotencyKey string) error {
	if ownerID == "" {
		return ErrInvalidArgument
	}
	if currency == "" {
		return ErrInvalidArgument
	}
	if idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if amount.IsZero() {
		return ErrInvalidArgument
	}
	return nil
}
