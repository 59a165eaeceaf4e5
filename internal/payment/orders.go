package payment

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"consult-platform/pkg/logger"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOrderNotFound   = errors.New("order not found")
)

var supportedCurrencies = []string{"INR", "EUR", "USD"}

// OrderStore persists created orders so verification and webhooks can look
// up purpose and owner by order id.
type OrderStore interface {
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, orderID string) (Order, error)
}

// Orders creates gateway orders.
type Orders struct {
	gateway Gateway
	store   OrderStore
	log     *slog.Logger
	clock   func() time.Time
}

func NewOrders(gateway Gateway, store OrderStore, log *slog.Logger) *Orders {
	if log == nil {
		log = logger.Discard()
	}
	return &Orders{gateway: gateway, store: store, log: log, clock: time.Now}
}

// CreateOrder opens a fresh gateway order. It never returns an existing order:
// a failed or abandoned attempt must not be resumed.
func (s *Orders) CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error) {
	if err := validateOrderRequest(req); err != nil {
		return Order{}, err
	}

	minor := ToMinorUnits(req.Amount)
	receipt := "rcpt_" + uuid.NewString()[:24]
	notes := map[string]string{
		"purpose":  string(req.Purpose),
		"owner_id": req.OwnerID,
	}
	if req.RelatedEntityID != "" {
		notes["related_entity_id"] = req.RelatedEntityID
	}
	if req.Description != "" {
		notes["description"] = req.Description
	}
	if req.OriginalCurrency != "" && req.OriginalCurrency != req.Currency {
		notes["original_amount"] = req.OriginalAmount.StringFixed(2)
		notes["original_currency"] = req.OriginalCurrency
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, GatewayOrderRequest{
		AmountMinor: minor,
		Currency:    req.Currency,
		Receipt:     receipt,
		Notes:       notes,
	})
	if err != nil {
		s.log.Error("gateway order creation failed", "owner_id", req.OwnerID, "purpose", req.Purpose, "err", err)
		return Order{}, wrapError(err, KindTransient, "create gateway order", "")
	}

	o := Order{
		OrderID:          gwOrder.ID,
		GatewayKeyID:     s.gateway.KeyID(),
		AmountMinorUnits: gwOrder.AmountMinor,
		Currency:         gwOrder.Currency,
		Purpose:          req.Purpose,
		RelatedEntityID:  req.RelatedEntityID,
		OwnerID:          req.OwnerID,
		IsTestMode:       IsTestKey(s.gateway.KeyID()),
		CreatedAt:        s.clock().UTC(),
	}
	if err := s.store.Insert(ctx, o); err != nil {
		// The gateway order exists but nothing can verify against it; the
		// user gets a retry and a fresh order.
		s.log.Error("order persist failed", "order_id", o.OrderID, "err", err)
		return Order{}, wrapError(err, KindTransient, "persist order", "")
	}

	s.log.Info("payment order created",
		"order_id", o.OrderID,
		"owner_id", o.OwnerID,
		"purpose", o.Purpose,
		"amount_minor", o.AmountMinorUnits,
		"currency", o.Currency,
		"test_mode", o.IsTestMode,
	)
	return o, nil
}

func validateOrderRequest(req CreateOrderRequest) error {
	if req.OwnerID == "" || !req.Purpose.Valid() {
		return ErrInvalidArgument
	}
	if !lo.Contains(supportedCurrencies, req.Currency) {
		return ErrInvalidArgument
	}
	if !req.Amount.IsPositive() || ToMinorUnits(req.Amount) < 100 {
		// Gateway minimum is one major unit.
		return ErrInvalidArgument
	}
	if req.Purpose == PurposeConsultation && req.RelatedEntityID == "" {
		return ErrInvalidArgument
	}
	return nil
}

// ToMinorUnits converts a major-unit amount to minor units, rounding up to
// the next minor unit so a top-up never falls short of the shortfall.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Ceil().IntPart()
}

// PostgresOrderStore stores orders in payment_orders.
type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgresOrderStore(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

func (s *PostgresOrderStore) Insert(ctx context.Context, o Order) error {
	const q = `
INSERT INTO payment_orders (
  order_id, key_id, amount_minor, currency, purpose, related_entity_id, owner_id, is_test_mode, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := s.db.ExecContext(ctx, q,
		o.OrderID,
		o.GatewayKeyID,
		o.AmountMinorUnits,
		o.Currency,
		o.Purpose,
		o.RelatedEntityID,
		o.OwnerID,
		o.IsTestMode,
		o.CreatedAt,
	)
	return err
}

func (s *PostgresOrderStore) Get(ctx context.Context, orderID string) (Order, error) {
	const q = `
SELECT order_id, key_id, amount_minor, currency, purpose, related_entity_id, owner_id, is_test_mode, created_at
FROM payment_orders
WHERE order_id = $1
`
	var o Order
	if err := s.db.QueryRowContext(ctx, q, orderID).Scan(
		&o.OrderID,
		&o.GatewayKeyID,
		&o.AmountMinorUnits,
		&o.Currency,
		&o.Purpose,
		&o.RelatedEntityID,
		&o.OwnerID,
		&o.IsTestMode,
		&o.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	return o, nil
}

// MemoryOrderStore is an in-memory OrderStore for tests.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: map[string]Order{}}
}

func (s *MemoryOrderStore) Insert(ctx context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.OrderID]; ok {
		return ErrInvalidArgument
	}
	s.orders[o.OrderID] = o
	return nil
}

func (s *MemoryOrderStore) Get(ctx context.Context, orderID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}
