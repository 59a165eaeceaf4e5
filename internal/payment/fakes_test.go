package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"consult-platform/internal/wallet"

	"github.com/shopspring/decimal"
)

type fakeGateway struct {
	mu   sync.Mutex
	n    int
	err  error
	reqs []GatewayOrderRequest
}

func (g *fakeGateway) KeyID() string { return "rzp_test_abc" }

func (g *fakeGateway) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return GatewayOrder{}, g.err
	}
	g.n++
	g.reqs = append(g.reqs, req)
	return GatewayOrder{ID: fmt.Sprintf("order_%d", g.n), AmountMinor: req.AmountMinor, Currency: req.Currency}, nil
}

type fakeWallet struct {
	mu      sync.Mutex
	balance decimal.Decimal
	keys    map[string]bool
	err     error
}

func (w *fakeWallet) Credit(ctx context.Context, ownerID string, req wallet.CreditRequest) (wallet.WalletLedger, wallet.Balance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return wallet.WalletLedger{}, wallet.Balance{}, w.err
	}
	if w.keys == nil {
		w.keys = map[string]bool{}
	}
	if !w.keys[req.IdempotencyKey] {
		w.keys[req.IdempotencyKey] = true
		w.balance = w.balance.Add(req.Amount)
	}
	return wallet.WalletLedger{IdempotencyKey: req.IdempotencyKey}, wallet.Balance{OwnerID: ownerID, Currency: req.Currency, Amount: w.balance}, nil
}

var errDown = errors.New("connection refused")
