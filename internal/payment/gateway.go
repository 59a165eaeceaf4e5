package payment

import (
	"context"
	"fmt"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
)

// GatewayOrderRequest is what the gateway needs to open an order.
type GatewayOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

type GatewayOrder struct {
	ID          string
	AmountMinor int64
	Currency    string
}

// Gateway creates orders with the payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	KeyID() string
}

// RazorpayGateway implements Gateway with the Razorpay SDK.
type RazorpayGateway struct {
	client *razorpay.Client
	keyID  string
}

func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret), keyID: keyID}
}

func (g *RazorpayGateway) KeyID() string { return g.keyID }

func (g *RazorpayGateway) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	notes := make(map[string]interface{}, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes":    notes,
	}

	// The SDK has no context support; honor cancellation before the call.
	if err := ctx.Err(); err != nil {
		return GatewayOrder{}, err
	}
	resp, err := g.client.Order.Create(data, nil)
	if err != nil {
		return GatewayOrder{}, err
	}

	id, _ := resp["id"].(string)
	if id == "" {
		return GatewayOrder{}, fmt.Errorf("razorpay order response missing id")
	}
	out := GatewayOrder{ID: id, AmountMinor: req.AmountMinor, Currency: req.Currency}
	// JSON numbers decode as float64.
	if amt, ok := resp["amount"].(float64); ok {
		out.AmountMinor = int64(amt)
	}
	if cur, ok := resp["currency"].(string); ok && cur != "" {
		out.Currency = cur
	}
	return out, nil
}

// IsTestKey reports whether keyID is a Razorpay test-mode key.
func IsTestKey(keyID string) bool {
	return strings.HasPrefix(keyID, "rzp_test_")
}
