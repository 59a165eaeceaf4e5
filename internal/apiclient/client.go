// Package apiclient is the client side of the consult API. It implements the
// collaborators the admission flow and session accountant need.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"consult-platform/internal/admission"
	"consult-platform/internal/calls"
	"consult-platform/internal/payment"
	"consult-platform/internal/pricing"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
)

// HTTPError is a non-2xx API response.
type HTTPError struct {
	StatusCode int
	Code       string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("api: %d", e.StatusCode)
}

type Config struct {
	BaseURL string
	// Token returns the current bearer token.
	Token   func() string
	Timeout time.Duration
	// RetryMax bounds retries of idempotent requests.
	RetryMax int
	Log      *slog.Logger
}

type Client struct {
	base  *url.URL
	token func() string

	// retrying is used for idempotent requests; once never retries and
	// serves order creation, where a retry would mint a second order.
	retrying *retryablehttp.Client
	once     *retryablehttp.Client
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}

	mk := func(retryMax int) *retryablehttp.Client {
		rc := retryablehttp.NewClient()
		rc.RetryMax = retryMax
		rc.RetryWaitMin = 200 * time.Millisecond
		rc.RetryWaitMax = 2 * time.Second
		rc.HTTPClient.Timeout = cfg.Timeout
		rc.Logger = cfg.Log
		rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
		return rc
	}
	return &Client{
		base:     base,
		token:    cfg.Token,
		retrying: mk(cfg.RetryMax),
		once:     mk(0),
	}, nil
}

func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, method, path string, query url.Values, in, out any) error {
	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body any
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = b
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &HTTPError{StatusCode: resp.StatusCode, Code: e.Error, Body: raw}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) Quote(ctx context.Context, expertID string, durationMinutes int, currency string) (pricing.Quote, error) {
	var q pricing.Quote
	err := c.do(ctx, c.retrying, http.MethodGet, "/v1/experts/"+url.PathEscape(expertID)+"/quote",
		url.Values{"duration": {strconv.Itoa(durationMinutes)}, "currency": {currency}}, nil, &q)
	if he, ok := err.(*HTTPError); ok {
		switch he.StatusCode {
		case http.StatusBadRequest:
			return pricing.Quote{}, pricing.ErrInvalidPricingReq
		case http.StatusNotFound:
			return pricing.Quote{}, pricing.ErrExpertNotFound
		case http.StatusServiceUnavailable:
			return pricing.Quote{}, pricing.ErrExpertUnavailable
		}
	}
	return q, err
}

func (c *Client) Balance(ctx context.Context) (wallet.Balance, error) {
	var b wallet.Balance
	err := c.do(ctx, c.retrying, http.MethodGet, "/v1/wallet/balance", nil, nil, &b)
	return b, err
}

// CreateOrder is sent once. Failures come back classified for the user.
func (c *Client) CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (payment.Order, error) {
	var o payment.Order
	err := c.do(ctx, c.once, http.MethodPost, "/v1/payments/orders", nil, req, &o)
	if err != nil {
		return payment.Order{}, classify(err, "create order")
	}
	return o, nil
}

type verifyResponse struct {
	Success    bool             `json:"success"`
	OrderID    string           `json:"order_id"`
	PaymentID  string           `json:"payment_id"`
	NewBalance *decimal.Decimal `json:"new_balance,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Verify satisfies payment.VerifyFunc.
func (c *Client) Verify(ctx context.Context, req payment.VerifyRequest) (payment.VerificationResult, error) {
	var out verifyResponse
	err := c.do(ctx, c.retrying, http.MethodPost, "/v1/payments/verify", nil, req, &out)
	if err != nil {
		return payment.VerificationResult{}, classify(err, "verify payment")
	}
	return payment.VerificationResult{
		OrderID:        out.OrderID,
		PaymentID:      out.PaymentID,
		SignatureValid: out.Success,
		NewBalance:     out.NewBalance,
	}, nil
}

// classify maps API failures onto payment error kinds: 4xx answers are
// final, everything else may succeed later.
func classify(err error, op string) error {
	if he, ok := err.(*HTTPError); ok && he.StatusCode < 500 {
		return payment.NewError(payment.KindFatal, op+": "+he.Error(), "")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return payment.NewError(payment.KindTransient, op+": "+err.Error(), "")
}

type paymentRequired struct {
	Error     string          `json:"error"`
	Shortfall decimal.Decimal `json:"shortfall"`
	Currency  string          `json:"currency"`
}

func (c *Client) CreateCall(ctx context.Context, req admission.CallRequest) (calls.Record, error) {
	var r calls.Record
	err := c.do(ctx, c.retrying, http.MethodPost, "/v1/calls", nil, req, &r)
	if he, ok := err.(*HTTPError); ok && he.StatusCode == http.StatusPaymentRequired {
		var pr paymentRequired
		_ = json.Unmarshal(he.Body, &pr)
		return calls.Record{}, &admission.PaymentRequiredError{
			Shortfall:       pr.Shortfall,
			Currency:        pr.Currency,
			NegativeBalance: pr.Error == "negative_balance",
		}
	}
	return r, err
}

func (c *Client) MarkJoined(ctx context.Context, callID string) error {
	return c.do(ctx, c.retrying, http.MethodPost, "/v1/calls/"+url.PathEscape(callID)+"/join", nil, struct{}{}, nil)
}

func (c *Client) ConfirmExtension(ctx context.Context, callID, extensionID string, minutes int) (calls.Extension, error) {
	var ext calls.Extension
	err := c.do(ctx, c.retrying, http.MethodPost, "/v1/calls/"+url.PathEscape(callID)+"/extensions", nil,
		map[string]any{"extension_id": extensionID, "minutes": minutes}, &ext)
	if he, ok := err.(*HTTPError); ok && he.StatusCode == http.StatusPaymentRequired {
		return calls.Extension{}, payment.NewError(payment.KindInvalidInstrument, "extension: "+he.Error(),
			"Your wallet balance is too low for an extension. Add funds and try again.")
	}
	return ext, err
}

func (c *Client) CompleteCall(ctx context.Context, callID string, actualMinutes int) error {
	err := c.do(ctx, c.retrying, http.MethodPost, "/v1/calls/"+url.PathEscape(callID)+"/complete", nil,
		map[string]int{"actual_duration_minutes": actualMinutes}, nil)
	if he, ok := err.(*HTTPError); ok {
		switch he.StatusCode {
		case http.StatusNotFound:
			return calls.ErrNotFound
		case http.StatusBadRequest, http.StatusConflict:
			return calls.ErrInvalidArgument
		}
	}
	return err
}
