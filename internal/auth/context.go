package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
	ctxCurrency
)

// DefaultCurrency applies when a token carries no currency preference.
const DefaultCurrency = "INR"

func WithIdentity(ctx context.Context, userID, role, currency string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxRole, role)
	ctx = context.WithValue(ctx, ctxCurrency, currency)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// Currency returns the caller's preferred currency or DefaultCurrency.
func Currency(ctx context.Context) string {
	if s, ok := ctx.Value(ctxCurrency).(string); ok && s != "" {
		return s
	}
	return DefaultCurrency
}
