package payment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSign_KnownVector(t *testing.T) {
	got := Sign("key_secret", CheckoutMessage("order_1", "pay_1"))
	require.Equal(t, "dd0f51ec9e75790ad1f7cc8e1a83d12f0a58a9641601a3cffa5c695972543c82", got)
}

func TestValidSignature(t *testing.T) {
	msg := CheckoutMessage("order_1", "pay_1")
	sig := Sign("key_secret", msg)

	require.True(t, ValidSignature("key_secret", msg, sig))
	require.False(t, ValidSignature("other", msg, sig))
	require.False(t, ValidSignature("key_secret", CheckoutMessage("order_1", "pay_2"), sig))
	require.False(t, ValidSignature("", msg, sig))
	require.False(t, ValidSignature("key_secret", msg, ""))
}
