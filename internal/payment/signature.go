package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 of msg under secret, the scheme the
// gateway uses for both checkout responses and webhook bodies.
func Sign(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature compares signature to the expected HMAC in constant time.
func ValidSignature(secret string, msg []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, msg)), []byte(signature))
}

// CheckoutMessage is the signed string for a checkout response.
func CheckoutMessage(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}
