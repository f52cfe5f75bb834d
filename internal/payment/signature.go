package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// SignatureHeader is the header Paystack signs webhook deliveries with.
const SignatureHeader = "x-paystack-signature"

// VerifyWebhookSignature checks the hex HMAC-SHA512 of the raw body.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) bool {
	return ValidSignature(c.secretKey, payload, signature)
}

func ValidSignature(secret string, payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(secret, payload))
}

func Sign(secret string, payload []byte) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
