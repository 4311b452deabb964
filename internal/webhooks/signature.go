package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Callback request headers.
const (
	HeaderSignature  = "X-Signature"
	HeaderEventType  = "X-Event-Type"
	HeaderRunID      = "X-Run-Id"
	HeaderDeliveryID = "X-Delivery-Id"
)

const signaturePrefix = "sha256="

// Sign returns the X-Signature value for body: "sha256=" followed by the lowercase hex
// HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an X-Signature value against the raw body.
func Verify(secret string, body []byte, header string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}
