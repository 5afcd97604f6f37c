package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// HeaderSignature carries the detection service's webhook signature.
const HeaderSignature = "X-Signature"

// ComputeBodyHash is the stable fingerprint of a delivery body.
func ComputeBodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SignPayload returns base64(HMAC-SHA256(secret, body)).
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidatePayload checks signature against body in constant time.
func ValidatePayload(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}
