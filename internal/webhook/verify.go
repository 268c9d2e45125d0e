package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign computes the hex HMAC-SHA256 of body under secret. It is what a
// marketplace is expected to put in its signature header, minus any prefix.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the body HMAC and compares it against the header
// value in constant time. The configured prefix (e.g. "sha256=") is stripped
// from the header value first; a missing expected prefix fails verification.
func VerifySignature(secret, signature, prefix string, body []byte) bool {
	if signature == "" {
		return false
	}
	if prefix != "" {
		if !strings.HasPrefix(signature, prefix) {
			return false
		}
		signature = strings.TrimPrefix(signature, prefix)
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
