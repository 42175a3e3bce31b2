package railclient

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// SignatureVerifier validates the HMAC signature the rail attaches to
// webhook deliveries.
type SignatureVerifier struct {
	secret string
}

// NewSignatureVerifier creates a verifier for the configured webhook secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: strings.TrimSpace(secret)}
}

// Verify checks the signature header against the raw request body. The rail
// signs with HMAC-SHA256 (hex or base64) on current webhook versions and
// HMAC-SHA1 (base64) on legacy ones; all three encodings are accepted.
// An empty configured secret fails closed.
func (v *SignatureVerifier) Verify(signatureHeader string, body []byte) bool {
	if v.secret == "" {
		return false
	}

	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return false
	}

	sha256Mac := hmac.New(sha256.New, []byte(v.secret))
	sha256Mac.Write(body)
	sha256Expected := sha256Mac.Sum(nil)

	sha1Mac := hmac.New(sha1.New, []byte(v.secret))
	sha1Mac.Write(body)
	sha1Expected := sha1Mac.Sum(nil)

	// The header may carry several comma-separated signatures, optionally
	// prefixed with the algorithm ("sha256=<hex>").
	for _, part := range strings.Split(header, ",") {
		sig := strings.TrimSpace(part)
		lower := strings.ToLower(sig)

		switch {
		case strings.HasPrefix(lower, "sha256="):
			sig = strings.TrimSpace(sig[len("sha256="):])
		case strings.HasPrefix(lower, "sha1="):
			sig = strings.TrimSpace(sig[len("sha1="):])
		}

		if decoded, err := hex.DecodeString(sig); err == nil {
			if hmac.Equal(decoded, sha256Expected) || hmac.Equal(decoded, sha1Expected) {
				return true
			}
		}
		if decoded, err := base64.StdEncoding.DecodeString(sig); err == nil {
			if hmac.Equal(decoded, sha256Expected) || hmac.Equal(decoded, sha1Expected) {
				return true
			}
		}
	}

	return false
}
