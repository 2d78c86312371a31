package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	appErrors "github.com/presencepro/platform/pkg/errors"
)

// SignatureVerifier checks the HMAC-SHA256 signature producers attach to
// webhook bodies via the X-Webhook-Signature header.
type SignatureVerifier struct {
	secret        []byte
	allowUnsigned bool
}

// NewSignatureVerifier constructs a SignatureVerifier instance.
func NewSignatureVerifier(secret string, allowUnsigned bool) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret), allowUnsigned: allowUnsigned}
}

// Verify validates a request body against its signature header. The header
// value is hex, optionally prefixed with "sha256=".
func (v *SignatureVerifier) Verify(body []byte, header string) error {
	if header == "" {
		if v.allowUnsigned {
			return nil
		}
		return appErrors.Clone(appErrors.ErrInvalidSignature, "missing webhook signature")
	}
	if len(v.secret) == 0 {
		if v.allowUnsigned {
			return nil
		}
		return appErrors.Clone(appErrors.ErrInvalidSignature, "no signing secret configured")
	}

	header = strings.TrimPrefix(header, "sha256=")
	provided, err := hex.DecodeString(header)
	if err != nil {
		return appErrors.Clone(appErrors.ErrInvalidSignature, "malformed webhook signature")
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return appErrors.Clone(appErrors.ErrInvalidSignature, "webhook signature mismatch")
	}
	return nil
}

// Sign computes the hex signature for a body, used by tests and outbound calls.
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
