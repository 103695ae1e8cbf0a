package registry

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignatureInvalid is returned for any verification failure. The cause is
// deliberately not distinguished so rejected requests leak nothing about
// which check failed.
var ErrSignatureInvalid = errors.New("signature invalid")

// Verify checks an inbound delivery's signature against the app's webhook
// secret using the platform's scheme. GitHub and Bitbucket send an
// HMAC-SHA256 of the raw body in `sha256=<hex>` form; GitLab sends the
// shared secret verbatim in its token header. All comparisons are constant
// time.
func Verify(app App, platform string, body []byte, signatureHeader string) error {
	switch platform {
	case "github", "bitbucket":
		return verifyHMAC(app.WebhookSecret, body, signatureHeader)
	case "gitlab":
		return verifyToken(app.WebhookSecret, signatureHeader)
	default:
		return ErrSignatureInvalid
	}
}

func verifyHMAC(secret string, body []byte, header string) error {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return ErrSignatureInvalid
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return ErrSignatureInvalid
	}
	return nil
}

func verifyToken(secret, header string) error {
	if subtle.ConstantTimeCompare([]byte(secret), []byte(header)) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}
